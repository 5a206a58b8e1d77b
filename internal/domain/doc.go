// Package domain models the weather imaging job pipeline: Buienradar station
// measurements, the queue envelopes that carry them between stages, and the
// object keys under which rendered artifacts are stored.
//
// # Data Source
//
// Station measurements come from the Buienradar public feed at
// https://data.buienradar.nl/2.0/feed/json. Only a small part of the document
// is consumed:
//
//	{
//	  "actual": {
//	    "stationmeasurements": [
//	      {"$id": "2", "stationname": "Meetstation Amsterdam",
//	       "feeltemperature": 8.5, "groundtemperature": 6.0, ...},
//	      ...
//	    ]
//	  }
//	}
//
// Values may arrive as JSON numbers or strings. Some mirrors of the feed
// format decimals with a comma ("7,2"); the comma is replaced with a dot so
// downstream rendering is locale independent. Missing fields are carried as
// empty strings rather than rejected.
//
// # Jobs
//
// A job has no record of its own. A JobID (UUID v4) is minted at submission
// and copied into every envelope and every artifact key; an object belongs to
// job J if and only if its key starts with "J/". Job status is therefore a
// point-in-time listing of that prefix:
//
//	no .png objects  → pending (also what an unknown job id looks like)
//	one or more      → ready, with one signed link per object
//
// Completeness cannot be determined because no expected station count is
// stored anywhere.
//
// # Artifact Keys
//
//	{jobId}/station-{sanitizedName}-{yyyyMMddHHmmss}.png
//
// The timestamp is UTC wall-clock time at upload, truncated to the second.
// Rendering is not idempotent: a redelivered render envelope produces a
// second artifact with a later timestamp instead of overwriting the first.
// See [ArtifactKey] and [Sanitize].
package domain
