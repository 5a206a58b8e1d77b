package domain

import "errors"

var (
	// ErrUpstreamUnavailable means the weather feed or the photo source could
	// not be reached, timed out, or answered with a non-2xx status.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrDecode means a queue message could not be decoded into an envelope.
	ErrDecode = errors.New("decode envelope")

	// ErrEmptyPayload means the feed held no station measurements.
	ErrEmptyPayload = errors.New("feed contains no station measurements")

	// ErrInvalidEnvelope means an envelope decoded but cannot be processed,
	// e.g. an empty job id or a station with no fields at all.
	ErrInvalidEnvelope = errors.New("invalid envelope")

	// ErrUpload means writing an artifact to the object store failed.
	ErrUpload = errors.New("artifact upload failed")

	// ErrTransport means a queue or object-store operation failed.
	ErrTransport = errors.New("transport failure")

	// ErrUnauthorized means the request did not carry the configured API key.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrLinkUnsupported means the object store cannot mint signed links.
	ErrLinkUnsupported = errors.New("object store cannot generate signed links")

	// ErrArtifactExists means an upload would replace an object already
	// stored under the same key.
	ErrArtifactExists = errors.New("artifact already exists")

	// ErrSourceClosed means a consumer's delivery stream ended for good and
	// the consumer has to be rebuilt.
	ErrSourceClosed = errors.New("delivery source closed")

	// ErrArtifactNotFound means no artifact exists yet under a job prefix.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// IsTerminal reports whether a processing error can never succeed on
// redelivery. Terminal messages are acknowledged and dropped; everything else
// is left to the transport to deliver again.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrEmptyPayload) ||
		errors.Is(err, ErrInvalidEnvelope)
}
