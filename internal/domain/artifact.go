package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const (
	artifactPrefix     = "station-"
	artifactExtension  = ".png"
	artifactTimeFormat = "20060102150405"
)

// invalidKeyChars are replaced by Sanitize in addition to whitespace and
// control characters. The set is the union of characters rejected in file
// names on Windows and Unix, which also keeps keys free of path separators.
const invalidKeyChars = `<>:"/\|?*`

// NewJobID mints a random (version 4) job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// JobPrefix returns the key prefix shared by every artifact of a job.
func JobPrefix(jobID string) string {
	return jobID + "/"
}

// ArtifactKey builds the object key for a rendered station image:
// {jobId}/station-{sanitizedName}-{yyyyMMddHHmmss}.png, with the timestamp in UTC.
func ArtifactKey(jobID, stationName string, at time.Time) string {
	return fmt.Sprintf("%s%s%s-%s%s",
		JobPrefix(jobID), artifactPrefix, Sanitize(stationName),
		at.UTC().Format(artifactTimeFormat), artifactExtension)
}

// IsArtifact reports whether an object key names a rendered image.
func IsArtifact(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), artifactExtension)
}

// Sanitize makes a station name safe to embed in an object key or file name.
// Every invalid character and every whitespace character is replaced with a
// hyphen, one for one, so the result has the same number of runes as the input.
func Sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune(invalidKeyChars, r) {
			return '-'
		}
		return r
	}, name)
}

// StatusURL returns the polling URL for a job under the given API base URL.
func StatusURL(baseURL, jobID string) string {
	return strings.TrimRight(baseURL, "/") + "/status/" + jobID
}
