package domain

import (
	"context"
	"strings"
	"time"
)

// WeatherStation is one station measurement extracted from the feed.
// Temperatures are decimal strings with a dot separator. Any field may be
// empty when the feed omitted it.
type WeatherStation struct {
	ID                string `json:"id,omitempty"`
	Name              string `json:"name,omitempty"`
	FeelTemperature   string `json:"feelTemperature,omitempty"`
	GroundTemperature string `json:"groundTemperature,omitempty"`
}

// IsEmpty reports whether every field of the station is empty.
func (s WeatherStation) IsEmpty() bool {
	return s == WeatherStation{}
}

// KeyName returns the name used in the station's artifact key. Stations the
// feed sent without a name fall back to their id so that two nameless
// stations of one job never share a key.
func (s WeatherStation) KeyName() string {
	switch {
	case strings.TrimSpace(s.Name) != "":
		return s.Name
	case strings.TrimSpace(s.ID) != "":
		return "id-" + s.ID
	default:
		return "unnamed"
	}
}

// WeatherJobEnvelope carries the raw feed document on the weather-jobs queue.
type WeatherJobEnvelope struct {
	JobID             string `json:"jobId" validate:"required"`
	RawWeatherPayload string `json:"rawWeatherPayload" validate:"required"`
}

// StationRenderEnvelope carries one station on the image-processing-jobs queue.
type StationRenderEnvelope struct {
	JobID   string          `json:"jobId" validate:"required"`
	Station *WeatherStation `json:"station" validate:"required"`
}

// Message is one encoded envelope ready to publish.
type Message struct {
	Key  string
	Body string
}

// Delivery is one message handed to a worker by a queue transport.
type Delivery struct {
	ID        string
	Key       string
	Body      string
	Queue     string
	Timestamp time.Time

	// Redelivered is set when the transport knows this is not the first attempt.
	Redelivered bool

	// Ack marks the message as fully handled.
	Ack func(ctx context.Context) error

	// Requeue hands the message back to the transport for another attempt.
	// Nil when the transport cannot redeliver a single message (Kafka).
	Requeue func(ctx context.Context) error
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// SecureLink is a time-limited read-only URL for one artifact.
type SecureLink struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// JobState is the point-in-time status of a job.
type JobState string

const (
	JobPending JobState = "pending"
	JobReady   JobState = "ready"
)

// JobStatus is the result of polling a job.
type JobStatus struct {
	JobID string
	State JobState
	Links []SecureLink
}

// LinkValidity is how long an issued artifact link stays valid, counted from
// issuance rather than from artifact creation.
const LinkValidity = time.Hour
