// Package envelope encodes pipeline envelopes for queue transport: compact
// JSON wrapped in standard base64 so the body is printable text on any broker.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/couchcryptid/weather-imaging-service/internal/domain"
	"github.com/go-playground/validator/v10"
)

// Envelope is any payload carried on a pipeline queue.
type Envelope interface {
	domain.WeatherJobEnvelope | domain.StationRenderEnvelope
}

var validate = validator.New()

// Encode serializes an envelope to its transport form.
func Encode[T Envelope](env T) string {
	// Envelopes hold only strings, so Marshal cannot fail.
	data, _ := json.Marshal(env)
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeJob decodes a weather-jobs message body.
func DecodeJob(raw string) (domain.WeatherJobEnvelope, error) {
	return decode[domain.WeatherJobEnvelope](raw)
}

// DecodeStation decodes an image-processing-jobs message body.
func DecodeStation(raw string) (domain.StationRenderEnvelope, error) {
	return decode[domain.StationRenderEnvelope](raw)
}

// decode reverses Encode. Every failure wraps domain.ErrDecode so callers can
// drop the message instead of retrying it.
func decode[T Envelope](raw string) (T, error) {
	var env T

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return env, fmt.Errorf("%w: base64: %v", domain.ErrDecode, err)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: json: %v", domain.ErrDecode, err)
	}
	if err := validate.Struct(env); err != nil {
		return env, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	return env, nil
}
