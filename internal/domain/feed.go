package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// feedDocument is the subset of the Buienradar feed the pipeline reads.
type feedDocument struct {
	Actual *struct {
		StationMeasurements []map[string]json.RawMessage `json:"stationmeasurements"`
	} `json:"actual"`
}

// Feed field names inside a station measurement.
const (
	fieldRefID             = "$id"
	fieldStationID         = "stationid"
	fieldStationName       = "stationname"
	fieldFeelTemperature   = "feeltemperature"
	fieldGroundTemperature = "groundtemperature"
)

// ParseStations extracts every station measurement from a raw feed document.
// It returns ErrEmptyPayload when the measurements array is missing or empty
// and ErrDecode when the document is not valid JSON. Partial records are
// returned as-is; missing fields become empty strings.
func ParseStations(raw []byte) ([]WeatherStation, error) {
	var doc feedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse weather feed: %v", ErrDecode, err)
	}
	if doc.Actual == nil || len(doc.Actual.StationMeasurements) == 0 {
		return nil, ErrEmptyPayload
	}

	stations := make([]WeatherStation, 0, len(doc.Actual.StationMeasurements))
	for _, m := range doc.Actual.StationMeasurements {
		id := scalarString(m[fieldRefID])
		if id == "" {
			id = scalarString(m[fieldStationID])
		}
		stations = append(stations, WeatherStation{
			ID:                id,
			Name:              scalarString(m[fieldStationName]),
			FeelTemperature:   NormalizeDecimal(scalarString(m[fieldFeelTemperature])),
			GroundTemperature: NormalizeDecimal(scalarString(m[fieldGroundTemperature])),
		})
	}
	return stations, nil
}

// NormalizeDecimal replaces a comma decimal separator with a dot ("7,2" → "7.2").
func NormalizeDecimal(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
}

// scalarString renders a JSON scalar as text. Strings are unquoted, numbers
// and booleans keep their literal form, and null or absent values are empty.
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	if raw[0] == '{' || raw[0] == '[' {
		return ""
	}
	return string(raw)
}
