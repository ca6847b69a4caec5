package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// RawReading represents an unprocessed message from the readings topic.
type RawReading struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// readingEnvelope is the flat JSON structure published by station collectors.
// Metric fields are pointers so that absent values are distinguishable from
// genuine zero observations.
type readingEnvelope struct {
	StationID   string   `json:"station_id"`
	Timestamp   string   `json:"timestamp"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Rainfall    *float64 `json:"rainfall"`
	WindSpeed   *float64 `json:"wind_speed"`
}

// ParseRawReading deserializes a RawReading's value into a station ID and a
// Reading. The station ID comes from the envelope, falling back to the Kafka
// message key. Missing metric fields become NaN so the training filter drops
// the row instead of mistaking absence for a zero observation.
func ParseRawReading(raw RawReading) (string, Reading, error) {
	var env readingEnvelope
	if err := json.Unmarshal(raw.Value, &env); err != nil {
		return "", Reading{}, fmt.Errorf("parse raw reading: %w", err)
	}

	stationID := strings.TrimSpace(env.StationID)
	if stationID == "" {
		stationID = strings.TrimSpace(string(raw.Key))
	}
	if stationID == "" {
		return "", Reading{}, errors.New("parse raw reading: missing station id")
	}

	ts, err := parseTimestamp(env.Timestamp, raw.Timestamp)
	if err != nil {
		return "", Reading{}, fmt.Errorf("parse raw reading: %w", err)
	}

	return stationID, Reading{
		Timestamp: ts,
		Metrics: Metrics{
			Temperature: floatOrNaN(env.Temperature),
			Humidity:    floatOrNaN(env.Humidity),
			Rainfall:    floatOrNaN(env.Rainfall),
			WindSpeed:   floatOrNaN(env.WindSpeed),
		},
	}, nil
}

// parseTimestamp reads an RFC3339 timestamp, falling back to the Kafka message
// time (set by the collector) when the field is empty.
func parseTimestamp(value string, fallback time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if fallback.IsZero() {
			return time.Time{}, errors.New("missing timestamp")
		}
		return fallback.UTC(), nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

// floatOrNaN unwraps an optional JSON number, substituting NaN when absent.
func floatOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
