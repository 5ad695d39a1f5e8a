// Package decode turns raw ingestion messages (topic + payload) into
// candidate readings. A message either matches the structured topic
// shape devices/{deviceId}/sensors/{sensorId}/readings, in which case
// the payload is a small JSON object carrying the value, or it falls
// back to a self-describing JSON payload with deviceId and value
// fields.
package decode

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"iotmon/internal/models"
)

// Decode errors
var (
	ErrMalformedPayload = errors.New("malformed JSON payload")
	ErrMissingFields    = errors.New("payload missing required fields")
)

// structuredPayload is the payload shape on the structured topic path.
type structuredPayload struct {
	Value *float64 `json:"value"`
}

// fallbackPayload is the self-describing payload shape.
type fallbackPayload struct {
	DeviceID *int     `json:"deviceId"`
	SensorID *int     `json:"sensorId"`
	Value    *float64 `json:"value"`
}

// Decode converts a raw message into a candidate reading, stamping
// receiptTime where the message carries no timestamp.
func Decode(topic string, payload []byte, receiptTime time.Time) (*models.CandidateReading, error) {
	if deviceID, sensorID, ok := parseReadingTopic(topic); ok {
		return decodeStructured(deviceID, sensorID, payload, receiptTime)
	}
	return decodeFallback(payload, receiptTime)
}

// parseReadingTopic extracts device and sensor IDs from topics shaped
// like devices/{deviceId}/sensors/{sensorId}/readings. Empty segments
// are dropped so a leading slash does not shift positions.
func parseReadingTopic(topic string) (deviceID, sensorID int, ok bool) {
	parts := make([]string, 0, 6)
	for _, p := range strings.Split(topic, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	if len(parts) < 4 || parts[0] != "devices" || parts[2] != "sensors" {
		return 0, 0, false
	}

	deviceID, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	sensorID, err = strconv.Atoi(parts[3])
	if err != nil {
		return 0, 0, false
	}

	return deviceID, sensorID, true
}

func decodeStructured(deviceID, sensorID int, payload []byte, receiptTime time.Time) (*models.CandidateReading, error) {
	var body structuredPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, ErrMalformedPayload
	}
	if body.Value == nil {
		return nil, ErrMissingFields
	}

	return &models.CandidateReading{
		DeviceID:  deviceID,
		SensorID:  sensorID,
		Value:     *body.Value,
		Timestamp: receiptTime.UTC(),
		Status:    models.StatusNormal,
		Quality:   models.QualityGood,
	}, nil
}

func decodeFallback(payload []byte, receiptTime time.Time) (*models.CandidateReading, error) {
	var body fallbackPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, ErrMalformedPayload
	}
	if body.DeviceID == nil || body.Value == nil {
		return nil, ErrMissingFields
	}

	// Sensor is optional on this path; zero is the unassigned sentinel.
	sensorID := 0
	if body.SensorID != nil {
		sensorID = *body.SensorID
	}

	return &models.CandidateReading{
		DeviceID:  *body.DeviceID,
		SensorID:  sensorID,
		Value:     *body.Value,
		Timestamp: receiptTime.UTC(),
	}, nil
}
