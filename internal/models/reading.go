package models

import (
	"errors"
	"math"
	"time"
)

// Reading status/quality defaults for readings arriving on the
// structured topic path.
const (
	StatusNormal = "Normal"
	QualityGood  = "Good"
)

// Validation errors
var (
	ErrMissingDeviceID = errors.New("reading device ID must be positive")
	ErrMissingSensorID = errors.New("reading sensor ID cannot be negative")
	ErrInvalidValue    = errors.New("reading value must be a finite number")
)

// Reading is one persisted sensor observation. Identity and CreatedAt
// are assigned by the store on insert; a stored reading is immutable.
type Reading struct {
	ReadingID int64     `json:"readingId"`
	DeviceID  int       `json:"deviceId"`
	SensorID  int       `json:"sensorId"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status,omitempty"`
	Quality   string    `json:"quality,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CandidateReading is a decoded but not yet persisted observation.
type CandidateReading struct {
	DeviceID  int       `json:"deviceId"`
	SensorID  int       `json:"sensorId"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Status    string    `json:"status,omitempty"`
	Quality   string    `json:"quality,omitempty"`
}

// Validate checks the candidate has usable identifiers and a finite
// value. A zero SensorID is allowed here: the fallback decode path
// assigns it as the unassigned sentinel and the pipeline's sensor
// existence check rejects it for the single-reading path.
func (c *CandidateReading) Validate() error {
	if c.DeviceID <= 0 {
		return ErrMissingDeviceID
	}
	if c.SensorID < 0 {
		return ErrMissingSensorID
	}
	if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
		return ErrInvalidValue
	}
	return nil
}

// Normalize fills in receipt-time defaults for fields the decoder may
// leave empty.
func (c *CandidateReading) Normalize(now time.Time) {
	if c.Timestamp.IsZero() {
		c.Timestamp = now.UTC()
	}
}
