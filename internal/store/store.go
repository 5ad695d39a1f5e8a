// Package store is the reading store boundary: durable keyed storage
// for devices, sensors, readings, rules and alerts. The pipeline only
// ever touches persistence through the Store interface.
package store

import (
	"context"
	"errors"
	"time"

	"iotmon/internal/models"
)

// Store errors
var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrSensorNotFound = errors.New("sensor not found")
	ErrAlertNotFound  = errors.New("alert not found")
	ErrUnavailable    = errors.New("store unavailable")
)

// Store is the persistence boundary consumed by the pipeline, the
// rule engine and the alert manager.
type Store interface {
	DeviceExists(ctx context.Context, deviceID int) (bool, error)
	SensorExists(ctx context.Context, sensorID int) (bool, error)

	// AppendReading persists one reading, assigning identity and
	// CreatedAt. AppendReadings persists an ordered batch in a single
	// store operation, returning readings in input order.
	AppendReading(ctx context.Context, c *models.CandidateReading) (*models.Reading, error)
	AppendReadings(ctx context.Context, cs []*models.CandidateReading) ([]*models.Reading, error)

	TouchDeviceLastSeen(ctx context.Context, deviceID int, at time.Time) error
	ListDevices(ctx context.Context) ([]*models.Device, error)

	EnabledRules(ctx context.Context) ([]*models.AlertRule, error)

	// FindActiveAlert returns the Active alert for (ruleID, deviceID),
	// or nil when none exists.
	FindActiveAlert(ctx context.Context, ruleID, deviceID int) (*models.Alert, error)
	// UpsertAlert inserts the alert when AlertID is zero, otherwise
	// updates it in place.
	UpsertAlert(ctx context.Context, a *models.Alert) (*models.Alert, error)
	GetAlert(ctx context.Context, alertID int64) (*models.Alert, error)

	Ping(ctx context.Context) error
	Close() error
}
