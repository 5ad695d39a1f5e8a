package models

import "time"

// Device is a field device owned by the external device-management
// layer. The pipeline reads it for existence checks and bumps
// LastSeenAt on every accepted reading.
type Device struct {
	DeviceID   int        `json:"deviceId"`
	DeviceName string     `json:"deviceName"`
	DeviceType string     `json:"deviceType"`
	Location   string     `json:"location,omitempty"`
	IsActive   bool       `json:"isActive"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Sensor belongs to a device. Read-only from the pipeline's
// perspective.
type Sensor struct {
	SensorID   int      `json:"sensorId"`
	DeviceID   int      `json:"deviceId"`
	SensorName string   `json:"sensorName"`
	SensorType string   `json:"sensorType"`
	Unit       string   `json:"unit,omitempty"`
	MinValue   *float64 `json:"minValue,omitempty"`
	MaxValue   *float64 `json:"maxValue,omitempty"`
	IsActive   bool     `json:"isActive"`
}

// DeviceStatus is the connectivity state derived from LastSeenAt.
type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "Online"
	DeviceOffline DeviceStatus = "Offline"
)

// DeviceStatusChange is published when the watchdog flips a device
// between online and offline.
type DeviceStatusChange struct {
	DeviceID       int          `json:"deviceId"`
	Status         DeviceStatus `json:"status"`
	PreviousStatus DeviceStatus `json:"previousStatus,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}
