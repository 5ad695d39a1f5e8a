package models

import "time"

// AlertStatus is the lifecycle state of an alert. Acknowledging an
// alert records AcknowledgedAt but leaves the status Active, so an
// acknowledged alert still absorbs refires; only Resolve moves the
// status, and Resolved is terminal.
type AlertStatus string

const (
	AlertActive   AlertStatus = "Active"
	AlertResolved AlertStatus = "Resolved"
)

// Alert is one firing instance of a rule for a device. At most one
// Active alert exists per (RuleID, DeviceID); a refire while Active
// updates TriggerValue and TriggeredAt in place.
type Alert struct {
	AlertID        int64       `json:"alertId"`
	RuleID         int         `json:"ruleId"`
	DeviceID       int         `json:"deviceId"`
	SensorID       *int        `json:"sensorId,omitempty"`
	Severity       string      `json:"severity"`
	Message        string      `json:"message"`
	TriggerValue   *float64    `json:"triggerValue,omitempty"`
	Status         AlertStatus `json:"status"`
	TriggeredAt    time.Time   `json:"triggeredAt"`
	AcknowledgedAt *time.Time  `json:"acknowledgedAt,omitempty"`
	ResolvedAt     *time.Time  `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}
