// Package notify translates domain events into group-addressed
// publishes on the notification sink. Groups are computed string
// identifiers (per-device, per-sensor, all-devices, alerts); a copy of
// each event goes to every group independently, and publishing is
// fire-and-forget from the pipeline's point of view.
package notify

import "fmt"

// Event names observed by real-time subscribers.
const (
	EventReadingReceived     = "SensorReadingReceived"
	EventNewAlert            = "NewAlert"
	EventAlertUpdated        = "AlertUpdated"
	EventAlertAcknowledged   = "AlertAcknowledged"
	EventAlertResolved       = "AlertResolved"
	EventDeviceStatusChanged = "DeviceStatusChanged"
)

// Fixed fan-out groups.
const (
	GroupAllDevices = "all-devices"
	GroupAlerts     = "alerts"
)

// DeviceGroup is the per-device fan-out group.
func DeviceGroup(deviceID int) string {
	return fmt.Sprintf("device:%d", deviceID)
}

// SensorGroup is the per-sensor fan-out group.
func SensorGroup(sensorID int) string {
	return fmt.Sprintf("sensor:%d", sensorID)
}

// Notifier is the notification sink boundary. Publish never reports
// an outcome: a slow or absent subscriber must not block or fail the
// caller.
type Notifier interface {
	Publish(group, event string, payload interface{})
}

// Noop discards every event, selected at wiring time when no sink is
// configured so callers never test for a missing notifier.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (*Noop) Publish(group, event string, payload interface{}) {}

// Multi fans a publish out to several sinks.
type Multi []Notifier

func (m Multi) Publish(group, event string, payload interface{}) {
	for _, n := range m {
		n.Publish(group, event, payload)
	}
}
