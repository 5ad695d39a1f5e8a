package notify

import (
	"iotmon/internal/models"
)

// Events is the domain-facing face of the notification sink: one
// method per event type, each fanning out to the groups that event
// belongs to.
type Events struct {
	sink Notifier
}

// NewEvents wraps a sink with the fan-out table.
func NewEvents(sink Notifier) *Events {
	return &Events{sink: sink}
}

// ReadingReceived goes to the reading's device group, sensor group and
// the all-devices group.
func (e *Events) ReadingReceived(r *models.Reading) {
	e.sink.Publish(DeviceGroup(r.DeviceID), EventReadingReceived, r)
	e.sink.Publish(SensorGroup(r.SensorID), EventReadingReceived, r)
	e.sink.Publish(GroupAllDevices, EventReadingReceived, r)
}

// NewAlert goes to the alerts group and the alert's device group.
func (e *Events) NewAlert(a *models.Alert) {
	e.publishAlert(EventNewAlert, a)
}

// AlertUpdated is emitted on a refire that refreshed an Active alert.
func (e *Events) AlertUpdated(a *models.Alert) {
	e.publishAlert(EventAlertUpdated, a)
}

// AlertAcknowledged is emitted when an operator acknowledges an alert.
func (e *Events) AlertAcknowledged(a *models.Alert) {
	e.publishAlert(EventAlertAcknowledged, a)
}

// AlertResolved is emitted when an alert is resolved.
func (e *Events) AlertResolved(a *models.Alert) {
	e.publishAlert(EventAlertResolved, a)
}

func (e *Events) publishAlert(event string, a *models.Alert) {
	e.sink.Publish(GroupAlerts, event, a)
	e.sink.Publish(DeviceGroup(a.DeviceID), event, a)
}

// DeviceStatusChanged goes to the device group and all-devices.
func (e *Events) DeviceStatusChanged(s *models.DeviceStatusChange) {
	e.sink.Publish(DeviceGroup(s.DeviceID), EventDeviceStatusChanged, s)
	e.sink.Publish(GroupAllDevices, EventDeviceStatusChanged, s)
}
