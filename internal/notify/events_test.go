package notify

import (
	"testing"

	"iotmon/internal/models"
)

func collect(publish func(e *Events)) []string {
	sink := &countingSink{}
	publish(NewEvents(sink))
	return sink.msgs
}

func assertTargets(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("target[%d]=%q, want %q", i, got[i], want[i])
		}
	}
}

func TestReadingReceivedFanOut(t *testing.T) {
	got := collect(func(e *Events) {
		e.ReadingReceived(&models.Reading{DeviceID: 7, SensorID: 12})
	})
	assertTargets(t, got, []string{
		"device:7/SensorReadingReceived",
		"sensor:12/SensorReadingReceived",
		"all-devices/SensorReadingReceived",
	})
}

func TestAlertEventFanOut(t *testing.T) {
	alert := &models.Alert{AlertID: 1, RuleID: 2, DeviceID: 7}

	tests := []struct {
		name    string
		publish func(e *Events)
		event   string
	}{
		{"new", func(e *Events) { e.NewAlert(alert) }, EventNewAlert},
		{"updated", func(e *Events) { e.AlertUpdated(alert) }, EventAlertUpdated},
		{"acknowledged", func(e *Events) { e.AlertAcknowledged(alert) }, EventAlertAcknowledged},
		{"resolved", func(e *Events) { e.AlertResolved(alert) }, EventAlertResolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(tt.publish)
			assertTargets(t, got, []string{
				"alerts/" + tt.event,
				"device:7/" + tt.event,
			})
		})
	}
}

func TestDeviceStatusChangedFanOut(t *testing.T) {
	got := collect(func(e *Events) {
		e.DeviceStatusChanged(&models.DeviceStatusChange{DeviceID: 7, Status: models.DeviceOffline})
	})
	assertTargets(t, got, []string{
		"device:7/DeviceStatusChanged",
		"all-devices/DeviceStatusChanged",
	})
}

func TestGroupNames(t *testing.T) {
	if g := DeviceGroup(42); g != "device:42" {
		t.Errorf("DeviceGroup=%q", g)
	}
	if g := SensorGroup(9); g != "sensor:9" {
		t.Errorf("SensorGroup=%q", g)
	}
}

func TestMultiFansOutToAllSinks(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{}
	Multi{a, b}.Publish("alerts", EventNewAlert, nil)

	if a.count() != 1 || b.count() != 1 {
		t.Errorf("multi publish reached %d/%d sinks, want 1/1", a.count(), b.count())
	}
}
