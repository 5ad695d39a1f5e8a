package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"iotmon/internal/alerts"
	"iotmon/internal/models"
	"iotmon/internal/notify"
	"iotmon/internal/rules"
	"iotmon/internal/store"
)

type published struct {
	group string
	event string
}

type recorder struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recorder) Publish(group, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, published{group: group, event: event})
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.event == event {
			n++
		}
	}
	return n
}

func (r *recorder) has(group, event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.group == group && m.event == event {
			return true
		}
	}
	return false
}

// newTestService builds a fully wired pipeline over the in-memory
// store, seeded with device 7 carrying sensor 12.
func newTestService(t *testing.T, seedRules ...*models.AlertRule) (*Service, *store.Memory, *recorder) {
	t.Helper()

	st := store.NewMemory()
	st.AddDevice(&models.Device{DeviceID: 7, DeviceName: "pump-7", DeviceType: "pump", IsActive: true})
	st.AddSensor(&models.Sensor{SensorID: 12, DeviceID: 7, SensorName: "temp", SensorType: "temperature", IsActive: true})
	for _, r := range seedRules {
		st.AddRule(r)
	}

	rec := &recorder{}
	events := notify.NewEvents(rec)
	manager := alerts.NewManager(st, events)
	svc := New(Config{
		Store:     st,
		Evaluator: rules.NewEngine(st, manager),
		Events:    events,
		Alerts:    manager,
	})
	return svc, st, rec
}

func thresholdRule(id int, threshold float64) *models.AlertRule {
	return &models.AlertRule{
		RuleID:         id,
		RuleName:       "overheat",
		RuleType:       models.RuleThreshold,
		Condition:      "temperature too high",
		ThresholdValue: &threshold,
		Severity:       "High",
		IsEnabled:      true,
	}
}

func candidate(value float64) *models.CandidateReading {
	return &models.CandidateReading{DeviceID: 7, SensorID: 12, Value: value}
}

func TestIngestOnePersistsAndNotifies(t *testing.T) {
	svc, st, rec := newTestService(t)

	r, err := svc.IngestOne(context.Background(), candidate(21.5))
	if err != nil {
		t.Fatalf("IngestOne returned error: %v", err)
	}
	if r.ReadingID == 0 {
		t.Error("reading not assigned an ID")
	}
	if r.DeviceID != 7 || r.SensorID != 12 || r.Value != 21.5 {
		t.Errorf("stored reading does not match input: %+v", r)
	}
	if r.Timestamp.IsZero() {
		t.Error("timestamp not defaulted to receipt time")
	}

	if got := len(st.Readings()); got != 1 {
		t.Fatalf("got %d stored readings, want 1", got)
	}

	devices, _ := st.ListDevices(context.Background())
	if devices[0].LastSeenAt == nil {
		t.Error("device last seen not touched")
	}

	for _, group := range []string{notify.DeviceGroup(7), notify.SensorGroup(12), notify.GroupAllDevices} {
		if !rec.has(group, notify.EventReadingReceived) {
			t.Errorf("reading event missing from group %q", group)
		}
	}
}

func TestIngestOneRejectsUnknownDevice(t *testing.T) {
	svc, st, rec := newTestService(t)

	_, err := svc.IngestOne(context.Background(), &models.CandidateReading{DeviceID: 99, SensorID: 12, Value: 1})
	if !errors.Is(err, store.ErrDeviceNotFound) {
		t.Fatalf("got %v, want ErrDeviceNotFound", err)
	}
	if len(st.Readings()) != 0 {
		t.Error("rejected reading was persisted")
	}
	if len(rec.msgs) != 0 {
		t.Error("rejected reading was notified")
	}
}

func TestIngestOneRejectsUnknownSensor(t *testing.T) {
	svc, st, _ := newTestService(t)

	_, err := svc.IngestOne(context.Background(), &models.CandidateReading{DeviceID: 7, SensorID: 99, Value: 1})
	if !errors.Is(err, store.ErrSensorNotFound) {
		t.Fatalf("got %v, want ErrSensorNotFound", err)
	}
	if len(st.Readings()) != 0 {
		t.Error("rejected reading was persisted")
	}
}

func TestIngestOneRejectsInvalidCandidates(t *testing.T) {
	tests := []struct {
		name    string
		c       *models.CandidateReading
		wantErr error
	}{
		{"zero device", &models.CandidateReading{DeviceID: 0, SensorID: 12, Value: 1}, models.ErrMissingDeviceID},
		{"negative sensor", &models.CandidateReading{DeviceID: 7, SensorID: -1, Value: 1}, models.ErrMissingSensorID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, _ := newTestService(t)
			if _, err := svc.IngestOne(context.Background(), tt.c); !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
			if len(st.Readings()) != 0 {
				t.Error("invalid reading was persisted")
			}
		})
	}
}

func TestIngestOneTriggersThresholdAlert(t *testing.T) {
	svc, st, rec := newTestService(t, thresholdRule(1, 30.0))
	ctx := context.Background()

	// Below the threshold nothing fires.
	if _, err := svc.IngestOne(ctx, candidate(25)); err != nil {
		t.Fatalf("IngestOne: %v", err)
	}
	if got := len(st.Alerts()); got != 0 {
		t.Fatalf("alert opened below threshold: %d", got)
	}

	// Crossing it opens an alert.
	if _, err := svc.IngestOne(ctx, candidate(35)); err != nil {
		t.Fatalf("IngestOne: %v", err)
	}
	alertsNow := st.Alerts()
	if len(alertsNow) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alertsNow))
	}
	if !rec.has(notify.GroupAlerts, notify.EventNewAlert) {
		t.Error("NewAlert not published to alerts group")
	}

	// A second crossing refreshes the same alert.
	if _, err := svc.IngestOne(ctx, candidate(42)); err != nil {
		t.Fatalf("IngestOne: %v", err)
	}
	alertsNow = st.Alerts()
	if len(alertsNow) != 1 {
		t.Fatalf("refire opened a second alert: %d", len(alertsNow))
	}
	if alertsNow[0].TriggerValue == nil || *alertsNow[0].TriggerValue != 42 {
		t.Errorf("trigger value not refreshed: %v", alertsNow[0].TriggerValue)
	}
	if !rec.has(notify.GroupAlerts, notify.EventAlertUpdated) {
		t.Error("AlertUpdated not published to alerts group")
	}
}

func TestIngestOneWithAlertingDisabled(t *testing.T) {
	// A pipeline wired with the no-op evaluator still persists and
	// fans out readings; rules never fire even when a stored rule
	// matches.
	st := store.NewMemory()
	st.AddDevice(&models.Device{DeviceID: 7, DeviceName: "pump-7", DeviceType: "pump", IsActive: true})
	st.AddSensor(&models.Sensor{SensorID: 12, DeviceID: 7, SensorName: "temp", SensorType: "temperature", IsActive: true})
	st.AddRule(thresholdRule(1, 30.0))

	rec := &recorder{}
	events := notify.NewEvents(rec)
	svc := New(Config{
		Store:     st,
		Evaluator: rules.NewNoop(),
		Events:    events,
		Alerts:    alerts.NewManager(st, events),
	})

	if _, err := svc.IngestOne(context.Background(), candidate(42)); err != nil {
		t.Fatalf("IngestOne returned error: %v", err)
	}

	if got := len(st.Alerts()); got != 0 {
		t.Errorf("got %d alerts with alerting disabled, want 0", got)
	}
	if len(st.Readings()) != 1 {
		t.Error("reading not persisted")
	}
	if rec.count(notify.EventReadingReceived) != 3 {
		t.Error("reading event not fanned out")
	}
}

func TestResolveThenRetriggerOpensNewAlert(t *testing.T) {
	svc, st, _ := newTestService(t, thresholdRule(1, 30.0))
	ctx := context.Background()

	if _, err := svc.IngestOne(ctx, candidate(35)); err != nil {
		t.Fatalf("IngestOne: %v", err)
	}
	id := st.Alerts()[0].AlertID

	if _, err := svc.ResolveAlert(ctx, id); err != nil {
		t.Fatalf("ResolveAlert: %v", err)
	}

	if _, err := svc.IngestOne(ctx, candidate(36)); err != nil {
		t.Fatalf("IngestOne: %v", err)
	}
	if got := len(st.Alerts()); got != 2 {
		t.Errorf("got %d alerts after resolve and re-trigger, want 2", got)
	}
}

func TestAcknowledgeUnknownAlert(t *testing.T) {
	svc, _, rec := newTestService(t)

	_, err := svc.AcknowledgeAlert(context.Background(), 404)
	if !errors.Is(err, store.ErrAlertNotFound) {
		t.Fatalf("got %v, want ErrAlertNotFound", err)
	}
	if len(rec.msgs) != 0 {
		t.Error("failed acknowledge published an event")
	}
}

func TestIngestBatch(t *testing.T) {
	svc, st, rec := newTestService(t, thresholdRule(1, 30.0))

	batch := []*models.CandidateReading{
		candidate(10),
		candidate(35),
		candidate(20),
	}

	readings, err := svc.IngestBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("IngestBatch returned error: %v", err)
	}
	if len(readings) != 3 {
		t.Fatalf("got %d readings, want 3", len(readings))
	}

	// Order is preserved and IDs are assigned in sequence.
	for i, r := range readings {
		if r.Value != batch[i].Value {
			t.Errorf("reading %d out of order: value=%v", i, r.Value)
		}
		if i > 0 && readings[i].ReadingID <= readings[i-1].ReadingID {
			t.Errorf("reading IDs not increasing: %d then %d", readings[i-1].ReadingID, readings[i].ReadingID)
		}
	}

	if got := rec.count(notify.EventReadingReceived); got != 9 {
		t.Errorf("got %d reading publishes, want 9 (3 readings x 3 groups)", got)
	}
	if got := len(st.Alerts()); got != 1 {
		t.Errorf("got %d alerts from batch, want 1", got)
	}
}

func TestIngestBatchRejectsWholeBatchOnInvalidReading(t *testing.T) {
	svc, st, _ := newTestService(t)

	batch := []*models.CandidateReading{
		candidate(10),
		{DeviceID: 0, SensorID: 12, Value: 1},
	}

	_, err := svc.IngestBatch(context.Background(), batch)
	if !errors.Is(err, models.ErrMissingDeviceID) {
		t.Fatalf("got %v, want ErrMissingDeviceID", err)
	}
	if len(st.Readings()) != 0 {
		t.Error("partial batch was persisted")
	}
}

// touchCountingStore counts TouchDeviceLastSeen calls so tests can
// assert how often the pipeline touches, not just that it touched.
type touchCountingStore struct {
	*store.Memory
	touches atomic.Int64
}

func (s *touchCountingStore) TouchDeviceLastSeen(ctx context.Context, deviceID int, at time.Time) error {
	s.touches.Add(1)
	return s.Memory.TouchDeviceLastSeen(ctx, deviceID, at)
}

func TestIngestBatchTouchesEachDeviceOnce(t *testing.T) {
	st := &touchCountingStore{Memory: store.NewMemory()}
	st.AddDevice(&models.Device{DeviceID: 7, DeviceName: "pump-7", DeviceType: "pump", IsActive: true})
	st.AddDevice(&models.Device{DeviceID: 8, DeviceName: "pump-8", DeviceType: "pump", IsActive: true})
	st.AddSensor(&models.Sensor{SensorID: 12, DeviceID: 7, SensorName: "temp", SensorType: "temperature", IsActive: true})

	events := notify.NewEvents(notify.NewNoop())
	manager := alerts.NewManager(st, events)
	svc := New(Config{
		Store:     st,
		Evaluator: rules.NewNoop(),
		Events:    events,
		Alerts:    manager,
	})

	before := time.Now().UTC()

	// Five readings across two devices: the last-seen touch is per
	// distinct device, not per reading.
	batch := []*models.CandidateReading{
		candidate(1),
		candidate(2),
		{DeviceID: 8, SensorID: 12, Value: 3},
		candidate(4),
		{DeviceID: 8, SensorID: 12, Value: 5},
	}

	if _, err := svc.IngestBatch(context.Background(), batch); err != nil {
		t.Fatalf("IngestBatch returned error: %v", err)
	}

	if got := st.touches.Load(); got != 2 {
		t.Errorf("got %d last-seen touches for a 5-reading/2-device batch, want 2", got)
	}

	devices, _ := st.ListDevices(context.Background())
	for _, d := range devices {
		if d.LastSeenAt == nil || d.LastSeenAt.Before(before) {
			t.Errorf("device %d last seen not touched", d.DeviceID)
		}
	}
}

func TestIngestBatchEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)

	readings, err := svc.IngestBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("empty batch returned error: %v", err)
	}
	if readings != nil {
		t.Errorf("empty batch returned readings: %v", readings)
	}
}
