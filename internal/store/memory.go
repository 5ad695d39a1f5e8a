package store

import (
	"context"
	"sync"
	"time"

	"iotmon/internal/models"
)

// Memory is an in-memory Store for local development and tests.
type Memory struct {
	mu sync.RWMutex

	devices  map[int]*models.Device
	sensors  map[int]*models.Sensor
	rules    map[int]*models.AlertRule
	readings []*models.Reading
	alerts   map[int64]*models.Alert

	nextReadingID int64
	nextAlertID   int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		devices: make(map[int]*models.Device),
		sensors: make(map[int]*models.Sensor),
		rules:   make(map[int]*models.AlertRule),
		alerts:  make(map[int64]*models.Alert),
	}
}

// AddDevice seeds a device. Not part of the Store interface; device
// lifecycle is owned by external management tooling.
func (m *Memory) AddDevice(d *models.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.devices[d.DeviceID] = &cp
}

// AddSensor seeds a sensor.
func (m *Memory) AddSensor(s *models.Sensor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sensors[s.SensorID] = &cp
}

// AddRule seeds an alert rule.
func (m *Memory) AddRule(r *models.AlertRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rules[r.RuleID] = &cp
}

// Readings returns a snapshot of all persisted readings.
func (m *Memory) Readings() []*models.Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Reading, len(m.readings))
	copy(out, m.readings)
	return out
}

// Alerts returns a snapshot of all alerts.
func (m *Memory) Alerts() []*models.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

func (m *Memory) DeviceExists(ctx context.Context, deviceID int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.devices[deviceID]
	return ok, nil
}

func (m *Memory) SensorExists(ctx context.Context, sensorID int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sensors[sensorID]
	return ok, nil
}

func (m *Memory) AppendReading(ctx context.Context, c *models.CandidateReading) (*models.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(c), nil
}

func (m *Memory) AppendReadings(ctx context.Context, cs []*models.CandidateReading) ([]*models.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Reading, 0, len(cs))
	for _, c := range cs {
		out = append(out, m.appendLocked(c))
	}
	return out, nil
}

func (m *Memory) appendLocked(c *models.CandidateReading) *models.Reading {
	m.nextReadingID++
	r := &models.Reading{
		ReadingID: m.nextReadingID,
		DeviceID:  c.DeviceID,
		SensorID:  c.SensorID,
		Value:     c.Value,
		Timestamp: c.Timestamp,
		Status:    c.Status,
		Quality:   c.Quality,
		CreatedAt: time.Now().UTC(),
	}
	m.readings = append(m.readings, r)
	return r
}

func (m *Memory) TouchDeviceLastSeen(ctx context.Context, deviceID int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[deviceID]
	if !ok {
		return nil
	}
	t := at
	d.LastSeenAt = &t
	d.UpdatedAt = at
	return nil
}

func (m *Memory) ListDevices(ctx context.Context) ([]*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Device, 0, len(m.devices))
	for _, d := range m.devices {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) EnabledRules(ctx context.Context) ([]*models.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.AlertRule, 0, len(m.rules))
	for _, r := range m.rules {
		if r.IsEnabled {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) FindActiveAlert(ctx context.Context, ruleID, deviceID int) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.alerts {
		if a.RuleID == ruleID && a.DeviceID == deviceID && a.Status == models.AlertActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpsertAlert(ctx context.Context, a *models.Alert) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.AlertID == 0 {
		m.nextAlertID++
		a.AlertID = m.nextAlertID
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	m.alerts[a.AlertID] = &cp
	return a, nil
}

func (m *Memory) GetAlert(ctx context.Context, alertID int64) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
