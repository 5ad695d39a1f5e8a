// Package alerts owns the alert lifecycle: creation and refresh on
// rule fire, and the acknowledge/resolve transitions.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"iotmon/internal/logger"
	"iotmon/internal/metrics"
	"iotmon/internal/models"
	"iotmon/internal/notify"
	"iotmon/internal/store"
)

// Manager keeps at most one Active alert per (rule, device) pair.
//
// The find-active-else-create sequence in HandleFire is not atomic:
// concurrent fires for the same pair can race past the lookup and
// create duplicate Active alerts. Closing that window needs a storage
// level uniqueness constraint on (rule, device, Active); callers must
// not rely on perfect dedup under concurrent triggers.
type Manager struct {
	store  store.Store
	events *notify.Events
	log    zerolog.Logger
}

// NewManager constructs a Manager.
func NewManager(s store.Store, events *notify.Events) *Manager {
	return &Manager{
		store:  s,
		events: events,
		log:    logger.WithComponent("alerts"),
	}
}

// HandleFire processes one rule fire for a reading. An existing
// Active alert for the (rule, device) pair absorbs the fire as a
// value refresh; otherwise a new Active alert is opened. Implements
// rules.FireHandler.
func (m *Manager) HandleFire(ctx context.Context, rule *models.AlertRule, reading *models.Reading) error {
	existing, err := m.store.FindActiveAlert(ctx, rule.RuleID, reading.DeviceID)
	if err != nil {
		return fmt.Errorf("find active alert: %w", err)
	}

	now := time.Now().UTC()

	if existing != nil {
		value := reading.Value
		existing.TriggerValue = &value
		existing.TriggeredAt = now

		if _, err := m.store.UpsertAlert(ctx, existing); err != nil {
			return fmt.Errorf("refresh alert: %w", err)
		}

		metrics.AlertsTotal.WithLabelValues("refired").Inc()
		m.log.Info().
			Int64("alert_id", existing.AlertID).
			Int("rule_id", rule.RuleID).
			Float64("trigger_value", value).
			Msg("active alert refreshed")

		m.events.AlertUpdated(existing)
		return nil
	}

	value := reading.Value
	sensorID := reading.SensorID
	alert := &models.Alert{
		RuleID:       rule.RuleID,
		DeviceID:     reading.DeviceID,
		SensorID:     &sensorID,
		Severity:     rule.Severity,
		Message:      rule.Condition,
		TriggerValue: &value,
		Status:       models.AlertActive,
		TriggeredAt:  now,
	}

	created, err := m.store.UpsertAlert(ctx, alert)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}

	metrics.AlertsTotal.WithLabelValues("opened").Inc()
	m.log.Info().
		Int64("alert_id", created.AlertID).
		Int("rule_id", rule.RuleID).
		Int("device_id", reading.DeviceID).
		Str("severity", created.Severity).
		Msg("alert opened")

	m.events.NewAlert(created)
	return nil
}

// Acknowledge stamps AcknowledgedAt on an alert. The status is left
// unchanged, so an acknowledged alert still absorbs refires.
func (m *Manager) Acknowledge(ctx context.Context, alertID int64) (*models.Alert, error) {
	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	alert.AcknowledgedAt = &now

	if _, err := m.store.UpsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("acknowledge alert: %w", err)
	}

	metrics.AlertsTotal.WithLabelValues("acknowledged").Inc()
	m.log.Info().Int64("alert_id", alertID).Msg("alert acknowledged")

	m.events.AlertAcknowledged(alert)
	return alert, nil
}

// Resolve moves an alert to Resolved, the terminal state. The next
// fire of the same rule for the same device opens a fresh alert.
func (m *Manager) Resolve(ctx context.Context, alertID int64) (*models.Alert, error) {
	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	alert.Status = models.AlertResolved
	alert.ResolvedAt = &now

	if _, err := m.store.UpsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("resolve alert: %w", err)
	}

	metrics.AlertsTotal.WithLabelValues("resolved").Inc()
	m.log.Info().Int64("alert_id", alertID).Msg("alert resolved")

	m.events.AlertResolved(alert)
	return alert, nil
}
