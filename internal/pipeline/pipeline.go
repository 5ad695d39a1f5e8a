// Package pipeline orchestrates the ingestion flow: validate,
// persist, evaluate rules, notify. Data moves one direction through
// it and a reading, once committed, is never rolled back by a
// downstream failure.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"iotmon/internal/alerts"
	"iotmon/internal/logger"
	"iotmon/internal/metrics"
	"iotmon/internal/models"
	"iotmon/internal/notify"
	"iotmon/internal/rules"
	"iotmon/internal/store"
)

// Service exposes the pipeline's public operations to the transport
// layers (MQTT listener, HTTP handlers).
type Service struct {
	store     store.Store
	evaluator rules.Evaluator
	events    *notify.Events
	alerts    *alerts.Manager
	log       zerolog.Logger
}

// Config wires the pipeline's collaborators.
type Config struct {
	Store     store.Store
	Evaluator rules.Evaluator
	Events    *notify.Events
	Alerts    *alerts.Manager
}

// New constructs the pipeline service.
func New(cfg Config) *Service {
	return &Service{
		store:     cfg.Store,
		evaluator: cfg.Evaluator,
		events:    cfg.Events,
		alerts:    cfg.Alerts,
		log:       logger.WithComponent("pipeline"),
	}
}

// IngestOne validates, persists and fans out a single reading. The
// device and sensor must exist; rule evaluation and notification run
// after the reading is committed and their failure does not undo it.
func (s *Service) IngestOne(ctx context.Context, c *models.CandidateReading) (*models.Reading, error) {
	now := time.Now().UTC()
	c.Normalize(now)

	if err := c.Validate(); err != nil {
		metrics.ReadingsIngestedTotal.WithLabelValues("single", "rejected").Inc()
		return nil, err
	}

	exists, err := s.store.DeviceExists(ctx, c.DeviceID)
	if err != nil {
		return nil, err
	}
	if !exists {
		metrics.ReadingsIngestedTotal.WithLabelValues("single", "rejected").Inc()
		return nil, fmt.Errorf("device %d: %w", c.DeviceID, store.ErrDeviceNotFound)
	}

	exists, err = s.store.SensorExists(ctx, c.SensorID)
	if err != nil {
		return nil, err
	}
	if !exists {
		metrics.ReadingsIngestedTotal.WithLabelValues("single", "rejected").Inc()
		return nil, fmt.Errorf("sensor %d: %w", c.SensorID, store.ErrSensorNotFound)
	}

	reading, err := s.store.AppendReading(ctx, c)
	if err != nil {
		return nil, err
	}

	metrics.ReadingsIngestedTotal.WithLabelValues("single", "accepted").Inc()

	// The reading is committed; everything from here is best-effort.
	s.touchDevice(ctx, c.DeviceID, now)
	s.evaluateAndNotify(ctx, reading)

	return reading, nil
}

// IngestBatch persists an ordered batch in one store operation.
// Existence checks are skipped: batch producers are trusted to
// reference valid devices and sensors. Each distinct device's
// last-seen timestamp is touched once, then rule evaluation and
// notification run per reading in the original order.
func (s *Service) IngestBatch(ctx context.Context, cs []*models.CandidateReading) ([]*models.Reading, error) {
	if len(cs) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	for i, c := range cs {
		c.Normalize(now)
		if err := c.Validate(); err != nil {
			metrics.ReadingsIngestedTotal.WithLabelValues("batch", "rejected").Inc()
			return nil, fmt.Errorf("reading %d: %w", i, err)
		}
	}

	readings, err := s.store.AppendReadings(ctx, cs)
	if err != nil {
		return nil, err
	}

	metrics.IngestBatchSize.Observe(float64(len(readings)))
	metrics.ReadingsIngestedTotal.WithLabelValues("batch", "accepted").Add(float64(len(readings)))

	// One last-seen touch per distinct device, not per reading.
	seen := make(map[int]struct{}, len(cs))
	for _, c := range cs {
		if _, ok := seen[c.DeviceID]; ok {
			continue
		}
		seen[c.DeviceID] = struct{}{}
		s.touchDevice(ctx, c.DeviceID, now)
	}

	for _, reading := range readings {
		s.evaluateAndNotify(ctx, reading)
	}

	return readings, nil
}

// AcknowledgeAlert stamps an alert acknowledged.
func (s *Service) AcknowledgeAlert(ctx context.Context, alertID int64) (*models.Alert, error) {
	return s.alerts.Acknowledge(ctx, alertID)
}

// ResolveAlert resolves an alert.
func (s *Service) ResolveAlert(ctx context.Context, alertID int64) (*models.Alert, error) {
	return s.alerts.Resolve(ctx, alertID)
}

func (s *Service) touchDevice(ctx context.Context, deviceID int, at time.Time) {
	if err := s.store.TouchDeviceLastSeen(ctx, deviceID, at); err != nil {
		log := logger.WithDevice(deviceID)
		log.Warn().Err(err).Msg("failed to update device last seen")
	}
}

func (s *Service) evaluateAndNotify(ctx context.Context, reading *models.Reading) {
	if err := s.evaluator.Evaluate(ctx, reading); err != nil {
		s.log.Error().
			Err(err).
			Int64("reading_id", reading.ReadingID).
			Msg("rule evaluation failed")
	}

	s.events.ReadingReceived(reading)
}
