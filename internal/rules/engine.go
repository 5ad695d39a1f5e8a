// Package rules decides which configured alert rules fire for a
// persisted reading.
package rules

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"iotmon/internal/logger"
	"iotmon/internal/metrics"
	"iotmon/internal/models"
	"iotmon/internal/store"
)

// Evaluator is the rule-evaluation capability consumed by the
// pipeline. A no-op implementation stands in when alerting is
// disabled, so the pipeline never has to check for a missing engine.
type Evaluator interface {
	Evaluate(ctx context.Context, reading *models.Reading) error
}

// FireHandler receives a (rule, reading) pair when a rule fires.
type FireHandler interface {
	HandleFire(ctx context.Context, rule *models.AlertRule, reading *models.Reading) error
}

// Engine matches enabled rules against readings and hands fires to
// the alert manager.
type Engine struct {
	store store.Store
	fires FireHandler
	log   zerolog.Logger
}

// NewEngine constructs an Engine backed by the given store.
func NewEngine(s store.Store, fires FireHandler) *Engine {
	return &Engine{
		store: s,
		fires: fires,
		log:   logger.WithComponent("rules"),
	}
}

// Evaluate runs every enabled, matching rule against the reading. A
// single rule's failure is logged and skipped so the remaining rules
// still get evaluated; only failure to list the rules is returned.
func (e *Engine) Evaluate(ctx context.Context, reading *models.Reading) error {
	enabled, err := e.store.EnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("list enabled rules: %w", err)
	}

	for _, rule := range enabled {
		if !rule.AppliesTo(reading.DeviceID, reading.SensorID) {
			continue
		}

		metrics.RuleEvaluationsTotal.Inc()

		fired, err := e.shouldFire(rule, reading.Value)
		if err != nil {
			e.log.Warn().
				Err(err).
				Int("rule_id", rule.RuleID).
				Int64("reading_id", reading.ReadingID).
				Msg("rule evaluation skipped")
			continue
		}
		if !fired {
			continue
		}

		metrics.RuleFiresTotal.WithLabelValues(string(rule.RuleType)).Inc()
		e.log.Info().
			Int("rule_id", rule.RuleID).
			Int("device_id", reading.DeviceID).
			Int("sensor_id", reading.SensorID).
			Float64("value", reading.Value).
			Msg("rule fired")

		if err := e.fires.HandleFire(ctx, rule, reading); err != nil {
			e.log.Error().
				Err(err).
				Int("rule_id", rule.RuleID).
				Int64("reading_id", reading.ReadingID).
				Msg("alert handling failed")
		}
	}

	return nil
}

// shouldFire evaluates one rule against a value.
func (e *Engine) shouldFire(rule *models.AlertRule, value float64) (bool, error) {
	switch rule.RuleType {
	case models.RuleThreshold:
		return evaluateThreshold(rule, value), nil
	case models.RuleRange:
		// Range rules are not supported yet and never fire.
		return false, nil
	case models.RuleChange:
		// Change rules need the previous reading per (device, sensor)
		// and are not supported yet; they never fire.
		return false, nil
	default:
		return false, fmt.Errorf("unknown rule type %q", rule.RuleType)
	}
}

// evaluateThreshold compares the value against the rule's threshold.
// A rule without a threshold value never fires. The comparison
// operator defaults to ">" when unset.
func evaluateThreshold(rule *models.AlertRule, value float64) bool {
	if rule.ThresholdValue == nil {
		return false
	}

	threshold := *rule.ThresholdValue
	op := rule.ComparisonOperator
	if op == "" {
		op = ">"
	}

	switch op {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	case "!=":
		return value != threshold
	default:
		return false
	}
}

// Noop is an Evaluator that evaluates nothing, selected at wiring
// time when alerting is disabled.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (*Noop) Evaluate(ctx context.Context, reading *models.Reading) error { return nil }
