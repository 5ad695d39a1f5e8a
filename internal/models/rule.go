package models

import "time"

// RuleType classifies how a rule's condition is evaluated.
type RuleType string

const (
	RuleThreshold RuleType = "threshold"
	RuleRange     RuleType = "range"
	RuleChange    RuleType = "change"
)

// AlertRule is a configured condition over readings. Rules are managed
// by external configuration tooling and read-only to the pipeline.
// A nil DeviceID or SensorID means the rule is not scoped to one.
type AlertRule struct {
	RuleID             int      `json:"ruleId"`
	DeviceID           *int     `json:"deviceId,omitempty"`
	SensorID           *int     `json:"sensorId,omitempty"`
	RuleName           string   `json:"ruleName"`
	RuleType           RuleType `json:"ruleType"`
	Condition          string   `json:"condition"`
	ThresholdValue     *float64 `json:"thresholdValue,omitempty"`
	ComparisonOperator string   `json:"comparisonOperator,omitempty"`
	Severity           string   `json:"severity"`
	IsEnabled          bool     `json:"isEnabled"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// AppliesTo reports whether the rule's scope matches a reading's
// device and sensor. An unscoped field matches everything.
func (r *AlertRule) AppliesTo(deviceID, sensorID int) bool {
	if r.DeviceID != nil && *r.DeviceID != deviceID {
		return false
	}
	if r.SensorID != nil && *r.SensorID != sensorID {
		return false
	}
	return true
}
