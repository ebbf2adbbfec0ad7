package alerts

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"vizdots/api/internal/teamhealth"
)

// Trend deltas smaller than this, in points on the 0-100 scale, are stable.
const trendTolerance = 5.0

type Threshold struct {
	AlertType AlertType `yaml:"alert_type" json:"alertType"`
	Metric    string    `yaml:"metric" json:"metric"`
	Warning   float64   `yaml:"warning" json:"warning"`
	Critical  float64   `yaml:"critical" json:"critical"`
	Direction Direction `yaml:"direction" json:"direction"`
}

// DefaultThresholds returns the built-in rule table. process_variance has
// coaching templates but no default rule.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{AlertType: TypeLowParticipation, Metric: teamhealth.MetricParticipationRate, Warning: 50, Critical: 30, Direction: DirectionBelow},
		{AlertType: TypeHighFriction, Metric: teamhealth.MetricFrictionIndex, Warning: 30, Critical: 50, Direction: DirectionAbove},
		{AlertType: TypeSentimentDrop, Metric: teamhealth.MetricSentimentScore, Warning: 40, Critical: 25, Direction: DirectionBelow},
		{AlertType: TypeWorkloadSpike, Metric: teamhealth.MetricWorkloadScore, Warning: 70, Critical: 85, Direction: DirectionAbove},
		{AlertType: TypeBurnoutRisk, Metric: teamhealth.MetricBurnoutRiskScore, Warning: 50, Critical: 70, Direction: DirectionAbove},
		{AlertType: TypeFocusDrift, Metric: teamhealth.MetricFocusScore, Warning: 50, Critical: 30, Direction: DirectionBelow},
	}
}

// snapshotMetrics are the metric names a threshold may watch.
var snapshotMetrics = map[string]struct{}{
	teamhealth.MetricParticipationRate: {},
	teamhealth.MetricSentimentScore:    {},
	teamhealth.MetricWorkloadScore:     {},
	teamhealth.MetricFocusScore:        {},
	teamhealth.MetricBurnoutRiskScore:  {},
	teamhealth.MetricFrictionIndex:     {},
}

type thresholdFile struct {
	Thresholds []Threshold `yaml:"thresholds"`
}

// LoadThresholds reads a YAML rule table, replacing the defaults entirely.
// An empty path returns the defaults.
func LoadThresholds(path string) ([]Threshold, error) {
	if path == "" {
		return DefaultThresholds(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read thresholds file: %w", err)
	}
	var file thresholdFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse thresholds file: %w", err)
	}
	if len(file.Thresholds) == 0 {
		return nil, fmt.Errorf("thresholds file %s defines no thresholds", path)
	}
	seen := make(map[AlertType]struct{}, len(file.Thresholds))
	for _, t := range file.Thresholds {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[t.AlertType]; dup {
			return nil, fmt.Errorf("threshold for %s defined twice", t.AlertType)
		}
		seen[t.AlertType] = struct{}{}
	}
	return file.Thresholds, nil
}

// Validate checks the alert type and metric names and that the critical band
// lies strictly inside the warning band.
func (t Threshold) Validate() error {
	if t.AlertType == "" || t.Metric == "" {
		return fmt.Errorf("threshold requires alert_type and metric")
	}
	if _, ok := coachingTemplates[t.AlertType]; !ok {
		return fmt.Errorf("threshold %s: unknown alert type", t.AlertType)
	}
	if _, ok := snapshotMetrics[t.Metric]; !ok {
		return fmt.Errorf("threshold %s: unknown metric %q", t.AlertType, t.Metric)
	}
	switch t.Direction {
	case DirectionBelow:
		if !(t.Critical < t.Warning) {
			return fmt.Errorf("threshold %s: critical (%v) must be below warning (%v)", t.AlertType, t.Critical, t.Warning)
		}
	case DirectionAbove:
		if !(t.Critical > t.Warning) {
			return fmt.Errorf("threshold %s: critical (%v) must be above warning (%v)", t.AlertType, t.Critical, t.Warning)
		}
	default:
		return fmt.Errorf("threshold %s: unknown direction %q", t.AlertType, t.Direction)
	}
	return nil
}

// EvaluateThreshold returns at most one severity; critical is checked first.
func EvaluateThreshold(t Threshold, value float64) (Severity, bool) {
	if math.IsNaN(value) {
		return "", false
	}
	switch t.Direction {
	case DirectionBelow:
		if value <= t.Critical {
			return SeverityCritical, true
		}
		if value <= t.Warning {
			return SeverityWarning, true
		}
	case DirectionAbove:
		if value >= t.Critical {
			return SeverityCritical, true
		}
		if value >= t.Warning {
			return SeverityWarning, true
		}
	}
	return "", false
}

// DetermineTrend compares against the previous period's value of the same
// metric. Without a previous value the trend is stable.
func DetermineTrend(t Threshold, current float64, previous *float64) Trend {
	if previous == nil {
		return TrendStable
	}
	diff := current - *previous
	if math.Abs(diff) < trendTolerance {
		return TrendStable
	}
	if t.Direction == DirectionAbove {
		diff = -diff
	}
	if diff > 0 {
		return TrendImproving
	}
	return TrendWorsening
}

func (t Threshold) limitFor(severity Severity) float64 {
	if severity == SeverityCritical {
		return t.Critical
	}
	return t.Warning
}
