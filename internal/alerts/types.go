// Package alerts evaluates health metrics against threshold rules and records
// deduplicated pattern alerts with coaching suggestions.
package alerts

import (
	"context"
	"errors"
	"time"
)

type AlertType string

const (
	TypeLowParticipation AlertType = "low_participation"
	TypeHighFriction     AlertType = "high_friction"
	TypeSentimentDrop    AlertType = "sentiment_drop"
	TypeWorkloadSpike    AlertType = "workload_spike"
	TypeBurnoutRisk      AlertType = "burnout_risk"
	TypeFocusDrift       AlertType = "focus_drift"
	TypeProcessVariance  AlertType = "process_variance"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusDismissed    Status = "dismissed"
)

// Direction names the unhealthy side of a threshold.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendWorsening Trend = "worsening"
)

type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

var (
	ErrDuplicateAlert    = errors.New("alert already exists for this day")
	ErrAlertNotFound     = errors.New("alert not found")
	ErrInvalidStatus     = errors.New("invalid alert status")
	ErrInvalidTransition = errors.New("alert status transition not allowed")
)

type CoachingSuggestion struct {
	Action   string `json:"action"`
	Reason   string `json:"reason"`
	Effort   Effort `json:"effort"`
	Priority int    `json:"priority"`
}

type Trigger struct {
	Metric    string    `json:"metric"`
	Threshold float64   `json:"threshold"`
	Value     float64   `json:"value"`
	Direction Direction `json:"direction"`
}

type TimePeriod struct {
	WindowType string    `json:"window_type"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// Details is the breach evidence stored with an alert.
type Details struct {
	Metrics       map[string]float64 `json:"metrics"`
	TriggeredBy   Trigger            `json:"triggered_by"`
	PreviousValue *float64           `json:"previous_value,omitempty"`
	Trend         Trend              `json:"trend"`
	TimePeriod    TimePeriod         `json:"time_period"`
}

type Alert struct {
	ID                  string               `json:"id"`
	OrgID               string               `json:"orgId"`
	DepartmentID        *string              `json:"departmentId"`
	AlertType           AlertType            `json:"alertType"`
	Severity            Severity             `json:"severity"`
	Status              Status               `json:"status"`
	Summary             string               `json:"summary"`
	Details             Details              `json:"details"`
	CoachingSuggestions []CoachingSuggestion `json:"coachingSuggestions"`
	AlertDate           time.Time            `json:"alertDate"`
	CreatedAt           time.Time            `json:"createdAt"`
	AcknowledgedAt      *time.Time           `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy      string               `json:"acknowledgedBy,omitempty"`
	AcknowledgedNote    string               `json:"acknowledgedNote,omitempty"`
	ResolvedAt          *time.Time           `json:"resolvedAt,omitempty"`
	ResolvedBy          string               `json:"resolvedBy,omitempty"`
	ResolvedNote        string               `json:"resolvedNote,omitempty"`
}

// StatusUpdate is a conditional transition: the store applies it only when
// the alert's current status is one of From.
type StatusUpdate struct {
	OrgID   string
	AlertID string
	Status  Status
	From    []Status
	UserID  string
	Note    string
	At      time.Time
}

// Repository is the storage capability the engine needs. InsertAlert must
// return an error wrapping ErrDuplicateAlert when the (org, department, type,
// day) uniqueness constraint rejects the row.
type Repository interface {
	InsertAlert(ctx context.Context, alert Alert) (Alert, error)
	ListOpenAlerts(ctx context.Context, orgID string, departmentID *string) ([]Alert, error)
	UpdateAlertStatus(ctx context.Context, update StatusUpdate) (Alert, error)
}
