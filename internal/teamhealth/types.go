// Package teamhealth computes normalized organizational health metrics from
// check-in activity and stores them as per-window snapshots.
package teamhealth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"vizdots/api/internal/answers"
)

type WindowType string

const (
	WindowWeek    WindowType = "week"
	WindowMonth   WindowType = "month"
	WindowQuarter WindowType = "quarter"
)

func ParseWindowType(value string) (WindowType, error) {
	switch WindowType(strings.ToLower(strings.TrimSpace(value))) {
	case WindowWeek:
		return WindowWeek, nil
	case WindowMonth:
		return WindowMonth, nil
	case WindowQuarter:
		return WindowQuarter, nil
	default:
		return "", fmt.Errorf("unknown window type %q", value)
	}
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Metric names as they appear in snapshots and alert thresholds.
const (
	MetricParticipationRate = "participation_rate"
	MetricSentimentScore    = "sentiment_score"
	MetricWorkloadScore     = "workload_score"
	MetricFocusScore        = "focus_score"
	MetricBurnoutRiskScore  = "burnout_risk_score"
	MetricFrictionIndex     = "friction_index"
)

// Window is a half-open [Start, End) computation interval.
type Window struct {
	Type  WindowType
	Start time.Time
	End   time.Time
}

// Inputs is the metadata recorded alongside a snapshot.
type Inputs struct {
	WindowType     WindowType `json:"window_type"`
	ComputedAt     time.Time  `json:"computed_at"`
	PulseAnswers   int        `json:"pulse_answers"`
	FocusAnswers   int        `json:"focus_answers"`
	SkippedAnswers int        `json:"skipped_answers"`
}

// Snapshot is one computed set of health metrics for an org, or for one of its
// departments when DepartmentID is set. A nil metric means insufficient data.
type Snapshot struct {
	ID                string    `json:"id"`
	OrgID             string    `json:"orgId"`
	DepartmentID      *string   `json:"departmentId"`
	WindowStart       time.Time `json:"windowStart"`
	WindowEnd         time.Time `json:"windowEnd"`
	ParticipationRate *float64  `json:"participationRate"`
	SentimentScore    *float64  `json:"sentimentScore"`
	WorkloadScore     *float64  `json:"workloadScore"`
	FocusScore        *float64  `json:"focusScore"`
	BurnoutRiskScore  *float64  `json:"burnoutRiskScore"`
	FrictionIndex     *float64  `json:"frictionIndex"`
	RiskLevel         RiskLevel `json:"riskLevel"`
	TotalMembers      int       `json:"totalMembers"`
	ActiveMembers     int       `json:"activeMembers"`
	CompletedSessions int       `json:"completedSessions"`

	// TODO: populate once product decides whether abandoned sessions count.
	TotalSessions     int    `json:"totalSessions"`
	CanonicalVariants int    `json:"canonicalVariants"`
	AllowedVariants   int    `json:"allowedVariants"`
	FrictionVariants  int    `json:"frictionVariants"`
	Inputs            Inputs `json:"inputs"`
}

// Metrics returns the non-null metric values keyed by metric name.
func (s Snapshot) Metrics() map[string]float64 {
	values := make(map[string]float64, 6)
	set := func(name string, v *float64) {
		if v != nil {
			values[name] = *v
		}
	}
	set(MetricParticipationRate, s.ParticipationRate)
	set(MetricSentimentScore, s.SentimentScore)
	set(MetricWorkloadScore, s.WorkloadScore)
	set(MetricFocusScore, s.FocusScore)
	set(MetricBurnoutRiskScore, s.BurnoutRiskScore)
	set(MetricFrictionIndex, s.FrictionIndex)
	return values
}

// Key identifies the storage row a snapshot overwrites.
func (s Snapshot) Key() string {
	dept := ""
	if s.DepartmentID != nil {
		dept = *s.DepartmentID
	}
	return strings.Join([]string{s.OrgID, dept, s.WindowStart.UTC().Format(time.RFC3339), s.WindowEnd.UTC().Format(time.RFC3339)}, "|")
}

type Department struct {
	ID   string
	Name string
}

type Member struct {
	ID           string
	UserID       string
	DepartmentID *string
	Status       string
}

type Session struct {
	ID          string
	UserID      string
	AgentCode   answers.AgentCode
	CompletedAt time.Time
}

type Answer struct {
	SessionID     string
	UserID        string
	AgentCode     answers.AgentCode
	ExtractedData json.RawMessage
}

type WorkflowVariant struct {
	ID          string
	WorkflowID  string
	IsCanonical bool
	IsAllowed   *bool
}

// Repository is the storage capability the engine needs. Every list method is
// scoped to one org; department filtering happens in the engine.
type Repository interface {
	ListDepartments(ctx context.Context, orgID string) ([]Department, error)
	ListActiveMembers(ctx context.Context, orgID string) ([]Member, error)
	ListCompletedSessions(ctx context.Context, orgID string, start, end time.Time) ([]Session, error)
	ListAnswers(ctx context.Context, orgID string, agent answers.AgentCode, start, end time.Time) ([]Answer, error)
	ListWorkflowVariants(ctx context.Context, orgID string) ([]WorkflowVariant, error)
	UpsertSnapshot(ctx context.Context, snapshot Snapshot) (Snapshot, error)
}
