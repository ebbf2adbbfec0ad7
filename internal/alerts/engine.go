package alerts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"vizdots/api/internal/observability"
	"vizdots/api/internal/teamhealth"
)

type Engine struct {
	repo       Repository
	thresholds []Threshold
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

type Option func(*Engine)

func WithThresholds(thresholds []Threshold) Option {
	return func(e *Engine) { e.thresholds = thresholds }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(repo Repository, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		repo:       repo,
		thresholds: DefaultThresholds(),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Thresholds() []Threshold {
	out := make([]Threshold, len(e.thresholds))
	copy(out, e.thresholds)
	return out
}

// TimeWindow is the period the evaluated metrics describe.
type TimeWindow struct {
	WindowType string
	Start      time.Time
	End        time.Time
}

// EvaluationResult reports what an evaluation pass did. Errors holds one
// message per failed insert; duplicates are not errors.
type EvaluationResult struct {
	AlertsCreated int      `json:"alertsCreated"`
	Errors        []string `json:"errors"`
	Created       []Alert  `json:"-"`
}

// EvaluateAndCreateAlerts checks every configured threshold independently.
// previous may be nil when no earlier snapshot exists.
func (e *Engine) EvaluateAndCreateAlerts(ctx context.Context, orgID string, departmentID *string, current, previous map[string]float64, window TimeWindow) EvaluationResult {
	result := EvaluationResult{Errors: []string{}}
	now := e.now().UTC()
	alertDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	for _, threshold := range e.thresholds {
		value, ok := current[threshold.Metric]
		if !ok {
			continue
		}
		severity, triggered := EvaluateThreshold(threshold, value)
		if !triggered {
			continue
		}

		var prev *float64
		if previous != nil {
			if v, ok := previous[threshold.Metric]; ok {
				prev = &v
			}
		}
		trend := DetermineTrend(threshold, value, prev)

		alert := Alert{
			OrgID:        orgID,
			DepartmentID: departmentID,
			AlertType:    threshold.AlertType,
			Severity:     severity,
			Status:       StatusOpen,
			Summary:      Summarize(threshold, severity, value, trend),
			Details: Details{
				Metrics: copyMetrics(current),
				TriggeredBy: Trigger{
					Metric:    threshold.Metric,
					Threshold: threshold.limitFor(severity),
					Value:     value,
					Direction: threshold.Direction,
				},
				PreviousValue: prev,
				Trend:         trend,
				TimePeriod: TimePeriod{
					WindowType: window.WindowType,
					Start:      window.Start,
					End:        window.End,
				},
			},
			CoachingSuggestions: CoachingFor(threshold.AlertType),
			AlertDate:           alertDate,
			CreatedAt:           now,
		}

		created, err := e.repo.InsertAlert(ctx, alert)
		if err != nil {
			if errors.Is(err, ErrDuplicateAlert) {
				e.metrics.AlertDeduplicated(string(threshold.AlertType))
				continue
			}
			e.metrics.AlertInsertFailed(string(threshold.AlertType))
			e.logger.Warn("alert insert failed",
				zap.String("org_id", orgID),
				zap.Stringp("department_id", departmentID),
				zap.String("alert_type", string(threshold.AlertType)),
				zap.Error(err),
			)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", threshold.AlertType, err))
			continue
		}
		e.metrics.AlertCreated(string(created.AlertType), string(created.Severity))
		result.AlertsCreated++
		result.Created = append(result.Created, created)
	}
	return result
}

// GetOpenAlerts returns open alerts, most severe first, newest first within a
// severity. A nil departmentID returns alerts for every scope in the org.
func (e *Engine) GetOpenAlerts(ctx context.Context, orgID string, departmentID *string) ([]Alert, error) {
	items, err := e.repo.ListOpenAlerts(ctx, orgID, departmentID)
	if err != nil {
		return nil, fmt.Errorf("list open alerts: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := items[i].Severity.rank(), items[j].Severity.rank()
		if ri != rj {
			return ri > rj
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// allowedFrom lists the statuses each target may be reached from. Transitions
// are one-way.
var allowedFrom = map[Status][]Status{
	StatusAcknowledged: {StatusOpen},
	StatusResolved:     {StatusOpen, StatusAcknowledged},
	StatusDismissed:    {StatusOpen, StatusAcknowledged},
}

func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := allowedFrom[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
	return status, nil
}

// UpdateAlertStatus stamps the acting user, time and note on the alert.
func (e *Engine) UpdateAlertStatus(ctx context.Context, orgID, alertID string, status Status, userID, note string) (Alert, error) {
	from, ok := allowedFrom[status]
	if !ok {
		return Alert{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if strings.TrimSpace(userID) == "" {
		return Alert{}, fmt.Errorf("update alert status: user is required")
	}
	updated, err := e.repo.UpdateAlertStatus(ctx, StatusUpdate{
		OrgID:   orgID,
		AlertID: alertID,
		Status:  status,
		From:    from,
		UserID:  userID,
		Note:    strings.TrimSpace(note),
		At:      e.now().UTC(),
	})
	if err != nil {
		return Alert{}, err
	}
	e.logger.Info("alert status updated",
		zap.String("org_id", orgID),
		zap.String("alert_id", alertID),
		zap.String("status", string(status)),
		zap.String("user_id", userID),
	)
	return updated, nil
}

var metricLabels = map[string]string{
	teamhealth.MetricParticipationRate: "Participation rate",
	teamhealth.MetricSentimentScore:    "Sentiment score",
	teamhealth.MetricWorkloadScore:     "Workload score",
	teamhealth.MetricFocusScore:        "Focus score",
	teamhealth.MetricBurnoutRiskScore:  "Burnout risk score",
	teamhealth.MetricFrictionIndex:     "Friction index",
}

// Summarize renders the one-line human summary stored on an alert.
func Summarize(t Threshold, severity Severity, value float64, trend Trend) string {
	label, ok := metricLabels[t.Metric]
	if !ok {
		label = strings.ReplaceAll(t.Metric, "_", " ")
	}
	comparison := "at or below"
	if t.Direction == DirectionAbove {
		comparison = "at or above"
	}
	level := "warning"
	if severity == SeverityCritical {
		level = "critical"
	}
	return fmt.Sprintf("%s is %.2f, %s the %s threshold of %g (trend: %s).",
		label, value, comparison, level, t.limitFor(severity), trend)
}

func copyMetrics(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
