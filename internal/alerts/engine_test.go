package alerts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vizdots/api/internal/teamhealth"
)

type fakeRepo struct {
	alerts    []Alert
	insertErr map[AlertType]error
	keys      map[string]bool
	updates   []StatusUpdate
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{insertErr: make(map[AlertType]error), keys: make(map[string]bool)}
}

func (f *fakeRepo) InsertAlert(_ context.Context, alert Alert) (Alert, error) {
	if err := f.insertErr[alert.AlertType]; err != nil {
		return Alert{}, err
	}
	dept := ""
	if alert.DepartmentID != nil {
		dept = *alert.DepartmentID
	}
	key := fmt.Sprintf("%s|%s|%s|%s", alert.OrgID, dept, alert.AlertType, alert.AlertDate.Format("2006-01-02"))
	if f.keys[key] {
		return Alert{}, fmt.Errorf("insert alert: %w", ErrDuplicateAlert)
	}
	f.keys[key] = true
	alert.ID = fmt.Sprintf("pa_%d", len(f.alerts)+1)
	f.alerts = append(f.alerts, alert)
	return alert, nil
}

func (f *fakeRepo) ListOpenAlerts(_ context.Context, orgID string, departmentID *string) ([]Alert, error) {
	out := make([]Alert, 0)
	for _, a := range f.alerts {
		if a.OrgID != orgID || a.Status != StatusOpen {
			continue
		}
		if departmentID != nil && (a.DepartmentID == nil || *a.DepartmentID != *departmentID) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeRepo) UpdateAlertStatus(_ context.Context, update StatusUpdate) (Alert, error) {
	f.updates = append(f.updates, update)
	for i := range f.alerts {
		a := &f.alerts[i]
		if a.ID != update.AlertID || a.OrgID != update.OrgID {
			continue
		}
		allowed := false
		for _, s := range update.From {
			if a.Status == s {
				allowed = true
			}
		}
		if !allowed {
			return Alert{}, ErrInvalidTransition
		}
		a.Status = update.Status
		at := update.At
		if update.Status == StatusAcknowledged {
			a.AcknowledgedAt, a.AcknowledgedBy, a.AcknowledgedNote = &at, update.UserID, update.Note
		} else {
			a.ResolvedAt, a.ResolvedBy, a.ResolvedNote = &at, update.UserID, update.Note
		}
		return *a, nil
	}
	return Alert{}, ErrAlertNotFound
}

var evalNow = time.Date(2025, time.June, 10, 8, 0, 0, 0, time.UTC)

var week = TimeWindow{
	WindowType: "week",
	Start:      time.Date(2025, time.June, 3, 0, 0, 0, 0, time.UTC),
	End:        time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC),
}

func newTestEngine(repo *fakeRepo) *Engine {
	return NewEngine(repo, nil, WithClock(func() time.Time { return evalNow }))
}

func TestEvaluateAndCreateAlertsScenario(t *testing.T) {
	repo := newFakeRepo()
	engine := newTestEngine(repo)

	current := map[string]float64{
		teamhealth.MetricParticipationRate: 30,
		teamhealth.MetricSentimentScore:    35,
		teamhealth.MetricBurnoutRiskScore:  75,
		teamhealth.MetricFrictionIndex:     0,
	}
	result := engine.EvaluateAndCreateAlerts(context.Background(), "org_1", nil, current, nil, week)

	assert.Empty(t, result.Errors)
	assert.Equal(t, 3, result.AlertsCreated)
	require.Len(t, result.Created, 3)

	byType := make(map[AlertType]Alert)
	for _, a := range result.Created {
		byType[a.AlertType] = a
	}
	assert.Equal(t, SeverityCritical, byType[TypeLowParticipation].Severity)
	assert.Equal(t, SeverityWarning, byType[TypeSentimentDrop].Severity)
	assert.Equal(t, SeverityCritical, byType[TypeBurnoutRisk].Severity)

	burnout := byType[TypeBurnoutRisk]
	assert.Equal(t, StatusOpen, burnout.Status)
	assert.Equal(t, TrendStable, burnout.Details.Trend)
	assert.Equal(t, teamhealth.MetricBurnoutRiskScore, burnout.Details.TriggeredBy.Metric)
	assert.Equal(t, 70.0, burnout.Details.TriggeredBy.Threshold)
	assert.Equal(t, 75.0, burnout.Details.TriggeredBy.Value)
	assert.Equal(t, current, burnout.Details.Metrics)
	assert.Equal(t, week.Start, burnout.Details.TimePeriod.Start)
	assert.Equal(t, "week", burnout.Details.TimePeriod.WindowType)
	assert.Equal(t, time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC), burnout.AlertDate)
	assert.Equal(t, CoachingFor(TypeBurnoutRisk), burnout.CoachingSuggestions)
	assert.Equal(t, "Burnout risk score is 75.00, at or above the critical threshold of 70 (trend: stable).", burnout.Summary)
}

func TestEvaluateSkipsMissingMetrics(t *testing.T) {
	repo := newFakeRepo()
	engine := newTestEngine(repo)

	result := engine.EvaluateAndCreateAlerts(context.Background(), "org_1", nil, map[string]float64{}, nil, week)
	assert.Equal(t, 0, result.AlertsCreated)
	assert.Empty(t, result.Errors)
	assert.Empty(t, repo.alerts)
}

func TestEvaluateUsesPreviousSnapshotForTrend(t *testing.T) {
	repo := newFakeRepo()
	engine := newTestEngine(repo)
	dept := "dept_eng"

	current := map[string]float64{teamhealth.MetricFocusScore: 20, teamhealth.MetricWorkloadScore: 72}
	previous := map[string]float64{teamhealth.MetricFocusScore: 45, teamhealth.MetricWorkloadScore: 90}
	result := engine.EvaluateAndCreateAlerts(context.Background(), "org_1", &dept, current, previous, week)
	require.Len(t, result.Created, 2)

	for _, a := range result.Created {
		require.NotNil(t, a.DepartmentID)
		assert.Equal(t, dept, *a.DepartmentID)
		switch a.AlertType {
		case TypeFocusDrift:
			assert.Equal(t, TrendWorsening, a.Details.Trend)
			require.NotNil(t, a.Details.PreviousValue)
			assert.Equal(t, 45.0, *a.Details.PreviousValue)
		case TypeWorkloadSpike:
			assert.Equal(t, SeverityWarning, a.Severity)
			assert.Equal(t, TrendImproving, a.Details.Trend)
		default:
			t.Fatalf("unexpected alert type %s", a.AlertType)
		}
	}
}

func TestEvaluateDeduplicatesSameDay(t *testing.T) {
	repo := newFakeRepo()
	engine := newTestEngine(repo)
	current := map[string]float64{teamhealth.MetricBurnoutRiskScore: 90}

	first := engine.EvaluateAndCreateAlerts(context.Background(), "org_1", nil, current, nil, week)
	second := engine.EvaluateAndCreateAlerts(context.Background(), "org_1", nil, current, nil, week)

	assert.Equal(t, 1, first.AlertsCreated)
	assert.Equal(t, 0, second.AlertsCreated)
	assert.Empty(t, second.Errors)
	assert.Len(t, repo.alerts, 1)
}

func TestEvaluateCollectsErrorsAndContinues(t *testing.T) {
	repo := newFakeRepo()
	repo.insertErr[TypeLowParticipation] = errors.New("connection refused")
	engine := newTestEngine(repo)

	current := map[string]float64{
		teamhealth.MetricParticipationRate: 10,
		teamhealth.MetricFrictionIndex:     80,
	}
	result := engine.EvaluateAndCreateAlerts(context.Background(), "org_1", nil, current, nil, week)

	assert.Equal(t, 1, result.AlertsCreated)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "low_participation")
	assert.Contains(t, result.Errors[0], "connection refused")
	assert.Equal(t, TypeHighFriction, repo.alerts[0].AlertType)
}

func TestEvaluateWithCustomThresholds(t *testing.T) {
	repo := newFakeRepo()
	custom := []Threshold{{AlertType: TypeProcessVariance, Metric: teamhealth.MetricFrictionIndex, Warning: 10, Critical: 20, Direction: DirectionAbove}}
	engine := NewEngine(repo, nil, WithThresholds(custom), WithClock(func() time.Time { return evalNow }))

	result := engine.EvaluateAndCreateAlerts(context.Background(), "org_1", nil, map[string]float64{teamhealth.MetricFrictionIndex: 15}, nil, week)
	require.Len(t, result.Created, 1)
	assert.Equal(t, TypeProcessVariance, result.Created[0].AlertType)
	assert.Equal(t, SeverityWarning, result.Created[0].Severity)
	assert.Equal(t, CoachingFor(TypeProcessVariance), result.Created[0].CoachingSuggestions)
}

func TestGetOpenAlertsOrdering(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	repo.alerts = []Alert{
		{ID: "a", OrgID: "org_1", Severity: SeverityWarning, Status: StatusOpen, CreatedAt: base.Add(3 * time.Hour)},
		{ID: "b", OrgID: "org_1", Severity: SeverityCritical, Status: StatusOpen, CreatedAt: base.Add(1 * time.Hour)},
		{ID: "c", OrgID: "org_1", Severity: SeverityCritical, Status: StatusOpen, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "d", OrgID: "org_1", Severity: SeverityInfo, Status: StatusOpen, CreatedAt: base.Add(5 * time.Hour)},
		{ID: "e", OrgID: "org_1", Severity: SeverityCritical, Status: StatusResolved, CreatedAt: base},
		{ID: "f", OrgID: "org_2", Severity: SeverityCritical, Status: StatusOpen, CreatedAt: base},
	}
	engine := newTestEngine(repo)

	items, err := engine.GetOpenAlerts(context.Background(), "org_1", nil)
	require.NoError(t, err)
	ids := make([]string, 0, len(items))
	for _, a := range items {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"c", "b", "a", "d"}, ids)
}

func TestUpdateAlertStatusLifecycle(t *testing.T) {
	repo := newFakeRepo()
	repo.alerts = []Alert{{ID: "pa_1", OrgID: "org_1", Status: StatusOpen}}
	engine := newTestEngine(repo)
	ctx := context.Background()

	acked, err := engine.UpdateAlertStatus(ctx, "org_1", "pa_1", StatusAcknowledged, "user_1", " looking into it ")
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, acked.Status)
	assert.Equal(t, "user_1", acked.AcknowledgedBy)
	assert.Equal(t, "looking into it", acked.AcknowledgedNote)
	require.NotNil(t, acked.AcknowledgedAt)
	assert.Equal(t, evalNow, *acked.AcknowledgedAt)

	_, err = engine.UpdateAlertStatus(ctx, "org_1", "pa_1", StatusAcknowledged, "user_1", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	resolved, err := engine.UpdateAlertStatus(ctx, "org_1", "pa_1", StatusResolved, "user_2", "")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Equal(t, "user_2", resolved.ResolvedBy)

	_, err = engine.UpdateAlertStatus(ctx, "org_1", "pa_1", StatusDismissed, "user_2", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = engine.UpdateAlertStatus(ctx, "org_1", "missing", StatusResolved, "user_2", "")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestUpdateAlertStatusRejectsUnknownStatus(t *testing.T) {
	repo := newFakeRepo()
	engine := newTestEngine(repo)

	_, err := engine.UpdateAlertStatus(context.Background(), "org_1", "pa_1", StatusOpen, "user_1", "")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Empty(t, repo.updates)

	_, err = ParseStatus("reopened")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	status, err := ParseStatus("Dismissed")
	require.NoError(t, err)
	assert.Equal(t, StatusDismissed, status)
}
