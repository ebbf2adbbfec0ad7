package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vizdots/api/internal/alerts"
	"vizdots/api/internal/auth"
	"vizdots/api/internal/config"
	"vizdots/api/internal/search"
	"vizdots/api/internal/teamhealth"
	"vizdots/api/internal/workflow"
)

const testSecret = "test-secret"

type fakeStore struct {
	pingFn     func(context.Context) error
	latestFn   func(context.Context, string, teamhealth.WindowType) ([]teamhealth.Snapshot, error)
	previousFn func(context.Context, string, *string, teamhealth.WindowType, time.Time) (*teamhealth.Snapshot, error)
	emailsFn   func(context.Context, string) ([]string, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) LatestSnapshots(ctx context.Context, orgID string, windowType teamhealth.WindowType) ([]teamhealth.Snapshot, error) {
	if f.latestFn != nil {
		return f.latestFn(ctx, orgID, windowType)
	}
	return nil, nil
}

func (f *fakeStore) PreviousSnapshot(ctx context.Context, orgID string, departmentID *string, windowType teamhealth.WindowType, before time.Time) (*teamhealth.Snapshot, error) {
	if f.previousFn != nil {
		return f.previousFn(ctx, orgID, departmentID, windowType, before)
	}
	return nil, nil
}

func (f *fakeStore) ListOrgAdminEmails(ctx context.Context, orgID string) ([]string, error) {
	if f.emailsFn != nil {
		return f.emailsFn(ctx, orgID)
	}
	return nil, nil
}

type fakeHealth struct {
	computeFn func(context.Context, string, teamhealth.WindowType, time.Time) ([]teamhealth.Snapshot, error)
}

func (f *fakeHealth) ComputeHealthMetrics(ctx context.Context, orgID string, windowType teamhealth.WindowType, referenceDate time.Time) ([]teamhealth.Snapshot, error) {
	if f.computeFn != nil {
		return f.computeFn(ctx, orgID, windowType, referenceDate)
	}
	return nil, nil
}

type evaluateCall struct {
	departmentID *string
	current      map[string]float64
	previous     map[string]float64
	window       alerts.TimeWindow
}

type fakeAlerts struct {
	evaluateFn func(evaluateCall) alerts.EvaluationResult
	calls      []evaluateCall
	openFn     func(context.Context, string, *string) ([]alerts.Alert, error)
	updateFn   func(context.Context, string, string, alerts.Status, string, string) (alerts.Alert, error)
}

func (f *fakeAlerts) EvaluateAndCreateAlerts(_ context.Context, _ string, departmentID *string, current, previous map[string]float64, window alerts.TimeWindow) alerts.EvaluationResult {
	call := evaluateCall{departmentID: departmentID, current: current, previous: previous, window: window}
	f.calls = append(f.calls, call)
	if f.evaluateFn != nil {
		return f.evaluateFn(call)
	}
	return alerts.EvaluationResult{Errors: []string{}}
}

func (f *fakeAlerts) GetOpenAlerts(ctx context.Context, orgID string, departmentID *string) ([]alerts.Alert, error) {
	if f.openFn != nil {
		return f.openFn(ctx, orgID, departmentID)
	}
	return nil, nil
}

func (f *fakeAlerts) UpdateAlertStatus(ctx context.Context, orgID, alertID string, status alerts.Status, userID, note string) (alerts.Alert, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, orgID, alertID, status, userID, note)
	}
	return alerts.Alert{ID: alertID, OrgID: orgID, Status: status}, nil
}

type fakeWorkflows struct {
	views     map[string]workflow.EffectiveWorkflow
	overrides []workflow.OverrideInput
	notes     []workflow.NoteInput
	removed   []string
	removeErr error
}

func (f *fakeWorkflows) GetEffectiveWorkflow(_ context.Context, workflowID string) (*workflow.EffectiveWorkflow, error) {
	view, ok := f.views[workflowID]
	if !ok {
		return nil, nil
	}
	return &view, nil
}

func (f *fakeWorkflows) GetOrgEffectiveWorkflows(_ context.Context, orgID string) ([]workflow.EffectiveWorkflow, error) {
	var out []workflow.EffectiveWorkflow
	for _, view := range f.views {
		if view.OrgID == orgID {
			out = append(out, view)
		}
	}
	return out, nil
}

func (f *fakeWorkflows) ReplaceOverride(_ context.Context, workflowID string, input workflow.OverrideInput) (*workflow.Override, workflow.Override, error) {
	if input.Payload.IsEmpty() && input.AccuracyRating == nil && input.AccuracyFeedback == "" {
		return nil, workflow.Override{}, workflow.ErrInvalidOverride
	}
	f.overrides = append(f.overrides, input)
	return nil, workflow.Override{
		ID:         "wo-1",
		WorkflowID: workflowID,
		Payload:    input.Payload,
		Status:     workflow.OverrideActive,
		CreatedBy:  input.CreatedBy,
	}, nil
}

func (f *fakeWorkflows) AddOwnerNote(_ context.Context, workflowID string, input workflow.NoteInput) (workflow.OwnerNote, error) {
	f.notes = append(f.notes, input)
	return workflow.OwnerNote{
		ID:         "note-1",
		WorkflowID: workflowID,
		NoteType:   input.NoteType,
		Content:    input.Content,
		CreatedBy:  input.CreatedBy,
	}, nil
}

func (f *fakeWorkflows) DeactivateOwnerNote(_ context.Context, workflowID, noteID string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, workflowID+"/"+noteID)
	return nil
}

type fakeSearch struct {
	mu      sync.Mutex
	queries []search.Query
	indexed [][]alerts.Alert
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{
		Results: []search.Result{{Type: search.ResultWorkflow, ID: "wf-1", OrgID: q.OrgID, Title: "Invoice approval"}},
		Total:   1,
		Query:   q.Text,
	}
}

func (f *fakeSearch) IndexAlerts(items []alerts.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, items)
}

type fakeNotifier struct {
	recipients []string
	items      []alerts.Alert
	err        error
}

func (f *fakeNotifier) NotifyCriticalAlerts(_ context.Context, recipients []string, items []alerts.Alert) error {
	f.recipients = recipients
	f.items = items
	return f.err
}

type testDeps struct {
	store     *fakeStore
	health    *fakeHealth
	alerts    *fakeAlerts
	workflows *fakeWorkflows
	search    *fakeSearch
	notifier  *fakeNotifier
}

func newTestDeps() *testDeps {
	return &testDeps{
		store:     &fakeStore{},
		health:    &fakeHealth{},
		alerts:    &fakeAlerts{},
		workflows: &fakeWorkflows{views: map[string]workflow.EffectiveWorkflow{}},
		search:    &fakeSearch{},
		notifier:  &fakeNotifier{},
	}
}

func newTestService(d *testDeps) *Service {
	cfg := config.Config{JWTSecret: testSecret, NotifyOnCompute: true}
	return New(cfg, Deps{
		Store:     d.store,
		Health:    d.health,
		Alerts:    d.alerts,
		Workflows: d.workflows,
		Search:    d.search,
		Notifier:  d.notifier,
	})
}

func issueTestToken(t *testing.T, orgID, userID, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		OrgID:            orgID,
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func floatPtr(v float64) *float64 {
	return &v
}

func strPtr(v string) *string {
	return &v
}
