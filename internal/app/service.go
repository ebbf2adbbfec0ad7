package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"vizdots/api/internal/alerts"
	"vizdots/api/internal/auth"
	"vizdots/api/internal/config"
	"vizdots/api/internal/rbac"
	"vizdots/api/internal/search"
	"vizdots/api/internal/teamhealth"
	"vizdots/api/internal/workflow"
)

// Session is the authenticated caller of a request.
type Session struct {
	UserID string
	OrgID  string
	Name   string
	Role   rbac.Role
}

type dataStore interface {
	Ping(ctx context.Context) error
	LatestSnapshots(ctx context.Context, orgID string, windowType teamhealth.WindowType) ([]teamhealth.Snapshot, error)
	PreviousSnapshot(ctx context.Context, orgID string, departmentID *string, windowType teamhealth.WindowType, before time.Time) (*teamhealth.Snapshot, error)
	ListOrgAdminEmails(ctx context.Context, orgID string) ([]string, error)
}

type healthEngine interface {
	ComputeHealthMetrics(ctx context.Context, orgID string, windowType teamhealth.WindowType, referenceDate time.Time) ([]teamhealth.Snapshot, error)
}

type alertEngine interface {
	EvaluateAndCreateAlerts(ctx context.Context, orgID string, departmentID *string, current, previous map[string]float64, window alerts.TimeWindow) alerts.EvaluationResult
	GetOpenAlerts(ctx context.Context, orgID string, departmentID *string) ([]alerts.Alert, error)
	UpdateAlertStatus(ctx context.Context, orgID, alertID string, status alerts.Status, userID, note string) (alerts.Alert, error)
}

type workflowResolver interface {
	GetEffectiveWorkflow(ctx context.Context, workflowID string) (*workflow.EffectiveWorkflow, error)
	GetOrgEffectiveWorkflows(ctx context.Context, orgID string) ([]workflow.EffectiveWorkflow, error)
	ReplaceOverride(ctx context.Context, workflowID string, input workflow.OverrideInput) (*workflow.Override, workflow.Override, error)
	AddOwnerNote(ctx context.Context, workflowID string, input workflow.NoteInput) (workflow.OwnerNote, error)
	DeactivateOwnerNote(ctx context.Context, workflowID, noteID string) error
}

type searchService interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexAlerts(items []alerts.Alert)
}

// Deps are the collaborators a Service is built from. Search and Notifier
// are optional.
type Deps struct {
	Store     dataStore
	Health    healthEngine
	Alerts    alertEngine
	Workflows workflowResolver
	Search    searchService
	Notifier  alerts.Notifier
	Logger    *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	health    healthEngine
	alerts    alertEngine
	workflows workflowResolver
	search    searchService
	notifier  alerts.Notifier
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		health:    deps.Health,
		alerts:    deps.Alerts,
		workflows: deps.Workflows,
		search:    deps.Search,
		notifier:  deps.Notifier,
		logger:    logger.Named("app"),
		now:       time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID: claims.UserID(),
		OrgID:  claims.OrgID,
		Name:   claims.Name,
		Role:   rbac.Normalize(claims.Role),
	}, nil
}

// alertMetrics returns the snapshot metrics thresholds are evaluated against.
// Friction is computed org-wide, so department snapshots only repeat the org
// value and are not evaluated for it.
func alertMetrics(snap teamhealth.Snapshot) map[string]float64 {
	metrics := snap.Metrics()
	if snap.DepartmentID != nil {
		delete(metrics, teamhealth.MetricFrictionIndex)
	}
	return metrics
}

// CycleResult reports one compute-and-evaluate pass over an org.
type CycleResult struct {
	WindowType    teamhealth.WindowType `json:"windowType"`
	Snapshots     []teamhealth.Snapshot `json:"snapshots"`
	AlertsCreated int                   `json:"alertsCreated"`
	Errors        []string              `json:"errors"`
	Notified      int                   `json:"notified"`
}

// RunHealthCycle computes the org's snapshots for the window containing
// referenceDate, evaluates every snapshot against the alert thresholds and
// emails admins about new critical alerts. Alert insert failures are
// collected in the result; notification failures are only logged.
func (s *Service) RunHealthCycle(ctx context.Context, orgID string, windowType teamhealth.WindowType, referenceDate time.Time) (CycleResult, error) {
	result := CycleResult{WindowType: windowType, Snapshots: []teamhealth.Snapshot{}, Errors: []string{}}

	snapshots, err := s.health.ComputeHealthMetrics(ctx, orgID, windowType, referenceDate)
	if err != nil {
		return result, fmt.Errorf("compute health metrics: %w", err)
	}
	result.Snapshots = snapshots

	var created []alerts.Alert
	for _, snap := range snapshots {
		var previous map[string]float64
		prev, err := s.store.PreviousSnapshot(ctx, orgID, snap.DepartmentID, windowType, snap.WindowStart)
		if err != nil {
			s.logger.Warn("previous snapshot lookup failed, evaluating without trend",
				zap.String("org_id", orgID),
				zap.Stringp("department_id", snap.DepartmentID),
				zap.Error(err),
			)
		} else if prev != nil {
			previous = alertMetrics(*prev)
		}

		evaluated := s.alerts.EvaluateAndCreateAlerts(ctx, orgID, snap.DepartmentID, alertMetrics(snap), previous, alerts.TimeWindow{
			WindowType: string(windowType),
			Start:      snap.WindowStart,
			End:        snap.WindowEnd,
		})
		result.AlertsCreated += evaluated.AlertsCreated
		result.Errors = append(result.Errors, evaluated.Errors...)
		created = append(created, evaluated.Created...)
	}

	if s.search != nil && len(created) > 0 {
		s.search.IndexAlerts(created)
	}
	result.Notified = s.notifyCritical(ctx, orgID, created)

	s.logger.Info("health cycle completed",
		zap.String("org_id", orgID),
		zap.String("window_type", string(windowType)),
		zap.Int("snapshots", len(snapshots)),
		zap.Int("alerts_created", result.AlertsCreated),
		zap.Int("alert_errors", len(result.Errors)),
	)
	return result, nil
}

func (s *Service) notifyCritical(ctx context.Context, orgID string, created []alerts.Alert) int {
	if !s.cfg.NotifyOnCompute || s.notifier == nil {
		return 0
	}
	critical := alerts.Critical(created)
	if len(critical) == 0 {
		return 0
	}
	recipients, err := s.store.ListOrgAdminEmails(ctx, orgID)
	if err != nil {
		s.logger.Warn("admin email lookup failed", zap.String("org_id", orgID), zap.Error(err))
		return 0
	}
	if len(recipients) == 0 {
		return 0
	}
	if err := s.notifier.NotifyCriticalAlerts(ctx, recipients, critical); err != nil {
		s.logger.Warn("critical alert notification failed", zap.String("org_id", orgID), zap.Error(err))
		return 0
	}
	return len(critical)
}

func (s *Service) ComputeHealth(ctx context.Context, orgID, window, date string) (CycleResult, error) {
	windowType, err := parseWindow(window)
	if err != nil {
		return CycleResult{}, err
	}
	reference := s.now().UTC()
	if date = strings.TrimSpace(date); date != "" {
		reference, err = time.Parse(time.DateOnly, date)
		if err != nil {
			return CycleResult{}, invalidInput("INVALID_DATE", "date must be formatted as YYYY-MM-DD")
		}
	}
	return s.RunHealthCycle(ctx, orgID, windowType, reference)
}

func (s *Service) LatestSnapshots(ctx context.Context, orgID, window string) ([]teamhealth.Snapshot, error) {
	windowType, err := parseWindow(window)
	if err != nil {
		return nil, err
	}
	snapshots, err := s.store.LatestSnapshots(ctx, orgID, windowType)
	if err != nil {
		return nil, err
	}
	if snapshots == nil {
		snapshots = []teamhealth.Snapshot{}
	}
	return snapshots, nil
}

func parseWindow(window string) (teamhealth.WindowType, error) {
	if strings.TrimSpace(window) == "" {
		return teamhealth.WindowWeek, nil
	}
	windowType, err := teamhealth.ParseWindowType(window)
	if err != nil {
		return "", invalidInput("INVALID_WINDOW", "window must be one of week, month, quarter")
	}
	return windowType, nil
}

func (s *Service) OpenAlerts(ctx context.Context, orgID, departmentID string) ([]alerts.Alert, error) {
	var dept *string
	if departmentID = strings.TrimSpace(departmentID); departmentID != "" {
		dept = &departmentID
	}
	items, err := s.alerts.GetOpenAlerts(ctx, orgID, dept)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []alerts.Alert{}
	}
	return items, nil
}

func (s *Service) UpdateAlertStatus(ctx context.Context, session Session, alertID, status, note string) (alerts.Alert, error) {
	parsed, err := alerts.ParseStatus(status)
	if err != nil {
		return alerts.Alert{}, err
	}
	updated, err := s.alerts.UpdateAlertStatus(ctx, session.OrgID, alertID, parsed, session.UserID, note)
	if err != nil {
		return alerts.Alert{}, err
	}
	if s.search != nil {
		s.search.IndexAlerts([]alerts.Alert{updated})
	}
	return updated, nil
}

func (s *Service) Workflows(ctx context.Context, orgID string) ([]workflow.EffectiveWorkflow, error) {
	views, err := s.workflows.GetOrgEffectiveWorkflows(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if views == nil {
		views = []workflow.EffectiveWorkflow{}
	}
	return views, nil
}

// Workflow resolves a workflow and hides it when it belongs to another org.
func (s *Service) Workflow(ctx context.Context, orgID, workflowID string) (workflow.EffectiveWorkflow, error) {
	view, err := s.workflows.GetEffectiveWorkflow(ctx, workflowID)
	if err != nil {
		return workflow.EffectiveWorkflow{}, err
	}
	if view == nil || view.OrgID != orgID {
		return workflow.EffectiveWorkflow{}, workflow.ErrWorkflowNotFound
	}
	return *view, nil
}

func (s *Service) WorkflowContext(ctx context.Context, orgID, workflowID string) (string, error) {
	view, err := s.Workflow(ctx, orgID, workflowID)
	if err != nil {
		return "", err
	}
	return workflow.BuildWorkflowContextForAI(view), nil
}

func (s *Service) ReplaceOverride(ctx context.Context, session Session, workflowID string, input workflow.OverrideInput) (*workflow.Override, workflow.Override, error) {
	if _, err := s.Workflow(ctx, session.OrgID, workflowID); err != nil {
		return nil, workflow.Override{}, err
	}
	input.CreatedBy = session.UserID
	return s.workflows.ReplaceOverride(ctx, workflowID, input)
}

func (s *Service) AddOwnerNote(ctx context.Context, session Session, workflowID string, input workflow.NoteInput) (workflow.OwnerNote, error) {
	if _, err := s.Workflow(ctx, session.OrgID, workflowID); err != nil {
		return workflow.OwnerNote{}, err
	}
	input.CreatedBy = session.UserID
	return s.workflows.AddOwnerNote(ctx, workflowID, input)
}

func (s *Service) DeactivateOwnerNote(ctx context.Context, session Session, workflowID, noteID string) error {
	if _, err := s.Workflow(ctx, session.OrgID, workflowID); err != nil {
		return err
	}
	return s.workflows.DeactivateOwnerNote(ctx, workflowID, noteID)
}

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

func (s *Service) Search(ctx context.Context, orgID, text, resultType string, limit, offset int) (search.Response, error) {
	filter, ok := search.ParseResultType(resultType)
	if !ok {
		return search.Response{}, invalidInput("INVALID_TYPE", "type must be workflow or alert")
	}
	text = strings.TrimSpace(text)
	if s.search == nil || text == "" {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.search.Search(ctx, search.Query{
		Text:       text,
		OrgID:      orgID,
		FilterType: filter,
		Limit:      limit,
		Offset:     offset,
	}), nil
}
