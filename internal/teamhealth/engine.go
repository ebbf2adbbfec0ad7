package teamhealth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vizdots/api/internal/answers"
	"vizdots/api/internal/observability"
)

// Engine computes and persists health snapshots. It holds no state between
// calls beyond its collaborators.
type Engine struct {
	repo    Repository
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

type Option func(*Engine)

// WithClock overrides the clock used to stamp Inputs.ComputedAt.
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
	e := &Engine{repo: repo, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type pulseRecord struct {
	userID string
	answer answers.PulseAnswer
}

type focusRecord struct {
	userID string
	answer answers.FocusAnswer
}

// orgData is everything read for one org and window. Departments are computed
// from it in memory.
type orgData struct {
	members      []Member
	sessions     []Session
	pulse        []pulseRecord
	focus        []focusRecord
	skippedUsers []string
	variants     []WorkflowVariant
}

// ComputeHealthMetrics computes one snapshot for the whole org and one per
// department, upserting each keyed by (org, department, window bounds).
func (e *Engine) ComputeHealthMetrics(ctx context.Context, orgID string, windowType WindowType, referenceDate time.Time) ([]Snapshot, error) {
	window, err := ResolveWindow(windowType, referenceDate)
	if err != nil {
		return nil, err
	}

	departments, err := e.repo.ListDepartments(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	data, err := e.load(ctx, orgID, window)
	if err != nil {
		return nil, err
	}

	computedAt := e.now().UTC()
	scopes := make([]*string, 0, len(departments)+1)
	scopes = append(scopes, nil)
	for _, dept := range departments {
		id := dept.ID
		scopes = append(scopes, &id)
	}

	snapshots := make([]Snapshot, 0, len(scopes))
	for _, departmentID := range scopes {
		snapshot := buildSnapshot(orgID, departmentID, window, data, computedAt)
		stored, err := e.repo.UpsertSnapshot(ctx, snapshot)
		if err != nil {
			return snapshots, fmt.Errorf("upsert snapshot %s: %w", snapshot.Key(), err)
		}
		e.metrics.SnapshotComputed(string(windowType), string(stored.RiskLevel))
		e.logger.Debug("health snapshot computed",
			zap.String("org_id", orgID),
			zap.Stringp("department_id", departmentID),
			zap.String("window_type", string(windowType)),
			zap.String("risk_level", string(stored.RiskLevel)),
		)
		snapshots = append(snapshots, stored)
	}
	return snapshots, nil
}

func (e *Engine) load(ctx context.Context, orgID string, window Window) (orgData, error) {
	var data orgData
	var err error

	if data.members, err = e.repo.ListActiveMembers(ctx, orgID); err != nil {
		return data, fmt.Errorf("list members: %w", err)
	}
	if data.sessions, err = e.repo.ListCompletedSessions(ctx, orgID, window.Start, window.End); err != nil {
		return data, fmt.Errorf("list sessions: %w", err)
	}
	if data.variants, err = e.repo.ListWorkflowVariants(ctx, orgID); err != nil {
		return data, fmt.Errorf("list workflow variants: %w", err)
	}

	pulseRows, err := e.repo.ListAnswers(ctx, orgID, answers.AgentPulse, window.Start, window.End)
	if err != nil {
		return data, fmt.Errorf("list pulse answers: %w", err)
	}
	for _, row := range pulseRows {
		parsed, err := answers.ParsePulse(row.ExtractedData)
		if err != nil {
			data.skippedUsers = append(data.skippedUsers, row.UserID)
			e.logAnswerSkip(orgID, row, err)
			continue
		}
		data.pulse = append(data.pulse, pulseRecord{userID: row.UserID, answer: parsed})
	}

	focusRows, err := e.repo.ListAnswers(ctx, orgID, answers.AgentFocusTracker, window.Start, window.End)
	if err != nil {
		return data, fmt.Errorf("list focus answers: %w", err)
	}
	for _, row := range focusRows {
		parsed, err := answers.ParseFocus(row.ExtractedData)
		if err != nil {
			data.skippedUsers = append(data.skippedUsers, row.UserID)
			e.logAnswerSkip(orgID, row, err)
			continue
		}
		data.focus = append(data.focus, focusRecord{userID: row.UserID, answer: parsed})
	}
	return data, nil
}

func (e *Engine) logAnswerSkip(orgID string, row Answer, err error) {
	if !errors.Is(err, answers.ErrInvalidAnswer) {
		return
	}
	e.logger.Warn("skipping unparseable answer",
		zap.String("org_id", orgID),
		zap.String("session_id", row.SessionID),
		zap.String("agent_code", string(row.AgentCode)),
		zap.Error(err),
	)
}

// buildSnapshot is pure: identical inputs give identical snapshots.
func buildSnapshot(orgID string, departmentID *string, window Window, data orgData, computedAt time.Time) Snapshot {
	members := data.members
	var users map[string]struct{}
	if departmentID != nil {
		members = make([]Member, 0)
		users = make(map[string]struct{})
		for _, m := range data.members {
			if m.DepartmentID != nil && *m.DepartmentID == *departmentID {
				members = append(members, m)
				users[m.UserID] = struct{}{}
			}
		}
	}
	inScope := func(userID string) bool {
		if users == nil {
			return true
		}
		_, ok := users[userID]
		return ok
	}

	memberUsers := make(map[string]struct{}, len(members))
	for _, m := range members {
		memberUsers[m.UserID] = struct{}{}
	}
	activeUsers := make(map[string]struct{})
	completed := 0
	for _, s := range data.sessions {
		if !inScope(s.UserID) {
			continue
		}
		completed++
		if _, ok := memberUsers[s.UserID]; ok {
			activeUsers[s.UserID] = struct{}{}
		}
	}

	var sentiment, workload, focus []float64
	var burnout []answers.BurnoutLevel
	pulseCount, focusCount, skipped := 0, 0, 0
	for _, p := range data.pulse {
		if !inScope(p.userID) {
			continue
		}
		pulseCount++
		if p.answer.Rating != nil {
			sentiment = append(sentiment, *p.answer.Rating)
		}
		if p.answer.WorkloadRating != nil {
			workload = append(workload, *p.answer.WorkloadRating)
		}
		if p.answer.BurnoutRisk != nil {
			burnout = append(burnout, *p.answer.BurnoutRisk)
		}
	}
	for _, f := range data.focus {
		if !inScope(f.userID) {
			continue
		}
		focusCount++
		if f.answer.FocusRating != nil {
			focus = append(focus, *f.answer.FocusRating)
		}
	}
	for _, userID := range data.skippedUsers {
		if inScope(userID) {
			skipped++
		}
	}

	// Variants are counted org-wide for every scope.
	canonical, allowed, friction := 0, 0, 0
	for _, v := range data.variants {
		switch {
		case v.IsCanonical:
			canonical++
		case v.IsAllowed == nil:
		case *v.IsAllowed:
			allowed++
		default:
			friction++
		}
	}
	frictionIndex := FrictionIndex(allowed, friction)

	snapshot := Snapshot{
		OrgID:             orgID,
		DepartmentID:      departmentID,
		WindowStart:       window.Start,
		WindowEnd:         window.End,
		ParticipationRate: ParticipationRate(len(memberUsers), len(activeUsers)),
		SentimentScore:    RescaleRatings(sentiment),
		WorkloadScore:     RescaleRatings(workload),
		FocusScore:        RescaleRatings(focus),
		BurnoutRiskScore:  BurnoutRiskScore(burnout),
		FrictionIndex:     &frictionIndex,
		TotalMembers:      len(memberUsers),
		ActiveMembers:     len(activeUsers),
		CompletedSessions: completed,
		CanonicalVariants: canonical,
		AllowedVariants:   allowed,
		FrictionVariants:  friction,
		Inputs: Inputs{
			WindowType:     window.Type,
			ComputedAt:     computedAt,
			PulseAnswers:   pulseCount,
			FocusAnswers:   focusCount,
			SkippedAnswers: skipped,
		},
	}
	snapshot.RiskLevel = DeriveRiskLevel(snapshot.ParticipationRate, snapshot.SentimentScore, snapshot.BurnoutRiskScore, snapshot.FrictionIndex)
	return snapshot
}
