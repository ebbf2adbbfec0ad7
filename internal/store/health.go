package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vizdots/api/internal/answers"
	"vizdots/api/internal/teamhealth"
	"vizdots/api/internal/util"
)

func (s *PostgresStore) ListDepartments(ctx context.Context, orgID string) ([]teamhealth.Department, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM departments WHERE org_id = $1 ORDER BY name, id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	departments := make([]teamhealth.Department, 0)
	for rows.Next() {
		var d teamhealth.Department
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		departments = append(departments, d)
	}
	return departments, rows.Err()
}

func (s *PostgresStore) ListActiveMembers(ctx context.Context, orgID string) ([]teamhealth.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, department_id, status
		FROM members
		WHERE org_id = $1 AND status = 'active'
		ORDER BY id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]teamhealth.Member, 0)
	for rows.Next() {
		var m teamhealth.Member
		var dept sql.NullString
		if err := rows.Scan(&m.ID, &m.UserID, &dept, &m.Status); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.DepartmentID = stringPtr(dept)
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListCompletedSessions returns sessions completed in [start, end).
func (s *PostgresStore) ListCompletedSessions(ctx context.Context, orgID string, start, end time.Time) ([]teamhealth.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, agent_code, completed_at
		FROM sessions
		WHERE org_id = $1 AND status = 'completed'
			AND completed_at >= $2 AND completed_at < $3
		ORDER BY completed_at, id
	`, orgID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]teamhealth.Session, 0)
	for rows.Next() {
		var sess teamhealth.Session
		var agent string
		if err := rows.Scan(&sess.ID, &sess.UserID, &agent, &sess.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.AgentCode = answers.AgentCode(agent)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListAnswers returns answers of the given agent whose session completed in
// [start, end).
func (s *PostgresStore) ListAnswers(ctx context.Context, orgID string, agent answers.AgentCode, start, end time.Time) ([]teamhealth.Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.session_id, a.user_id, a.agent_code, a.extracted_data
		FROM answers a
		JOIN sessions s ON s.id = a.session_id
		WHERE a.org_id = $1 AND a.agent_code = $2
			AND s.status = 'completed'
			AND s.completed_at >= $3 AND s.completed_at < $4
		ORDER BY s.completed_at, a.id
	`, orgID, string(agent), start, end)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	out := make([]teamhealth.Answer, 0)
	for rows.Next() {
		var a teamhealth.Answer
		var code string
		var data []byte
		if err := rows.Scan(&a.SessionID, &a.UserID, &code, &data); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		a.AgentCode = answers.AgentCode(code)
		a.ExtractedData = json.RawMessage(data)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListWorkflowVariants(ctx context.Context, orgID string) ([]teamhealth.WorkflowVariant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, is_canonical, is_allowed
		FROM workflow_variants
		WHERE org_id = $1
		ORDER BY id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list workflow variants: %w", err)
	}
	defer rows.Close()

	variants := make([]teamhealth.WorkflowVariant, 0)
	for rows.Next() {
		var v teamhealth.WorkflowVariant
		var allowed sql.NullBool
		if err := rows.Scan(&v.ID, &v.WorkflowID, &v.IsCanonical, &allowed); err != nil {
			return nil, fmt.Errorf("scan workflow variant: %w", err)
		}
		if allowed.Valid {
			b := allowed.Bool
			v.IsAllowed = &b
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

const snapshotColumns = `id, org_id, department_id, window_start, window_end,
	participation_rate, sentiment_score, workload_score, focus_score, burnout_risk_score, friction_index,
	risk_level, total_members, active_members, completed_sessions, total_sessions,
	canonical_variants, allowed_variants, friction_variants, inputs`

// UpsertSnapshot overwrites the row for (org, department, window bounds),
// keeping its id.
func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap teamhealth.Snapshot) (teamhealth.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = util.NewID("hs")
	}
	inputs, err := json.Marshal(snap.Inputs)
	if err != nil {
		return teamhealth.Snapshot{}, fmt.Errorf("marshal snapshot inputs: %w", err)
	}
	computedAt := snap.Inputs.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO health_metric_snapshots (
			id, org_id, department_id, window_type, window_start, window_end,
			participation_rate, sentiment_score, workload_score, focus_score, burnout_risk_score, friction_index,
			risk_level, total_members, active_members, completed_sessions, total_sessions,
			canonical_variants, allowed_variants, friction_variants, inputs, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (org_id, (COALESCE(department_id, '')), window_start, window_end) DO UPDATE SET
			window_type = EXCLUDED.window_type,
			participation_rate = EXCLUDED.participation_rate,
			sentiment_score = EXCLUDED.sentiment_score,
			workload_score = EXCLUDED.workload_score,
			focus_score = EXCLUDED.focus_score,
			burnout_risk_score = EXCLUDED.burnout_risk_score,
			friction_index = EXCLUDED.friction_index,
			risk_level = EXCLUDED.risk_level,
			total_members = EXCLUDED.total_members,
			active_members = EXCLUDED.active_members,
			completed_sessions = EXCLUDED.completed_sessions,
			total_sessions = EXCLUDED.total_sessions,
			canonical_variants = EXCLUDED.canonical_variants,
			allowed_variants = EXCLUDED.allowed_variants,
			friction_variants = EXCLUDED.friction_variants,
			inputs = EXCLUDED.inputs,
			computed_at = EXCLUDED.computed_at
		RETURNING `+snapshotColumns,
		snap.ID, snap.OrgID, nullableString(snap.DepartmentID), string(snap.Inputs.WindowType), snap.WindowStart, snap.WindowEnd,
		nullableFloat(snap.ParticipationRate), nullableFloat(snap.SentimentScore), nullableFloat(snap.WorkloadScore),
		nullableFloat(snap.FocusScore), nullableFloat(snap.BurnoutRiskScore), nullableFloat(snap.FrictionIndex),
		string(snap.RiskLevel), snap.TotalMembers, snap.ActiveMembers, snap.CompletedSessions, snap.TotalSessions,
		snap.CanonicalVariants, snap.AllowedVariants, snap.FrictionVariants, inputs, computedAt,
	)
	stored, err := scanSnapshot(row)
	if err != nil {
		return teamhealth.Snapshot{}, fmt.Errorf("upsert snapshot: %w", err)
	}
	return stored, nil
}

// LatestSnapshots returns, for each scope of the org, the snapshot with the
// most recent window of the given type. The org-wide row comes first.
func (s *PostgresStore) LatestSnapshots(ctx context.Context, orgID string, windowType teamhealth.WindowType) ([]teamhealth.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM (
			SELECT DISTINCT ON (COALESCE(department_id, '')) *
			FROM health_metric_snapshots
			WHERE org_id = $1 AND window_type = $2
			ORDER BY COALESCE(department_id, ''), window_end DESC
		) latest
		ORDER BY department_id NULLS FIRST
	`, orgID, string(windowType))
	if err != nil {
		return nil, fmt.Errorf("list latest snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]teamhealth.Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// PreviousSnapshot returns the most recent snapshot of the same scope and
// window type that ended at or before before, or nil.
func (s *PostgresStore) PreviousSnapshot(ctx context.Context, orgID string, departmentID *string, windowType teamhealth.WindowType, before time.Time) (*teamhealth.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM health_metric_snapshots
		WHERE org_id = $1
			AND COALESCE(department_id, '') = COALESCE($2, '')
			AND window_type = $3
			AND window_end <= $4
		ORDER BY window_end DESC
		LIMIT 1
	`, orgID, nullableString(departmentID), string(windowType), before)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("previous snapshot: %w", err)
	}
	return &snap, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (teamhealth.Snapshot, error) {
	var snap teamhealth.Snapshot
	var dept sql.NullString
	var participation, sentiment, workload, focus, burnout, friction sql.NullFloat64
	var risk string
	var inputs []byte
	if err := row.Scan(
		&snap.ID, &snap.OrgID, &dept, &snap.WindowStart, &snap.WindowEnd,
		&participation, &sentiment, &workload, &focus, &burnout, &friction,
		&risk, &snap.TotalMembers, &snap.ActiveMembers, &snap.CompletedSessions, &snap.TotalSessions,
		&snap.CanonicalVariants, &snap.AllowedVariants, &snap.FrictionVariants, &inputs,
	); err != nil {
		return teamhealth.Snapshot{}, err
	}
	snap.DepartmentID = stringPtr(dept)
	snap.ParticipationRate = floatPtr(participation)
	snap.SentimentScore = floatPtr(sentiment)
	snap.WorkloadScore = floatPtr(workload)
	snap.FocusScore = floatPtr(focus)
	snap.BurnoutRiskScore = floatPtr(burnout)
	snap.FrictionIndex = floatPtr(friction)
	snap.RiskLevel = teamhealth.RiskLevel(risk)
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &snap.Inputs); err != nil {
			return teamhealth.Snapshot{}, fmt.Errorf("decode snapshot inputs: %w", err)
		}
	}
	snap.WindowStart = snap.WindowStart.UTC()
	snap.WindowEnd = snap.WindowEnd.UTC()
	return snap, nil
}
