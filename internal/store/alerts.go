package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vizdots/api/internal/alerts"
	"vizdots/api/internal/util"
)

const alertColumns = `id, org_id, department_id, alert_type, severity, status, summary,
	details, coaching_suggestions, alert_date, created_at,
	acknowledged_at, acknowledged_by, acknowledged_note, resolved_at, resolved_by, resolved_note`

// InsertAlert stores a new alert. The daily uniqueness index rejects a second
// alert of the same type for the same scope and day; that surfaces as
// alerts.ErrDuplicateAlert.
func (s *PostgresStore) InsertAlert(ctx context.Context, a alerts.Alert) (alerts.Alert, error) {
	if a.ID == "" {
		a.ID = util.NewID("pa")
	}
	details, err := json.Marshal(a.Details)
	if err != nil {
		return alerts.Alert{}, fmt.Errorf("marshal alert details: %w", err)
	}
	coaching := a.CoachingSuggestions
	if coaching == nil {
		coaching = []alerts.CoachingSuggestion{}
	}
	suggestions, err := json.Marshal(coaching)
	if err != nil {
		return alerts.Alert{}, fmt.Errorf("marshal coaching suggestions: %w", err)
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO pattern_alerts (
			id, org_id, department_id, alert_type, severity, status, summary,
			details, coaching_suggestions, alert_date, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+alertColumns,
		a.ID, a.OrgID, nullableString(a.DepartmentID), string(a.AlertType), string(a.Severity), string(a.Status),
		a.Summary, details, suggestions, a.AlertDate.Format("2006-01-02"), createdAt,
	)
	stored, err := scanAlert(row)
	if err != nil {
		if IsUniqueViolation(err) {
			return alerts.Alert{}, fmt.Errorf("insert alert %s: %w", a.AlertType, alerts.ErrDuplicateAlert)
		}
		return alerts.Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	return stored, nil
}

// ListOpenAlerts returns open alerts of the org. A nil departmentID returns
// every scope; otherwise only that department's alerts.
func (s *PostgresStore) ListOpenAlerts(ctx context.Context, orgID string, departmentID *string) ([]alerts.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM pattern_alerts WHERE org_id = $1 AND status = 'open'`
	args := []any{orgID}
	if departmentID != nil {
		query += ` AND department_id = $2`
		args = append(args, *departmentID)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list open alerts: %w", err)
	}
	defer rows.Close()

	items := make([]alerts.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetAlert(ctx context.Context, orgID, alertID string) (alerts.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM pattern_alerts WHERE org_id = $1 AND id = $2`, orgID, alertID)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return alerts.Alert{}, alerts.ErrAlertNotFound
	}
	if err != nil {
		return alerts.Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

// UpdateAlertStatus applies the transition only if the current status is in
// update.From, so concurrent transitions cannot both succeed.
func (s *PostgresStore) UpdateAlertStatus(ctx context.Context, update alerts.StatusUpdate) (alerts.Alert, error) {
	from := make([]string, 0, len(update.From))
	for _, st := range update.From {
		from = append(from, string(st))
	}

	var query string
	switch update.Status {
	case alerts.StatusAcknowledged:
		query = `UPDATE pattern_alerts
			SET status = $3, acknowledged_at = $4, acknowledged_by = $5, acknowledged_note = NULLIF($6, '')
			WHERE org_id = $1 AND id = $2 AND status = ANY($7)
			RETURNING ` + alertColumns
	case alerts.StatusResolved, alerts.StatusDismissed:
		query = `UPDATE pattern_alerts
			SET status = $3, resolved_at = $4, resolved_by = $5, resolved_note = NULLIF($6, '')
			WHERE org_id = $1 AND id = $2 AND status = ANY($7)
			RETURNING ` + alertColumns
	default:
		return alerts.Alert{}, fmt.Errorf("%w: %q", alerts.ErrInvalidStatus, update.Status)
	}

	row := s.db.QueryRowContext(ctx, query,
		update.OrgID, update.AlertID, string(update.Status), update.At, update.UserID, update.Note, from)
	updated, err := scanAlert(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return alerts.Alert{}, fmt.Errorf("update alert status: %w", err)
	}

	current, err := s.GetAlert(ctx, update.OrgID, update.AlertID)
	if err != nil {
		return alerts.Alert{}, err
	}
	return alerts.Alert{}, fmt.Errorf("%w: %s -> %s", alerts.ErrInvalidTransition, current.Status, update.Status)
}

func scanAlert(row rowScanner) (alerts.Alert, error) {
	var a alerts.Alert
	var dept, ackBy, ackNote, resBy, resNote sql.NullString
	var ackAt, resAt sql.NullTime
	var alertType, severity, status string
	var details, suggestions []byte
	if err := row.Scan(
		&a.ID, &a.OrgID, &dept, &alertType, &severity, &status, &a.Summary,
		&details, &suggestions, &a.AlertDate, &a.CreatedAt,
		&ackAt, &ackBy, &ackNote, &resAt, &resBy, &resNote,
	); err != nil {
		return alerts.Alert{}, err
	}
	a.DepartmentID = stringPtr(dept)
	a.AlertType = alerts.AlertType(alertType)
	a.Severity = alerts.Severity(severity)
	a.Status = alerts.Status(status)
	if err := json.Unmarshal(details, &a.Details); err != nil {
		return alerts.Alert{}, fmt.Errorf("decode alert details: %w", err)
	}
	if err := json.Unmarshal(suggestions, &a.CoachingSuggestions); err != nil {
		return alerts.Alert{}, fmt.Errorf("decode coaching suggestions: %w", err)
	}
	if ackAt.Valid {
		t := ackAt.Time
		a.AcknowledgedAt = &t
	}
	a.AcknowledgedBy = ackBy.String
	a.AcknowledgedNote = ackNote.String
	if resAt.Valid {
		t := resAt.Time
		a.ResolvedAt = &t
	}
	a.ResolvedBy = resBy.String
	a.ResolvedNote = resNote.String
	return a, nil
}
