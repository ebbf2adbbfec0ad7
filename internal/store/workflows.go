package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vizdots/api/internal/workflow"
)

func (s *PostgresStore) GetWorkflow(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, description, status, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`, workflowID).Scan(&wf.ID, &wf.OrgID, &wf.Name, &description, &wf.Status, &wf.CreatedAt, &wf.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	wf.Description = description.String
	return &wf, nil
}

func (s *PostgresStore) GetLatestVersion(ctx context.Context, workflowID string) (*workflow.Version, error) {
	var v workflow.Version
	var structure []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, version_number, structure, created_at
		FROM workflow_versions
		WHERE workflow_id = $1
		ORDER BY version_number DESC
		LIMIT 1
	`, workflowID).Scan(&v.ID, &v.WorkflowID, &v.VersionNumber, &structure, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest version: %w", err)
	}
	if err := json.Unmarshal(structure, &v.Structure); err != nil {
		return nil, fmt.Errorf("decode version %s structure: %w", v.ID, err)
	}
	return &v, nil
}

// GetRevision concatenates the workflow's updated_at, latest version id,
// active override id and a digest of its active note ids. Version rows written
// by ingestion change it without any cooperation from the writer.
func (s *PostgresStore) GetRevision(ctx context.Context, workflowID string) (string, error) {
	var revision string
	err := s.db.QueryRowContext(ctx, `
		SELECT concat_ws('|',
			w.updated_at::text,
			COALESCE((SELECT v.id FROM workflow_versions v
				WHERE v.workflow_id = w.id ORDER BY v.version_number DESC LIMIT 1), ''),
			COALESCE((SELECT o.id FROM workflow_overrides o
				WHERE o.workflow_id = w.id AND o.status = 'active' ORDER BY o.created_at DESC LIMIT 1), ''),
			COALESCE((SELECT md5(string_agg(n.id, ',' ORDER BY n.id)) FROM owner_notes n
				WHERE n.workflow_id = w.id AND n.is_active), ''))
		FROM workflows w
		WHERE w.id = $1
	`, workflowID).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get workflow revision: %w", err)
	}
	return revision, nil
}

const overrideColumns = `id, workflow_id, base_version_id, payload, accuracy_rating, accuracy_feedback,
	status, created_by, created_at, archived_at`

func (s *PostgresStore) GetActiveOverride(ctx context.Context, workflowID string) (*workflow.Override, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+overrideColumns+`
		FROM workflow_overrides
		WHERE workflow_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`, workflowID)
	o, err := scanOverride(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active override: %w", err)
	}
	return &o, nil
}

// ListActiveOwnerNotes returns active notes oldest first.
func (s *PostgresStore) ListActiveOwnerNotes(ctx context.Context, workflowID string) ([]workflow.OwnerNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, note_type, content, visibility, is_active, created_by, created_at
		FROM owner_notes
		WHERE workflow_id = $1 AND is_active
		ORDER BY created_at, id
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list owner notes: %w", err)
	}
	defer rows.Close()

	notes := make([]workflow.OwnerNote, 0)
	for rows.Next() {
		var n workflow.OwnerNote
		var noteType, visibility string
		if err := rows.Scan(&n.ID, &n.WorkflowID, &noteType, &n.Content, &visibility, &n.IsActive, &n.CreatedBy, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan owner note: %w", err)
		}
		n.NoteType = workflow.NoteType(noteType)
		n.Visibility = workflow.NoteVisibility(visibility)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *PostgresStore) ListActiveWorkflowIDs(ctx context.Context, orgID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM workflows WHERE org_id = $1 AND status = 'active' ORDER BY name, id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan workflow id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceOverride archives the active override and inserts created in one
// transaction. The row lock on the workflow serializes concurrent
// replacements; the partial unique index is the backstop.
func (s *PostgresStore) ReplaceOverride(ctx context.Context, created workflow.Override, archivedAt time.Time) (*workflow.Override, workflow.Override, error) {
	payload, err := json.Marshal(created.Payload)
	if err != nil {
		return nil, workflow.Override{}, fmt.Errorf("marshal override payload: %w", err)
	}

	var archived *workflow.Override
	var stored workflow.Override
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM workflows WHERE id = $1 FOR UPDATE`, created.WorkflowID).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return workflow.ErrWorkflowNotFound
		}
		if err != nil {
			return fmt.Errorf("lock workflow: %w", err)
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE workflow_overrides
			SET status = 'archived', archived_at = $2
			WHERE workflow_id = $1 AND status = 'active'
			RETURNING `+overrideColumns, created.WorkflowID, archivedAt)
		prev, err := scanOverride(row)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("archive override: %w", err)
		default:
			archived = &prev
		}

		var baseVersion any
		if created.BaseVersionID != "" {
			baseVersion = created.BaseVersionID
		}
		var rating any
		if created.AccuracyRating != nil {
			rating = *created.AccuracyRating
		}
		row = tx.QueryRowContext(ctx, `
			INSERT INTO workflow_overrides (
				id, workflow_id, base_version_id, payload, accuracy_rating, accuracy_feedback,
				status, created_by, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $8)
			RETURNING `+overrideColumns,
			created.ID, created.WorkflowID, baseVersion, payload, rating, created.AccuracyFeedback,
			created.CreatedBy, created.CreatedAt)
		stored, err = scanOverride(row)
		if err != nil {
			return fmt.Errorf("insert override: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE workflows SET updated_at = $2 WHERE id = $1`, created.WorkflowID, archivedAt); err != nil {
			return fmt.Errorf("touch workflow: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, workflow.Override{}, err
	}
	return archived, stored, nil
}

func (s *PostgresStore) InsertOwnerNote(ctx context.Context, note workflow.OwnerNote) (workflow.OwnerNote, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owner_notes (id, workflow_id, note_type, content, visibility, is_active, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, note.ID, note.WorkflowID, string(note.NoteType), note.Content, string(note.Visibility), note.IsActive, note.CreatedBy, note.CreatedAt)
	if err != nil {
		return workflow.OwnerNote{}, fmt.Errorf("insert owner note: %w", err)
	}
	return note, nil
}

// DeactivateOwnerNote soft-deletes a note; the row is kept.
func (s *PostgresStore) DeactivateOwnerNote(ctx context.Context, workflowID, noteID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE owner_notes SET is_active = FALSE WHERE workflow_id = $1 AND id = $2 AND is_active
	`, workflowID, noteID)
	if err != nil {
		return fmt.Errorf("deactivate owner note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate owner note: %w", err)
	}
	if affected == 0 {
		return workflow.ErrNoteNotFound
	}
	return nil
}

func scanOverride(row rowScanner) (workflow.Override, error) {
	var o workflow.Override
	var base sql.NullString
	var payload []byte
	var rating sql.NullInt64
	var status string
	var archivedAt sql.NullTime
	if err := row.Scan(&o.ID, &o.WorkflowID, &base, &payload, &rating, &o.AccuracyFeedback,
		&status, &o.CreatedBy, &o.CreatedAt, &archivedAt); err != nil {
		return workflow.Override{}, err
	}
	o.BaseVersionID = base.String
	if err := json.Unmarshal(payload, &o.Payload); err != nil {
		return workflow.Override{}, fmt.Errorf("decode override payload: %w", err)
	}
	if rating.Valid {
		r := int(rating.Int64)
		o.AccuracyRating = &r
	}
	o.Status = workflow.OverrideStatus(status)
	if archivedAt.Valid {
		t := archivedAt.Time
		o.ArchivedAt = &t
	}
	return o, nil
}
