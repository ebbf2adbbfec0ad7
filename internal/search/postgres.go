package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"vizdots/api/internal/workflow"
)

// PgSearch implements Searcher with ILIKE matching over the primary
// database. It is the fallback when Meilisearch is not configured or down.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true: without Postgres the whole API is down.
func (p *PgSearch) Healthy() bool {
	return true
}

// likePattern escapes LIKE metacharacters and wraps the text in wildcards.
func likePattern(text string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(strings.TrimSpace(text)) + "%"
}

// buildQuery returns the UNION ALL data and count statements for q. Both
// take $1 = org id and $2 = LIKE pattern.
func buildQuery(q Query) (dataSQL, countSQL string, ok bool) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultWorkflow {
		subQueries = append(subQueries, `
			SELECT 'workflow'::text AS type, w.id, w.org_id, w.name AS title,
				coalesce(w.description, '') AS snippet, ''::text AS severity,
				w.updated_at AS sort_at
			FROM workflows w
			WHERE w.org_id = $1 AND w.status = 'active'
				AND (w.name ILIKE $2 OR coalesce(w.description, '') ILIKE $2)`)
	}
	if q.FilterType == "" || q.FilterType == ResultAlert {
		subQueries = append(subQueries, `
			SELECT 'alert'::text AS type, a.id, a.org_id, a.alert_type AS title,
				a.summary AS snippet, a.severity,
				a.created_at AS sort_at
			FROM pattern_alerts a
			WHERE a.org_id = $1
				AND (a.summary ILIKE $2 OR a.alert_type ILIKE $2)`)
	}
	if len(subQueries) == 0 {
		return "", "", false
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL = fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL = fmt.Sprintf(`SELECT type, id, org_id, title, snippet, severity
		FROM (%s) sub
		ORDER BY sort_at DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset)
	return dataSQL, countSQL, true
}

func (p *PgSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.OrgID == "" {
		return nil, 0, nil
	}
	dataSQL, countSQL, ok := buildQuery(q)
	if !ok {
		return nil, 0, nil
	}
	args := []any{q.OrgID, likePattern(q.Text)}

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pg search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.OrgID, &r.Title, &r.Snippet, &r.Severity); err != nil {
			return nil, 0, fmt.Errorf("pg search scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
// Workflow records carry the latest version's structure; overrides are
// applied later by the resolver-driven incremental updates.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]WorkflowRecord, []AlertRecord, error) {
	wfRows, err := p.db.QueryContext(ctx, `
		SELECT w.id, w.org_id, w.name, coalesce(w.description, ''), w.status,
			coalesce(v.structure, '{}'::jsonb)
		FROM workflows w
		LEFT JOIN LATERAL (
			SELECT structure FROM workflow_versions
			WHERE workflow_id = w.id
			ORDER BY version_number DESC
			LIMIT 1
		) v ON true
		WHERE w.status = 'active'
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load workflows: %w", err)
	}
	defer wfRows.Close()

	workflows := make([]WorkflowRecord, 0)
	for wfRows.Next() {
		var rec WorkflowRecord
		var raw []byte
		if err := wfRows.Scan(&rec.ID, &rec.OrgID, &rec.Name, &rec.Description, &rec.Status, &raw); err != nil {
			return nil, nil, fmt.Errorf("scan workflow: %w", err)
		}
		var structure workflow.Structure
		if err := json.Unmarshal(raw, &structure); err != nil {
			return nil, nil, fmt.Errorf("decode workflow %s structure: %w", rec.ID, err)
		}
		rec.Steps = nonNilStrings(structure.Steps)
		rec.Tools = nonNilStrings(structure.Tools)
		rec.Notes = structure.Notes
		workflows = append(workflows, rec)
	}
	if err := wfRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate workflows: %w", err)
	}

	alertRows, err := p.db.QueryContext(ctx, `
		SELECT id, org_id, coalesce(department_id, ''), alert_type, severity, status, summary
		FROM pattern_alerts
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load alerts: %w", err)
	}
	defer alertRows.Close()

	alertRecords := make([]AlertRecord, 0)
	for alertRows.Next() {
		var rec AlertRecord
		if err := alertRows.Scan(&rec.ID, &rec.OrgID, &rec.DepartmentID, &rec.AlertType, &rec.Severity, &rec.Status, &rec.Summary); err != nil {
			return nil, nil, fmt.Errorf("scan alert: %w", err)
		}
		alertRecords = append(alertRecords, rec)
	}
	if err := alertRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate alerts: %w", err)
	}

	return workflows, alertRecords, nil
}
