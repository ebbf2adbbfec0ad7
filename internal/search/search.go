// Package search indexes effective workflows and pattern alerts so admins can
// find them by free text. Meilisearch is preferred; Postgres is the fallback.
package search

import (
	"context"
	"strings"

	"vizdots/api/internal/alerts"
	"vizdots/api/internal/workflow"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultWorkflow ResultType = "workflow"
	ResultAlert    ResultType = "alert"
)

// ParseResultType accepts "" (all types), "workflow" or "alert".
func ParseResultType(raw string) (ResultType, bool) {
	switch ResultType(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return "", true
	case ResultWorkflow:
		return ResultWorkflow, true
	case ResultAlert:
		return ResultAlert, true
	default:
		return "", false
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	OrgID    string     `json:"orgId"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	Severity string     `json:"severity,omitempty"`
}

// Query describes a search request. OrgID is mandatory; hits never cross
// tenants.
type Query struct {
	Text       string
	OrgID      string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a Searcher that also accepts documents.
type Index interface {
	Searcher
	IndexWorkflows(records []WorkflowRecord) error
	IndexAlerts(records []AlertRecord) error
	DeleteWorkflow(id string) error
}

// WorkflowRecord is the data we index for an effective workflow.
type WorkflowRecord struct {
	ID          string   `json:"id"`
	OrgID       string   `json:"orgId"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
	Tools       []string `json:"tools"`
	Notes       string   `json:"notes"`
	HasOverride bool     `json:"hasOverride"`
	Status      string   `json:"status"`
}

// AlertRecord is the data we index for a pattern alert.
type AlertRecord struct {
	ID           string `json:"id"`
	OrgID        string `json:"orgId"`
	DepartmentID string `json:"departmentId"`
	AlertType    string `json:"alertType"`
	Severity     string `json:"severity"`
	Status       string `json:"status"`
	Summary      string `json:"summary"`
}

// WorkflowRecordFrom flattens the effective structure, not the raw version.
func WorkflowRecordFrom(view workflow.EffectiveWorkflow) WorkflowRecord {
	return WorkflowRecord{
		ID:          view.ID,
		OrgID:       view.OrgID,
		Name:        view.Name,
		Description: view.Description,
		Steps:       nonNilStrings(view.EffectiveStructure.Steps),
		Tools:       nonNilStrings(view.EffectiveStructure.Tools),
		Notes:       view.EffectiveStructure.Notes,
		HasOverride: view.HasOverride,
		Status:      view.Status,
	}
}

func AlertRecordFrom(a alerts.Alert) AlertRecord {
	rec := AlertRecord{
		ID:        a.ID,
		OrgID:     a.OrgID,
		AlertType: string(a.AlertType),
		Severity:  string(a.Severity),
		Status:    string(a.Status),
		Summary:   a.Summary,
	}
	if a.DepartmentID != nil {
		rec.DepartmentID = *a.DepartmentID
	}
	return rec
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
