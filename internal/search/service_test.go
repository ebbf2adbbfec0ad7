package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vizdots/api/internal/alerts"
	"vizdots/api/internal/workflow"
)

type fakeIndex struct {
	mu        sync.Mutex
	healthy   bool
	results   []Result
	searchErr error
	workflows []WorkflowRecord
	alerts    []AlertRecord
	deleted   []string
	queries   []Query
}

func (f *fakeIndex) Search(_ context.Context, q Query) ([]Result, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.searchErr != nil {
		return nil, 0, f.searchErr
	}
	return f.results, len(f.results), nil
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) IndexWorkflows(records []WorkflowRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflows = append(f.workflows, records...)
	return nil
}

func (f *fakeIndex) IndexAlerts(records []AlertRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, records...)
	return nil
}

func (f *fakeIndex) DeleteWorkflow(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIndex) snapshot() ([]WorkflowRecord, []AlertRecord, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]WorkflowRecord(nil), f.workflows...), append([]AlertRecord(nil), f.alerts...), append([]string(nil), f.deleted...)
}

type fakeLoader struct {
	workflows []WorkflowRecord
	alerts    []AlertRecord
	err       error
}

func (l fakeLoader) LoadAllRecords(context.Context) ([]WorkflowRecord, []AlertRecord, error) {
	return l.workflows, l.alerts, l.err
}

func TestSearchPrefersHealthyPrimary(t *testing.T) {
	primary := &fakeIndex{healthy: true, results: []Result{{Type: ResultWorkflow, ID: "wf_1"}}}
	fallback := &fakeIndex{healthy: true, results: []Result{{Type: ResultAlert, ID: "pa_1"}}}
	svc := NewService(primary, fallback, nil)

	resp := svc.Search(context.Background(), Query{Text: "invoice", OrgID: "org_1"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "wf_1", resp.Results[0].ID)
	assert.Equal(t, "invoice", resp.Query)
	assert.Empty(t, fallback.queries)
}

func TestSearchFallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeIndex{healthy: true, searchErr: errors.New("down")}
	fallback := &fakeIndex{healthy: true, results: []Result{{Type: ResultAlert, ID: "pa_1"}}}
	svc := NewService(primary, fallback, nil)

	resp := svc.Search(context.Background(), Query{Text: "burnout", OrgID: "org_1"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "pa_1", resp.Results[0].ID)
	assert.Equal(t, 1, resp.Total)
}

func TestSearchSkipsUnhealthyPrimary(t *testing.T) {
	primary := &fakeIndex{healthy: false, results: []Result{{ID: "never"}}}
	fallback := &fakeIndex{healthy: true}
	svc := NewService(primary, fallback, nil)

	resp := svc.Search(context.Background(), Query{Text: "x", OrgID: "org_1"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.Empty(t, primary.queries)
	assert.Len(t, fallback.queries, 1)
}

func TestSearchWithNilMeili(t *testing.T) {
	var m *Meili
	fallback := &fakeIndex{healthy: true, results: []Result{{ID: "wf_9"}}}
	svc := NewService(m, fallback, nil)

	resp := svc.Search(context.Background(), Query{Text: "x", OrgID: "org_1"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "wf_9", resp.Results[0].ID)
}

func TestSearchFallbackErrorReturnsEmpty(t *testing.T) {
	fallback := &fakeIndex{healthy: true, searchErr: errors.New("db gone")}
	svc := NewService(nil, fallback, nil)

	resp := svc.Search(context.Background(), Query{Text: "x", OrgID: "org_1"})
	assert.Equal(t, []Result{}, resp.Results)
	assert.Zero(t, resp.Total)
}

func TestIndexWorkflowUsesEffectiveStructure(t *testing.T) {
	primary := &fakeIndex{healthy: true}
	svc := NewService(primary, nil, nil)

	svc.IndexWorkflow(workflow.EffectiveWorkflow{
		Workflow:           workflow.Workflow{ID: "wf_1", OrgID: "org_1", Name: "Invoices", Status: "active"},
		Structure:          workflow.Structure{Steps: []string{"raw"}},
		EffectiveStructure: workflow.Structure{Steps: []string{"edited"}, Notes: "n"},
		HasOverride:        true,
	})

	assert.Eventually(t, func() bool {
		wfs, _, _ := primary.snapshot()
		return len(wfs) == 1
	}, time.Second, 10*time.Millisecond)

	wfs, _, _ := primary.snapshot()
	assert.Equal(t, []string{"edited"}, wfs[0].Steps)
	assert.Equal(t, []string{}, wfs[0].Tools)
	assert.True(t, wfs[0].HasOverride)
}

func TestIndexAlerts(t *testing.T) {
	primary := &fakeIndex{healthy: true}
	svc := NewService(primary, nil, nil)
	dept := "dept_eng"

	svc.IndexAlerts([]alerts.Alert{
		{ID: "pa_1", OrgID: "org_1", DepartmentID: &dept, AlertType: alerts.TypeBurnoutRisk, Severity: alerts.SeverityCritical, Status: alerts.StatusOpen, Summary: "Burnout"},
		{ID: "pa_2", OrgID: "org_1", AlertType: alerts.TypeLowParticipation, Severity: alerts.SeverityWarning, Status: alerts.StatusOpen},
	})

	assert.Eventually(t, func() bool {
		_, as, _ := primary.snapshot()
		return len(as) == 2
	}, time.Second, 10*time.Millisecond)

	_, as, _ := primary.snapshot()
	assert.Equal(t, "dept_eng", as[0].DepartmentID)
	assert.Equal(t, "", as[1].DepartmentID)
	assert.Equal(t, "critical", as[0].Severity)
}

func TestIndexingSkippedWhenPrimaryDown(t *testing.T) {
	primary := &fakeIndex{healthy: false}
	svc := NewService(primary, nil, nil)

	svc.IndexWorkflow(workflow.EffectiveWorkflow{Workflow: workflow.Workflow{ID: "wf_1"}})
	svc.DeleteWorkflow("wf_1")
	svc.ReindexAll(context.Background(), fakeLoader{workflows: []WorkflowRecord{{ID: "wf_1"}}})

	wfs, as, deleted := primary.snapshot()
	assert.Empty(t, wfs)
	assert.Empty(t, as)
	assert.Empty(t, deleted)
}

func TestReindexAll(t *testing.T) {
	primary := &fakeIndex{healthy: true}
	svc := NewService(primary, nil, nil)

	svc.ReindexAll(context.Background(), fakeLoader{
		workflows: []WorkflowRecord{{ID: "wf_1"}, {ID: "wf_2"}},
		alerts:    []AlertRecord{{ID: "pa_1"}},
	})

	wfs, as, _ := primary.snapshot()
	assert.Len(t, wfs, 2)
	assert.Len(t, as, 1)
}

func TestReindexAllLoadError(t *testing.T) {
	primary := &fakeIndex{healthy: true}
	svc := NewService(primary, nil, nil)

	svc.ReindexAll(context.Background(), fakeLoader{err: errors.New("boom")})

	wfs, as, _ := primary.snapshot()
	assert.Empty(t, wfs)
	assert.Empty(t, as)
}

func TestParseResultType(t *testing.T) {
	cases := map[string]struct {
		want ResultType
		ok   bool
	}{
		"":          {"", true},
		"workflow":  {ResultWorkflow, true},
		" ALERT ":   {ResultAlert, true},
		"documents": {"", false},
	}
	for raw, tc := range cases {
		got, ok := ParseResultType(raw)
		assert.Equal(t, tc.ok, ok, raw)
		assert.Equal(t, tc.want, got, raw)
	}
}
