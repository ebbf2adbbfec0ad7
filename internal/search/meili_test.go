package search

import (
	"context"
	"encoding/json"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSearchRequestsScopesToOrg(t *testing.T) {
	reqs := buildSearchRequests(Query{Text: "invoice", OrgID: "org_1"})
	require.Len(t, reqs, 2)
	assert.Equal(t, idxWorkflows, reqs[0].IndexUID)
	assert.Equal(t, idxAlerts, reqs[1].IndexUID)
	for _, r := range reqs {
		assert.Equal(t, "invoice", r.Query)
		assert.Equal(t, int64(20), r.Limit)
		assert.Equal(t, []string{`orgId = "org_1"`}, r.Filter)
	}
}

func TestBuildSearchRequestsEscapesOrgFilter(t *testing.T) {
	reqs := buildSearchRequests(Query{Text: "x", OrgID: `org"1\é`})
	require.Len(t, reqs, 2)
	assert.Equal(t, []string{`orgId = "org\"1\\é"`}, reqs[0].Filter)
}

func TestBuildSearchRequestsFilterType(t *testing.T) {
	reqs := buildSearchRequests(Query{Text: "x", OrgID: "org_1", FilterType: ResultAlert, Limit: 5, Offset: 10})
	require.Len(t, reqs, 1)
	assert.Equal(t, idxAlerts, reqs[0].IndexUID)
	assert.Equal(t, int64(5), reqs[0].Limit)
	assert.Equal(t, int64(10), reqs[0].Offset)
}

func TestHitToResult(t *testing.T) {
	hit := meili.Hit{
		"id":          json.RawMessage(`"wf_1"`),
		"orgId":       json.RawMessage(`"org_1"`),
		"name":        json.RawMessage(`"Invoice approval"`),
		"description": json.RawMessage(`"Monthly AP run"`),
		"steps":       json.RawMessage(`["a","b"]`),
		"_formatted":  json.RawMessage(`{"name":"<mark>Invoice</mark> approval","steps":["a","b"]}`),
	}
	got := hitToResult(hit, ResultWorkflow)
	assert.Equal(t, Result{
		Type:    ResultWorkflow,
		ID:      "wf_1",
		OrgID:   "org_1",
		Title:   "<mark>Invoice</mark> approval",
		Snippet: "Monthly AP run",
	}, got)

	alertHit := meili.Hit{
		"id":        json.RawMessage(`"pa_1"`),
		"orgId":     json.RawMessage(`"org_1"`),
		"alertType": json.RawMessage(`"burnout_risk"`),
		"severity":  json.RawMessage(`"critical"`),
		"summary":   json.RawMessage(`"Burnout risk score is 75.00"`),
	}
	got = hitToResult(alertHit, indexToResultType(idxAlerts))
	assert.Equal(t, ResultAlert, got.Type)
	assert.Equal(t, "burnout_risk", got.Title)
	assert.Equal(t, "critical", got.Severity)
	assert.Equal(t, "Burnout risk score is 75.00", got.Snippet)
}

func TestNilMeiliIsUnhealthy(t *testing.T) {
	var m *Meili
	assert.False(t, m.Healthy())
	_, _, err := m.Search(context.Background(), Query{Text: "x", OrgID: "org_1"})
	assert.ErrorIs(t, err, errUnhealthy)
	m.Close()
}
