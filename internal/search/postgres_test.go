package search

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLikePatternEscapes(t *testing.T) {
	assert.Equal(t, "%invoice%", likePattern("  invoice "))
	assert.Equal(t, `%50\% off\_now%`, likePattern("50% off_now"))
	assert.Equal(t, `%a\\b%`, likePattern(`a\b`))
}

func TestBuildQuery(t *testing.T) {
	data, count, ok := buildQuery(Query{Text: "x", OrgID: "org_1"})
	assert.True(t, ok)
	assert.Contains(t, data, "FROM workflows w")
	assert.Contains(t, data, "FROM pattern_alerts a")
	assert.Contains(t, data, "LIMIT 20 OFFSET 0")
	assert.True(t, strings.HasPrefix(count, "SELECT count(*)"))

	data, _, ok = buildQuery(Query{Text: "x", OrgID: "org_1", FilterType: ResultWorkflow, Limit: 3, Offset: -4})
	assert.True(t, ok)
	assert.NotContains(t, data, "pattern_alerts")
	assert.Contains(t, data, "LIMIT 3 OFFSET 0")

	_, _, ok = buildQuery(Query{Text: "x", OrgID: "org_1", FilterType: "document"})
	assert.False(t, ok)
}

func TestPgSearchBlankQuery(t *testing.T) {
	p := NewPgSearch(nil)
	results, total, err := p.Search(context.Background(), Query{Text: "   ", OrgID: "org_1"})
	assert.NoError(t, err)
	assert.Nil(t, results)
	assert.Zero(t, total)
	assert.True(t, p.Healthy())
}
