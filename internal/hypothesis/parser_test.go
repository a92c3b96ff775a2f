package hypothesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/mend/pkg/models"
)

const sampleCompletion = `
Hypothesis 1
Proposed Solution: Add an index on detected_at
Reasoning: Sequential scans dominate the slow queries
Expected Impact: Latency drops below the threshold
Confidence: 85
Testing Strategy: Replay the slow queries on staging
Risks: index bloat, longer writes
Files Affected: schema.sql, migrations/004.sql
Complexity: low

Hypothesis 2
**Proposed Solution**: Cache the hot lookup in memory
Confidence: 120%
Complexity: high
`

func TestParseHypotheses(t *testing.T) {
	drafts := parseHypotheses(sampleCompletion, "prob-1")
	require.Len(t, drafts, 2)

	first := drafts[0]
	assert.Equal(t, "prob-1", first.ProblemID)
	assert.Equal(t, "Add an index on detected_at", first.ProposedSolution)
	assert.Equal(t, "Sequential scans dominate the slow queries", first.Reasoning)
	assert.Equal(t, 85, first.Confidence)
	assert.Equal(t, []string{"index bloat", "longer writes"}, first.Risks)
	assert.Equal(t, []string{"schema.sql", "migrations/004.sql"}, first.Implementation.FilesAffected)
	assert.Equal(t, models.ComplexityLow, first.Implementation.Complexity)

	second := drafts[1]
	assert.Equal(t, "Cache the hot lookup in memory", second.ProposedSolution)
	assert.Equal(t, 100, second.Confidence, "out-of-range confidence clamps to 100")
	assert.Equal(t, models.ComplexityHigh, second.Implementation.Complexity)
}

func TestParseHypothesesWithoutHeadings(t *testing.T) {
	completion := `Proposed Solution: restart the worker pool
Confidence: 60`

	drafts := parseHypotheses(completion, "prob-2")
	require.Len(t, drafts, 1)
	assert.Equal(t, "restart the worker pool", drafts[0].ProposedSolution)
	assert.Equal(t, 60, drafts[0].Confidence)
}

func TestParseHypothesesDropsSolutionless(t *testing.T) {
	completion := `Hypothesis 1
Reasoning: something is wrong
Confidence: 90`

	drafts := parseHypotheses(completion, "prob-3")
	assert.Empty(t, drafts, "sections without a proposed solution are dropped")
}

func TestParseHypothesesEmptyInput(t *testing.T) {
	assert.Empty(t, parseHypotheses("", "prob-4"))
	assert.Empty(t, parseHypotheses("   \n  ", "prob-4"))
	assert.Empty(t, parseHypotheses("The service looks healthy to me.", "prob-4"))
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"85", 85, true},
		{"85/100", 85, true},
		{"about 70%", 70, true},
		{"999", 100, true},
		{"high", 0, false},
	}
	for _, tc := range tests {
		got, ok := parseConfidence(tc.in)
		assert.Equal(t, tc.wantOK, ok, tc.in)
		if ok {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList("a, b; c"))
	assert.Equal(t, []string{"one item"}, splitList("- one item"))
	assert.Empty(t, splitList("  ,  , "))
}
