package evidence_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitae/internal/evidence"
	"vitae/internal/retrieval"
)

func result(title, content string, score float64) retrieval.Result {
	return retrieval.Result{
		Candidate: retrieval.Candidate{Title: title, Content: content},
		Score:     score,
	}
}

func TestFitToBudget_EmptyInput(t *testing.T) {
	a := evidence.NewAllocator(evidence.Config{})
	assert.Equal(t, "", a.FitToBudget(nil, 0))
	assert.Equal(t, "", a.FitToBudget([]retrieval.Result{}, 500))
}

func TestFitToBudget_NeverExceedsBudget(t *testing.T) {
	cfg := evidence.Config{TotalBudget: 600, MinBudget: 100, MinFragmentChars: 50, MinChunks: 10, SoftStopFraction: 0.99}
	a := evidence.NewAllocator(cfg)

	long := strings.Repeat("shipped the billing migration on schedule. ", 20)
	ranked := []retrieval.Result{
		result("Acme", long, 0.9),
		result("Beta", long, 0.8),
		result("Gamma", long, 0.7),
	}

	for _, reserved := range []int{0, 100, 400, 550, 10000} {
		out := a.FitToBudget(ranked, reserved)
		budget := cfg.TotalBudget - reserved
		if budget < cfg.MinBudget {
			budget = cfg.MinBudget
		}
		assert.LessOrEqual(t, len(out), budget, "reserved=%d", reserved)
	}
}

func TestFitToBudget_SourceLabelsPrefixed(t *testing.T) {
	a := evidence.NewAllocator(evidence.Config{})
	ranked := []retrieval.Result{
		{
			Candidate: retrieval.Candidate{Title: "Acme Corp — Staff Engineer", Kind: "achievements", Content: "Led the team."},
			Score:     0.9,
		},
	}

	out := a.FitToBudget(ranked, 0)
	assert.True(t, strings.HasPrefix(out, "[Acme Corp — Staff Engineer / achievements]\n"), "got: %q", out)
	assert.Contains(t, out, "Led the team.")
}

func TestFitToBudget_MetricRichChunksFirst(t *testing.T) {
	a := evidence.NewAllocator(evidence.Config{})

	plain := result("Plain", "Worked on the platform team and improved things somewhat.", 0.80)
	metric := result("Metric", "Cut p99 latency 45% and saved $1.2M in annual infra spend.", 0.72)

	out := a.FitToBudget([]retrieval.Result{plain, metric}, 0)
	require.NotEmpty(t, out)
	assert.Less(t, strings.Index(out, "[Metric]"), strings.Index(out, "[Plain]"),
		"quantified evidence outranks slightly higher similarity")
}

func TestFitToBudget_TruncatedTailNeedsMinimumFragment(t *testing.T) {
	cfg := evidence.Config{TotalBudget: 200, MinBudget: 50, MinFragmentChars: 80, MinChunks: 10, SoftStopFraction: 0.99}
	a := evidence.NewAllocator(cfg)

	first := result("A", strings.Repeat("x", 120), 0.9)
	second := result("B", strings.Repeat("y", 300), 0.8)

	out := a.FitToBudget([]retrieval.Result{first, second}, 0)
	// 120 chars of body plus label leaves ~70 chars, below the 80-char
	// fragment floor, so the second chunk is dropped entirely.
	assert.Contains(t, out, "[A]")
	assert.NotContains(t, out, "[B]")
	assert.LessOrEqual(t, len(out), 200)
}

func TestFitToBudget_TruncatedTailIncludedWhenRoomEnough(t *testing.T) {
	cfg := evidence.Config{TotalBudget: 400, MinBudget: 50, MinFragmentChars: 80, MinChunks: 10, SoftStopFraction: 0.99}
	a := evidence.NewAllocator(cfg)

	first := result("A", strings.Repeat("x", 150), 0.9)
	second := result("B", strings.Repeat("y", 500), 0.8)
	third := result("C", strings.Repeat("z", 100), 0.7)

	out := a.FitToBudget([]retrieval.Result{first, second, third}, 0)
	assert.Contains(t, out, "[A]")
	assert.Contains(t, out, "[B]", "partial second chunk fits the fragment floor")
	assert.NotContains(t, out, "[C]", "assembly stops after the truncated tail")
	assert.LessOrEqual(t, len(out), 400)
}

func TestFitToBudget_SoftStopAfterEnoughChunks(t *testing.T) {
	cfg := evidence.Config{TotalBudget: 1000, MinBudget: 50, MinChunks: 2, SoftStopFraction: 0.6}
	a := evidence.NewAllocator(cfg)

	chunk := strings.Repeat("a", 320)
	ranked := []retrieval.Result{
		result("A", chunk, 0.9),
		result("B", chunk, 0.8),
		result("C", chunk, 0.7),
	}

	out := a.FitToBudget(ranked, 0)
	// Two blocks push utilization past 60% with MinChunks met; the third
	// is skipped even though it would fit.
	assert.Contains(t, out, "[A]")
	assert.Contains(t, out, "[B]")
	assert.NotContains(t, out, "[C]")
}

func TestFitToBudget_BudgetFloor(t *testing.T) {
	cfg := evidence.Config{TotalBudget: 1000, MinBudget: 300, MinChunks: 10, SoftStopFraction: 0.99}
	a := evidence.NewAllocator(cfg)

	ranked := []retrieval.Result{result("A", strings.Repeat("q", 200), 0.9)}

	// Reservation larger than the whole budget still leaves the floor.
	out := a.FitToBudget(ranked, 5000)
	assert.Contains(t, out, "[A]")
	assert.LessOrEqual(t, len(out), 300)
}

func TestHasQuantifiedContent(t *testing.T) {
	assert.True(t, evidence.HasQuantifiedContent("grew revenue 3x in 2 years"))
	assert.False(t, evidence.HasQuantifiedContent("led a team of engineers"))
}
