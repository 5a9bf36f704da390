package evidence

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"vitae/internal/retrieval"
)

// ErrInsufficientEvidence is returned by callers when the assembled
// context is too short to ground a generation. FitToBudget itself never
// fails; the threshold check belongs to the caller because the minimum
// differs per use (answering vs. resume drafting).
var ErrInsufficientEvidence = errors.New("assembled evidence below minimum context length")

var (
	percentRe   = regexp.MustCompile(`\d+(\.\d+)?\s?%`)
	currencyRe  = regexp.MustCompile(`[$€£]\s?\d[\d,.]*|\d[\d,.]*\s?(USD|EUR|GBP)\b`)
	magnitudeRe = regexp.MustCompile(`(?i)\b\d[\d,.]*\s?(k|m|bn|million|billion|thousand)\b`)
	numberRe    = regexp.MustCompile(`\d`)
)

// Config bounds a single prompt-assembly pass. Zero values fall back to
// defaults sized for a few thousand characters of model context.
type Config struct {
	TotalBudget      int
	MinBudget        int
	MinFragmentChars int
	MinContextChars  int
	MinChunks        int
	SoftStopFraction float64
	MetricBoost      float64
}

func (c Config) withDefaults() Config {
	if c.TotalBudget <= 0 {
		c.TotalBudget = 6000
	}
	if c.MinBudget <= 0 {
		c.MinBudget = 1200
	}
	if c.MinFragmentChars <= 0 {
		c.MinFragmentChars = 200
	}
	if c.MinContextChars <= 0 {
		c.MinContextChars = 200
	}
	if c.MinChunks <= 0 {
		c.MinChunks = 3
	}
	if c.SoftStopFraction <= 0 {
		c.SoftStopFraction = 0.6
	}
	if c.MetricBoost <= 0 {
		c.MetricBoost = 0.15
	}
	return c
}

type Allocator struct {
	cfg Config
}

func NewAllocator(cfg Config) *Allocator {
	return &Allocator{cfg: cfg.withDefaults()}
}

// MinContextChars exposes the configured generation floor so callers
// can pair FitToBudget with ErrInsufficientEvidence.
func (a *Allocator) MinContextChars() int {
	return a.cfg.MinContextChars
}

// FitToBudget assembles retrieval results into a single prompt-ready
// string. Chunks rich in quantifiable evidence are preferred over
// marginally more similar ones, on the premise that concrete facts
// ground generation better than raw similarity. Empty input yields an
// empty string.
func (a *Allocator) FitToBudget(ranked []retrieval.Result, reservedPromptChars int) string {
	if len(ranked) == 0 {
		return ""
	}

	budget := a.cfg.TotalBudget - reservedPromptChars
	if budget < a.cfg.MinBudget {
		budget = a.cfg.MinBudget
	}

	ordered := a.reorder(ranked)

	var sb strings.Builder
	included := 0
	for _, r := range ordered {
		block := formatBlock(r)
		remaining := budget - sb.Len()
		if remaining <= 0 {
			break
		}

		if len(block) > remaining {
			// A partial chunk still earns its place when the leftover
			// room fits a meaningful fragment. One truncated tail, then
			// stop.
			if remaining >= a.cfg.MinFragmentChars {
				sb.WriteString(truncateBlock(block, remaining))
				included++
			}
			break
		}

		sb.WriteString(block)
		included++

		used := float64(sb.Len()) / float64(budget)
		if included >= a.cfg.MinChunks && used > a.cfg.SoftStopFraction {
			break
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

// reorder sorts by combined score plus a flat boost per matched metric
// class. Sort is stable so equal evidence scores keep retrieval order.
func (a *Allocator) reorder(ranked []retrieval.Result) []retrieval.Result {
	ordered := make([]retrieval.Result, len(ranked))
	copy(ordered, ranked)
	sort.SliceStable(ordered, func(i, j int) bool {
		return a.evidenceScore(ordered[i]) > a.evidenceScore(ordered[j])
	})
	return ordered
}

func (a *Allocator) evidenceScore(r retrieval.Result) float64 {
	return r.Score + float64(metricClasses(r.Content))*a.cfg.MetricBoost
}

// metricClasses counts the distinct kinds of quantifiable evidence in
// the text, not individual occurrences, so a chunk with ten percentages
// does not drown out one with a percentage and a dollar amount.
func metricClasses(text string) int {
	n := 0
	if percentRe.MatchString(text) {
		n++
	}
	if currencyRe.MatchString(text) {
		n++
	}
	if magnitudeRe.MatchString(text) {
		n++
	}
	return n
}

// HasQuantifiedContent reports whether text carries any numeric
// evidence at all. Used by answer confidence heuristics.
func HasQuantifiedContent(text string) bool {
	return numberRe.MatchString(text)
}

func formatBlock(r retrieval.Result) string {
	label := r.Title
	if label == "" {
		label = r.SourceID
	}
	if r.Kind != "" {
		label = fmt.Sprintf("%s / %s", label, r.Kind)
	}
	return fmt.Sprintf("[%s]\n%s\n\n", label, strings.TrimSpace(r.Content))
}

// truncateBlock cuts to at most limit bytes without splitting a rune.
func truncateBlock(block string, limit int) string {
	if len(block) <= limit {
		return block
	}
	cut := block[:limit]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
