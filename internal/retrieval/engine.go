package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"vitae/internal/scoring"
)

// Candidate is a stored chunk plus its embedding, as handed back by the
// chunk store for in-process scoring.
type Candidate struct {
	ID         string     `json:"id"`
	SourceID   string     `json:"sourceId"`
	Kind       string     `json:"kind,omitempty"`
	Title      string     `json:"title,omitempty"`
	Content    string     `json:"content"`
	Skills     []string   `json:"skills,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	DateStart  *time.Time `json:"dateStart,omitempty"`
	DateEnd    *time.Time `json:"dateEnd,omitempty"`
	TokenCount int        `json:"tokenCount,omitempty"`
	Vector     []float32  `json:"-"`
}

// Result pairs a candidate with its per-query scores. Ephemeral, never
// persisted.
type Result struct {
	Candidate
	Similarity    float64 `json:"similarity"`
	Recency       float64 `json:"recency"`
	MetadataBoost float64 `json:"metadataBoost"`
	Score         float64 `json:"score"`
	Band          string  `json:"band"`
}

// Options tune a single retrieval call. Skill and tag filters are soft
// preferences: matching candidates rank first and non-matching ones
// backfill when matches are scarce. StrictFilters turns the backfill
// off, which suits larger corpora where empty-on-no-match is the right
// answer.
type Options struct {
	Query          string
	TopK           int
	CandidateLimit int
	Skills         []string
	Tags           []string
	StrictFilters  bool
}

const (
	defaultTopK           = 10
	defaultCandidateRatio = 5
)

type CandidateSource interface {
	CandidatesByVector(ctx context.Context, vector []float32, limit int) ([]Candidate, error)
}

type Engine struct {
	source CandidateSource
	logger *QueryLogger
	now    func() time.Time
}

func NewEngine(source CandidateSource, logger *QueryLogger) *Engine {
	return &Engine{source: source, logger: logger, now: time.Now}
}

// Retrieve fetches a bounded candidate set, scores every candidate
// against the query vector with the given profile, and returns the
// ranked survivors. Ranking is by raw similarity; recency and metadata
// feed the combined score and the band label only.
func (e *Engine) Retrieve(ctx context.Context, queryVector []float32, opts Options, profile scoring.Profile) ([]Result, error) {
	start := time.Now()

	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	limit := opts.CandidateLimit
	if limit <= 0 {
		limit = topK * defaultCandidateRatio
	}

	candidates, err := e.source.CandidatesByVector(ctx, queryVector, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching candidates: %w", err)
	}

	now := e.now()
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		sim, err := Cosine(queryVector, c.Vector)
		if err != nil {
			slog.WarnContext(ctx, "skipping candidate with unusable vector",
				"chunk_id", c.ID, "error", err)
			continue
		}

		recency := profile.RecencyScore(c.DateStart, c.DateEnd, now)
		boost := profile.MetadataBoost(c.Skills, c.Tags, opts.Skills, opts.Tags)
		score := profile.Score(sim, recency, boost)

		results = append(results, Result{
			Candidate:     c,
			Similarity:    sim,
			Recency:       recency,
			MetadataBoost: boost,
			Score:         score,
			Band:          profile.Band(score),
		})
	}

	// Raw similarity orders the set; stable sort keeps store order on
	// exact ties.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	survivors := results[:0:len(results)]
	for _, r := range results {
		if r.Similarity >= profile.MinSimilarity {
			survivors = append(survivors, r)
		}
	}

	final := e.selectTop(survivors, opts, topK)

	if e.logger != nil {
		e.logger.Log(ctx, QueryLogEntry{
			Query:      opts.Query,
			Profile:    profile.Name,
			Candidates: len(candidates),
			NumResults: len(final),
			Duration:   time.Since(start),
		})
	}
	return final, nil
}

// selectTop applies the soft-filter partition: filter-matching results
// first, then non-matching backfill until topK is met. Without filters
// it is a plain truncation.
func (e *Engine) selectTop(survivors []Result, opts Options, topK int) []Result {
	if len(opts.Skills) == 0 && len(opts.Tags) == 0 {
		if len(survivors) > topK {
			return survivors[:topK]
		}
		return survivors
	}

	matching := make([]Result, 0, len(survivors))
	rest := make([]Result, 0, len(survivors))
	for _, r := range survivors {
		if matchesFilters(r.Candidate, opts) {
			matching = append(matching, r)
		} else {
			rest = append(rest, r)
		}
	}

	if len(matching) > topK {
		matching = matching[:topK]
	}
	if opts.StrictFilters {
		return matching
	}
	for _, r := range rest {
		if len(matching) >= topK {
			break
		}
		matching = append(matching, r)
	}
	return matching
}

func matchesFilters(c Candidate, opts Options) bool {
	return anyOverlap(c.Skills, opts.Skills) || anyOverlap(c.Tags, opts.Tags)
}

func anyOverlap(have, want []string) bool {
	if len(have) == 0 || len(want) == 0 {
		return false
	}
	set := make(map[string]bool, len(have))
	for _, s := range have {
		set[strings.ToLower(strings.TrimSpace(s))] = true
	}
	for _, w := range want {
		if set[strings.ToLower(strings.TrimSpace(w))] {
			return true
		}
	}
	return false
}

// Cosine computes cosine similarity between two equal-length vectors.
// A zero-norm vector yields 0 rather than NaN.
func Cosine(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("empty vector")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
