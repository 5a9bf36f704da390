package answer

import (
	"fmt"
	"strings"

	"vitae/internal/evidence"
	"vitae/internal/retrieval"
)

type Confidence string

const (
	ConfidenceVeryLow  Confidence = "very-low"
	ConfidenceLow      Confidence = "low"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceHigh     Confidence = "high"
	ConfidenceVeryHigh Confidence = "very-high"
)

// signals are the retrieval and answer statistics the confidence
// heuristic runs on. Deterministic given the same inputs, so both the
// label and the rationale are testable without a live model.
type signals struct {
	avgSimilarity float64
	chunkCount    int
	sourceCount   int
	answerLen     int
	hasNumbers    bool
	hasRecent     bool
}

func deriveSignals(results []retrieval.Result, answerText string) signals {
	var sum float64
	for _, r := range results {
		sum += r.Similarity
	}
	avg := 0.0
	if len(results) > 0 {
		avg = sum / float64(len(results))
	}

	return signals{
		avgSimilarity: avg,
		chunkCount:    len(results),
		sourceCount:   len(sourceLabels(results)),
		answerLen:     len(strings.TrimSpace(answerText)),
		hasNumbers:    evidence.HasQuantifiedContent(answerText),
		hasRecent:     anyRecent(results),
	}
}

// score accumulates fixed increments per signal. Chunk count gets
// diminishing returns via a cap at five chunks.
func (s signals) score() float64 {
	score := 0.0

	switch {
	case s.avgSimilarity >= 0.80:
		score += 0.35
	case s.avgSimilarity >= 0.65:
		score += 0.25
	case s.avgSimilarity >= 0.50:
		score += 0.15
	default:
		score += 0.05
	}

	chunks := s.chunkCount
	if chunks > 5 {
		chunks = 5
	}
	score += float64(chunks) * 0.04

	switch {
	case s.answerLen >= 400:
		score += 0.15
	case s.answerLen >= 150:
		score += 0.10
	case s.answerLen >= 40:
		score += 0.05
	}

	if s.hasNumbers {
		score += 0.10
	}
	if s.hasRecent {
		score += 0.10
	}
	return score
}

func (s signals) confidence() Confidence {
	switch score := s.score(); {
	case score >= 0.75:
		return ConfidenceVeryHigh
	case score >= 0.60:
		return ConfidenceHigh
	case score >= 0.45:
		return ConfidenceMedium
	case score >= 0.30:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

func (s signals) similarityTier() string {
	switch {
	case s.avgSimilarity >= 0.80:
		return "strong"
	case s.avgSimilarity >= 0.65:
		return "good"
	case s.avgSimilarity >= 0.50:
		return "moderate"
	default:
		return "weak"
	}
}

// rationale is a short templated explanation built from the same
// signals as the confidence score. Not model output.
func (s signals) rationale() string {
	noun := "chunks"
	if s.chunkCount == 1 {
		noun = "chunk"
	}
	sources := "sources"
	if s.sourceCount == 1 {
		sources = "source"
	}

	parts := []string{fmt.Sprintf("Answer drawn from %d %s across %d %s with %s similarity to the question",
		s.chunkCount, noun, s.sourceCount, sources, s.similarityTier())}

	if s.hasNumbers {
		parts = append(parts, "the answer cites quantified results")
	}
	if s.hasRecent {
		parts = append(parts, "the evidence includes recent experience")
	}
	return strings.Join(parts, "; ") + "."
}
