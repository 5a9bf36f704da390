package answer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vitae/internal/retrieval"
)

func TestSignals_ConfidenceTiers(t *testing.T) {
	tests := []struct {
		name string
		sig  signals
		want Confidence
	}{
		{
			name: "everything strong",
			sig:  signals{avgSimilarity: 0.85, chunkCount: 6, answerLen: 500, hasNumbers: true, hasRecent: true},
			// 0.35 + 0.20 + 0.15 + 0.10 + 0.10 = 0.90
			want: ConfidenceVeryHigh,
		},
		{
			name: "good similarity, few chunks",
			sig:  signals{avgSimilarity: 0.70, chunkCount: 3, answerLen: 200, hasNumbers: false, hasRecent: true},
			// 0.25 + 0.12 + 0.10 + 0.10 = 0.57
			want: ConfidenceMedium,
		},
		{
			name: "single weak chunk, terse answer",
			sig:  signals{avgSimilarity: 0.40, chunkCount: 1, answerLen: 30},
			// 0.05 + 0.04 = 0.09
			want: ConfidenceVeryLow,
		},
		{
			name: "moderate similarity with numbers",
			sig:  signals{avgSimilarity: 0.55, chunkCount: 4, answerLen: 180, hasNumbers: true},
			// 0.15 + 0.16 + 0.10 + 0.10 = 0.51
			want: ConfidenceMedium,
		},
		{
			name: "strong similarity alone",
			sig:  signals{avgSimilarity: 0.82, chunkCount: 2, answerLen: 160},
			// 0.35 + 0.08 + 0.10 = 0.53
			want: ConfidenceMedium,
		},
		{
			name: "strong evidence and recency",
			sig:  signals{avgSimilarity: 0.82, chunkCount: 5, answerLen: 450, hasRecent: true},
			// 0.35 + 0.20 + 0.15 + 0.10 = 0.80
			want: ConfidenceVeryHigh,
		},
		{
			name: "high band",
			sig:  signals{avgSimilarity: 0.70, chunkCount: 5, answerLen: 450, hasNumbers: true},
			// 0.25 + 0.20 + 0.15 + 0.10 = 0.70
			want: ConfidenceHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sig.confidence())
		})
	}
}

func TestSignals_ChunkCountDiminishingReturns(t *testing.T) {
	base := signals{avgSimilarity: 0.7, answerLen: 100}

	five := base
	five.chunkCount = 5
	fifty := base
	fifty.chunkCount = 50

	assert.Equal(t, five.score(), fifty.score(), "chunk contribution caps at five")
	four := base
	four.chunkCount = 4
	assert.Greater(t, five.score(), four.score())
}

func TestDeriveSignals(t *testing.T) {
	results := []retrieval.Result{
		{Candidate: retrieval.Candidate{Title: "Acme"}, Similarity: 0.9, Recency: 0.95},
		{Candidate: retrieval.Candidate{Title: "Acme"}, Similarity: 0.7, Recency: 0.4},
		{Candidate: retrieval.Candidate{Title: "Beta"}, Similarity: 0.5, Recency: 0.2},
	}

	sig := deriveSignals(results, "Cut costs by 40% over two quarters.")
	assert.InDelta(t, 0.7, sig.avgSimilarity, 1e-9)
	assert.Equal(t, 3, sig.chunkCount)
	assert.Equal(t, 2, sig.sourceCount, "duplicate source titles collapse")
	assert.True(t, sig.hasNumbers)
	assert.True(t, sig.hasRecent)
}

func TestRationale_Deterministic(t *testing.T) {
	sig := signals{avgSimilarity: 0.7, chunkCount: 3, sourceCount: 2, hasNumbers: true, hasRecent: false}

	want := "Answer drawn from 3 chunks across 2 sources with good similarity to the question; the answer cites quantified results."
	assert.Equal(t, want, sig.rationale())
	assert.Equal(t, sig.rationale(), sig.rationale())
}

func TestRationale_SingularForms(t *testing.T) {
	sig := signals{avgSimilarity: 0.45, chunkCount: 1, sourceCount: 1}
	assert.Equal(t, "Answer drawn from 1 chunk across 1 source with weak similarity to the question.", sig.rationale())
}
