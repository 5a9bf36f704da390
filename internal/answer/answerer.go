package answer

import (
	"context"
	"fmt"
	"strings"

	"vitae/internal/evidence"
	"vitae/internal/retrieval"
	"vitae/internal/scoring"
)

// NoInformationText is returned verbatim when retrieval produces
// nothing above the similarity threshold. The completion service is
// not consulted in that case.
const NoInformationText = "I don't have information about that in the career history. " +
	"Try rephrasing the question or asking about a different role, project, or skill."

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

type CompletionResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, queryVector []float32, opts retrieval.Options, profile scoring.Profile) ([]retrieval.Result, error)
}

type ProfileSource interface {
	Active(ctx context.Context) scoring.Profile
}

// Answer is the full response for one question: generated text plus
// the retrieval-derived confidence signals that justify it.
type Answer struct {
	Text       string     `json:"text"`
	Confidence Confidence `json:"confidence"`
	Sources    []string   `json:"sources"`
	Rationale  string     `json:"rationale"`
}

type Options struct {
	TopK   int
	Skills []string
	Tags   []string
}

type Config struct {
	Temperature float32
	MaxTokens   int
}

func (c Config) withDefaults() Config {
	if c.Temperature <= 0 {
		c.Temperature = 0.3
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	return c
}

type Answerer struct {
	embedder  QueryEmbedder
	retriever Retriever
	profiles  ProfileSource
	allocator *evidence.Allocator
	completer Completer
	cfg       Config
}

func NewAnswerer(e QueryEmbedder, r Retriever, p ProfileSource, a *evidence.Allocator, c Completer, cfg Config) *Answerer {
	return &Answerer{
		embedder:  e,
		retriever: r,
		profiles:  p,
		allocator: a,
		completer: c,
		cfg:       cfg.withDefaults(),
	}
}

// Answer retrieves context for the query, generates a grounded reply,
// and derives confidence from retrieval statistics rather than from
// the model's own claims.
func (a *Answerer) Answer(ctx context.Context, query string, opts Options) (*Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	profile := a.profiles.Active(ctx)

	vec, err := a.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := a.retriever.Retrieve(ctx, vec, retrieval.Options{
		Query:  query,
		TopK:   opts.TopK,
		Skills: opts.Skills,
		Tags:   opts.Tags,
	}, profile)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	if len(results) == 0 {
		return &Answer{
			Text:       NoInformationText,
			Confidence: ConfidenceLow,
			Sources:    []string{},
			Rationale:  "No stored experience cleared the similarity threshold for this question.",
		}, nil
	}

	sys := a.systemPrompt(results)
	contextText := a.allocator.FitToBudget(results, len(sys)+len(query))
	if len(contextText) < a.allocator.MinContextChars() {
		return nil, evidence.ErrInsufficientEvidence
	}

	resp, err := a.completer.Complete(ctx, CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: sys},
			{Role: "user", Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, query)},
		},
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	sig := deriveSignals(results, resp.Text)
	return &Answer{
		Text:       resp.Text,
		Confidence: sig.confidence(),
		Sources:    sourceLabels(results),
		Rationale:  sig.rationale(),
	}, nil
}

// systemPrompt adapts the instructions to what retrieval actually
// found: push for numbers when the evidence has them, flag currency
// when the evidence is recent.
func (a *Answerer) systemPrompt(results []retrieval.Result) string {
	var sb strings.Builder
	sb.WriteString("You are a career assistant answering questions strictly from the provided context. ")
	sb.WriteString("If the context does not cover the question, say so instead of guessing.")

	if anyQuantified(results) {
		sb.WriteString(" The context contains quantified results; cite the specific figures when they support the answer.")
	}
	if anyRecent(results) {
		sb.WriteString(" Prefer the most recent experience when the context spans multiple periods.")
	}
	return sb.String()
}

func anyQuantified(results []retrieval.Result) bool {
	for _, r := range results {
		if evidence.HasQuantifiedContent(r.Content) {
			return true
		}
	}
	return false
}

// recentThreshold marks a recency score high enough to count as
// current experience, roughly within the last year or two under the
// default decay settings.
const recentThreshold = 0.85

func anyRecent(results []retrieval.Result) bool {
	for _, r := range results {
		if r.Recency >= recentThreshold {
			return true
		}
	}
	return false
}

// sourceLabels returns the distinct source labels in rank order.
func sourceLabels(results []retrieval.Result) []string {
	seen := make(map[string]bool, len(results))
	labels := make([]string, 0, len(results))
	for _, r := range results {
		label := r.Title
		if label == "" {
			label = r.SourceID
		}
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	return labels
}
