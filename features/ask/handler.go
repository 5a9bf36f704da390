package ask

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"vitae/internal/answer"
	"vitae/internal/evidence"
	"vitae/internal/middleware"
	"vitae/internal/retrieval"
	"vitae/internal/scoring"
)

type Answerer interface {
	Answer(ctx context.Context, query string, opts answer.Options) (*answer.Answer, error)
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

type Handler struct {
	answerer  Answerer
	embedder  QueryEmbedder
	retriever Retriever
	profiles  ProfileSource
}

func NewHandler(answerer Answerer, embedder QueryEmbedder, retriever Retriever, profiles ProfileSource) *Handler {
	return &Handler{
		answerer:  answerer,
		embedder:  embedder,
		retriever: retriever,
		profiles:  profiles,
	}
}

type askRequest struct {
	Question string   `json:"question"`
	TopK     int      `json:"top_k,omitempty"`
	Skills   []string `json:"skills,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Ask answers a question about the stored career history.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "question is required", http.StatusBadRequest)
		return
	}

	ans, err := h.answerer.Answer(r.Context(), req.Question, answer.Options{
		TopK:   req.TopK,
		Skills: req.Skills,
		Tags:   req.Tags,
	})
	if err != nil {
		if errors.Is(err, evidence.ErrInsufficientEvidence) {
			h.writeError(r.Context(), w, "INSUFFICIENT_EVIDENCE",
				"retrieved context is too thin to answer reliably", http.StatusUnprocessableEntity)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"data": ans})
}

type searchRequest struct {
	Query         string   `json:"query"`
	TopK          int      `json:"top_k,omitempty"`
	Skills        []string `json:"skills,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	StrictFilters bool     `json:"strict_filters,omitempty"`
}

type searchResult struct {
	ID            string   `json:"id"`
	SourceID      string   `json:"source_id"`
	Kind          string   `json:"kind"`
	Title         string   `json:"title,omitempty"`
	Content       string   `json:"content"`
	Skills        []string `json:"skills,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Similarity    float64  `json:"similarity"`
	Recency       float64  `json:"recency"`
	MetadataBoost float64  `json:"metadata_boost"`
	Score         float64  `json:"score"`
	Band          string   `json:"band"`
}

// Search exposes raw ranked retrieval without generation, mainly for
// tuning the scoring profile.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "query is required", http.StatusBadRequest)
		return
	}

	vector, err := h.embedder.EmbedQuery(r.Context(), req.Query)
	if err != nil {
		h.writeError(r.Context(), w, "EMBEDDING_ERROR", err.Error(), http.StatusBadGateway)
		return
	}

	profile := h.profiles.Active(r.Context())
	results, err := h.retriever.Retrieve(r.Context(), vector, retrieval.Options{
		Query:         req.Query,
		TopK:          req.TopK,
		Skills:        req.Skills,
		Tags:          req.Tags,
		StrictFilters: req.StrictFilters,
	}, profile)
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]searchResult, 0, len(results))
	for _, res := range results {
		out = append(out, searchResult{
			ID:            res.ID,
			SourceID:      res.SourceID,
			Kind:          res.Kind,
			Title:         res.Title,
			Content:       res.Content,
			Skills:        res.Skills,
			Tags:          res.Tags,
			Similarity:    res.Similarity,
			Recency:       res.Recency,
			MetadataBoost: res.MetadataBoost,
			Score:         res.Score,
			Band:          res.Band,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"data": out})
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	json.NewEncoder(w).Encode(resp)
}
