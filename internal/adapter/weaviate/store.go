package weaviate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"vitae/internal/retrieval"
	"vitae/internal/worker"
)

// Store persists chunk records and their vectors. Dedup is enforced on
// write: InsertChunk checks the content hash before creating the
// object, which keeps at-least-once ingestion idempotent.
type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) InsertChunk(ctx context.Context, rec worker.ChunkRecord) (string, bool, error) {
	exists, err := s.hashExists(ctx, rec.ContentHash)
	if err != nil {
		return "", false, err
	}
	if exists {
		return "", true, nil
	}

	props := map[string]interface{}{
		"sourceId":        rec.SourceID,
		"kind":            rec.Kind,
		"title":           rec.Title,
		"content":         rec.Content,
		"skills":          rec.Skills,
		"tags":            rec.Tags,
		"tokenCount":      rec.TokenCount,
		"contentHash":     rec.ContentHash,
		"embeddingStatus": rec.Status,
	}
	if rec.DateStart != nil {
		props["dateStart"] = rec.DateStart.Format(time.RFC3339)
	}
	if rec.DateEnd != nil {
		props["dateEnd"] = rec.DateEnd.Format(time.RFC3339)
	}

	obj, err := s.client.Data().Creator().
		WithClassName(ClassName).
		WithProperties(props).
		WithVector(rec.Vector).
		Do(ctx)
	if err != nil {
		return "", false, err
	}
	return string(obj.Object.ID), false, nil
}

func (s *Store) hashExists(ctx context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}

	where := filters.Where().
		WithPath([]string{"contentHash"}).
		WithOperator(filters.Equal).
		WithValueString(hash)

	res, err := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithWhere(where).
		WithLimit(1).
		WithFields(graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}}).
		Do(ctx)
	if err != nil {
		return false, err
	}
	if len(res.Errors) > 0 {
		return false, fmt.Errorf("graphql error: %v", res.Errors)
	}
	return len(classObjects(res.Data)) > 0, nil
}

// ExistingHashes returns the content hashes already stored for a
// source, for dedup before embedding.
func (s *Store) ExistingHashes(ctx context.Context, sourceID string) (map[string]bool, error) {
	where := filters.Where().
		WithPath([]string{"sourceId"}).
		WithOperator(filters.Equal).
		WithValueString(sourceID)

	res, err := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithWhere(where).
		WithLimit(1000).
		WithFields(graphql.Field{Name: "contentHash"}).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	hashes := make(map[string]bool)
	for _, props := range classObjects(res.Data) {
		if h := getString(props, "contentHash"); h != "" {
			hashes[h] = true
		}
	}
	return hashes, nil
}

// CandidatesByVector fetches the nearest chunks to the query vector,
// including each stored vector so the engine can score in-process.
func (s *Store) CandidatesByVector(ctx context.Context, vector []float32, limit int) ([]retrieval.Candidate, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	fields := []graphql.Field{
		{Name: "sourceId"},
		{Name: "kind"},
		{Name: "title"},
		{Name: "content"},
		{Name: "skills"},
		{Name: "tags"},
		{Name: "dateStart"},
		{Name: "dateEnd"},
		{Name: "tokenCount"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "vector"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var candidates []retrieval.Candidate
	for _, props := range classObjects(res.Data) {
		c := retrieval.Candidate{
			SourceID:   getString(props, "sourceId"),
			Kind:       getString(props, "kind"),
			Title:      getString(props, "title"),
			Content:    getString(props, "content"),
			Skills:     getStrings(props, "skills"),
			Tags:       getStrings(props, "tags"),
			DateStart:  getTime(props, "dateStart"),
			DateEnd:    getTime(props, "dateEnd"),
			TokenCount: getInt(props, "tokenCount"),
		}

		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				c.ID = id
			}
			vec, err := parseVector(additional["vector"])
			if err != nil {
				return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
			}
			c.Vector = vec
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func (s *Store) DeleteChunksBySource(ctx context.Context, sourceID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(ClassName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"sourceId"}).
			WithOperator(filters.Equal).
			WithValueString(sourceID)).
		Do(ctx)
	return err
}

func (s *Store) UpdateChunkStatus(ctx context.Context, id, status string) error {
	return s.client.Data().Updater().
		WithMerge().
		WithClassName(ClassName).
		WithID(id).
		WithProperties(map[string]interface{}{"embeddingStatus": status}).
		Do(ctx)
}

// classObjects unwraps the Get.<ClassName> list from a GraphQL response.
func classObjects(data map[string]interface{}) []map[string]interface{} {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := get[ClassName].([]interface{})
	if !ok {
		return nil
	}
	objects := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if props, ok := r.(map[string]interface{}); ok {
			objects = append(objects, props)
		}
	}
	return objects
}

// parseVector accepts the representations vectors come back in: a
// native float list from GraphQL, or a JSON string from rows written by
// older ingesters that serialized the vector as text.
func parseVector(raw interface{}) ([]float32, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []float32:
		return v, nil
	case []interface{}:
		out := make([]float32, len(v))
		for i, e := range v {
			f, ok := e.(float64)
			if !ok {
				return nil, fmt.Errorf("vector element %d is %T, not a number", i, e)
			}
			out[i] = float32(f)
		}
		return out, nil
	case string:
		var out []float32
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("vector stored as string is not valid JSON: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported vector representation %T", raw)
	}
}

func getString(props map[string]interface{}, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func getStrings(props map[string]interface{}, key string) []string {
	raw, ok := props[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getInt(props map[string]interface{}, key string) int {
	if v, ok := props[key].(float64); ok {
		return int(v)
	}
	return 0
}

func getTime(props map[string]interface{}, key string) *time.Time {
	v, ok := props[key].(string)
	if !ok || v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}
