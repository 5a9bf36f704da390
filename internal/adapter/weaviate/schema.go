package weaviate

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ClassName is the Weaviate class chunks live in.
const ClassName = "CareerChunk"

// SchemaClient is the subset of schema operations EnsureSchema needs.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// EnsureSchema creates the chunk class if missing, or adds any
// properties a newer build introduced to an existing class.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassName)
	if err != nil {
		return err
	}

	properties := []*models.Property{
		{Name: "sourceId", DataType: []string{"string"}}, // UUID as string (exact match)
		{Name: "kind", DataType: []string{"string"}},
		{Name: "title", DataType: []string{"text"}},
		{Name: "content", DataType: []string{"text"}},
		{Name: "skills", DataType: []string{"text[]"}},
		{Name: "tags", DataType: []string{"text[]"}},
		{Name: "dateStart", DataType: []string{"date"}},
		{Name: "dateEnd", DataType: []string{"date"}},
		{Name: "tokenCount", DataType: []string{"int"}},
		{Name: "contentHash", DataType: []string{"string"}},
		{Name: "embeddingStatus", DataType: []string{"string"}},
	}

	if !exists {
		class := &models.Class{
			Class:       ClassName,
			Description: "An embedded chunk of a career document",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, ClassName)
	if err != nil {
		return err
	}

	existing := make(map[string]bool)
	for _, p := range class.Properties {
		existing[p.Name] = true
	}
	for _, p := range properties {
		if !existing[p.Name] {
			if err := client.AddProperty(ctx, ClassName, p); err != nil {
				return err
			}
		}
	}
	return nil
}
