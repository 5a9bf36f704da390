package weaviate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/weaviate/weaviate/entities/models"

	adapter "vitae/internal/adapter/weaviate"
)

type MockSchemaClient struct{ mock.Mock }

func (m *MockSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	args := m.Called(ctx, className)
	return args.Bool(0), args.Error(1)
}

func (m *MockSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	return m.Called(ctx, class).Error(0)
}

func (m *MockSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	args := m.Called(ctx, className)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Class), args.Error(1)
}

func (m *MockSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return m.Called(ctx, className, property).Error(0)
}

func TestEnsureSchema_CreatesMissingClass(t *testing.T) {
	client := new(MockSchemaClient)
	client.On("ClassExists", mock.Anything, "CareerChunk").Return(false, nil)
	client.On("CreateClass", mock.Anything, mock.MatchedBy(func(c *models.Class) bool {
		if c.Class != "CareerChunk" || c.Vectorizer != "none" {
			return false
		}
		names := make(map[string]bool)
		for _, p := range c.Properties {
			names[p.Name] = true
		}
		return names["content"] && names["contentHash"] && names["embeddingStatus"] &&
			names["skills"] && names["dateStart"] && names["dateEnd"]
	})).Return(nil)

	err := adapter.EnsureSchema(context.Background(), client)
	assert.NoError(t, err)
	client.AssertExpectations(t)
}

func TestEnsureSchema_AddsMissingProperties(t *testing.T) {
	client := new(MockSchemaClient)
	client.On("ClassExists", mock.Anything, "CareerChunk").Return(true, nil)
	client.On("GetClass", mock.Anything, "CareerChunk").Return(&models.Class{
		Class: "CareerChunk",
		Properties: []*models.Property{
			{Name: "sourceId"}, {Name: "kind"}, {Name: "title"}, {Name: "content"},
			{Name: "skills"}, {Name: "tags"}, {Name: "dateStart"}, {Name: "dateEnd"},
			{Name: "tokenCount"}, {Name: "contentHash"},
		},
	}, nil)
	client.On("AddProperty", mock.Anything, "CareerChunk", mock.MatchedBy(func(p *models.Property) bool {
		return p.Name == "embeddingStatus"
	})).Return(nil)

	err := adapter.EnsureSchema(context.Background(), client)
	assert.NoError(t, err)
	client.AssertExpectations(t)
}

func TestEnsureSchema_NoChangesWhenComplete(t *testing.T) {
	props := []*models.Property{
		{Name: "sourceId"}, {Name: "kind"}, {Name: "title"}, {Name: "content"},
		{Name: "skills"}, {Name: "tags"}, {Name: "dateStart"}, {Name: "dateEnd"},
		{Name: "tokenCount"}, {Name: "contentHash"}, {Name: "embeddingStatus"},
	}
	client := new(MockSchemaClient)
	client.On("ClassExists", mock.Anything, "CareerChunk").Return(true, nil)
	client.On("GetClass", mock.Anything, "CareerChunk").Return(&models.Class{Class: "CareerChunk", Properties: props}, nil)

	err := adapter.EnsureSchema(context.Background(), client)
	assert.NoError(t, err)
	client.AssertNotCalled(t, "AddProperty", mock.Anything, mock.Anything, mock.Anything)
}

func TestEnsureSchema_PropagatesErrors(t *testing.T) {
	client := new(MockSchemaClient)
	client.On("ClassExists", mock.Anything, "CareerChunk").Return(false, errors.New("connection refused"))

	err := adapter.EnsureSchema(context.Background(), client)
	assert.Error(t, err)
}
