package source_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitae/features/source"
	"vitae/internal/testutils"
)

func TestPostgresRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	repo := source.NewPostgresRepository(suite.DB)
	ctx := context.Background()

	src := validSource()
	src.ContentHash = "integration-hash"
	src.Status = "in_progress"

	t.Run("save and get round trip", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, src))
		require.NotEmpty(t, src.ID)

		got, err := repo.Get(ctx, src.ID)
		require.NoError(t, err)
		assert.Equal(t, src.Title, got.Title)
		assert.Equal(t, src.Achievements, got.Achievements)
		assert.Equal(t, src.Skills, got.Skills)
		require.NotNil(t, got.StartDate)
		assert.Nil(t, got.EndDate)
	})

	t.Run("exists by hash", func(t *testing.T) {
		exists, err := repo.ExistsByHash(ctx, "integration-hash")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = repo.ExistsByHash(ctx, "unknown-hash")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("update status", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, src.ID, "completed"))
		got, err := repo.Get(ctx, src.ID)
		require.NoError(t, err)
		assert.Equal(t, "completed", got.Status)
	})

	t.Run("update record", func(t *testing.T) {
		src.Summary = "Rewritten summary after re-extraction."
		src.ContentHash = "integration-hash-2"
		require.NoError(t, repo.Update(ctx, src))
		got, err := repo.Get(ctx, src.ID)
		require.NoError(t, err)
		assert.Equal(t, "Rewritten summary after re-extraction.", got.Summary)
	})

	t.Run("soft delete hides the record", func(t *testing.T) {
		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		require.NoError(t, repo.SoftDelete(ctx, src.ID))

		_, err = repo.Get(ctx, src.ID)
		assert.ErrorIs(t, err, sql.ErrNoRows)

		count, err = repo.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)

		// Hashes of deleted records no longer block re-ingestion.
		exists, err := repo.ExistsByHash(ctx, "integration-hash-2")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}
