package skillgraph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/skillgraph/ai/mock"
	"github.com/poiesic/skillgraph/config"
	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/ingestion"
	"github.com/poiesic/skillgraph/search"
	"github.com/poiesic/skillgraph/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"
)

var entityFiles = map[string]string{
	source.FileISCOGroups: "conceptType,conceptUri,code,preferredLabel,altLabels,description\n" +
		"ISCOGroup,http://isco/25,25,ICT professionals,,ICT\n",
	source.FileOccupations: "conceptType,conceptUri,iscoGroup,preferredLabel,altLabels,description,code\n" +
		"Occupation,http://occ/dev,2512,software developer,coder,Software developers write software,2512.1\n",
	source.FileSkills: "conceptType,conceptUri,skillType,reuseLevel,preferredLabel,altLabels,description\n" +
		"KnowledgeSkillCompetence,http://skill/go,skill/competence,sector-specific,program in Go,,\n" +
		"KnowledgeSkillCompetence,http://skill/linux,skill/competence,sector-specific,administer Linux,,\n",
	source.FileSkillGroups: "conceptType,conceptUri,preferredLabel,altLabels,description,code\n" +
		"SkillGroup,http://sg/S5,working with computers,,,S5\n",
	source.FileConceptSchemes: "conceptType,conceptSchemeUri,preferredLabel,title,status,description\n" +
		"ConceptScheme,http://cs/digital,Digital skills collection,,released,Digital skills\n",
}

func newBucket(t *testing.T, files map[string]string) *blob.Bucket {
	t.Helper()
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	for name, body := range files {
		require.NoError(t, bucket.WriteAll(context.Background(), name, []byte(body), nil))
	}
	return bucket
}

func newTestConfig() core.IngestionConfig {
	return core.NewIngestionConfig("mem://", core.WithBatchSize(10))
}

func TestNewDatabase(t *testing.T) {
	ctx := context.Background()

	t.Run("create new database", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "test_db")
		db, err := NewDatabase(ctx, dir, newTestConfig(), WithBucket(newBucket(t, nil)))
		require.NoError(t, err)
		require.NotNil(t, db)
		defer db.Close()

		assert.NotNil(t, db.ObjectRepository())
		assert.NotNil(t, db.MetadataRepository())
		assert.NotNil(t, db.StateManager())
		assert.False(t, db.EmbeddingsEnabled())
		assert.Equal(t, 10, db.Config().BatchSize())
	})

	t.Run("error with invalid path", func(t *testing.T) {
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0644))

		db, err := NewDatabase(ctx, tmpFile, newTestConfig(), WithBucket(newBucket(t, nil)))
		assert.Error(t, err)
		assert.Nil(t, db)
	})

	t.Run("error with missing data directory", func(t *testing.T) {
		cfg := core.NewIngestionConfig(filepath.Join(t.TempDir(), "absent"))
		db, err := NewDatabase(ctx, "", cfg, WithInMemory())
		assert.ErrorIs(t, err, source.ErrLocationNotFound)
		assert.Nil(t, db)
	})
}

func TestOpen_FromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DataSource = t.TempDir()
	cfg.StorePath = filepath.Join(t.TempDir(), "store")
	cfg.AI.Enabled = true

	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()
	assert.True(t, db.EmbeddingsEnabled())
}

func TestDatabase_FactoryMethods(t *testing.T) {
	ctx := context.Background()

	t.Run("without embeddings", func(t *testing.T) {
		db, err := NewDatabase(ctx, "", newTestConfig(), WithInMemory(), WithBucket(newBucket(t, nil)))
		require.NoError(t, err)
		defer db.Close()

		service, err := db.NewService()
		require.NoError(t, err)
		service.Close()

		_, err = db.NewSearcher()
		assert.ErrorIs(t, err, ErrEmbeddingsDisabled)
		_, err = db.NewReembedder()
		assert.ErrorIs(t, err, ErrEmbeddingsDisabled)
	})

	t.Run("with embeddings", func(t *testing.T) {
		db, err := NewDatabase(ctx, "", newTestConfig(), WithInMemory(),
			WithBucket(newBucket(t, nil)), WithProvider(mock.NewMockProvider()))
		require.NoError(t, err)
		defer db.Close()

		searcher, err := db.NewSearcher()
		require.NoError(t, err)
		assert.NotNil(t, searcher)

		reembedder, err := db.NewReembedder()
		require.NoError(t, err)
		assert.NotNil(t, reembedder)
	})
}

func TestDatabase_IngestThenSearch(t *testing.T) {
	ctx := context.Background()
	db, err := NewDatabase(ctx, "", newTestConfig(), WithInMemory(),
		WithBucket(newBucket(t, entityFiles)), WithProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	defer db.Close()

	searcher, err := db.NewSearcher(search.WithMinSimilarity(0.5))
	require.NoError(t, err)
	_, err = searcher.FindSimilar(ctx, "administer Linux", 3)
	assert.ErrorIs(t, err, search.ErrIngestionNotComplete)

	service, err := db.NewService()
	require.NoError(t, err)
	defer service.Close()

	result, err := service.RunIngestion(ctx, ingestion.RunOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success, result.Errors)
	assert.Equal(t, core.StateCompleted, result.FinalState)
	assert.Equal(t, 2, result.Metrics.ClassCounts[core.ClassSkill])
	assert.NotEmpty(t, result.Warnings, "relation files are absent")

	results, err := searcher.FindSimilar(ctx, "administer Linux", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "http://skill/linux", results[0].Object.ExternalID)
}
