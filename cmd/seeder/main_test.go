package main

import (
	"context"
	"testing"

	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/ingestion"
	"github.com/poiesic/skillgraph/source"
	"github.com/poiesic/skillgraph/state"
	"github.com/poiesic/skillgraph/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
)

var small = sizes{occupations: 4, skills: 6, skillGroups: 3, iscoGroups: 2, perOcc: 3}

func TestSeed_IngestsCleanly(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	require.NoError(t, seed(ctx, bucket, generator{sizes: small, seed: 7}))
	for _, name := range source.Files() {
		ok, err := bucket.Exists(ctx, name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}

	objectRepo, metadataRepo, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer func() {
		metadataRepo.Close()
		objectRepo.Close()
		backend.Close()
	}()
	states, err := state.NewManager(metadataRepo)
	require.NoError(t, err)
	reader, err := source.NewReader(bucket)
	require.NoError(t, err)

	orchestrator, err := ingestion.NewOrchestrator(objectRepo, states, reader, core.NewIngestionConfig("mem://", core.WithBatchSize(4)))
	require.NoError(t, err)
	result, err := orchestrator.Run(ctx, ingestion.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, core.StateCompleted, result.FinalState)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Metrics.SkippedRows, "every generated endpoint exists")
	assert.Equal(t, map[core.EntityClass]int{
		core.ClassISCOGroup:       2,
		core.ClassOccupation:      4,
		core.ClassSkill:           6,
		core.ClassSkillGroup:      3,
		core.ClassSkillCollection: 1,
	}, result.Metrics.ClassCounts)
	assert.Equal(t, map[string]int{
		ingestion.RelationSkillHierarchy:  4,
		ingestion.RelationOccupationSkill: 24,
		ingestion.RelationISCOGroup:       8,
		ingestion.RelationSkillCollection: 4,
		ingestion.RelationSkillSkill:      5,
		ingestion.RelationBroaderSkill:    10,
	}, result.Metrics.RelationCounts)
}

func TestSeed_Deterministic(t *testing.T) {
	ctx := context.Background()
	read := func() []byte {
		bucket := memblob.OpenBucket(nil)
		defer bucket.Close()
		require.NoError(t, seed(ctx, bucket, generator{sizes: small, seed: 42}))
		data, err := bucket.ReadAll(ctx, source.FileSkills)
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, read(), read())
}

func TestSizes_Validate(t *testing.T) {
	assert.NoError(t, small.validate())

	bad := small
	bad.skills = 1
	assert.Error(t, bad.validate())

	bad = small
	bad.perOcc = 7
	assert.Error(t, bad.validate())
}
