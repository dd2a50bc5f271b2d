package badger

import (
	"context"
	"fmt"
	"testing"

	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestRepos(t *testing.T) (storage.ObjectRepository, storage.MetadataRepository) {
	t.Helper()
	objectRepo, metadataRepo, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() {
		metadataRepo.Close()
		objectRepo.Close()
		backend.Close()
	})
	return objectRepo, metadataRepo
}

func skill(uri, label string) *core.Object {
	return &core.Object{
		Class:      core.ClassSkill,
		ExternalID: uri,
		Fields:     map[string]string{core.FieldPreferredLabel: label},
	}
}

func TestSchema(t *testing.T) {
	repo, _ := newTestRepos(t)
	ctx := context.Background()

	ready, err := repo.SchemaReady(ctx)
	require.NoError(t, err)
	assert.False(t, ready)

	require.NoError(t, repo.EnsureSchema(ctx))
	require.NoError(t, repo.EnsureSchema(ctx))

	ready, err = repo.SchemaReady(ctx)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.True(t, repo.IsConnected(ctx))
}

func TestCreateAndFindObject(t *testing.T) {
	repo, _ := newTestRepos(t)
	ctx := context.Background()

	id, err := repo.CreateObject(ctx, skill("http://x/skill/1", "welding"))
	require.NoError(t, err)
	assert.Equal(t, core.ObjectID(core.ClassSkill, "http://x/skill/1"), id)

	found, err := repo.FindByIdentifier(ctx, core.ClassSkill, "http://x/skill/1")
	require.NoError(t, err)
	assert.Equal(t, id, found)

	_, err = repo.FindByIdentifier(ctx, core.ClassOccupation, "http://x/skill/1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = repo.CreateObject(ctx, skill("http://x/skill/1", "welding"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	obj, err := repo.GetObject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "welding", obj.Label())
	assert.False(t, obj.InsertedAt.IsZero())
}

func TestCreateObject_Invalid(t *testing.T) {
	repo, _ := newTestRepos(t)
	_, err := repo.CreateObject(context.Background(), &core.Object{Class: core.ClassSkill})
	assert.ErrorIs(t, err, core.ErrEmptyExternalID)
}

func TestUpdateObject(t *testing.T) {
	repo, _ := newTestRepos(t)
	ctx := context.Background()

	id, err := repo.CreateObject(ctx, skill("http://x/skill/1", "welding"))
	require.NoError(t, err)

	require.NoError(t, repo.UpdateObject(ctx, id, map[string]string{core.FieldPreferredLabel: "arc welding"}))

	obj, err := repo.GetObject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "arc welding", obj.Label())
	assert.Equal(t, "http://x/skill/1", obj.ExternalID, "identifier is immutable")

	err = repo.UpdateObject(ctx, core.ID(12345), nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpsertObjects(t *testing.T) {
	repo, _ := newTestRepos(t)
	ctx := context.Background()

	first := skill("http://x/skill/1", "welding")
	first.Vector = []float32{1, 0}
	stats, err := repo.UpsertObjects(ctx, first, skill("http://x/skill/2", "baking"))
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertStats{Created: 2}, stats)

	stats, err = repo.UpsertObjects(ctx, skill("http://x/skill/1", "arc welding"), skill("http://x/skill/3", "sewing"))
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertStats{Created: 1, Updated: 1}, stats)

	count, err := repo.CountObjects(ctx, core.ClassSkill)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	obj, err := repo.GetObject(ctx, core.ObjectID(core.ClassSkill, "http://x/skill/1"))
	require.NoError(t, err)
	assert.Equal(t, "arc welding", obj.Label())
	assert.Equal(t, []float32{1, 0}, obj.Vector, "vector kept when update carries none")
	assert.True(t, obj.UpdatedAt.After(obj.InsertedAt) || obj.UpdatedAt.Equal(obj.InsertedAt))
}

func TestUpsertObjects_RejectsWholeBatchOnInvalid(t *testing.T) {
	repo, _ := newTestRepos(t)
	ctx := context.Background()

	_, err := repo.UpsertObjects(ctx, skill("http://x/skill/1", "a"), &core.Object{Class: core.ClassSkill})
	require.Error(t, err)

	count, err := repo.CountObjects(ctx, core.ClassSkill)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpsertObjects_IdempotentProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		objectRepo, metadataRepo, backend, err := NewMemoryRepositories()
		if err != nil {
			rt.Fatal(err)
		}
		defer func() { metadataRepo.Close(); objectRepo.Close(); backend.Close() }()
		ctx := context.Background()

		uris := rapid.SliceOfN(rapid.IntRange(0, 50), 1, 40).Draw(rt, "uris")
		build := func() []*core.Object {
			objs := make([]*core.Object, len(uris))
			for i, n := range uris {
				objs[i] = skill(fmt.Sprintf("http://x/skill/%d", n), fmt.Sprintf("label %d", n))
			}
			return objs
		}

		unique := make(map[int]bool)
		for _, n := range uris {
			unique[n] = true
		}

		runs := rapid.IntRange(1, 3).Draw(rt, "runs")
		for i := 0; i < runs; i++ {
			if _, err := objectRepo.UpsertObjects(ctx, build()...); err != nil {
				rt.Fatal(err)
			}
		}

		count, err := objectRepo.CountObjects(ctx, core.ClassSkill)
		if err != nil {
			rt.Fatal(err)
		}
		if count != len(unique) {
			rt.Fatalf("count = %d after %d runs, want %d unique", count, runs, len(unique))
		}
	})
}

func TestListIdentifiersAndForEach(t *testing.T) {
	repo, _ := newTestRepos(t)
	ctx := context.Background()

	var objs []*core.Object
	for i := 0; i < 25; i++ {
		objs = append(objs, skill(fmt.Sprintf("http://x/skill/%d", i), "s"))
	}
	_, err := repo.UpsertObjects(ctx, objs...)
	require.NoError(t, err)
	_, err = repo.UpsertObjects(ctx, &core.Object{Class: core.ClassSkillGroup, ExternalID: "http://x/group/1"})
	require.NoError(t, err)

	ids, err := repo.ListIdentifiers(ctx, core.ClassSkill)
	require.NoError(t, err)
	assert.Len(t, ids, 25)
	assert.Equal(t, core.ObjectID(core.ClassSkill, "http://x/skill/7"), ids["http://x/skill/7"])

	groups, err := repo.ListIdentifiers(ctx, core.ClassSkillGroup)
	require.NoError(t, err)
	assert.Len(t, groups, 1, "class prefixes must not overlap")

	var batches, total int
	err = repo.ForEachObject(ctx, core.ClassSkill, 10, func(batch []*core.Object) error {
		batches++
		total += len(batch)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, batches)
	assert.Equal(t, 25, total)

	err = repo.ForEachObject(ctx, core.ClassSkill, 0, func([]*core.Object) error { return nil })
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestReferences_SetSemantics(t *testing.T) {
	repo, _ := newTestRepos(t)
	ctx := context.Background()

	_, err := repo.UpsertObjects(ctx, skill("a", "a"), skill("b", "b"), skill("c", "c"))
	require.NoError(t, err)
	a := core.ObjectID(core.ClassSkill, "a")
	b := core.ObjectID(core.ClassSkill, "b")
	c := core.ObjectID(core.ClassSkill, "c")

	added, err := repo.AddReferences(ctx,
		core.Reference{From: a, Property: "hasRelatedSkill", To: b},
		core.Reference{From: a, Property: "hasRelatedSkill", To: c},
		core.Reference{From: a, Property: "hasRelatedSkill", To: b},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = repo.AddReferences(ctx, core.Reference{From: a, Property: "hasRelatedSkill", To: b})
	require.NoError(t, err)
	assert.Zero(t, added)

	targets, err := repo.GetReferences(ctx, a, "hasRelatedSkill")
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.ID{b, c}, targets)

	count, err := repo.CountReferences(ctx, "hasRelatedSkill")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = repo.CountReferences(ctx, "hasRelated")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReferences_Dangling(t *testing.T) {
	repo, _ := newTestRepos(t)
	ctx := context.Background()

	_, err := repo.UpsertObjects(ctx, skill("a", "a"))
	require.NoError(t, err)

	_, err = repo.AddReferences(ctx, core.Reference{
		From:     core.ObjectID(core.ClassSkill, "a"),
		Property: "broaderSkill",
		To:       core.ObjectID(core.ClassSkill, "missing"),
	})
	assert.ErrorIs(t, err, storage.ErrDanglingReference)
}

func TestUpdateVectorsAndFindSimilar(t *testing.T) {
	repo, _ := newTestRepos(t)
	ctx := context.Background()

	occ := &core.Object{Class: core.ClassOccupation, ExternalID: "o", Fields: map[string]string{core.FieldPreferredLabel: "baker"}}
	_, err := repo.UpsertObjects(ctx, skill("a", "a"), skill("b", "b"), occ)
	require.NoError(t, err)

	results, err := repo.FindSimilar(ctx, []float32{1, 0}, 0.5, 10)
	require.NoError(t, err)
	assert.Empty(t, results, "objects without vectors are skipped")

	err = repo.UpdateVectors(ctx, map[core.ID][]float32{
		core.ObjectID(core.ClassSkill, "a"):      {1, 0},
		core.ObjectID(core.ClassSkill, "b"):      {0.6, 0.8},
		core.ObjectID(core.ClassOccupation, "o"): {0.9, 0.1},
	})
	require.NoError(t, err)

	results, err = repo.FindSimilar(ctx, []float32{1, 0}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Object.ExternalID)
	assert.Equal(t, "o", results[1].Object.ExternalID)

	results, err = repo.FindSimilar(ctx, []float32{1, 0}, 0.5, 1, core.ClassSkill)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ClassSkill, results[0].Object.Class)

	err = repo.UpdateVectors(ctx, map[core.ID][]float32{core.ID(1): {1}})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
