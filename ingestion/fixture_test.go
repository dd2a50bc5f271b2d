package ingestion

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/source"
	"github.com/poiesic/skillgraph/state"
	"github.com/poiesic/skillgraph/storage"
	"github.com/poiesic/skillgraph/storage/badger"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
)

// escoFixture is a small but complete ESCO data set.
var escoFixture = map[string]string{
	source.FileISCOGroups: "conceptType,conceptUri,code,preferredLabel,altLabels,description\n" +
		"ISCOGroup,http://isco/2,2,Professionals,,Professionals increase knowledge\n" +
		"ISCOGroup,http://isco/25,25,Information and communications technology professionals,,ICT\n",
	source.FileOccupations: "conceptType,conceptUri,iscoGroup,preferredLabel,altLabels,description,code\n" +
		"Occupation,http://occ/dev,2512,software developer,\"coder\nprogrammer\",Software developers write software,2512.1\n" +
		"Occupation,http://occ/admin,2522,system administrator,sysadmin|admin,Administrators keep systems running,2522.1\n",
	source.FileSkills: "conceptType,conceptUri,skillType,reuseLevel,preferredLabel,altLabels,description\n" +
		"KnowledgeSkillCompetence,http://skill/go,skill/competence,sector-specific,program in Go,,Write Go programs\n" +
		"KnowledgeSkillCompetence,http://skill/prog,knowledge,cross-sector,computer programming,,Principles of programming\n" +
		"KnowledgeSkillCompetence,http://skill/linux,skill/competence,sector-specific,administer Linux,,Operate Linux servers\n",
	source.FileSkillGroups: "conceptType,conceptUri,preferredLabel,altLabels,description,code\n" +
		"SkillGroup,http://sg/S,skills,,,S\n" +
		"SkillGroup,http://sg/S5,working with computers,,,S5\n",
	source.FileConceptSchemes: "conceptType,conceptSchemeUri,preferredLabel,title,status,description\n" +
		"ConceptScheme,http://cs/digital,Digital skills collection,,released,Digital skills\n",
	source.FileSkillsHierarchy: "Level 0 URI,Level 0 preferred term,Level 1 URI,Level 1 preferred term\n" +
		"http://sg/S,skills,http://sg/S5,working with computers\n",
	source.FileOccupationSkillRelations: "occupationUri,relationType,skillType,skillUri\n" +
		"http://occ/dev,essential,skill/competence,http://skill/go\n" +
		"http://occ/dev,optional,knowledge,http://skill/prog\n" +
		"http://occ/admin,essential,skill/competence,http://skill/linux\n" +
		"http://occ/admin,essential,skill/competence,http://skill/missing\n",
	source.FileBroaderRelationsOccPillar: "conceptType,conceptUri,broaderType,broaderUri\n" +
		"Occupation,http://occ/dev,ISCOGroup,http://isco/25\n" +
		"Occupation,http://occ/admin,ISCOGroup,http://isco/25\n" +
		"ISCOGroup,http://isco/25,ISCOGroup,http://isco/2\n",
	source.FileSkillCollectionRelations: "conceptSchemeUri,conceptUri,skillType,reuseLevel,preferredLabel,status\n" +
		"http://cs/digital,http://skill/go,skill/competence,sector-specific,program in Go,released\n" +
		"http://cs/digital,http://skill/linux,skill/competence,sector-specific,administer Linux,released\n",
	source.FileSkillSkillRelations: "originalSkillUri,originalSkillType,relationType,relatedSkillType,relatedSkillUri\n" +
		"http://skill/go,skill/competence,optional,knowledge,http://skill/prog\n",
	source.FileBroaderRelationsSkill: "conceptType,conceptUri,broaderType,broaderUri\n" +
		"KnowledgeSkillCompetence,http://skill/go,KnowledgeSkillCompetence,http://skill/prog\n" +
		"KnowledgeSkillCompetence,http://skill/linux,SkillGroup,http://sg/S5\n",
}

// Expected results of ingesting escoFixture.
var (
	fixtureClassCounts = map[core.EntityClass]int{
		core.ClassISCOGroup:       2,
		core.ClassOccupation:      2,
		core.ClassSkill:           3,
		core.ClassSkillGroup:      2,
		core.ClassSkillCollection: 1,
	}
	fixtureRelationCounts = map[string]int{
		RelationSkillHierarchy:  2,
		RelationOccupationSkill: 6,
		RelationISCOGroup:       6,
		RelationSkillCollection: 4,
		RelationSkillSkill:      1,
		RelationBroaderSkill:    2,
	}
)

func newFixtureReader(t *testing.T, files map[string]string) *source.Reader {
	t.Helper()
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	for name, body := range files {
		require.NoError(t, bucket.WriteAll(ctx, name, []byte(body), nil))
	}
	r, err := source.NewReader(bucket)
	require.NoError(t, err)
	return r
}

type testEnv struct {
	store    storage.ObjectRepository
	metadata storage.MetadataRepository
	states   *state.Manager
	cfg      core.IngestionConfig
}

func newTestEnv(t *testing.T, opts ...core.IngestionOption) *testEnv {
	t.Helper()
	objectRepo, metadataRepo, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() {
		metadataRepo.Close()
		objectRepo.Close()
		backend.Close()
	})

	states, err := state.NewManager(metadataRepo)
	require.NoError(t, err)

	base := []core.IngestionOption{
		core.WithBatchSize(2),
		core.WithRetries(1, time.Millisecond),
		core.WithPollInterval(10 * time.Millisecond),
		core.WithWaitTimeout(time.Second),
	}
	return &testEnv{
		store:    objectRepo,
		metadata: metadataRepo,
		states:   states,
		cfg:      core.NewIngestionConfig("mem://", append(base, opts...)...),
	}
}

func (e *testEnv) orchestrator(t *testing.T, reader Reader, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(e.store, e.states, reader, e.cfg, opts...)
	require.NoError(t, err)
	return o
}

func (e *testEnv) service(t *testing.T, reader Reader, opts ...Option) *Service {
	t.Helper()
	s, err := NewService(e.store, e.states, reader, e.cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func (e *testEnv) classCounts(t *testing.T) map[core.EntityClass]int {
	t.Helper()
	counts := make(map[core.EntityClass]int)
	for _, class := range core.AllClasses() {
		n, err := e.store.CountObjects(context.Background(), class)
		require.NoError(t, err)
		counts[class] = n
	}
	return counts
}

var errSourceUnavailable = errors.New("source unavailable")

// flakyReader fails every pass over one file while failing is set.
type flakyReader struct {
	*source.Reader
	file    string
	failing atomic.Bool
}

func (r *flakyReader) ForEachBatch(ctx context.Context, src source.Source, batchSize int, fn func([]source.Record) error) (source.Stats, error) {
	if src.Name == r.file && r.failing.Load() {
		return source.Stats{}, errSourceUnavailable
	}
	return r.Reader.ForEachBatch(ctx, src, batchSize, fn)
}

// failingStore rejects upserts of one class.
type failingStore struct {
	storage.ObjectRepository
	class core.EntityClass
}

func (s *failingStore) UpsertObjects(ctx context.Context, objs ...*core.Object) (storage.UpsertStats, error) {
	for _, obj := range objs {
		if obj.Class == s.class {
			return storage.UpsertStats{}, errors.New("write rejected")
		}
	}
	return s.ObjectRepository.UpsertObjects(ctx, objs...)
}
