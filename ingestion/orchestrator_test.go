package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/poiesic/skillgraph/ai/mock"
	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/metrics"
	"github.com/poiesic/skillgraph/source"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrchestrator_Errors(t *testing.T) {
	env := newTestEnv(t)
	reader := newFixtureReader(t, escoFixture)

	_, err := NewOrchestrator(nil, env.states, reader, env.cfg)
	assert.ErrorIs(t, err, ErrObjectRepositoryRequired)

	_, err = NewOrchestrator(env.store, nil, reader, env.cfg)
	assert.ErrorIs(t, err, ErrStateManagerRequired)

	_, err = NewOrchestrator(env.store, env.states, nil, env.cfg)
	assert.ErrorIs(t, err, ErrReaderRequired)

	_, err = NewOrchestrator(env.store, env.states, reader, core.NewIngestionConfig("mem://", core.WithBatchSize(0)))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestOrchestrator_Phases(t *testing.T) {
	env := newTestEnv(t)
	o := env.orchestrator(t, newFixtureReader(t, escoFixture))

	assert.Equal(t, []string{
		PhaseEnsureSchema,
		PhaseISCOGroups,
		PhaseOccupations,
		PhaseSkills,
		PhaseSkillGroups,
		PhaseSkillCollections,
		PhaseSkillHierarchyRelations,
		PhaseOccupationSkillRelations,
		PhaseISCOGroupRelations,
		PhaseSkillCollectionRelations,
		PhaseSkillSkillRelations,
		PhaseBroaderSkillRelations,
	}, o.Phases())
}

func TestOrchestrator_CompleteRun(t *testing.T) {
	env := newTestEnv(t)
	m := metrics.New()
	o := env.orchestrator(t, newFixtureReader(t, escoFixture), WithMetrics(m))
	ctx := context.Background()

	var progress []core.IngestionProgress
	result, err := o.Run(ctx, RunOptions{Progress: func(p core.IngestionProgress) {
		progress = append(progress, p)
	}})
	require.NoError(t, err)

	assert.True(t, result.Success, result.Errors)
	assert.Equal(t, core.StateCompleted, result.FinalState)
	assert.Equal(t, TotalSteps, result.StepsCompleted)
	assert.Equal(t, PhaseBroaderSkillRelations, result.LastCompletedStep)
	assert.NotEmpty(t, result.RunID)
	assert.Empty(t, result.Errors)
	assert.Equal(t, fixtureClassCounts, result.Metrics.ClassCounts)
	assert.Equal(t, fixtureRelationCounts, result.Metrics.RelationCounts)
	assert.Equal(t, 1, result.Metrics.SkippedRows[RelationOccupationSkill])
	assert.Empty(t, result.Metrics.IncompleteClasses)
	assert.Empty(t, result.Metrics.IncompleteRelations)

	require.Len(t, progress, TotalSteps)
	for i, p := range progress {
		assert.Equal(t, i+1, p.StepNumber)
		assert.Equal(t, TotalSteps, p.TotalSteps)
	}

	assert.Equal(t, fixtureClassCounts, env.classCounts(t))

	md, err := env.metadata.LatestMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.StateCompleted, md.Status)
	assert.Equal(t, result.RunID, md.RunID())

	// Start record, one per phase, and the terminal record.
	history, err := env.metadata.MetadataHistory(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, history, TotalSteps+2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestionState.WithLabelValues(core.StateCompleted.String())))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ObjectsUpserted.WithLabelValues("Skill", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RowsSkipped.WithLabelValues(PhaseOccupationSkillRelations, metrics.ReasonMissingEndpoint)))
}

func TestOrchestrator_StoredFieldsAndReferences(t *testing.T) {
	env := newTestEnv(t)
	o := env.orchestrator(t, newFixtureReader(t, escoFixture))
	ctx := context.Background()

	_, err := o.Run(ctx, RunOptions{})
	require.NoError(t, err)

	devID, err := env.store.FindByIdentifier(ctx, core.ClassOccupation, "http://occ/dev")
	require.NoError(t, err)
	dev, err := env.store.GetObject(ctx, devID)
	require.NoError(t, err)
	assert.Equal(t, "software developer", dev.Label())
	assert.Equal(t, "coder\nprogrammer", dev.Fields[core.FieldAltLabels])
	assert.Equal(t, "2512", dev.Fields[core.FieldISCOGroup])

	admin, err := env.store.GetObject(ctx, core.ObjectID(core.ClassOccupation, "http://occ/admin"))
	require.NoError(t, err)
	assert.Equal(t, "sysadmin\nadmin", admin.Fields[core.FieldAltLabels])

	collection, err := env.store.GetObject(ctx, core.ObjectID(core.ClassSkillCollection, "http://cs/digital"))
	require.NoError(t, err)
	assert.Equal(t, "Digital skills collection", collection.Label())

	goSkill := core.ObjectID(core.ClassSkill, "http://skill/go")
	progSkill := core.ObjectID(core.ClassSkill, "http://skill/prog")

	essential, err := env.store.GetReferences(ctx, devID, PropHasEssentialSkill)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{goSkill}, essential)

	optional, err := env.store.GetReferences(ctx, devID, PropHasOptionalSkill)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{progSkill}, optional)

	inverse, err := env.store.GetReferences(ctx, goSkill, PropIsEssentialForOccupation)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{devID}, inverse)

	narrower, err := env.store.GetReferences(ctx, progSkill, PropNarrowerSkill)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{goSkill}, narrower)

	groups, err := env.store.GetReferences(ctx, core.ObjectID(core.ClassSkillGroup, "http://sg/S5"), PropBroaderSkillGroup)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{core.ObjectID(core.ClassSkillGroup, "http://sg/S")}, groups)

	// hasRelatedSkill has no inverse.
	n, err := env.store.CountReferences(ctx, PropHasRelatedSkill)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOrchestrator_OccupationPillarHierarchies(t *testing.T) {
	env := newTestEnv(t)
	files := map[string]string{
		source.FileISCOGroups:  escoFixture[source.FileISCOGroups],
		source.FileOccupations: escoFixture[source.FileOccupations],
		source.FileBroaderRelationsOccPillar: "conceptType,conceptUri,broaderType,broaderUri\n" +
			"Occupation,http://occ/dev,ISCOGroup,http://isco/25\n" +
			"Occupation,http://occ/admin,Occupation,http://occ/dev\n" +
			"ISCOGroup,http://isco/25,ISCOGroup,http://isco/2\n" +
			"Occupation,http://occ/dev,SkillGroup,http://sg/S5\n",
	}
	ctx := context.Background()

	result, err := env.orchestrator(t, newFixtureReader(t, files)).Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 6, result.Metrics.RelationCounts[RelationISCOGroup])
	assert.Zero(t, result.Metrics.SkippedRows[RelationISCOGroup], "rows of other types do not apply")

	dev := core.ObjectID(core.ClassOccupation, "http://occ/dev")
	admin := core.ObjectID(core.ClassOccupation, "http://occ/admin")
	ict := core.ObjectID(core.ClassISCOGroup, "http://isco/25")
	professionals := core.ObjectID(core.ClassISCOGroup, "http://isco/2")

	for _, tt := range []struct {
		from     core.ID
		property string
		want     core.ID
	}{
		{dev, PropMemberOfISCOGroup, ict},
		{ict, PropHasOccupation, dev},
		{admin, PropBroaderOccupation, dev},
		{dev, PropNarrowerOccupation, admin},
		{ict, PropBroaderISCOGroup, professionals},
		{professionals, PropNarrowerISCOGroup, ict},
	} {
		refs, err := env.store.GetReferences(ctx, tt.from, tt.property)
		require.NoError(t, err)
		assert.Equal(t, []core.ID{tt.want}, refs, tt.property)
	}
}

func TestOrchestrator_RerunIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	o := env.orchestrator(t, newFixtureReader(t, escoFixture))
	ctx := context.Background()

	first, err := o.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := o.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.True(t, second.Success)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, fixtureClassCounts, env.classCounts(t))
	assert.Equal(t, fixtureClassCounts, second.Metrics.ClassCounts, "re-run updates every record")
	for kind, n := range second.Metrics.RelationCounts {
		assert.Zero(t, n, "%s added references on re-run", kind)
	}
	n, err := env.store.CountReferences(ctx, PropHasEssentialSkill)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOrchestrator_MissingEndpointsAreWarnings(t *testing.T) {
	env := newTestEnv(t)
	files := map[string]string{}
	for name, body := range escoFixture {
		files[name] = body
	}
	// No occupations: every occupation relation row has a missing endpoint.
	delete(files, source.FileOccupations)

	result, err := env.orchestrator(t, newFixtureReader(t, files)).Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.True(t, result.Success, result.Errors)
	assert.Equal(t, core.StateCompleted, result.FinalState)
	assert.Equal(t, 4, result.Metrics.SkippedRows[RelationOccupationSkill])
	assert.Equal(t, 2, result.Metrics.SkippedRows[RelationISCOGroup])
	assert.Zero(t, result.Metrics.RelationCounts[RelationOccupationSkill])
	assert.Contains(t, result.Metrics.IncompleteClasses, core.ClassOccupation)
	assert.NotEmpty(t, result.Warnings)

	var mentionsURI bool
	for _, w := range result.Warnings {
		if containsAll(w, "http://occ/dev", "http://skill/go") {
			mentionsURI = true
		}
	}
	assert.True(t, mentionsURI, "warnings name the offending identifiers")
}

func TestOrchestrator_WarningsAreCapped(t *testing.T) {
	env := newTestEnv(t, core.WithBatchSize(50))
	body := "originalSkillUri,relatedSkillUri\n"
	for i := range 3 * maxWarningsPerKind {
		body += "http://skill/none/" + string(rune('a'+i%26)) + ",http://skill/prog\n"
	}
	files := map[string]string{
		source.FileSkills:              escoFixture[source.FileSkills],
		source.FileSkillSkillRelations: body,
	}

	result, err := env.orchestrator(t, newFixtureReader(t, files)).Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3*maxWarningsPerKind, result.Metrics.SkippedRows[RelationSkillSkill])
	count := 0
	for _, w := range result.Warnings {
		if containsAll(w, RelationSkillSkill+": skipped") {
			count++
		}
	}
	assert.Equal(t, maxWarningsPerKind, count)
}

func TestOrchestrator_CrashResume(t *testing.T) {
	env := newTestEnv(t)
	reader := &flakyReader{Reader: newFixtureReader(t, escoFixture), file: source.FileSkillsHierarchy}
	reader.failing.Store(true)
	o := env.orchestrator(t, reader)
	ctx := context.Background()

	result, err := o.Run(ctx, RunOptions{})
	require.Error(t, err)

	var phaseErr *PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, PhaseSkillHierarchyRelations, phaseErr.Step)
	assert.Equal(t, 7, phaseErr.StepNumber)
	assert.ErrorIs(t, err, errSourceUnavailable)

	assert.False(t, result.Success)
	assert.Equal(t, core.StateFailed, result.FinalState)
	assert.Equal(t, 6, result.StepsCompleted)
	assert.Equal(t, PhaseSkillCollections, result.LastCompletedStep)

	md, err := env.metadata.LatestMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, md.Status)
	assert.Equal(t, PhaseSkillHierarchyRelations, md.Step())
	assert.Contains(t, md.ErrorMessage(), errSourceUnavailable.Error())

	n, err := env.store.CountReferences(ctx, PropHasEssentialSkill)
	require.NoError(t, err)
	assert.Zero(t, n)

	reader.failing.Store(false)
	result, err = o.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, core.StateCompleted, result.FinalState)
	assert.Equal(t, fixtureClassCounts, env.classCounts(t), "entities are not duplicated")
	assert.Equal(t, fixtureRelationCounts, result.Metrics.RelationCounts)
}

func TestOrchestrator_BatchFailureMarksClassIncomplete(t *testing.T) {
	env := newTestEnv(t)
	store := &failingStore{ObjectRepository: env.store, class: core.ClassSkillGroup}
	o, err := NewOrchestrator(store, env.states, newFixtureReader(t, escoFixture), env.cfg)
	require.NoError(t, err)

	result, err := o.Run(context.Background(), RunOptions{})
	require.NoError(t, err, "batch failures do not abort the run")

	assert.False(t, result.Success)
	assert.Equal(t, core.StateFailed, result.FinalState)
	assert.Equal(t, TotalSteps, result.StepsCompleted)
	assert.Equal(t, []core.EntityClass{core.ClassSkillGroup}, result.Metrics.IncompleteClasses)
	assert.NotEmpty(t, result.Errors)
	assert.Zero(t, env.classCounts(t)[core.ClassSkillGroup])
	assert.Equal(t, 3, env.classCounts(t)[core.ClassSkill], "later classes still load")

	md, err := env.metadata.LatestMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, md.Status)
	assert.Equal(t, []any{string(core.ClassSkillGroup)}, md.Details[core.DetailIncomplete])
}

func TestOrchestrator_SkipOptions(t *testing.T) {
	env := newTestEnv(t)
	o := env.orchestrator(t, newFixtureReader(t, escoFixture))

	result, err := o.Run(context.Background(), RunOptions{
		SkipRelations: true,
		Classes:       []core.EntityClass{core.ClassSkill},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, TotalSteps, result.StepsCompleted)
	assert.Equal(t, map[core.EntityClass]int{core.ClassSkill: 3}, result.Metrics.ClassCounts)
	assert.Empty(t, result.Metrics.RelationCounts)
	assert.Zero(t, env.classCounts(t)[core.ClassOccupation])
}

func TestOrchestrator_ProgressPanicIsContained(t *testing.T) {
	env := newTestEnv(t)
	o := env.orchestrator(t, newFixtureReader(t, escoFixture))

	result, err := o.Run(context.Background(), RunOptions{
		Progress: func(core.IngestionProgress) { panic("callback bug") },
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestOrchestrator_Heartbeats(t *testing.T) {
	env := newTestEnv(t, core.WithBatchSize(1), core.WithHeartbeatInterval(2))
	m := metrics.New()
	o := env.orchestrator(t, newFixtureReader(t, map[string]string{
		source.FileSkills: escoFixture[source.FileSkills],
	}), WithMetrics(m))

	_, err := o.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// Three skill rows with a cadence of two records yield one heartbeat.
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HeartbeatsTotal))
}

func TestOrchestrator_Embeddings(t *testing.T) {
	env := newTestEnv(t)
	embedder := mock.NewMockEmbedder()
	o := env.orchestrator(t, newFixtureReader(t, escoFixture), WithEmbedder(embedder))
	ctx := context.Background()

	_, err := o.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Positive(t, embedder.CallCount())

	obj, err := env.store.GetObject(ctx, core.ObjectID(core.ClassSkill, "http://skill/go"))
	require.NoError(t, err)
	assert.Len(t, obj.Vector, mock.DefaultDimensions)

	// A failing embedder stores objects without vectors and only warns.
	env2 := newTestEnv(t)
	broken := mock.NewMockEmbedder()
	broken.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("model offline")
	}
	result, err := env2.orchestrator(t, newFixtureReader(t, escoFixture), WithEmbedder(broken)).Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.Warnings)
	obj, err = env2.store.GetObject(ctx, core.ObjectID(core.ClassSkill, "http://skill/go"))
	require.NoError(t, err)
	assert.Empty(t, obj.Vector)
}

type brokenStore struct {
	*failingStore
}

func (brokenStore) EnsureSchema(context.Context) error { return errors.New("connection refused") }

func (brokenStore) IsConnected(context.Context) bool { return false }

func TestOrchestrator_SchemaFailureIsPhaseError(t *testing.T) {
	env := newTestEnv(t)
	store := brokenStore{&failingStore{ObjectRepository: env.store}}
	o, err := NewOrchestrator(store, env.states, newFixtureReader(t, escoFixture), env.cfg)
	require.NoError(t, err)

	result, err := o.Run(context.Background(), RunOptions{})
	var phaseErr *PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, 1, phaseErr.StepNumber)
	assert.ErrorIs(t, err, core.ErrConnectivity)
	assert.Equal(t, 0, result.StepsCompleted)
	assert.Equal(t, core.StateFailed, result.FinalState)
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
