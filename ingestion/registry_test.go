package ingestion

import (
	"testing"

	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInverseTableIsSymmetric(t *testing.T) {
	for property, inverse := range inverses {
		back, ok := Inverse(inverse)
		require.True(t, ok, inverse)
		assert.Equal(t, property, back)
	}

	_, ok := Inverse(PropHasRelatedSkill)
	assert.False(t, ok)
}

func TestEntityKindsCoverEveryClass(t *testing.T) {
	var classes []core.EntityClass
	for _, k := range EntityKinds() {
		classes = append(classes, k.Class)
	}
	assert.Equal(t, core.AllClasses(), classes)
}

func TestRequiredFiles(t *testing.T) {
	assert.ElementsMatch(t, source.Files(), RequiredFiles())
}

func TestEntityKind_ToObject(t *testing.T) {
	kind := EntityKinds()[1]
	require.Equal(t, core.ClassOccupation, kind.Class)

	obj, err := kind.ToObject(source.Record{
		source.ColumnConceptURI: " http://occ/1 ",
		"preferredLabel":        "baker",
		"altLabels":             "pastry cook\n\nbread maker|pastry cook",
		"code":                  "7512.1",
		"unmapped":              "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://occ/1", obj.ExternalID)
	assert.Equal(t, map[string]string{
		core.FieldConceptURI:     "http://occ/1",
		core.FieldPreferredLabel: "baker",
		core.FieldAltLabels:      "pastry cook\nbread maker",
		core.FieldCode:           "7512.1",
	}, obj.Fields)

	_, err = kind.ToObject(source.Record{"preferredLabel": "orphan"})
	assert.ErrorIs(t, err, core.ErrData)
}

func relationKind(t *testing.T, name string) RelationKind {
	t.Helper()
	for _, k := range RelationKinds() {
		if k.Name == name {
			return k
		}
	}
	t.Fatalf("no relation kind %s", name)
	return RelationKind{}
}

func TestRelationKind_OccupationSkillProperty(t *testing.T) {
	kind := relationKind(t, RelationOccupationSkill)

	link, err := kind.LinkFor(source.Record{"occupationUri": "o", "skillUri": "s", "relationType": "Optional"})
	require.NoError(t, err)
	assert.Equal(t, Link{
		FromClass: core.ClassOccupation, From: "o",
		Property: PropHasOptionalSkill,
		ToClass: core.ClassSkill, To: "s",
	}, link)

	link, err = kind.LinkFor(source.Record{"occupationUri": "o", "skillUri": "s"})
	require.NoError(t, err)
	assert.Equal(t, PropHasEssentialSkill, link.Property)

	_, err = kind.LinkFor(source.Record{"occupationUri": "o"})
	assert.ErrorIs(t, err, core.ErrData)

	assert.ElementsMatch(t, []string{
		PropHasEssentialSkill, PropHasOptionalSkill,
		PropIsEssentialForOccupation, PropIsOptionalForOccupation,
	}, kind.Properties())
}

func TestRelationKind_TypeFilter(t *testing.T) {
	kind := relationKind(t, RelationBroaderSkill)

	assert.True(t, kind.Applies(source.Record{"conceptType": "KnowledgeSkillCompetence", "broaderType": "KnowledgeSkillCompetence"}))
	assert.True(t, kind.Applies(source.Record{}), "absent type columns do not filter")
	assert.False(t, kind.Applies(source.Record{"conceptType": "KnowledgeSkillCompetence", "broaderType": "SkillGroup"}))

	assert.ElementsMatch(t, []string{PropBroaderSkill, PropNarrowerSkill}, kind.Properties())
	assert.Equal(t, []string{PropHasRelatedSkill}, relationKind(t, RelationSkillSkill).Properties())
}

func TestRelationKind_OccupationPillarRoutes(t *testing.T) {
	kind := relationKind(t, RelationISCOGroup)

	tests := []struct {
		conceptType string
		broaderType string
		from, to    core.EntityClass
		property    string
	}{
		{"Occupation", "ISCOGroup", core.ClassOccupation, core.ClassISCOGroup, PropMemberOfISCOGroup},
		{"occupation", "Occupation", core.ClassOccupation, core.ClassOccupation, PropBroaderOccupation},
		{"ISCOGroup", "ISCOGroup", core.ClassISCOGroup, core.ClassISCOGroup, PropBroaderISCOGroup},
		{"", "", core.ClassOccupation, core.ClassISCOGroup, PropMemberOfISCOGroup},
	}
	for _, tt := range tests {
		rec := source.Record{"conceptType": tt.conceptType, "narrowerUri": "a", "broaderType": tt.broaderType, "broaderUri": "b"}
		require.True(t, kind.Applies(rec), "%s -> %s", tt.conceptType, tt.broaderType)
		link, err := kind.LinkFor(rec)
		require.NoError(t, err)
		assert.Equal(t, Link{FromClass: tt.from, From: "a", Property: tt.property, ToClass: tt.to, To: "b"}, link)
	}

	unsupported := source.Record{"conceptType": "Occupation", "narrowerUri": "a", "broaderType": "SkillGroup", "broaderUri": "b"}
	assert.False(t, kind.Applies(unsupported))
	_, err := kind.LinkFor(unsupported)
	assert.ErrorIs(t, err, core.ErrData)

	assert.Equal(t, []core.EntityClass{core.ClassISCOGroup, core.ClassOccupation}, kind.Classes())
	assert.ElementsMatch(t, []string{
		PropMemberOfISCOGroup, PropHasOccupation,
		PropBroaderOccupation, PropNarrowerOccupation,
		PropBroaderISCOGroup, PropNarrowerISCOGroup,
	}, kind.Properties())
}
