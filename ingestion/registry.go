// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ingestion

import (
	"fmt"
	"slices"
	"strings"

	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/source"
)

// Phase names, in run order.
const (
	PhaseEnsureSchema             = "ensure_schema"
	PhaseISCOGroups               = "ingest_isco_groups"
	PhaseOccupations              = "ingest_occupations"
	PhaseSkills                   = "ingest_skills"
	PhaseSkillGroups              = "ingest_skill_groups"
	PhaseSkillCollections         = "ingest_skill_collections"
	PhaseSkillHierarchyRelations  = "create_skill_hierarchy_relations"
	PhaseOccupationSkillRelations = "create_occupation_skill_relations"
	PhaseISCOGroupRelations       = "create_isco_group_relations"
	PhaseSkillCollectionRelations = "create_skill_collection_relations"
	PhaseSkillSkillRelations      = "create_skill_skill_relations"
	PhaseBroaderSkillRelations    = "create_broader_skill_relations"
)

// Reference properties.
const (
	PropBroaderSkillGroup        = "broaderSkillGroup"
	PropNarrowerSkillGroup       = "narrowerSkillGroup"
	PropHasEssentialSkill        = "hasEssentialSkill"
	PropIsEssentialForOccupation = "isEssentialForOccupation"
	PropHasOptionalSkill         = "hasOptionalSkill"
	PropIsOptionalForOccupation  = "isOptionalForOccupation"
	PropMemberOfISCOGroup        = "memberOfISCOGroup"
	PropHasOccupation            = "hasOccupation"
	PropBroaderOccupation        = "broaderOccupation"
	PropNarrowerOccupation       = "narrowerOccupation"
	PropBroaderISCOGroup         = "broaderISCOGroup"
	PropNarrowerISCOGroup        = "narrowerISCOGroup"
	PropMemberOfSkillCollection  = "memberOfSkillCollection"
	PropHasCollectionMember      = "hasCollectionMember"
	PropHasRelatedSkill          = "hasRelatedSkill"
	PropBroaderSkill             = "broaderSkill"
	PropNarrowerSkill            = "narrowerSkill"
)

// inverses pairs every property with the one written in the opposite
// direction. Properties absent from the table have no inverse.
var inverses = map[string]string{
	PropBroaderSkillGroup:        PropNarrowerSkillGroup,
	PropNarrowerSkillGroup:       PropBroaderSkillGroup,
	PropBroaderSkill:             PropNarrowerSkill,
	PropNarrowerSkill:            PropBroaderSkill,
	PropHasEssentialSkill:        PropIsEssentialForOccupation,
	PropIsEssentialForOccupation: PropHasEssentialSkill,
	PropHasOptionalSkill:         PropIsOptionalForOccupation,
	PropIsOptionalForOccupation:  PropHasOptionalSkill,
	PropMemberOfISCOGroup:        PropHasOccupation,
	PropHasOccupation:            PropMemberOfISCOGroup,
	PropBroaderOccupation:        PropNarrowerOccupation,
	PropNarrowerOccupation:       PropBroaderOccupation,
	PropBroaderISCOGroup:         PropNarrowerISCOGroup,
	PropNarrowerISCOGroup:        PropBroaderISCOGroup,
	PropMemberOfSkillCollection:  PropHasCollectionMember,
	PropHasCollectionMember:      PropMemberOfSkillCollection,
}

// Inverse returns the inverse of property, if one is registered.
func Inverse(property string) (string, bool) {
	inv, ok := inverses[property]
	return inv, ok
}

// EntityKind describes how one entity class is loaded.
type EntityKind struct {
	Class  core.EntityClass
	Phase  string
	Source source.Source
	// Columns maps object fields to source columns. conceptUri is always the
	// external identifier and is not listed.
	Columns map[string]string
}

// ToObject maps a normalized source record to an object. A record without a
// concept URI is a data error.
func (k EntityKind) ToObject(rec source.Record) (*core.Object, error) {
	uri := strings.TrimSpace(rec[source.ColumnConceptURI])
	if uri == "" {
		return nil, fmt.Errorf("%w: %s row without %s", core.ErrData, k.Class, source.ColumnConceptURI)
	}

	fields := make(map[string]string, len(k.Columns)+1)
	fields[core.FieldConceptURI] = uri
	for field, column := range k.Columns {
		v := strings.TrimSpace(rec[column])
		if v == "" {
			continue
		}
		if field == core.FieldAltLabels {
			v = normalizeAltLabels(v)
		}
		fields[field] = v
	}
	return &core.Object{Class: k.Class, ExternalID: uri, Fields: fields}, nil
}

// normalizeAltLabels splits on newlines and pipes and rejoins the non-empty,
// de-duplicated labels with newlines.
func normalizeAltLabels(v string) string {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == '\n' || r == '\r' || r == '|' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

func columns(fields ...string) map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f] = f
	}
	return m
}

// EntityKinds returns the entity registry in run order.
func EntityKinds() []EntityKind {
	return []EntityKind{
		{
			Class:   core.ClassISCOGroup,
			Phase:   PhaseISCOGroups,
			Source:  source.Source{Name: source.FileISCOGroups},
			Columns: columns(core.FieldPreferredLabel, core.FieldAltLabels, core.FieldDescription, core.FieldCode),
		},
		{
			Class:  core.ClassOccupation,
			Phase:  PhaseOccupations,
			Source: source.Source{Name: source.FileOccupations},
			Columns: columns(core.FieldPreferredLabel, core.FieldAltLabels, core.FieldDescription,
				core.FieldDefinition, core.FieldCode, core.FieldISCOGroup),
		},
		{
			Class:  core.ClassSkill,
			Phase:  PhaseSkills,
			Source: source.Source{Name: source.FileSkills},
			Columns: columns(core.FieldPreferredLabel, core.FieldAltLabels, core.FieldDescription,
				core.FieldDefinition, core.FieldSkillType, core.FieldReuseLevel),
		},
		{
			Class:   core.ClassSkillGroup,
			Phase:   PhaseSkillGroups,
			Source:  source.Source{Name: source.FileSkillGroups},
			Columns: columns(core.FieldPreferredLabel, core.FieldAltLabels, core.FieldDescription, core.FieldCode),
		},
		{
			Class: core.ClassSkillCollection,
			Phase: PhaseSkillCollections,
			Source: source.Source{
				Name: source.FileConceptSchemes,
				Aliases: []source.Alias{
					{Canonical: source.ColumnConceptURI, Variants: []string{source.ColumnConceptSchemeURI}},
					{Canonical: source.ColumnPreferredLabel, Variants: []string{"title"}},
				},
			},
			Columns: columns(core.FieldPreferredLabel, core.FieldDescription),
		},
	}
}

// Link is one resolved relation row before endpoint lookup.
type Link struct {
	FromClass core.EntityClass
	From      string // external identifier of the source endpoint
	Property  string
	ToClass   core.EntityClass
	To        string // external identifier of the target endpoint
}

// Route sends the rows of one (conceptType, broaderType) pair to a property
// between two classes.
type Route struct {
	ConceptType string
	BroaderType string
	FromClass   core.EntityClass
	ToClass     core.EntityClass
	Property    string
}

// matches compares the row's type columns with the route. An absent or
// empty column matches any type.
func (r Route) matches(conceptType, broaderType string) bool {
	return (conceptType == "" || strings.EqualFold(conceptType, r.ConceptType)) &&
		(broaderType == "" || strings.EqualFold(broaderType, r.BroaderType))
}

// RelationKind describes how one relation kind is built.
type RelationKind struct {
	Name      string
	Phase     string
	Source    source.Source
	FromClass core.EntityClass
	ToClass   core.EntityClass
	// FromColumn and ToColumn hold the endpoint identifiers.
	FromColumn string
	ToColumn   string
	Property   string
	// PropertyFor, if set, picks the property per row.
	PropertyFor func(rec source.Record) string
	// TypeFilter restricts rows by type columns. A row whose column is
	// present and non-empty must hold one of the listed values.
	TypeFilter map[string][]string
	// Routes, if set, replace FromClass, ToClass and Property per row. The
	// first matching route wins and rows matching none do not apply.
	Routes []Route
}

func (k RelationKind) route(rec source.Record) (Route, bool) {
	conceptType := strings.TrimSpace(rec[source.ColumnConceptType])
	broaderType := strings.TrimSpace(rec[source.ColumnBroaderType])
	for _, r := range k.Routes {
		if r.matches(conceptType, broaderType) {
			return r, true
		}
	}
	return Route{}, false
}

// Applies reports whether the row passes the type filter and, for routed
// kinds, matches a route.
func (k RelationKind) Applies(rec source.Record) bool {
	if len(k.Routes) > 0 {
		if _, ok := k.route(rec); !ok {
			return false
		}
	}
	for column, allowed := range k.TypeFilter {
		v, ok := rec[column]
		if !ok || v == "" {
			continue
		}
		if !slices.ContainsFunc(allowed, func(a string) bool { return strings.EqualFold(a, v) }) {
			return false
		}
	}
	return true
}

// LinkFor extracts the link described by a row. A row missing either
// endpoint identifier is a data error.
func (k RelationKind) LinkFor(rec source.Record) (Link, error) {
	from := strings.TrimSpace(rec[k.FromColumn])
	to := strings.TrimSpace(rec[k.ToColumn])
	if from == "" || to == "" {
		return Link{}, fmt.Errorf("%w: %s row without %s or %s", core.ErrData, k.Name, k.FromColumn, k.ToColumn)
	}
	link := Link{FromClass: k.FromClass, From: from, Property: k.Property, ToClass: k.ToClass, To: to}
	if k.PropertyFor != nil {
		link.Property = k.PropertyFor(rec)
	}
	if len(k.Routes) > 0 {
		r, ok := k.route(rec)
		if !ok {
			return Link{}, fmt.Errorf("%w: %s row of unsupported types %s -> %s", core.ErrData, k.Name,
				rec[source.ColumnConceptType], rec[source.ColumnBroaderType])
		}
		link.FromClass, link.ToClass, link.Property = r.FromClass, r.ToClass, r.Property
	}
	return link, nil
}

// Classes lists every class an endpoint of the kind can belong to.
func (k RelationKind) Classes() []core.EntityClass {
	classes := []core.EntityClass{k.FromClass, k.ToClass}
	for _, r := range k.Routes {
		classes = append(classes, r.FromClass, r.ToClass)
	}
	slices.Sort(classes)
	return slices.Compact(classes)
}

// Properties lists every property the kind can write, inverses included.
func (k RelationKind) Properties() []string {
	props := []string{k.Property}
	if k.Name == RelationOccupationSkill {
		props = []string{PropHasEssentialSkill, PropHasOptionalSkill}
	}
	for _, r := range k.Routes {
		if !slices.Contains(props, r.Property) {
			props = append(props, r.Property)
		}
	}
	out := slices.Clone(props)
	for _, p := range props {
		if inv, ok := Inverse(p); ok {
			out = append(out, inv)
		}
	}
	return out
}

// Relation kind names.
const (
	RelationSkillHierarchy  = "skill_hierarchy"
	RelationOccupationSkill = "occupation_skill"
	RelationISCOGroup       = "isco_group"
	RelationSkillCollection = "skill_collection"
	RelationSkillSkill      = "skill_skill"
	RelationBroaderSkill    = "broader_skill"
)

// occupationSkillProperty maps relationType to a property. Anything other
// than "optional" is essential.
func occupationSkillProperty(rec source.Record) string {
	if strings.EqualFold(strings.TrimSpace(rec[source.ColumnRelationType]), "optional") {
		return PropHasOptionalSkill
	}
	return PropHasEssentialSkill
}

// Concept types used in the ESCO pillar files.
const (
	typeOccupation = "Occupation"
	typeISCOGroup  = "ISCOGroup"
	typeSkill      = "KnowledgeSkillCompetence"
)

// RelationKinds returns the relation registry in run order.
func RelationKinds() []RelationKind {
	return []RelationKind{
		{
			Name:       RelationSkillHierarchy,
			Phase:      PhaseSkillHierarchyRelations,
			Source:     source.Source{Name: source.FileSkillsHierarchy, Aliases: source.HierarchyAliases, Reshape: source.ReshapeLevels},
			FromClass:  core.ClassSkillGroup,
			ToClass:    core.ClassSkillGroup,
			FromColumn: source.ColumnNarrowerURI,
			ToColumn:   source.ColumnBroaderURI,
			Property:   PropBroaderSkillGroup,
		},
		{
			Name:        RelationOccupationSkill,
			Phase:       PhaseOccupationSkillRelations,
			Source:      source.Source{Name: source.FileOccupationSkillRelations},
			FromClass:   core.ClassOccupation,
			ToClass:     core.ClassSkill,
			FromColumn:  source.ColumnOccupationURI,
			ToColumn:    source.ColumnSkillURI,
			Property:    PropHasEssentialSkill,
			PropertyFor: occupationSkillProperty,
		},
		{
			Name:       RelationISCOGroup,
			Phase:      PhaseISCOGroupRelations,
			Source:     source.Source{Name: source.FileBroaderRelationsOccPillar, Aliases: source.HierarchyAliases},
			FromClass:  core.ClassOccupation,
			ToClass:    core.ClassISCOGroup,
			FromColumn: source.ColumnNarrowerURI,
			ToColumn:   source.ColumnBroaderURI,
			Property:   PropMemberOfISCOGroup,
			Routes: []Route{
				{typeOccupation, typeISCOGroup, core.ClassOccupation, core.ClassISCOGroup, PropMemberOfISCOGroup},
				{typeOccupation, typeOccupation, core.ClassOccupation, core.ClassOccupation, PropBroaderOccupation},
				{typeISCOGroup, typeISCOGroup, core.ClassISCOGroup, core.ClassISCOGroup, PropBroaderISCOGroup},
			},
		},
		{
			Name:       RelationSkillCollection,
			Phase:      PhaseSkillCollectionRelations,
			Source:     source.Source{Name: source.FileSkillCollectionRelations, Aliases: source.CollectionAliases},
			FromClass:  core.ClassSkill,
			ToClass:    core.ClassSkillCollection,
			FromColumn: source.ColumnSkillURI,
			ToColumn:   source.ColumnConceptSchemeURI,
			Property:   PropMemberOfSkillCollection,
		},
		{
			Name:       RelationSkillSkill,
			Phase:      PhaseSkillSkillRelations,
			Source:     source.Source{Name: source.FileSkillSkillRelations, Aliases: source.SkillRelationAliases},
			FromClass:  core.ClassSkill,
			ToClass:    core.ClassSkill,
			FromColumn: source.ColumnSkillURI,
			ToColumn:   source.ColumnRelatedSkillURI,
			Property:   PropHasRelatedSkill,
		},
		{
			Name:       RelationBroaderSkill,
			Phase:      PhaseBroaderSkillRelations,
			Source:     source.Source{Name: source.FileBroaderRelationsSkill, Aliases: source.HierarchyAliases},
			FromClass:  core.ClassSkill,
			ToClass:    core.ClassSkill,
			FromColumn: source.ColumnNarrowerURI,
			ToColumn:   source.ColumnBroaderURI,
			Property:   PropBroaderSkill,
			TypeFilter: map[string][]string{
				source.ColumnConceptType: {typeSkill},
				source.ColumnBroaderType: {typeSkill},
			},
		},
	}
}

// RequiredFiles lists the source files of every entity and relation kind.
func RequiredFiles() []string {
	var files []string
	for _, k := range EntityKinds() {
		files = append(files, k.Source.Name)
	}
	for _, k := range RelationKinds() {
		files = append(files, k.Source.Name)
	}
	return files
}
