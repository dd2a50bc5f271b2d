package source

import (
	"fmt"
	"strings"
)

// Canonical column names shared by relation sources.
const (
	ColumnConceptURI       = "conceptUri"
	ColumnPreferredLabel   = "preferredLabel"
	ColumnBroaderURI       = "broaderUri"
	ColumnNarrowerURI      = "narrowerUri"
	ColumnConceptType      = "conceptType"
	ColumnBroaderType      = "broaderType"
	ColumnOccupationURI    = "occupationUri"
	ColumnSkillURI         = "skillUri"
	ColumnRelatedSkillURI  = "relatedSkillUri"
	ColumnConceptSchemeURI = "conceptSchemeUri"
	ColumnRelationType     = "relationType"
)

// Alias renames the first present variant column to Canonical when the
// header does not already carry Canonical.
type Alias struct {
	Canonical string
	Variants  []string
}

// Source describes one CSV file and how its columns are normalized.
type Source struct {
	Name    string
	Aliases []Alias
	// Reshape optionally turns one normalized row into zero or more rows.
	Reshape func(Record) []Record
}

// commonAliases apply to every source before its own aliases.
var commonAliases = []Alias{
	{Canonical: ColumnConceptURI, Variants: []string{"uri", "conceptURI", "URI"}},
	{Canonical: ColumnPreferredLabel, Variants: []string{"preferredLabel_en"}},
	{Canonical: "altLabels", Variants: []string{"altLabels_en"}},
	{Canonical: "description", Variants: []string{"description_en"}},
}

// normalizeHeader returns the canonical column name for every header cell.
func (s Source) normalizeHeader(header []string) []string {
	columns := make([]string, len(header))
	present := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		columns[i] = h
		if _, ok := present[h]; !ok {
			present[h] = i
		}
	}

	apply := func(aliases []Alias) {
		for _, a := range aliases {
			if _, ok := present[a.Canonical]; ok {
				continue
			}
			for _, v := range a.Variants {
				idx, ok := present[v]
				if !ok {
					continue
				}
				columns[idx] = a.Canonical
				delete(present, v)
				present[a.Canonical] = idx
				break
			}
		}
	}
	apply(commonAliases)
	apply(s.Aliases)
	return columns
}

func (s Source) transform(rec Record) []Record {
	if s.Reshape == nil {
		return []Record{rec}
	}
	return s.Reshape(rec)
}

// HierarchyAliases normalize broader/narrower column variants.
var HierarchyAliases = []Alias{
	{Canonical: ColumnBroaderURI, Variants: []string{"broaderConceptUri", "parentUri", "broaderSkillUri"}},
	{Canonical: ColumnNarrowerURI, Variants: []string{"narrowerConceptUri", "childUri", ColumnConceptURI, "targetUri", ColumnSkillURI}},
}

// CollectionAliases normalize skill collection membership column variants.
var CollectionAliases = []Alias{
	{Canonical: ColumnConceptSchemeURI, Variants: []string{"collectionUri", "conceptScheme", "schemeUri"}},
	{Canonical: ColumnSkillURI, Variants: []string{ColumnConceptURI, "targetUri", "skillID"}},
}

// SkillRelationAliases normalize skill to skill relation column variants.
var SkillRelationAliases = []Alias{
	{Canonical: ColumnSkillURI, Variants: []string{"originalSkillUri"}},
}

// maxHierarchyLevels is the deepest "Level N URI" column ESCO publishes.
const maxHierarchyLevels = 4

// LevelColumn returns the column name of hierarchy level n.
func LevelColumn(n int) string {
	return fmt.Sprintf("Level %d URI", n)
}

// ReshapeLevels turns a "Level N URI" row into a single broader/narrower
// pair taken from the two deepest non-empty levels. Rows that already carry
// broaderUri and narrowerUri pass through. Self links and rows with fewer
// than two levels are dropped.
func ReshapeLevels(rec Record) []Record {
	if _, ok := rec[LevelColumn(0)]; !ok {
		return []Record{rec}
	}

	var levels []string
	for i := 0; i < maxHierarchyLevels; i++ {
		if v := rec[LevelColumn(i)]; v != "" {
			levels = append(levels, v)
		}
	}
	if len(levels) < 2 {
		return nil
	}

	broader, narrower := levels[len(levels)-2], levels[len(levels)-1]
	if broader == narrower {
		return nil
	}

	out := make(Record, len(rec)+2)
	for k, v := range rec {
		out[k] = v
	}
	out[ColumnBroaderURI] = broader
	out[ColumnNarrowerURI] = narrower
	return []Record{out}
}
