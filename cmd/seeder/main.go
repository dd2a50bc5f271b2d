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


package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/poiesic/skillgraph/source"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
)

// Words used to build labels. Occupations and skills share vocabulary so
// semantic search over a seeded store has something to find.
var words = []string{
	"software", "network", "database", "cloud", "security", "data", "web",
	"mobile", "embedded", "systems", "hardware", "quality", "project",
	"customer", "financial", "marketing", "logistics", "warehouse", "retail",
	"energy", "solar", "wind", "agricultural", "veterinary", "nursing",
	"dental", "pharmacy", "laboratory", "chemical", "mechanical", "electrical",
	"civil", "construction", "carpentry", "plumbing", "welding", "textile",
	"food", "beverage", "hotel", "tourism", "aviation", "maritime", "railway",
	"legal", "compliance", "translation", "teaching", "research", "design",
}

var occupationNouns = []string{
	"developer", "engineer", "technician", "manager", "analyst", "consultant",
	"operator", "assistant", "specialist", "inspector", "coordinator",
}

var skillVerbs = []string{
	"maintain", "design", "test", "monitor", "operate", "install", "plan",
	"document", "audit", "repair", "configure", "evaluate", "supervise",
}

const (
	escoBase   = "http://data.europa.eu/esco/"
	kindSkill  = "KnowledgeSkillCompetence"
	kindGroup  = "SkillGroup"
	kindISCO   = "ISCOGroup"
	kindOcc    = "Occupation"
	collection = escoBase + "concept-scheme/seed-collection"
)

// sizes controls how large the generated data set is.
type sizes struct {
	occupations int
	skills      int
	skillGroups int
	iscoGroups  int
	perOcc      int // skills linked to each occupation
}

type table struct {
	header []string
	rows   iter.Seq[[]string]
}

type generator struct {
	sizes sizes
	seed  uint64
}

func (g generator) rng(stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(g.seed, stream))
}

func occupationURI(i int) string { return escoBase + "occupation/seed-" + strconv.Itoa(i) }
func skillURI(i int) string      { return escoBase + "skill/seed-" + strconv.Itoa(i) }
func groupURI(i int) string      { return escoBase + "skill/group-" + strconv.Itoa(i) }
func iscoURI(i int) string       { return escoBase + "isco/C" + iscoCode(i) }
func iscoCode(i int) string      { return strconv.Itoa(1000 + i) }

func pick(r *rand.Rand, from []string) string { return from[r.IntN(len(from))] }

// rowsOf yields n rows built by fn.
func rowsOf(n int, fn func(i int) []string) iter.Seq[[]string] {
	return func(yield func([]string) bool) {
		for i := range n {
			if !yield(fn(i)) {
				return
			}
		}
	}
}

// tables returns every ESCO file keyed by name.
func (g generator) tables() map[string]table {
	s := g.sizes
	occLabels := make([]string, s.occupations)
	r := g.rng(1)
	for i := range occLabels {
		occLabels[i] = pick(r, words) + " " + pick(r, occupationNouns)
	}
	skillLabels := make([]string, s.skills)
	r = g.rng(2)
	for i := range skillLabels {
		skillLabels[i] = pick(r, skillVerbs) + " " + pick(r, words) + " " + pick(r, words)
	}

	return map[string]table{
		source.FileISCOGroups: {
			header: []string{"conceptType", "conceptUri", "code", "preferredLabel", "altLabels", "description"},
			rows: rowsOf(s.iscoGroups, func(i int) []string {
				return []string{kindISCO, iscoURI(i), iscoCode(i), "seed ISCO group " + iscoCode(i), "", ""}
			}),
		},
		source.FileOccupations: {
			header: []string{"conceptType", "conceptUri", "iscoGroup", "preferredLabel", "altLabels", "description", "code"},
			rows: rowsOf(s.occupations, func(i int) []string {
				code := iscoCode(i % s.iscoGroups)
				return []string{kindOcc, occupationURI(i), code, occLabels[i],
					"senior " + occLabels[i] + "\njunior " + occLabels[i],
					"A " + occLabels[i] + " works in the " + strings.Fields(occLabels[i])[0] + " sector.",
					code + "." + strconv.Itoa(i)}
			}),
		},
		source.FileSkills: {
			header: []string{"conceptType", "conceptUri", "skillType", "reuseLevel", "preferredLabel", "altLabels", "description"},
			rows: rowsOf(s.skills, func(i int) []string {
				skillType := "skill/competence"
				if i%3 == 0 {
					skillType = "knowledge"
				}
				return []string{kindSkill, skillURI(i), skillType, "sector-specific", skillLabels[i], "",
					"The ability to " + skillLabels[i] + "."}
			}),
		},
		source.FileSkillGroups: {
			header: []string{"conceptType", "conceptUri", "preferredLabel", "altLabels", "description", "code"},
			rows: rowsOf(s.skillGroups, func(i int) []string {
				return []string{kindGroup, groupURI(i), words[i%len(words)] + " skills", "", "", "S" + strconv.Itoa(i)}
			}),
		},
		source.FileConceptSchemes: {
			header: []string{"conceptType", "conceptSchemeUri", "preferredLabel", "title", "status", "description"},
			rows: rowsOf(1, func(int) []string {
				return []string{"ConceptScheme", collection, "Seed skills collection", "", "released", "Every third seeded skill"}
			}),
		},
		// Group 0 is the root; every other group hangs below it.
		source.FileSkillsHierarchy: {
			header: []string{"Level 0 URI", "Level 0 preferred term", "Level 1 URI", "Level 1 preferred term"},
			rows: rowsOf(s.skillGroups-1, func(i int) []string {
				return []string{groupURI(0), "root", groupURI(i + 1), ""}
			}),
		},
		source.FileOccupationSkillRelations: {
			header: []string{"occupationUri", "relationType", "skillType", "skillUri"},
			rows: rowsOf(s.occupations*s.perOcc, func(n int) []string {
				occ, j := n/s.perOcc, n%s.perOcc
				relation := "optional"
				if j < 2 {
					relation = "essential"
				}
				return []string{occupationURI(occ), relation, "skill/competence", skillURI((occ*7 + j) % s.skills)}
			}),
		},
		source.FileBroaderRelationsOccPillar: {
			header: []string{"conceptType", "conceptUri", "broaderType", "broaderUri"},
			rows: rowsOf(s.occupations, func(i int) []string {
				return []string{kindOcc, occupationURI(i), kindISCO, iscoURI(i % s.iscoGroups)}
			}),
		},
		source.FileSkillCollectionRelations: {
			header: []string{"conceptSchemeUri", "conceptUri", "skillType", "reuseLevel", "preferredLabel", "status"},
			rows: rowsOf((s.skills+2)/3, func(i int) []string {
				return []string{collection, skillURI(3 * i), "knowledge", "sector-specific", skillLabels[3*i], "released"}
			}),
		},
		source.FileSkillSkillRelations: {
			header: []string{"originalSkillUri", "originalSkillType", "relationType", "relatedSkillType", "relatedSkillUri"},
			rows: rowsOf(s.skills-1, func(i int) []string {
				return []string{skillURI(i), "skill/competence", "optional", "skill/competence", skillURI(i + 1)}
			}),
		},
		source.FileBroaderRelationsSkill: {
			header: []string{"conceptType", "conceptUri", "broaderType", "broaderUri"},
			// Skills form a binary tree rooted at skill 0.
			rows: rowsOf(s.skills-1, func(i int) []string {
				return []string{kindSkill, skillURI(i + 1), kindSkill, skillURI(i / 2)}
			}),
		},
	}
}

// writeTable streams t as CSV into bucket.
func writeTable(ctx context.Context, bucket *blob.Bucket, name string, t table) (rows int, err error) {
	w, err := bucket.NewWriter(ctx, name, &blob.WriterOptions{ContentType: "text/csv"})
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := w.Close(); err == nil {
			err = closeErr
		}
	}()

	cw := csv.NewWriter(w)
	if err := cw.Write(t.header); err != nil {
		return 0, err
	}
	for row := range t.rows {
		if err := cw.Write(row); err != nil {
			return rows, err
		}
		rows++
	}
	cw.Flush()
	return rows, cw.Error()
}

func (s sizes) validate() error {
	switch {
	case s.occupations < 1, s.skills < 2, s.skillGroups < 2, s.iscoGroups < 1:
		return fmt.Errorf("need at least 1 occupation, 2 skills, 2 skill groups and 1 ISCO group")
	case s.perOcc < 1 || s.perOcc > s.skills:
		return fmt.Errorf("skills per occupation must be between 1 and %d", s.skills)
	}
	return nil
}

// seed writes a complete synthetic data set into bucket.
func seed(ctx context.Context, bucket *blob.Bucket, g generator) error {
	if err := g.sizes.validate(); err != nil {
		return err
	}
	tables := g.tables()
	for _, name := range source.Files() {
		rows, err := writeTable(ctx, bucket, name, tables[name])
		if err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		slog.Info("wrote file", "file", name, "rows", rows)
	}
	return nil
}

func openBucket(ctx context.Context, location string) (*blob.Bucket, error) {
	if strings.Contains(location, "://") {
		return blob.OpenBucket(ctx, location)
	}
	return fileblob.OpenBucket(location, &fileblob.Options{CreateDir: true})
}

func main() {
	dst := flag.String("dst", "./data", "directory or bucket URL to write the CSV files to")
	occupations := flag.Int("occupations", 200, "number of occupations")
	skills := flag.Int("skills", 1000, "number of skills")
	skillGroups := flag.Int("skill-groups", 20, "number of skill groups")
	iscoGroups := flag.Int("isco-groups", 10, "number of ISCO groups")
	perOcc := flag.Int("skills-per-occupation", 8, "skills linked to each occupation")
	seedValue := flag.Uint64("seed", 1, "random seed")
	flag.Parse()

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))

	ctx := context.Background()
	bucket, err := openBucket(ctx, *dst)
	if err != nil {
		slog.Error("failed to open destination", "dst", *dst, "err", err)
		os.Exit(1)
	}
	defer bucket.Close()

	g := generator{
		sizes: sizes{
			occupations: *occupations,
			skills:      *skills,
			skillGroups: *skillGroups,
			iscoGroups:  *iscoGroups,
			perOcc:      *perOcc,
		},
		seed: *seedValue,
	}
	if err := seed(ctx, bucket, g); err != nil {
		slog.Error("seeding failed", "err", err)
		bucket.Close()
		os.Exit(1)
	}
}
