package source

// ESCO CSV file names.
const (
	FileISCOGroups                = "ISCOGroups_en.csv"
	FileOccupations               = "occupations_en.csv"
	FileSkills                    = "skills_en.csv"
	FileSkillGroups               = "skillGroups_en.csv"
	FileConceptSchemes            = "conceptSchemes_en.csv"
	FileSkillsHierarchy           = "skillsHierarchy_en.csv"
	FileOccupationSkillRelations  = "occupationSkillRelations_en.csv"
	FileBroaderRelationsOccPillar = "broaderRelationsOccPillar_en.csv"
	FileSkillCollectionRelations  = "skillCollectionRelations_en.csv"
	FileSkillSkillRelations       = "skillSkillRelations_en.csv"
	FileBroaderRelationsSkill     = "broaderRelationsSkillPillar_en.csv"
)

// Files lists every file name above in ingestion order.
func Files() []string {
	return []string{
		FileISCOGroups,
		FileOccupations,
		FileSkills,
		FileSkillGroups,
		FileConceptSchemes,
		FileSkillsHierarchy,
		FileOccupationSkillRelations,
		FileBroaderRelationsOccPillar,
		FileSkillCollectionRelations,
		FileSkillSkillRelations,
		FileBroaderRelationsSkill,
	}
}
