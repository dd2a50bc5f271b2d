package core

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is the internal handle of a stored object.
// It is derived from the object's class and external identifier, so the same
// taxonomy entity always maps to the same handle.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ObjectID returns the handle for the entity of the given class with the given
// external identifier.
func ObjectID(class EntityClass, externalID string) ID {
	return IDFromContent("(" + string(class) + "," + externalID + ")")
}

// EntityClass names one of the taxonomy node kinds.
type EntityClass string

const (
	ClassISCOGroup       EntityClass = "ISCOGroup"
	ClassOccupation      EntityClass = "Occupation"
	ClassSkill           EntityClass = "Skill"
	ClassSkillGroup      EntityClass = "SkillGroup"
	ClassSkillCollection EntityClass = "SkillCollection"
)

// allClasses is ordered the way entity phases run.
var allClasses = []EntityClass{
	ClassISCOGroup,
	ClassOccupation,
	ClassSkill,
	ClassSkillGroup,
	ClassSkillCollection,
}

// AllClasses returns every entity class in ingestion order.
func AllClasses() []EntityClass {
	out := make([]EntityClass, len(allClasses))
	copy(out, allClasses)
	return out
}

// IsKnown reports whether c is one of the registered entity classes.
func (c EntityClass) IsKnown() bool {
	for _, known := range allClasses {
		if c == known {
			return true
		}
	}
	return false
}

// ParseEntityClass resolves a class name case-insensitively.
func ParseEntityClass(name string) (EntityClass, error) {
	for _, known := range allClasses {
		if strings.EqualFold(string(known), strings.TrimSpace(name)) {
			return known, nil
		}
	}
	return "", &UnknownClassError{Name: name}
}

// Well-known object field names.
const (
	FieldConceptURI     = "conceptUri"
	FieldPreferredLabel = "preferredLabel"
	FieldAltLabels      = "altLabels"
	FieldDescription    = "description"
	FieldDefinition     = "definition"
	FieldCode           = "code"
	FieldISCOGroup      = "iscoGroup"
	FieldISCOLevel      = "iscoLevel"
	FieldSkillType      = "skillType"
	FieldReuseLevel     = "reuseLevel"
)

// Object is a single taxonomy entity as held by the store.
type Object struct {
	Id         ID
	Class      EntityClass
	ExternalID string            // Stable identifier from the source data (concept URI); immutable once created
	Fields     map[string]string // Descriptive properties
	Vector     []float32         // Embedding vector (optional)
	InsertedAt time.Time
	UpdatedAt  time.Time
}

// Tuple returns "(Class,ExternalID)", the content the handle is derived from.
func (o *Object) Tuple() string {
	return "(" + string(o.Class) + "," + o.ExternalID + ")"
}

// Label returns the preferred label, falling back to the external identifier.
func (o *Object) Label() string {
	if label := o.Fields[FieldPreferredLabel]; label != "" {
		return label
	}
	return o.ExternalID
}

// EmbeddingText is the text embedded for semantic search.
func (o *Object) EmbeddingText() string {
	label := o.Fields[FieldPreferredLabel]
	desc := o.Fields[FieldDescription]
	if desc == "" {
		desc = o.Fields[FieldDefinition]
	}
	switch {
	case label == "":
		return desc
	case desc == "":
		return label
	default:
		return label + ". " + desc
	}
}

// Reference is a directed edge between two stored objects.
type Reference struct {
	From     ID
	Property string
	To       ID
}

// SearchResult represents a search result with the full object and relevance score.
type SearchResult struct {
	Object *Object
	Score  float32
}
