package core

import (
	"errors"
	"testing"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantSame bool
	}{
		{
			name:     "same content produces same ID",
			content:  "test content",
			wantSame: true,
		},
		{
			name:     "empty string",
			content:  "",
			wantSame: true,
		},
		{
			name:     "uri content",
			content:  "http://data.europa.eu/esco/occupation/00030d09-2b3a-4efd-87cc-c4ea39d27c34",
			wantSame: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)

			if tt.wantSame && id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestObjectID_ClassScoped(t *testing.T) {
	uri := "http://data.europa.eu/esco/isco/C2511"

	if ObjectID(ClassISCOGroup, uri) == ObjectID(ClassOccupation, uri) {
		t.Errorf("ObjectID() produced same handle for different classes")
	}
	if ObjectID(ClassISCOGroup, uri) != ObjectID(ClassISCOGroup, uri) {
		t.Errorf("ObjectID() is not deterministic")
	}
}

func TestObject_Tuple(t *testing.T) {
	obj := Object{Class: ClassSkill, ExternalID: "http://x/skill/1"}
	want := "(Skill,http://x/skill/1)"
	if got := obj.Tuple(); got != want {
		t.Errorf("Tuple() = %q, want %q", got, want)
	}
	if IDFromContent(obj.Tuple()) != ObjectID(obj.Class, obj.ExternalID) {
		t.Errorf("ObjectID() does not hash the tuple")
	}
}

func TestObject_EmbeddingText(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		want   string
	}{
		{"label and description", map[string]string{FieldPreferredLabel: "baker", FieldDescription: "Bakes bread."}, "baker. Bakes bread."},
		{"definition fallback", map[string]string{FieldPreferredLabel: "baker", FieldDefinition: "Makes bread."}, "baker. Makes bread."},
		{"label only", map[string]string{FieldPreferredLabel: "baker"}, "baker"},
		{"description only", map[string]string{FieldDescription: "Bakes bread."}, "Bakes bread."},
		{"empty", map[string]string{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := Object{Fields: tt.fields}
			if got := obj.EmbeddingText(); got != tt.want {
				t.Errorf("EmbeddingText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestObject_Label(t *testing.T) {
	obj := Object{ExternalID: "uri", Fields: map[string]string{}}
	if got := obj.Label(); got != "uri" {
		t.Errorf("Label() = %q, want fallback to external id", got)
	}
	obj.Fields[FieldPreferredLabel] = "nurse"
	if got := obj.Label(); got != "nurse" {
		t.Errorf("Label() = %q, want %q", got, "nurse")
	}
}

func TestParseEntityClass(t *testing.T) {
	for _, class := range AllClasses() {
		got, err := ParseEntityClass(string(class))
		if err != nil || got != class {
			t.Errorf("ParseEntityClass(%q) = %q, %v", class, got, err)
		}
	}

	got, err := ParseEntityClass("  skillgroup ")
	if err != nil || got != ClassSkillGroup {
		t.Errorf("ParseEntityClass() should be case-insensitive, got %q, %v", got, err)
	}

	_, err = ParseEntityClass("Planet")
	var unknown *UnknownClassError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownClassError, got %v", err)
	}
	if unknown.Name != "Planet" {
		t.Errorf("UnknownClassError.Name = %q", unknown.Name)
	}
}

func TestAllClasses_ReturnsCopy(t *testing.T) {
	classes := AllClasses()
	if len(classes) != 5 {
		t.Fatalf("expected 5 classes, got %d", len(classes))
	}
	classes[0] = "Mutated"
	if AllClasses()[0] != ClassISCOGroup {
		t.Errorf("AllClasses() exposes internal slice")
	}
}
