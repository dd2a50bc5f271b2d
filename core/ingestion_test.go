package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestIngestionState_TextRoundTrip(t *testing.T) {
	for _, state := range AllStates() {
		text, err := state.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", state, err)
		}
		var back IngestionState
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", text, err)
		}
		if back != state {
			t.Errorf("round trip %v -> %q -> %v", state, text, back)
		}
	}
}

func TestParseIngestionState(t *testing.T) {
	got, err := ParseIngestionState(" IN_PROGRESS ")
	if err != nil || got != StateInProgress {
		t.Errorf("ParseIngestionState() = %v, %v", got, err)
	}
	_, err = ParseIngestionState("paused")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestIngestionMetadata_JSONUsesStatusNames(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	md := NewIngestionMetadata(StateInProgress, now, map[string]any{DetailStep: "ingest_skills"})

	data, err := json.Marshal(md)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["status"] != "in_progress" {
		t.Errorf("status encoded as %v", raw["status"])
	}
	if raw["timestamp"] != "2025-03-01T12:00:00Z" {
		t.Errorf("timestamp encoded as %v", raw["timestamp"])
	}

	var back IngestionMetadata
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Status != StateInProgress || back.Step() != "ingest_skills" || back.Version != MetadataVersion {
		t.Errorf("unexpected decoded metadata: %+v", back)
	}
}

func TestIngestionMetadata_LastSeen(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	hb := ts.Add(time.Hour)

	md := &IngestionMetadata{Timestamp: FormatTimestamp(ts), HeartbeatTimestamp: FormatTimestamp(hb)}
	got, err := md.LastSeen()
	if err != nil || !got.Equal(hb) {
		t.Errorf("LastSeen() should prefer heartbeat, got %v, %v", got, err)
	}

	md.HeartbeatTimestamp = ""
	got, err = md.LastSeen()
	if err != nil || !got.Equal(ts) {
		t.Errorf("LastSeen() should fall back to timestamp, got %v, %v", got, err)
	}

	md.Timestamp = "not a time"
	if _, err := md.LastSeen(); err == nil {
		t.Error("LastSeen() should fail on unparseable timestamp")
	}
}

func TestParseTimestamp_NaiveIsUTC(t *testing.T) {
	got, err := ParseTimestamp("2025-03-01T12:00:00.123456")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ParseTimestamp() = %v, want %v", got, want)
	}
}

func TestIngestionResult_Helpers(t *testing.T) {
	start := time.Now()
	r := &IngestionResult{StartTime: start, StepsCompleted: 6, TotalSteps: 12}
	if r.Duration() != 0 {
		t.Error("Duration() should be zero before end")
	}
	r.EndTime = start.Add(90 * time.Second)
	if r.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v", r.Duration())
	}
	if r.CompletionPercentage() != 50 {
		t.Errorf("CompletionPercentage() = %v", r.CompletionPercentage())
	}

	p := IngestionProgress{StepNumber: 3, TotalSteps: 12}
	if p.Percentage() != 25 {
		t.Errorf("Percentage() = %v", p.Percentage())
	}
}
