package models

import (
	"testing"
	"time"
)

func TestIsTerminal(t *testing.T) {
	cases := map[string]bool{
		StatusQueued:     false,
		StatusInProgress: false,
		StatusCompleted:  true,
		StatusFailed:     true,
		"":               false,
	}
	for status, want := range cases {
		if got := IsTerminal(status); got != want {
			t.Fatalf("IsTerminal(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestJobUpdateEmpty(t *testing.T) {
	if !(JobUpdate{}).Empty() {
		t.Fatal("zero update must be empty")
	}
	progress := 40
	if (JobUpdate{Progress: &progress}).Empty() {
		t.Fatal("update with a field must not be empty")
	}
}

func TestJobUpdateChanges(t *testing.T) {
	status := StatusCompleted
	progress := 100
	path := "/videos/j1.mp4"
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	upd := JobUpdate{
		Status:      &status,
		Progress:    &progress,
		FilePath:    &path,
		CompletedAt: &now,
	}
	changes := upd.Changes()
	if len(changes) != 4 {
		t.Fatalf("expected 4 changes, got %d: %v", len(changes), changes)
	}
	if changes["status"] != StatusCompleted || changes["progress"] != 100 || changes["file_path"] != path {
		t.Fatalf("unexpected changes: %v", changes)
	}
	if changes["completed_at"] != now {
		t.Fatalf("unexpected completed_at: %v", changes["completed_at"])
	}

	if got := (JobUpdate{}).Changes(); len(got) != 0 {
		t.Fatalf("empty update must yield no changes, got %v", got)
	}
}
