package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	r, err := New(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	return r, dir
}

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("pcm"), 0644); err != nil {
		t.Fatalf("Failed to create %s: %v", name, err)
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	r, dir := newTestRegistry(t)

	touch(t, dir, "2024-03-07_09-05-02.wav")
	touch(t, dir, "2024-03-07_09-05-32.wav")
	touch(t, dir, "2024-03-06_23-59-59.wav")
	touch(t, dir, "notes.txt")
	touch(t, dir, "random.wav")
	touch(t, dir, "2024-03-07_09-05-32.txt") // transcript, not a segment

	segments, err := r.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(segments) != 3 {
		t.Fatalf("Expected 3 segments, got %d", len(segments))
	}

	// Newest first.
	wantOrder := []string{
		"2024-03-07_09-05-32",
		"2024-03-07_09-05-02",
		"2024-03-06_23-59-59",
	}
	for i, want := range wantOrder {
		if segments[i].ID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, segments[i].ID)
		}
	}
}

func TestListEmptyDirectory(t *testing.T) {
	r, _ := newTestRegistry(t)
	segments, err := r.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(segments) != 0 {
		t.Errorf("Expected empty listing, got %d", len(segments))
	}
}

func TestDeletePartialFailure(t *testing.T) {
	r, dir := newTestRegistry(t)

	touch(t, dir, "2024-03-07_09-05-02.wav")
	touch(t, dir, "2024-03-07_09-05-32.wav")

	results := r.Delete([]string{
		"2024-03-07_09-05-02",
		"2024-03-07_10-00-00", // does not exist
		"2024-03-07_09-05-32",
	})

	if results["2024-03-07_09-05-02"] != nil {
		t.Errorf("Expected first delete to succeed: %v", results["2024-03-07_09-05-02"])
	}
	if results["2024-03-07_10-00-00"] == nil {
		t.Error("Expected an error for the missing segment")
	}
	// A failure in the middle never blocks the rest.
	if results["2024-03-07_09-05-32"] != nil {
		t.Errorf("Expected last delete to succeed: %v", results["2024-03-07_09-05-32"])
	}

	segments, err := r.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(segments) != 0 {
		t.Errorf("Expected empty listing after deletes, got %d", len(segments))
	}
}

func TestRemoveMissingFileIsNotAnError(t *testing.T) {
	r, dir := newTestRegistry(t)
	if err := r.Remove(filepath.Join(dir, "2024-03-07_09-05-02.wav")); err != nil {
		t.Errorf("Remove of a missing file should not error: %v", err)
	}
}

func TestNewCreatesDirectory(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "Recordings")
	if _, err := New(dir, zerolog.Nop()); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("Expected directory to be created on demand: %v", err)
	}
}
