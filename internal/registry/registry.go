package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/audio-segmenter/internal/segment"
)

// Registry is the authoritative on-disk listing of completed segment files.
// It holds no state of its own: List re-scans the directory, so the listing
// always reflects what actually survived on disk.
type Registry struct {
	dir    string
	logger zerolog.Logger
}

func New(dir string, logger zerolog.Logger) (*Registry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}
	return &Registry{
		dir:    dir,
		logger: logger.With().Str("component", "registry").Logger(),
	}, nil
}

func (r *Registry) Dir() string { return r.dir }

// List returns all files matching the segment naming convention, newest
// first. Non-matching files are ignored.
func (r *Registry) List() ([]segment.Segment, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	var segments []segment.Segment
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stem, ok := segment.ParseName(entry.Name())
		if !ok {
			continue
		}
		segments = append(segments, segment.Segment{
			ID:     stem,
			Path:   filepath.Join(r.dir, entry.Name()),
			Status: segment.StatusCompleted,
		})
	}

	// Filenames are fixed-width timestamps: lexicographic descending order
	// is chronological descending order.
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Path > segments[j].Path
	})
	return segments, nil
}

// Delete removes the files for the given segment IDs, one by one. A failure
// on one ID never blocks the others; the per-ID result map reports each
// outcome. Nothing is removed from the listing optimistically: List scans
// the disk, so only files actually gone disappear from it.
func (r *Registry) Delete(ids []string) map[string]error {
	listing, err := r.List()
	results := make(map[string]error, len(ids))
	if err != nil {
		for _, id := range ids {
			results[id] = err
		}
		return results
	}

	byID := make(map[string]string, len(listing))
	for _, seg := range listing {
		byID[seg.ID] = seg.Path
	}

	for _, id := range ids {
		path, ok := byID[id]
		if !ok {
			results[id] = fmt.Errorf("no segment with id %s", id)
			continue
		}
		if err := os.Remove(path); err != nil {
			r.logger.Warn().Err(err).Str("id", id).Msg("Failed to delete segment")
			results[id] = err
			continue
		}
		r.logger.Debug().Str("id", id).Msg("Segment deleted")
		results[id] = nil
	}
	return results
}

// Remove deletes a single file by path; used by the rotation controller to
// clean up partial segments. A file that is already gone is not an error.
func (r *Registry) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
