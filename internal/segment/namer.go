package segment

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// nameLayout is fixed-width and zero-padded, so lexicographic order of
// segment filenames equals chronological order.
const nameLayout = "2006-01-02_15-04-05"

var namePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}$`)

// Namer derives segment filenames under a fixed directory for one session's
// format. It is owned by a single session and not safe for concurrent use.
type Namer struct {
	dir    string
	format Format
	last   time.Time
}

func NewNamer(dir string, format Format) *Namer {
	return &Namer{dir: dir, format: format}
}

// Name returns the full path for a segment starting at t.
func (n *Namer) Name(t time.Time) string {
	return filepath.Join(n.dir, t.Format(nameLayout)+n.format.Ext())
}

// Stem returns the filename stem (the segment ID) for a segment starting at t.
func (n *Namer) Stem(t time.Time) string {
	return t.Format(nameLayout)
}

// Next returns the path and stem for a segment starting at t. Names have
// second resolution; when segments rotate faster than that, the instant is
// advanced past the previous name so successive names never collide and stay
// in chronological order.
func (n *Namer) Next(t time.Time) (path, stem string) {
	t = t.Truncate(time.Second)
	if !t.After(n.last) {
		t = n.last.Add(time.Second)
	}
	n.last = t
	return n.Name(t), n.Stem(t)
}

// ParseName checks whether a filename follows the segment naming convention
// and returns its stem. Files not matching the pattern are not segments.
func ParseName(filename string) (stem string, ok bool) {
	ext := filepath.Ext(filename)
	switch ext {
	case ".wav", ".sln":
	default:
		return "", false
	}
	stem = strings.TrimSuffix(filename, ext)
	if !namePattern.MatchString(stem) {
		return "", false
	}
	return stem, true
}

// StemTime parses a segment stem back into its capture instant.
func StemTime(stem string) (time.Time, error) {
	return time.ParseInLocation(nameLayout, stem, time.Local)
}
