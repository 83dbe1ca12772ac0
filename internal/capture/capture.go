package capture

import (
	"errors"

	"github.com/amanullahtanweer/audio-segmenter/internal/segment"
)

// ErrDeviceUnavailable is returned by Open while another handle is still
// open. The rotation controller never opens a second segment before the
// first one's completion is observed, so hitting this is a programming
// error, not a recoverable condition.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// CompletionEvent is the single asynchronous notification that an opened
// handle has finished writing its file. Success=false with a non-nil Err is
// an encoding failure; the partial file is left on disk for the caller to
// remove.
type CompletionEvent struct {
	Success bool
	Err     error
}

// Device wraps one exclusive platform capture resource. Open allocates it
// for a single segment and begins writing immediately.
type Device interface {
	Open(path string, format segment.Format) (Handle, error)
}

// Handle is one opened capture resource, valid for the lifetime of one
// segment.
//
// RequestStop is asynchronous and never blocks: its effect is observed only
// through Done. It is idempotent, and a no-op if the handle already finished
// naturally. Done delivers exactly one event per opened handle.
type Handle interface {
	Path() string
	RequestStop()
	Done() <-chan CompletionEvent
}
