package segment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Encoding selects the container written for each segment file.
type Encoding string

const (
	EncodingWAV  Encoding = "wav"  // PCM in a WAV container
	EncodingSlin Encoding = "slin" // raw signed linear 16-bit
)

// Format describes the sample format for a whole session. It is chosen once
// at session start and applied identically to every segment.
type Format struct {
	SampleRate int      `yaml:"sample_rate"`
	Channels   int      `yaml:"channels"`
	Encoding   Encoding `yaml:"encoding"`
}

// DefaultFormat is mono 16kHz WAV, the usual choice for speech analysis.
func DefaultFormat() Format {
	return Format{
		SampleRate: 16000,
		Channels:   1,
		Encoding:   EncodingWAV,
	}
}

// ErrFormatUnsupported is returned when a device cannot capture in the
// requested format.
var ErrFormatUnsupported = errors.New("unsupported capture format")

// Validate checks the format against what the capture backends support:
// mono, speech-class sample rates.
func (f Format) Validate() error {
	if f.Channels != 1 {
		return fmt.Errorf("%w: %d channels (only mono supported)", ErrFormatUnsupported, f.Channels)
	}
	switch f.SampleRate {
	case 8000, 12000, 16000:
	default:
		return fmt.Errorf("%w: sample rate %d", ErrFormatUnsupported, f.SampleRate)
	}
	switch f.Encoding {
	case EncodingWAV, EncodingSlin:
	default:
		return fmt.Errorf("%w: encoding %q", ErrFormatUnsupported, f.Encoding)
	}
	return nil
}

// Ext returns the filename extension for the format's container.
func (f Format) Ext() string {
	if f.Encoding == EncodingSlin {
		return ".sln"
	}
	return ".wav"
}

// BytesPerSecond is the PCM data rate (16-bit samples).
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Status is the lifecycle of a single segment file.
type Status string

const (
	StatusRecording  Status = "recording"
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// CanTransition reports whether a status change follows the segment
// lifecycle: Recording -> Finalizing -> Completed | Failed.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusRecording:
		return to == StatusFinalizing || to == StatusFailed
	case StatusFinalizing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Segment is one capture-device-produced file. ID doubles as the filename
// stem.
type Segment struct {
	ID     string
	Path   string
	Format Format
	Status Status
}

// StopIntent records why the active segment is being closed. A single
// tri-state field, mutated only inside the controller's event loop, so a
// completion event is always interpreted against one authoritative value.
type StopIntent int

const (
	IntentNone StopIntent = iota
	IntentRotating
	IntentManualStop
)

func (i StopIntent) String() string {
	switch i {
	case IntentRotating:
		return "rotating"
	case IntentManualStop:
		return "manual_stop"
	default:
		return "none"
	}
}

// Session is the logical continuous recording the user perceives as one
// take. Owned exclusively by the rotation controller; Active holds the one
// segment currently recording or finalizing, if any.
type Session struct {
	ID      uuid.UUID
	Target  time.Duration // fixed rotation interval
	Format  Format
	Started time.Time
	Intent  StopIntent
	Active  *Segment
}

// NewSession creates a session with a fresh ID.
func NewSession(target time.Duration, format Format) *Session {
	return &Session{
		ID:      uuid.New(),
		Target:  target,
		Format:  format,
		Started: time.Now(),
	}
}
