package metrics

import (
	"fmt"
	"sync"
	"time"
)

// SessionMetrics accumulates per-session capture counters. Written by the
// controller loop, read by whoever prints the summary.
type SessionMetrics struct {
	SessionID string
	StartTime time.Time
	EndTime   time.Time

	SegmentsCompleted int
	SegmentsFailed    int
	Rotations         int
	AudioBytes        int64

	mu sync.Mutex
}

func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		SessionID: sessionID,
		StartTime: time.Now(),
	}
}

func (m *SessionMetrics) AddRotation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rotations++
}

func (m *SessionMetrics) AddSegment(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SegmentsCompleted++
	m.AudioBytes += bytes
}

func (m *SessionMetrics) AddFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SegmentsFailed++
}

func (m *SessionMetrics) Finalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndTime = time.Now()
}

func (m *SessionMetrics) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := m.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	duration := end.Sub(m.StartTime)

	return fmt.Sprintf(
		"Session: %s\n"+
			"Duration: %v\n"+
			"Segments Completed: %d\n"+
			"Segments Failed: %d\n"+
			"Rotations: %d\n"+
			"Audio Bytes: %d\n",
		m.SessionID,
		duration,
		m.SegmentsCompleted,
		m.SegmentsFailed,
		m.Rotations,
		m.AudioBytes,
	)
}
