package rotation

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/audio-segmenter/internal/capture"
	"github.com/amanullahtanweer/audio-segmenter/internal/metrics"
	"github.com/amanullahtanweer/audio-segmenter/internal/segment"
)

// State is the rotation controller's session state.
type State int32

const (
	StateIdle State = iota
	StateActive
	StateRotatingOut
	StateManualStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateRotatingOut:
		return "rotating_out"
	case StateManualStopping:
		return "manual_stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// EventKind classifies session events delivered to external listeners.
type EventKind int

const (
	SegmentCompleted EventKind = iota
	SessionStopped
	SessionFailed
)

func (k EventKind) String() string {
	switch k {
	case SegmentCompleted:
		return "segment_completed"
	case SessionStopped:
		return "session_stopped"
	case SessionFailed:
		return "session_failed"
	default:
		return "unknown"
	}
}

// SessionEvent is emitted on the controller's event channel. Path is set for
// SegmentCompleted; Err is set for SessionFailed.
type SessionEvent struct {
	Kind EventKind
	Path string
	Err  error
}

// Cleaner removes partial segment files left by failed captures. Satisfied
// by the recording registry.
type Cleaner interface {
	Remove(path string) error
}

// ErrAlreadyStarted is returned by Start on a controller whose session has
// already been created. A controller drives exactly one session; create a
// new controller for a new take.
var ErrAlreadyStarted = errors.New("session already started")

// Config carries the per-session settings fixed at Start.
type Config struct {
	Dir             string
	SegmentDuration time.Duration
	Format          segment.Format
}

// Controller owns the segment rotation state machine. Timer ticks, capture
// completion events and stop requests all converge on one event loop
// goroutine, the single serialization point for session state: no field is
// mutated anywhere else once the loop is running.
type Controller struct {
	dev     capture.Device
	cleaner Cleaner
	cfg     Config
	namer   *segment.Namer
	logger  zerolog.Logger

	session *segment.Session
	state   State
	active  capture.Handle
	ticker  *time.Ticker
	stats   *metrics.SessionMetrics

	atomicState atomic.Int32
	launched    atomic.Bool
	stopCh      chan struct{}
	done        chan struct{}
	events      chan SessionEvent

	// tickOverride replaces the ticker channel in tests so rotation timing
	// is driven explicitly.
	tickOverride <-chan time.Time
}

func New(dev capture.Device, cleaner Cleaner, cfg Config, logger zerolog.Logger) *Controller {
	return &Controller{
		dev:     dev,
		cleaner: cleaner,
		cfg:     cfg,
		namer:   segment.NewNamer(cfg.Dir, cfg.Format),
		logger:  logger.With().Str("component", "rotation").Logger(),
		state:   StateIdle,
		stopCh:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		events:  make(chan SessionEvent, 32),
	}
}

// Events delivers session events to external listeners. The channel is
// closed once the session reaches its terminal state.
func (c *Controller) Events() <-chan SessionEvent { return c.events }

// Done is closed when the session has reached its terminal state and the
// event loop has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

// State reports the last state published by the event loop.
func (c *Controller) State() State { return State(c.atomicState.Load()) }

// Metrics returns the session counters; nil before Start.
func (c *Controller) Metrics() *metrics.SessionMetrics { return c.stats }

// Start creates the session, opens segment 0 and arms the rotation timer.
// An open failure terminates the session immediately: a failing capture
// resource is assumed systemic, so it is surfaced rather than retried.
func (c *Controller) Start() error {
	if !c.launched.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := c.cfg.Format.Validate(); err != nil {
		c.failStart(err)
		return err
	}
	if err := os.MkdirAll(c.cfg.Dir, 0755); err != nil {
		err = fmt.Errorf("failed to create recordings directory: %w", err)
		c.failStart(err)
		return err
	}

	c.session = segment.NewSession(c.cfg.SegmentDuration, c.cfg.Format)
	c.stats = metrics.NewSessionMetrics(c.session.ID.String())

	if err := c.openSegment(); err != nil {
		c.failStart(err)
		return err
	}

	c.setState(StateActive)
	c.ticker = time.NewTicker(c.cfg.SegmentDuration)
	c.logger.Info().
		Str("session", c.session.ID.String()).
		Dur("segment_duration", c.cfg.SegmentDuration).
		Str("segment", c.session.Active.ID).
		Msg("Session started")

	go c.run()
	return nil
}

// Stop requests a manual stop. It never blocks and is idempotent: repeated
// calls, or calls after the session has already terminated, are no-ops.
func (c *Controller) Stop() {
	if !c.launched.Load() {
		return
	}
	select {
	case c.stopCh <- struct{}{}:
	case <-c.done:
	default:
	}
}

// failStart terminates a session that never got its event loop running.
func (c *Controller) failStart(err error) {
	c.logger.Error().Err(err).Msg("Session failed to start")
	c.terminate(SessionEvent{Kind: SessionFailed, Err: err})
	close(c.events)
	close(c.done)
}

// run is the event loop. It exits when the session reaches StateStopped.
func (c *Controller) run() {
	defer close(c.done)
	defer close(c.events)
	defer c.ticker.Stop()

	tick := c.ticker.C
	if c.tickOverride != nil {
		tick = c.tickOverride
	}

	for {
		select {
		case <-tick:
			c.onTick()
		case ev := <-c.active.Done():
			c.onCompletion(ev)
		case <-c.stopCh:
			c.onStop()
		}
		if c.state == StateStopped {
			return
		}
	}
}

// onTick starts a rotation: the active segment is asked to stop and the
// next one is opened only after its completion event arrives.
func (c *Controller) onTick() {
	if c.state != StateActive {
		// A tick landing mid-rotation or mid-stop is stale.
		return
	}
	c.session.Intent = segment.IntentRotating
	c.advance(c.session.Active, segment.StatusFinalizing)
	c.setState(StateRotatingOut)
	c.stats.AddRotation()
	c.logger.Debug().Str("segment", c.session.Active.ID).Msg("Rotation tick")
	c.active.RequestStop()
}

// onStop handles a manual stop request.
func (c *Controller) onStop() {
	switch c.state {
	case StateManualStopping, StateStopped:
		return
	}

	c.ticker.Stop()

	// No segment in flight: nothing will deliver a completion event, so the
	// session terminates right here instead of waiting on one.
	if c.active == nil {
		c.session.Intent = segment.IntentManualStop
		c.logger.Info().Msg("Stop requested with no active segment")
		c.terminate(SessionEvent{Kind: SessionStopped})
		return
	}

	c.session.Intent = segment.IntentManualStop
	c.advance(c.session.Active, segment.StatusFinalizing)
	// Mid-rotation the device stop has already been requested; changing the
	// intent alone reroutes the pending completion event.
	if c.state == StateActive {
		c.active.RequestStop()
	}
	c.setState(StateManualStopping)
	c.logger.Info().Str("segment", c.session.Active.ID).Msg("Manual stop requested")
}

// onCompletion interprets the active segment's completion event through the
// session's stop intent, never through timing.
func (c *Controller) onCompletion(ev capture.CompletionEvent) {
	seg := c.session.Active
	c.active = nil
	c.session.Active = nil

	switch c.session.Intent {
	case segment.IntentRotating:
		if !ev.Success {
			c.advance(seg, segment.StatusFailed)
			c.removePartial(seg)
			c.fail(fmt.Errorf("segment %s failed during rotation: %w", seg.ID, ev.Err))
			return
		}
		c.completeSegment(seg)
		c.session.Intent = segment.IntentNone
		if err := c.openSegment(); err != nil {
			c.fail(err)
			return
		}
		c.setState(StateActive)

	case segment.IntentManualStop:
		if ev.Success {
			c.completeSegment(seg)
		} else {
			c.advance(seg, segment.StatusFailed)
			c.stats.AddFailure()
			c.logger.Warn().Err(ev.Err).Str("segment", seg.ID).Msg("Final segment discarded")
			c.removePartial(seg)
		}
		c.session.Intent = segment.IntentNone
		c.terminate(SessionEvent{Kind: SessionStopped})

	default: // IntentNone: unsolicited completion
		c.ticker.Stop()
		if ev.Success {
			// External interruption finished the segment cleanly; treat it
			// as an implicit stop.
			c.logger.Info().Str("segment", seg.ID).Msg("Unsolicited completion, stopping session")
			c.advance(seg, segment.StatusFinalizing)
			c.completeSegment(seg)
			c.terminate(SessionEvent{Kind: SessionStopped})
			return
		}
		c.advance(seg, segment.StatusFailed)
		c.removePartial(seg)
		c.fail(fmt.Errorf("segment %s encoding failed: %w", seg.ID, ev.Err))
	}
}

// openSegment derives the next segment name and opens the capture device
// for it. The caller owns the state transition that follows.
func (c *Controller) openSegment() error {
	path, stem := c.namer.Next(time.Now())
	handle, err := c.dev.Open(path, c.cfg.Format)
	if err != nil {
		return fmt.Errorf("failed to open segment %s: %w", stem, err)
	}
	c.active = handle
	c.session.Active = &segment.Segment{
		ID:     stem,
		Path:   path,
		Format: c.cfg.Format,
		Status: segment.StatusRecording,
	}
	return nil
}

// advance moves a segment along its lifecycle. The transition table is the
// contract; a jump outside it is a controller bug, logged and not applied.
func (c *Controller) advance(seg *segment.Segment, to segment.Status) {
	if seg.Status == to {
		return
	}
	if !seg.Status.CanTransition(to) {
		c.logger.Warn().
			Str("segment", seg.ID).
			Str("from", string(seg.Status)).
			Str("to", string(to)).
			Msg("Invalid segment status transition")
		return
	}
	seg.Status = to
}

func (c *Controller) completeSegment(seg *segment.Segment) {
	c.advance(seg, segment.StatusCompleted)
	var size int64
	if info, err := os.Stat(seg.Path); err == nil {
		size = info.Size()
	}
	c.stats.AddSegment(size)
	c.logger.Info().
		Str("segment", seg.ID).
		Int64("bytes", size).
		Float64("seconds", float64(size)/float64(seg.Format.BytesPerSecond())).
		Msg("Segment completed")
	c.emit(SessionEvent{Kind: SegmentCompleted, Path: seg.Path})
}

func (c *Controller) removePartial(seg *segment.Segment) {
	if err := c.cleaner.Remove(seg.Path); err != nil {
		c.logger.Warn().Err(err).Str("path", seg.Path).Msg("Failed to remove partial segment")
	}
}

func (c *Controller) fail(err error) {
	c.stats.AddFailure()
	c.logger.Error().Err(err).Msg("Session failed")
	c.terminate(SessionEvent{Kind: SessionFailed, Err: err})
}

// terminate emits the terminal event and moves the session to Stopped. The
// run loop observes the state and exits, closing Done and Events.
func (c *Controller) terminate(ev SessionEvent) {
	if c.ticker != nil {
		c.ticker.Stop()
	}
	if c.stats != nil {
		c.stats.Finalize()
	}
	c.emit(ev)
	c.setState(StateStopped)
	c.logger.Info().Str("event", ev.Kind.String()).Msg("Session terminated")
}

func (c *Controller) emit(ev SessionEvent) {
	c.events <- ev
}

func (c *Controller) setState(s State) {
	c.state = s
	c.atomicState.Store(int32(s))
}
