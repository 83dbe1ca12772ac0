package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/audio-segmenter/internal/rotation"
)

// Analyzer is an injected downstream capability: transcription, speech
// classification, summarization. It receives a path to a completed, closed,
// readable file and owns all further I/O on it.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, path string) error
}

// Dispatcher fans completed segments out to analyzers, one goroutine per
// segment per analyzer. Analysis is fire-and-forget: failures are logged
// and never reach the rotation controller, and capture never waits on
// analysis.
type Dispatcher struct {
	analyzers []Analyzer
	logger    zerolog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	terminal *rotation.SessionEvent
}

func New(logger zerolog.Logger, analyzers ...Analyzer) *Dispatcher {
	return &Dispatcher{
		analyzers: analyzers,
		logger:    logger.With().Str("component", "dispatch").Logger(),
	}
}

// Run consumes the controller's event channel until it closes. It returns
// the terminal event, if one was observed. Analyzer work may still be in
// flight when Run returns; use Wait to drain it.
func (d *Dispatcher) Run(ctx context.Context, events <-chan rotation.SessionEvent) *rotation.SessionEvent {
	for ev := range events {
		switch ev.Kind {
		case rotation.SegmentCompleted:
			d.dispatch(ctx, ev.Path)
		case rotation.SessionStopped:
			d.logger.Info().Msg("Session stopped")
			d.setTerminal(ev)
		case rotation.SessionFailed:
			d.logger.Error().Err(ev.Err).Msg("Session failed")
			d.setTerminal(ev)
		}
	}
	return d.Terminal()
}

func (d *Dispatcher) dispatch(ctx context.Context, path string) {
	for _, a := range d.analyzers {
		a := a
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := a.Analyze(ctx, path); err != nil {
				d.logger.Warn().Err(err).Str("analyzer", a.Name()).Str("path", path).Msg("Analysis failed")
				return
			}
			d.logger.Debug().Str("analyzer", a.Name()).Str("path", path).Msg("Analysis finished")
		}()
	}
}

// Wait blocks until all in-flight analyzer work has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Terminal returns the session's terminal event, if Run has seen one.
func (d *Dispatcher) Terminal() *rotation.SessionEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.terminal
}

func (d *Dispatcher) setTerminal(ev rotation.SessionEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.terminal == nil {
		d.terminal = &ev
	}
}
