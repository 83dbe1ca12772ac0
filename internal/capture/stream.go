package capture

import (
	"fmt"
	"io"
	"sync"

	"github.com/CyCoreSystems/audiosocket"
	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/audio-segmenter/internal/segment"
)

// StreamDevice captures from one AudioSocket connection. A background pump
// drains messages for the whole connection lifetime; slin payloads are
// written to the currently attached handle's file and dropped while no
// handle is open, so rotation never stalls the peer.
//
// A hangup while a handle is attached finishes that handle successfully
// (an unsolicited completion); once the connection is gone every further
// Open fails with ErrDeviceUnavailable.
type StreamDevice struct {
	r      io.Reader
	logger zerolog.Logger

	mu     sync.Mutex
	active *streamHandle
	closed bool
}

func NewStreamDevice(r io.Reader, logger zerolog.Logger) *StreamDevice {
	d := &StreamDevice{
		r:      r,
		logger: logger.With().Str("component", "stream-capture").Logger(),
	}
	go d.pump()
	return d
}

func (d *StreamDevice) Open(path string, format segment.Format) (Handle, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("%w: connection closed", ErrDeviceUnavailable)
	}
	if d.active != nil {
		return nil, ErrDeviceUnavailable
	}

	out, err := newSink(path, format)
	if err != nil {
		return nil, err
	}

	h := &streamHandle{
		path:   path,
		device: d,
		out:    out,
		done:   make(chan CompletionEvent, 1),
	}
	d.active = h
	d.logger.Debug().Str("path", path).Msg("Capture started")
	return h, nil
}

// pump reads AudioSocket messages until hangup or connection error.
func (d *StreamDevice) pump() {
	for {
		msg, err := audiosocket.NextMessage(d.r)
		if err != nil {
			if err != io.EOF {
				d.logger.Warn().Err(err).Msg("Connection read failed")
			}
			d.shutdown()
			return
		}

		switch msg.Kind() {
		case audiosocket.KindSlin:
			d.writeActive(msg.Payload())

		case audiosocket.KindError:
			d.finishActive(false, fmt.Errorf("peer reported error code %d", msg.ErrorCode()))

		case audiosocket.KindHangup:
			d.logger.Debug().Msg("Received hangup")
			d.shutdown()
			return
		}
	}
}

func (d *StreamDevice) writeActive(payload []byte) {
	if len(payload) == 0 {
		return
	}
	d.mu.Lock()
	h := d.active
	d.mu.Unlock()
	if h == nil {
		return
	}
	if err := h.write(payload); err != nil {
		d.finishActive(false, err)
	}
}

// finishActive detaches the active handle, if any, finalizes its file and
// delivers its completion event.
func (d *StreamDevice) finishActive(success bool, failure error) {
	d.mu.Lock()
	h := d.active
	d.active = nil
	d.mu.Unlock()
	if h == nil {
		return
	}
	h.finish(success, failure)
}

// shutdown ends the connection lifetime: the attached handle, if any, is
// finished successfully as an unsolicited completion.
func (d *StreamDevice) shutdown() {
	d.mu.Lock()
	h := d.active
	d.active = nil
	d.closed = true
	d.mu.Unlock()
	if h != nil {
		h.finish(true, nil)
	}
}

// detach removes h if it is still attached; used by RequestStop.
func (d *StreamDevice) detach(h *streamHandle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active != h {
		return false
	}
	d.active = nil
	return true
}

type streamHandle struct {
	path   string
	device *StreamDevice

	// sinkMu serializes pump writes against finalization: RequestStop runs
	// finish on its own goroutine, so without it a write could race the
	// encoder closing the container header.
	sinkMu sync.Mutex
	out    *sink
	closed bool

	finishOnce sync.Once
	done       chan CompletionEvent
}

func (h *streamHandle) Path() string { return h.path }

// write appends PCM to the sink; frames arriving after finalization started
// are dropped.
func (h *streamHandle) write(payload []byte) error {
	h.sinkMu.Lock()
	defer h.sinkMu.Unlock()
	if h.closed {
		return nil
	}
	return h.out.writePCM(payload)
}

func (h *streamHandle) Done() <-chan CompletionEvent { return h.done }

// RequestStop finalizes the segment file asynchronously with respect to the
// pump; if the handle already finished naturally this is a no-op and the
// previously queued event stands.
func (h *streamHandle) RequestStop() {
	if !h.device.detach(h) {
		return
	}
	go h.finish(true, nil)
}

func (h *streamHandle) finish(success bool, failure error) {
	h.finishOnce.Do(func() {
		h.sinkMu.Lock()
		h.closed = true
		err := h.out.close()
		h.sinkMu.Unlock()
		if err != nil && failure == nil {
			success = false
			failure = err
		}
		if failure != nil {
			h.device.logger.Error().Err(failure).Str("path", h.path).Msg("Capture failed")
		} else {
			h.device.logger.Debug().Str("path", h.path).Msg("Capture finished")
		}
		h.done <- CompletionEvent{Success: success, Err: failure}
	})
}
