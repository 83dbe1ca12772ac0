package capture

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/audio-segmenter/internal/segment"
)

// bufferFrames is 30ms of audio at 16kHz per stream read.
const bufferFrames = 480

// PortAudioDevice captures from the default system input device. One handle
// may be open at a time.
type PortAudioDevice struct {
	logger zerolog.Logger
	mu     sync.Mutex
	busy   bool
}

func NewPortAudioDevice(logger zerolog.Logger) *PortAudioDevice {
	return &PortAudioDevice{
		logger: logger.With().Str("component", "portaudio").Logger(),
	}
}

func (d *PortAudioDevice) Open(path string, format segment.Format) (Handle, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.busy {
		d.mu.Unlock()
		return nil, ErrDeviceUnavailable
	}
	d.busy = true
	d.mu.Unlock()

	out, err := newSink(path, format)
	if err != nil {
		d.release()
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		_ = out.close()
		d.release()
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}

	in := make([]int16, bufferFrames)
	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), len(in), in)
	if err != nil {
		_ = portaudio.Terminate()
		_ = out.close()
		d.release()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		_ = out.close()
		d.release()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	h := &paHandle{
		path:   path,
		device: d,
		stream: stream,
		in:     in,
		out:    out,
		stop:   make(chan struct{}),
		done:   make(chan CompletionEvent, 1),
	}
	go h.run()

	d.logger.Debug().Str("path", path).Msg("Capture started")
	return h, nil
}

func (d *PortAudioDevice) release() {
	d.mu.Lock()
	d.busy = false
	d.mu.Unlock()
}

type paHandle struct {
	path   string
	device *PortAudioDevice
	stream *portaudio.Stream
	in     []int16
	out    *sink

	stopOnce sync.Once
	stop     chan struct{}
	done     chan CompletionEvent
}

func (h *paHandle) Path() string { return h.path }

func (h *paHandle) RequestStop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *paHandle) Done() <-chan CompletionEvent { return h.done }

// run reads from the stream until a stop request or an error, then finalizes
// the file and delivers the single completion event.
func (h *paHandle) run() {
	var failure error

loop:
	for {
		select {
		case <-h.stop:
			break loop
		default:
		}

		if err := h.stream.Read(); err != nil {
			failure = fmt.Errorf("stream read error: %w", err)
			break
		}
		if err := h.out.writeSamples(h.in); err != nil {
			failure = err
			break
		}
	}

	_ = h.stream.Stop()
	_ = h.stream.Close()
	_ = portaudio.Terminate()

	if err := h.out.close(); err != nil && failure == nil {
		failure = err
	}
	h.device.release()

	if failure != nil {
		h.device.logger.Error().Err(failure).Str("path", h.path).Msg("Capture failed")
		h.done <- CompletionEvent{Success: false, Err: failure}
		return
	}
	h.device.logger.Debug().Str("path", h.path).Msg("Capture finished")
	h.done <- CompletionEvent{Success: true}
}
