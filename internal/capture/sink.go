package capture

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/amanullahtanweer/audio-segmenter/internal/segment"
)

// sink writes 16-bit little-endian PCM into the segment's container,
// incrementally, so a partially written file exists on disk at all times.
type sink struct {
	path   string
	format segment.Format
	file   *os.File
	enc    *wav.Encoder // nil for slin output
}

func newSink(path string, format segment.Format) (*sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file: %w", err)
	}

	s := &sink{path: path, format: format, file: f}
	if format.Encoding == segment.EncodingWAV {
		s.enc = wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1)
	}
	return s, nil
}

// writePCM appends raw 16-bit LE samples.
func (s *sink) writePCM(data []byte) error {
	if s.enc == nil {
		if _, err := s.file.Write(data); err != nil {
			return fmt.Errorf("failed to write audio: %w", err)
		}
		return nil
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: s.format.Channels,
			SampleRate:  s.format.SampleRate,
		},
		Data:           make([]int, len(data)/2),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = int(int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8))
	}
	if err := s.enc.Write(buf); err != nil {
		return fmt.Errorf("failed to encode audio: %w", err)
	}
	return nil
}

// writeSamples appends int16 samples (portaudio delivery format).
func (s *sink) writeSamples(samples []int16) error {
	if s.enc != nil {
		buf := &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: s.format.Channels,
				SampleRate:  s.format.SampleRate,
			},
			Data:           make([]int, len(samples)),
			SourceBitDepth: 16,
		}
		for i, v := range samples {
			buf.Data[i] = int(v)
		}
		if err := s.enc.Write(buf); err != nil {
			return fmt.Errorf("failed to encode audio: %w", err)
		}
		return nil
	}

	raw := make([]byte, len(samples)*2)
	for i, v := range samples {
		raw[2*i] = byte(uint16(v))
		raw[2*i+1] = byte(uint16(v) >> 8)
	}
	if _, err := s.file.Write(raw); err != nil {
		return fmt.Errorf("failed to write audio: %w", err)
	}
	return nil
}

// close finalizes the container header and closes the file.
func (s *sink) close() error {
	var encErr error
	if s.enc != nil {
		encErr = s.enc.Close()
	}
	if err := s.file.Close(); err != nil && encErr == nil {
		encErr = err
	}
	return encErr
}
