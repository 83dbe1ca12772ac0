package server

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/CyCoreSystems/audiosocket"
	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/audio-segmenter/internal/capture"
	"github.com/amanullahtanweer/audio-segmenter/internal/dispatch"
	"github.com/amanullahtanweer/audio-segmenter/internal/registry"
	"github.com/amanullahtanweer/audio-segmenter/internal/rotation"
	"github.com/amanullahtanweer/audio-segmenter/internal/segment"
)

type Config struct {
	Host            string
	Port            int
	RecordingsDir   string
	SegmentDuration time.Duration
	Format          segment.Format
}

// Server accepts AudioSocket TCP connections and runs one capture session
// per call. Each call's segments land in a per-call subdirectory of
// RecordingsDir, named by the call UUID.
type Server struct {
	config    Config
	logger    zerolog.Logger
	analyzers []dispatch.Analyzer

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	shutdown chan struct{}
}

func New(config Config, logger zerolog.Logger, analyzers ...dispatch.Analyzer) *Server {
	return &Server{
		config:    config,
		logger:    logger.With().Str("component", "server").Logger(),
		analyzers: analyzers,
		shutdown:  make(chan struct{}),
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info().Str("addr", addr).Msg("AudioSocket server listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
				s.logger.Error().Err(err).Msg("Accept error")
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Stop closes the listener, stops all in-flight sessions and waits for
// them to drain.
func (s *Server) Stop() {
	close(s.shutdown)
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Addr reports the bound listen address; nil until Start has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	logger := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()

	// The first message on an AudioSocket connection is the call UUID.
	id, err := audiosocket.GetID(conn)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read call ID")
		return
	}
	logger = logger.With().Str("call", id.String()).Logger()
	logger.Info().Msg("Call started")

	callDir := filepath.Join(s.config.RecordingsDir, id.String())
	reg, err := registry.New(callDir, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create call directory")
		return
	}

	dev := capture.NewStreamDevice(conn, logger)
	ctrl := rotation.New(dev, reg, rotation.Config{
		Dir:             callDir,
		SegmentDuration: s.config.SegmentDuration,
		Format:          s.config.Format,
	}, logger)

	disp := dispatch.New(logger, s.analyzers...)
	dispDone := make(chan struct{})
	go func() {
		defer close(dispDone)
		disp.Run(context.Background(), ctrl.Events())
		disp.Wait()
	}()

	if err := ctrl.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start capture session")
		<-dispDone
		return
	}

	// The session ends on its own when the caller hangs up; a server
	// shutdown stops it early.
	select {
	case <-ctrl.Done():
	case <-s.shutdown:
		ctrl.Stop()
		<-ctrl.Done()
	}
	<-dispDone

	logger.Info().Str("summary", ctrl.Metrics().Summary()).Msg("Call ended")
}
