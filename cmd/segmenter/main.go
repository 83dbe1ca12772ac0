package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/amanullahtanweer/audio-segmenter/internal/capture"
	"github.com/amanullahtanweer/audio-segmenter/internal/dispatch"
	"github.com/amanullahtanweer/audio-segmenter/internal/registry"
	"github.com/amanullahtanweer/audio-segmenter/internal/rotation"
	"github.com/amanullahtanweer/audio-segmenter/internal/segment"
	"github.com/amanullahtanweer/audio-segmenter/internal/server"
	"github.com/amanullahtanweer/audio-segmenter/internal/transcriber"
)

type Config struct {
	Mode           string         `yaml:"mode"` // "mic" or "audiosocket"
	RecordingsDir  string         `yaml:"recordings_dir"`
	SegmentSeconds int            `yaml:"segment_seconds"`
	Format         segment.Format `yaml:"format"`
	LogLevel       string         `yaml:"log_level"`

	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Vosk struct {
		ServerURL      string `yaml:"server_url"`
		TranscriptsDir string `yaml:"transcripts_dir"`
	} `yaml:"vosk"`

	Redis struct {
		Addr   string `yaml:"addr"`
		Prefix string `yaml:"prefix"`
	} `yaml:"redis"`
}

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "config.yaml", "Configuration file path")
	flag.Parse()

	config, err := loadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(config.LogLevel)

	analyzers := buildAnalyzers(config, logger)

	switch config.Mode {
	case "audiosocket":
		runServer(config, logger, analyzers)
	case "mic":
		runMic(config, logger, analyzers)
	default:
		logger.Fatal().Str("mode", config.Mode).Msg("Unknown mode")
	}
}

func loadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := &Config{}
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, err
	}

	if config.Mode == "" {
		config.Mode = "mic"
	}
	if config.RecordingsDir == "" {
		config.RecordingsDir = "./recordings"
	}
	if config.SegmentSeconds <= 0 {
		config.SegmentSeconds = 300
	}
	if config.Format.SampleRate == 0 {
		config.Format = segment.Format{SampleRate: 16000, Channels: 1, Encoding: segment.EncodingWAV}
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8090
	}
	return config, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().Timestamp().Logger()
}

// buildAnalyzers wires the downstream consumers configured for this run.
// No Vosk URL means segments are recorded but not transcribed.
func buildAnalyzers(config *Config, logger zerolog.Logger) []dispatch.Analyzer {
	if config.Vosk.ServerURL == "" {
		return nil
	}

	vt := transcriber.NewVoskTranscriber(config.Vosk.ServerURL, config.Format.SampleRate, logger)
	if config.Vosk.TranscriptsDir != "" {
		if err := os.MkdirAll(config.Vosk.TranscriptsDir, 0755); err != nil {
			logger.Fatal().Err(err).Msg("Failed to create transcripts directory")
		}
		vt.SetTranscriptDir(config.Vosk.TranscriptsDir)
	}
	if config.Redis.Addr != "" {
		prefix := config.Redis.Prefix
		if prefix == "" {
			prefix = "transcripts:"
		}
		client := redis.NewClient(&redis.Options{Addr: config.Redis.Addr})
		vt.SetRedis(client, prefix)
		logger.Info().Str("addr", config.Redis.Addr).Msg("Recording transcripts to Redis")
	}
	return []dispatch.Analyzer{vt}
}

func runServer(config *Config, logger zerolog.Logger, analyzers []dispatch.Analyzer) {
	srv := server.New(server.Config{
		Host:            config.Server.Host,
		Port:            config.Server.Port,
		RecordingsDir:   config.RecordingsDir,
		SegmentDuration: time.Duration(config.SegmentSeconds) * time.Second,
		Format:          config.Format,
	}, logger, analyzers...)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server error")
		}
	}()

	waitForSignal(logger)
	srv.Stop()
}

func runMic(config *Config, logger zerolog.Logger, analyzers []dispatch.Analyzer) {
	reg, err := registry.New(config.RecordingsDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open recordings directory")
	}

	dev := capture.NewPortAudioDevice(logger)
	ctrl := rotation.New(dev, reg, rotation.Config{
		Dir:             config.RecordingsDir,
		SegmentDuration: time.Duration(config.SegmentSeconds) * time.Second,
		Format:          config.Format,
	}, logger)

	disp := dispatch.New(logger, analyzers...)
	dispDone := make(chan struct{})
	go func() {
		defer close(dispDone)
		disp.Run(context.Background(), ctrl.Events())
		disp.Wait()
	}()

	if err := ctrl.Start(); err != nil {
		<-dispDone
		logger.Fatal().Err(err).Msg("Failed to start capture")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("Stopping capture")
		ctrl.Stop()
		<-ctrl.Done()
	case <-ctrl.Done():
	}
	<-dispDone

	logger.Info().Str("summary", ctrl.Metrics().Summary()).Msg("Session ended")

	recordings, err := reg.List()
	if err == nil {
		logger.Info().Int("recordings", len(recordings)).Str("dir", config.RecordingsDir).Msg("Recordings on disk")
	}
}

func waitForSignal(logger zerolog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("Shutting down")
}
