package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// chunkSize is ~100ms of 16kHz mono PCM per websocket frame.
const chunkSize = 3200

// VoskTranscriber streams completed segment files to a Vosk server over a
// websocket, one connection per file. It doubles as a dispatch.Analyzer:
// Analyze transcribes the segment, writes the transcript beside the
// recordings directory and optionally records it in Redis.
type VoskTranscriber struct {
	serverURL  string
	sampleRate int
	logger     zerolog.Logger

	transcriptDir string
	redis         *redis.Client
	redisPrefix   string
}

type voskResult struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
}

func NewVoskTranscriber(serverURL string, sampleRate int, logger zerolog.Logger) *VoskTranscriber {
	return &VoskTranscriber{
		serverURL:  serverURL,
		sampleRate: sampleRate,
		logger:     logger.With().Str("component", "vosk").Logger(),
	}
}

// SetTranscriptDir enables saving a <segment>.txt transcript next to each
// analyzed segment's recordings directory.
func (vt *VoskTranscriber) SetTranscriptDir(dir string) {
	vt.transcriptDir = dir
}

// SetRedis attaches a Redis client used to record per-segment transcripts.
func (vt *VoskTranscriber) SetRedis(client *redis.Client, prefix string) {
	vt.redis = client
	vt.redisPrefix = prefix
}

func (vt *VoskTranscriber) Name() string { return "vosk" }

// Analyze implements the dispatcher's analyzer contract for one completed
// segment file.
func (vt *VoskTranscriber) Analyze(ctx context.Context, path string) error {
	text, err := vt.TranscribeFile(ctx, path)
	if err != nil {
		return err
	}
	if text == "" {
		vt.logger.Debug().Str("path", path).Msg("No speech recognized")
		return nil
	}

	if vt.transcriptDir != "" {
		if err := vt.saveTranscript(path, text); err != nil {
			return err
		}
	}
	if vt.redis != nil {
		if err := vt.recordTranscript(ctx, path, text); err != nil {
			return err
		}
	}
	return nil
}

// TranscribeFile streams one file's PCM to the server chunk by chunk and
// returns the concatenated final results.
func (vt *VoskTranscriber) TranscribeFile(ctx context.Context, path string) (string, error) {
	pcm, err := readPCM(path)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/ws?sample_rate=%d", vt.serverURL, vt.sampleRate)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to connect to Vosk server: %w", err)
	}
	defer conn.Close()

	var fullText strings.Builder
	collect := func(message []byte) {
		var result voskResult
		if err := json.Unmarshal(message, &result); err != nil {
			vt.logger.Warn().Err(err).Msg("Failed to parse Vosk result")
			return
		}
		if result.Text != "" {
			if fullText.Len() > 0 {
				fullText.WriteString(" ")
			}
			fullText.WriteString(result.Text)
		}
	}

	// The server answers every audio chunk with a partial or final result,
	// and the EOF marker with the last final result.
	for off := 0; off < len(pcm); off += chunkSize {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		end := off + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			return "", fmt.Errorf("failed to send audio to Vosk: %w", err)
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("failed to read Vosk result: %w", err)
		}
		collect(message)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"eof": 1}`)); err != nil {
		return "", fmt.Errorf("failed to send EOF to Vosk: %w", err)
	}
	_, message, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("failed to read final Vosk result: %w", err)
	}
	collect(message)

	return fullText.String(), nil
}

func (vt *VoskTranscriber) saveTranscript(segmentPath, text string) error {
	stem := strings.TrimSuffix(filepath.Base(segmentPath), filepath.Ext(segmentPath))
	out := filepath.Join(vt.transcriptDir, stem+".txt")
	if err := os.WriteFile(out, []byte(text+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	vt.logger.Info().Str("path", out).Msg("Transcript saved")
	return nil
}

func (vt *VoskTranscriber) recordTranscript(ctx context.Context, segmentPath, text string) error {
	stem := strings.TrimSuffix(filepath.Base(segmentPath), filepath.Ext(segmentPath))
	key := vt.redisPrefix + stem
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := vt.redis.HSet(ctx, key,
		"text", text,
		"path", segmentPath,
		"transcribed_at", time.Now().Format(time.RFC3339),
	).Err(); err != nil {
		return fmt.Errorf("redis HSET %s: %w", key, err)
	}
	return nil
}

// readPCM loads a segment file's raw PCM payload. WAV containers are
// unwrapped by locating the data chunk; anything else is taken as raw
// samples.
func readPCM(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if filepath.Ext(path) != ".wav" {
		return io.ReadAll(file)
	}

	header := make([]byte, 44)
	if _, err := io.ReadFull(file, header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a valid WAV file")
	}

	dataStart := 44
	for i := 12; i < len(header)-4; i++ {
		if string(header[i:i+4]) == "data" {
			dataStart = i + 8
			break
		}
	}
	if _, err := file.Seek(int64(dataStart), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to data chunk: %w", err)
	}
	return io.ReadAll(file)
}
