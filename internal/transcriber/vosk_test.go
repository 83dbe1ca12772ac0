package transcriber

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{}

// fakeVoskServer answers every binary chunk with a result and the EOF
// marker with the final text.
func fakeVoskServer(t *testing.T, perChunk []string, final string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		chunk := 0
		for {
			kind, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.TextMessage {
				// EOF marker.
				msg := fmt.Sprintf(`{"text": %q}`, final)
				_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
				return
			}
			reply := `{"partial": "..."}`
			if chunk < len(perChunk) && perChunk[chunk] != "" {
				reply = fmt.Sprintf(`{"text": %q}`, perChunk[chunk])
			}
			chunk++
			_ = conn.WriteMessage(websocket.TextMessage, []byte(reply))
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func writeRawSegment(t *testing.T, dir string, size int) string {
	t.Helper()
	path := filepath.Join(dir, "2024-03-07_09-05-02.sln")
	data := make([]byte, size)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write segment: %v", err)
	}
	return path
}

func TestTranscribeFileConcatenatesFinals(t *testing.T) {
	srv := fakeVoskServer(t, []string{"hello", "", "world"}, "goodbye")
	defer srv.Close()

	vt := NewVoskTranscriber(wsURL(srv), 16000, zerolog.Nop())
	path := writeRawSegment(t, t.TempDir(), 3*chunkSize)

	text, err := vt.TranscribeFile(context.Background(), path)
	if err != nil {
		t.Fatalf("TranscribeFile failed: %v", err)
	}
	if text != "hello world goodbye" {
		t.Errorf("Expected concatenated finals, got %q", text)
	}
}

func TestTranscribeWAVUnwrapsHeader(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.TextMessage {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"text": "ok"}`))
				return
			}
			got = append(got, payload...)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"partial": ""}`))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	path := filepath.Join(dir, "2024-03-07_09-05-02.wav")
	if err := os.WriteFile(path, buildWAV(pcm), 0644); err != nil {
		t.Fatalf("Failed to write wav: %v", err)
	}

	vt := NewVoskTranscriber(wsURL(srv), 16000, zerolog.Nop())
	if _, err := vt.TranscribeFile(context.Background(), path); err != nil {
		t.Fatalf("TranscribeFile failed: %v", err)
	}

	if string(got) != string(pcm) {
		t.Errorf("Server received %v, want the unwrapped PCM %v", got, pcm)
	}
}

func TestAnalyzeSavesTranscript(t *testing.T) {
	srv := fakeVoskServer(t, nil, "segment text")
	defer srv.Close()

	dir := t.TempDir()
	vt := NewVoskTranscriber(wsURL(srv), 16000, zerolog.Nop())
	vt.SetTranscriptDir(dir)
	path := writeRawSegment(t, dir, chunkSize)

	if err := vt.Analyze(context.Background(), path); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	out, err := os.ReadFile(filepath.Join(dir, "2024-03-07_09-05-02.txt"))
	if err != nil {
		t.Fatalf("Transcript not written: %v", err)
	}
	if strings.TrimSpace(string(out)) != "segment text" {
		t.Errorf("Unexpected transcript content: %q", out)
	}
}

func TestTranscribeFileMissingSegment(t *testing.T) {
	vt := NewVoskTranscriber("ws://localhost:1", 16000, zerolog.Nop())
	if _, err := vt.TranscribeFile(context.Background(), "/nonexistent/file.sln"); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

// buildWAV wraps PCM in a minimal 44-byte canonical WAV header.
func buildWAV(pcm []byte) []byte {
	buf := make([]byte, 0, 44+len(pcm))
	buf = append(buf, []byte("RIFF")...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+len(pcm)))
	buf = append(buf, []byte("WAVE")...)
	buf = append(buf, []byte("fmt ")...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1)
	buf = binary.LittleEndian.AppendUint16(buf, 1)
	buf = binary.LittleEndian.AppendUint32(buf, 16000)
	buf = binary.LittleEndian.AppendUint32(buf, 32000)
	buf = binary.LittleEndian.AppendUint16(buf, 2)
	buf = binary.LittleEndian.AppendUint16(buf, 16)
	buf = append(buf, []byte("data")...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(pcm)))
	buf = append(buf, pcm...)
	return buf
}
