package server

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CyCoreSystems/audiosocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/audio-segmenter/internal/segment"
)

func startTestServer(t *testing.T, dir string) *Server {
	t.Helper()
	srv := New(Config{
		Host:            "127.0.0.1",
		Port:            0,
		RecordingsDir:   dir,
		SegmentDuration: time.Hour,
		Format:          segment.Format{SampleRate: 8000, Channels: 1, Encoding: segment.EncodingSlin},
	}, zerolog.Nop())

	go func() {
		if err := srv.Start(); err != nil {
			t.Errorf("Server exited with error: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("Server never bound its listener")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv
}

func dialCall(t *testing.T, srv *Server, id uuid.UUID) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial server: %v", err)
	}
	if _, err := conn.Write(audiosocket.IDMessage(id)); err != nil {
		t.Fatalf("Failed to send call ID: %v", err)
	}
	return conn
}

func waitForFiles(t *testing.T, dir string, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) >= n {
			var names []string
			for _, e := range entries {
				names = append(names, e.Name())
			}
			return names
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d files in %s, found %d", n, dir, len(entries))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCallProducesSegmentOnHangup(t *testing.T) {
	dir := t.TempDir()
	srv := startTestServer(t, dir)
	defer srv.Stop()

	id := uuid.New()
	conn := dialCall(t, srv, id)
	defer conn.Close()

	// The segment file appears once the capture device is open; audio sent
	// before that would be discarded.
	callDir := filepath.Join(dir, id.String())
	names := waitForFiles(t, callDir, 1)
	if _, ok := segment.ParseName(names[0]); !ok {
		t.Errorf("Segment name %q does not follow the timestamp scheme", names[0])
	}

	payload := make([]byte, 320)
	for i := range payload {
		payload[i] = byte(i)
	}
	for i := 0; i < 5; i++ {
		if _, err := conn.Write(audiosocket.SlinMessage(payload)); err != nil {
			t.Fatalf("Failed to send audio: %v", err)
		}
	}
	if _, err := conn.Write(audiosocket.HangupMessage()); err != nil {
		t.Fatalf("Failed to send hangup: %v", err)
	}

	path := filepath.Join(callDir, names[0])
	deadline := time.Now().Add(2 * time.Second)
	for {
		data, err := os.ReadFile(path)
		if err == nil && len(data) == 5*len(payload) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Segment holds %d bytes, want %d", len(data), 5*len(payload))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConcurrentCallsGetSeparateDirectories(t *testing.T) {
	dir := t.TempDir()
	srv := startTestServer(t, dir)
	defer srv.Stop()

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	conns := make([]net.Conn, len(ids))
	for i, id := range ids {
		conns[i] = dialCall(t, srv, id)
		defer conns[i].Close()
	}

	payload := make([]byte, 160)
	for i, conn := range conns {
		waitForFiles(t, filepath.Join(dir, ids[i].String()), 1)
		if _, err := conn.Write(audiosocket.SlinMessage(payload)); err != nil {
			t.Fatalf("Call %d: failed to send audio: %v", i, err)
		}
		if _, err := conn.Write(audiosocket.HangupMessage()); err != nil {
			t.Fatalf("Call %d: failed to send hangup: %v", i, err)
		}
	}
}

func TestServerStopEndsActiveCall(t *testing.T) {
	dir := t.TempDir()
	srv := startTestServer(t, dir)

	id := uuid.New()
	conn := dialCall(t, srv, id)
	defer conn.Close()

	if _, err := conn.Write(audiosocket.SlinMessage(make([]byte, 320))); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}
	// Make sure the session is up before shutting down.
	waitForSessionDir(t, filepath.Join(dir, id.String()))

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Server.Stop did not return")
	}

	// The in-flight segment is finalized, not discarded.
	waitForFiles(t, filepath.Join(dir, id.String()), 1)
}

func waitForSessionDir(t *testing.T, dir string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(dir); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Session directory %s never appeared", dir)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
