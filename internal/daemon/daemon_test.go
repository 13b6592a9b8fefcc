package daemon

import (
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sonora/internal/db"
	"sonora/internal/library"
	"sonora/internal/scanner"
)

func TestClientServerRoundTrip(t *testing.T) {
	t.Parallel()

	address := startServerForTest(t, "secret")
	client := NewClient("unix", address, "secret")

	if err := client.Scan(nil, false); err != nil {
		t.Fatalf("scan command: %v", err)
	}

	// The scan of an empty library finishes quickly; progress must answer
	// either way.
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, scanning, err := client.Progress()
		if err != nil {
			t.Fatalf("progress command: %v", err)
		}
		if !scanning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scan of an empty library never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWrongKeyIsRejected(t *testing.T) {
	t.Parallel()

	address := startServerForTest(t, "secret")
	client := NewClient("unix", address, "wrong")

	err := client.Scan(nil, false)
	if err == nil {
		t.Fatalf("expected a client with the wrong key to be rejected")
	}
}

func TestServerSurvivesRejectedConnections(t *testing.T) {
	t.Parallel()

	address := startServerForTest(t, "secret")

	intruder := NewClient("unix", address, "wrong")
	for i := 0; i < 3; i++ {
		if err := intruder.Scan(nil, false); err == nil {
			t.Fatalf("expected rejection")
		}
	}

	legitimate := NewClient("unix", address, "secret")
	if _, _, err := legitimate.Progress(); err != nil {
		t.Fatalf("expected the server to keep serving after rejections: %v", err)
	}
}

func TestWatchWithoutWatcher(t *testing.T) {
	t.Parallel()

	address := startServerForTest(t, "secret")
	client := NewClient("unix", address, "secret")

	err := client.Watch(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "watcher disabled") {
		t.Fatalf("expected the watch command to report the disabled watcher, got %v", err)
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()

	address := startServerForTest(t, "secret")
	client := NewClient("unix", address, "secret")

	if _, err := client.roundTrip(Command{Op: "selfdestruct"}); err == nil {
		t.Fatalf("expected an unknown op to be refused")
	}
}

// startServerForTest runs a daemon on a unix socket backed by an empty
// library and tears it down with the test.
func startServerForTest(t *testing.T, key string) string {
	t.Helper()

	dir := t.TempDir()
	database, err := db.Bootstrap(filepath.Join(dir, "library.db"))
	if err != nil {
		t.Fatalf("bootstrap test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.DiscardHandler)
	coordinator := scanner.NewCoordinator(
		logger,
		library.NewFolderRepository(database),
		library.NewArtistRepository(database),
		library.NewAlbumRepository(database),
		library.NewTrackRepository(database),
		scanner.NewTagReader(),
		nil,
		false,
	)

	server := NewServer(logger, key, coordinator, nil)
	address := filepath.Join(dir, "daemon.sock")
	if err := server.Listen("unix", address); err != nil {
		t.Fatalf("listen: %v", err)
	}

	go server.Serve()
	t.Cleanup(func() { server.Close() })

	return address
}
