package scanner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sonora/internal/library"
)

const watcherSettleDelay = 50 * time.Millisecond

func TestWatcherIndexesNewFile(t *testing.T) {
	t.Parallel()

	env := newScannerEnv(t)
	w := newWatcherForTest(t, env)

	if err := w.Watch(env.root.Path); err != nil {
		t.Fatalf("watch root: %v", err)
	}

	path := env.writeAudioFile(t, "watched.mp3", Tags{Artist: "A", Album: "B", Title: "Watched"})

	track := waitForTrack(t, env, path)
	if track.Title != "Watched" {
		t.Fatalf("unexpected indexed track: %+v", track)
	}
}

func TestWatcherRemovesDeletedFile(t *testing.T) {
	t.Parallel()

	env := newScannerEnv(t)
	w := newWatcherForTest(t, env)

	if err := w.Watch(env.root.Path); err != nil {
		t.Fatalf("watch root: %v", err)
	}

	path := env.writeAudioFile(t, "doomed.mp3", Tags{Artist: "A", Album: "B"})
	waitForTrack(t, env, path)

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	waitForTrackGone(t, env, path)
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	t.Parallel()

	env := newScannerEnv(t)
	w := newWatcherForTest(t, env)

	if err := w.Watch(env.root.Path); err != nil {
		t.Fatalf("watch root: %v", err)
	}

	// Files inside a directory created after the watch started must still
	// be picked up.
	path := env.writeAudioFile(t, "fresh/album/01.mp3", Tags{Artist: "A", Album: "B"})
	waitForTrack(t, env, path)
}

func TestWatcherSuspendDropsEvents(t *testing.T) {
	t.Parallel()

	env := newScannerEnv(t)
	w := newWatcherForTest(t, env)

	if err := w.Watch(env.root.Path); err != nil {
		t.Fatalf("watch root: %v", err)
	}

	w.Suspend(env.root.Path)
	path := env.writeAudioFile(t, "muted.mp3", Tags{Artist: "A", Album: "B"})

	time.Sleep(6 * watcherSettleDelay)
	w.Resume(env.root.Path)
	time.Sleep(6 * watcherSettleDelay)

	if _, err := env.tracks.GetByPath(context.Background(), path); !errors.Is(err, library.ErrTrackNotFound) {
		t.Fatalf("expected events during suspension to be dropped, got %v", err)
	}
}

func TestWatcherPicksUpNewCover(t *testing.T) {
	t.Parallel()

	env := newScannerEnv(t)
	ctx := context.Background()

	env.writeAudioFile(t, "Artist/Album/01.mp3", Tags{Artist: "Artist", Album: "Album"})
	engine := env.newEngine(Options{})
	if err := engine.Scan(ctx, env.root); err != nil {
		t.Fatalf("initial scan: %v", err)
	}

	w := newWatcherForTest(t, env)
	if err := w.Watch(env.root.Path); err != nil {
		t.Fatalf("watch root: %v", err)
	}

	albumDir := filepath.Join(env.root.Path, "Artist", "Album")
	writeTestPNG(t, filepath.Join(albumDir, "cover.png"))

	deadline := time.Now().Add(5 * time.Second)
	for {
		folder, err := env.folders.GetByPath(ctx, albumDir)
		if err != nil {
			t.Fatalf("get album folder: %v", err)
		}
		if folder.CoverArt == "cover.png" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("cover never picked up, folder has %q", folder.CoverArt)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newWatcherForTest(t *testing.T, env *scannerEnv) *Watcher {
	t.Helper()

	w, err := NewWatcher(slog.New(slog.DiscardHandler), watcherSettleDelay, func() *Engine {
		return env.newEngine(Options{})
	})
	if err != nil {
		t.Fatalf("create watcher: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	return w
}

func waitForTrack(t *testing.T, env *scannerEnv, path string) library.Track {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		track, err := env.tracks.GetByPath(context.Background(), path)
		if err == nil {
			return track
		}
		if !errors.Is(err, library.ErrTrackNotFound) {
			t.Fatalf("get track %s: %v", path, err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("track %s never indexed", path)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitForTrackGone(t *testing.T, env *scannerEnv, path string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := env.tracks.GetByPath(context.Background(), path)
		if errors.Is(err, library.ErrTrackNotFound) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("track %s never removed", path)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
