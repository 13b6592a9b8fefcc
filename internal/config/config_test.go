package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfigFile(t, path, `{"dataDir": `+jsonString(filepath.Join(dir, "data"))+`}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.CacheMaxSize != DefaultCacheMaxSize {
		t.Fatalf("expected default cache size, got %d", cfg.CacheMaxSize)
	}
	if cfg.CacheMinTime() != DefaultCacheMinTime {
		t.Fatalf("expected default retention window, got %v", cfg.CacheMinTime())
	}
	if cfg.WatcherDelay() != DefaultWatcherDelay {
		t.Fatalf("expected default watcher delay, got %v", cfg.WatcherDelay())
	}
	if cfg.DaemonNetwork != "unix" {
		t.Fatalf("expected unix as default daemon network, got %q", cfg.DaemonNetwork)
	}
	if cfg.DBPath != filepath.Join(dir, "data", "library.db") {
		t.Fatalf("expected database under the data dir, got %q", cfg.DBPath)
	}

	// The cache directories must exist after loading.
	for _, dir := range []string{cfg.TranscodeCacheDir, cfg.CoverCacheDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected %s to be created", dir)
		}
	}
}

func TestLoadNormalizesExtensionsAndFolders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfigFile(t, path, `{
		"dataDir": `+jsonString(filepath.Join(dir, "data"))+`,
		"scannerExtensions": [".MP3", "Flac", "ogg"],
		"musicFolders": {"main": `+jsonString(filepath.Join(dir, "music")+string(filepath.Separator))+`}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := []string{"mp3", "flac", "ogg"}
	for i, ext := range want {
		if cfg.ScannerExtensions[i] != ext {
			t.Fatalf("expected extension %q, got %q", ext, cfg.ScannerExtensions[i])
		}
	}
	if cfg.MusicFolders["main"] != filepath.Join(dir, "music") {
		t.Fatalf("expected a cleaned folder path, got %q", cfg.MusicFolders["main"])
	}
}

func TestLoadZeroRetentionDisablesProtection(t *testing.T) {
	t.Parallel()

	cfg := Config{CacheMinTimeSec: -1}
	if cfg.CacheMinTime() != 0 {
		t.Fatalf("expected a negative setting to disable the retention window")
	}

	cfg = Config{CacheMinTimeSec: 30}
	if cfg.CacheMinTime() != 30*time.Second {
		t.Fatalf("expected 30s, got %v", cfg.CacheMinTime())
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	writeConfigFile(t, path, `{not json`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected malformed config to be rejected")
	}
}

func writeConfigFile(t *testing.T, path string, body string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func jsonString(value string) string {
	return strconv.Quote(value)
}
