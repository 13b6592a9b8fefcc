package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Defaults applied when the config file leaves a field unset.
const (
	DefaultCacheMaxSize  = 512 * 1024 * 1024
	DefaultCacheMinTime  = 5 * time.Minute
	DefaultWatcherDelay  = 5 * time.Second
	DefaultDaemonNetwork = "unix"
)

type Config struct {
	DataDir           string            `json:"dataDir"`
	DBPath            string            `json:"dbPath"`
	TranscodeCacheDir string            `json:"transcodeCacheDir"`
	CoverCacheDir     string            `json:"coverCacheDir"`

	CacheMaxSize    int64 `json:"cacheMaxSize"`
	CacheMinTimeSec int   `json:"cacheMinTimeSec"`

	// MusicFolders maps a root folder's display name to its path on disk.
	// Roots named here are registered in the database on startup.
	MusicFolders map[string]string `json:"musicFolders"`

	ScannerExtensions []string `json:"scannerExtensions"`
	FollowSymlinks    bool     `json:"followSymlinks"`
	WatcherDelaySec   int      `json:"watcherDelaySec"`

	DaemonNetwork string `json:"daemonNetwork"`
	DaemonAddress string `json:"daemonAddress"`
	DaemonKey     string `json:"daemonKey"`

	// Transcoding command templates keyed the same way the config file of
	// the reference servers key them: "transcoder_<src>_<dst>",
	// "decoder_<src>", "encoder_<dst>", plus the generic "decoder",
	// "encoder" and "transcoder" fallbacks.
	Transcoding            map[string]string `json:"transcoding"`
	DefaultTranscodeTarget string            `json:"defaultTranscodeTarget"`
}

func (c *Config) CacheMinTime() time.Duration {
	if c.CacheMinTimeSec < 0 {
		return 0
	}
	if c.CacheMinTimeSec == 0 {
		return DefaultCacheMinTime
	}
	return time.Duration(c.CacheMinTimeSec) * time.Second
}

func (c *Config) WatcherDelay() time.Duration {
	if c.WatcherDelaySec <= 0 {
		return DefaultWatcherDelay
	}
	return time.Duration(c.WatcherDelaySec) * time.Second
}

// Load reads the config file at path, or builds a default configuration when
// path is empty or the file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		body, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := json.Unmarshal(body, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := resolvePaths(cfg); err != nil {
		return nil, err
	}

	if cfg.CacheMaxSize <= 0 {
		cfg.CacheMaxSize = DefaultCacheMaxSize
	}
	if cfg.DaemonNetwork == "" {
		cfg.DaemonNetwork = DefaultDaemonNetwork
	}
	if cfg.DaemonAddress == "" {
		cfg.DaemonAddress = filepath.Join(cfg.DataDir, "daemon.sock")
	}
	if cfg.Transcoding == nil {
		cfg.Transcoding = map[string]string{}
	}

	for name, folder := range cfg.MusicFolders {
		cfg.MusicFolders[name] = filepath.Clean(folder)
	}
	for i, ext := range cfg.ScannerExtensions {
		cfg.ScannerExtensions[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}

	return cfg, nil
}

func resolvePaths(cfg *Config) error {
	if cfg.DataDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("resolve user config dir: %w", err)
		}
		cfg.DataDir = filepath.Join(configDir, "sonora")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "library.db")
	}
	if cfg.TranscodeCacheDir == "" {
		cfg.TranscodeCacheDir = filepath.Join(cfg.DataDir, "transcodes")
	}
	if cfg.CoverCacheDir == "" {
		cfg.CoverCacheDir = filepath.Join(cfg.DataDir, "covers")
	}

	for _, dir := range []string{cfg.DataDir, cfg.TranscodeCacheDir, cfg.CoverCacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir %s: %w", dir, err)
		}
	}

	return nil
}
