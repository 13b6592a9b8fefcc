package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"sonora/internal/cache"
	"sonora/internal/config"
	"sonora/internal/daemon"
	"sonora/internal/db"
	"sonora/internal/library"
	"sonora/internal/scanner"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	force := flag.Bool("force", false, "rescan files even when unchanged (scan command)")
	flag.Parse()

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		TimeFormat: time.TimeOnly,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.DaemonKey == "" {
		logger.Error("daemonKey must be set in the configuration")
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		if err := runDaemon(logger, cfg); err != nil {
			logger.Error("daemon exited", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := runCommand(cfg, *force, args); err != nil {
		logger.Error("command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

// runCommand talks to an already running daemon.
func runCommand(cfg *config.Config, force bool, args []string) error {
	client := daemon.NewClient(cfg.DaemonNetwork, cfg.DaemonAddress, cfg.DaemonKey)

	switch args[0] {
	case "scan":
		return client.Scan(args[1:], force)

	case "progress":
		scanned, scanning, err := client.Progress()
		if err != nil {
			return err
		}
		if scanning {
			fmt.Println("scanning, files visited: " + strconv.Itoa(scanned))
		} else {
			fmt.Println("idle")
		}
		return nil

	case "watch":
		if len(args) < 2 {
			return fmt.Errorf("usage: watch <path>")
		}
		return client.Watch(args[1])

	case "unwatch":
		if len(args) < 2 {
			return fmt.Errorf("usage: unwatch <path>")
		}
		return client.Unwatch(args[1])

	default:
		return fmt.Errorf("unknown command %q (expected scan, progress, watch or unwatch)", args[0])
	}
}

func runDaemon(logger *slog.Logger, cfg *config.Config) error {
	ctx := context.Background()

	database, err := db.Bootstrap(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	folders := library.NewFolderRepository(database)
	artists := library.NewArtistRepository(database)
	albums := library.NewAlbumRepository(database)
	tracks := library.NewTrackRepository(database)

	if err := registerRoots(ctx, logger, cfg, folders); err != nil {
		return err
	}

	// Expired transcodes and thumbnails accumulate while no server runs;
	// sweep both caches on startup.
	transcodeCache, err := cache.New(cfg.TranscodeCacheDir, cfg.CacheMaxSize, cfg.CacheMinTime())
	if err != nil {
		return fmt.Errorf("open transcode cache: %w", err)
	}
	transcodeCache.Prune()
	coverCache, err := cache.New(cfg.CoverCacheDir, cfg.CacheMaxSize, cfg.CacheMinTime())
	if err != nil {
		return fmt.Errorf("open cover cache: %w", err)
	}
	coverCache.Prune()

	tagReader := scanner.NewTagReader()
	coordinator := scanner.NewCoordinator(
		logger, folders, artists, albums, tracks,
		tagReader, cfg.ScannerExtensions, cfg.FollowSymlinks,
	)

	watcher, err := scanner.NewWatcher(logger, cfg.WatcherDelay(), func() *scanner.Engine {
		return scanner.NewEngine(logger, folders, artists, albums, tracks, tagReader, scanner.Options{
			Extensions:     cfg.ScannerExtensions,
			FollowSymlinks: cfg.FollowSymlinks,
		})
	})
	if err != nil {
		logger.Warn("filesystem watcher disabled", "error", err)
	} else {
		defer watcher.Close()

		coordinator.SetFolderHooks(
			func(folder library.Folder) { watcher.Suspend(folder.Path) },
			func(folder library.Folder) { watcher.Resume(folder.Path) },
		)

		roots, err := folders.Roots(ctx)
		if err != nil {
			return fmt.Errorf("list root folders: %w", err)
		}
		for _, root := range roots {
			if err := watcher.Watch(root.Path); err != nil {
				logger.Warn("cannot watch root folder", "path", root.Path, "error", err)
			}
		}
	}

	server := daemon.NewServer(logger, cfg.DaemonKey, coordinator, watcher)
	if err := server.Listen(cfg.DaemonNetwork, cfg.DaemonAddress); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		return server.Close()
	case err := <-errCh:
		return err
	}
}

// registerRoots ensures each configured music folder has a root row.
func registerRoots(ctx context.Context, logger *slog.Logger, cfg *config.Config, folders *library.FolderRepository) error {
	for name, path := range cfg.MusicFolders {
		if _, err := folders.GetRootByName(ctx, name); err == nil {
			continue
		}

		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			logger.Warn("skipping music folder, not a directory", "name", name, "path", path)
			continue
		}

		if _, err := folders.Create(ctx, library.Folder{
			Root: true,
			Name: name,
			Path: path,
		}); err != nil {
			return fmt.Errorf("register music folder %s: %w", name, err)
		}
		logger.Info("registered music folder", "name", name, "path", path)
	}
	return nil
}
