package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"sonora/internal/library"
)

// Coordinator serializes scan requests so at most one scan runs at a time.
// Requests arriving while a scan is active merge their folder names into the
// run's pending set and return without blocking.
type Coordinator struct {
	log     *slog.Logger
	folders *library.FolderRepository
	artists *library.ArtistRepository
	albums  *library.AlbumRepository
	tracks  *library.TrackRepository
	tags    TagReader

	extensions     []string
	followSymlinks bool

	// Called around each folder's scan so the filesystem watcher can be
	// suspended while the batch scan visits the same files.
	onFolderStart func(library.Folder)
	onFolderEnd   func(library.Folder)

	mu        sync.Mutex
	running   bool
	engine    *Engine
	queue     *folderQueue
	lastStats Stats
}

func NewCoordinator(
	logger *slog.Logger,
	folders *library.FolderRepository,
	artists *library.ArtistRepository,
	albums *library.AlbumRepository,
	tracks *library.TrackRepository,
	tags TagReader,
	extensions []string,
	followSymlinks bool,
) *Coordinator {
	return &Coordinator{
		log:            logger,
		folders:        folders,
		artists:        artists,
		albums:         albums,
		tracks:         tracks,
		tags:           tags,
		extensions:     extensions,
		followSymlinks: followSymlinks,
		queue:          newFolderQueue(),
	}
}

// SetFolderHooks installs the watcher suspend/resume callbacks invoked when
// a folder's scan starts and finishes.
func (c *Coordinator) SetFolderHooks(onStart func(library.Folder), onEnd func(library.Folder)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFolderStart = onStart
	c.onFolderEnd = onEnd
}

// StartScan queues the named root folders for scanning, or every registered
// root when names is empty. If a scan is already active the names join its
// pending set and the call returns immediately.
func (c *Coordinator) StartScan(ctx context.Context, names []string, force bool) error {
	if len(names) == 0 {
		roots, err := c.folders.Roots(ctx)
		if err != nil {
			return err
		}
		for _, root := range roots {
			names = append(names, root.Name)
		}
	}

	c.mu.Lock()
	for _, name := range names {
		c.queue.Push(name)
	}

	if c.running {
		c.mu.Unlock()
		return nil
	}

	engine := NewEngine(c.log, c.folders, c.artists, c.albums, c.tracks, c.tags, Options{
		Force:          force,
		Extensions:     c.extensions,
		FollowSymlinks: c.followSymlinks,
	})
	c.engine = engine
	c.running = true
	c.mu.Unlock()

	go c.run(engine)
	return nil
}

// Progress reports the number of files scanned so far in the active run; the
// second return value is false when no scan is active.
func (c *Coordinator) Progress() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.engine == nil {
		return 0, false
	}
	return c.engine.Stats().Scanned, true
}

// LastStats returns the statistics of the most recently completed run.
func (c *Coordinator) LastStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStats
}

func (c *Coordinator) run(engine *Engine) {
	ctx := context.Background()

	for {
		for {
			name, ok := c.queue.Pop()
			if !ok {
				break
			}
			c.scanOne(ctx, engine, name)
		}

		if err := engine.Prune(ctx); err != nil {
			c.log.Error("prune failed", "error", err)
		}

		// A request may have slipped in between draining the queue and
		// finishing; keep the run alive for it instead of dropping it.
		c.mu.Lock()
		if c.queue.Len() > 0 {
			c.mu.Unlock()
			continue
		}

		stats := engine.Stats()
		c.lastStats = stats
		c.running = false
		c.engine = nil
		c.mu.Unlock()

		c.log.Info("scan complete",
			"scanned", stats.Scanned,
			"added_tracks", stats.Added.Tracks,
			"deleted_tracks", stats.Deleted.Tracks,
			"errors", len(stats.Errors),
		)
		return
	}
}

func (c *Coordinator) scanOne(ctx context.Context, engine *Engine, name string) {
	folder, err := c.folders.GetRootByName(ctx, name)
	if err != nil {
		if errors.Is(err, library.ErrFolderNotFound) {
			c.log.Warn("skipping unknown root folder", "name", name)
		} else {
			c.log.Error("look up root folder", "name", name, "error", err)
		}
		return
	}

	c.mu.Lock()
	onStart, onEnd := c.onFolderStart, c.onFolderEnd
	c.mu.Unlock()

	if onStart != nil {
		onStart(folder)
	}
	if err := engine.Scan(ctx, folder); err != nil {
		c.log.Error("folder scan failed", "name", folder.Name, "error", err)
	}
	if onEnd != nil {
		onEnd(folder)
	}
}
