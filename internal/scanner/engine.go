package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"sonora/internal/library"
)

// ErrNoRootFolder is returned when a path being scanned does not live under
// any registered root folder. This is a configuration error, not a data
// error, and is never swallowed.
var ErrNoRootFolder = errors.New("no root folder matches path")

const (
	unknownArtist  = "[unknown]"
	nonAlbumTracks = "[non-album tracks]"
	maxFieldRunes  = 255
)

type StatsDetails struct {
	Artists int
	Albums  int
	Tracks  int
}

// Stats accumulates counters over one scan run. Errors holds the paths of
// files that could not be scanned.
type Stats struct {
	Scanned int
	Added   StatsDetails
	Deleted StatsDetails
	Errors  []string
}

// Options configure one Engine instance, which corresponds to one scan run.
type Options struct {
	// Force rescans files even when their mtime has not advanced.
	Force bool
	// Extensions filters scannable files; empty means every file is tried.
	Extensions []string
	// FollowSymlinks walks through symlinked directories. Off by default to
	// avoid cycles.
	FollowSymlinks bool
	// Progress, when set, is called after each scanned file with the folder
	// name and the number of files scanned in that folder so far.
	Progress func(folderName string, scanned int)
}

// Engine synchronizes the on-disk folder trees with the library index. It
// supports both full-tree scans and the incremental per-file operations
// driven by the filesystem watcher.
type Engine struct {
	log     *slog.Logger
	folders *library.FolderRepository
	artists *library.ArtistRepository
	albums  *library.AlbumRepository
	tracks  *library.TrackRepository
	tags    TagReader

	force          bool
	extensions     map[string]struct{}
	followSymlinks bool
	progress       func(string, int)

	mu    sync.Mutex
	stats Stats
}

func NewEngine(
	logger *slog.Logger,
	folders *library.FolderRepository,
	artists *library.ArtistRepository,
	albums *library.AlbumRepository,
	tracks *library.TrackRepository,
	tags TagReader,
	opts Options,
) *Engine {
	var extensions map[string]struct{}
	if len(opts.Extensions) > 0 {
		extensions = make(map[string]struct{}, len(opts.Extensions))
		for _, ext := range opts.Extensions {
			extensions[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
		}
	}

	return &Engine{
		log:            logger,
		folders:        folders,
		artists:        artists,
		albums:         albums,
		tracks:         tracks,
		tags:           tags,
		force:          opts.Force,
		extensions:     extensions,
		followSymlinks: opts.FollowSymlinks,
		progress:       opts.Progress,
	}
}

// Stats returns a snapshot of the run's counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := e.stats
	snapshot.Errors = append([]string(nil), e.stats.Errors...)
	return snapshot
}

func (e *Engine) recordError(path string) {
	e.mu.Lock()
	e.stats.Errors = append(e.stats.Errors, path)
	e.mu.Unlock()
}

func (e *Engine) checkExtension(path string) bool {
	if e.extensions == nil {
		return true
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	_, ok := e.extensions[ext]
	return ok
}

// ScanFile indexes a single file: creates the track plus whatever artist,
// album and folder chain it needs, or refreshes an already-tracked file.
// Unreadable new files are ignored; an unreadable tracked file is removed,
// treating corruption like deletion. Idempotent.
func (e *Engine) ScanFile(ctx context.Context, path string) error {
	if !utf8.ValidString(path) {
		e.recordError(path)
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	mtime := info.ModTime().Unix()

	track, err := e.tracks.GetByPath(ctx, path)
	tracked := err == nil
	if err != nil && !errors.Is(err, library.ErrTrackNotFound) {
		return err
	}

	if tracked && !e.force && mtime <= track.LastModification {
		return nil
	}

	tags, tagErr := e.tags.ReadTags(path)
	if tagErr != nil {
		if tracked {
			e.log.Info("removing unreadable tracked file", "path", path, "error", tagErr)
			e.recordError(path)
			return e.RemoveFile(ctx, path)
		}
		return nil
	}

	artistName := clampField(sanitize(tags.Artist), unknownArtist)
	albumName := clampField(sanitize(tags.Album), nonAlbumTracks)
	albumArtistName := clampField(sanitize(tags.AlbumArtist), artistName)
	title := clampField(sanitize(tags.Title), filepath.Base(path))

	albumArtist, created, err := e.artists.GetOrCreate(ctx, albumArtistName)
	if err != nil {
		return err
	}
	if created {
		e.countAddedArtist()
	}

	album, created, err := e.albums.GetOrCreate(ctx, albumArtist.ID, albumName)
	if err != nil {
		return err
	}
	if created {
		e.countAddedAlbum()
	}

	artist := albumArtist
	if artistName != albumArtistName {
		artist, created, err = e.artists.GetOrCreate(ctx, artistName)
		if err != nil {
			return err
		}
		if created {
			e.countAddedArtist()
		}
	}

	disc := tags.Disc
	if disc <= 0 {
		disc = 1
	}
	number := tags.Track
	if number <= 0 {
		number = 1
	}

	if !tracked {
		rootFolder, err := e.findRootFolder(ctx, path)
		if err != nil {
			return err
		}
		folder, err := e.findFolder(ctx, path)
		if err != nil {
			return err
		}

		track = library.Track{
			Path:         path,
			Created:      time.Unix(mtime, 0).UTC(),
			FolderID:     folder.ID,
			RootFolderID: rootFolder.ID,
		}
	}

	track.Disc = disc
	track.Number = number
	track.Title = title
	track.Year = tags.Year
	track.Genre = sanitize(tags.Genre)
	track.Duration = tags.Duration
	track.Bitrate = tags.Bitrate
	track.HasArt = tags.HasImage
	track.ContentType = library.MimeFor(filepath.Ext(path))
	track.LastModification = mtime
	track.AlbumID = album.ID
	track.ArtistID = artist.ID

	if !tracked {
		if _, err := e.tracks.Create(ctx, track); err != nil {
			e.recordError(path)
			return nil
		}
		e.countAddedTrack()
		return nil
	}

	if err := e.tracks.Update(ctx, track); err != nil {
		e.recordError(path)
	}
	return nil
}

// RemoveFile deletes the track stored for path, if any. Idempotent: watcher
// events routinely arrive for paths a full scan already reconciled.
func (e *Engine) RemoveFile(ctx context.Context, path string) error {
	track, err := e.tracks.GetByPath(ctx, path)
	if err != nil {
		if errors.Is(err, library.ErrTrackNotFound) {
			return nil
		}
		return err
	}

	if err := e.tracks.Delete(ctx, track.ID); err != nil {
		return err
	}

	e.mu.Lock()
	e.stats.Deleted.Tracks++
	e.mu.Unlock()
	return nil
}

// MoveFile relocates a track in place so renames preserve play counts and
// ratings instead of deleting and recreating the row.
func (e *Engine) MoveFile(ctx context.Context, src string, dst string) error {
	if src == dst {
		return nil
	}

	track, err := e.tracks.GetByPath(ctx, src)
	if err != nil {
		if errors.Is(err, library.ErrTrackNotFound) {
			return nil
		}
		return err
	}

	existing, err := e.tracks.GetByPath(ctx, dst)
	if err == nil {
		// Destination overwritten: drop its track, inherit its placement.
		if err := e.RemoveFile(ctx, dst); err != nil {
			return err
		}
		track.FolderID = existing.FolderID
		track.RootFolderID = existing.RootFolderID
	} else if errors.Is(err, library.ErrTrackNotFound) {
		rootFolder, err := e.findRootFolder(ctx, dst)
		if err != nil {
			return err
		}
		folder, err := e.findFolder(ctx, dst)
		if err != nil {
			return err
		}
		track.FolderID = folder.ID
		track.RootFolderID = rootFolder.ID
	} else {
		return err
	}

	track.Path = dst
	return e.tracks.Update(ctx, track)
}

// Scan fully synchronizes a folder tree against disk: indexes new and
// changed files, drops vanished ones, prunes vanished directories, refreshes
// cover art and stamps the folder's last scan time.
func (e *Engine) Scan(ctx context.Context, folder library.Folder) error {
	e.log.Info("scanning folder", "name", folder.Name, "path", folder.Path)

	scanned := 0
	toScan := []string{folder.Path}
	for len(toScan) > 0 {
		dir := toScan[len(toScan)-1]
		toScan = toScan[:len(toScan)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			e.recordError(dir)
			continue
		}

		for _, entry := range entries {
			if strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if entry.Type()&fs.ModeSymlink != 0 {
				if !e.followSymlinks {
					continue
				}
				// ReadDir reports the link itself, not its target.
				info, statErr := os.Stat(path)
				if statErr != nil {
					e.recordError(path)
					continue
				}
				if info.IsDir() {
					toScan = append(toScan, path)
					continue
				}
			} else if entry.IsDir() {
				toScan = append(toScan, path)
				continue
			}
			if !e.checkExtension(path) {
				continue
			}

			if err := e.ScanFile(ctx, path); err != nil {
				if errors.Is(err, ErrNoRootFolder) {
					return err
				}
				e.log.Warn("scan file failed", "path", path, "error", err)
				e.recordError(path)
			}

			scanned++
			e.mu.Lock()
			e.stats.Scanned++
			e.mu.Unlock()
			if e.progress != nil {
				e.progress(folder.Name, scanned)
			}
		}
	}

	// Drop tracks whose files are gone or no longer pass the filter.
	paths, err := e.tracks.PathsUnderRoot(ctx, folder.ID)
	if err != nil {
		return err
	}
	for _, path := range paths {
		if _, statErr := os.Stat(path); statErr != nil || !e.checkExtension(path) {
			if err := e.RemoveFile(ctx, path); err != nil {
				return err
			}
		}
	}

	// Walk the folder subtree: drop directories that vanished, refresh
	// cover art on the survivors.
	pending := []library.Folder{folder}
	for len(pending) > 0 {
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		if info, statErr := os.Stat(current.Path); !current.Root && (statErr != nil || !info.IsDir()) {
			if err := e.folders.DeleteTree(ctx, current.ID); err != nil {
				return err
			}
			continue
		}

		if err := e.FindCover(ctx, current.Path); err != nil {
			return err
		}

		children, err := e.folders.Children(ctx, current.ID)
		if err != nil {
			return err
		}
		pending = append(pending, children...)
	}

	return e.folders.SetLastScan(ctx, folder.ID, time.Now().Unix())
}

// Prune garbage-collects entities nothing references anymore: empty albums,
// then empty artists, then empty non-root folders. Safe to call redundantly.
func (e *Engine) Prune(ctx context.Context) error {
	albums, err := e.albums.Prune(ctx)
	if err != nil {
		return err
	}
	artists, err := e.artists.Prune(ctx)
	if err != nil {
		return err
	}
	if _, err := e.folders.Prune(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	e.stats.Deleted.Albums += albums
	e.stats.Deleted.Artists += artists
	e.mu.Unlock()
	return nil
}

// FindCover recomputes the chosen cover-art file for the folder at dirpath.
func (e *Engine) FindCover(ctx context.Context, dirpath string) error {
	if _, err := os.Stat(dirpath); err != nil {
		return nil
	}

	folder, err := e.folders.GetByPath(ctx, dirpath)
	if err != nil {
		if errors.Is(err, library.ErrFolderNotFound) {
			return nil
		}
		return err
	}

	albumName, err := e.folderAlbumName(ctx, folder.ID)
	if err != nil {
		return err
	}

	cover, _ := FindCoverInFolder(dirpath, albumName)
	return e.folders.SetCoverArt(ctx, folder.ID, cover)
}

// AddCover considers a single new image file and keeps it as the folder's
// cover only if it outscores the current choice.
func (e *Engine) AddCover(ctx context.Context, path string) error {
	folder, err := e.folders.GetByPath(ctx, filepath.Dir(path))
	if err != nil {
		if errors.Is(err, library.ErrFolderNotFound) {
			return nil
		}
		return err
	}

	coverName := filepath.Base(path)
	if folder.CoverArt == "" {
		return e.folders.SetCoverArt(ctx, folder.ID, coverName)
	}

	albumName, err := e.folderAlbumName(ctx, folder.ID)
	if err != nil {
		return err
	}

	if CoverScore(coverName, albumName) > CoverScore(folder.CoverArt, albumName) {
		return e.folders.SetCoverArt(ctx, folder.ID, coverName)
	}
	return nil
}

func (e *Engine) folderAlbumName(ctx context.Context, folderID int64) (string, error) {
	track, err := e.tracks.FirstInFolder(ctx, folderID)
	if err != nil {
		if errors.Is(err, library.ErrTrackNotFound) {
			return "", nil
		}
		return "", err
	}

	album, err := e.albums.GetByID(ctx, track.AlbumID)
	if err != nil {
		if errors.Is(err, library.ErrAlbumNotFound) {
			return "", nil
		}
		return "", err
	}

	return album.Name, nil
}

func (e *Engine) findRootFolder(ctx context.Context, path string) (library.Folder, error) {
	dir := filepath.Dir(path)
	roots, err := e.folders.Roots(ctx)
	if err != nil {
		return library.Folder{}, err
	}

	for _, root := range roots {
		if dir == root.Path || strings.HasPrefix(dir, root.Path+string(filepath.Separator)) {
			return root, nil
		}
	}

	return library.Folder{}, fmt.Errorf("%w: %s", ErrNoRootFolder, path)
}

// findFolder resolves the Folder row for the file's directory, creating every
// missing intermediate directory between it and the nearest known ancestor.
// The walk is guaranteed to terminate at the registered root folder's row.
func (e *Engine) findFolder(ctx context.Context, path string) (library.Folder, error) {
	dir := filepath.Dir(path)

	type missing struct {
		name string
		path string
	}

	var chain []missing
	var anchor library.Folder
	for {
		folder, err := e.folders.GetByPath(ctx, dir)
		if err == nil {
			anchor = folder
			break
		}
		if !errors.Is(err, library.ErrFolderNotFound) {
			return library.Folder{}, err
		}

		chain = append(chain, missing{name: filepath.Base(dir), path: dir})

		parent := filepath.Dir(dir)
		if parent == dir {
			return library.Folder{}, fmt.Errorf("%w: %s", ErrNoRootFolder, path)
		}
		dir = parent
	}

	for i := len(chain) - 1; i >= 0; i-- {
		created := time.Now().UTC()
		if info, err := os.Stat(chain[i].path); err == nil {
			created = info.ModTime().UTC()
		}

		parentID := anchor.ID
		folder, err := e.folders.Create(ctx, library.Folder{
			Name:     chain[i].name,
			Path:     chain[i].path,
			ParentID: &parentID,
			Created:  created,
		})
		if err != nil {
			return library.Folder{}, err
		}
		anchor = folder
	}

	return anchor, nil
}

func (e *Engine) countAddedArtist() {
	e.mu.Lock()
	e.stats.Added.Artists++
	e.mu.Unlock()
}

func (e *Engine) countAddedAlbum() {
	e.mu.Lock()
	e.stats.Added.Albums++
	e.mu.Unlock()
}

func (e *Engine) countAddedTrack() {
	e.mu.Lock()
	e.stats.Added.Tracks++
	e.mu.Unlock()
}

func sanitize(value string) string {
	return strings.TrimSpace(strings.ReplaceAll(value, "\x00", ""))
}

func clampField(value string, fallback string) string {
	if value == "" {
		value = fallback
	}

	runes := []rune(value)
	if len(runes) > maxFieldRunes {
		return string(runes[:maxFieldRunes])
	}
	return value
}
