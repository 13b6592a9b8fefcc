package coverart

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"sonora/internal/cache"
	"sonora/internal/library"
)

func TestFolderCoverWithoutArt(t *testing.T) {
	t.Parallel()

	service := newServiceForTest(t)

	_, err := service.FolderCover(library.Folder{Path: t.TempDir()}, 0)
	if !errors.Is(err, ErrNoArt) {
		t.Fatalf("expected ErrNoArt, got %v", err)
	}
}

func TestFolderCoverMissingFile(t *testing.T) {
	t.Parallel()

	service := newServiceForTest(t)

	_, err := service.FolderCover(library.Folder{Path: t.TempDir(), CoverArt: "gone.png"}, 0)
	if !errors.Is(err, ErrNoArt) {
		t.Fatalf("expected a vanished cover file to count as no art, got %v", err)
	}
}

func TestFolderCoverServesOriginalUnscaled(t *testing.T) {
	t.Parallel()

	service := newServiceForTest(t)
	dir := t.TempDir()
	source := writeCoverPNG(t, filepath.Join(dir, "cover.png"), 16)

	path, err := service.FolderCover(library.Folder{Path: dir, CoverArt: "cover.png"}, 0)
	if err != nil {
		t.Fatalf("folder cover: %v", err)
	}
	if path != source {
		t.Fatalf("expected the original file for size 0, got %q", path)
	}
}

func TestFolderCoverSkipsUpscaling(t *testing.T) {
	t.Parallel()

	service := newServiceForTest(t)
	dir := t.TempDir()
	source := writeCoverPNG(t, filepath.Join(dir, "cover.png"), 16)

	path, err := service.FolderCover(library.Folder{Path: dir, CoverArt: "cover.png"}, 64)
	if err != nil {
		t.Fatalf("folder cover: %v", err)
	}
	if path != source {
		t.Fatalf("expected the original when it already fits, got %q", path)
	}
}

func TestFolderCoverThumbnailIsMemoized(t *testing.T) {
	t.Parallel()

	service := newServiceForTest(t)
	dir := t.TempDir()
	source := writeCoverPNG(t, filepath.Join(dir, "cover.png"), 64)
	folder := library.Folder{Path: dir, CoverArt: "cover.png"}

	first, err := service.FolderCover(folder, 16)
	if err != nil {
		t.Fatalf("folder cover: %v", err)
	}
	if first == source {
		t.Fatalf("expected a generated thumbnail, got the original")
	}
	if filepath.Ext(first) != ThumbnailExtension {
		t.Fatalf("expected an avif thumbnail, got %q", first)
	}
	if info, err := os.Stat(first); err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty thumbnail file: %v", err)
	}

	second, err := service.FolderCover(folder, 16)
	if err != nil {
		t.Fatalf("folder cover again: %v", err)
	}
	if second != first {
		t.Fatalf("expected the cached thumbnail to be reused")
	}
}

func TestTrackArtWithoutEmbeddedImage(t *testing.T) {
	t.Parallel()

	service := newServiceForTest(t)

	_, err := service.TrackArt(library.Track{Path: "/nowhere.mp3"}, 0)
	if !errors.Is(err, ErrNoArt) {
		t.Fatalf("expected ErrNoArt for a track without art, got %v", err)
	}
}

func TestScaleToFitPreservesAspect(t *testing.T) {
	t.Parallel()

	wide := image.NewRGBA(image.Rect(0, 0, 100, 50))
	scaled := scaleToFit(wide, 10)
	if scaled.Bounds().Dx() != 10 || scaled.Bounds().Dy() != 5 {
		t.Fatalf("unexpected scaled bounds %v", scaled.Bounds())
	}

	tall := image.NewRGBA(image.Rect(0, 0, 30, 90))
	scaled = scaleToFit(tall, 9)
	if scaled.Bounds().Dx() != 3 || scaled.Bounds().Dy() != 9 {
		t.Fatalf("unexpected scaled bounds %v", scaled.Bounds())
	}
}

func newServiceForTest(t *testing.T) *Service {
	t.Helper()

	coverCache, err := cache.New(t.TempDir(), 1<<20, 0)
	if err != nil {
		t.Fatalf("create test cache: %v", err)
	}

	return NewService(slog.New(slog.DiscardHandler), coverCache)
}

func writeCoverPNG(t *testing.T, path string, size int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 17), G: uint8(y * 13), B: 99, A: 255})
		}
	}

	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	return path
}
