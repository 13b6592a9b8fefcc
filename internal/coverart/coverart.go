// Package coverart serves folder cover images and embedded track art,
// producing scaled avif thumbnails memoized in the disk cache.
package coverart

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/dhowden/tag"
	"github.com/gen2brain/avif"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"

	"sonora/internal/cache"
	"sonora/internal/library"
)

// ErrNoArt is returned when neither a folder cover nor embedded art exists.
var ErrNoArt = errors.New("no cover art")

const ThumbnailExtension = ".avif"

type Service struct {
	log   *slog.Logger
	cache *cache.Cache
}

func NewService(logger *slog.Logger, coverCache *cache.Cache) *Service {
	return &Service{log: logger, cache: coverCache}
}

// FolderCover returns the path of the file to serve for a folder's cover at
// the requested size. size 0 serves the original image untouched.
func (s *Service) FolderCover(folder library.Folder, size int) (string, error) {
	if folder.CoverArt == "" {
		return "", ErrNoArt
	}

	source := filepath.Join(folder.Path, folder.CoverArt)
	info, err := os.Stat(source)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoArt, source)
	}

	if size <= 0 {
		return source, nil
	}

	key := thumbnailKey(fmt.Sprintf("%s|%d", source, info.ModTime().UnixNano()), size)
	if path, err := s.cache.Get(key); err == nil {
		return path, nil
	}

	img, err := decodeImageFile(source)
	if err != nil {
		return "", fmt.Errorf("decode cover %s: %w", source, err)
	}

	if fitsWithin(img, size) {
		return source, nil
	}

	return s.storeThumbnail(key, img, size)
}

// TrackArt extracts a track's embedded artwork and returns the path of a
// cached file holding it, scaled when size is positive.
func (s *Service) TrackArt(track library.Track, size int) (string, error) {
	if !track.HasArt {
		return "", ErrNoArt
	}

	file, err := os.Open(track.Path)
	if err != nil {
		return "", fmt.Errorf("open track %s: %w", track.Path, err)
	}
	defer file.Close()

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		return "", fmt.Errorf("read embedded art of %s: %w", track.Path, err)
	}

	picture := metadata.Picture()
	if picture == nil || len(picture.Data) == 0 {
		return "", ErrNoArt
	}

	key := thumbnailKey(fmt.Sprintf("%s|%d", track.ID, track.LastModification), size)
	if path, err := s.cache.Get(key); err == nil {
		return path, nil
	}

	if size <= 0 {
		// Embedded art has no file of its own: stage the raw bytes.
		return s.cache.Set(key, picture.Data)
	}

	img, _, err := image.Decode(bytes.NewReader(picture.Data))
	if err != nil {
		return "", fmt.Errorf("decode embedded art of %s: %w", track.Path, err)
	}

	if fitsWithin(img, size) {
		return s.cache.Set(key, picture.Data)
	}

	return s.storeThumbnail(key, img, size)
}

func (s *Service) storeThumbnail(key string, img image.Image, size int) (string, error) {
	scaled := scaleToFit(img, size)

	var buf bytes.Buffer
	if err := avif.Encode(&buf, scaled); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}

	path, err := s.cache.Set(key, buf.Bytes())
	if err != nil {
		return "", err
	}

	s.log.Debug("cached thumbnail", "key", key, "bytes", buf.Len())
	return path, nil
}

func thumbnailKey(source string, size int) string {
	sum := sha256.Sum256([]byte(source))
	return fmt.Sprintf("%s-%d%s", hex.EncodeToString(sum[:]), size, ThumbnailExtension)
}

func fitsWithin(img image.Image, size int) bool {
	bounds := img.Bounds()
	return bounds.Dx() <= size && bounds.Dy() <= size
}

// scaleToFit shrinks img so its longer edge equals size, preserving aspect.
func scaleToFit(img image.Image, size int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width >= height {
		height = height * size / width
		width = size
	} else {
		width = width * size / height
		height = size
	}
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func decodeImageFile(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(path), ThumbnailExtension) {
		return avif.Decode(file)
	}

	img, _, err := image.Decode(file)
	return img, err
}
