package scanner

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestCoverScoreHeuristics(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		albumName string
		want      int
	}{
		{"cover.jpg", "", 5},
		{"Cover.jpg", "", 5},
		{"front.png", "", 10},
		{"cover-front-large.jpg", "", 17},
		{"back.jpg", "", -10},
		{"small-back.png", "", -12},
		{"random.jpg", "", 0},
		{"Abbey Road.jpg", "Abbey Road", 20},
		{"cover.jpg", "Cover Me", 25},
	}

	for _, tc := range cases {
		if got := CoverScore(tc.name, tc.albumName); got != tc.want {
			t.Errorf("CoverScore(%q, %q) = %d, want %d", tc.name, tc.albumName, got, tc.want)
		}
	}
}

func TestFindCoverPrefersBestScore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "back.png"))
	writeTestPNG(t, filepath.Join(dir, "cover.png"))
	writeTestPNG(t, filepath.Join(dir, "front.png"))

	name, ok := FindCoverInFolder(dir, "")
	if !ok {
		t.Fatalf("expected a cover to be found")
	}
	if name != "front.png" {
		t.Fatalf("expected front.png, got %q", name)
	}
}

func TestFindCoverAlbumNameOutranksGenericNames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "cover.png"))
	writeTestPNG(t, filepath.Join(dir, "nevermind.png"))

	name, ok := FindCoverInFolder(dir, "Nevermind")
	if !ok {
		t.Fatalf("expected a cover to be found")
	}
	if name != "nevermind.png" {
		t.Fatalf("expected album-named image to win, got %q", name)
	}
}

func TestFindCoverTieKeepsListingOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "a.png"))
	writeTestPNG(t, filepath.Join(dir, "b.png"))

	name, ok := FindCoverInFolder(dir, "")
	if !ok {
		t.Fatalf("expected a cover to be found")
	}
	if name != "a.png" {
		t.Fatalf("expected first listed candidate on a tie, got %q", name)
	}
}

func TestFindCoverIgnoresInvalidFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write bogus cover: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("liner notes"), 0o644); err != nil {
		t.Fatalf("write text file: %v", err)
	}

	if _, ok := FindCoverInFolder(dir, ""); ok {
		t.Fatalf("expected no cover among undecodable files")
	}
}

func TestIsValidCoverRejectsWrongExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "cover.tiff")
	writeTestPNG(t, path)

	if IsValidCover(path) {
		t.Fatalf("expected unknown extension to be rejected")
	}
}

func writeTestPNG(t *testing.T, path string) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), B: 128, A: 255})
		}
	}

	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create test image %s: %v", path, err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
}
