package scanner

import (
	"image"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/bmp"
)

// CoverExtensions lists the image extensions considered as folder cover art.
var CoverExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".avif"}

// Cover images have no standard name across rippers and taggers, so
// candidates are ranked by filename heuristics.
var coverScoreRules = []struct {
	part  string
	score int
}{
	{"cover", 5},
	{"albumart", 5},
	{"folder", 5},
	{"front", 10},
	{"back", -10},
	{"large", 2},
	{"small", -2},
}

var coverCleanPattern = regexp.MustCompile(`[^a-z]`)

// CoverScore ranks a candidate cover filename, optionally boosted when the
// cleaned basename overlaps the album name.
func CoverScore(name string, albumName string) int {
	score := 0
	lower := strings.ToLower(name)
	for _, rule := range coverScoreRules {
		if strings.Contains(lower, rule.part) {
			score += rule.score
		}
	}

	if albumName != "" {
		basename := strings.TrimSuffix(name, filepath.Ext(name))
		clean := coverCleanPattern.ReplaceAllString(strings.ToLower(basename), "")
		cleanAlbum := coverCleanPattern.ReplaceAllString(strings.ToLower(albumName), "")
		if clean != "" && cleanAlbum != "" &&
			(strings.Contains(cleanAlbum, clean) || strings.Contains(clean, cleanAlbum)) {
			score += 20
		}
	}

	return score
}

func hasCoverExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, candidate := range CoverExtensions {
		if ext == candidate {
			return true
		}
	}

	return false
}

// IsValidCover reports whether path is a decodable image with a cover
// extension.
func IsValidCover(path string) bool {
	if !hasCoverExtension(path) {
		return false
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	_, _, err = image.DecodeConfig(file)
	return err == nil
}

// FindCoverInFolder returns the best-scoring cover image filename in dir.
// Ties keep directory-listing order: the sort is stable and candidates are
// collected in the order the directory returns them.
func FindCoverInFolder(dir string, albumName string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	type candidate struct {
		name  string
		score int
	}

	candidates := make([]candidate, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !IsValidCover(filepath.Join(dir, entry.Name())) {
			continue
		}
		candidates = append(candidates, candidate{
			name:  entry.Name(),
			score: CoverScore(entry.Name(), albumName),
		})
	}

	if len(candidates) == 0 {
		return "", false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	return candidates[0].name, true
}
