package scanner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.senan.xyz/taglib"
)

var leadingIntegerPattern = regexp.MustCompile(`\d+`)

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Tags is the metadata extracted from one media file. Zero values mean the
// field was absent or unparseable; the engine applies per-field defaults.
type Tags struct {
	Artist      string
	AlbumArtist string
	Album       string
	Title       string
	Genre       string
	Disc        int
	Track       int
	Year        *int
	Duration    int // seconds
	Bitrate     int // kbps
	HasImage    bool
}

// TagReader extracts tags from a media file. An error return means the file
// is not readable as media at all; individual missing fields never error.
type TagReader interface {
	ReadTags(path string) (Tags, error)
}

type taglibReader struct{}

// NewTagReader returns the production TagReader backed by taglib.
func NewTagReader() TagReader {
	return taglibReader{}
}

func (taglibReader) ReadTags(path string) (Tags, error) {
	rawTags, err := taglib.ReadTags(path)
	if err != nil {
		return Tags{}, fmt.Errorf("read tags of %s: %w", path, err)
	}

	tags := Tags{
		Artist:      firstTagValue(rawTags, taglib.Artist, "ARTIST"),
		AlbumArtist: firstTagValue(rawTags, taglib.AlbumArtist, "ALBUMARTIST"),
		Album:       firstTagValue(rawTags, taglib.Album, "ALBUM"),
		Title:       firstTagValue(rawTags, taglib.Title, "TITLE"),
		Genre:       firstTagValue(rawTags, taglib.Genre, "GENRE"),
	}

	if track := parseNumericTag(firstTagValue(rawTags, taglib.TrackNumber, "TRACKNUMBER", "TRCK")); track != nil {
		tags.Track = *track
	}
	if disc := parseNumericTag(firstTagValue(rawTags, taglib.DiscNumber, "DISCNUMBER", "TPOS")); disc != nil {
		tags.Disc = *disc
	}
	tags.Year = parseYearTag(firstTagValue(rawTags, taglib.Date, "DATE", "YEAR", "ORIGINALDATE"))

	properties, err := taglib.ReadProperties(path)
	if err == nil {
		tags.Duration = int(properties.Length.Seconds())
		tags.Bitrate = int(properties.Bitrate)
		tags.HasImage = len(properties.Images) > 0
	}

	return tags, nil
}

func firstTagValue(tags map[string][]string, keys ...string) string {
	for _, key := range keys {
		values, ok := tags[key]
		if !ok {
			continue
		}
		for _, value := range values {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}

	return ""
}

func parseNumericTag(value string) *int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}

	match := leadingIntegerPattern.FindString(trimmed)
	if match == "" {
		return nil
	}

	parsed, err := strconv.Atoi(match)
	if err != nil || parsed <= 0 {
		return nil
	}

	return &parsed
}

func parseYearTag(value string) *int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}

	match := yearPattern.FindString(trimmed)
	if match == "" {
		if fallback := parseNumericTag(trimmed); fallback != nil {
			if *fallback >= 1000 && *fallback <= 3000 {
				return fallback
			}
		}
		return nil
	}

	parsed, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}

	return &parsed
}
