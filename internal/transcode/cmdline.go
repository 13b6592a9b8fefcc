package transcode

import (
	"strconv"
	"strings"

	"sonora/internal/library"
)

// placeholderValues carries everything a command template may substitute,
// letting operators use tools that tag their output while transcoding.
type placeholderValues struct {
	srcPath    string
	srcFormat  string
	dstFormat  string
	dstBitrate int
	track      library.Track
	artistName string
	albumName  string
}

// buildCommandLine splits a command template and substitutes placeholders in
// each argument. Splitting happens before substitution so values containing
// spaces stay inside a single argument.
func buildCommandLine(template string, values placeholderValues) []string {
	parts := splitCommand(template)
	if len(parts) == 0 {
		return nil
	}

	year := ""
	if values.track.Year != nil {
		year = strconv.Itoa(*values.track.Year)
	}

	replacer := strings.NewReplacer(
		"%srcpath", values.srcPath,
		"%srcfmt", values.srcFormat,
		"%outfmt", values.dstFormat,
		"%outrate", strconv.Itoa(values.dstBitrate),
		"%title", values.track.Title,
		"%album", values.albumName,
		"%artist", values.artistName,
		"%tracknumber", strconv.Itoa(values.track.Number),
		"%discnumber", strconv.Itoa(values.track.Disc),
		"%genre", values.track.Genre,
		"%year", year,
	)

	args := make([]string, len(parts))
	for i, part := range parts {
		args[i] = replacer.Replace(part)
	}
	return args
}

// splitCommand splits a template on whitespace, honoring single and double
// quotes so quoted arguments survive as one part.
func splitCommand(template string) []string {
	var parts []string
	var current strings.Builder
	inPart := false
	var quote rune

	for _, char := range template {
		switch {
		case quote != 0:
			if char == quote {
				quote = 0
			} else {
				current.WriteRune(char)
			}
		case char == '\'' || char == '"':
			quote = char
			inPart = true
		case char == ' ' || char == '\t':
			if inPart {
				parts = append(parts, current.String())
				current.Reset()
				inPart = false
			}
		default:
			current.WriteRune(char)
			inPart = true
		}
	}

	if inPart {
		parts = append(parts, current.String())
	}
	return parts
}
