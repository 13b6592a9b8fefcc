package library

import (
	"mime"
	"strings"
)

var audioMimeTypes = map[string]string{
	"aac":  "audio/aac",
	"aif":  "audio/x-aiff",
	"aiff": "audio/x-aiff",
	"alac": "audio/mp4",
	"flac": "audio/flac",
	"m4a":  "audio/mp4",
	"mp3":  "audio/mpeg",
	"oga":  "audio/ogg",
	"ogg":  "audio/ogg",
	"opus": "audio/opus",
	"wav":  "audio/x-wav",
	"wma":  "audio/x-ms-wma",
}

// MimeFor maps a file extension (with or without the leading dot) to a MIME
// type, preferring the audio table over the platform registry.
func MimeFor(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return "application/octet-stream"
	}

	if mimeType, ok := audioMimeTypes[ext]; ok {
		return mimeType
	}
	if mimeType := mime.TypeByExtension("." + ext); mimeType != "" {
		return mimeType
	}

	return "application/octet-stream"
}
