package ttsutils

import (
	"strings"
	"time"
	"unicode"
)

const (
	invalidCharReplacement = '_'
	objectTimeLayout       = "20060102T150405.000000000Z"
	fallbackNamePart       = "unnamed"
	defaultExtension       = "bin"
)

// SanitizeFilename replaces characters that are invalid in file or object names,
// plus whitespace and control characters, with underscores.
func SanitizeFilename(filename string) string {
	return strings.Map(func(char rune) rune {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, char):
			return invalidCharReplacement
		case unicode.IsSpace(char), unicode.IsControl(char):
			return invalidCharReplacement
		default:
			return char
		}
	}, filename)
}

// ObjectName builds the blob key for one synthesized artifact:
// <source>_<provider>_<UTC timestamp with nanoseconds>.<ext>.
func ObjectName(sourceID, provider, ext string, createdAt time.Time) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = defaultExtension
	}

	return namePart(sourceID) + "_" + namePart(provider) + "_" +
		createdAt.UTC().Format(objectTimeLayout) + "." + ext
}

func namePart(value string) string {
	sanitized := SanitizeFilename(strings.TrimSpace(value))
	if sanitized == "" {
		return fallbackNamePart
	}

	return sanitized
}
