package assets

import (
	"mime"
	"strings"
)

// Family returns the top-level media type ("audio" for "audio/mpeg; rate=44100").
// It returns "" when contentType is empty or has no slash.
func Family(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Providers send sloppy headers; fall back to the raw prefix.
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	family, _, ok := strings.Cut(mediaType, "/")
	if !ok {
		return ""
	}
	return family
}

func HasFamily(contentType, family string) bool {
	return Family(contentType) == strings.ToLower(strings.TrimSpace(family))
}
