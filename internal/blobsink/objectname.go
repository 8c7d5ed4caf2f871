package blobsink

import (
	"path"
	"strings"
	"time"
)

// ObjectName derives a storage key from the upload instant and the client's
// declared filename. The result is deterministic for a given (time, name)
// pair and effectively unique per upload at millisecond granularity.
//
// The declared name is untrusted: any directory component is stripped,
// characters outside [A-Za-z0-9._-] become '_', and dot runs are collapsed,
// so the key can never carry a '/' or a ".." sequence.
func ObjectName(now time.Time, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "upload"
	}

	var b strings.Builder
	b.Grow(len(base))
	prevDot := false
	for _, r := range base {
		switch {
		case r == '.':
			if !prevDot {
				b.WriteRune('.')
			}
			prevDot = true
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
			prevDot = false
		default:
			b.WriteRune('_')
			prevDot = false
		}
	}
	sanitized := strings.Trim(b.String(), ".")
	if sanitized == "" {
		sanitized = "upload"
	}

	return now.UTC().Format("20060102T150405.000") + "_" + sanitized
}
