package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GenerateKey builds "<namespace>/<unix millis>-<sanitized filename>".
func GenerateKey(namespace string, filename string, now time.Time) string {
	return fmt.Sprintf("%s/%d-%s", strings.TrimSuffix(namespace, "/"), now.UnixMilli(), SanitizeFilename(filename))
}

// SanitizeFilename replaces every rune outside [A-Za-z0-9.-] with '_'.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// KeyTimestamp returns the upload time encoded in a generated key.
func KeyTimestamp(key string) (time.Time, bool) {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return time.Time{}, false
	}
	name := key[idx+1:]
	dash := strings.Index(name, "-")
	if dash <= 0 {
		return time.Time{}, false
	}

	if name[0] == '+' {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(name[:dash], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}

// KeyFilename returns the filename part of a generated key, or fallback when
// the key carries none.
func KeyFilename(key string, fallback string) string {
	name := key
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		name = key[idx+1:]
	}
	dash := strings.Index(name, "-")
	if dash < 0 || dash == len(name)-1 {
		return fallback
	}
	return name[dash+1:]
}
