package util

import (
	"path"
	"strings"
)

// SanitizeObjectName keeps [A-Za-z0-9.-] and replaces every other byte with '_'.
func SanitizeObjectName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "file"
	}
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '.', ch == '-':
			b.WriteByte(ch)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// CleanStorageKey normalizes a slash-separated key and rejects traversal.
func CleanStorageKey(key string) (string, bool) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" {
		return "", false
	}
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != strings.TrimPrefix(key, "/") {
		return "", false
	}
	for _, part := range strings.Split(clean, "/") {
		if part == ".." || part == "." {
			return "", false
		}
	}
	return clean, true
}
