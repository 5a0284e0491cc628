package file

import (
	"path/filepath"
	"strings"
)

// SanitizeFilename strips any directory components and control characters
// from an uploaded filename, keeping only the base name.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// HasExtension reports whether name carries one of the given extensions,
// compared case-insensitively. Extensions include the dot (".pdf").
func HasExtension(name string, exts ...string) bool {
	got := strings.ToLower(filepath.Ext(name))
	for _, ext := range exts {
		if got == strings.ToLower(ext) {
			return true
		}
	}
	return false
}
