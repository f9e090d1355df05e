package config

import (
	"path/filepath"
	"strings"
)

// MatchPattern reports whether a workspace-relative path matches a
// sensitive-path pattern. Supported forms: "dir/**" (the directory and
// everything under it), glob patterns against the full relative path,
// and glob patterns against the base name ("secrets*" matches
// "config/secrets.yaml").
func MatchPattern(pattern, relPath string) bool {
	relPath = filepath.ToSlash(relPath)

	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+"/")
	}

	if ok, _ := filepath.Match(pattern, relPath); ok {
		return true
	}
	ok, _ := filepath.Match(pattern, filepath.Base(relPath))
	return ok
}

// MatchAnyPattern reports whether any pattern matches the path.
func MatchAnyPattern(patterns []string, relPath string) bool {
	for _, p := range patterns {
		if MatchPattern(p, relPath) {
			return true
		}
	}
	return false
}
