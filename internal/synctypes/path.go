package synctypes

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

// NormalizePath validates a manifest path and returns its canonical form.
// Paths are relative, forward-slash separated and may not escape the root.
func NormalizePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidManifest)
	}
	if !utf8.ValidString(p) {
		return "", fmt.Errorf("%w: path %q is not valid utf-8", ErrInvalidManifest, p)
	}
	if strings.ContainsRune(p, '\\') {
		return "", fmt.Errorf("%w: path %q contains a backslash", ErrInvalidManifest, p)
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: path contains a NUL byte", ErrInvalidManifest)
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: path %q is absolute", ErrInvalidManifest, p)
	}

	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: path %q escapes the root", ErrInvalidManifest, p)
		}
	}

	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", fmt.Errorf("%w: path %q has no file name", ErrInvalidManifest, p)
	}

	return cleaned, nil
}
