// Package pathutil normalizes slash-separated archive entry paths.
package pathutil

import (
	"path"
	"strings"
)

// Clean normalizes an entry path as stored by archivers: backslashes become
// slashes, and leading "./" and "/" are dropped along with any trailing
// slash. The empty path and "." clean to "".
func Clean(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if name == "" {
		return ""
	}
	name = path.Clean("/" + name)
	return strings.TrimPrefix(name, "/")
}

// Same reports whether two entry paths name the same entry.
func Same(a, b string) bool {
	return Clean(a) == Clean(b)
}

// IsDirName reports whether an archiver marked name as a directory with a
// trailing slash.
func IsDirName(name string) bool {
	return strings.HasSuffix(name, "/") || strings.HasSuffix(name, `\`)
}

// Base returns the last element of a slash-separated path.
// If path is empty or ".", it returns ".".
func Base(p string) string {
	if p == "" || p == "." {
		return "."
	}
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// DirPrefix converts a path to its directory prefix form.
// For "" or ".", returns "" (empty prefix matches all).
func DirPrefix(name string) string {
	if name == "" || name == "." {
		return ""
	}
	return strings.TrimSuffix(name, "/") + "/"
}

// Parents returns every ancestor directory of a cleaned entry path,
// outermost first. Archives often omit explicit directory entries; callers
// use this to synthesize them.
func Parents(name string) []string {
	var out []string
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			out = append(out, name[:i])
		}
	}
	return out
}
