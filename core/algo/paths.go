package algo

import (
	"path"
	"strings"
)

// NormalizePath lowercases a path, converts separators to forward slashes
// and strips leading "./" and "/" segments.
func NormalizePath(p string) string {
	p = strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// DirPrefix returns the first depth directory segments of p after
// normalization. Files at the root map to ".".
func DirPrefix(p string, depth int) string {
	dir := path.Dir(NormalizePath(p))
	if dir == "." || dir == "" || depth <= 0 {
		return "."
	}
	parts := strings.Split(dir, "/")
	if len(parts) > depth {
		parts = parts[:depth]
	}
	return strings.Join(parts, "/")
}

// prefixSet collects the directory prefixes of paths.
func prefixSet(paths []string, depth int) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[DirPrefix(p, depth)] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|. Two empty sets are identical.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

var testMarkers = []string{"_test.", ".test.", ".spec.", "/test/", "/tests/", "/__tests__/", "/testdata/", "/spec/"}

// IsTestPath reports whether p looks like a test file.
func IsTestPath(p string) bool {
	n := "/" + NormalizePath(p)
	for _, m := range testMarkers {
		if strings.Contains(n, m) {
			return true
		}
	}
	return strings.HasPrefix(path.Base(n), "test_")
}

var docExts = map[string]struct{}{".md": {}, ".rst": {}, ".adoc": {}, ".txt": {}}

// IsDocPath reports whether p is documentation.
func IsDocPath(p string) bool {
	n := "/" + NormalizePath(p)
	if strings.Contains(n, "/docs/") || strings.Contains(n, "/doc/") {
		return true
	}
	_, ok := docExts[path.Ext(n)]
	return ok
}

var (
	configDirs = []string{"/config/", "/configs/", "/migrations/", "/migration/", "/schema/", "/schemas/", "/deploy/", "/.github/"}
	configExts = map[string]struct{}{
		".yaml": {}, ".yml": {}, ".toml": {}, ".ini": {}, ".conf": {}, ".cfg": {},
		".properties": {}, ".env": {}, ".sql": {}, ".proto": {}, ".graphql": {}, ".tf": {},
	}
	configFiles = map[string]struct{}{
		"dockerfile": {}, "makefile": {}, "go.mod": {}, "package.json": {}, "pom.xml": {}, "build.gradle": {},
	}
)

// IsConfigPath reports whether p is configuration, schema or a migration.
func IsConfigPath(p string) bool {
	n := "/" + NormalizePath(p)
	for _, d := range configDirs {
		if strings.Contains(n, d) {
			return true
		}
	}
	if _, ok := configFiles[path.Base(n)]; ok {
		return true
	}
	_, ok := configExts[path.Ext(n)]
	return ok
}
