package ingestion

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultPatterns are used when a Config names no patterns.
var DefaultPatterns = []string{"*.md", "*.txt"}

// excludedDirs are never descended into.
var excludedDirs = map[string]bool{
	".git":          true,
	".hg":           true,
	".svn":          true,
	"node_modules":  true,
	"vendor":        true,
	"__pycache__":   true,
	".venv":         true,
	"venv":          true,
	"dist":          true,
	"build":         true,
	"target":        true,
	".idea":         true,
	".vscode":       true,
	".tox":          true,
	".mypy_cache":   true,
	".pytest_cache": true,
	".terraform":    true,
}

// sourceFile is one resolved input file.
type sourceFile struct {
	// path is the absolute filesystem path.
	path string
	// source is the slash-separated path relative to the base directory, or
	// the absolute slash path when the file lies outside it.
	source string
}

// resolveFiles expands roots into an ordered, de-duplicated file list.
// Relative roots are resolved against baseDir. A root that is a file is
// taken as-is; a directory is walked and matched against patterns in
// pattern order. Missing roots are logged and skipped. maxFiles > 0 caps
// the result.
func resolveFiles(baseDir string, roots, patterns []string, maxFiles int, log *slog.Logger) []sourceFile {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	base, err := filepath.Abs(baseDir)
	if err != nil {
		base = filepath.Clean(baseDir)
	}

	seen := make(map[string]bool)
	var out []sourceFile
	add := func(abs string) bool {
		if seen[abs] {
			return true
		}
		seen[abs] = true
		out = append(out, sourceFile{path: abs, source: sourceName(base, abs)})
		return maxFiles <= 0 || len(out) < maxFiles
	}

	for _, root := range roots {
		abs := root
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(base, root)
		}
		abs = filepath.Clean(abs)

		info, err := os.Stat(abs)
		if err != nil {
			log.Warn("ingestion: skipping missing path",
				slog.String("path", root),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !info.IsDir() {
			if !add(abs) {
				return out
			}
			continue
		}

		candidates := walkDir(abs, log)
		for _, pattern := range patterns {
			for _, c := range candidates {
				if matchPattern(pattern, c.rel) && !add(c.abs) {
					return out
				}
			}
		}
	}
	return out
}

// candidate is a regular file found while walking a root.
type candidate struct {
	abs string
	rel string
}

// walkDir lists the regular files under root in lexical order, pruning
// excluded directories.
func walkDir(root string, log *slog.Logger) []candidate {
	var out []candidate
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			log.Warn("ingestion: skipping unreadable path", slog.String("path", p), slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p != root && excludedDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		out = append(out, candidate{abs: p, rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil && !errors.Is(err, fs.SkipDir) {
		log.Warn("ingestion: walk failed", slog.String("root", root), slog.String("error", err.Error()))
	}
	return out
}

// matchPattern reports whether the slash-separated relative path rel
// matches pattern. A pattern without a separator matches the base name at
// any depth. A pattern with a separator matches the whole relative path,
// and a leading "**/" lets it match at any depth.
func matchPattern(pattern, rel string) bool {
	pattern = filepath.ToSlash(pattern)
	p := strings.TrimPrefix(pattern, "**/")
	anyDepth := p != pattern

	if !strings.Contains(p, "/") {
		ok, _ := path.Match(p, path.Base(rel))
		return ok
	}
	if !anyDepth {
		ok, _ := path.Match(p, rel)
		return ok
	}
	segs := strings.Split(rel, "/")
	for i := range segs {
		if ok, _ := path.Match(p, strings.Join(segs[i:], "/")); ok {
			return true
		}
	}
	return false
}

// sourceName returns abs relative to base in slash form, or abs itself in
// slash form when it lies outside base.
func sourceName(base, abs string) string {
	rel, err := filepath.Rel(base, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}
