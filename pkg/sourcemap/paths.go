package sourcemap

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// SourcePath converts a map source entry into a filesystem path. file:// URLs
// are decoded; anything else is returned as is.
func SourcePath(source string) string {
	if !strings.HasPrefix(source, "file://") {
		return source
	}
	p := strings.TrimPrefix(source, "file://")
	if u, err := url.PathUnescape(p); err == nil {
		p = u
	}
	// file:///C:/x -> C:/x
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}

// StepsUp returns the relative path from the directory holding cssPath back
// to base, e.g. "../.." for base/a/b/x.css and "." for base/x.css.
func StepsUp(cssPath, base string) (string, error) {
	rel, err := filepath.Rel(filepath.Dir(cssPath), base)
	if err != nil {
		return "", fmt.Errorf("steps from %s to %s: %w", cssPath, base, err)
	}
	return rel, nil
}

// RelativeSource rewrites one source entry so that it is relative to the
// directory of cssPath: the steps up from that directory to base, followed
// by the source's path below base. Relative entries are returned unchanged.
//
// Joining the directory of cssPath with the result yields the original
// absolute source path.
func RelativeSource(cssPath, base, source string) (string, error) {
	p := SourcePath(source)
	if !filepath.IsAbs(p) {
		return source, nil
	}

	up, err := StepsUp(cssPath, base)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return "", fmt.Errorf("source %s relative to %s: %w", source, base, err)
	}
	return filepath.ToSlash(filepath.Join(up, rel)), nil
}

// RewriteSources applies RelativeSource to every entry of m.Sources.
func (m *Map) RewriteSources(cssPath, base string) error {
	for i, src := range m.Sources {
		rel, err := RelativeSource(cssPath, base, src)
		if err != nil {
			return err
		}
		m.Sources[i] = rel
	}
	return nil
}

// Relocate adjusts a map that moves from directory from to directory to so
// that its relative entries still name the same files. A relative SourceRoot
// absorbs the move; otherwise each relative source is rewritten. Absolute
// paths and URLs are left alone.
func (m *Map) Relocate(from, to string) error {
	hop, err := filepath.Rel(to, from)
	if err != nil {
		return fmt.Errorf("relocate map from %s to %s: %w", from, to, err)
	}
	hop = filepath.ToSlash(hop)
	if hop == "." {
		return nil
	}

	if m.SourceRoot != "" {
		if isRelativeRef(m.SourceRoot) {
			m.SourceRoot = path.Join(hop, m.SourceRoot) + "/"
		}
		return nil
	}
	for i, src := range m.Sources {
		if isRelativeRef(src) {
			m.Sources[i] = path.Join(hop, src)
		}
	}
	return nil
}

// isRelativeRef reports whether ref is a relative path rather than an
// absolute path or a URL with a scheme.
func isRelativeRef(ref string) bool {
	if ref == "" || strings.HasPrefix(ref, "/") || filepath.IsAbs(ref) {
		return false
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return false
	}
	return true
}
