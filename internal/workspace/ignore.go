package workspace

import (
	"path"
	"strings"
)

// Matcher decides which workspace paths are ignored.
//
// Patterns use path.Match syntax:
//   - "*.tmp" matches the base name at any depth
//   - "scratch/" matches directories only
//   - "art/raw/*.psd" contains a slash and is anchored to the workspace root
type Matcher struct {
	patterns []pattern
}

type pattern struct {
	glob     string
	dirOnly  bool
	anchored bool
}

// NewMatcher compiles patterns. Empty patterns are dropped.
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	for _, raw := range patterns {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}

		var pat pattern
		if strings.HasSuffix(p, "/") {
			pat.dirOnly = true
			p = strings.TrimRight(p, "/")
		}
		if strings.Contains(p, "/") {
			pat.anchored = true
			p = strings.TrimPrefix(p, "/")
		}
		if p == "" {
			continue
		}
		pat.glob = p
		m.patterns = append(m.patterns, pat)
	}
	return m
}

// Match reports whether the slash-separated relative path is ignored.
func (m *Matcher) Match(rel string, isDir bool) bool {
	if m == nil {
		return false
	}
	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		subject := path.Base(rel)
		if p.anchored {
			subject = rel
		}
		if ok, _ := path.Match(p.glob, subject); ok {
			return true
		}
	}
	return false
}

// Empty reports whether the matcher ignores nothing.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.patterns) == 0
}
