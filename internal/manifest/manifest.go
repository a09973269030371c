// Package manifest reads and writes CHONKY manifest files.
//
// A manifest has a [config] section describing the object store and the
// workspace, and a [HEAD] section mapping workspace-relative paths to
// content digests:
//
//	[config]
//	type = s3
//	bucket = assets
//	workspace = Assets/
//
//	[HEAD]
//	cats/milo.jpg = 3a7bd3e2...
//	"#draft.bin" = 7743ce01...
//
// HEAD paths that would read back as something else (a comment, a section
// header, surrounding whitespace, control characters) are written as Go
// quoted strings.
// Manifest values are immutable. Every change returns a new value, and
// Persist replaces the file atomically, so a failed write leaves both the
// caller and the disk holding the last known good state.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"path"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aweris/chonky/internal/digest"
)

const (
	// DefaultName is the manifest file name looked up by discovery.
	DefaultName = "CHONKY"
	// BaseName is the workspace-local record of the last synced HEAD.
	BaseName = ".HEAD"

	configSection = "config"
	headSection   = "HEAD"
)

// Config keys.
const (
	KeyType       = "type"
	KeyRoot       = "root"
	KeyBucket     = "bucket"
	KeyEndpoint   = "endpoint"
	KeyRegion     = "region"
	KeyRepository = "repository"
	KeyInsecure   = "insecure"
	KeyWorkspace  = "workspace"
	KeyIgnore     = "ignore"
)

var requiredKeys = []string{KeyType}

// ErrCorrupt is returned for structurally invalid manifests.
var ErrCorrupt = errors.New("chonky: manifest corrupt")

// KeyValue is one line of a non-HEAD section.
type KeyValue struct {
	Key   string
	Value string
}

// Section is a named list of key/value pairs kept in file order.
type Section struct {
	Name   string
	Values []KeyValue
}

// Manifest is an immutable HEAD plus store configuration.
type Manifest struct {
	config   *Section
	sections []Section
	head     map[string]digest.Digest
	headSeen bool
}

// Changes maps paths to new digests. The zero digest removes the path.
type Changes map[string]digest.Digest

// New returns a manifest with the given config (in order) and HEAD.
func New(config []KeyValue, head map[string]digest.Digest) *Manifest {
	m := &Manifest{head: maps.Clone(head)}
	if m.head == nil {
		m.head = make(map[string]digest.Digest)
	}
	if config != nil {
		m.config = &Section{Name: configSection, Values: slices.Clone(config)}
	}
	return m
}

// NewBase returns a HEAD-only manifest, the shape of a workspace base record.
func NewBase(head map[string]digest.Digest) *Manifest {
	return New(nil, head)
}

// Parse decodes manifest text without requiring any section.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{head: make(map[string]digest.Digest)}

	var (
		current string
		seen    = make(map[string]bool)
		keys    map[string]bool
		haveHdr bool
	)

	for i, raw := range strings.Split(string(data), "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}

		if line[0] == '[' {
			if !strings.HasSuffix(line, "]") || len(line) < 3 {
				return nil, fmt.Errorf("%w: line %d: malformed section header %q", ErrCorrupt, lineNo, line)
			}
			current = line[1 : len(line)-1]
			if seen[current] {
				return nil, fmt.Errorf("%w: line %d: duplicate section [%s]", ErrCorrupt, lineNo, current)
			}
			seen[current] = true
			keys = make(map[string]bool)
			haveHdr = true

			switch current {
			case headSection:
				m.headSeen = true
			case configSection:
				m.config = &Section{Name: configSection}
			default:
				m.sections = append(m.sections, Section{Name: current})
			}
			continue
		}

		if !haveHdr {
			return nil, fmt.Errorf("%w: line %d: entry outside of a section", ErrCorrupt, lineNo)
		}

		var key, value string
		var ok bool
		if current == headSection {
			// Digests never contain '=', so the last one separates key and value.
			idx := strings.LastIndexByte(line, '=')
			ok = idx >= 0
			if ok {
				key, value = line[:idx], line[idx+1:]
			}
		} else {
			key, value, ok = strings.Cut(line, "=")
		}
		if !ok {
			return nil, fmt.Errorf("%w: line %d: expected key = value", ErrCorrupt, lineNo)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" {
			return nil, fmt.Errorf("%w: line %d: empty key", ErrCorrupt, lineNo)
		}
		if current == headSection && key[0] == '"' {
			unquoted, err := strconv.Unquote(key)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: malformed quoted path %s", ErrCorrupt, lineNo, key)
			}
			key = unquoted
		}
		if keys[key] {
			return nil, fmt.Errorf("%w: line %d: duplicate key %q in [%s]", ErrCorrupt, lineNo, key, current)
		}
		keys[key] = true

		switch current {
		case headSection:
			if err := ValidatePath(key); err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrCorrupt, lineNo, err)
			}
			d, err := digest.Parse(value)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %s: %v", ErrCorrupt, lineNo, key, err)
			}
			m.head[key] = d
		case configSection:
			m.config.Values = append(m.config.Values, KeyValue{Key: key, Value: value})
		default:
			last := &m.sections[len(m.sections)-1]
			last.Values = append(last.Values, KeyValue{Key: key, Value: value})
		}
	}

	return m, nil
}

// ParseManifest decodes a CHONKY file, which must carry [config] with all
// required keys and a [HEAD] section.
func ParseManifest(data []byte) (*Manifest, error) {
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if m.config == nil {
		return nil, fmt.Errorf("%w: missing [%s] section", ErrCorrupt, configSection)
	}
	if !m.headSeen {
		return nil, fmt.Errorf("%w: missing [%s] section", ErrCorrupt, headSection)
	}
	for _, key := range requiredKeys {
		if v, ok := m.Config(key); !ok || v == "" {
			return nil, fmt.Errorf("%w: missing required key %q in [%s]", ErrCorrupt, key, configSection)
		}
	}
	return m, nil
}

// ValidatePath checks that p is a clean, slash-separated relative path.
func ValidatePath(p string) error {
	switch {
	case p == "" || p == ".":
		return fmt.Errorf("empty path")
	case path.IsAbs(p) || strings.Contains(p, "\\"):
		return fmt.Errorf("path %q is not relative", p)
	case path.Clean(p) != p:
		return fmt.Errorf("path %q is not clean", p)
	case p == ".." || strings.HasPrefix(p, "../"):
		return fmt.Errorf("path %q escapes the workspace", p)
	}
	return nil
}

// Serialize returns the canonical text form: [config] first, other
// sections in their original order, then [HEAD] sorted by path. Each
// section ends with a blank line.
func (m *Manifest) Serialize() []byte {
	var buf bytes.Buffer

	writeSection := func(s Section) {
		buf.WriteString("[" + s.Name + "]\n")
		for _, kv := range s.Values {
			buf.WriteString(kv.Key + " = " + kv.Value + "\n")
		}
		buf.WriteString("\n")
	}

	if m.config != nil {
		writeSection(*m.config)
	}
	for _, s := range m.sections {
		writeSection(s)
	}

	buf.WriteString("[" + headSection + "]\n")
	for _, p := range m.Paths() {
		buf.WriteString(encodePath(p) + " = " + m.head[p].String() + "\n")
	}
	buf.WriteString("\n")

	return buf.Bytes()
}

// encodePath quotes p when Parse would not read it back verbatim.
func encodePath(p string) string {
	if p == "" {
		return p
	}
	switch p[0] {
	case '#', ';', '[', '"':
		return strconv.Quote(p)
	}
	if strings.TrimSpace(p) != p || !utf8.ValidString(p) || strings.ContainsFunc(p, unicode.IsControl) {
		return strconv.Quote(p)
	}
	return p
}

// WithUpdatedEntries returns a copy of m with changes applied.
func (m *Manifest) WithUpdatedEntries(changes Changes) *Manifest {
	next := m.clone()
	for p, d := range changes {
		if d.IsZero() {
			delete(next.head, p)
			continue
		}
		next.head[p] = d
	}
	return next
}

// WithHead returns a copy of m whose HEAD is exactly head.
func (m *Manifest) WithHead(head map[string]digest.Digest) *Manifest {
	next := m.clone()
	next.head = maps.Clone(head)
	if next.head == nil {
		next.head = make(map[string]digest.Digest)
	}
	return next
}

// Lookup returns the digest recorded for p.
func (m *Manifest) Lookup(p string) (digest.Digest, bool) {
	d, ok := m.head[p]
	return d, ok
}

// Head returns a copy of the HEAD entries.
func (m *Manifest) Head() map[string]digest.Digest {
	return maps.Clone(m.head)
}

// Paths returns the HEAD paths in sorted order.
func (m *Manifest) Paths() []string {
	return slices.Sorted(maps.Keys(m.head))
}

// Len returns the number of HEAD entries.
func (m *Manifest) Len() int {
	return len(m.head)
}

// Config returns the value of a [config] key.
func (m *Manifest) Config(key string) (string, bool) {
	if m.config == nil {
		return "", false
	}
	for _, kv := range m.config.Values {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Equal reports whether m and other hold the same sections and HEAD.
func (m *Manifest) Equal(other *Manifest) bool {
	if other == nil {
		return false
	}
	return bytes.Equal(m.Serialize(), other.Serialize())
}

func (m *Manifest) clone() *Manifest {
	next := &Manifest{head: maps.Clone(m.head)}
	if next.head == nil {
		next.head = make(map[string]digest.Digest)
	}
	if m.config != nil {
		next.config = &Section{Name: m.config.Name, Values: slices.Clone(m.config.Values)}
	}
	for _, s := range m.sections {
		next.sections = append(next.sections, Section{Name: s.Name, Values: slices.Clone(s.Values)})
	}
	return next
}

// StoreConfig is the object store part of [config].
type StoreConfig struct {
	Type       string
	Root       string
	Bucket     string
	Endpoint   string
	Region     string
	Repository string
	Insecure   bool
}

// Store returns the object store configuration.
func (m *Manifest) Store() StoreConfig {
	get := func(key string) string {
		v, _ := m.Config(key)
		return v
	}
	insecure, _ := strconv.ParseBool(get(KeyInsecure))

	return StoreConfig{
		Type:       get(KeyType),
		Root:       get(KeyRoot),
		Bucket:     get(KeyBucket),
		Endpoint:   get(KeyEndpoint),
		Region:     get(KeyRegion),
		Repository: get(KeyRepository),
		Insecure:   insecure,
	}
}

// Workspace returns the workspace directory relative to the manifest, "." by default.
func (m *Manifest) Workspace() string {
	if v, ok := m.Config(KeyWorkspace); ok && v != "" {
		return v
	}
	return "."
}

// Ignore returns the space-separated ignore patterns.
func (m *Manifest) Ignore() []string {
	v, _ := m.Config(KeyIgnore)
	return strings.Fields(v)
}
