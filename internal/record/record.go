// Package record implements the wheel RECORD manifest: the line-oriented
// CSV listing of every archive member's path, content digest, and size.
package record

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
)

var (
	// ErrParse indicates a RECORD line that does not decode: wrong field
	// count, a malformed hash field, or a malformed size field.
	ErrParse = errors.New("malformed RECORD line")

	// ErrDuplicatePath indicates an append that collides with an existing
	// RECORD path.
	ErrDuplicatePath = errors.New("duplicate path in RECORD")

	// ErrIntegrity indicates a structurally broken RECORD: duplicate rows,
	// or a missing or repeated self-entry.
	ErrIntegrity = errors.New("RECORD integrity violation")
)

// Entry is one RECORD row. Hash is either empty or a tagged digest of the
// form "sha256=<urlsafe-base64-no-padding>"; Size is either empty or a
// non-negative decimal byte count. Hash and size are empty together only
// on the RECORD's own self-entry.
type Entry struct {
	Path string
	Hash string
	Size string
}

// 32 digest bytes encode to exactly 43 unpadded base64 characters.
var hashPattern = regexp.MustCompile(`^sha256=[A-Za-z0-9_-]{43}$`)

// Manifest is the ordered contents of a RECORD file. Row order is insertion
// order and is preserved through Parse and Serialize; it is never sorted.
type Manifest struct {
	entries []Entry
	byPath  map[string]struct{}
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{byPath: make(map[string]struct{})}
}

// Parse decodes RECORD bytes. Each line must have exactly three
// comma-separated fields; blank lines are skipped. Duplicate paths are
// rejected as an integrity violation.
func Parse(data []byte) (*Manifest, error) {
	m := New()

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = 3

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}

		e := Entry{Path: row[0], Hash: row[1], Size: row[2]}
		if err := validateEntry(e); err != nil {
			return nil, err
		}
		if m.Has(e.Path) {
			return nil, fmt.Errorf("%w: duplicate path %q", ErrIntegrity, e.Path)
		}
		m.add(e)
	}

	return m, nil
}

func validateEntry(e Entry) error {
	if e.Path == "" {
		return fmt.Errorf("%w: empty path", ErrParse)
	}
	if e.Hash != "" && !hashPattern.MatchString(e.Hash) {
		return fmt.Errorf("%w: bad hash field %q for %s", ErrParse, e.Hash, e.Path)
	}
	if e.Size != "" {
		n, err := strconv.Atoi(e.Size)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: bad size field %q for %s", ErrParse, e.Size, e.Path)
		}
	}
	// Only the self-entry may omit hash and size, and it omits both.
	if (e.Hash == "") != (e.Size == "") {
		return fmt.Errorf("%w: %s has hash and size set inconsistently", ErrIntegrity, e.Path)
	}
	return nil
}

// Serialize encodes the manifest back to RECORD bytes, one row per entry in
// insertion order. Parse(Serialize(m)) reproduces m for any well-formed m.
func (m *Manifest) Serialize() []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, e := range m.entries {
		// bytes.Buffer writes cannot fail; csv.Writer reports nothing here.
		_ = w.Write([]string{e.Path, e.Hash, e.Size})
	}
	w.Flush()
	return buf.Bytes()
}

// Entries returns the rows in insertion order. Callers must not mutate the
// returned slice.
func (m *Manifest) Entries() []Entry {
	return m.entries
}

// Len returns the number of rows.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Has reports whether path already has a row.
func (m *Manifest) Has(path string) bool {
	_, ok := m.byPath[path]
	return ok
}

// Append adds a row at the end, rejecting paths that already have one.
func (m *Manifest) Append(e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	if m.Has(e.Path) {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, e.Path)
	}
	m.add(e)
	return nil
}

func (m *Manifest) add(e Entry) {
	m.byPath[e.Path] = struct{}{}
	m.entries = append(m.entries, e)
}

// SelfEntryPath returns the path of the row describing the RECORD file
// itself, identified by its empty hash and size. Zero or multiple such rows
// is an integrity violation.
func (m *Manifest) SelfEntryPath() (string, error) {
	path := ""
	found := 0
	for _, e := range m.entries {
		if e.Hash == "" && e.Size == "" {
			path = e.Path
			found++
		}
	}
	switch found {
	case 0:
		return "", fmt.Errorf("%w: no self-entry row", ErrIntegrity)
	case 1:
		return path, nil
	default:
		return "", fmt.Errorf("%w: %d self-entry rows", ErrIntegrity, found)
	}
}
