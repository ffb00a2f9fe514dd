package record

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRecord = "pkg/__init__.py,sha256=47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU,0\n" +
	"pkg-1.0.dist-info/METADATA,sha256=uU0nuZNNPgilLlLX2n2r-sSE7-N6U4DukIj3rOLvzek,11\n" +
	"pkg-1.0.dist-info/RECORD,,\n"

func TestParse(t *testing.T) {
	m, err := Parse([]byte(sampleRecord))
	require.NoError(t, err)
	require.Equal(t, 3, m.Len())

	entries := m.Entries()
	assert.Equal(t, "pkg/__init__.py", entries[0].Path)
	assert.Equal(t, "sha256=47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU", entries[0].Hash)
	assert.Equal(t, "0", entries[0].Size)
	assert.Equal(t, Entry{Path: "pkg-1.0.dist-info/RECORD"}, entries[2])
}

func TestParseSkipsBlankLines(t *testing.T) {
	m, err := Parse([]byte(sampleRecord + "\n\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
}

func TestParseEmpty(t *testing.T) {
	m, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"two fields", "pkg/a.py,sha256=x\n", ErrParse},
		{"four fields", "pkg/a.py,,0,extra\n", ErrParse},
		{"bad hash tag", "pkg/a.py,md5=47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU,0\n", ErrParse},
		{"short hash", "pkg/a.py,sha256=abc,0\n", ErrParse},
		{"bad size", "pkg/a.py,sha256=47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU,ten\n", ErrParse},
		{"negative size", "pkg/a.py,sha256=47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU,-1\n", ErrParse},
		{"empty path", ",sha256=47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU,0\n", ErrParse},
		{"hash without size", "pkg/a.py,sha256=47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU,\n", ErrIntegrity},
		{"size without hash", "pkg/a.py,,0\n", ErrIntegrity},
		{"duplicate path", "pkg/a.py,sha256=47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU,0\npkg/a.py,sha256=47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU,0\n", ErrIntegrity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	m, err := Parse([]byte(sampleRecord))
	require.NoError(t, err)

	out := m.Serialize()
	assert.Equal(t, sampleRecord, string(out))

	back, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, m.Entries(), back.Entries())
}

func TestSerializePreservesOrder(t *testing.T) {
	m := New()
	require.NoError(t, m.Append(EntryFor("z/last.py", []byte("z"))))
	require.NoError(t, m.Append(EntryFor("a/first.py", []byte("a"))))
	require.NoError(t, m.Append(SelfEntry("pkg-1.0.dist-info/RECORD")))

	lines := strings.Split(strings.TrimRight(string(m.Serialize()), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "z/last.py,"))
	assert.True(t, strings.HasPrefix(lines[1], "a/first.py,"))
	assert.Equal(t, "pkg-1.0.dist-info/RECORD,,", lines[2])
}

func TestAppendDuplicate(t *testing.T) {
	m := New()
	require.NoError(t, m.Append(EntryFor("pkg/a.py", []byte("a"))))
	err := m.Append(EntryFor("pkg/a.py", []byte("b")))
	assert.ErrorIs(t, err, ErrDuplicatePath)
	assert.Equal(t, 1, m.Len())
}

func TestSelfEntryPath(t *testing.T) {
	m, err := Parse([]byte(sampleRecord))
	require.NoError(t, err)

	self, err := m.SelfEntryPath()
	require.NoError(t, err)
	assert.Equal(t, "pkg-1.0.dist-info/RECORD", self)
}

func TestSelfEntryPathMissing(t *testing.T) {
	m := New()
	require.NoError(t, m.Append(EntryFor("pkg/a.py", []byte("a"))))

	_, err := m.SelfEntryPath()
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestSelfEntryPathDuplicated(t *testing.T) {
	m := New()
	require.NoError(t, m.Append(SelfEntry("a/RECORD")))
	require.NoError(t, m.Append(SelfEntry("b/RECORD")))

	_, err := m.SelfEntryPath()
	assert.ErrorIs(t, err, ErrIntegrity)
}
