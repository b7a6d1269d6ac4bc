package lockfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/pkgrestore/pkg/errors"
)

func sample() *LockFile {
	lf := New()
	lf.Targets["net8.0"] = Target{
		Key("Sample", "1.0.0"): {Type: "package", Dependencies: map[string]string{"Base": ">=1.0.0"}},
		Key("Base", "1.0.0"):   {Type: "package"},
	}
	lf.Libraries[Key("Sample", "1.0.0")] = Library{Type: "package", SHA512: "abc", Files: []string{"lib/net/sample.dll"}}
	lf.Libraries[Key("Base", "1.0.0")] = Library{Type: "package", SHA512: "def"}
	return lf
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	require.NoError(t, sample().Write(path))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, sample(), got)

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	assert.Empty(t, leftovers)
}

func TestMarshalIsStable(t *testing.T) {
	a, err := sample().Marshal()
	require.NoError(t, err)
	b, err := sample().Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Contains(t, string(a), `"Base/1.0.0"`)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte(`{`))
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidFormat))

	_, err = Parse([]byte(`{"version": 99}`))
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidFormat))

	_, err = Read(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.Is(err, errors.ErrCodeFileNotFound))
}

func TestWriteOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))
	require.NoError(t, New().Write(path))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Empty(t, got.Targets)
}
