package blobvault

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(filepath.Join(t.TempDir(), "vault"), zap.NewNop())
	require.NoError(t, err)
	return v
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestImport(t *testing.T) {
	v := newTestVault(t)
	src := writeSource(t, "notes.txt", "hello attachment")

	ref, err := v.Import(src)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", ref.Name)
	assert.Equal(t, int64(len("hello attachment")), ref.Size)
	assert.Len(t, ref.SHA256, 64)
	assert.Equal(t, ref.SHA256+"-notes.txt", ref.RelPath)
	assert.True(t, strings.HasPrefix(ref.Mime, "text/plain"))

	path, err := v.Resolve(ref.RelPath)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello attachment", string(data))
}

func TestImportDeduplicates(t *testing.T) {
	v := newTestVault(t)
	src := writeSource(t, "dup.txt", "same bytes")

	first, err := v.Import(src)
	require.NoError(t, err)
	second, err := v.Import(src)
	require.NoError(t, err)
	assert.Equal(t, first.RelPath, second.RelPath)
	assert.Equal(t, first.SHA256, second.SHA256)

	entries, err := os.ReadDir(v.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestImportDeduplicatesAcrossNames(t *testing.T) {
	v := newTestVault(t)

	first, err := v.Import(writeSource(t, "report.pdf", "identical bytes"))
	require.NoError(t, err)
	second, err := v.Import(writeSource(t, "copy-of-report.pdf", "identical bytes"))
	require.NoError(t, err)

	// One blob on disk, under the first import's name; the display name
	// still follows each source.
	assert.Equal(t, first.RelPath, second.RelPath)
	assert.Equal(t, "report.pdf", first.Name)
	assert.Equal(t, "copy-of-report.pdf", second.Name)

	entries, err := os.ReadDir(v.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestImportDistinctContentDistinctBlobs(t *testing.T) {
	v := newTestVault(t)

	first, err := v.Import(writeSource(t, "a.txt", "version one"))
	require.NoError(t, err)
	second, err := v.Import(writeSource(t, "a.txt", "version two"))
	require.NoError(t, err)
	assert.NotEqual(t, first.RelPath, second.RelPath)
}

func TestImportRejectsDirectory(t *testing.T) {
	v := newTestVault(t)
	_, err := v.Import(t.TempDir())
	assert.ErrorIs(t, err, ErrNotRegularFile)
}

func TestImportSniffsUnknownExtension(t *testing.T) {
	v := newTestVault(t)
	src := writeSource(t, "payload.bin_unknown", "\x00\x01\x02\x03binary stuff")

	ref, err := v.Import(src)
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", ref.Mime)
}

func TestResolveRejectsEscapes(t *testing.T) {
	v := newTestVault(t)

	for _, bad := range []string{
		"",
		"..",
		"../outside.txt",
		"nested/../../outside.txt",
	} {
		_, err := v.Resolve(bad)
		assert.ErrorIs(t, err, ErrPathOutsideVault, "path %q", bad)
	}

	// Leading separators are stripped, not treated as absolute.
	path, err := v.Resolve("/abcd-file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(v.Root(), "abcd-file.txt"), path)
}

func TestRemoveBestEffort(t *testing.T) {
	v := newTestVault(t)

	// Missing blob and escaping path are both silently skipped.
	v.Remove("abcd-missing.txt")
	v.Remove("../etc/passwd")

	ref, err := v.Import(writeSource(t, "gone.txt", "delete me"))
	require.NoError(t, err)
	v.Remove(ref.RelPath)

	path, err := v.Resolve(ref.RelPath)
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"a/b\\c:d.txt", "a_b_c_d.txt"},
		{"bad\x00name", "bad_name"},
		{"..", "blob"},
		{"", "blob"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeName(tt.in), "input %q", tt.in)
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"https://example.com", "https://example.com"},
		{"http://example.com/a?b=c", "http://example.com/a?b=c"},
		{"//cdn.example.com/lib.js", "https://cdn.example.com/lib.js"},
		{"mailto:a@b.c", "mailto:a@b.c"},
		{"example.com", "https://example.com"},
		{"  example.com/path  ", "https://example.com/path"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeURL(tt.in), "input %q", tt.in)
	}
}
