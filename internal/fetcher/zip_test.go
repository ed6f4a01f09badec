package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeZip builds an archive under a temp dir from name -> content pairs
// and returns its path. Names ending in "/" become directory entries.
func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.zip")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	for name, content := range entries {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestExtractZIPSingle(t *testing.T) {
	zipPath := writeZip(t, map[string]string{
		"jobs.csv": "B0EXAMPLE1,wireless earbuds",
	})

	destDir := t.TempDir()
	path, err := ExtractZIPSingle(zipPath, destDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "jobs.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "B0EXAMPLE1,wireless earbuds", string(data))
}

func TestExtractZIPSingle_NestedEntry(t *testing.T) {
	zipPath := writeZip(t, map[string]string{
		"export/":         "",
		"export/jobs.csv": "B0EXAMPLE1,usb hub",
	})

	destDir := t.TempDir()
	path, err := ExtractZIPSingle(zipPath, destDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "export", "jobs.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "B0EXAMPLE1,usb hub", string(data))
}

func TestExtractZIPSingle_MultipleFiles(t *testing.T) {
	zipPath := writeZip(t, map[string]string{
		"a.csv": "aaa",
		"b.csv": "bbb",
	})

	_, err := ExtractZIPSingle(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected exactly 1 file")
}

func TestExtractZIPSingle_EmptyArchive(t *testing.T) {
	zipPath := writeZip(t, nil)

	_, err := ExtractZIPSingle(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 0")
}

func TestExtractZIPSingle_ZipSlipPrevention(t *testing.T) {
	zipPath := writeZip(t, map[string]string{
		"../../../etc/passwd": "malicious",
	})

	_, err := ExtractZIPSingle(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip slip")
}

func TestExtractZIPSingle_InvalidArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notazip.zip")
	require.NoError(t, os.WriteFile(path, []byte("this is not a zip"), 0o644))

	_, err := ExtractZIPSingle(path, t.TempDir())
	require.Error(t, err)
}
