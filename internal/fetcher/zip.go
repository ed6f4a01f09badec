package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// ExtractZIPSingle unpacks a zipped job list into destDir and returns the
// extracted path. The archive must hold exactly one file; directory entries
// are ignored.
func ExtractZIPSingle(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var entry *zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if entry != nil {
			return "", eris.Errorf("zip: expected exactly 1 file, got %d", countFiles(r.File))
		}
		entry = f
	}
	if entry == nil {
		return "", eris.New("zip: expected exactly 1 file, got 0")
	}

	name := filepath.FromSlash(entry.Name)
	if !filepath.IsLocal(name) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", entry.Name)
	}
	dest := filepath.Join(destDir, name)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	src, err := entry.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer src.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close() //nolint:errcheck
		return "", eris.Wrap(err, "zip: write file")
	}
	if err := out.Close(); err != nil {
		return "", eris.Wrap(err, "zip: close file")
	}
	return dest, nil
}

func countFiles(entries []*zip.File) int {
	n := 0
	for _, f := range entries {
		if !f.FileInfo().IsDir() {
			n++
		}
	}
	return n
}
