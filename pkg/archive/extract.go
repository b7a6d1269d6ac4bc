package archive

import (
	"archive/zip"
	"crypto/sha512"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/matzehuels/pkgrestore/pkg/errors"
)

// Extract unpacks the archive at archivePath into dir and returns the
// extracted file names (slash-separated, sorted). Existing files are
// overwritten. Entries that would escape dir are rejected. Entries for which
// skip returns true are left out; skip may be nil.
func Extract(archivePath, dir string, skip func(name string) bool) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExtractFailed, err, "open %s", filepath.Base(archivePath))
	}
	defer zr.Close()

	var files []string
	for _, f := range zr.File {
		if err := errors.ValidatePath(f.Name); err != nil {
			return nil, errors.Wrap(errors.ErrCodeExtractFailed, err, "entry %q", f.Name)
		}
		if skip != nil && skip(f.Name) {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(f.Name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, errors.Wrap(errors.ErrCodeExtractFailed, err, "create %s", f.Name)
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return nil, errors.Wrap(errors.ErrCodeExtractFailed, err, "extract %s", f.Name)
		}
		files = append(files, f.Name)
	}
	sort.Strings(files)
	return files, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Hash returns the base64-encoded SHA-512 of the file at path.
func Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader returns the base64-encoded SHA-512 of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := sha512.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
