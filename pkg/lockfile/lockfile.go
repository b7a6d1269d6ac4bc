// Package lockfile reads and writes the persisted restore result.
//
// The lock file records, per restored target (framework, or
// framework/runtime), every accepted library with its dependencies, plus the
// content hash and file list of each library:
//
//	{
//	  "version": 1,
//	  "targets": {
//	    "net8.0": {
//	      "Sample/1.0.0": {"type": "package", "dependencies": {"Base": ">=1.0.0"}}
//	    }
//	  },
//	  "libraries": {
//	    "Sample/1.0.0": {"type": "package", "sha512": "...", "files": ["lib/net/sample.dll"]}
//	  }
//	}
//
// Downstream build tooling consumes it; restore never reads it back to make
// decisions.
package lockfile

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/matzehuels/pkgrestore/pkg/errors"
)

// FileName is the default lock file name, written beside the project file.
const FileName = "project.lock.json"

// FormatVersion is the schema version written by this package.
const FormatVersion = 1

// LockFile is the persisted restore result.
type LockFile struct {
	Version   int                `json:"version"`
	Targets   map[string]Target  `json:"targets"`
	Libraries map[string]Library `json:"libraries"`
}

// Target maps "name/version" to the library's entry for one target.
type Target map[string]TargetLibrary

// TargetLibrary is a library as seen by one target.
type TargetLibrary struct {
	Type         string            `json:"type"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Library is the target-independent record of a library.
type Library struct {
	Type   string   `json:"type"`
	SHA512 string   `json:"sha512,omitempty"`
	Files  []string `json:"files,omitempty"`
}

// New returns an empty lock file.
func New() *LockFile {
	return &LockFile{Version: FormatVersion, Targets: map[string]Target{}, Libraries: map[string]Library{}}
}

// Key returns the "name/version" key used in targets and libraries.
func Key(name, version string) string {
	return name + "/" + version
}

// Marshal encodes lf as indented JSON. Map keys are sorted, so equal lock
// files encode identically.
func (lf *LockFile) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "encode lock file")
	}
	return append(data, '\n'), nil
}

// Parse decodes a lock file.
func Parse(data []byte) (*LockFile, error) {
	lf := New()
	if err := json.Unmarshal(data, lf); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "decode lock file")
	}
	if lf.Version != FormatVersion {
		return nil, errors.New(errors.ErrCodeInvalidFormat, "unsupported lock file version %d", lf.Version)
	}
	return lf, nil
}

// Read loads the lock file at path.
func Read(path string) (*LockFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "read %s", path)
	}
	return Parse(data)
}

// Write stores lf at path through a temp file and rename.
func (lf *LockFile) Write(path string) error {
	data, err := lf.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "create %s", filepath.Dir(path))
	}
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.ErrCodeInternal, err, "rename %s", tmp)
	}
	return nil
}
