package fsio

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"go.uber.org/zap"
)

const (
	tempMarker   = ".tmp_"
	backupMarker = ".bak_"
)

// Files performs atomic file operations over a Backend.
type Files struct {
	backend  Backend
	logger   *zap.Logger
	indent   int
	fileMode fs.FileMode
	dirMode  fs.FileMode
}

// Option configures Files.
type Option func(*Files)

// WithBackend substitutes the filesystem implementation.
func WithBackend(b Backend) Option {
	return func(f *Files) { f.backend = b }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Files) { f.logger = l }
}

// WithIndent sets the JSON indent width for WriteJSON.
// Zero produces compact output with no added whitespace.
func WithIndent(n int) Option {
	return func(f *Files) { f.indent = n }
}

// WithFileMode sets permissions for created files.
func WithFileMode(m fs.FileMode) Option {
	return func(f *Files) { f.fileMode = m }
}

// WithDirMode sets permissions for created directories.
func WithDirMode(m fs.FileMode) Option {
	return func(f *Files) { f.dirMode = m }
}

// New creates a Files instance. Without options it uses the real
// filesystem, two-space JSON indentation, and owner-only permissions.
func New(opts ...Option) *Files {
	f := &Files{
		backend:  OS(),
		logger:   zap.NewNop(),
		indent:   2,
		fileMode: 0600,
		dirMode:  0700,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Backend returns the filesystem implementation in use.
func (f *Files) Backend() Backend { return f.backend }

// WriteAtomic writes data to path so that concurrent readers observe either
// the previous content or the new content, never a truncated mix. The data
// lands in a unique sibling temp file first and is renamed onto path; the
// temp file is removed if either step fails.
func (f *Files) WriteAtomic(path string, data []byte) error {
	if path == "" {
		return &InvalidArgumentError{Op: "write", Reason: "empty path"}
	}
	if data == nil {
		return &InvalidArgumentError{Op: "write", Reason: "nil content"}
	}

	tmp := NewTempPath(path)
	if err := f.backend.WriteFile(tmp, data, f.fileMode); err != nil {
		f.removeQuietly(tmp)
		return &IOError{Op: "write", Path: tmp, Err: err}
	}
	if err := f.backend.Rename(tmp, path); err != nil {
		f.removeQuietly(tmp)
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// WriteJSON marshals v with the configured indentation and writes it
// atomically to path.
func (f *Files) WriteJSON(path string, v any) error {
	if v == nil {
		return &InvalidArgumentError{Op: "write", Reason: "nil record"}
	}
	data, err := f.Marshal(v)
	if err != nil {
		return &InvalidArgumentError{Op: "write", Reason: fmt.Sprintf("unserializable record: %v", err)}
	}
	return f.WriteAtomic(path, data)
}

// Marshal serializes v using the configured indent width.
func (f *Files) Marshal(v any) ([]byte, error) {
	if f.indent <= 0 {
		return json.Marshal(v)
	}
	return json.MarshalIndent(v, "", strings.Repeat(" ", f.indent))
}

// Read returns the content of path. A missing file yields ErrNotFound so
// callers can distinguish "no record yet" from real I/O failures.
func (f *Files) Read(path string) ([]byte, error) {
	if path == "" {
		return nil, &InvalidArgumentError{Op: "read", Reason: "empty path"}
	}
	data, err := f.backend.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}

// Exists reports whether path exists.
func (f *Files) Exists(path string) (bool, error) {
	_, err := f.backend.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, &IOError{Op: "stat", Path: path, Err: err}
}

// Copy duplicates src to dst. Not atomic on its own; callers that need
// atomicity write to a private path and Rename.
func (f *Files) Copy(src, dst string) error {
	data, err := f.backend.ReadFile(src)
	if err != nil {
		return &IOError{Op: "copy", Path: src, Err: err}
	}
	if err := f.backend.WriteFile(dst, data, f.fileMode); err != nil {
		return &IOError{Op: "copy", Path: dst, Err: err}
	}
	return nil
}

// Delete removes path.
func (f *Files) Delete(path string) error {
	if err := f.backend.Remove(path); err != nil {
		return &IOError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

// Rename moves oldpath onto newpath. Within one filesystem this is the
// atomicity boundary: readers of newpath see old or new content, never both.
func (f *Files) Rename(oldpath, newpath string) error {
	if err := f.backend.Rename(oldpath, newpath); err != nil {
		return &IOError{Op: "rename", Path: newpath, Err: err}
	}
	return nil
}

// MkdirAll creates the directory and any missing parents.
func (f *Files) MkdirAll(path string) error {
	if err := f.backend.MkdirAll(path, f.dirMode); err != nil {
		return &IOError{Op: "mkdir", Path: path, Err: err}
	}
	return nil
}

func (f *Files) removeQuietly(path string) {
	if err := f.backend.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		f.logger.Warn("leftover temp file not removed",
			zap.String("path", path),
			zap.Error(err))
	}
}

// NewTempPath returns a unique sibling temp path for target. Uniqueness per
// call keeps concurrently staged writes to the same target from colliding.
func NewTempPath(target string) string {
	return target + tempMarker + randomSuffix()
}

// NewBackupPath returns a unique sibling backup path for target.
func NewBackupPath(target string) string {
	return target + backupMarker + randomSuffix()
}

// IsArtifact reports whether name is a staged temp or backup file.
func IsArtifact(name string) bool {
	return strings.Contains(name, tempMarker) || strings.Contains(name, backupMarker)
}

// randomSuffix generates a random suffix for temp and backup files.
func randomSuffix() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
