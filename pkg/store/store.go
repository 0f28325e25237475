package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskvault/pkg/fsio"
)

// Common errors.
var (
	ErrEmptyProjectID = errors.New("project ID cannot be empty")
	ErrEmptyFileName  = errors.New("file name cannot be empty")
	ErrUnsafeName     = errors.New("name must not contain path separators or traversal")
)

// Store resolves project-scoped paths and persists JSON records.
type Store struct {
	root   string
	files  *fsio.Files
	logger *zap.Logger
}

// New creates a Store rooted at root. files defaults to fsio.New() and
// logger to a no-op logger.
func New(root string, files *fsio.Files, logger *zap.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("storage root is required")
	}
	if strings.Contains(filepath.Clean(root), "..") {
		return nil, fmt.Errorf("storage root contains directory traversal: %s", root)
	}
	if files == nil {
		files = fsio.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		root:   filepath.Clean(root),
		files:  files,
		logger: logger,
	}, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string { return s.root }

// Files returns the underlying atomic file layer.
func (s *Store) Files() *fsio.Files { return s.files }

// DirFor returns the directory for a project. Pure path mapping, no I/O.
func (s *Store) DirFor(projectID string) string {
	return filepath.Join(s.root, projectID)
}

// PathFor returns the path of a named record within a project.
func (s *Store) PathFor(projectID, fileName string) string {
	return filepath.Join(s.root, projectID, fileName)
}

// Resolve validates the project and file names and returns the record path.
func (s *Store) Resolve(projectID, fileName string) (string, error) {
	if projectID == "" {
		return "", ErrEmptyProjectID
	}
	if fileName == "" {
		return "", ErrEmptyFileName
	}
	for _, name := range []string{projectID, fileName} {
		if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
			return "", fmt.Errorf("%w: %q", ErrUnsafeName, name)
		}
	}
	return s.PathFor(projectID, fileName), nil
}

// Save persists v as the project's named record. The project directory is
// created on demand, then the record is written atomically. Single-file
// atomicity only; use txn.Coordinator for multi-file writes.
func (s *Store) Save(ctx context.Context, projectID, fileName string, v any) error {
	path, err := s.Resolve(projectID, fileName)
	if err != nil {
		return err
	}
	if err := s.files.MkdirAll(s.DirFor(projectID)); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}
	if err := s.files.WriteJSON(path, v); err != nil {
		return err
	}

	s.logger.Debug("saved record",
		zap.String("project_id", projectID),
		zap.String("file", fileName))
	return nil
}

// Load reads the project's named record into out. Returns false with a nil
// error when the record does not exist, so callers can probe cheaply for
// absence. Any other read error propagates with its classification intact.
func (s *Store) Load(ctx context.Context, projectID, fileName string, out any) (bool, error) {
	data, err := s.LoadRaw(ctx, projectID, fileName)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode record %s/%s: %w", projectID, fileName, err)
	}
	return true, nil
}

// LoadRaw reads the record's bytes, or nil when it does not exist.
func (s *Store) LoadRaw(ctx context.Context, projectID, fileName string) ([]byte, error) {
	path, err := s.Resolve(projectID, fileName)
	if err != nil {
		return nil, err
	}
	data, err := s.files.Read(path)
	if errors.Is(err, fsio.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Exists reports whether the project's named record exists.
func (s *Store) Exists(ctx context.Context, projectID, fileName string) (bool, error) {
	path, err := s.Resolve(projectID, fileName)
	if err != nil {
		return false, err
	}
	return s.files.Exists(path)
}

// Remove deletes the project's named record. Removing an absent record is
// not an error.
func (s *Store) Remove(ctx context.Context, projectID, fileName string) error {
	path, err := s.Resolve(projectID, fileName)
	if err != nil {
		return err
	}
	if err := s.files.Delete(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	s.logger.Debug("removed record",
		zap.String("project_id", projectID),
		zap.String("file", fileName))
	return nil
}
