package fsio

import (
	"io/fs"
	"os"
)

// Backend abstracts the filesystem calls the engine performs.
//
// Production code uses OS(). Tests substitute an implementation to inject
// faults at specific operations (see FaultBackend).
type Backend interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm fs.FileMode) error
	Rename(oldpath, newpath string) error
	Remove(path string) error
	Stat(path string) (fs.FileInfo, error)
	MkdirAll(path string, perm fs.FileMode) error
}

type osBackend struct{}

// OS returns the Backend backed by the real filesystem.
func OS() Backend { return osBackend{} }

func (osBackend) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (osBackend) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (osBackend) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

func (osBackend) Remove(path string) error { return os.Remove(path) }

func (osBackend) Stat(path string) (fs.FileInfo, error) { return os.Stat(path) }

func (osBackend) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }
