package fsio

import "io/fs"

// FaultBackend wraps a Backend and lets tests fail specific operations by
// substituting hook functions. Nil hooks pass through to the wrapped Backend.
type FaultBackend struct {
	Wrapped Backend

	ReadFileFunc  func(path string) ([]byte, error)
	WriteFileFunc func(path string, data []byte, perm fs.FileMode) error
	RenameFunc    func(oldpath, newpath string) error
	RemoveFunc    func(path string) error
	StatFunc      func(path string) (fs.FileInfo, error)
	MkdirAllFunc  func(path string, perm fs.FileMode) error
}

// NewFaultBackend wraps b (the real filesystem when nil).
func NewFaultBackend(b Backend) *FaultBackend {
	if b == nil {
		b = OS()
	}
	return &FaultBackend{Wrapped: b}
}

func (f *FaultBackend) ReadFile(path string) ([]byte, error) {
	if f.ReadFileFunc != nil {
		return f.ReadFileFunc(path)
	}
	return f.Wrapped.ReadFile(path)
}

func (f *FaultBackend) WriteFile(path string, data []byte, perm fs.FileMode) error {
	if f.WriteFileFunc != nil {
		return f.WriteFileFunc(path, data, perm)
	}
	return f.Wrapped.WriteFile(path, data, perm)
}

func (f *FaultBackend) Rename(oldpath, newpath string) error {
	if f.RenameFunc != nil {
		return f.RenameFunc(oldpath, newpath)
	}
	return f.Wrapped.Rename(oldpath, newpath)
}

func (f *FaultBackend) Remove(path string) error {
	if f.RemoveFunc != nil {
		return f.RemoveFunc(path)
	}
	return f.Wrapped.Remove(path)
}

func (f *FaultBackend) Stat(path string) (fs.FileInfo, error) {
	if f.StatFunc != nil {
		return f.StatFunc(path)
	}
	return f.Wrapped.Stat(path)
}

func (f *FaultBackend) MkdirAll(path string, perm fs.FileMode) error {
	if f.MkdirAllFunc != nil {
		return f.MkdirAllFunc(path, perm)
	}
	return f.Wrapped.MkdirAll(path, perm)
}
