package fsio

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that a file does not exist. Callers treat this as an
// expected outcome ("no record yet"), not a failure.
var ErrNotFound = errors.New("file not found")

// InvalidArgumentError reports a bad argument rejected before any I/O.
type InvalidArgumentError struct {
	Op     string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s: invalid argument: %s", e.Op, e.Reason)
}

// IOError wraps a filesystem failure with the operation and path involved.
// The underlying error stays reachable through Unwrap so callers can still
// classify it (errors.Is(err, fs.ErrNotExist), syscall.ENOSPC, ...).
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
