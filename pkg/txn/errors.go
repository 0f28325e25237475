package txn

import "fmt"

// StateError reports Commit, Rollback, or staging called on a transaction
// that is not open. This is caller misuse, not a runtime I/O condition.
type StateError struct {
	TxID  string
	State State
	Op    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("transaction %s is %s: cannot %s", e.TxID, e.State, e.Op)
}

// ValidationError reports a staged validation hook that returned false.
// The message carries the caller-supplied reason.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Transaction validation failed: %s", e.Reason)
}

// HookError reports a staged validation hook that itself failed. The message
// is the hook's own error text, not rewritten, so callers see the true cause.
type HookError struct {
	Reason string
	Err    error
}

func (e *HookError) Error() string { return e.Err.Error() }

func (e *HookError) Unwrap() error { return e.Err }

// RollbackError reports a restoration step that failed during rollback,
// leaving remaining operations un-restored. When rollback ran because a
// commit failed, Cause retains that original failure; the surfaced message is
// the restoration failure's. Target files may be in a documented
// inconsistent state requiring manual inspection.
type RollbackError struct {
	Err   error // the failed restoration step
	Cause error // the commit failure that triggered rollback, if any
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback failed: %v", e.Err)
}

// Unwrap exposes both the restoration failure and the original commit
// failure to errors.Is/As.
func (e *RollbackError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}
