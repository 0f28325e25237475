package txn

import (
	"context"
	"sync"
)

// State is a transaction's lifecycle state.
type State string

const (
	// StateOpen accepts staged operations.
	StateOpen State = "open"
	// StateCommitted is terminal; every staged write is visible.
	StateCommitted State = "committed"
	// StateRolledBack is terminal; no staged write is visible.
	StateRolledBack State = "rolled_back"
	// StateFailed marks a transaction whose rollback could not complete.
	// Target files may be inconsistent and need manual inspection.
	StateFailed State = "failed"
)

// ValidateFunc is a caller-supplied invariant check evaluated during commit,
// before any write is applied. Returning (false, nil) fails the transaction
// with the staged reason; returning an error fails it with the hook's own
// error. Hooks must be side-effect-free and may block on ctx.
type ValidateFunc func(ctx context.Context, payload any) (bool, error)

// Transaction is an in-memory staging object. It is created by
// Coordinator.Begin, mutated only while open, and consumed exactly once by
// Commit or Rollback. Methods are safe for concurrent use, but operations
// within one transaction are applied strictly in staging order.
type Transaction struct {
	id string

	mu    sync.Mutex
	state State
	ops   []operation
}

// ID returns the transaction's unique identifier.
func (t *Transaction) ID() string { return t.id }

// State returns the current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// StagedOps returns the number of staged operations (writes and validations).
func (t *Transaction) StagedOps() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}

// writeTargets returns the target paths of all staged writes, in staging order.
// Caller holds t.mu.
func (t *Transaction) writeTargets() []string {
	var targets []string
	for _, op := range t.ops {
		if w, ok := op.(*writeOp); ok {
			targets = append(targets, w.targetPath)
		}
	}
	return targets
}

// operation is a staged effect: a file write or a validation hook.
// Staging order is commit order; rollback restores in reverse.
type operation interface {
	isOperation()
}

// writeOp stages one file write. tempPath already holds the fully serialized
// new content; backupPath holds a snapshot of the prior target content when
// hasPrior is true. The backup is captured before any mutation of the target
// and is only ever restored or discarded, never modified.
type writeOp struct {
	projectID  string
	fileName   string
	targetPath string
	tempPath   string
	backupPath string
	hasPrior   bool
	applied    bool
}

func (*writeOp) isOperation() {}

// validationOp stages one invariant check. No I/O at stage time.
type validationOp struct {
	payload  any
	validate ValidateFunc
	reason   string
}

func (*validationOp) isOperation() {}
