package txn

import (
	"context"
	"errors"
	"io/fs"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskvault/pkg/fsio"
	"github.com/fyrsmithlabs/taskvault/pkg/store"
)

const instrumentationName = "github.com/fyrsmithlabs/taskvault/pkg/txn"

// Coordinator orchestrates transactions against a project store.
type Coordinator struct {
	store  *store.Store
	files  *fsio.Files
	logger *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	commitCounter   metric.Int64Counter
	rollbackCounter metric.Int64Counter

	serializePaths bool
	locks          *pathLocks
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPathSerialization makes commits touching the same target path run one
// at a time. Off by default: without it, same-path commits race
// last-writer-wins at the rename boundary.
func WithPathSerialization() Option {
	return func(c *Coordinator) { c.serializePaths = true }
}

// NewCoordinator creates a Coordinator over st. logger may be nil.
func NewCoordinator(st *store.Store, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		store:  st,
		files:  st.Files(),
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
		locks:  newPathLocks(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.initMetrics()

	return c, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (c *Coordinator) initMetrics() {
	var err error

	c.commitCounter, err = c.meter.Int64Counter(
		"taskvault.txn.commits_total",
		metric.WithDescription("Total number of transaction commit attempts"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		c.logger.Warn("failed to create commit counter", zap.Error(err))
	}

	c.rollbackCounter, err = c.meter.Int64Counter(
		"taskvault.txn.rollbacks_total",
		metric.WithDescription("Total number of transaction rollbacks"),
		metric.WithUnit("{rollback}"),
	)
	if err != nil {
		c.logger.Warn("failed to create rollback counter", zap.Error(err))
	}
}

// Begin starts a new open transaction with no staged operations.
func (c *Coordinator) Begin(ctx context.Context) *Transaction {
	tx := &Transaction{
		id:    uuid.New().String(),
		state: StateOpen,
	}
	c.logger.Debug("transaction begun", zap.String("tx_id", tx.id))
	return tx
}

// StageWrite records an intent to write v as the project's named record.
// The serialized payload lands in a fresh temp file immediately (durable
// before commit), and the target's current content, if any, is snapshotted
// to a backup before this transaction ever mutates it. A failure here aborts
// only this call: the transaction stays open with its previously staged
// operations, and the caller may retry, stage more, or Rollback.
func (c *Coordinator) StageWrite(ctx context.Context, tx *Transaction, projectID, fileName string, v any) error {
	ctx, span := c.tracer.Start(ctx, "txn.stage_write")
	defer span.End()

	span.SetAttributes(
		attribute.String("tx_id", tx.ID()),
		attribute.String("project_id", projectID),
		attribute.String("file", fileName),
	)

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != StateOpen {
		return &StateError{TxID: tx.id, State: tx.state, Op: "stage write"}
	}

	targetPath, err := c.store.Resolve(projectID, fileName)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if v == nil {
		return &fsio.InvalidArgumentError{Op: "stage write", Reason: "nil record"}
	}

	if err := c.files.MkdirAll(c.store.DirFor(projectID)); err != nil {
		span.RecordError(err)
		return err
	}

	// The temp file's own creation is atomic, but it is not yet linked to
	// the target path.
	tempPath := fsio.NewTempPath(targetPath)
	if err := c.files.WriteJSON(tempPath, v); err != nil {
		span.RecordError(err)
		return err
	}

	op := &writeOp{
		projectID:  projectID,
		fileName:   fileName,
		targetPath: targetPath,
		tempPath:   tempPath,
	}

	exists, err := c.files.Exists(targetPath)
	if err != nil {
		c.discard(tempPath)
		span.RecordError(err)
		return err
	}
	if exists {
		backupPath := fsio.NewBackupPath(targetPath)
		if err := c.files.Copy(targetPath, backupPath); err != nil {
			// A failed copy can still leave a partial backup file behind.
			c.discard(tempPath)
			c.discard(backupPath)
			span.RecordError(err)
			return err
		}
		op.backupPath = backupPath
		op.hasPrior = true
	}

	tx.ops = append(tx.ops, op)

	c.logger.Debug("staged write",
		zap.String("tx_id", tx.id),
		zap.String("project_id", projectID),
		zap.String("file", fileName),
		zap.Bool("has_prior", op.hasPrior))
	return nil
}

// StageValidation records an invariant check to run at commit, before any
// write is applied. reason appears in the failure message when the hook
// returns false. No I/O happens at stage time.
func (c *Coordinator) StageValidation(tx *Transaction, payload any, validate ValidateFunc, reason string) error {
	if validate == nil {
		return &fsio.InvalidArgumentError{Op: "stage validation", Reason: "nil validate func"}
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != StateOpen {
		return &StateError{TxID: tx.id, State: tx.state, Op: "stage validation"}
	}

	tx.ops = append(tx.ops, &validationOp{
		payload:  payload,
		validate: validate,
		reason:   reason,
	})
	return nil
}

// Commit applies the transaction all-or-nothing: validations run first in
// staging order, then each staged write is made visible by renaming its temp
// file onto the target. Backups are deleted only after every write has
// applied, since an applied write's backup may still be needed if a later
// write fails. On any failure the transaction rolls back before the error
// surfaces; if rollback itself fails, the returned error reflects the
// restoration failure with the original cause retained in its unwrap chain.
func (c *Coordinator) Commit(ctx context.Context, tx *Transaction) error {
	ctx, span := c.tracer.Start(ctx, "txn.commit")
	defer span.End()

	span.SetAttributes(attribute.String("tx_id", tx.ID()))

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != StateOpen {
		err := &StateError{TxID: tx.id, State: tx.state, Op: "commit"}
		span.RecordError(err)
		return err
	}

	if c.serializePaths {
		unlock := c.locks.lockAll(tx.writeTargets())
		defer unlock()
	}

	if err := c.runValidations(ctx, tx); err != nil {
		return c.failCommit(ctx, span, tx, err)
	}

	applied := 0
	for _, op := range tx.ops {
		w, ok := op.(*writeOp)
		if !ok {
			continue
		}
		if err := c.files.Rename(w.tempPath, w.targetPath); err != nil {
			return c.failCommit(ctx, span, tx, err)
		}
		w.applied = true
		applied++
	}

	// Every write is visible; the backups have no further use.
	for _, op := range tx.ops {
		if w, ok := op.(*writeOp); ok && w.backupPath != "" {
			c.discard(w.backupPath)
			w.backupPath = ""
		}
	}

	tx.state = StateCommitted
	c.addCommit(ctx, string(StateCommitted))
	c.logger.Info("transaction committed",
		zap.String("tx_id", tx.id),
		zap.Int("writes", applied))
	return nil
}

// Rollback abandons an open transaction, restoring any applied writes and
// discarding staged artifacts.
func (c *Coordinator) Rollback(ctx context.Context, tx *Transaction) error {
	ctx, span := c.tracer.Start(ctx, "txn.rollback")
	defer span.End()

	span.SetAttributes(attribute.String("tx_id", tx.ID()))

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != StateOpen {
		err := &StateError{TxID: tx.id, State: tx.state, Op: "rollback"}
		span.RecordError(err)
		return err
	}

	if err := c.restore(tx); err != nil {
		tx.state = StateFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.addRollback(ctx, string(StateFailed))
		return &RollbackError{Err: err}
	}

	tx.state = StateRolledBack
	c.addRollback(ctx, string(StateRolledBack))
	c.logger.Info("transaction rolled back", zap.String("tx_id", tx.id))
	return nil
}

// runValidations evaluates staged hooks in staging order, stopping at the
// first failure.
func (c *Coordinator) runValidations(ctx context.Context, tx *Transaction) error {
	for _, op := range tx.ops {
		v, ok := op.(*validationOp)
		if !ok {
			continue
		}
		passed, err := v.validate(ctx, v.payload)
		if err != nil {
			return &HookError{Reason: v.reason, Err: err}
		}
		if !passed {
			return &ValidationError{Reason: v.reason}
		}
	}
	return nil
}

// failCommit rolls the transaction back and decides which error surfaces:
// the original cause after a clean rollback, or the restoration failure
// (with the cause chained) when rollback itself breaks. Caller holds tx.mu.
func (c *Coordinator) failCommit(ctx context.Context, span trace.Span, tx *Transaction, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	if rbErr := c.restore(tx); rbErr != nil {
		tx.state = StateFailed
		c.addCommit(ctx, string(StateFailed))
		c.logger.Error("rollback failed after commit failure; files need manual inspection",
			zap.String("tx_id", tx.id),
			zap.NamedError("commit_error", cause),
			zap.NamedError("rollback_error", rbErr))
		return &RollbackError{Err: rbErr, Cause: cause}
	}

	tx.state = StateRolledBack
	c.addCommit(ctx, string(StateRolledBack))
	c.logger.Warn("transaction rolled back",
		zap.String("tx_id", tx.id),
		zap.Error(cause))
	return cause
}

// restore undoes staged writes: applied ops are reverted from their backups
// (or deleted when no prior file existed) in reverse application order;
// never-applied ops just drop their artifacts. The first restoration failure
// aborts immediately, leaving remaining operations un-restored. Caller holds
// tx.mu.
func (c *Coordinator) restore(tx *Transaction) error {
	for i := len(tx.ops) - 1; i >= 0; i-- {
		w, ok := tx.ops[i].(*writeOp)
		if !ok {
			continue
		}
		if w.applied {
			if w.hasPrior {
				if err := c.files.Rename(w.backupPath, w.targetPath); err != nil {
					return err
				}
				w.backupPath = ""
			} else {
				if err := c.files.Delete(w.targetPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			w.applied = false
		} else {
			c.discard(w.tempPath)
			if w.backupPath != "" {
				c.discard(w.backupPath)
				w.backupPath = ""
			}
		}
	}
	return nil
}

// discard deletes a staged artifact, tolerating its absence.
func (c *Coordinator) discard(path string) {
	if path == "" {
		return
	}
	if err := c.files.Delete(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("staged artifact not removed",
			zap.String("path", path),
			zap.Error(err))
	}
}

func (c *Coordinator) addCommit(ctx context.Context, status string) {
	if c.commitCounter != nil {
		c.commitCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (c *Coordinator) addRollback(ctx context.Context, status string) {
	if c.rollbackCounter != nil {
		c.rollbackCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", status),
		))
	}
}
