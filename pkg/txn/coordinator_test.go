package txn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskvault/pkg/fsio"
	"github.com/fyrsmithlabs/taskvault/pkg/store"
)

func newTestCoordinator(t *testing.T, backend fsio.Backend, opts ...Option) (*Coordinator, *store.Store) {
	t.Helper()

	fileOpts := []fsio.Option{}
	if backend != nil {
		fileOpts = append(fileOpts, fsio.WithBackend(backend))
	}
	st, err := store.New(t.TempDir(), fsio.New(fileOpts...), zap.NewNop())
	require.NoError(t, err)

	coord, err := NewCoordinator(st, zap.NewNop(), opts...)
	require.NoError(t, err)
	return coord, st
}

// loadValue reads projectID/fileName as a map, or returns found=false.
func loadValue(t *testing.T, st *store.Store, projectID, fileName string) (map[string]any, bool) {
	t.Helper()
	var got map[string]any
	found, err := st.Load(context.Background(), projectID, fileName, &got)
	require.NoError(t, err)
	return got, found
}

// requireNoArtifacts asserts no .tmp_* or .bak_* files remain anywhere under
// the storage root.
func requireNoArtifacts(t *testing.T, st *store.Store) {
	t.Helper()
	err := filepath.WalkDir(st.Root(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && fsio.IsArtifact(d.Name()) {
			t.Errorf("leftover transaction artifact: %s", path)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestNewCoordinator_RequiresStore(t *testing.T) {
	_, err := NewCoordinator(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")
}

func TestBegin(t *testing.T) {
	coord, _ := newTestCoordinator(t, nil)

	tx := coord.Begin(context.Background())
	assert.NotEmpty(t, tx.ID())
	assert.Equal(t, StateOpen, tx.State())
	assert.Zero(t, tx.StagedOps())

	tx2 := coord.Begin(context.Background())
	assert.NotEqual(t, tx.ID(), tx2.ID())
}

func TestCommit_SingleWrite(t *testing.T) {
	coord, st := newTestCoordinator(t, nil)
	ctx := context.Background()

	tx := coord.Begin(ctx)
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "a.json", map[string]int{"v": 1}))
	require.NoError(t, coord.Commit(ctx, tx))

	assert.Equal(t, StateCommitted, tx.State())
	got, found := loadValue(t, st, "p1", "a.json")
	require.True(t, found)
	assert.Equal(t, float64(1), got["v"])
	requireNoArtifacts(t, st)
}

func TestCommit_MultipleWritesInStagingOrder(t *testing.T) {
	coord, st := newTestCoordinator(t, nil)
	ctx := context.Background()

	tx := coord.Begin(ctx)
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "a.json", map[string]int{"v": 1}))
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "a.json", map[string]int{"v": 2}))
	require.NoError(t, coord.Commit(ctx, tx))

	got, found := loadValue(t, st, "p1", "a.json")
	require.True(t, found)
	assert.Equal(t, float64(2), got["v"], "later staged write wins")
	requireNoArtifacts(t, st)
}

func TestCommit_AllOrNothing(t *testing.T) {
	backend := fsio.NewFaultBackend(nil)
	coord, st := newTestCoordinator(t, backend)
	ctx := context.Background()

	// Pre-transaction state: a.json exists, c.json exists, b.json does not.
	require.NoError(t, st.Save(ctx, "p1", "a.json", map[string]int{"v": 1}))
	require.NoError(t, st.Save(ctx, "p1", "c.json", map[string]int{"v": 3}))

	targetB := st.PathFor("p1", "b.json")
	backend.RenameFunc = func(oldpath, newpath string) error {
		if newpath == targetB {
			return errors.New("injected rename failure")
		}
		return backend.Wrapped.Rename(oldpath, newpath)
	}

	tx := coord.Begin(ctx)
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "a.json", map[string]int{"v": 10}))
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "b.json", map[string]int{"v": 20}))
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "c.json", map[string]int{"v": 30}))

	err := coord.Commit(ctx, tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "injected rename failure")
	assert.Equal(t, StateRolledBack, tx.State())

	got, found := loadValue(t, st, "p1", "a.json")
	require.True(t, found)
	assert.Equal(t, float64(1), got["v"], "a.json reverted to pre-transaction value")

	_, found = loadValue(t, st, "p1", "b.json")
	assert.False(t, found, "b.json did not exist before the transaction")

	got, found = loadValue(t, st, "p1", "c.json")
	require.True(t, found)
	assert.Equal(t, float64(3), got["v"], "c.json reverted to pre-transaction value")

	requireNoArtifacts(t, st)
}

func TestCommit_ValidationGating(t *testing.T) {
	coord, st := newTestCoordinator(t, nil)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, "p1", "a.json", map[string]int{"v": 1}))

	tx := coord.Begin(ctx)
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "a.json", map[string]int{"v": 2}))
	require.NoError(t, coord.StageValidation(tx, 2, func(ctx context.Context, payload any) (bool, error) {
		return false, nil
	}, "task count must stay below quota"))

	err := coord.Commit(ctx, tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Transaction validation failed")
	assert.Contains(t, err.Error(), "task count must stay below quota")

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, StateRolledBack, tx.State())

	got, found := loadValue(t, st, "p1", "a.json")
	require.True(t, found)
	assert.Equal(t, float64(1), got["v"], "staged write rolled back")
	requireNoArtifacts(t, st)
}

func TestCommit_ValidatorCrashPassthrough(t *testing.T) {
	coord, st := newTestCoordinator(t, nil)
	ctx := context.Background()

	tx := coord.Begin(ctx)
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "a.json", map[string]int{"v": 1}))
	require.NoError(t, coord.StageValidation(tx, nil, func(ctx context.Context, payload any) (bool, error) {
		return false, errors.New("boom")
	}, "never used"))

	err := coord.Commit(ctx, tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.NotContains(t, err.Error(), "Transaction validation failed",
		"hook errors surface their own message, not the generic text")

	var hErr *HookError
	require.ErrorAs(t, err, &hErr)
	assert.Equal(t, StateRolledBack, tx.State())

	_, found := loadValue(t, st, "p1", "a.json")
	assert.False(t, found, "write rolled back")
	requireNoArtifacts(t, st)
}

func TestCommit_ValidationsRunInStagingOrderAndStopAtFirstFailure(t *testing.T) {
	coord, _ := newTestCoordinator(t, nil)
	ctx := context.Background()

	var calls []string
	record := func(name string, pass bool) ValidateFunc {
		return func(ctx context.Context, payload any) (bool, error) {
			calls = append(calls, name)
			return pass, nil
		}
	}

	tx := coord.Begin(ctx)
	require.NoError(t, coord.StageValidation(tx, nil, record("first", true), "first"))
	require.NoError(t, coord.StageValidation(tx, nil, record("second", false), "second"))
	require.NoError(t, coord.StageValidation(tx, nil, record("third", true), "third"))

	err := coord.Commit(ctx, tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second")
	assert.Equal(t, []string{"first", "second"}, calls, "stops at first failing validation")
}

func TestCommit_ValidationReceivesPayload(t *testing.T) {
	coord, st := newTestCoordinator(t, nil)
	ctx := context.Background()

	var seen any
	tx := coord.Begin(ctx)
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "a.json", map[string]int{"v": 1}))
	require.NoError(t, coord.StageValidation(tx, map[string]string{"id": "t-42"},
		func(ctx context.Context, payload any) (bool, error) {
			seen = payload
			return true, nil
		}, "payload check"))

	require.NoError(t, coord.Commit(ctx, tx))
	assert.Equal(t, map[string]string{"id": "t-42"}, seen)
	requireNoArtifacts(t, st)
}

func TestCommit_ConcreteVersionScenario(t *testing.T) {
	backend := fsio.NewFaultBackend(nil)
	coord, st := newTestCoordinator(t, backend)
	ctx := context.Background()

	tx := coord.Begin(ctx)
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "a.json", map[string]int{"v": 1}))
	require.NoError(t, coord.Commit(ctx, tx))

	got, found := loadValue(t, st, "p1", "a.json")
	require.True(t, found)
	require.Equal(t, float64(1), got["v"])

	target := st.PathFor("p1", "a.json")
	tx2 := coord.Begin(ctx)
	require.NoError(t, coord.StageWrite(ctx, tx2, "p1", "a.json", map[string]int{"v": 2}))

	backend.RenameFunc = func(oldpath, newpath string) error {
		if newpath == target && !strings.Contains(oldpath, ".bak_") {
			return errors.New("injected rename failure")
		}
		return backend.Wrapped.Rename(oldpath, newpath)
	}

	err := coord.Commit(ctx, tx2)
	require.Error(t, err)

	got, found = loadValue(t, st, "p1", "a.json")
	require.True(t, found)
	assert.Equal(t, float64(1), got["v"], "previous committed value survives")
	requireNoArtifacts(t, st)
}

func TestCommit_RollbackFailureSupersedesCommitFailure(t *testing.T) {
	backend := fsio.NewFaultBackend(nil)
	coord, st := newTestCoordinator(t, backend)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, "p1", "a.json", map[string]int{"v": 1}))
	require.NoError(t, st.Save(ctx, "p1", "b.json", map[string]int{"v": 2}))

	targetB := st.PathFor("p1", "b.json")
	commitFailure := errors.New("injected apply failure")
	restoreFailure := errors.New("injected restore failure")
	backend.RenameFunc = func(oldpath, newpath string) error {
		if newpath == targetB {
			return commitFailure
		}
		if strings.Contains(oldpath, ".bak_") {
			return restoreFailure
		}
		return backend.Wrapped.Rename(oldpath, newpath)
	}

	tx := coord.Begin(ctx)
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "a.json", map[string]int{"v": 9}))
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "b.json", map[string]int{"v": 9}))

	err := coord.Commit(ctx, tx)
	require.Error(t, err)

	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Contains(t, err.Error(), "rollback failed")
	assert.Contains(t, err.Error(), "injected restore failure",
		"the surfaced message reflects the restoration failure")
	assert.NotContains(t, err.Error(), "injected apply failure")

	assert.ErrorIs(t, err, restoreFailure)
	assert.ErrorIs(t, err, commitFailure, "original cause retrievable through the unwrap chain")
	assert.Equal(t, StateFailed, tx.State())
}

func TestStageWrite_FailureLeavesTransactionOpen(t *testing.T) {
	backend := fsio.NewFaultBackend(nil)
	coord, st := newTestCoordinator(t, backend)
	ctx := context.Background()

	tx := coord.Begin(ctx)
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "a.json", map[string]int{"v": 1}))

	backend.WriteFileFunc = func(path string, data []byte, perm os.FileMode) error {
		if strings.Contains(path, "b.json") {
			return errors.New("disk full")
		}
		return backend.Wrapped.WriteFile(path, data, perm)
	}

	err := coord.StageWrite(ctx, tx, "p1", "b.json", map[string]int{"v": 2})
	require.Error(t, err)
	assert.Equal(t, StateOpen, tx.State(), "a failed stage does not abort the transaction")
	assert.Equal(t, 1, tx.StagedOps(), "previously staged operations are untouched")

	// The caller may still commit what was staged successfully.
	backend.WriteFileFunc = nil
	require.NoError(t, coord.Commit(ctx, tx))

	got, found := loadValue(t, st, "p1", "a.json")
	require.True(t, found)
	assert.Equal(t, float64(1), got["v"])

	_, found = loadValue(t, st, "p1", "b.json")
	assert.False(t, found)
	requireNoArtifacts(t, st)
}

func TestStageWrite_BackupFailureCleansUpArtifacts(t *testing.T) {
	backend := fsio.NewFaultBackend(nil)
	coord, st := newTestCoordinator(t, backend)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, "p1", "a.json", map[string]int{"v": 1}))

	// The backup copy gets partially written before failing, the way a full
	// disk would leave it.
	backend.WriteFileFunc = func(path string, data []byte, perm os.FileMode) error {
		if strings.Contains(path, ".bak_") {
			_ = backend.Wrapped.WriteFile(path, data[:1], perm)
			return errors.New("no space left on device")
		}
		return backend.Wrapped.WriteFile(path, data, perm)
	}

	tx := coord.Begin(ctx)
	err := coord.StageWrite(ctx, tx, "p1", "a.json", map[string]int{"v": 2})
	require.Error(t, err)
	assert.Equal(t, StateOpen, tx.State())
	assert.Zero(t, tx.StagedOps(), "failed stage records no operation")
	requireNoArtifacts(t, st)

	backend.WriteFileFunc = nil
	require.NoError(t, coord.Rollback(ctx, tx))

	got, found := loadValue(t, st, "p1", "a.json")
	require.True(t, found)
	assert.Equal(t, float64(1), got["v"], "target untouched by the failed stage")
	requireNoArtifacts(t, st)
}

func TestRollback_Explicit(t *testing.T) {
	coord, st := newTestCoordinator(t, nil)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, "p1", "a.json", map[string]int{"v": 1}))

	tx := coord.Begin(ctx)
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "a.json", map[string]int{"v": 2}))
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "new.json", map[string]int{"v": 3}))
	require.NoError(t, coord.Rollback(ctx, tx))

	assert.Equal(t, StateRolledBack, tx.State())

	got, found := loadValue(t, st, "p1", "a.json")
	require.True(t, found)
	assert.Equal(t, float64(1), got["v"], "existing record untouched")

	_, found = loadValue(t, st, "p1", "new.json")
	assert.False(t, found, "never-committed record absent")
	requireNoArtifacts(t, st)
}

func TestTransactionConsumedExactlyOnce(t *testing.T) {
	coord, _ := newTestCoordinator(t, nil)
	ctx := context.Background()

	var stateErr *StateError

	tx := coord.Begin(ctx)
	require.NoError(t, coord.StageWrite(ctx, tx, "p1", "a.json", map[string]int{"v": 1}))
	require.NoError(t, coord.Commit(ctx, tx))

	err := coord.Commit(ctx, tx)
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StateCommitted, stateErr.State)

	err = coord.Rollback(ctx, tx)
	require.ErrorAs(t, err, &stateErr)

	err = coord.StageWrite(ctx, tx, "p1", "b.json", map[string]int{"v": 2})
	require.ErrorAs(t, err, &stateErr)

	err = coord.StageValidation(tx, nil, func(ctx context.Context, payload any) (bool, error) {
		return true, nil
	}, "late")
	require.ErrorAs(t, err, &stateErr)

	tx2 := coord.Begin(ctx)
	require.NoError(t, coord.Rollback(ctx, tx2))
	err = coord.Rollback(ctx, tx2)
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StateRolledBack, stateErr.State)
}

func TestIsolation_DisjointTransactions(t *testing.T) {
	backend := fsio.NewFaultBackend(nil)
	coord, st := newTestCoordinator(t, backend)
	ctx := context.Background()

	// Fail only the commit of p2's record.
	target2 := st.PathFor("p2", "b.json")
	backend.RenameFunc = func(oldpath, newpath string) error {
		if newpath == target2 {
			return errors.New("injected failure for p2")
		}
		return backend.Wrapped.Rename(oldpath, newpath)
	}

	var wg sync.WaitGroup
	var err1, err2 error

	wg.Add(2)
	go func() {
		defer wg.Done()
		tx := coord.Begin(ctx)
		if err1 = coord.StageWrite(ctx, tx, "p1", "a.json", map[string]int{"v": 1}); err1 != nil {
			return
		}
		err1 = coord.Commit(ctx, tx)
	}()
	go func() {
		defer wg.Done()
		tx := coord.Begin(ctx)
		if err2 = coord.StageWrite(ctx, tx, "p2", "b.json", map[string]int{"v": 2}); err2 != nil {
			return
		}
		err2 = coord.Commit(ctx, tx)
	}()
	wg.Wait()

	require.NoError(t, err1, "independent transaction unaffected by the other's failure")
	require.Error(t, err2)

	got, found := loadValue(t, st, "p1", "a.json")
	require.True(t, found)
	assert.Equal(t, float64(1), got["v"])

	_, found = loadValue(t, st, "p2", "b.json")
	assert.False(t, found, "failed transaction's target stays unset")
	requireNoArtifacts(t, st)
}

func TestConcurrentDisjointCommits(t *testing.T) {
	coord, st := newTestCoordinator(t, nil)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			project := fmt.Sprintf("p%d", i)
			tx := coord.Begin(ctx)
			if err := coord.StageWrite(ctx, tx, project, "tasks.json", map[string]int{"v": i}); err != nil {
				errs[i] = err
				return
			}
			errs[i] = coord.Commit(ctx, tx)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		got, found := loadValue(t, st, fmt.Sprintf("p%d", i), "tasks.json")
		require.True(t, found)
		assert.Equal(t, float64(i), got["v"])
	}
	requireNoArtifacts(t, st)
}

func TestPathSerialization_SamePathCommits(t *testing.T) {
	coord, st := newTestCoordinator(t, nil, WithPathSerialization())
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := coord.Begin(ctx)
			if err := coord.StageWrite(ctx, tx, "p1", "a.json", map[string]int{"v": i}); err != nil {
				errs[i] = err
				return
			}
			errs[i] = coord.Commit(ctx, tx)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}

	// The final content is whichever commit ran last, and is fully formed.
	got, found := loadValue(t, st, "p1", "a.json")
	require.True(t, found)
	v, ok := got["v"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, int(v), 0)
	assert.Less(t, int(v), n)
	requireNoArtifacts(t, st)
}

func TestStageWrite_NilRecord(t *testing.T) {
	coord, _ := newTestCoordinator(t, nil)
	ctx := context.Background()

	tx := coord.Begin(ctx)
	err := coord.StageWrite(ctx, tx, "p1", "a.json", nil)

	var invalid *fsio.InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
	assert.Zero(t, tx.StagedOps())
}

func TestStageValidation_NilFunc(t *testing.T) {
	coord, _ := newTestCoordinator(t, nil)

	tx := coord.Begin(context.Background())
	err := coord.StageValidation(tx, nil, nil, "missing hook")

	var invalid *fsio.InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
}
