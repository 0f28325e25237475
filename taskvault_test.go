package taskvault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskvault/pkg/config"
)

func testEngineConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Storage.Root = t.TempDir()
	cfg.Storage.Indent = 2
	cfg.Storage.FileMode = "0600"
	cfg.Storage.DirMode = "0700"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	return cfg
}

func TestOpenClose(t *testing.T) {
	ctx := context.Background()
	eng, err := Open(ctx, testEngineConfig(t), zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, eng.Store)
	require.NotNil(t, eng.Txn)
	assert.Nil(t, eng.Janitor, "janitor stays off unless enabled")

	require.NoError(t, eng.Close(ctx))
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := testEngineConfig(t)
	cfg.Storage.Indent = -1

	_, err := Open(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestEngine_SaveLoadAndTransaction(t *testing.T) {
	ctx := context.Background()
	eng, err := Open(ctx, testEngineConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer eng.Close(ctx)

	require.NoError(t, eng.Store.Save(ctx, "acme", "board.json", map[string]any{"name": "Acme"}))

	var board map[string]any
	found, err := eng.Store.Load(ctx, "acme", "board.json", &board)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Acme", board["name"])

	tx := eng.Txn.Begin(ctx)
	require.NoError(t, eng.Txn.StageWrite(ctx, tx, "acme", "board.json", map[string]any{"name": "Acme", "rev": float64(2)}))
	require.NoError(t, eng.Txn.StageWrite(ctx, tx, "acme", "tasks.json", []any{"ship it"}))
	require.NoError(t, eng.Txn.Commit(ctx, tx))

	found, err = eng.Store.Load(ctx, "acme", "board.json", &board)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, float64(2), board["rev"])

	var tasks []any
	found, err = eng.Store.Load(ctx, "acme", "tasks.json", &tasks)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []any{"ship it"}, tasks)
}

func TestEngine_WithJanitor(t *testing.T) {
	ctx := context.Background()
	cfg := testEngineConfig(t)
	cfg.Janitor.Enabled = true
	cfg.Janitor.Interval = config.Duration(time.Hour)
	cfg.Janitor.MaxAge = config.Duration(time.Hour)

	eng, err := Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, eng.Janitor)
	require.NoError(t, eng.Close(ctx))
}

func TestEngine_NilClose(t *testing.T) {
	var eng *Engine
	assert.NoError(t, eng.Close(context.Background()))
}
