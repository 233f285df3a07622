package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *ProgressStore {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db, SQLite))
	return NewProgressStore(db, SQLite)
}

func TestProgressStoreRoundTrip(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	data, err := store.Load(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, data, "missing row loads as nil")

	require.NoError(t, store.Save(ctx, 42, []byte(`{"stats":{"coins":10}}`)))
	require.NoError(t, store.Save(ctx, 42, []byte(`{"stats":{"coins":20}}`)))
	require.NoError(t, store.Save(ctx, 7, []byte(`{}`)))

	data, err = store.Load(ctx, 42)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stats":{"coins":20}}`, string(data))

	ids, err := store.UserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 42}, ids)
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openTestDB(t)
	assert.NoError(t, Migrate(store.db, SQLite))
	assert.Error(t, Migrate(store.db, "oracle"))
}

func TestRebind(t *testing.T) {
	pg := NewProgressStore(nil, Postgres)
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := NewProgressStore(nil, SQLite)
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}
