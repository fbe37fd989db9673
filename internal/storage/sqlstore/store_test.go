package sqlstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"Sentellent-Agent/internal/state"
	"Sentellent-Agent/internal/state/statetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var memSeq atomic.Int32

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:sentellent-%d?mode=memory&cache=shared", memSeq.Add(1))
	store, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreContract(t *testing.T) {
	statetest.Run(t, func(t *testing.T) state.Store { return newSQLiteStore(t) })
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	store := newSQLiteStore(t)
	require.NoError(t, store.Migrate(context.Background()))

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 3, count)
}

func TestSQLiteSessionSurvivesReopenOfConnectionPool(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	pending := statetest.MailAction(t, "a1")
	require.NoError(t, store.StageAction(ctx, "u1", pending))
	require.NoError(t, store.UpsertMemory(ctx, "u1", "timezone", "Asia/Kolkata"))

	again, err := New(store.db, DriverSQLite)
	require.NoError(t, err)
	sess, err := again.LoadSession(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, sess.PendingAction)
	assert.Equal(t, "a1", sess.PendingAction.ID)
	assert.Equal(t, "Asia/Kolkata", sess.Memory["timezone"])
	assert.False(t, sess.CreatedAt.IsZero())
}

func TestSQLiteCredentials(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	got, err := store.LoadCredential(ctx, "u1", "google")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.SaveCredential(ctx, "u1", "google", []byte(`{"token":"a"}`)))
	require.NoError(t, store.SaveCredential(ctx, "u1", "google", []byte(`{"token":"b"}`)))
	got, err = store.LoadCredential(ctx, "u1", "google")
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"b"}`, string(got))

	require.NoError(t, store.DeleteCredential(ctx, "u1", "google"))
	got, err = store.LoadCredential(ctx, "u1", "google")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
}

func TestSplitSQLStatements(t *testing.T) {
	got := splitSQLStatements("CREATE TABLE a (x INT);\n\n  CREATE TABLE b (y INT);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE TABLE b (y INT)"}, got)
	assert.Equal(t, "0002", parseMigrationVersion("0002_create_credentials.sql"))
}
