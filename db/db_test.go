package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/wallet-core/store"
)

func TestOpenInMemoryDBMigratesSchema(t *testing.T) {
	database, err := OpenInMemoryDB(true)
	require.NoError(t, err)
	defer database.Close()

	for _, model := range []any{
		&store.TransactionRecord{},
		&store.PermissionRecord{},
		&store.ApprovalRecord{},
		&store.Snapshot{},
	} {
		assert.True(t, database.Client().Migrator().HasTable(model))
	}
}

func TestOpenFileDB(t *testing.T) {
	dir := t.TempDir()

	database, err := OpenFileDB(dir, "wallet.db", true)
	require.NoError(t, err)
	require.NoError(t, database.Close())

	// Reopening the same file sees the migrated schema.
	reopened, err := OpenFileDB(dir, "wallet.db", false)
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.Client().Migrator().HasTable(&store.TransactionRecord{}))
}

func TestOpenFileDBEmptyDir(t *testing.T) {
	_, err := OpenFileDB("", "wallet.db", true)
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	database, err := OpenInMemoryDB(true)
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, database.SaveSnapshot("permissions", SnapshotEnvelope{
		Version: 1,
		Payload: []byte(`{"grants":[]}`),
	}))

	envelope, ok, err := database.LoadSnapshot("permissions", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"grants":[]}`), envelope.Payload)
}

func TestSnapshotUpsertReplacesPayload(t *testing.T) {
	database, err := OpenInMemoryDB(true)
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, database.SaveSnapshot("approvals", SnapshotEnvelope{Version: 1, Payload: []byte(`"a"`)}))
	require.NoError(t, database.SaveSnapshot("approvals", SnapshotEnvelope{Version: 1, Payload: []byte(`"b"`)}))

	envelope, ok, err := database.LoadSnapshot("approvals", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`"b"`), envelope.Payload)
}

func TestSnapshotVersionMismatchDropped(t *testing.T) {
	database, err := OpenInMemoryDB(true)
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, database.SaveSnapshot("permissions", SnapshotEnvelope{Version: 1, Payload: []byte(`"x"`)}))

	_, ok, err := database.LoadSnapshot("permissions", 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotMissingNamespace(t *testing.T) {
	database, err := OpenInMemoryDB(true)
	require.NoError(t, err)
	defer database.Close()

	_, ok, err := database.LoadSnapshot("unknown", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, database.SaveSnapshot("", SnapshotEnvelope{Version: 1}))
}
