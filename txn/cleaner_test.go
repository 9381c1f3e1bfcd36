package txn

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/wallet-core/db"
	"github.com/pushchain/wallet-core/store"
)

func TestCleanupOnceRemovesOnlyExpiredTerminal(t *testing.T) {
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	defer database.Close()
	txStore := NewStore(database)

	old := time.Now().Add(-2 * time.Hour)
	for _, tc := range []struct {
		txID      string
		status    Status
		updatedAt time.Time
	}{
		{"old-confirmed", StatusConfirmed, old},
		{"old-failed", StatusFailed, old},
		{"old-broadcast", StatusBroadcast, old},
		{"fresh-confirmed", StatusConfirmed, time.Now()},
	} {
		require.NoError(t, txStore.Create(&store.TransactionRecord{
			TxID:     tc.txID,
			ChainRef: "eip155:1",
			Origin:   "https://dapp.example",
			Request:  []byte(`{}`),
			Status:   string(tc.status),
		}))
		// Backdate the row; GORM stamps updated_at on create.
		require.NoError(t, database.Client().
			Model(&store.TransactionRecord{}).
			Where("tx_id = ?", tc.txID).
			Update("updated_at", tc.updatedAt).Error)
	}

	cleaner := NewCleaner(txStore, time.Hour, time.Hour, zerolog.Nop())
	deleted := cleaner.CleanupOnce()
	assert.Equal(t, int64(2), deleted)

	// Non-terminal and fresh rows survive.
	_, err = txStore.Get("old-broadcast")
	assert.NoError(t, err)
	_, err = txStore.Get("fresh-confirmed")
	assert.NoError(t, err)
	_, err = txStore.Get("old-confirmed")
	assert.Error(t, err)
}
