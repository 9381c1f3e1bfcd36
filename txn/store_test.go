package txn

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/wallet-core/db"
	walleterrors "github.com/pushchain/wallet-core/errors"
	"github.com/pushchain/wallet-core/store"
)

func setupTxStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func createTx(t *testing.T, s *Store, txID string, status Status) {
	t.Helper()
	require.NoError(t, s.Create(&store.TransactionRecord{
		TxID:      txID,
		Namespace: "eip155",
		ChainRef:  "eip155:1",
		Origin:    "https://dapp.example",
		Request:   []byte(`{"from":"0xabcd"}`),
		Status:    string(status),
	}))
}

func TestUpdateIfExpectedStatusCAS(t *testing.T) {
	s := setupTxStore(t)
	createTx(t, s, "tx-1", StatusPending)

	ok, err := s.UpdateIfExpectedStatus("tx-1", StatusPending, StatusApproved, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// Same expectation again: the status moved, so the CAS must no-op.
	ok, err = s.UpdateIfExpectedStatus("tx-1", StatusPending, StatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	record, err := s.Get("tx-1")
	require.NoError(t, err)
	assert.Equal(t, string(StatusApproved), record.Status)
}

func TestUpdateIfExpectedStatusExtraFields(t *testing.T) {
	s := setupTxStore(t)
	createTx(t, s, "tx-1", StatusSigned)

	ok, err := s.UpdateIfExpectedStatus("tx-1", StatusSigned, StatusBroadcast, map[string]any{
		"hash": "0xdeadbeef",
	})
	require.NoError(t, err)
	require.True(t, ok)

	record, err := s.Get("tx-1")
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", record.Hash)
}

func TestUpdateIfExpectedStatusRejectsIllegalEdge(t *testing.T) {
	s := setupTxStore(t)
	createTx(t, s, "tx-1", StatusPending)

	// Skipping approve and sign is not a legal move, even through the raw
	// persistence primitive.
	illegal := []struct{ from, to Status }{
		{StatusPending, StatusBroadcast},
		{StatusPending, StatusSigned},
		{StatusPending, StatusConfirmed},
		{StatusApproved, StatusBroadcast},
		{StatusBroadcast, StatusApproved},
		{StatusConfirmed, StatusFailed},
	}
	for _, edge := range illegal {
		ok, err := s.UpdateIfExpectedStatus("tx-1", edge.from, edge.to, nil)
		require.Error(t, err, "%s -> %s", edge.from, edge.to)
		assert.True(t, walleterrors.HasCode(err, walleterrors.ErrCodeValidation))
		assert.False(t, ok)
	}

	record, err := s.Get("tx-1")
	require.NoError(t, err)
	assert.Equal(t, string(StatusPending), record.Status)
}

func TestUpdateIfExpectedStatusUnknownTx(t *testing.T) {
	s := setupTxStore(t)
	ok, err := s.UpdateIfExpectedStatus("ghost", StatusPending, StatusApproved, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetUnknown(t *testing.T) {
	s := setupTxStore(t)
	_, err := s.Get("ghost")
	assert.Error(t, err)
}

func TestAttachDraft(t *testing.T) {
	s := setupTxStore(t)
	createTx(t, s, "tx-1", StatusPending)

	draft := &Draft{
		Normalized:  []byte(`{"from":"0xabcd","gas":"0x5208"}`),
		FeeEstimate: "21000000000000",
		GasLimit:    "0x5208",
		PreparedAt:  time.Now(),
	}
	require.NoError(t, s.AttachDraft("tx-1", draft, []string{"no recipient"}, nil))

	record, err := s.Get("tx-1")
	require.NoError(t, err)
	meta := recordToMeta(record)
	require.NotNil(t, meta.Draft)
	assert.Equal(t, "0x5208", meta.Draft.GasLimit)
	assert.Equal(t, []string{"no recipient"}, meta.Warnings)
	assert.Equal(t, string(StatusPending), record.Status)
}

func TestHashExists(t *testing.T) {
	s := setupTxStore(t)
	createTx(t, s, "tx-1", StatusSigned)
	_, err := s.UpdateIfExpectedStatus("tx-1", StatusSigned, StatusBroadcast, map[string]any{"hash": "0xaaaa"})
	require.NoError(t, err)

	exists, err := s.HashExists("eip155:1", "0xaaaa")
	require.NoError(t, err)
	assert.True(t, exists)

	// Same hash on a different chain is a different transaction.
	exists, err = s.HashExists("eip155:137", "0xaaaa")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = s.HashExists("eip155:1", "0xbbbb")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListByStatusPaginates(t *testing.T) {
	s := setupTxStore(t)
	for i := 0; i < 5; i++ {
		createTx(t, s, fmt.Sprintf("tx-%d", i), StatusApproved)
	}
	createTx(t, s, "tx-other", StatusPending)

	page1, err := s.ListByStatus(StatusApproved, 0, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)

	page2, err := s.ListByStatus(StatusApproved, page1[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Greater(t, page2[0].ID, page1[1].ID)

	page3, err := s.ListByStatus(StatusApproved, page2[1].ID, 2)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
}

func TestListByOrigin(t *testing.T) {
	s := setupTxStore(t)
	createTx(t, s, "tx-1", StatusPending)
	createTx(t, s, "tx-2", StatusPending)
	require.NoError(t, s.Create(&store.TransactionRecord{
		TxID: "tx-other", ChainRef: "eip155:1", Origin: "https://other.example",
		Request: []byte(`{}`), Status: string(StatusPending),
	}))

	records, err := s.ListByOrigin("https://dapp.example", 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = s.ListByOrigin("https://dapp.example", 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestDeleteTerminalBefore(t *testing.T) {
	s := setupTxStore(t)
	createTx(t, s, "tx-done", StatusConfirmed)
	createTx(t, s, "tx-live", StatusBroadcast)

	removed, err := s.DeleteTerminalBefore(time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = s.Get("tx-done")
	assert.Error(t, err)
	_, err = s.Get("tx-live")
	assert.NoError(t, err)
}

func TestDeleteTerminalBeforeKeepsRecent(t *testing.T) {
	s := setupTxStore(t)
	createTx(t, s, "tx-done", StatusFailed)

	removed, err := s.DeleteTerminalBefore(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}
