package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/wallet-core/approval"
	"github.com/pushchain/wallet-core/config"
	"github.com/pushchain/wallet-core/db"
	"github.com/pushchain/wallet-core/evm"
	"github.com/pushchain/wallet-core/keyring"
	"github.com/pushchain/wallet-core/store"
	"github.com/pushchain/wallet-core/txn"
	"github.com/pushchain/wallet-core/types"
)

const (
	testOrigin  = "https://dapp.example"
	testAccount = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
)

type fakeSigner struct {
	raw         []byte
	hash        string
	calls       int
	lastPayload []byte
}

func (s *fakeSigner) Sign(_ context.Context, _ string, payload []byte) (keyring.SignResult, error) {
	s.calls++
	s.lastPayload = payload
	return keyring.SignResult{Raw: s.raw, Hash: s.hash}, nil
}

type requestResult struct {
	value interface{}
	err   error
}

// setupWalletWithNode backs eip155:1 with a stub JSON-RPC node so the
// prepare and broadcast paths run against a live endpoint.
func setupWalletWithNode(t *testing.T) (*Wallet, *fakeSigner) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     interface{} `json:"id"`
			Method string      `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		results := map[string]string{
			"eth_gasPrice":            "0x3b9aca00",
			"eth_estimateGas":         "0x5208",
			"eth_getTransactionCount": "0x0",
			"eth_sendRawTransaction":  "0xDeadBeefCafe",
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  results[req.Method],
		})
	}))
	t.Cleanup(server.Close)

	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.ChainConfigs = map[string]config.ChainSpecificConfig{
		"eip155:1": {RPCEndpoints: []config.EndpointConfig{{URL: server.URL}}},
	}

	signer := &fakeSigner{raw: []byte{0x01, 0x02}, hash: "0xAA11"}
	w, err := NewWithDB(cfg, signer, database, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, signer
}

func setupWallet(t *testing.T) (*Wallet, *fakeSigner) {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	signer := &fakeSigner{raw: []byte{0xde, 0xad}}
	w, err := NewWithDB(cfg, signer, database, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, signer
}

func testReqCtx() types.RequestContext {
	return types.RequestContext{
		Transport: "port",
		PortID:    "port-1",
		SessionID: "session-1",
		RequestID: "req-1",
		Origin:    testOrigin,
	}
}

// request issues a dapp call on a goroutine and returns its result channel.
func request(w *Wallet, method string, params json.RawMessage) <-chan requestResult {
	done := make(chan requestResult, 1)
	go func() {
		value, err := w.HandleRequest(context.Background(), method, params, testReqCtx())
		done <- requestResult{value: value, err: err}
	}()
	return done
}

// awaitPending blocks until exactly one approval is visible and returns it.
func awaitPending(t *testing.T, w *Wallet) approval.Summary {
	t.Helper()
	var pending []approval.Summary
	require.Eventually(t, func() bool {
		pending = w.Approvals().Pending()
		return len(pending) == 1
	}, time.Second, 5*time.Millisecond)
	return pending[0]
}

func connect(t *testing.T, w *Wallet) {
	t.Helper()
	done := request(w, "eth_requestAccounts", nil)
	summary := awaitPending(t, w)
	_, err := w.Approve(context.Background(), summary.ID, []string{testAccount})
	require.NoError(t, err)
	result := <-done
	require.NoError(t, result.err)
}

func TestSessionStartsLocked(t *testing.T) {
	w, _ := setupWallet(t)
	assert.True(t, w.Session().Locked())

	w.Session().Unlock()
	assert.False(t, w.Session().Locked())

	w.Session().Lock()
	assert.True(t, w.Session().Locked())
}

func TestAccountsWhileLocked(t *testing.T) {
	w, _ := setupWallet(t)

	result, err := w.HandleRequest(context.Background(), "eth_accounts", nil, testReqCtx())
	require.NoError(t, err)
	assert.Equal(t, []string{}, result)
}

func TestChainIDWhileLocked(t *testing.T) {
	w, _ := setupWallet(t)

	result, err := w.HandleRequest(context.Background(), "eth_chainId", nil, testReqCtx())
	require.NoError(t, err)
	assert.Equal(t, "0x1", result)
}

func TestUnknownMethodTranslated(t *testing.T) {
	w, _ := setupWallet(t)

	_, err := w.HandleRequest(context.Background(), "eth_mining", nil, testReqCtx())
	require.Error(t, err)
	var provider *evm.ProviderError
	require.ErrorAs(t, err, &provider)
	assert.Equal(t, -32601, provider.Code)
}

func TestConnectFlow(t *testing.T) {
	w, _ := setupWallet(t)
	w.Session().Unlock()

	done := request(w, "eth_requestAccounts", nil)
	summary := awaitPending(t, w)
	assert.Equal(t, approval.TypeRequestAccounts, summary.Type)
	assert.Equal(t, testOrigin, summary.Origin)

	approved, err := w.Approve(context.Background(), summary.ID, []string{testAccount})
	require.NoError(t, err)
	assert.Equal(t, []string{testAccount}, approved)

	result := <-done
	require.NoError(t, result.err)
	assert.Equal(t, []string{testAccount}, result.value)

	// The origin is now connected.
	accounts, err := w.HandleRequest(context.Background(), "eth_accounts", nil, testReqCtx())
	require.NoError(t, err)
	assert.Equal(t, []string{testAccount}, accounts)

	// A second connect answers without a new approval.
	again, err := w.HandleRequest(context.Background(), "eth_requestAccounts", nil, testReqCtx())
	require.NoError(t, err)
	assert.Equal(t, []string{testAccount}, again)
	assert.Empty(t, w.Approvals().Pending())
}

func TestConnectRejected(t *testing.T) {
	w, _ := setupWallet(t)
	w.Session().Unlock()

	done := request(w, "eth_requestAccounts", nil)
	summary := awaitPending(t, w)
	w.Reject(summary.ID)

	result := <-done
	require.Error(t, result.err)
	var provider *evm.ProviderError
	require.ErrorAs(t, result.err, &provider)
	assert.Equal(t, 4001, provider.Code)

	// No grant was made.
	accounts, err := w.HandleRequest(context.Background(), "eth_accounts", nil, testReqCtx())
	require.NoError(t, err)
	assert.Equal(t, []string{}, accounts)
}

func TestPersonalSignFlow(t *testing.T) {
	w, signer := setupWallet(t)
	w.Session().Unlock()
	connect(t, w)

	params, _ := json.Marshal([]string{"0x68656c6c6f", testAccount})
	done := request(w, "personal_sign", params)
	summary := awaitPending(t, w)
	assert.Equal(t, approval.TypeSignMessage, summary.Type)

	signature, err := w.Approve(context.Background(), summary.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "0xdead", signature)

	result := <-done
	require.NoError(t, result.err)
	assert.Equal(t, "0xdead", result.value)
	assert.Equal(t, 1, signer.calls)

	// The keyring sees the message content, not its JSON encoding.
	assert.Equal(t, []byte("0x68656c6c6f"), signer.lastPayload)
}

func TestSignRequiresConnection(t *testing.T) {
	w, signer := setupWallet(t)
	w.Session().Unlock()

	params, _ := json.Marshal([]string{"0x68656c6c6f", testAccount})
	_, err := w.HandleRequest(context.Background(), "personal_sign", params, testReqCtx())
	require.Error(t, err)
	var provider *evm.ProviderError
	require.ErrorAs(t, err, &provider)
	assert.Equal(t, 4001, provider.Code)
	assert.Zero(t, signer.calls)
}

func TestSignWhileLockedDenied(t *testing.T) {
	w, _ := setupWallet(t)
	w.Session().Unlock()
	connect(t, w)
	w.Session().Lock()

	// Signing still enqueues an approval while locked; the UI unlocks
	// before resolving it.
	params, _ := json.Marshal([]string{"0x68656c6c6f", testAccount})
	done := request(w, "personal_sign", params)
	summary := awaitPending(t, w)

	w.Session().Unlock()
	_, err := w.Approve(context.Background(), summary.ID, nil)
	require.NoError(t, err)
	require.NoError(t, (<-done).err)
}

func TestSendTransactionFlow(t *testing.T) {
	w, signer := setupWalletWithNode(t)
	w.Session().Unlock()
	connect(t, w)

	params, _ := json.Marshal([]evm.CallObject{{
		From:  testAccount,
		To:    "0x0000000000000000000000000000000000000001",
		Value: "0x1",
	}})
	done := request(w, "eth_sendTransaction", params)
	summary := awaitPending(t, w)
	assert.Equal(t, approval.TypeTransaction, summary.Type)

	var payload evm.TransactionApprovalPayload
	require.NoError(t, json.Unmarshal(summary.Payload, &payload))
	require.NotEmpty(t, payload.TransactionID)

	// Approving drives sign -> broadcast; the node's hash wins, lowercased.
	hash, err := w.Approve(context.Background(), summary.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeefcafe", hash)

	result := <-done
	require.NoError(t, result.err)
	assert.Equal(t, "0xdeadbeefcafe", result.value)
	assert.Equal(t, 1, signer.calls)

	meta, err := w.Transactions().Get(payload.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, txn.StatusBroadcast, meta.Status)
	assert.Equal(t, "0xdeadbeefcafe", meta.Hash)
}

func TestSendTransactionRejected(t *testing.T) {
	w, signer := setupWalletWithNode(t)
	w.Session().Unlock()
	connect(t, w)

	params, _ := json.Marshal([]evm.CallObject{{From: testAccount, To: "0x0000000000000000000000000000000000000001"}})
	done := request(w, "eth_sendTransaction", params)
	summary := awaitPending(t, w)

	var payload evm.TransactionApprovalPayload
	require.NoError(t, json.Unmarshal(summary.Payload, &payload))

	w.Reject(summary.ID)
	result := <-done
	require.Error(t, result.err)
	var provider *evm.ProviderError
	require.ErrorAs(t, result.err, &provider)
	assert.Equal(t, 4001, provider.Code)

	// The record fails with the rejection noted; the keyring never ran.
	meta, err := w.Transactions().Get(payload.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, txn.StatusFailed, meta.Status)
	assert.True(t, meta.UserRejected)
	assert.Zero(t, signer.calls)
}

func TestStaleApprove(t *testing.T) {
	w, _ := setupWallet(t)

	_, err := w.Approve(context.Background(), "no-such-approval", nil)
	assert.Error(t, err)
}

func TestHandleDisconnectExpiresApprovals(t *testing.T) {
	w, _ := setupWallet(t)
	w.Session().Unlock()

	done := request(w, "eth_requestAccounts", nil)
	awaitPending(t, w)

	expired := w.HandleDisconnect("port-1", "session-1")
	assert.Equal(t, 1, expired)

	result := <-done
	require.Error(t, result.err)
	var provider *evm.ProviderError
	require.ErrorAs(t, result.err, &provider)
	assert.Equal(t, 4900, provider.Code)
}

func TestRevokePermissions(t *testing.T) {
	w, _ := setupWallet(t)
	w.Session().Unlock()
	connect(t, w)

	_, err := w.HandleRequest(context.Background(), "wallet_revokePermissions", nil, testReqCtx())
	require.NoError(t, err)

	accounts, err := w.HandleRequest(context.Background(), "eth_accounts", nil, testReqCtx())
	require.NoError(t, err)
	assert.Equal(t, []string{}, accounts)
}

func TestStartSweepsPreviousRun(t *testing.T) {
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)

	// A journal row from a crashed run: pending forever unless swept.
	require.NoError(t, database.Client().Create(&store.ApprovalRecord{
		ApprovalID: "stale-1",
		Type:       approval.TypeSignMessage,
		Origin:     testOrigin,
		Outcome:    "pending",
	}).Error)

	w, err := NewWithDB(config.DefaultConfig(), &fakeSigner{}, database, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	require.NoError(t, w.Start(context.Background()))

	var record store.ApprovalRecord
	require.NoError(t, database.Client().Where("approval_id = ?", "stale-1").First(&record).Error)
	assert.Equal(t, "expired", record.Outcome)
	assert.Equal(t, approval.ReasonSessionLost, record.Reason)
}
