package txn

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	walleterrors "github.com/pushchain/wallet-core/errors"
	"github.com/pushchain/wallet-core/events"
	"github.com/pushchain/wallet-core/keyring"
	"github.com/pushchain/wallet-core/store"
	"github.com/pushchain/wallet-core/types"
)

// ChainAdapter supplies the namespace-specific pieces of the lifecycle.
type ChainAdapter interface {
	// PrepareDraft normalizes the request and estimates fees. Failures are
	// reported as issues on the record, not lifecycle failures.
	PrepareDraft(ctx context.Context, meta Meta) (*Draft, []string, []string, error)

	// SignPayload produces the signing input for the record's request.
	SignPayload(meta Meta) (accountID string, payload []byte, err error)

	// HashFromSigned derives the canonical transaction hash from a signed
	// payload, used when the signer returns no hash.
	HashFromSigned(raw []byte) (string, error)

	// Broadcast submits the signed payload and returns the node-reported hash.
	Broadcast(ctx context.Context, chainRef types.ChainRef, raw []byte) (string, error)
}

// DefaultPrepareConcurrency bounds background draft preparation.
const DefaultPrepareConcurrency = 2

const prepareTimeout = 30 * time.Second

// SubmitParams describes a new fund-moving request.
type SubmitParams struct {
	Namespace string
	ChainRef  types.ChainRef
	Origin    string
	From      string
	Request   json.RawMessage
}

// Manager owns every TransactionRecord mutation.
type Manager struct {
	store    *Store
	signer   keyring.Signer
	topic    *events.Topic[Meta]
	logger   zerolog.Logger
	pageSize int

	mu       sync.RWMutex
	adapters map[string]ChainAdapter

	// prepareSlots rate-limits background preparation so queued drafts do
	// not flood the RPC layer. Execution-time preparation bypasses it.
	prepareSlots chan struct{}
}

// NewManager creates the transaction state machine. prepareConcurrency and
// pageSize fall back to defaults when <= 0.
func NewManager(txStore *Store, signer keyring.Signer, prepareConcurrency, pageSize int, logger zerolog.Logger) *Manager {
	if prepareConcurrency <= 0 {
		prepareConcurrency = DefaultPrepareConcurrency
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Manager{
		store:        txStore,
		signer:       signer,
		topic:        events.NewTopic[Meta](events.TopicTransactionState, cloneMeta, logger),
		logger:       logger.With().Str("component", "tx_machine").Logger(),
		pageSize:     pageSize,
		adapters:     make(map[string]ChainAdapter),
		prepareSlots: make(chan struct{}, prepareConcurrency),
	}
}

// RegisterAdapter installs the chain adapter for a namespace.
func (m *Manager) RegisterAdapter(namespace string, adapter ChainAdapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[namespace] = adapter
}

func (m *Manager) adapter(namespace string) (ChainAdapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	adapter, ok := m.adapters[namespace]
	if !ok {
		return nil, walleterrors.NewValidationError("no chain adapter for namespace " + namespace)
	}
	return adapter, nil
}

// Topic exposes the transaction state topic for UI subscription.
func (m *Manager) Topic() *events.Topic[Meta] { return m.topic }

// Submit creates a pending record and schedules background draft preparation.
func (m *Manager) Submit(ctx context.Context, params SubmitParams) (Meta, error) {
	if err := params.ChainRef.Validate(); err != nil {
		return Meta{}, walleterrors.NewValidationError(err.Error())
	}
	if params.Namespace == "" {
		params.Namespace = params.ChainRef.Namespace()
	}
	if params.Namespace != params.ChainRef.Namespace() {
		return Meta{}, walleterrors.NewValidationError("namespace conflicts with chain reference")
	}
	if params.Origin == "" {
		return Meta{}, walleterrors.NewValidationError("origin is required")
	}
	if len(params.Request) == 0 {
		return Meta{}, walleterrors.NewValidationError("request payload is required")
	}
	if _, err := m.adapter(params.Namespace); err != nil {
		return Meta{}, err
	}

	record := &store.TransactionRecord{
		TxID:        uuid.NewString(),
		Namespace:   params.Namespace,
		ChainRef:    params.ChainRef.String(),
		Origin:      params.Origin,
		FromAddress: params.From,
		Request:     params.Request,
		Status:      string(StatusPending),
	}
	if err := m.store.Create(record); err != nil {
		return Meta{}, err
	}

	meta := recordToMeta(record)
	m.logger.Info().
		Str("id", meta.ID).
		Str("chain", meta.ChainRef.String()).
		Str("origin", meta.Origin).
		Msg("transaction submitted")
	m.topic.Publish(meta)

	// Opportunistic preparation; does not block submission and may lose the
	// race with execution-time preparation harmlessly.
	go m.prepareInBackground(meta)

	return meta, nil
}

// Get returns a deep-copied view of one transaction.
func (m *Manager) Get(txID string) (Meta, error) {
	record, err := m.store.Get(txID)
	if err != nil {
		return Meta{}, err
	}
	return recordToMeta(record), nil
}

// History returns an origin's transactions, newest first.
func (m *Manager) History(origin string, limit int) ([]Meta, error) {
	records, err := m.store.ListByOrigin(origin, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Meta, len(records))
	for i := range records {
		out[i] = recordToMeta(&records[i])
	}
	return out, nil
}

// prepareInBackground prepares under a concurrency slot.
func (m *Manager) prepareInBackground(meta Meta) {
	m.prepareSlots <- struct{}{}
	defer func() { <-m.prepareSlots }()

	ctx, cancel := context.WithTimeout(context.Background(), prepareTimeout)
	defer cancel()
	m.prepare(ctx, meta)
}

// EnsurePrepared attaches a draft synchronously if none exists yet. Called at
// approval time; bypasses the background slot pool.
func (m *Manager) EnsurePrepared(ctx context.Context, txID string) {
	record, err := m.store.Get(txID)
	if err != nil {
		m.logger.Warn().Err(err).Str("id", txID).Msg("cannot prepare unknown transaction")
		return
	}
	if len(record.Draft) > 0 {
		return
	}
	m.prepare(ctx, recordToMeta(record))
}

// prepare runs the adapter's draft preparation. Failures degrade to issues on
// the record so the user still sees a best-effort summary.
func (m *Manager) prepare(ctx context.Context, meta Meta) {
	adapter, err := m.adapter(meta.Namespace)
	if err != nil {
		return
	}

	draft, warnings, issues, err := adapter.PrepareDraft(ctx, meta)
	if err != nil {
		issues = append(issues, "preparation failed: "+err.Error())
		m.logger.Warn().Err(err).Str("id", meta.ID).Msg("draft preparation failed")
	}
	if draft == nil && len(warnings) == 0 && len(issues) == 0 {
		return
	}
	if err := m.store.AttachDraft(meta.ID, draft, warnings, issues); err != nil {
		m.logger.Warn().Err(err).Str("id", meta.ID).Msg("failed to attach draft")
		return
	}
	if updated, err := m.Get(meta.ID); err == nil {
		m.topic.Publish(updated)
	}
}

// Approve moves pending → approved and drives sign → broadcast. A CAS
// mismatch (the user abandoned it concurrently) no-ops.
func (m *Manager) Approve(ctx context.Context, txID string) (Meta, error) {
	m.EnsurePrepared(ctx, txID)

	ok, err := m.store.UpdateIfExpectedStatus(txID, StatusPending, StatusApproved, nil)
	if err != nil {
		return Meta{}, err
	}
	if !ok {
		m.logger.Debug().Str("id", txID).Msg("approve skipped, status changed concurrently")
		return m.Get(txID)
	}
	m.publishCurrent(txID)

	if err := m.Execute(ctx, txID); err != nil {
		return Meta{}, err
	}
	return m.Get(txID)
}

// Execute drives an approved record through sign → broadcast. Records in any
// other status are left untouched, which lets restart-time resumption coexist
// with live user action.
func (m *Manager) Execute(ctx context.Context, txID string) error {
	record, err := m.store.Get(txID)
	if err != nil {
		return err
	}
	if Status(record.Status) != StatusApproved {
		return nil
	}
	meta := recordToMeta(record)

	adapter, err := m.adapter(meta.Namespace)
	if err != nil {
		return err
	}

	accountID, payload, err := adapter.SignPayload(meta)
	if err != nil {
		return m.failFrom(txID, StatusApproved, "failed to build signing payload: "+err.Error())
	}

	result, err := m.signer.Sign(ctx, accountID, payload)
	if err != nil {
		return m.failFrom(txID, StatusApproved, "signing failed: "+err.Error())
	}

	ok, err := m.store.UpdateIfExpectedStatus(txID, StatusApproved, StatusSigned, nil)
	if err != nil {
		return err
	}
	if !ok {
		m.logger.Debug().Str("id", txID).Msg("sign transition skipped, status changed concurrently")
		return nil
	}
	m.publishCurrent(txID)

	hash := strings.ToLower(result.Hash)
	if hash == "" {
		hash, err = adapter.HashFromSigned(result.Raw)
		if err != nil {
			return m.failFrom(txID, StatusSigned, "failed to derive transaction hash: "+err.Error())
		}
		hash = strings.ToLower(hash)
	}

	// Duplicate (chainRef, hash) pairs are rejected before broadcast.
	exists, err := m.store.HashExists(meta.ChainRef, hash)
	if err != nil {
		return err
	}
	if exists {
		return m.failFrom(txID, StatusSigned, "duplicate transaction hash "+hash)
	}

	broadcastHash, err := adapter.Broadcast(ctx, meta.ChainRef, result.Raw)
	if err != nil {
		return m.failFrom(txID, StatusSigned, "broadcast failed: "+err.Error())
	}
	if broadcastHash != "" {
		hash = strings.ToLower(broadcastHash)
	}

	ok, err = m.store.UpdateIfExpectedStatus(txID, StatusSigned, StatusBroadcast, map[string]any{"hash": hash})
	if err != nil {
		return err
	}
	if !ok {
		m.logger.Debug().Str("id", txID).Msg("broadcast transition skipped, status changed concurrently")
		return nil
	}

	m.logger.Info().Str("id", txID).Str("hash", hash).Msg("transaction broadcast")
	m.publishCurrent(txID)
	return nil
}

// failFrom marks a record failed from an expected status; a CAS mismatch
// no-ops. The original error is still surfaced to the caller.
func (m *Manager) failFrom(txID string, expected Status, errMsg string) error {
	ok, err := m.store.UpdateIfExpectedStatus(txID, expected, StatusFailed, map[string]any{"error_msg": errMsg})
	if err != nil {
		return err
	}
	if ok {
		m.publishCurrent(txID)
	}
	return walleterrors.NewInternalError(errMsg, nil).WithContext("tx_id", txID)
}

// MarkUserRejected fails a pending record on user rejection of its approval.
func (m *Manager) MarkUserRejected(txID string) error {
	ok, err := m.store.UpdateIfExpectedStatus(txID, StatusPending, StatusFailed, map[string]any{
		"error_msg":     "user rejected the transaction",
		"user_rejected": true,
	})
	if err != nil {
		return err
	}
	if ok {
		m.publishCurrent(txID)
	}
	return nil
}

// MarkConfirmed moves broadcast → confirmed with the receipt.
func (m *Manager) MarkConfirmed(txID string, receipt json.RawMessage) error {
	ok, err := m.store.UpdateIfExpectedStatus(txID, StatusBroadcast, StatusConfirmed, map[string]any{
		"receipt": []byte(receipt),
	})
	if err != nil {
		return err
	}
	if ok {
		m.publishCurrent(txID)
	}
	return nil
}

// MarkFailed moves broadcast → failed with an error message.
func (m *Manager) MarkFailed(txID string, errMsg string) error {
	ok, err := m.store.UpdateIfExpectedStatus(txID, StatusBroadcast, StatusFailed, map[string]any{
		"error_msg": errMsg,
	})
	if err != nil {
		return err
	}
	if ok {
		m.publishCurrent(txID)
	}
	return nil
}

// MarkReplaced moves broadcast → replaced, recording the replacing hash.
func (m *Manager) MarkReplaced(txID string, replacementHash string) error {
	if replacementHash == "" {
		return walleterrors.NewValidationError("replacement hash is required")
	}
	ok, err := m.store.UpdateIfExpectedStatus(txID, StatusBroadcast, StatusReplaced, map[string]any{
		"replaced_by": strings.ToLower(replacementHash),
	})
	if err != nil {
		return err
	}
	if ok {
		m.publishCurrent(txID)
	}
	return nil
}

// ResumeApproved re-drives every approved record through sign → broadcast,
// exactly as if freshly approved. Run once at session start so an interrupted
// session does not lose in-flight sends.
func (m *Manager) ResumeApproved(ctx context.Context) error {
	var lastID uint
	resumed := 0
	for {
		records, err := m.store.ListByStatus(StatusApproved, lastID, m.pageSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			break
		}
		for i := range records {
			lastID = records[i].ID
			if err := m.Execute(ctx, records[i].TxID); err != nil {
				m.logger.Warn().Err(err).Str("id", records[i].TxID).Msg("resumption failed for transaction")
				continue
			}
			resumed++
		}
	}
	if resumed > 0 {
		m.logger.Info().Int("resumed", resumed).Msg("resumed approved transactions")
	}
	return nil
}

// FailAllPending sweeps records stuck in pending (never reached approval) and
// fails them with an abandoned error. Paginated to bound memory; runs once
// per session start as a consistency sweep.
func (m *Manager) FailAllPending(reason string) (int, error) {
	if reason == "" {
		reason = "abandoned"
	}
	var lastID uint
	swept := 0
	for {
		records, err := m.store.ListByStatus(StatusPending, lastID, m.pageSize)
		if err != nil {
			return swept, err
		}
		if len(records) == 0 {
			return swept, nil
		}
		for i := range records {
			lastID = records[i].ID
			ok, err := m.store.UpdateIfExpectedStatus(records[i].TxID, StatusPending, StatusFailed, map[string]any{
				"error_msg": reason,
			})
			if err != nil {
				m.logger.Warn().Err(err).Str("id", records[i].TxID).Msg("failed to sweep pending transaction")
				continue
			}
			if ok {
				swept++
				m.publishCurrent(records[i].TxID)
			}
		}
	}
}

func (m *Manager) publishCurrent(txID string) {
	meta, err := m.Get(txID)
	if err != nil {
		return
	}
	m.topic.Publish(meta)
}
