// Package wallet is the composition root: it wires the approval queue,
// permission store, RPC layer, and transaction machine into one host and
// exposes the surfaces the extension host calls (dapp requests, UI
// approve/reject, lifecycle).
package wallet

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	"github.com/pushchain/wallet-core/approval"
	"github.com/pushchain/wallet-core/config"
	"github.com/pushchain/wallet-core/db"
	"github.com/pushchain/wallet-core/dispatch"
	walleterrors "github.com/pushchain/wallet-core/errors"
	"github.com/pushchain/wallet-core/evm"
	"github.com/pushchain/wallet-core/keyring"
	"github.com/pushchain/wallet-core/logger"
	"github.com/pushchain/wallet-core/permission"
	"github.com/pushchain/wallet-core/rpc"
	"github.com/pushchain/wallet-core/rpcpool"
	"github.com/pushchain/wallet-core/txn"
	"github.com/pushchain/wallet-core/types"
)

const databaseFilename = "wallet.db"

// Wallet owns every long-lived component. All of them are constructed here,
// explicitly, so tests can assemble the same graph with substitutes.
type Wallet struct {
	cfg    *config.Config
	log    zerolog.Logger
	signer keyring.Signer

	database    *db.DB
	session     *Session
	queue       *approval.Queue
	permissions *permission.Store
	pools       *rpcpool.Manager
	transport   *rpc.Transport
	registry    *rpc.Registry
	txns        *txn.Manager
	cleaner     *txn.Cleaner
	pipeline    *dispatch.Pipeline
	eip155      *evm.Namespace

	cancel context.CancelFunc
}

// New builds the component graph from configuration. The database is opened
// and migrated; nothing else starts until Start.
func New(cfg *config.Config, signer keyring.Signer) (*Wallet, error) {
	log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

	database, err := db.OpenFileDB(cfg.DataDir, databaseFilename, true)
	if err != nil {
		return nil, err
	}
	return build(cfg, signer, database, log)
}

// NewWithDB builds the graph over an already-open database. Used by tests
// with in-memory SQLite.
func NewWithDB(cfg *config.Config, signer keyring.Signer, database *db.DB, log zerolog.Logger) (*Wallet, error) {
	return build(cfg, signer, database, log)
}

func build(cfg *config.Config, signer keyring.Signer, database *db.DB, log zerolog.Logger) (*Wallet, error) {
	defaultChain, err := types.ParseChainRef(cfg.DefaultChain)
	if err != nil {
		return nil, walleterrors.NewValidationError("invalid default chain: " + cfg.DefaultChain)
	}

	pools := rpcpool.NewManager(log)
	knownChains := make([]types.ChainRef, 0, len(cfg.ChainConfigs))
	for chainRef, chainCfg := range cfg.ChainConfigs {
		parsed, err := types.ParseChainRef(chainRef)
		if err != nil {
			return nil, walleterrors.NewValidationError("invalid chain reference in config: " + chainRef)
		}
		knownChains = append(knownChains, parsed)
		pools.SetEndpoints(chainRef, chainCfg.RPCEndpoints)
	}

	transport := rpc.NewTransport(pools, rpc.TransportConfig{
		RequestTimeout: time.Duration(cfg.RPCRequestTimeoutSeconds) * time.Second,
		MaxAttempts:    cfg.RPCMaxAttempts,
		BackoffBase:    time.Duration(cfg.RPCBackoffBaseMillis) * time.Millisecond,
	}, log)

	registry := rpc.NewRegistry(transport, log)
	registry.RegisterFactory(evm.NamespaceName, evm.NewClientFactory())

	// Endpoint set changes invalidate the cached client so the next call
	// sees the new pool.
	pools.OnEndpointChange(registry.Invalidate)

	permissions := permission.NewStore(database, evm.CapabilityResolver{}, log)
	permissions.RegisterCanonicalizer(evm.NamespaceName, evm.CanonicalAddress)

	txStore := txn.NewStore(database)
	txns := txn.NewManager(txStore, signer, cfg.PrepareConcurrency, cfg.ResumptionSweepPageSize, log)
	txns.RegisterAdapter(evm.NamespaceName, evm.NewLifecycleAdapter(registry, log))

	cleaner := txn.NewCleaner(
		txStore,
		time.Duration(cfg.CleanupIntervalSeconds)*time.Second,
		time.Duration(cfg.RetentionPeriodSeconds)*time.Second,
		log,
	)

	queue := approval.NewQueue(database, time.Duration(cfg.ApprovalTTLSeconds)*time.Second, log)
	session := NewSession(log)

	eip155, err := evm.NewNamespace(defaultChain, knownChains, queue, permissions, txns, pools, log)
	if err != nil {
		return nil, err
	}

	pipeline := dispatch.NewPipeline(session, permissions, registry, log)
	pipeline.RegisterNamespace(eip155)

	return &Wallet{
		cfg:         cfg,
		log:         log.With().Str("component", "wallet").Logger(),
		signer:      signer,
		database:    database,
		session:     session,
		queue:       queue,
		permissions: permissions,
		pools:       pools,
		transport:   transport,
		registry:    registry,
		txns:        txns,
		cleaner:     cleaner,
		pipeline:    pipeline,
		eip155:      eip155,
	}, nil
}

// Start runs the startup sweeps and launches background workers. In-flight
// state from the previous run is reconciled before any new request is served:
// pending records are failed (their approvals died with the process) and
// approved records resume toward broadcast.
func (w *Wallet) Start(ctx context.Context) error {
	failed, err := w.txns.FailAllPending("")
	if err != nil {
		return walleterrors.Wrap(err, "startup pending sweep failed")
	}
	if failed > 0 {
		w.log.Info().Int("count", failed).Msg("failed abandoned pending transactions")
	}

	if err := w.txns.ResumeApproved(ctx); err != nil {
		return walleterrors.Wrap(err, "startup resumption failed")
	}

	// Approvals journaled by a previous process can never resolve: their
	// completion handles died with it.
	abandoned, err := w.queue.FinalizeAbandoned()
	if err != nil {
		return walleterrors.Wrap(err, "startup approval sweep failed")
	}
	if abandoned > 0 {
		w.log.Info().Int("count", abandoned).Msg("finalized abandoned approvals")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.cleaner.Start(runCtx)

	w.log.Info().Msg("wallet started")
	return nil
}

// Close stops background workers and releases the database and cached
// clients.
func (w *Wallet) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.registry.Close()
	return w.database.Close()
}

// Session exposes the lock state controller.
func (w *Wallet) Session() *Session { return w.session }

// Approvals exposes the approval queue's read surface and topics.
func (w *Wallet) Approvals() *approval.Queue { return w.queue }

// Permissions exposes the permission store.
func (w *Wallet) Permissions() *permission.Store { return w.permissions }

// Transactions exposes the transaction manager.
func (w *Wallet) Transactions() *txn.Manager { return w.txns }

// EndpointHealth returns the per-chain endpoint health snapshot for the UI.
func (w *Wallet) EndpointHealth() map[string]rpcpool.HealthStatus {
	return w.pools.Snapshot()
}

// HandleRequest serves one dapp request. Errors crossing this boundary are
// translated to provider-shaped errors; internal detail stays in the logs.
func (w *Wallet) HandleRequest(ctx context.Context, method string, params json.RawMessage, reqCtx types.RequestContext) (interface{}, error) {
	result, err := w.pipeline.Handle(ctx, reqCtx.Origin, method, params, reqCtx)
	if err != nil {
		w.log.Debug().Err(err).Str("method", method).Str("origin", reqCtx.Origin).Msg("request failed")
		return nil, evm.TranslateError(err)
	}
	return result, nil
}

// Approve resolves a pending approval. chosenAccounts is consulted only for
// connect approvals, where the user picks which accounts to expose; every
// other approval type derives its action from the journaled payload.
func (w *Wallet) Approve(ctx context.Context, approvalID string, chosenAccounts []string) (interface{}, error) {
	summary, ok := w.pendingSummary(approvalID)
	if !ok {
		// Let the queue record the stale resolution attempt.
		return w.queue.Resolve(approvalID, func() (interface{}, error) { return nil, nil })
	}

	switch summary.Type {
	case approval.TypeRequestAccounts:
		return w.queue.Resolve(approvalID, func() (interface{}, error) {
			if len(chosenAccounts) == 0 {
				return nil, walleterrors.NewValidationError("at least one account must be selected")
			}
			return chosenAccounts, nil
		})

	case approval.TypeSignMessage, approval.TypeSignTypedData:
		var payload evm.SignPayload
		if err := json.Unmarshal(summary.Payload, &payload); err != nil {
			return nil, walleterrors.NewInternalError("malformed sign payload", err)
		}
		return w.queue.Resolve(approvalID, func() (interface{}, error) {
			result, err := w.signer.Sign(ctx, payload.From, signingBytes(payload.Message))
			if err != nil {
				return nil, err
			}
			return hexutil.Encode(result.Raw), nil
		})

	case approval.TypeTransaction:
		var payload evm.TransactionApprovalPayload
		if err := json.Unmarshal(summary.Payload, &payload); err != nil {
			return nil, walleterrors.NewInternalError("malformed transaction payload", err)
		}
		return w.queue.Resolve(approvalID, func() (interface{}, error) {
			meta, err := w.txns.Approve(ctx, payload.TransactionID)
			if err != nil {
				return nil, err
			}
			return meta.Hash, nil
		})

	default:
		// Chain switches and additions carry their effect in the namespace
		// handler after the approval resolves.
		return w.queue.Resolve(approvalID, func() (interface{}, error) { return nil, nil })
	}
}

// Reject fails a pending approval with a user rejection.
func (w *Wallet) Reject(approvalID string) {
	w.queue.Reject(approvalID, nil)
}

// HandleDisconnect expires every approval tied to a dead connection.
func (w *Wallet) HandleDisconnect(portID, sessionID string) int {
	return w.queue.ExpirePendingByRequestContext(portID, sessionID, approval.ReasonSessionLost)
}

// signingBytes extracts the byte content handed to the keyring. personal_sign
// messages arrive as JSON string literals and decode to their value; typed
// data stays as its raw JSON encoding.
func signingBytes(message json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(message, &s); err == nil {
		return []byte(s)
	}
	return message
}

func (w *Wallet) pendingSummary(id string) (approval.Summary, bool) {
	for _, s := range w.queue.Pending() {
		if s.ID == id {
			return s, true
		}
	}
	return approval.Summary{}, false
}
