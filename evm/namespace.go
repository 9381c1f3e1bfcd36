package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pushchain/wallet-core/approval"
	"github.com/pushchain/wallet-core/config"
	"github.com/pushchain/wallet-core/dispatch"
	walleterrors "github.com/pushchain/wallet-core/errors"
	"github.com/pushchain/wallet-core/permission"
	"github.com/pushchain/wallet-core/rpcpool"
	"github.com/pushchain/wallet-core/txn"
	"github.com/pushchain/wallet-core/types"
)

// passthroughMethods may be forwarded verbatim to the chain: public reads
// that reveal no wallet state.
var passthroughMethods = map[string]bool{
	"eth_blockNumber":           true,
	"eth_call":                  true,
	"eth_gasPrice":              true,
	"eth_estimateGas":           true,
	"eth_getBalance":            true,
	"eth_getCode":               true,
	"eth_getLogs":               true,
	"eth_getTransactionByHash":  true,
	"eth_getTransactionCount":   true,
	"eth_getTransactionReceipt": true,
}

// methodCapabilities is the default capability mapping injected into the
// permission store.
var methodCapabilities = map[string]types.Capability{
	"personal_sign":              types.CapabilitySign,
	"eth_signTypedData_v4":       types.CapabilitySign,
	"eth_sendTransaction":        types.CapabilityTransaction,
	"wallet_switchEthereumChain": types.CapabilityBasic,
	"wallet_addEthereumChain":    types.CapabilityBasic,
}

// CapabilityResolver implements permission.CapabilityResolver for eip155.
type CapabilityResolver struct{}

// RequiredCapability returns the capability a method needs.
func (CapabilityResolver) RequiredCapability(method string) (types.Capability, bool) {
	capability, ok := methodCapabilities[method]
	return capability, ok
}

// Approval payload shapes.

// RequestAccountsPayload is attached to connect approvals.
type RequestAccountsPayload struct {
	Origin            string   `json:"origin"`
	SuggestedAccounts []string `json:"suggestedAccounts"`
}

// SignPayload is attached to message-signing approvals.
type SignPayload struct {
	From    string          `json:"from"`
	Message json.RawMessage `json:"message"`
}

// TransactionApprovalPayload is attached to transaction approvals; the
// transaction id lets the UI drive the state machine on resolve.
type TransactionApprovalPayload struct {
	TransactionID string      `json:"transaction_id"`
	Call          *CallObject `json:"call"`
}

// SwitchChainPayload is attached to chain-switch approvals.
type SwitchChainPayload struct {
	ChainRef types.ChainRef `json:"chain_ref"`
}

// AddChainPayload is attached to add-chain approvals.
type AddChainPayload struct {
	ChainRef types.ChainRef `json:"chain_ref"`
	Name     string         `json:"name,omitempty"`
	RPCURLs  []string       `json:"rpc_urls"`
}

// Namespace is the eip155 method surface.
type Namespace struct {
	mu           sync.RWMutex
	defaultChain types.ChainRef
	knownChains  map[types.ChainRef]bool
	originChains map[string]types.ChainRef

	queue       *approval.Queue
	permissions *permission.Store
	txns        *txn.Manager
	pools       *rpcpool.Manager
	methods     map[string]*dispatch.MethodSpec
	logger      zerolog.Logger
}

// NewNamespace creates the eip155 namespace. defaultChain must be a valid
// eip155 chain reference; knownChains lists the chains the wallet may switch
// between.
func NewNamespace(
	defaultChain types.ChainRef,
	knownChains []types.ChainRef,
	queue *approval.Queue,
	permissions *permission.Store,
	txns *txn.Manager,
	pools *rpcpool.Manager,
	logger zerolog.Logger,
) (*Namespace, error) {
	if err := defaultChain.Validate(); err != nil {
		return nil, err
	}
	if defaultChain.Namespace() != NamespaceName {
		return nil, walleterrors.NewValidationError("default chain is not an eip155 chain")
	}

	ns := &Namespace{
		defaultChain: defaultChain,
		knownChains:  make(map[types.ChainRef]bool),
		originChains: make(map[string]types.ChainRef),
		queue:        queue,
		permissions:  permissions,
		txns:         txns,
		pools:        pools,
		logger:       logger.With().Str("component", "evm_namespace").Logger(),
	}
	ns.knownChains[defaultChain] = true
	for _, c := range knownChains {
		ns.knownChains[c] = true
	}

	ns.methods = map[string]*dispatch.MethodSpec{
		"eth_chainId": {
			LockPolicy: dispatch.LockAllow,
			Handler:    ns.handleChainID,
		},
		"eth_accounts": {
			LockPolicy:     dispatch.LockResponse,
			LockedResponse: []string{},
			Handler:        ns.handleAccounts,
		},
		"eth_requestAccounts": {
			NeedsApproval: true,
			Handler:       ns.handleRequestAccounts,
		},
		"personal_sign": {
			Capability:    types.CapabilitySign,
			NeedsApproval: true,
			Handler:       ns.handlePersonalSign,
		},
		"eth_signTypedData_v4": {
			Capability:    types.CapabilitySign,
			NeedsApproval: true,
			Handler:       ns.handleSignTypedData,
		},
		"eth_sendTransaction": {
			Capability:    types.CapabilityTransaction,
			NeedsApproval: true,
			Handler:       ns.handleSendTransaction,
		},
		"wallet_switchEthereumChain": {
			Capability:    types.CapabilityBasic,
			NeedsApproval: true,
			Handler:       ns.handleSwitchChain,
		},
		"wallet_addEthereumChain": {
			Capability:    types.CapabilityBasic,
			NeedsApproval: true,
			Handler:       ns.handleAddChain,
		},
		"wallet_getPermissions": {
			LockPolicy: dispatch.LockAllow,
			Handler:    ns.handleGetPermissions,
		},
		"wallet_revokePermissions": {
			Handler: ns.handleRevokePermissions,
		},
	}
	return ns, nil
}

// Name implements dispatch.Namespace.
func (ns *Namespace) Name() string { return NamespaceName }

// Method implements dispatch.Namespace.
func (ns *Namespace) Method(name string) (*dispatch.MethodSpec, bool) {
	spec, ok := ns.methods[name]
	return spec, ok
}

// Passthrough implements dispatch.Namespace.
func (ns *Namespace) Passthrough(method string) bool {
	return passthroughMethods[method]
}

// ResolveChain returns the origin's active chain: its switch target when one
// exists, the wallet default otherwise.
func (ns *Namespace) ResolveChain(origin string) (types.ChainRef, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if chain, ok := ns.originChains[origin]; ok {
		return chain, nil
	}
	return ns.defaultChain, nil
}

// KnownChain reports whether the wallet can serve a chain.
func (ns *Namespace) KnownChain(chain types.ChainRef) bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.knownChains[chain]
}

func (ns *Namespace) handleChainID(_ context.Context, call *dispatch.Call) (interface{}, error) {
	id, err := strconv.ParseUint(call.ChainRef.Reference(), 10, 64)
	if err != nil {
		return nil, walleterrors.NewInternalError("malformed chain reference "+call.ChainRef.String(), err)
	}
	return fmt.Sprintf("0x%x", id), nil
}

func (ns *Namespace) handleAccounts(_ context.Context, call *dispatch.Call) (interface{}, error) {
	accounts := ns.permissions.PermittedAccounts(call.Origin, call.ChainRef)
	if accounts == nil {
		return []string{}, nil
	}
	return accounts, nil
}

// handleRequestAccounts runs the connect handshake. With an existing usable
// grant it answers immediately; otherwise it enqueues a requestAccounts
// approval and, on resolution, grants the dapp capability set with the
// accounts the user chose.
func (ns *Namespace) handleRequestAccounts(ctx context.Context, call *dispatch.Call) (interface{}, error) {
	if existing := ns.permissions.PermittedAccounts(call.Origin, call.ChainRef); len(existing) > 0 {
		return existing, nil
	}

	payload, _ := json.Marshal(RequestAccountsPayload{
		Origin:            call.Origin,
		SuggestedAccounts: []string{},
	})
	value, err := ns.queue.RequestApproval(ctx, approval.Task{
		ID:        uuid.NewString(),
		Type:      approval.TypeRequestAccounts,
		Origin:    call.Origin,
		Namespace: NamespaceName,
		ChainRef:  call.ChainRef,
		Payload:   payload,
	}, call.ReqCtx)
	if err != nil {
		return nil, err
	}

	accounts, err := toStringSlice(value)
	if err != nil {
		return nil, walleterrors.NewInternalError("connect approval resolved with non-account result", err)
	}

	if err := ns.permissions.SetPermittedAccounts(call.Origin, NamespaceName, call.ChainRef, accounts); err != nil {
		return nil, err
	}
	for _, capability := range []types.Capability{types.CapabilityBasic, types.CapabilitySign, types.CapabilityTransaction} {
		if err := ns.permissions.Grant(call.Origin, capability, NamespaceName, call.ChainRef); err != nil {
			return nil, err
		}
	}

	return ns.permissions.PermittedAccounts(call.Origin, call.ChainRef), nil
}

// handlePersonalSign gates a personal_sign request ([data, address]) on
// approval; the resolve executor performs the actual signature.
func (ns *Namespace) handlePersonalSign(ctx context.Context, call *dispatch.Call) (interface{}, error) {
	var params []json.RawMessage
	if err := json.Unmarshal(call.Params, &params); err != nil || len(params) < 2 {
		return nil, walleterrors.NewValidationError("personal_sign expects [data, address]")
	}
	var message string
	var address string
	if err := json.Unmarshal(params[0], &message); err != nil {
		return nil, walleterrors.NewValidationError("malformed message")
	}
	if err := json.Unmarshal(params[1], &address); err != nil {
		return nil, walleterrors.NewValidationError("malformed address")
	}
	if err := ns.requirePermittedAccount(call, address); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(SignPayload{From: address, Message: params[0]})
	return ns.queue.RequestApproval(ctx, approval.Task{
		ID:        uuid.NewString(),
		Type:      approval.TypeSignMessage,
		Origin:    call.Origin,
		Namespace: NamespaceName,
		ChainRef:  call.ChainRef,
		Payload:   payload,
	}, call.ReqCtx)
}

// handleSignTypedData gates eth_signTypedData_v4 ([address, typedData]).
func (ns *Namespace) handleSignTypedData(ctx context.Context, call *dispatch.Call) (interface{}, error) {
	var params []json.RawMessage
	if err := json.Unmarshal(call.Params, &params); err != nil || len(params) < 2 {
		return nil, walleterrors.NewValidationError("eth_signTypedData_v4 expects [address, typedData]")
	}
	var address string
	if err := json.Unmarshal(params[0], &address); err != nil {
		return nil, walleterrors.NewValidationError("malformed address")
	}
	if err := ns.requirePermittedAccount(call, address); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(SignPayload{From: address, Message: params[1]})
	return ns.queue.RequestApproval(ctx, approval.Task{
		ID:        uuid.NewString(),
		Type:      approval.TypeSignTypedData,
		Origin:    call.Origin,
		Namespace: NamespaceName,
		ChainRef:  call.ChainRef,
		Payload:   payload,
	}, call.ReqCtx)
}

// handleSendTransaction submits a pending transaction record, gates it on
// approval, and fails the record if the user rejects. The resolve executor
// drives approve → sign → broadcast and returns the hash.
func (ns *Namespace) handleSendTransaction(ctx context.Context, call *dispatch.Call) (interface{}, error) {
	var params []json.RawMessage
	if err := json.Unmarshal(call.Params, &params); err != nil || len(params) < 1 {
		return nil, walleterrors.NewValidationError("eth_sendTransaction expects [callObject]")
	}
	var callObj CallObject
	if err := json.Unmarshal(params[0], &callObj); err != nil {
		return nil, walleterrors.NewValidationError("malformed call object")
	}
	if err := ns.requirePermittedAccount(call, callObj.From); err != nil {
		return nil, err
	}

	meta, err := ns.txns.Submit(ctx, txn.SubmitParams{
		Namespace: NamespaceName,
		ChainRef:  call.ChainRef,
		Origin:    call.Origin,
		From:      callObj.From,
		Request:   params[0],
	})
	if err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(TransactionApprovalPayload{
		TransactionID: meta.ID,
		Call:          &callObj,
	})
	value, err := ns.queue.RequestApproval(ctx, approval.Task{
		ID:        uuid.NewString(),
		Type:      approval.TypeTransaction,
		Origin:    call.Origin,
		Namespace: NamespaceName,
		ChainRef:  call.ChainRef,
		Payload:   payload,
	}, call.ReqCtx)
	if err != nil {
		if walleterrors.HasCode(err, walleterrors.ErrCodeUserRejected) {
			if rejErr := ns.txns.MarkUserRejected(meta.ID); rejErr != nil {
				ns.logger.Warn().Err(rejErr).Str("id", meta.ID).Msg("failed to mark transaction rejected")
			}
		}
		return nil, err
	}
	return value, nil
}

// handleSwitchChain gates wallet_switchEthereumChain ([{chainId}]) on
// approval, then pins the origin to the target chain.
func (ns *Namespace) handleSwitchChain(ctx context.Context, call *dispatch.Call) (interface{}, error) {
	target, err := ns.parseChainParam(call.Params)
	if err != nil {
		return nil, err
	}
	if !ns.KnownChain(target) {
		return nil, walleterrors.NewValidationError("unknown chain " + target.String())
	}
	if target == call.ChainRef {
		return nil, nil
	}

	payload, _ := json.Marshal(SwitchChainPayload{ChainRef: target})
	if _, err := ns.queue.RequestApproval(ctx, approval.Task{
		ID:        uuid.NewString(),
		Type:      approval.TypeSwitchChain,
		Origin:    call.Origin,
		Namespace: NamespaceName,
		ChainRef:  call.ChainRef,
		Payload:   payload,
	}, call.ReqCtx); err != nil {
		return nil, err
	}

	ns.mu.Lock()
	ns.originChains[call.Origin] = target
	ns.mu.Unlock()
	ns.logger.Info().Str("origin", call.Origin).Str("chain", target.String()).Msg("origin switched chain")
	return nil, nil
}

// handleAddChain gates wallet_addEthereumChain on approval, then registers
// the chain and its endpoints.
func (ns *Namespace) handleAddChain(ctx context.Context, call *dispatch.Call) (interface{}, error) {
	var params []struct {
		ChainID   string   `json:"chainId"`
		ChainName string   `json:"chainName"`
		RPCURLs   []string `json:"rpcUrls"`
	}
	if err := json.Unmarshal(call.Params, &params); err != nil || len(params) < 1 {
		return nil, walleterrors.NewValidationError("wallet_addEthereumChain expects [chainDescriptor]")
	}
	req := params[0]
	target, err := chainRefFromHexID(req.ChainID)
	if err != nil {
		return nil, err
	}
	if len(req.RPCURLs) == 0 {
		return nil, walleterrors.NewValidationError("at least one rpc url is required")
	}

	payload, _ := json.Marshal(AddChainPayload{ChainRef: target, Name: req.ChainName, RPCURLs: req.RPCURLs})
	if _, err := ns.queue.RequestApproval(ctx, approval.Task{
		ID:        uuid.NewString(),
		Type:      approval.TypeAddChain,
		Origin:    call.Origin,
		Namespace: NamespaceName,
		ChainRef:  call.ChainRef,
		Payload:   payload,
	}, call.ReqCtx); err != nil {
		return nil, err
	}

	endpoints := make([]config.EndpointConfig, len(req.RPCURLs))
	for i, u := range req.RPCURLs {
		endpoints[i] = config.EndpointConfig{URL: u}
	}
	ns.pools.SetEndpoints(target.String(), endpoints)

	ns.mu.Lock()
	ns.knownChains[target] = true
	ns.mu.Unlock()
	ns.logger.Info().Str("chain", target.String()).Msg("chain added")
	return nil, nil
}

func (ns *Namespace) handleGetPermissions(_ context.Context, call *dispatch.Call) (interface{}, error) {
	return ns.permissions.GrantsFor(call.Origin), nil
}

func (ns *Namespace) handleRevokePermissions(_ context.Context, call *dispatch.Call) (interface{}, error) {
	if err := ns.permissions.Clear(call.Origin); err != nil {
		return nil, err
	}
	return nil, nil
}

// requirePermittedAccount fails unless address is exposed to the origin on
// its active chain.
func (ns *Namespace) requirePermittedAccount(call *dispatch.Call, address string) error {
	canonical, err := CanonicalAddress(address)
	if err != nil {
		return err
	}
	for _, permitted := range ns.permissions.PermittedAccounts(call.Origin, call.ChainRef) {
		if sameAddress(permitted, canonical) {
			return nil
		}
	}
	return walleterrors.New(walleterrors.ErrCodeUserRejected, "account "+address+" is not exposed to "+call.Origin)
}

// parseChainParam extracts the target ChainRef from [{chainId}] params.
func (ns *Namespace) parseChainParam(raw json.RawMessage) (types.ChainRef, error) {
	var params []struct {
		ChainID string `json:"chainId"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || len(params) < 1 {
		return "", walleterrors.NewValidationError("expected [{chainId}]")
	}
	return chainRefFromHexID(params[0].ChainID)
}

// chainRefFromHexID converts an 0x-prefixed hex chain id into an eip155
// chain reference.
func chainRefFromHexID(hexID string) (types.ChainRef, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(hexID), "0x")
	if trimmed == "" || trimmed == hexID {
		return "", walleterrors.NewValidationError("chainId must be 0x-prefixed hex")
	}
	id, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return "", walleterrors.NewValidationError("malformed chainId " + hexID)
	}
	return types.NewChainRef(NamespaceName, strconv.FormatUint(id, 10)), nil
}

func toStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected element %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected type %T", value)
	}
}
