package evm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	walleterrors "github.com/pushchain/wallet-core/errors"
	"github.com/pushchain/wallet-core/rpc"
	"github.com/pushchain/wallet-core/txn"
	"github.com/pushchain/wallet-core/types"
)

// CallObject is the EVM transaction request payload carried by a
// TransactionRecord.
type CallObject struct {
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Value    string `json:"value,omitempty"`
	Data     string `json:"data,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
}

// LifecycleAdapter implements txn.ChainAdapter for eip155 chains.
type LifecycleAdapter struct {
	registry *rpc.Registry
	logger   zerolog.Logger
}

// NewLifecycleAdapter creates the EVM lifecycle adapter over the registry.
func NewLifecycleAdapter(registry *rpc.Registry, logger zerolog.Logger) *LifecycleAdapter {
	return &LifecycleAdapter{
		registry: registry,
		logger:   logger.With().Str("component", "evm_adapter").Logger(),
	}
}

// PrepareDraft normalizes the call object and fills in gas, gas price, and
// nonce from the chain. Individual estimate failures degrade to issues so the
// user still sees a best-effort summary.
func (a *LifecycleAdapter) PrepareDraft(ctx context.Context, meta txn.Meta) (*txn.Draft, []string, []string, error) {
	call, err := decodeCall(meta.Request)
	if err != nil {
		return nil, nil, nil, err
	}

	var warnings, issues []string

	client, err := a.registry.GetClient(meta.ChainRef)
	if err != nil {
		return nil, nil, []string{"no rpc client: " + err.Error()}, nil
	}

	if call.GasPrice == "" {
		if price, err := a.callString(ctx, client, "eth_gasPrice"); err != nil {
			issues = append(issues, "gas price estimate failed: "+err.Error())
		} else {
			call.GasPrice = price
		}
	}
	if call.Gas == "" {
		if gas, err := a.callStringWith(ctx, client, "eth_estimateGas", []interface{}{call}); err != nil {
			issues = append(issues, "gas estimate failed: "+err.Error())
		} else {
			call.Gas = gas
		}
	}
	if call.Nonce == "" {
		if nonce, err := a.callStringWith(ctx, client, "eth_getTransactionCount", []interface{}{call.From, "pending"}); err != nil {
			issues = append(issues, "nonce fetch failed: "+err.Error())
		} else {
			call.Nonce = nonce
		}
	}
	if call.To == "" && call.Data == "" {
		warnings = append(warnings, "transaction has no recipient and no data")
	}

	normalized, err := json.Marshal(call)
	if err != nil {
		return nil, warnings, issues, walleterrors.NewInternalError("failed to encode draft", err)
	}

	return &txn.Draft{
		Normalized:  normalized,
		FeeEstimate: call.GasPrice,
		GasLimit:    call.Gas,
		PreparedAt:  time.Now(),
	}, warnings, issues, nil
}

// SignPayload hands the normalized call object (or the raw request when no
// draft was prepared) to the keyring as the signing input.
func (a *LifecycleAdapter) SignPayload(meta txn.Meta) (string, []byte, error) {
	call, err := decodeCall(meta.Request)
	if err != nil {
		return "", nil, err
	}
	if call.From == "" {
		return "", nil, walleterrors.NewValidationError("transaction has no from address")
	}

	payload := meta.Request
	if meta.Draft != nil && len(meta.Draft.Normalized) > 0 {
		payload = meta.Draft.Normalized
	}
	return call.From, payload, nil
}

// HashFromSigned decodes an RLP-encoded signed transaction and derives its
// canonical lower-case hash.
func (a *LifecycleAdapter) HashFromSigned(raw []byte) (string, error) {
	var tx ethtypes.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", walleterrors.NewInternalError("failed to decode signed transaction", err)
	}
	return strings.ToLower(tx.Hash().Hex()), nil
}

// Broadcast submits the signed payload via eth_sendRawTransaction.
func (a *LifecycleAdapter) Broadcast(ctx context.Context, chainRef types.ChainRef, raw []byte) (string, error) {
	client, err := a.registry.GetClient(chainRef)
	if err != nil {
		return "", err
	}

	result, err := client.Call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(raw)})
	if err != nil {
		return "", err
	}

	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", walleterrors.NewInternalError("malformed broadcast result", err)
	}
	return strings.ToLower(hash), nil
}

func (a *LifecycleAdapter) callString(ctx context.Context, client rpc.Client, method string) (string, error) {
	return a.callStringWith(ctx, client, method, nil)
}

func (a *LifecycleAdapter) callStringWith(ctx context.Context, client rpc.Client, method string, params interface{}) (string, error) {
	result, err := client.Call(ctx, method, params)
	if err != nil {
		return "", err
	}
	var out string
	if err := json.Unmarshal(result, &out); err != nil {
		return "", walleterrors.NewInternalError("malformed result for "+method, err)
	}
	return out, nil
}

func decodeCall(request json.RawMessage) (*CallObject, error) {
	var call CallObject
	if err := json.Unmarshal(request, &call); err != nil {
		return nil, walleterrors.NewValidationError("malformed transaction request")
	}
	return &call, nil
}
