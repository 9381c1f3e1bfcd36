// Package evm is the reference EVM-style namespace adapter: the eip155
// method surface, request normalization, the transaction lifecycle adapter,
// and the dapp-boundary error translation.
package evm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pushchain/wallet-core/rpc"
	"github.com/pushchain/wallet-core/types"
)

// NamespaceName is the CAIP namespace for EVM chains.
const NamespaceName = "eip155"

// client is the eip155 rpc.Client: a thin chain-scoped view of the shared
// transport.
type client struct {
	chainRef  types.ChainRef
	transport *rpc.Transport
}

// NewClientFactory returns the rpc.ClientFactory for the eip155 namespace.
func NewClientFactory() rpc.ClientFactory {
	return func(chainRef types.ChainRef, transport *rpc.Transport) (rpc.Client, error) {
		return &client{chainRef: chainRef, transport: transport}, nil
	}
}

func (c *client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return c.transport.Call(ctx, c.chainRef.String(), method, params)
}

func (c *client) Close() error {
	return nil
}

// CanonicalAddress normalizes an EVM address to its EIP-55 checksummed form.
func CanonicalAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", errInvalidAddress(address)
	}
	return common.HexToAddress(address).Hex(), nil
}

// sameAddress compares two hex addresses case-insensitively.
func sameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
