package evm

import (
	"strings"

	"github.com/pkg/errors"

	walleterrors "github.com/pushchain/wallet-core/errors"
)

// EIP-1193 / JSON-RPC error codes surfaced to dapps.
const (
	codeUserRejected   = 4001
	codeDisconnected   = 4900
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

// ProviderError is the protocol shape crossing the dapp boundary.
type ProviderError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *ProviderError) Error() string {
	return e.Message
}

func errInvalidAddress(address string) error {
	return walleterrors.NewValidationError("invalid address " + address)
}

// TranslateError converts a wallet error into the provider shape. Unknown or
// malformed errors fall back to a generic internal encoding rather than
// escaping the boundary untranslated.
func TranslateError(err error) *ProviderError {
	if err == nil {
		return nil
	}

	var werr *walleterrors.WalletError
	if !errors.As(err, &werr) {
		return &ProviderError{Code: codeInternalError, Message: "internal error"}
	}

	switch werr.Code {
	case walleterrors.ErrCodeUserRejected:
		return &ProviderError{Code: codeUserRejected, Message: werr.Message}
	case walleterrors.ErrCodeSession:
		return &ProviderError{Code: codeDisconnected, Message: werr.Message}
	case walleterrors.ErrCodeValidation:
		code := codeInvalidParams
		if strings.HasPrefix(werr.Message, "method not implemented") {
			code = codeMethodNotFound
		}
		return &ProviderError{Code: code, Message: werr.Message}
	case walleterrors.ErrCodeApplication:
		// Pass the node's envelope through verbatim.
		var rpcErr *walleterrors.RPCError
		if errors.As(werr.Cause, &rpcErr) {
			return &ProviderError{Code: rpcErr.RPCCode, Message: rpcErr.Message, Data: rpcErr.Data}
		}
		return &ProviderError{Code: codeInternalError, Message: werr.Message}
	default:
		return &ProviderError{Code: codeInternalError, Message: werr.Message}
	}
}
