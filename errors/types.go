package errors

import (
	"fmt"
)

// ErrorCode categorizes wallet errors so callers at the dapp/UI boundary can
// translate them into protocol-appropriate shapes.
type ErrorCode string

const (
	// ErrCodeUserRejected indicates the user (or origin) declined the request.
	ErrCodeUserRejected ErrorCode = "USER_REJECTED"

	// ErrCodeSession indicates a locked session, dead transport, or expired approval.
	ErrCodeSession ErrorCode = "SESSION"

	// ErrCodeTransport indicates an RPC transport failure (HTTP error, parse
	// error, timeout). Retryable and counted against endpoint health.
	ErrCodeTransport ErrorCode = "TRANSPORT"

	// ErrCodeApplication carries a well-formed JSON-RPC error envelope from a
	// node. Never retried, never counted against endpoint health.
	ErrCodeApplication ErrorCode = "APPLICATION"

	// ErrCodeValidation indicates malformed params or payload, rejected before
	// any side effect.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeTimeout indicates a deadline expired.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeInternal indicates an internal wallet failure.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// WalletError is the coded error crossing component boundaries.
type WalletError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// New creates a new WalletError.
func New(code ErrorCode, message string) *WalletError {
	return &WalletError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewWithCause creates a new WalletError wrapping an underlying cause.
func NewWithCause(code ErrorCode, message string, cause error) *WalletError {
	return &WalletError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Error implements the error interface.
func (e *WalletError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *WalletError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *WalletError) WithContext(key string, value interface{}) *WalletError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsRetryable reports whether a caller may retry the failed operation.
// Only transport-level failures are retryable; an application error means the
// node answered and retrying would re-submit the same request.
func (e *WalletError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTransport, ErrCodeTimeout:
		return true
	default:
		return false
	}
}

// Common constructors.

// NewUserRejected creates a user-rejection error.
func NewUserRejected(message string) *WalletError {
	if message == "" {
		message = "user rejected the request"
	}
	return New(ErrCodeUserRejected, message)
}

// NewSessionError creates a session error (locked, disconnected, expired).
func NewSessionError(message string) *WalletError {
	return New(ErrCodeSession, message)
}

// NewTransportError creates a transport error.
func NewTransportError(message string, cause error) *WalletError {
	return NewWithCause(ErrCodeTransport, message, cause)
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *WalletError {
	return New(ErrCodeValidation, message)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string) *WalletError {
	return New(ErrCodeTimeout, message)
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *WalletError {
	return NewWithCause(ErrCodeInternal, message, cause)
}

// RPCError is a JSON-RPC 2.0 error envelope passed through verbatim from a
// node. It is carried as the cause of an APPLICATION WalletError.
type RPCError struct {
	RPCCode int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.RPCCode, e.Message)
}

// NewApplicationError wraps a node-supplied JSON-RPC error envelope.
func NewApplicationError(rpcErr *RPCError) *WalletError {
	return NewWithCause(ErrCodeApplication, rpcErr.Message, rpcErr)
}
