package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is checks if an error is of a specific type.
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As checks if an error can be assigned to a target type.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// CodeOf returns the ErrorCode of a WalletError anywhere in the chain, or
// ErrCodeInternal when the error carries no code.
func CodeOf(err error) ErrorCode {
	var werr *WalletError
	if errors.As(err, &werr) {
		return werr.Code
	}
	return ErrCodeInternal
}

// HasCode checks if an error is a WalletError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var werr *WalletError
	if errors.As(err, &werr) {
		return werr.Code == code
	}
	return false
}

// IsRetryable checks if an error may be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var werr *WalletError
	if errors.As(err, &werr) {
		return werr.IsRetryable()
	}
	return false
}
