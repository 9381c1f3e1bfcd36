// Package keyring defines the narrow signing collaborator consumed by the
// transaction state machine. Key derivation and storage live outside the
// wallet core.
package keyring

import "context"

// SignResult carries the signed payload. Hash is optional: namespaces whose
// signers do not compute a hash leave it empty and the chain adapter derives
// one from Raw.
type SignResult struct {
	Raw  []byte
	Hash string
}

// Signer signs an opaque payload with the key behind accountID.
type Signer interface {
	Sign(ctx context.Context, accountID string, payload []byte) (SignResult, error)
}
