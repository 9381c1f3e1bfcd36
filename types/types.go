// Package types holds the small vocabulary shared across wallet-core
// components: chain references, capabilities, and request contexts.
package types

import (
	"fmt"
	"strings"
)

// ChainRef is a namespace-qualified chain identifier in the form
// "namespace:reference", e.g. "eip155:1".
type ChainRef string

// ParseChainRef validates and returns a ChainRef.
func ParseChainRef(s string) (ChainRef, error) {
	ref := ChainRef(s)
	if err := ref.Validate(); err != nil {
		return "", err
	}
	return ref, nil
}

// NewChainRef builds a ChainRef from its parts.
func NewChainRef(namespace, reference string) ChainRef {
	return ChainRef(namespace + ":" + reference)
}

// Validate checks the "namespace:reference" shape.
func (c ChainRef) Validate() error {
	parts := strings.SplitN(string(c), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid chain reference %q: want namespace:reference", string(c))
	}
	return nil
}

// Namespace returns the blockchain ecosystem identifier, e.g. "eip155".
func (c ChainRef) Namespace() string {
	parts := strings.SplitN(string(c), ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[0]
}

// Reference returns the chain-specific identifier within the namespace.
func (c ChainRef) Reference() string {
	parts := strings.SplitN(string(c), ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

func (c ChainRef) String() string {
	return string(c)
}

// Capability names a permission grantable per origin/chain.
type Capability string

const (
	CapabilityBasic       Capability = "basic"
	CapabilityAccounts    Capability = "accounts"
	CapabilitySign        Capability = "sign"
	CapabilityTransaction Capability = "transaction"
)

// Valid reports whether the capability is one of the known set.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityBasic, CapabilityAccounts, CapabilitySign, CapabilityTransaction:
		return true
	default:
		return false
	}
}

// RequestContext identifies the connection that issued a request. Approvals
// record it so that tasks whose originating connection has vanished can be
// bulk-expired.
type RequestContext struct {
	Transport string `json:"transport"`
	PortID    string `json:"port_id"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Origin    string `json:"origin"`
}

// InternalOrigin marks requests issued by the wallet's own UI rather than a
// web page. Internal requests bypass the permission and lock guards.
const InternalOrigin = "wallet-internal"
