package rpc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/wallet-core/types"
)

// Client is a chain-scoped JSON-RPC client produced by a namespace factory.
type Client interface {
	// Call issues a method on the client's chain.
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)

	// Close releases client resources.
	Close() error
}

// ClientFactory builds a client for one chain within a namespace.
type ClientFactory func(chainRef types.ChainRef, transport *Transport) (Client, error)

// Registry maintains one lazily built client per (namespace, chainRef).
// Cached clients are purged whenever the endpoint pool for their chain
// changes, since they may hold endpoint-specific state.
type Registry struct {
	mu        sync.Mutex
	transport *Transport
	factories map[string]ClientFactory
	clients   map[types.ChainRef]Client
	logger    zerolog.Logger
}

// NewRegistry creates a client registry over the transport.
func NewRegistry(transport *Transport, logger zerolog.Logger) *Registry {
	return &Registry{
		transport: transport,
		factories: make(map[string]ClientFactory),
		clients:   make(map[types.ChainRef]Client),
		logger:    logger.With().Str("component", "rpc_registry").Logger(),
	}
}

// RegisterFactory installs the client factory for a namespace.
func (r *Registry) RegisterFactory(namespace string, factory ClientFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[namespace] = factory
}

// GetClient returns the client for a chain, building it on first use.
func (r *Registry) GetClient(chainRef types.ChainRef) (Client, error) {
	if err := chainRef.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[chainRef]; ok {
		return client, nil
	}

	factory, ok := r.factories[chainRef.Namespace()]
	if !ok {
		return nil, errors.Errorf("no client factory registered for namespace %s", chainRef.Namespace())
	}

	client, err := factory(chainRef, r.transport)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build client for %s", chainRef)
	}

	r.clients[chainRef] = client
	r.logger.Debug().Str("chain", chainRef.String()).Msg("client created")
	return client, nil
}

// Invalidate drops every cached client for a chain. Registered as an
// endpoint-change listener on the pool manager.
func (r *Registry) Invalidate(chainRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ref, client := range r.clients {
		if ref.String() != chainRef {
			continue
		}
		if err := client.Close(); err != nil {
			r.logger.Warn().Err(err).Str("chain", chainRef).Msg("error closing invalidated client")
		}
		delete(r.clients, ref)
		r.logger.Info().Str("chain", chainRef).Msg("cached client invalidated")
	}
}

// Close closes and drops every cached client.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ref, client := range r.clients {
		if err := client.Close(); err != nil {
			r.logger.Warn().Err(err).Str("chain", ref.String()).Msg("error closing client")
		}
	}
	r.clients = make(map[types.ChainRef]Client)
}

// CachedCount returns the number of cached clients.
func (r *Registry) CachedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
