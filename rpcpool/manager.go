package rpcpool

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/wallet-core/config"
)

// Pool holds the endpoint set for one chain.
type Pool struct {
	mu        sync.RWMutex
	chainRef  string
	endpoints []*Endpoint
	logger    zerolog.Logger
}

// NewPool creates a pool from configured endpoints, preserving priority order.
func NewPool(chainRef string, endpoints []config.EndpointConfig, logger zerolog.Logger) *Pool {
	p := &Pool{
		chainRef: chainRef,
		logger:   logger.With().Str("component", "rpc_pool").Str("chain", chainRef).Logger(),
	}
	for i, ep := range endpoints {
		p.endpoints = append(p.endpoints, NewEndpoint(i, ep.URL, ep.Headers))
	}
	return p
}

// ActiveEndpoint picks the endpoint the next attempt should use: the usable
// endpoint with the highest health score, ties broken by priority order.
// When every endpoint is unhealthy the least-bad one is returned so the
// transport can still try, rather than failing without a request.
func (p *Pool) ActiveEndpoint() (*Endpoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.endpoints) == 0 {
		return nil, errors.Errorf("no endpoints configured for chain %s", p.chainRef)
	}

	var best *Endpoint
	for _, ep := range p.endpoints {
		if !ep.IsUsable() {
			continue
		}
		if best == nil || ep.Metrics.GetHealthScore() > best.Metrics.GetHealthScore() {
			best = ep
		}
	}
	if best != nil {
		return best, nil
	}

	// All unhealthy: fall back to the highest score overall.
	best = p.endpoints[0]
	for _, ep := range p.endpoints[1:] {
		if ep.Metrics.GetHealthScore() > best.Metrics.GetHealthScore() {
			best = ep
		}
	}
	p.logger.Warn().Str("url", best.URL).Msg("all endpoints unhealthy, using least-bad endpoint")
	return best, nil
}

// ReportSuccess records a successful request against an endpoint.
func (p *Pool) ReportSuccess(index int, latency time.Duration) {
	if ep := p.endpoint(index); ep != nil {
		ep.Metrics.UpdateSuccess(latency)
	}
}

// ReportFailure records a failed request against an endpoint.
func (p *Pool) ReportFailure(index int, err error, latency time.Duration) {
	ep := p.endpoint(index)
	if ep == nil {
		return
	}
	ep.Metrics.UpdateFailure(err, latency)
	p.logger.Debug().
		Err(err).
		Str("url", ep.URL).
		Int("consecutive_failures", ep.Metrics.GetConsecutiveFailures()).
		Msg("endpoint failure reported")
}

func (p *Pool) endpoint(index int) *Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if index < 0 || index >= len(p.endpoints) {
		return nil
	}
	return p.endpoints[index]
}

// EndpointStatus is a point-in-time view of one endpoint, for diagnostics.
type EndpointStatus struct {
	Index               int     `json:"index"`
	URL                 string  `json:"url"`
	State               string  `json:"state"`
	HealthScore         float64 `json:"health_score"`
	SuccessCount        uint64  `json:"success_count"`
	FailureCount        uint64  `json:"failure_count"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
}

// HealthStatus is a point-in-time view of a pool.
type HealthStatus struct {
	ChainRef       string           `json:"chain_ref"`
	TotalEndpoints int              `json:"total_endpoints"`
	HealthyCount   int              `json:"healthy_count"`
	Endpoints      []EndpointStatus `json:"endpoints"`
}

// Snapshot returns the pool's current health status.
func (p *Pool) Snapshot() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := HealthStatus{
		ChainRef:       p.chainRef,
		TotalEndpoints: len(p.endpoints),
	}
	for _, ep := range p.endpoints {
		success, failure := ep.Metrics.Counts()
		st := ep.State()
		if st != StateUnhealthy {
			status.HealthyCount++
		}
		status.Endpoints = append(status.Endpoints, EndpointStatus{
			Index:               ep.Index,
			URL:                 ep.URL,
			State:               st.String(),
			HealthScore:         ep.Metrics.GetHealthScore(),
			SuccessCount:        success,
			FailureCount:        failure,
			ConsecutiveFailures: ep.Metrics.GetConsecutiveFailures(),
		})
	}
	return status
}

// ChangeListener is notified with the chain reference whose endpoint set (or
// chain metadata) changed. The RPC client registry uses this to purge cached
// clients that may hold endpoint-specific state.
type ChangeListener func(chainRef string)

// Manager owns one Pool per chain and fans out endpoint-change notifications.
type Manager struct {
	mu        sync.RWMutex
	pools     map[string]*Pool
	listeners map[int]ChangeListener
	nextID    int
	logger    zerolog.Logger
}

// NewManager creates an empty pool manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		pools:     make(map[string]*Pool),
		listeners: make(map[int]ChangeListener),
		logger:    logger.With().Str("component", "rpc_pool_manager").Logger(),
	}
}

// SetEndpoints installs (or replaces) the endpoint set for a chain and
// notifies change listeners. Existing endpoint metrics are discarded: a new
// endpoint set starts with a clean health slate.
func (m *Manager) SetEndpoints(chainRef string, endpoints []config.EndpointConfig) {
	m.mu.Lock()
	m.pools[chainRef] = NewPool(chainRef, endpoints, m.logger)
	listeners := make([]ChangeListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	m.logger.Info().
		Str("chain", chainRef).
		Int("endpoints", len(endpoints)).
		Msg("endpoint set updated")

	for _, l := range listeners {
		l(chainRef)
	}
}

// GetPool returns the pool for a chain, or nil when none is configured.
func (m *Manager) GetPool(chainRef string) *Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pools[chainRef]
}

// OnEndpointChange registers a listener; the returned function removes it.
func (m *Manager) OnEndpointChange(l ChangeListener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// NotifyChainChanged fans out a chain-metadata change without replacing the
// endpoint set. Cached clients for the chain must be invalidated.
func (m *Manager) NotifyChainChanged(chainRef string) {
	m.mu.RLock()
	listeners := make([]ChangeListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.RUnlock()

	for _, l := range listeners {
		l(chainRef)
	}
}

// Snapshot returns health status for every configured chain.
func (m *Manager) Snapshot() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]HealthStatus, len(m.pools))
	for chainRef, pool := range m.pools {
		out[chainRef] = pool.Snapshot()
	}
	return out
}
