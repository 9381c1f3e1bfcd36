// Package rpcpool tracks the configured JSON-RPC endpoints for each chain,
// scores their health from reported outcomes, and picks the active endpoint
// the transport should use for its next attempt.
package rpcpool

import (
	"sync"
	"time"
)

// EndpointState represents the current state of an RPC endpoint.
type EndpointState int

const (
	StateHealthy EndpointState = iota
	StateDegraded
	StateUnhealthy
)

func (s EndpointState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// degradedThreshold and unhealthyThreshold are the consecutive-failure counts
// at which an endpoint is demoted.
const (
	degradedThreshold  = 2
	unhealthyThreshold = 5
)

// EndpointMetrics tracks outcome metrics for an endpoint.
type EndpointMetrics struct {
	mu                  sync.RWMutex
	SuccessCount        uint64
	FailureCount        uint64
	ConsecutiveFailures int
	AverageLatency      time.Duration
	LastSuccessTime     time.Time
	LastErrorTime       time.Time
	LastError           error
	HealthScore         float64 // 0-100, from success rate, latency, and consecutive failures
}

// UpdateSuccess records a successful request.
func (m *EndpointMetrics) UpdateSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SuccessCount++
	m.ConsecutiveFailures = 0
	m.LastSuccessTime = time.Now()

	if m.AverageLatency == 0 {
		m.AverageLatency = latency
	} else {
		// Exponential moving average with alpha = 0.1
		m.AverageLatency = time.Duration(float64(m.AverageLatency)*0.9 + float64(latency)*0.1)
	}

	m.calculateHealthScore()
}

// UpdateFailure records a failed request.
func (m *EndpointMetrics) UpdateFailure(err error, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FailureCount++
	m.ConsecutiveFailures++
	m.LastErrorTime = time.Now()
	m.LastError = err

	if latency > 0 && m.AverageLatency > 0 {
		m.AverageLatency = time.Duration(float64(m.AverageLatency)*0.9 + float64(latency)*0.1)
	}

	m.calculateHealthScore()
}

// calculateHealthScore computes the health score under m.mu.
func (m *EndpointMetrics) calculateHealthScore() {
	total := m.SuccessCount + m.FailureCount
	if total == 0 {
		m.HealthScore = 100.0
		return
	}

	successRate := float64(m.SuccessCount) / float64(total)
	baseScore := successRate * 100.0

	// Latency penalty above a 1s baseline, capped at 20 points
	latencyPenalty := 0.0
	if m.AverageLatency > time.Second {
		latencyPenalty = (m.AverageLatency.Seconds() - 1.0) * 5.0
		if latencyPenalty > 20.0 {
			latencyPenalty = 20.0
		}
	}

	// Consecutive failure penalty, capped at 50 points
	failurePenalty := float64(m.ConsecutiveFailures) * 10.0
	if failurePenalty > 50.0 {
		failurePenalty = 50.0
	}

	m.HealthScore = baseScore - latencyPenalty - failurePenalty
	if m.HealthScore < 0 {
		m.HealthScore = 0
	}
}

// GetHealthScore returns the current health score.
func (m *EndpointMetrics) GetHealthScore() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.HealthScore
}

// GetConsecutiveFailures returns the consecutive failure count.
func (m *EndpointMetrics) GetConsecutiveFailures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConsecutiveFailures
}

// Counts returns the success and failure totals.
func (m *EndpointMetrics) Counts() (success, failure uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.SuccessCount, m.FailureCount
}

// Endpoint is one configured JSON-RPC endpoint for a chain.
type Endpoint struct {
	Index   int
	URL     string
	Headers map[string]string
	Metrics *EndpointMetrics
}

// NewEndpoint creates a new endpoint at the given priority index.
func NewEndpoint(index int, url string, headers map[string]string) *Endpoint {
	return &Endpoint{
		Index:   index,
		URL:     url,
		Headers: headers,
		Metrics: &EndpointMetrics{HealthScore: 100.0},
	}
}

// State derives the endpoint state from its consecutive failures.
func (e *Endpoint) State() EndpointState {
	failures := e.Metrics.GetConsecutiveFailures()
	switch {
	case failures >= unhealthyThreshold:
		return StateUnhealthy
	case failures >= degradedThreshold:
		return StateDegraded
	default:
		return StateHealthy
	}
}

// IsUsable reports whether the endpoint may serve requests.
func (e *Endpoint) IsUsable() bool {
	return e.State() != StateUnhealthy
}
