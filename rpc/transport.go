// Package rpc implements the JSON-RPC transport and the per-chain client
// registry. The transport resolves the active endpoint fresh on every
// attempt, applies a per-attempt timeout, retries transport failures with
// exponential backoff, and reports outcomes to the endpoint pool. Well-formed
// JSON-RPC error envelopes are application errors: returned verbatim, never
// retried, never counted against endpoint health.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	walleterrors "github.com/pushchain/wallet-core/errors"
	"github.com/pushchain/wallet-core/rpcpool"
)

const (
	// DefaultRequestTimeout bounds each attempt.
	DefaultRequestTimeout = 15 * time.Second

	// DefaultMaxAttempts is the attempt budget per logical request.
	DefaultMaxAttempts = 2

	// DefaultBackoffBase is the base of the exponential retry backoff.
	DefaultBackoffBase = 300 * time.Millisecond

	maxBackoff = 10 * time.Second
)

// PoolSource resolves the endpoint pool for a chain. Satisfied by
// *rpcpool.Manager.
type PoolSource interface {
	GetPool(chainRef string) *rpcpool.Pool
}

// request is the JSON-RPC 2.0 request envelope.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// response is the JSON-RPC 2.0 response envelope.
type response struct {
	JSONRPC string                  `json:"jsonrpc"`
	ID      uint64                  `json:"id"`
	Result  json.RawMessage         `json:"result,omitempty"`
	Error   *walleterrors.RPCError  `json:"error,omitempty"`
}

// TransportConfig tunes the transport; zero values take defaults.
type TransportConfig struct {
	RequestTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
}

// Transport issues JSON-RPC calls over HTTP with retry and failover.
type Transport struct {
	httpClient *http.Client
	pools      PoolSource
	timeout    time.Duration
	attempts   int
	backoff    time.Duration
	idCounter  atomic.Uint64
	logger     zerolog.Logger
}

// NewTransport creates a transport over the given endpoint pools.
func NewTransport(pools PoolSource, cfg TransportConfig, logger zerolog.Logger) *Transport {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	return &Transport{
		httpClient: &http.Client{},
		pools:      pools,
		timeout:    cfg.RequestTimeout,
		attempts:   cfg.MaxAttempts,
		backoff:    cfg.BackoffBase,
		logger:     logger.With().Str("component", "rpc_transport").Logger(),
	}
}

// Call performs a JSON-RPC request against the chain's active endpoint and
// returns the raw result. Attempts within one call are sequential; the active
// endpoint is re-resolved before each attempt because an endpoint may be
// replaced or demoted mid-retry.
func (t *Transport) Call(ctx context.Context, chainRef string, method string, params interface{}) (json.RawMessage, error) {
	pool := t.pools.GetPool(chainRef)
	if pool == nil {
		return nil, walleterrors.New(walleterrors.ErrCodeValidation, "no endpoints configured for chain "+chainRef)
	}

	var lastErr error
	lastURL := ""
	for attempt := 1; attempt <= t.attempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, walleterrors.NewWithCause(walleterrors.ErrCodeTimeout, "rpc call cancelled", ctx.Err())
		default:
		}

		endpoint, err := pool.ActiveEndpoint()
		if err != nil {
			return nil, walleterrors.NewWithCause(walleterrors.ErrCodeValidation, "no usable endpoint", err)
		}
		lastURL = endpoint.URL

		start := time.Now()
		result, rpcErr, err := t.attempt(ctx, endpoint, method, params)
		latency := time.Since(start)

		if err != nil {
			// Transport failure: penalize the endpoint and retry.
			pool.ReportFailure(endpoint.Index, err, latency)
			lastErr = err
			t.logger.Warn().
				Err(err).
				Str("chain", chainRef).
				Str("method", method).
				Str("endpoint", endpoint.URL).
				Int("attempt", attempt).
				Int("max_attempts", t.attempts).
				Msg("rpc attempt failed")

			if attempt < t.attempts {
				delay := walleterrors.ExponentialBackoff(attempt, t.backoff, maxBackoff)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, walleterrors.NewWithCause(walleterrors.ErrCodeTimeout, "rpc call cancelled during backoff", ctx.Err())
				}
			}
			continue
		}

		// The node responded; the endpoint is healthy either way.
		pool.ReportSuccess(endpoint.Index, latency)

		if rpcErr != nil {
			return nil, walleterrors.NewApplicationError(rpcErr)
		}
		return result, nil
	}

	return nil, walleterrors.NewInternalError("rpc call exhausted retry attempts", lastErr).
		WithContext("method", method).
		WithContext("endpoint", lastURL).
		WithContext("attempts", t.attempts)
}

// attempt performs a single HTTP round trip. A non-nil error means transport
// failure; a non-nil rpcErr means the node returned an error envelope.
func (t *Transport) attempt(ctx context.Context, endpoint *rpcpool.Endpoint, method string, params interface{}) (json.RawMessage, *walleterrors.RPCError, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      t.idCounter.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, nil, walleterrors.NewTransportError("failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, walleterrors.NewTransportError("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range endpoint.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, nil, walleterrors.NewTimeoutError("rpc request timed out")
		}
		return nil, nil, walleterrors.NewTransportError("http request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, walleterrors.NewTransportError("unexpected http status "+resp.Status, nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, walleterrors.NewTransportError("failed to read response body", err)
	}

	var envelope response
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, nil, walleterrors.NewTransportError("malformed json-rpc response", err)
	}

	if envelope.Error != nil {
		return nil, envelope.Error, nil
	}
	return envelope.Result, nil, nil
}
