// Package dispatch orders every inbound call through a fixed pipeline:
// invocation-context resolution, locked-session guard, permission guard, and
// finally the method executor. Unknown methods are rejected unless the
// namespace declares them in its passthrough allow-list, in which case they
// are forwarded verbatim to the RPC client registry.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	walleterrors "github.com/pushchain/wallet-core/errors"
	"github.com/pushchain/wallet-core/permission"
	"github.com/pushchain/wallet-core/rpc"
	"github.com/pushchain/wallet-core/types"
)

// LockPolicy declares how a method behaves while the session is locked.
type LockPolicy string

const (
	// LockAllow lets the call through regardless of lock state.
	LockAllow LockPolicy = "allow"

	// LockResponse answers locked sessions with a fixed response.
	LockResponse LockPolicy = "response"

	// LockDeny rejects locked sessions. The default. Approval-gated methods
	// are let through anyway so they can still enqueue an approval; the UI
	// forces an unlock before the user can complete it.
	LockDeny LockPolicy = "deny"
)

// Call carries one inbound request through the pipeline.
type Call struct {
	Method    string
	Params    json.RawMessage
	Origin    string
	Namespace string
	ChainRef  types.ChainRef
	ReqCtx    types.RequestContext
}

// Handler executes a method once the guards have passed.
type Handler func(ctx context.Context, call *Call) (interface{}, error)

// MethodSpec declares a method's guard requirements and executor.
type MethodSpec struct {
	// Capability required to call the method; empty means no permission
	// check (e.g. the connect handshake itself).
	Capability types.Capability

	// NeedsApproval marks consent-gated methods.
	NeedsApproval bool

	// LockPolicy for locked sessions; empty means LockDeny.
	LockPolicy LockPolicy

	// LockedResponse is returned verbatim under LockResponse.
	LockedResponse interface{}

	Handler Handler
}

// Namespace is one blockchain ecosystem's method surface.
type Namespace interface {
	// Name returns the namespace identifier, e.g. "eip155".
	Name() string

	// ResolveChain returns the active chain for an origin.
	ResolveChain(origin string) (types.ChainRef, error)

	// Method returns the spec for a declared method.
	Method(name string) (*MethodSpec, bool)

	// Passthrough reports whether an undeclared method may be forwarded
	// verbatim to the chain.
	Passthrough(method string) bool
}

// SessionState reports whether the wallet session is locked.
type SessionState interface {
	Locked() bool
}

// Pipeline routes inbound calls.
type Pipeline struct {
	namespaces  []Namespace
	session     SessionState
	permissions *permission.Store
	registry    *rpc.Registry
	logger      zerolog.Logger
}

// NewPipeline creates the dispatch pipeline.
func NewPipeline(session SessionState, permissions *permission.Store, registry *rpc.Registry, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		session:     session,
		permissions: permissions,
		registry:    registry,
		logger:      logger.With().Str("component", "dispatch").Logger(),
	}
}

// RegisterNamespace adds a namespace's method surface.
func (p *Pipeline) RegisterNamespace(ns Namespace) {
	p.namespaces = append(p.namespaces, ns)
}

// Handle runs one inbound call through the pipeline.
func (p *Pipeline) Handle(ctx context.Context, origin, method string, params json.RawMessage, reqCtx types.RequestContext) (interface{}, error) {
	if origin == "" {
		return nil, walleterrors.NewValidationError("origin is required")
	}

	// Resolve invocation context: the namespace owning the method and the
	// origin's active chain within it.
	ns, spec, passthrough := p.resolve(method)
	if ns == nil {
		return nil, walleterrors.NewValidationError("method not implemented: " + method)
	}

	chainRef, err := ns.ResolveChain(origin)
	if err != nil {
		return nil, err
	}

	call := &Call{
		Method:    method,
		Params:    params,
		Origin:    origin,
		Namespace: ns.Name(),
		ChainRef:  chainRef,
		ReqCtx:    reqCtx,
	}

	// Locked-session guard. Internal origins and unlocked sessions pass
	// unconditionally.
	if p.session.Locked() && origin != types.InternalOrigin {
		if allowed, response := p.lockVerdict(spec, passthrough); !allowed {
			return response, walleterrors.NewSessionError("session is locked")
		} else if response != nil {
			return response, nil
		}
	}

	// Permission guard.
	if spec != nil && spec.Capability != "" && origin != types.InternalOrigin {
		if err := p.permissions.AssertPermission(origin, method, ns.Name(), chainRef); err != nil {
			return nil, err
		}
	}

	if passthrough {
		return p.forward(ctx, call)
	}

	p.logger.Debug().
		Str("origin", origin).
		Str("method", method).
		Str("chain", chainRef.String()).
		Msg("dispatching")
	return spec.Handler(ctx, call)
}

// resolve locates the namespace and method spec for a method name.
func (p *Pipeline) resolve(method string) (Namespace, *MethodSpec, bool) {
	for _, ns := range p.namespaces {
		if spec, ok := ns.Method(method); ok {
			return ns, spec, false
		}
	}
	for _, ns := range p.namespaces {
		if ns.Passthrough(method) {
			return ns, nil, true
		}
	}
	return nil, nil, false
}

// lockVerdict decides a locked session's fate for one method.
// Returns (allowed, fixedResponse). allowed=false means hard deny.
func (p *Pipeline) lockVerdict(spec *MethodSpec, passthrough bool) (bool, interface{}) {
	if passthrough {
		// Passthrough reads reveal no wallet secrets.
		return true, nil
	}
	switch spec.LockPolicy {
	case LockAllow:
		return true, nil
	case LockResponse:
		return true, spec.LockedResponse
	default:
		// Approval-gated methods still go through so they can enqueue an
		// approval; everything else is denied.
		if spec.NeedsApproval {
			return true, nil
		}
		return false, nil
	}
}

// forward sends an allow-listed method verbatim to the chain.
func (p *Pipeline) forward(ctx context.Context, call *Call) (interface{}, error) {
	client, err := p.registry.GetClient(call.ChainRef)
	if err != nil {
		return nil, walleterrors.NewInternalError("no rpc client for chain "+call.ChainRef.String(), err)
	}

	var params interface{}
	if len(call.Params) > 0 {
		if err := json.Unmarshal(call.Params, &params); err != nil {
			return nil, walleterrors.NewValidationError("malformed params")
		}
	}

	result, err := client.Call(ctx, call.Method, params)
	if err != nil {
		return nil, err
	}
	var decoded interface{}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &decoded); err != nil {
			return nil, walleterrors.NewInternalError("malformed rpc result", err)
		}
	}
	return decoded, nil
}
