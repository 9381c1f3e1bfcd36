package approval

import (
	"context"
	"sync"

	walleterrors "github.com/pushchain/wallet-core/errors"
)

// settlement carries the terminal result of a pending approval.
type settlement struct {
	value interface{}
	err   error
}

// promise is the completion handle pairing the suspended caller with whoever
// resolves, rejects, or expires the task. It settles exactly once; later
// attempts are no-ops.
type promise struct {
	once sync.Once
	done chan settlement
}

func newPromise() *promise {
	return &promise{done: make(chan settlement, 1)}
}

// fulfil settles the promise with a value. Returns false if already settled.
func (p *promise) fulfil(value interface{}) bool {
	settled := false
	p.once.Do(func() {
		p.done <- settlement{value: value}
		settled = true
	})
	return settled
}

// fail settles the promise with an error. Returns false if already settled.
func (p *promise) fail(err error) bool {
	settled := false
	p.once.Do(func() {
		p.done <- settlement{err: err}
		settled = true
	})
	return settled
}

// await blocks until the promise settles or the context ends.
func (p *promise) await(ctx context.Context) (interface{}, error) {
	select {
	case s := <-p.done:
		return s.value, s.err
	case <-ctx.Done():
		return nil, walleterrors.NewWithCause(walleterrors.ErrCodeSession, "approval wait cancelled", ctx.Err())
	}
}
