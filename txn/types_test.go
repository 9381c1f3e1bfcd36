package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionGraphIsClosed(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPending:   {StatusApproved, StatusFailed},
		StatusApproved:  {StatusSigned, StatusFailed},
		StatusSigned:    {StatusBroadcast, StatusFailed},
		StatusBroadcast: {StatusConfirmed, StatusFailed, StatusReplaced},
	}
	all := []Status{
		StatusPending, StatusApproved, StatusSigned, StatusBroadcast,
		StatusConfirmed, StatusFailed, StatusReplaced,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, next := range allowed[from] {
				if next == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestNoSkippingStates(t *testing.T) {
	assert.False(t, CanTransition(StatusPending, StatusSigned))
	assert.False(t, CanTransition(StatusPending, StatusBroadcast))
	assert.False(t, CanTransition(StatusApproved, StatusBroadcast))
	assert.False(t, CanTransition(StatusPending, StatusConfirmed))
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, terminal := range []Status{StatusConfirmed, StatusFailed, StatusReplaced} {
		assert.True(t, terminal.IsTerminal())
		for _, to := range []Status{
			StatusPending, StatusApproved, StatusSigned, StatusBroadcast,
			StatusConfirmed, StatusFailed, StatusReplaced,
		} {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusBroadcast.IsTerminal())
}
