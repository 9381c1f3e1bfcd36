// Package txn implements the transaction lifecycle state machine: draft →
// prepare → approve → sign → broadcast → confirm/fail/replace, persisted and
// resumable. Every outward transition is a compare-and-swap against the
// record's current status at the persistence boundary, so storage and
// in-memory state cannot diverge under concurrent writers.
package txn

import (
	"encoding/json"
	"time"

	"github.com/pushchain/wallet-core/types"
)

// Status is the closed lifecycle enum.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusSigned    Status = "signed"
	StatusBroadcast Status = "broadcast"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusReplaced  Status = "replaced"
)

// transitions is the closed graph: every state requires the immediately
// preceding one, no skipping.
var transitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusFailed},
	StatusApproved:  {StatusSigned, StatusFailed},
	StatusSigned:    {StatusBroadcast, StatusFailed},
	StatusBroadcast: {StatusConfirmed, StatusFailed, StatusReplaced},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status ends the lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusReplaced:
		return true
	default:
		return false
	}
}

// Draft is the normalized, fee-estimated form of a transaction request,
// attached opportunistically before approval or synchronously at approval.
type Draft struct {
	Normalized  json.RawMessage `json:"normalized,omitempty"`
	FeeEstimate string          `json:"fee_estimate,omitempty"`
	GasLimit    string          `json:"gas_limit,omitempty"`
	PreparedAt  time.Time       `json:"prepared_at"`
}

// Meta is the outward, deep-copied view of a transaction record.
type Meta struct {
	ID           string          `json:"id"`
	Namespace    string          `json:"namespace"`
	ChainRef     types.ChainRef  `json:"chain_ref"`
	Origin       string          `json:"origin"`
	From         string          `json:"from"`
	Request      json.RawMessage `json:"request"`
	Draft        *Draft          `json:"draft,omitempty"`
	Status       Status          `json:"status"`
	Hash         string          `json:"hash,omitempty"`
	Receipt      json.RawMessage `json:"receipt,omitempty"`
	ReplacedBy   string          `json:"replaced_by,omitempty"`
	Error        string          `json:"error,omitempty"`
	UserRejected bool            `json:"user_rejected"`
	Warnings     []string        `json:"warnings,omitempty"`
	Issues       []string        `json:"issues,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func cloneMeta(m Meta) Meta {
	out := m
	out.Request = append(json.RawMessage(nil), m.Request...)
	out.Receipt = append(json.RawMessage(nil), m.Receipt...)
	out.Warnings = append([]string(nil), m.Warnings...)
	out.Issues = append([]string(nil), m.Issues...)
	if m.Draft != nil {
		draft := *m.Draft
		draft.Normalized = append(json.RawMessage(nil), m.Draft.Normalized...)
		out.Draft = &draft
	}
	return out
}
