// Package store contains the GORM-backed SQLite models used by wallet-core:
// transaction lifecycle records, permission grants, the approval journal, and
// versioned state snapshots.
package store

import (
	"time"

	"gorm.io/gorm"
)

// TransactionRecord tracks a fund-moving request through its lifecycle.
// Mutated only through the transaction state machine's guarded transition.
type TransactionRecord struct {
	gorm.Model
	TxID         string `gorm:"uniqueIndex;not null"` // Correlation id across queue, persistence, and UI
	Namespace    string `gorm:"index"`                // Blockchain ecosystem, e.g. "eip155"
	ChainRef     string `gorm:"index"`                // Namespace-qualified chain id, e.g. "eip155:1"
	Origin       string `gorm:"index"`                // Requesting origin
	FromAddress  string
	Request      []byte // Namespace-tagged request payload (JSON)
	Draft        []byte // Normalized, fee-estimated form attached before signing (JSON)
	Status       string `gorm:"index"` // "pending", "approved", "signed", "broadcast", "confirmed", "failed", "replaced"
	Hash         string `gorm:"index"` // Canonical lower-case tx hash, set at broadcast
	Receipt      []byte // Raw JSON receipt once confirmed
	ReplacedBy   string // Hash of the replacing transaction, set on replaced
	ErrorMsg     string `gorm:"type:text"`
	UserRejected bool
	Warnings     []byte // JSON array of preparation warnings
	Issues       []byte // JSON array of preparation issues
}

// PermissionRecord holds the capability set granted to an origin on one chain.
// One record per (origin, namespace, chain_ref).
type PermissionRecord struct {
	gorm.Model
	Origin       string `gorm:"uniqueIndex:idx_origin_chain;not null"`
	Namespace    string `gorm:"uniqueIndex:idx_origin_chain;not null"`
	ChainRef     string `gorm:"uniqueIndex:idx_origin_chain;not null"`
	Capabilities []byte // JSON array of capability names
	Accounts     []byte // JSON array of exposed account addresses (Accounts capability only)
}

// ApprovalRecord is the durable journal entry for a consent request. Written
// before the task becomes visible so a crash between creation and visibility
// cannot orphan state; finalized with an outcome on completion.
type ApprovalRecord struct {
	gorm.Model
	ApprovalID string `gorm:"uniqueIndex;not null"`
	Type       string
	Origin     string `gorm:"index"`
	Namespace  string
	ChainRef   string
	Payload    []byte // Type-specific payload (JSON)
	Outcome    string `gorm:"index"` // "pending", "approved", "rejected", "expired"
	Reason     string // "user_reject", "timeout", "session_lost", "internal_error"
	ResolvedAt *time.Time
}

// Snapshot is a versioned state envelope persisted per component namespace.
// Invalid or version-mismatched payloads are dropped on load, never fatal.
type Snapshot struct {
	gorm.Model
	Namespace string `gorm:"uniqueIndex;not null"`
	Version   int
	Payload   []byte
}
