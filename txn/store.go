package txn

import (
	"encoding/json"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/pushchain/wallet-core/db"
	walleterrors "github.com/pushchain/wallet-core/errors"
	"github.com/pushchain/wallet-core/store"
	"github.com/pushchain/wallet-core/types"
)

// Store provides database access for transaction records. The guarded
// UpdateIfExpectedStatus is the only mutation path for status changes.
type Store struct {
	database *db.DB
}

// NewStore creates a transaction store.
func NewStore(database *db.DB) *Store {
	return &Store{database: database}
}

// Create persists a new record in pending (or approved) status.
func (s *Store) Create(record *store.TransactionRecord) error {
	if err := s.database.Client().Create(record).Error; err != nil {
		return errors.Wrapf(err, "failed to create transaction %s", record.TxID)
	}
	return nil
}

// Get returns the record for a transaction id.
func (s *Store) Get(txID string) (*store.TransactionRecord, error) {
	var record store.TransactionRecord
	if err := s.database.Client().Where("tx_id = ?", txID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Errorf("transaction %s not found", txID)
		}
		return nil, errors.Wrapf(err, "failed to query transaction %s", txID)
	}
	return &record, nil
}

// UpdateIfExpectedStatus applies updates only when the record still holds the
// expected status. Returns false on a status mismatch (concurrent mutation),
// in which case nothing was written. The requested edge must exist in the
// closed transition graph; an illegal edge is a validation error.
func (s *Store) UpdateIfExpectedStatus(txID string, expected, next Status, extra map[string]any) (bool, error) {
	if !CanTransition(expected, next) {
		return false, walleterrors.NewValidationError(
			"illegal status transition " + string(expected) + " to " + string(next))
	}

	updates := map[string]any{"status": string(next)}
	for k, v := range extra {
		updates[k] = v
	}

	res := s.database.Client().
		Model(&store.TransactionRecord{}).
		Where("tx_id = ? AND status = ?", txID, string(expected)).
		Updates(updates)
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "failed to update transaction %s", txID)
	}
	return res.RowsAffected > 0, nil
}

// AttachDraft stores the prepared draft and any warnings/issues without
// touching status. Draft attachment is opportunistic and racing a status
// change is harmless.
func (s *Store) AttachDraft(txID string, draft *Draft, warnings, issues []string) error {
	updates := map[string]any{}
	if draft != nil {
		data, err := json.Marshal(draft)
		if err != nil {
			return errors.Wrap(err, "failed to encode draft")
		}
		updates["draft"] = data
	}
	if len(warnings) > 0 {
		data, _ := json.Marshal(warnings)
		updates["warnings"] = data
	}
	if len(issues) > 0 {
		data, _ := json.Marshal(issues)
		updates["issues"] = data
	}
	if len(updates) == 0 {
		return nil
	}

	if err := s.database.Client().
		Model(&store.TransactionRecord{}).
		Where("tx_id = ?", txID).
		Updates(updates).Error; err != nil {
		return errors.Wrapf(err, "failed to attach draft to %s", txID)
	}
	return nil
}

// HashExists reports whether a (chainRef, hash) pair is already recorded.
func (s *Store) HashExists(chainRef types.ChainRef, hash string) (bool, error) {
	var count int64
	if err := s.database.Client().
		Model(&store.TransactionRecord{}).
		Where("chain_ref = ? AND hash = ?", chainRef.String(), hash).
		Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "failed to check hash uniqueness")
	}
	return count > 0, nil
}

// ListByStatus returns up to limit records in a status, oldest first, starting
// after the given primary key. Paginating by primary key bounds memory during
// startup sweeps.
func (s *Store) ListByStatus(status Status, afterID uint, limit int) ([]store.TransactionRecord, error) {
	var records []store.TransactionRecord
	if err := s.database.Client().
		Where("status = ? AND id > ?", string(status), afterID).
		Order("id ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to list %s transactions", status)
	}
	return records, nil
}

// ListByOrigin returns records for an origin, newest first.
func (s *Store) ListByOrigin(origin string, limit int) ([]store.TransactionRecord, error) {
	var records []store.TransactionRecord
	query := s.database.Client().
		Where("origin = ?", origin).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to list transactions for %s", origin)
	}
	return records, nil
}

// DeleteTerminalBefore removes terminal records last updated before the given
// time. Used by the retention cleaner.
func (s *Store) DeleteTerminalBefore(updatedBefore any) (int64, error) {
	res := s.database.Client().
		Where("status IN ? AND updated_at < ?",
			[]string{string(StatusConfirmed), string(StatusFailed), string(StatusReplaced)}, updatedBefore).
		Delete(&store.TransactionRecord{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "failed to delete terminal transactions")
	}
	return res.RowsAffected, nil
}

// recordToMeta converts a stored record into its outward form.
func recordToMeta(record *store.TransactionRecord) Meta {
	meta := Meta{
		ID:           record.TxID,
		Namespace:    record.Namespace,
		ChainRef:     types.ChainRef(record.ChainRef),
		Origin:       record.Origin,
		From:         record.FromAddress,
		Request:      append(json.RawMessage(nil), record.Request...),
		Status:       Status(record.Status),
		Hash:         record.Hash,
		Receipt:      append(json.RawMessage(nil), record.Receipt...),
		ReplacedBy:   record.ReplacedBy,
		Error:        record.ErrorMsg,
		UserRejected: record.UserRejected,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
	if len(record.Draft) > 0 {
		var draft Draft
		if err := json.Unmarshal(record.Draft, &draft); err == nil {
			meta.Draft = &draft
		}
	}
	if len(record.Warnings) > 0 {
		_ = json.Unmarshal(record.Warnings, &meta.Warnings)
	}
	if len(record.Issues) > 0 {
		_ = json.Unmarshal(record.Issues, &meta.Issues)
	}
	return meta
}
