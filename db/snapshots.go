package db

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pushchain/wallet-core/store"
)

// SnapshotEnvelope is the versioned wrapper stored per component namespace.
type SnapshotEnvelope struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Payload   []byte    `json:"payload"`
}

// SaveSnapshot upserts the snapshot for a component namespace.
func (d *DB) SaveSnapshot(namespace string, envelope SnapshotEnvelope) error {
	if namespace == "" {
		return errors.New("snapshot namespace is empty")
	}

	record := store.Snapshot{
		Namespace: namespace,
		Version:   envelope.Version,
		Payload:   envelope.Payload,
	}
	err := d.client.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "payload", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return errors.Wrapf(err, "failed to save snapshot for %s", namespace)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot for a namespace. A missing row, or
// a row whose version does not match wantVersion, is reported as absent
// (ok=false) rather than an error: schema-mismatched state is dropped, never
// allowed to crash the caller.
func (d *DB) LoadSnapshot(namespace string, wantVersion int) (SnapshotEnvelope, bool, error) {
	var record store.Snapshot
	err := d.client.Where("namespace = ?", namespace).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SnapshotEnvelope{}, false, nil
		}
		return SnapshotEnvelope{}, false, errors.Wrapf(err, "failed to load snapshot for %s", namespace)
	}

	if record.Version != wantVersion || len(record.Payload) == 0 {
		return SnapshotEnvelope{}, false, nil
	}

	return SnapshotEnvelope{
		Version:   record.Version,
		UpdatedAt: record.UpdatedAt,
		Payload:   record.Payload,
	}, true, nil
}
