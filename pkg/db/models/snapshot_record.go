package models

import "time"

// SnapshotRecord is one key/value entry of the persisted snapshot store.
type SnapshotRecord struct {
	Key       string    `gorm:"column:snapshot_key;primaryKey;size:255"`
	Payload   []byte    `gorm:"column:payload;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (SnapshotRecord) TableName() string {
	return "snapshot_records"
}
