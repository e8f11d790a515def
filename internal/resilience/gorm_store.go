package resilience

import (
	"context"
	"time"

	"github.com/angelmondragon/storefront-cart/pkg/db"
	"github.com/angelmondragon/storefront-cart/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists snapshots in the snapshot_records table.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(conn *gorm.DB) *GormStore {
	return &GormStore{db: conn, now: time.Now}
}

// Migrate creates the snapshot table when missing.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&models.SnapshotRecord{})
}

func (s *GormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var record models.SnapshotRecord
	err := s.db.WithContext(ctx).Where("snapshot_key = ?", key).First(&record).Error
	if db.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !s.now().Before(record.ExpiresAt) {
		_ = s.Delete(ctx, key)
		return nil, ErrNotFound
	}
	return record.Payload, nil
}

func (s *GormStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expires := s.now().Add(ttl)
	if ttl <= 0 {
		expires = s.now().Add(100 * 365 * 24 * time.Hour)
	}
	record := models.SnapshotRecord{Key: key, Payload: value, ExpiresAt: expires}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "snapshot_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "expires_at", "updated_at"}),
	}).Create(&record).Error
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("snapshot_key = ?", key).Delete(&models.SnapshotRecord{}).Error
}

// PurgeExpired deletes every record whose TTL has passed.
func (s *GormStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&models.SnapshotRecord{})
	return res.RowsAffected, res.Error
}
