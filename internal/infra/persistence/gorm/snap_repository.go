package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/repository"
)

// GormSnapshotRepository 是 SnapshotRepository 接口的 GORM 实现
type GormSnapshotRepository struct {
	db *gorm.DB
}

// NewGormSnapshotRepository 创建 GormSnapshotRepository 实例
func NewGormSnapshotRepository(db *gorm.DB) *GormSnapshotRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSnapshotRepository")
	}
	return &GormSnapshotRepository{db: db}
}

var _ repository.SnapshotRepository = (*GormSnapshotRepository)(nil)

// GetLatestSnapshot 按创建时间降序取第一条
func (r *GormSnapshotRepository) GetLatestSnapshot(ctx context.Context, roomID string) (*domain.SnapshotRecord, error) {
	var rec domain.SnapshotRecord
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Order("id DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("gorm: failed to get latest snapshot for room %s: %w", roomID, err)
	}
	return &rec, nil
}

// SaveSnapshot 快照归档只追加，使用 Create
func (r *GormSnapshotRepository) SaveSnapshot(ctx context.Context, record *domain.SnapshotRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("gorm: failed to save snapshot (room %s, objects %d): %w", record.RoomID, record.ObjectCount, err)
	}
	return nil
}
