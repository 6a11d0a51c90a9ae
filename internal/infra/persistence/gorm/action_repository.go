package gormpersistence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/repository"
)

// 单次 INSERT 的最大行数
const actionBatchSize = 200

// GormActionRepository 是 ActionRepository 接口的 GORM 实现
type GormActionRepository struct {
	db *gorm.DB
}

// NewGormActionRepository 创建 GormActionRepository 实例
func NewGormActionRepository(db *gorm.DB) *GormActionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormActionRepository")
	}
	return &GormActionRepository{db: db}
}

var _ repository.ActionRepository = (*GormActionRepository)(nil)

// SaveBatch 批量保存操作记录
func (r *GormActionRepository) SaveBatch(ctx context.Context, records []domain.ActionRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).CreateInBatches(&records, actionBatchSize).Error
	if err != nil {
		return fmt.Errorf("gorm: failed to save action batch (size %d): %w", len(records), err)
	}
	return nil
}

// GetCountSince 获取指定房间在某个时间点之后的操作数量，零值时间表示全部
func (r *GormActionRepository) GetCountSince(ctx context.Context, roomID string, since time.Time) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&domain.ActionRecord{}).Where("room_id = ?", roomID)
	if !since.IsZero() {
		query = query.Where("created_at > ?", since)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("gorm: failed to count actions for room %s since %v: %w", roomID, since, err)
	}
	return count, nil
}
