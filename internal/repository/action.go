package repository

import (
	"context"
	"time"

	"classroom-whiteboard/internal/domain"
)

// ActionRepository 定义了操作审计记录的存储和查询。
type ActionRepository interface {
	// SaveBatch 批量保存操作记录到数据库。
	SaveBatch(ctx context.Context, records []domain.ActionRecord) error

	// GetCountSince 获取指定房间在某个时间点之后的操作记录数量，
	// 用于判断是否需要归档快照。
	GetCountSince(ctx context.Context, roomID string, since time.Time) (int64, error)
}
