package repository

import (
	"context"

	"classroom-whiteboard/internal/domain"
)

// SnapshotRepository 定义了快照归档在数据库中的操作。
type SnapshotRepository interface {
	// GetLatestSnapshot 获取指定房间最新的归档快照，没有时返回 ErrSnapshotNotFound。
	GetLatestSnapshot(ctx context.Context, roomID string) (*domain.SnapshotRecord, error)

	// SaveSnapshot 保存一条新的快照归档。
	SaveSnapshot(ctx context.Context, record *domain.SnapshotRecord) error
}
