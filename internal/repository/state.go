package repository

import (
	"context"
	"time"

	"classroom-whiteboard/internal/domain"
)

// StateRepository 定义了房间在 Redis 中的镜像状态：
// 最近操作历史、操作计数、快照缓存和归档时间。
// 权威状态始终在 RoomStore 中，这里的数据丢失不影响协作。
type StateRepository interface {
	// === Action History ===

	// PushOperation 把一个操作追加到房间的历史列表，并保持列表长度。
	PushOperation(ctx context.Context, roomID string, op domain.Operation) error

	// GetRecentOperations 获取最近的 limit 条操作。
	GetRecentOperations(ctx context.Context, roomID string, limit int) ([]domain.Operation, error)

	// === Counters ===

	// IncrementOpCount 原子地增加房间的操作计数器。
	IncrementOpCount(ctx context.Context, roomID string) error

	// GetOpCount 读取当前计数，key 不存在时为 0。
	GetOpCount(ctx context.Context, roomID string) (int64, error)

	// ResetOpCount 重置计数器（通常在归档快照后调用）。
	ResetOpCount(ctx context.Context, roomID string) error

	// === Snapshot Caching ===

	// GetSnapshotCache 从缓存获取最新归档快照，未命中返回 ErrNotFound。
	GetSnapshotCache(ctx context.Context, roomID string) (*domain.SnapshotRecord, error)

	// SetSnapshotCache 缓存归档快照，ttl 为 0 表示不过期。
	SetSnapshotCache(ctx context.Context, roomID string, record *domain.SnapshotRecord, ttl time.Duration) error

	// === Snapshot Worker State ===

	// GetLastSnapshotTime 获取上次归档时间，没有记录时返回零值。
	GetLastSnapshotTime(ctx context.Context, roomID string) (time.Time, error)

	// SetLastSnapshotTime 记录归档时间。
	SetLastSnapshotTime(ctx context.Context, roomID string, at time.Time, ttl time.Duration) error

	// === Rate Limiting ===

	// CheckRateLimit 递增计数并判断是否超限，超限返回 true。
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// CleanupRoomState 房间销毁后删除历史和计数器，快照缓存和归档时间保留。
	CleanupRoomState(ctx context.Context, roomID string) error
}
