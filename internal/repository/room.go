package repository

import (
	"context"
	"time"

	"classroom-whiteboard/internal/domain"
)

// RoomRepository 定义了房间记录的持久化操作。
// 房间记录只用于签发入场票据与导出，实时状态见 RoomStore。
type RoomRepository interface {
	// FindByID 根据房间号查找房间，不存在时返回 ErrRoomNotFound。
	FindByID(ctx context.Context, id string) (*domain.Room, error)

	// Save 保存房间信息，存在则更新，否则创建。
	Save(ctx context.Context, room *domain.Room) error

	// Exists 检查房间号是否已被占用。
	Exists(ctx context.Context, id string) (bool, error)

	// TouchLastActive 更新房间最后活跃时间。
	TouchLastActive(ctx context.Context, id string, at time.Time) error
}
