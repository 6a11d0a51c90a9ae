package worker

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/repository"
)

// 单个房间归档检查的超时
const roomCheckTimeout = 30 * time.Second

// LiveRooms 提供活跃房间及其实时快照，由 RoomStore 实现
type LiveRooms interface {
	ActiveRoomIDs() []string
	Snapshot(roomID string) (domain.Snapshot, error)
}

// Archiver 判断并执行快照归档，由 service.SnapshotService 实现
type Archiver interface {
	CheckAndArchive(ctx context.Context, roomID string, live domain.Snapshot, lastArchived time.Time) (time.Time, error)
}

// SnapshotCheckHandler 处理周期性的快照检查任务
type SnapshotCheckHandler struct {
	rooms     LiveRooms
	archiver  Archiver
	stateRepo repository.StateRepository
}

// NewSnapshotCheckHandler 创建 Handler 实例
func NewSnapshotCheckHandler(rooms LiveRooms, archiver Archiver, stateRepo repository.StateRepository) *SnapshotCheckHandler {
	if rooms == nil {
		panic("LiveRooms cannot be nil for SnapshotCheckHandler")
	}
	if archiver == nil {
		panic("Archiver cannot be nil for SnapshotCheckHandler")
	}
	if stateRepo == nil {
		panic("StateRepository cannot be nil for SnapshotCheckHandler")
	}
	return &SnapshotCheckHandler{rooms: rooms, archiver: archiver, stateRepo: stateRepo}
}

// ProcessTask 实现 asynq.Handler 接口。
// 单个房间失败只记录日志，不让整个周期任务重试。
func (h *SnapshotCheckHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID, _ := asynq.GetTaskID(ctx)
	logCtx := logrus.WithFields(logrus.Fields{"task_id": taskID, "task_type": t.Type()})

	activeRoomIDs := h.rooms.ActiveRoomIDs()
	if len(activeRoomIDs) == 0 {
		logCtx.Debug("No active rooms found, skipping snapshot check.")
		return nil
	}
	logCtx.Infof("Found %d active rooms to check.", len(activeRoomIDs))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures int
	)
	for _, roomID := range activeRoomIDs {
		wg.Add(1)
		go func(roomID string) {
			defer wg.Done()
			if err := h.checkRoom(ctx, roomID); err != nil {
				logCtx.WithField("room_id", roomID).WithError(err).Error("Snapshot check failed for room")
				mu.Lock()
				failures++
				mu.Unlock()
			}
		}(roomID)
	}
	wg.Wait()

	if failures > 0 {
		logCtx.Errorf("Snapshot check completed with %d failed rooms.", failures)
		return nil
	}
	logCtx.Debug("Periodic snapshot check task completed successfully.")
	return nil
}

func (h *SnapshotCheckHandler) checkRoom(ctx context.Context, roomID string) error {
	ctx, cancel := context.WithTimeout(ctx, roomCheckTimeout)
	defer cancel()

	live, err := h.rooms.Snapshot(roomID)
	if err != nil {
		// 检查期间房间已销毁
		return nil
	}
	last, err := h.stateRepo.GetLastSnapshotTime(ctx, roomID)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Warn("Failed to read last snapshot time, treating as never archived")
		last = time.Time{}
	}
	_, err = h.archiver.CheckAndArchive(ctx, roomID, live, last)
	return err
}
