package service

import (
	"context"
	"errors"
	"fmt"

	"classroom-whiteboard/internal/repository"
	"classroom-whiteboard/internal/tasks"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/zoobzio/hookz"
)

// TaskEnqueuer 是 asynq.Client 中用到的部分
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// 房间活动事件的队列长度，队列满时 Emit 直接拒绝
const roomEventQueueSize = 4096

// NewRoomEventHooks 创建房间活动事件总线。只有一个处理协程，事件严格按发出顺序执行，
// Redis 历史镜像和房间销毁清理都依赖这个顺序。
func NewRoomEventHooks() *hookz.Hooks[RoomEvent] {
	return hookz.New[RoomEvent](hookz.WithWorkers(1), hookz.WithQueueSize(roomEventQueueSize))
}

// ActivityService 订阅房间活动事件，把实时中继之外的副作用
// (Redis 镜像、审计落库、活跃时间、清理) 从热路径上移开。
type ActivityService struct {
	stateRepo repository.StateRepository
	roomRepo  repository.RoomRepository
	enqueuer  TaskEnqueuer
}

// NewActivityService 创建 ActivityService 实例。enqueuer 为 nil 时不做审计落库。
func NewActivityService(stateRepo repository.StateRepository, roomRepo repository.RoomRepository, enqueuer TaskEnqueuer) *ActivityService {
	if stateRepo == nil || roomRepo == nil {
		panic("StateRepository and RoomRepository must be non-nil for ActivityService")
	}
	return &ActivityService{stateRepo: stateRepo, roomRepo: roomRepo, enqueuer: enqueuer}
}

// Register 把处理函数挂到 hooks 上
func (s *ActivityService) Register(hooks *hookz.Hooks[RoomEvent]) error {
	handlers := map[hookz.Key]func(context.Context, RoomEvent) error{
		EventMemberJoined:      s.OnMemberJoined,
		EventOperationRecorded: s.OnOperationRecorded,
		EventSnapshotReplaced:  s.OnSnapshotReplaced,
		EventPermissionChanged: s.OnPermissionChanged,
		EventRoomDestroyed:     s.OnRoomDestroyed,
	}
	for event, fn := range handlers {
		if _, err := hooks.Hook(event, fn); err != nil {
			return fmt.Errorf("failed to hook %s: %w", event, err)
		}
	}
	return nil
}

// OnMemberJoined 刷新房间最后活跃时间
func (s *ActivityService) OnMemberJoined(ctx context.Context, ev RoomEvent) error {
	return s.touch(ctx, ev)
}

// OnOperationRecorded 把操作镜像到 Redis 并投递审计任务
func (s *ActivityService) OnOperationRecorded(ctx context.Context, ev RoomEvent) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": ev.RoomID, "user_id": ev.UserID, "kind": ev.Operation.Kind})

	if err := s.stateRepo.PushOperation(ctx, ev.RoomID, ev.Operation); err != nil {
		logCtx.WithError(err).Error("Failed to push operation to Redis history")
	}
	if err := s.stateRepo.IncrementOpCount(ctx, ev.RoomID); err != nil {
		logCtx.WithError(err).Error("Failed to increment op count in Redis")
	}

	if s.enqueuer != nil {
		task, err := tasks.NewActionPersistenceTask(ev.RoomID, ev.Operation)
		if err != nil {
			logCtx.WithError(err).Error("Failed to create action persistence task")
			return err
		}
		info, err := s.enqueuer.EnqueueContext(ctx, task)
		if err != nil {
			logCtx.WithError(err).Error("Failed to enqueue action persistence task")
			return err
		}
		logCtx.WithField("task_id", info.ID).Debug("Action persistence task enqueued")
	}
	return s.touch(ctx, ev)
}

// OnSnapshotReplaced 整体替换快照计为一次变更，归档检查才会看到它
func (s *ActivityService) OnSnapshotReplaced(ctx context.Context, ev RoomEvent) error {
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id": ev.RoomID,
		"user_id": ev.UserID,
		"objects": ev.Snapshot.Len(),
	})
	if err := s.stateRepo.IncrementOpCount(ctx, ev.RoomID); err != nil {
		logCtx.WithError(err).Error("Failed to increment op count in Redis")
	}
	logCtx.Debug("Canvas snapshot replaced")
	return s.touch(ctx, ev)
}

// OnPermissionChanged 权限变更只记审计日志
func (s *ActivityService) OnPermissionChanged(ctx context.Context, ev RoomEvent) error {
	logrus.WithFields(logrus.Fields{
		"room_id":    ev.RoomID,
		"student_id": ev.UserID,
		"blocked":    ev.Blocked,
		"at":         ev.At,
	}).Info("Audit: student permission changed")
	return nil
}

// OnRoomDestroyed 房间销毁后清理 Redis 中的历史与计数
func (s *ActivityService) OnRoomDestroyed(ctx context.Context, ev RoomEvent) error {
	if err := s.stateRepo.CleanupRoomState(ctx, ev.RoomID); err != nil {
		logrus.WithField("room_id", ev.RoomID).WithError(err).Error("Failed to cleanup room state")
		return err
	}
	logrus.WithField("room_id", ev.RoomID).Info("Room state cleaned up")
	return nil
}

func (s *ActivityService) touch(ctx context.Context, ev RoomEvent) error {
	err := s.roomRepo.TouchLastActive(ctx, ev.RoomID, ev.At)
	if err == nil || errors.Is(err, repository.ErrRoomNotFound) {
		return nil
	}
	logrus.WithField("room_id", ev.RoomID).WithError(err).Warn("Failed to update room last active time")
	return err
}
