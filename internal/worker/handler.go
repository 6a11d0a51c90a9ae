package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/repository"
	"classroom-whiteboard/internal/tasks"
)

// ActionPersistenceHandler 把中继记录的操作写入审计表
type ActionPersistenceHandler struct {
	actionRepo repository.ActionRepository
}

// NewActionPersistenceHandler 创建 Handler 实例
func NewActionPersistenceHandler(actionRepo repository.ActionRepository) *ActionPersistenceHandler {
	if actionRepo == nil {
		panic("ActionRepository cannot be nil for ActionPersistenceHandler")
	}
	return &ActionPersistenceHandler{actionRepo: actionRepo}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *ActionPersistenceHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID, _ := asynq.GetTaskID(ctx)
	queue, _ := asynq.GetQueueName(ctx)
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"queue":     queue,
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
	logCtx.Debug("Processing action persistence task...")

	payload, err := tasks.ParseActionPersistencePayload(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithFields(logrus.Fields{"room_id": payload.RoomID, "kind": payload.Operation.Kind})

	record, err := domain.NewActionRecord(payload.RoomID, payload.Operation)
	if err != nil {
		logCtx.WithError(err).Error("Failed to build action record")
		return fmt.Errorf("failed to build action record: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.actionRepo.SaveBatch(ctx, []domain.ActionRecord{record}); err != nil {
		logCtx.WithError(err).Error("Failed to save action record")
		return fmt.Errorf("failed to save action for room %s: %w", payload.RoomID, err)
	}

	logCtx.Debug("Action persistence task processed successfully")
	return nil
}
