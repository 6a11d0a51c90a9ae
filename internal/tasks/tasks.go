package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"classroom-whiteboard/internal/domain"
)

// 任务类型
const (
	TypeActionPersistence = "action:persist"          // 操作审计落库
	TypeSnapshotCheck     = "snapshot:periodic_check" // 周期性快照归档检查
)

// 队列名，与 worker 的 Queues 权重对应
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// ActionPersistencePayload 操作审计任务的数据
type ActionPersistencePayload struct {
	RoomID    string           `json:"roomId"`
	Operation domain.Operation `json:"operation"`
}

// NewActionPersistenceTask 创建操作审计任务，放入 default 队列
func NewActionPersistenceTask(roomID string, op domain.Operation) (*asynq.Task, error) {
	payload, err := json.Marshal(ActionPersistencePayload{RoomID: roomID, Operation: op})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action persistence payload: %w", err)
	}
	return asynq.NewTask(TypeActionPersistence, payload, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// ParseActionPersistencePayload 解析任务数据
func ParseActionPersistencePayload(t *asynq.Task) (ActionPersistencePayload, error) {
	var p ActionPersistencePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, err
	}
	if p.RoomID == "" {
		return p, fmt.Errorf("action persistence payload without room id")
	}
	return p, nil
}

// NewSnapshotCheckTask 周期任务没有数据，由 Scheduler 注册
func NewSnapshotCheckTask() *asynq.Task {
	return asynq.NewTask(TypeSnapshotCheck, nil, asynq.Queue(QueueLow), asynq.MaxRetry(1))
}
