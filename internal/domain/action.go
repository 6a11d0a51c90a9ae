package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionRecord 是操作日志的审计记录，由后台任务批量写入数据库。
// 它不参与冲突解决。
type ActionRecord struct {
	ID              uint      `gorm:"primaryKey"`
	RoomID          string    `gorm:"size:32;index;not null"`
	UserID          string    `gorm:"size:191;index;not null"`
	Kind            string    `gorm:"size:16;not null"` // ADD / MODIFY / REMOVE / CLEAR
	ObjectID        string    `gorm:"size:191"`
	Data            string    `gorm:"type:text"` // 对象负载 JSON，REMOVE / CLEAR 时为空
	ClientTimestamp int64     `gorm:"not null"`  // 客户端本地毫秒时间戳
	CreatedAt       time.Time `gorm:"autoCreateTime;index"`
}

// TableName 固定表名
func (ActionRecord) TableName() string { return "actions" }

// NewActionRecord 从操作构造审计记录
func NewActionRecord(roomID string, op Operation) (ActionRecord, error) {
	rec := ActionRecord{
		RoomID:          roomID,
		UserID:          op.AuthorID,
		Kind:            string(op.Kind),
		ObjectID:        op.ObjectID,
		ClientTimestamp: op.Timestamp,
	}
	if op.Object != nil {
		b, err := json.Marshal(op.Object)
		if err != nil {
			return ActionRecord{}, fmt.Errorf("failed to marshal action data: %w", err)
		}
		rec.Data = string(b)
	}
	return rec, nil
}

// Operation 把审计记录还原成操作
func (r *ActionRecord) Operation() (Operation, error) {
	op := Operation{
		Kind:      OpKind(r.Kind),
		ObjectID:  r.ObjectID,
		AuthorID:  r.UserID,
		Timestamp: r.ClientTimestamp,
	}
	if r.Data != "" && r.Data != "null" {
		if err := json.Unmarshal([]byte(r.Data), &op.Object); err != nil {
			return Operation{}, fmt.Errorf("failed to unmarshal action data: %w", err)
		}
	}
	return op, nil
}
