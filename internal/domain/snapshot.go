package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot 是房间内所有存活对象的完整序列化，按绘制顺序 (z-order) 排列
type Snapshot struct {
	Objects []Payload `json:"objects"`
}

// EmptySnapshot 返回一个没有对象的快照
func EmptySnapshot() Snapshot {
	return Snapshot{Objects: []Payload{}}
}

// NewSnapshot 从本地对象列表构造快照
func NewSnapshot(objs []*DrawableObject) Snapshot {
	s := Snapshot{Objects: make([]Payload, 0, len(objs))}
	for _, o := range objs {
		s.Objects = append(s.Objects, Encode(o))
	}
	return s
}

// IsEmpty 没有任何对象
func (s Snapshot) IsEmpty() bool { return len(s.Objects) == 0 }

// Len 对象数量
func (s Snapshot) Len() int { return len(s.Objects) }

// Clone 深拷贝
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Objects: make([]Payload, len(s.Objects))}
	for i, p := range s.Objects {
		out.Objects[i] = p.Clone()
	}
	return out
}

// Find 按 ID 查找对象负载
func (s Snapshot) Find(id string) (Payload, bool) {
	for _, p := range s.Objects {
		if p.ID() == id {
			return p, true
		}
	}
	return nil, false
}

// Dedup 去掉没有 ID 的条目，同一 ID 只保留最后一次出现的位置与内容
func (s Snapshot) Dedup() Snapshot {
	last := make(map[string]int, len(s.Objects))
	for i, p := range s.Objects {
		if id := p.ID(); id != "" {
			last[id] = i
		}
	}
	out := Snapshot{Objects: make([]Payload, 0, len(last))}
	for i, p := range s.Objects {
		if id := p.ID(); id != "" && last[id] == i {
			out.Objects = append(out.Objects, p)
		}
	}
	return out
}

// SnapshotRecord 是归档到数据库中的快照
type SnapshotRecord struct {
	ID          uint      `gorm:"primaryKey"`
	RoomID      string    `gorm:"size:32;index;not null"`
	ObjectCount int       `gorm:"not null"`
	State       string    `gorm:"type:longtext;not null"` // Snapshot 的 JSON
	CreatedAt   time.Time `gorm:"autoCreateTime;index"`
}

// TableName 固定表名
func (SnapshotRecord) TableName() string { return "snapshots" }

// ParseState 把 State 字段解析回 Snapshot
func (r *SnapshotRecord) ParseState() (Snapshot, error) {
	if r.State == "" {
		return EmptySnapshot(), nil
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(r.State), &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to unmarshal snapshot state: %w", err)
	}
	if s.Objects == nil {
		s.Objects = []Payload{}
	}
	return s, nil
}

// SetState 序列化 Snapshot 并写入 State
func (r *SnapshotRecord) SetState(s Snapshot) error {
	if s.Objects == nil {
		s.Objects = []Payload{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot state: %w", err)
	}
	r.State = string(b)
	r.ObjectCount = len(s.Objects)
	return nil
}
