package domain

import (
	"fmt"
	"strings"
)

// OpKind 操作类型
type OpKind string

const (
	OpAdd    OpKind = "ADD"
	OpModify OpKind = "MODIFY"
	OpRemove OpKind = "REMOVE"
	OpClear  OpKind = "CLEAR"
)

// 旧版客户端使用的操作名
var legacyKinds = map[string]OpKind{
	"add-object":    OpAdd,
	"modify-object": OpModify,
	"remove-object": OpRemove,
	"clear":         OpClear,
}

// ParseOpKind 解析操作类型，兼容旧版名称
func ParseOpKind(s string) (OpKind, bool) {
	if k, ok := legacyKinds[strings.ToLower(s)]; ok {
		return k, true
	}
	switch k := OpKind(strings.ToUpper(s)); k {
	case OpAdd, OpModify, OpRemove, OpClear:
		return k, true
	}
	return "", false
}

// TargetsObject 除 CLEAR 外的操作都针对单个对象
func (k OpKind) TargetsObject() bool {
	return k == OpAdd || k == OpModify || k == OpRemove
}

// Operation 是同步的最小单位，创建后不可修改
type Operation struct {
	Kind      OpKind  `json:"kind"`
	ObjectID  string  `json:"objectId,omitempty"`
	Object    Payload `json:"object,omitempty"` // ADD / MODIFY 时为完整编码对象
	AuthorID  string  `json:"authorId"`
	Timestamp int64   `json:"timestamp"` // 客户端本地毫秒时间戳
}

// DrawData 是 draw-action 中 data 字段的结构
type DrawData struct {
	ObjectID string  `json:"objectId,omitempty"`
	JSON     Payload `json:"json,omitempty"`
}

// DrawAction 是 draw-action 事件的线上格式
type DrawAction struct {
	Type      string   `json:"type"`
	Data      DrawData `json:"data"`
	UserID    string   `json:"userId"`
	Timestamp int64    `json:"timestamp"`
}

// ToOperation 校验线上格式并转换为 Operation
func (a DrawAction) ToOperation() (Operation, error) {
	kind, ok := ParseOpKind(a.Type)
	if !ok {
		return Operation{}, fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, a.Type)
	}
	op := Operation{Kind: kind, AuthorID: a.UserID, Timestamp: a.Timestamp}
	switch kind {
	case OpAdd:
		if a.Data.JSON == nil || a.Data.JSON.ID() == "" {
			return Operation{}, fmt.Errorf("%w: ADD without object json", ErrInvalidOperation)
		}
		op.ObjectID = a.Data.JSON.ID()
		op.Object = a.Data.JSON
	case OpModify:
		if a.Data.ObjectID == "" || a.Data.JSON == nil {
			return Operation{}, fmt.Errorf("%w: MODIFY needs objectId and json", ErrInvalidOperation)
		}
		op.ObjectID = a.Data.ObjectID
		op.Object = a.Data.JSON
	case OpRemove:
		if a.Data.ObjectID == "" {
			return Operation{}, fmt.Errorf("%w: REMOVE without objectId", ErrInvalidOperation)
		}
		op.ObjectID = a.Data.ObjectID
	}
	return op, nil
}

// NewDrawAction 把 Operation 转成线上格式
func NewDrawAction(op Operation) DrawAction {
	a := DrawAction{Type: string(op.Kind), UserID: op.AuthorID, Timestamp: op.Timestamp}
	switch op.Kind {
	case OpAdd:
		a.Data.JSON = op.Object
	case OpModify:
		a.Data.ObjectID = op.ObjectID
		a.Data.JSON = op.Object
	case OpRemove:
		a.Data.ObjectID = op.ObjectID
	}
	return a
}
