package syncengine

import "classroom-whiteboard/internal/domain"

// DefaultHistoryLimit 撤销栈的最大长度
const DefaultHistoryLimit = 50

// Entry 是一次本地修改。Before / After 是对象的完整副本：
// ADD 只有 After，REMOVE 只有 Before，MODIFY 两者都有。
// Index 是修改时对象的叠放位置，撤销删除或重做添加时插回原处。
type Entry struct {
	Kind     domain.OpKind
	ObjectID string
	Index    int
	Before   *domain.DrawableObject
	After    *domain.DrawableObject
}

// History 是有上限的线性撤销/重做栈。不是并发安全的，由 Engine 加锁保护。
type History struct {
	undo  []Entry
	redo  []Entry
	limit int
}

// NewHistory 创建 History，limit <= 0 时使用 DefaultHistoryLimit
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Push 记录一次新的本地修改并清空重做栈，超出上限时丢弃最旧的条目
func (h *History) Push(e Entry) {
	h.undo = append(h.undo, e)
	if over := len(h.undo) - h.limit; over > 0 {
		h.undo = append([]Entry(nil), h.undo[over:]...)
	}
	h.redo = h.redo[:0]
}

// PopUndo 弹出最近的条目并移到重做栈
func (h *History) PopUndo() (Entry, bool) {
	if len(h.undo) == 0 {
		return Entry{}, false
	}
	e := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, e)
	return e, true
}

// PopRedo 弹出最近撤销的条目并放回撤销栈
func (h *History) PopRedo() (Entry, bool) {
	if len(h.redo) == 0 {
		return Entry{}, false
	}
	e := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, e)
	return e, true
}

// Reset 清空两个栈
func (h *History) Reset() {
	h.undo, h.redo = nil, nil
}

// Len 返回撤销栈和重做栈的长度
func (h *History) Len() (undo, redo int) {
	return len(h.undo), len(h.redo)
}
