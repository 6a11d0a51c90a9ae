package syncengine

import (
	"fmt"
	"sync"
)

// Tool 当前激活的画布工具
type Tool string

const (
	ToolSelect    Tool = "select"
	ToolPen       Tool = "pen"
	ToolEraser    Tool = "eraser"
	ToolRectangle Tool = "rectangle"
	ToolCircle    Tool = "circle"
	ToolLine      Tool = "line"
	ToolArrow     Tool = "arrow"
	ToolText      Tool = "text"
	ToolEquation  Tool = "equation"
	ToolLaser     Tool = "laser"
)

// Tools 全部已知工具
var Tools = []Tool{
	ToolSelect, ToolPen, ToolEraser, ToolRectangle, ToolCircle,
	ToolLine, ToolArrow, ToolText, ToolEquation, ToolLaser,
}

// ToolHandler 是一个工具的事件处理器集合。
// Enter 在工具激活时挂上监听，Exit 在切走时全部摘除。
type ToolHandler interface {
	Enter()
	Exit()
}

// ToolMachine 是当前工具的有限状态机，任意时刻只有一个处理器处于激活状态。
// 被禁用时只能使用 select。
type ToolMachine struct {
	mu       sync.Mutex
	current  Tool
	blocked  bool
	handlers map[Tool]ToolHandler
}

// NewToolMachine 创建状态机并激活 select。handlers 中缺失的工具视为没有监听器。
func NewToolMachine(handlers map[Tool]ToolHandler) *ToolMachine {
	m := &ToolMachine{current: ToolSelect, handlers: make(map[Tool]ToolHandler, len(Tools))}
	for t, h := range handlers {
		m.handlers[t] = h
	}
	m.enter(ToolSelect)
	return m
}

// Current 当前工具
func (m *ToolMachine) Current() Tool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Select 切换工具。先 Exit 旧工具再 Enter 新工具。
func (m *ToolMachine) Select(t Tool) error {
	if !known(t) {
		return fmt.Errorf("%w: %q", ErrUnknownTool, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blocked && t != ToolSelect {
		return ErrActionBlocked
	}
	m.switchTo(t)
	return nil
}

// SetBlocked 更新禁用状态，禁用时强制回到 select
func (m *ToolMachine) SetBlocked(blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = blocked
	if blocked {
		m.switchTo(ToolSelect)
	}
}

func (m *ToolMachine) switchTo(t Tool) {
	if t == m.current {
		return
	}
	if h := m.handlers[m.current]; h != nil {
		h.Exit()
	}
	m.current = t
	m.enter(t)
}

func (m *ToolMachine) enter(t Tool) {
	if h := m.handlers[t]; h != nil {
		h.Enter()
	}
}

func known(t Tool) bool {
	for _, k := range Tools {
		if k == t {
			return true
		}
	}
	return false
}
