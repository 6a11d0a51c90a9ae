package syncengine

import (
	"fmt"
	"testing"
	"time"

	"classroom-whiteboard/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type traceHandler struct {
	name  Tool
	trace *[]string
}

func (h traceHandler) Enter() { *h.trace = append(*h.trace, "enter:"+string(h.name)) }
func (h traceHandler) Exit()  { *h.trace = append(*h.trace, "exit:"+string(h.name)) }

func TestToolMachine_SwitchOrder(t *testing.T) {
	// Arrange
	var trace []string
	handlers := map[Tool]ToolHandler{}
	for _, tool := range []Tool{ToolSelect, ToolPen, ToolRectangle} {
		handlers[tool] = traceHandler{name: tool, trace: &trace}
	}

	// Act
	m := NewToolMachine(handlers)
	require.NoError(t, m.Select(ToolPen))
	require.NoError(t, m.Select(ToolPen))
	require.NoError(t, m.Select(ToolRectangle))

	// Assert
	assert.Equal(t, []string{
		"enter:select",
		"exit:select", "enter:pen",
		"exit:pen", "enter:rectangle",
	}, trace)
	assert.Equal(t, ToolRectangle, m.Current())
}

func TestToolMachine_RejectsUnknownTool(t *testing.T) {
	m := NewToolMachine(nil)

	err := m.Select("lasso")

	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.Equal(t, ToolSelect, m.Current())
}

func TestToolMachine_BlockedOnlyAllowsSelect(t *testing.T) {
	var trace []string
	m := NewToolMachine(map[Tool]ToolHandler{
		ToolSelect: traceHandler{name: ToolSelect, trace: &trace},
		ToolText:   traceHandler{name: ToolText, trace: &trace},
	})
	require.NoError(t, m.Select(ToolText))

	m.SetBlocked(true)

	assert.Equal(t, ToolSelect, m.Current())
	assert.Equal(t, "exit:text", trace[len(trace)-2])
	assert.ErrorIs(t, m.Select(ToolText), ErrActionBlocked)
	assert.NoError(t, m.Select(ToolSelect))
}

func TestHistory_CapDropsOldest(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < DefaultHistoryLimit+5; i++ {
		h.Push(Entry{Kind: domain.OpAdd, ObjectID: fmt.Sprintf("obj-%d", i)})
	}

	undo, _ := h.Len()
	assert.Equal(t, DefaultHistoryLimit, undo)
	e, ok := h.PopUndo()
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf("obj-%d", DefaultHistoryLimit+4), e.ObjectID)

	for i := 0; i < DefaultHistoryLimit-1; i++ {
		e, _ = h.PopUndo()
	}
	assert.Equal(t, "obj-5", e.ObjectID)
	_, ok = h.PopUndo()
	assert.False(t, ok)
}

func TestHistory_UndoRedoMoveBetweenStacks(t *testing.T) {
	h := NewHistory(3)
	h.Push(Entry{ObjectID: "a"})
	h.Push(Entry{ObjectID: "b"})

	e, _ := h.PopUndo()
	assert.Equal(t, "b", e.ObjectID)
	undo, redo := h.Len()
	assert.Equal(t, 1, undo)
	assert.Equal(t, 1, redo)

	e, _ = h.PopRedo()
	assert.Equal(t, "b", e.ObjectID)
	_, ok := h.PopRedo()
	assert.False(t, ok)

	h.Reset()
	undo, redo = h.Len()
	assert.Zero(t, undo+redo)
}

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time          { return c.now }
func (c *stepClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestCursorThrottle(t *testing.T) {
	// Arrange
	clock := &stepClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	throttle := NewCursorThrottle(clock, DefaultCursorMinDelta, DefaultCursorMinInterval)

	// Act & Assert
	assert.True(t, throttle.Allow(100, 100), "first position is always sent")

	clock.Advance(10 * time.Millisecond)
	assert.False(t, throttle.Allow(120, 100), "too soon after the last send")

	clock.Advance(30 * time.Millisecond)
	assert.False(t, throttle.Allow(101, 100), "moved less than the minimum delta")
	assert.True(t, throttle.Allow(110, 100))

	clock.Advance(5 * time.Millisecond)
	assert.False(t, throttle.Allow(200, 200))
}
