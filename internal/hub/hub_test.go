package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler 把每一帧转发给 targets，并记录调用顺序
type echoHandler struct {
	mu           sync.Mutex
	frames       []string
	disconnected []string
	targets      []string
}

func (e *echoHandler) HandleFrame(_ context.Context, sender service.Sender, raw []byte) []service.Delivery {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames = append(e.frames, sender.ConnID+":"+string(raw))
	out := make([]service.Delivery, 0, len(e.targets))
	for _, t := range e.targets {
		out = append(out, service.Delivery{ConnID: t, Data: raw})
	}
	return out
}

func (e *echoHandler) Disconnect(_ context.Context, connID string) []service.Delivery {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnected = append(e.disconnected, connID)
	out := make([]service.Delivery, 0, len(e.targets))
	for _, t := range e.targets {
		if t != connID {
			out = append(out, service.Delivery{ConnID: t, Data: []byte("left:" + connID)})
		}
	}
	return out
}

func (e *echoHandler) snapshot() ([]string, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.frames...), append([]string(nil), e.disconnected...)
}

func startHub(t *testing.T, handler FrameHandler) *Hub {
	t.Helper()
	h := NewHub(handler, nil)
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func testClient(h *Hub, conn string) *Client {
	return newClient(h, nil, service.Sender{ConnID: conn, RoomID: "r1", UserID: "u-" + conn, Role: domain.RoleStudent})
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send channel closed unexpectedly")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message delivered to %s", c.ConnID())
		return nil
	}
}

func TestHub_FramesAreDispatchedToTargets(t *testing.T) {
	// Arrange
	handler := &echoHandler{targets: []string{"c2", "missing"}}
	h := startHub(t, handler)
	c1, c2 := testClient(h, "c1"), testClient(h, "c2")
	require.True(t, h.QueueMessage(HubMessage{Type: MessageRegister, Client: c1}))
	require.True(t, h.QueueMessage(HubMessage{Type: MessageRegister, Client: c2}))

	// Act
	require.True(t, h.QueueMessage(HubMessage{Type: MessageFrame, Client: c1, RawData: []byte("hello")}))

	// Assert
	assert.Equal(t, []byte("hello"), receive(t, c2))
	assert.Empty(t, c1.send)
}

func TestHub_PreservesPerConnectionOrder(t *testing.T) {
	handler := &echoHandler{targets: []string{"c2"}}
	h := startHub(t, handler)
	c1, c2 := testClient(h, "c1"), testClient(h, "c2")
	h.QueueMessage(HubMessage{Type: MessageRegister, Client: c1})
	h.QueueMessage(HubMessage{Type: MessageRegister, Client: c2})

	for _, m := range []string{"1", "2", "3", "4", "5"} {
		require.True(t, h.QueueMessage(HubMessage{Type: MessageFrame, Client: c1, RawData: []byte(m)}))
	}

	var got []string
	for i := 0; i < 5; i++ {
		got = append(got, string(receive(t, c2)))
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, got)
}

func TestHub_FramesFromUnregisteredClientsAreIgnored(t *testing.T) {
	handler := &echoHandler{targets: []string{"c2"}}
	h := startHub(t, handler)
	c1, c2 := testClient(h, "c1"), testClient(h, "c2")
	h.QueueMessage(HubMessage{Type: MessageRegister, Client: c2})

	h.QueueMessage(HubMessage{Type: MessageFrame, Client: c1, RawData: []byte("ghost")})
	h.QueueMessage(HubMessage{Type: MessageFrame, Client: c2, RawData: []byte("real")})

	assert.Equal(t, []byte("real"), receive(t, c2))
	frames, _ := handler.snapshot()
	assert.Equal(t, []string{"c2:real"}, frames)
}

func TestHub_UnregisterClosesSendAndNotifiesHandler(t *testing.T) {
	// Arrange
	handler := &echoHandler{targets: []string{"c1", "c2"}}
	h := startHub(t, handler)
	c1, c2 := testClient(h, "c1"), testClient(h, "c2")
	h.QueueMessage(HubMessage{Type: MessageRegister, Client: c1})
	h.QueueMessage(HubMessage{Type: MessageRegister, Client: c2})

	// Act
	h.QueueMessage(HubMessage{Type: MessageUnregister, Client: c1})
	h.QueueMessage(HubMessage{Type: MessageUnregister, Client: c1})

	// Assert
	assert.Equal(t, []byte("left:c1"), receive(t, c2))
	select {
	case _, ok := <-c1.send:
		assert.False(t, ok, "send channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("send channel was not closed")
	}
	_, disconnected := handler.snapshot()
	assert.Equal(t, []string{"c1"}, disconnected, "double unregister is a no-op")
}

func TestHub_FullSendBufferSkipsMessage(t *testing.T) {
	handler := &echoHandler{targets: []string{"c2"}}
	h := startHub(t, handler)
	c1, c2 := testClient(h, "c1"), testClient(h, "c2")
	c2.send = make(chan []byte, 1)
	h.QueueMessage(HubMessage{Type: MessageRegister, Client: c1})
	h.QueueMessage(HubMessage{Type: MessageRegister, Client: c2})

	h.QueueMessage(HubMessage{Type: MessageFrame, Client: c1, RawData: []byte("a")})
	h.QueueMessage(HubMessage{Type: MessageFrame, Client: c1, RawData: []byte("b")})

	// Hub 串行处理：看到第三帧时前两帧的投递已经完成
	h.QueueMessage(HubMessage{Type: MessageFrame, Client: c1, RawData: []byte("barrier")})
	assert.Eventually(t, func() bool {
		frames, _ := handler.snapshot()
		return len(frames) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte("a"), receive(t, c2))
}
