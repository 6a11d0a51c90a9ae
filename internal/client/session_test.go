package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"classroom-whiteboard/internal/domain"
	wshandler "classroom-whiteboard/internal/handler/websocket"
	"classroom-whiteboard/internal/hub"
	memorystate "classroom-whiteboard/internal/infra/state/memory"
	"classroom-whiteboard/internal/middleware"
	"classroom-whiteboard/internal/repository/mocks"
	"classroom-whiteboard/internal/service"
	"classroom-whiteboard/internal/syncengine"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type relayServer struct {
	url   string
	rooms *service.RoomService
	store *memorystate.RoomStore
}

// newRelayServer 启动真实的 Hub + CollaborationService，只 mock 房间记录
func newRelayServer(t *testing.T) *relayServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := new(mocks.RoomRepository)
	repo.On("FindByID", mock.Anything, "r1").Return(&domain.Room{ID: "r1", Name: "Algebra", CreatedBy: "A"}, nil)
	rooms, err := service.NewRoomService(repo, "e2e-secret", 1)
	require.NoError(t, err)

	store := memorystate.NewRoomStore(0)
	h := hub.NewHub(service.NewCollaborationService(store, nil, nil), nil)
	go h.Run()
	t.Cleanup(h.Stop)

	r := gin.New()
	r.GET("/ws/room/:roomId", middleware.RoomTicket(rooms), wshandler.NewWebSocketHandler(h, rooms, "*").HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &relayServer{url: srv.URL, rooms: rooms, store: store}
}

func (rs *relayServer) join(t *testing.T, userID string, role domain.Role) *Session {
	t.Helper()
	ticket, err := rs.rooms.IssueTicket(context.Background(), "r1", service.TicketRequest{UserID: userID, Role: role})
	require.NoError(t, err)

	s, err := Dial(context.Background(), Config{
		ServerURL: rs.url,
		RoomID:    "r1",
		Ticket:    ticket,
		UserID:    userID,
		UserName:  userID,
		Role:      role,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSession_TutorAndStudentScenario(t *testing.T) {
	rs := newRelayServer(t)

	// A (导师) 进入空房间并画一个矩形
	a := rs.join(t, "A", domain.RoleTutor)
	require.Eventually(t, func() bool { return len(a.Users()) == 1 }, waitFor, tick)

	_, err := a.Engine().AddLocal(&domain.DrawableObject{
		ID:    "r1-obj-1",
		Type:  domain.ObjectRect,
		Attrs: map[string]any{"left": 10.0, "top": 10.0, "width": 40.0, "height": 20.0, "fill": "#ff0000"},
	})
	require.NoError(t, err)
	require.NoError(t, a.PublishSnapshot())
	require.Eventually(t, func() bool {
		snap, err := rs.store.Snapshot("r1")
		return err == nil && snap.Len() == 1
	}, waitFor, tick)

	// B (学生) 加入后收到包含矩形的初始快照
	b := rs.join(t, "B", domain.RoleStudent)
	require.Eventually(t, func() bool {
		_, ok := b.Engine().Object("r1-obj-1")
		return ok
	}, waitFor, tick)
	rect, _ := b.Engine().Object("r1-obj-1")
	assert.Equal(t, "A", rect.OwnerID)
	assert.Equal(t, domain.ReadOnly(), rect.Interaction)
	require.Eventually(t, func() bool { return len(a.Users()) == 2 }, waitFor, tick)

	// B 不能移动 A 的矩形
	_, err = b.Engine().ModifyLocal("r1-obj-1", map[string]any{"left": 999.0})
	assert.ErrorIs(t, err, syncengine.ErrNotOwner)

	// A 的修改到达 B
	_, err = a.Engine().ModifyLocal("r1-obj-1", map[string]any{"left": 50.0})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		obj, ok := b.Engine().Object("r1-obj-1")
		return ok && obj.Float("left") == 50.0
	}, waitFor, tick)

	// A 撤销后 B 收到完整快照
	undone, err := a.Engine().Undo()
	require.NoError(t, err)
	require.True(t, undone)
	require.Eventually(t, func() bool {
		obj, ok := b.Engine().Object("r1-obj-1")
		return ok && obj.Float("left") == 10.0
	}, waitFor, tick)

	// A 禁用 B：B 的工具回到 select，本地绘制被拒绝
	require.NoError(t, b.Engine().Tools().Select(syncengine.ToolPen))
	require.NoError(t, a.SetStudentBlocked("B", true))
	require.Eventually(t, b.Engine().Blocked, waitFor, tick)
	assert.Equal(t, syncengine.ToolSelect, b.Engine().Tools().Current())
	_, err = b.Engine().AddLocal(&domain.DrawableObject{Type: domain.ObjectRect})
	assert.ErrorIs(t, err, syncengine.ErrActionBlocked)

	// 绕过本地检查直接发帧也会被中继丢弃
	require.NoError(t, b.EmitOperation(domain.Operation{
		Kind:     domain.OpAdd,
		ObjectID: "B-sneaky",
		Object:   domain.Payload{"id": "B-sneaky", "ownerId": "B", "type": "rect"},
		AuthorID: "B",
	}))
	sent, err := b.MoveCursor(5, 5, "#00ff00")
	require.NoError(t, err)
	require.True(t, sent)
	require.Eventually(t, func() bool {
		_, ok := a.Cursor("B")
		return ok
	}, waitFor, tick)
	for _, op := range rs.store.ActionLog("r1") {
		assert.NotEqual(t, "B-sneaky", op.ObjectID)
	}
	_, ok := a.Engine().Object("B-sneaky")
	assert.False(t, ok)
	assert.Zero(t, a.Engine().Pending("B-sneaky"))

	// A 关闭房间，B 的会话结束
	require.NoError(t, a.CloseRoom())
	select {
	case <-b.Done():
	case <-time.After(waitFor):
		t.Fatal("student session did not end after close-room")
	}
	assert.True(t, b.RoomClosed())
}

func TestSession_ClearReachesEveryone(t *testing.T) {
	rs := newRelayServer(t)
	a := rs.join(t, "A", domain.RoleTutor)
	b := rs.join(t, "B", domain.RoleStudent)
	require.Eventually(t, func() bool { return len(a.Users()) == 2 && len(b.Users()) == 2 }, waitFor, tick)

	_, err := b.Engine().AddLocal(&domain.DrawableObject{ID: "B-1", Type: domain.ObjectCircle, Attrs: map[string]any{"radius": 5.0}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.Engine().Len() == 1 }, waitFor, tick)

	_, err = a.Engine().ClearLocal()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return b.Engine().Len() == 0 }, waitFor, tick)
	assert.Zero(t, a.Engine().Len())
}

// noisePNG 生成几乎不可压缩的 PNG
func noisePNG(t *testing.T, side int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	img := image.NewNRGBA(image.Rect(0, 0, side, side))
	rng.Read(img.Pix)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSession_LargeImageImportKeepsAuthorConnected(t *testing.T) {
	// Arrange
	rs := newRelayServer(t)
	a := rs.join(t, "A", domain.RoleTutor)
	b := rs.join(t, "B", domain.RoleStudent)
	require.Eventually(t, func() bool { return len(a.Users()) == 2 && len(b.Users()) == 2 }, waitFor, tick)
	src := "data:image/png;base64," + base64.StdEncoding.EncodeToString(noisePNG(t, 600))
	require.Greater(t, len(src), 1<<20)

	// Act
	_, err := a.Engine().AddLocal(&domain.DrawableObject{
		ID:    "A-slide",
		Type:  domain.ObjectImage,
		Attrs: map[string]any{"src": src, "left": 0.0, "top": 0.0, "width": 600.0, "height": 600.0},
	})
	require.NoError(t, err)

	// Assert
	require.Eventually(t, func() bool {
		obj, ok := b.Engine().Object("A-slide")
		return ok && obj.Pixels != nil
	}, 2*waitFor, tick)
	_, err = rs.store.Member("r1", "A")
	assert.NoError(t, err)
	select {
	case <-a.Done():
		t.Fatal("author session closed after importing a large image")
	default:
	}
}

func TestDial_RejectsTicketForAnotherRoom(t *testing.T) {
	rs := newRelayServer(t)
	ticket, err := rs.rooms.IssueTicket(context.Background(), "r1", service.TicketRequest{UserID: "B", Role: domain.RoleStudent})
	require.NoError(t, err)

	_, err = Dial(context.Background(), Config{ServerURL: rs.url, RoomID: "r2", Ticket: ticket, UserID: "B", Role: domain.RoleStudent})

	var hsErr *HandshakeError
	require.True(t, errors.As(err, &hsErr), "got %v", err)
	assert.Equal(t, http.StatusForbidden, hsErr.Status)
}

func TestSession_TutorOnlyActions(t *testing.T) {
	rs := newRelayServer(t)
	b := rs.join(t, "B", domain.RoleStudent)

	assert.ErrorIs(t, b.SetStudentBlocked("C", true), ErrNotTutor)
	assert.ErrorIs(t, b.CloseRoom(), ErrNotTutor)

	require.NoError(t, b.Leave())
	assert.ErrorIs(t, b.RequestCanvasState(), ErrSessionClosed)
}

func TestRoomURL(t *testing.T) {
	got, err := roomURL("http://127.0.0.1:8080/", "r1", "a.b.c")

	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8080/ws/room/r1?ticket=a.b.c", got)
}
