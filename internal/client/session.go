// Package client 是白板的 Go 客户端：通过 WebSocket 连接中继服务，
// 把收到的帧交给 syncengine，并把本地修改发送出去。
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/dto"
	"classroom-whiteboard/internal/syncengine"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
	maxMessageSize = dto.MaxFrameSize
)

var (
	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("client: session closed")
	// ErrSendBufferFull 发送缓冲已满，帧被丢弃
	ErrSendBufferFull = errors.New("client: send buffer full")
	// ErrNotTutor 只有导师能执行的操作
	ErrNotTutor = errors.New("client: tutor role required")
)

// HandshakeError 服务端拒绝了 WebSocket 握手，例如票据无效 (401) 或房间不匹配 (403)
type HandshakeError struct {
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("client: handshake rejected with status %d: %v", e.Status, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Config 是建立会话所需的参数。Ticket 由 POST /api/rooms/:roomId/tickets 签发。
type Config struct {
	ServerURL string // 例如 ws://127.0.0.1:8080
	RoomID    string
	Ticket    string
	UserID    string
	UserName  string
	Role      domain.Role

	Loader    domain.ImageLoader
	Scheduler syncengine.FrameScheduler
	Tools     map[syncengine.Tool]syncengine.ToolHandler
	Dialer    *websocket.Dialer
}

// Session 是一个已加入房间的客户端连接
type Session struct {
	cfg      Config
	conn     *websocket.Conn
	engine   *syncengine.Engine
	throttle *syncengine.CursorThrottle

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.RWMutex
	users      []dto.UserInfo
	cursors    map[string]dto.CursorPosition
	roomClosed bool
}

// Dial 连接中继服务并发送 join-room
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.RoomID == "" || cfg.Ticket == "" || cfg.UserID == "" {
		return nil, fmt.Errorf("client: roomId, ticket and userId are required")
	}
	endpoint, err := roomURL(cfg.ServerURL, cfg.RoomID, cfg.Ticket)
	if err != nil {
		return nil, err
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if cfg.Loader == nil {
		cfg.Loader = &Loader{}
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{Status: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("client: dial %s: %w", cfg.RoomID, err)
	}
	conn.SetReadLimit(maxMessageSize)

	s := &Session{
		cfg:      cfg,
		conn:     conn,
		throttle: syncengine.NewCursorThrottle(nil, syncengine.DefaultCursorMinDelta, syncengine.DefaultCursorMinInterval),
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		cursors:  make(map[string]dto.CursorPosition),
	}
	s.engine = syncengine.NewEngine(cfg.UserID, cfg.Role, syncengine.Options{
		Loader:    cfg.Loader,
		Scheduler: cfg.Scheduler,
		Emitter:   s,
		Tools:     cfg.Tools,
	})

	go s.writePump()
	go s.readPump()

	if err := s.enqueue(dto.EventJoinRoom, dto.JoinRoomPayload{UserName: cfg.UserName}); err != nil {
		s.Close()
		return nil, err
	}
	s.logCtx().Info("Client: joined room")
	return s, nil
}

func roomURL(server, roomID, ticket string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("client: invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path += "/ws/room/" + roomID
	u.RawQuery = url.Values{"ticket": {ticket}}.Encode()
	return u.String(), nil
}

func (s *Session) logCtx() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"room_id": s.cfg.RoomID, "user_id": s.cfg.UserID})
}

// Engine 返回本地同步状态
func (s *Session) Engine() *syncengine.Engine { return s.engine }

// Done 在会话关闭后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// ===== syncengine.Emitter =====

// EmitOperation 把本地操作发给中继。CLEAR 以 clear-canvas 发送，其余为 draw-action。
func (s *Session) EmitOperation(op domain.Operation) error {
	if op.Kind == domain.OpClear {
		return s.enqueue(dto.EventClearCanvas, dto.ClearCanvasPayload{UserID: op.AuthorID})
	}
	return s.enqueue(dto.EventDrawAction, domain.NewDrawAction(op))
}

// EmitSnapshot 以 canvas-state 广播完整快照，用于撤销/重做
func (s *Session) EmitSnapshot(snapshot domain.Snapshot) error {
	return s.enqueue(dto.EventCanvasState, snapshot)
}

// ===== 其它出站事件 =====

// MoveCursor 广播光标位置，节流时返回 false
func (s *Session) MoveCursor(x, y float64, color string) (bool, error) {
	if !s.throttle.Allow(x, y) {
		return false, nil
	}
	p := dto.CursorPayload{UserID: s.cfg.UserID, Position: dto.CursorPosition{X: x, Y: y, Color: color}}
	return true, s.enqueue(dto.EventCursorPosition, p)
}

// SetStudentBlocked 导师禁用或恢复一个学生
func (s *Session) SetStudentBlocked(studentID string, blocked bool) error {
	if s.cfg.Role != domain.RoleTutor {
		return ErrNotTutor
	}
	return s.enqueue(dto.EventToggleStudentPermission, dto.TogglePermissionPayload{
		TutorID:   s.cfg.UserID,
		StudentID: studentID,
		IsBlocked: blocked,
	})
}

// PublishSnapshot 把本地完整画布设为房间快照，之后加入的成员会收到它
func (s *Session) PublishSnapshot() error {
	return s.enqueue(dto.EventCanvasState, s.engine.Snapshot())
}

// RequestCanvasState 请求房间当前快照
func (s *Session) RequestCanvasState() error {
	return s.enqueue(dto.EventRequestCanvasState, nil)
}

// CloseRoom 导师关闭房间
func (s *Session) CloseRoom() error {
	if s.cfg.Role != domain.RoleTutor {
		return ErrNotTutor
	}
	return s.enqueue(dto.EventCloseRoom, nil)
}

// Leave 发送 leave-room 并关闭会话
func (s *Session) Leave() error {
	err := s.enqueue(dto.EventLeaveRoom, nil)
	s.Close()
	return err
}

// Users 最近一次 users-list
func (s *Session) Users() []dto.UserInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]dto.UserInfo(nil), s.users...)
}

// Cursor 某个成员最近的光标位置
func (s *Session) Cursor(userID string) (dto.CursorPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.cursors[userID]
	return p, ok
}

// RoomClosed 房间是否已被导师关闭
func (s *Session) RoomClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomClosed
}

func (s *Session) enqueue(event string, payload any) error {
	msg, err := dto.NewEnvelope(event, s.cfg.RoomID, payload)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- msg:
		return nil
	default:
		s.logCtx().WithField("event", event).Warn("Client: send buffer full, dropping frame")
		return ErrSendBufferFull
	}
}

// Close 结束会话并取消进行中的图片解码，可以重复调用。
// 连接由 writePump 在写完已排队的帧后关闭。
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.engine.Close()
		s.logCtx().Info("Client: session closed")
	})
}

// ===== 读写泵 =====

func (s *Session) readPump() {
	defer s.Close()
	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logCtx().WithError(err).Warn("Client: websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !s.handle(message) {
			return
		}
	}
}

func (s *Session) writePump() {
	defer s.conn.Close()
	for {
		select {
		case msg := <-s.send:
			if err := s.write(msg); err != nil {
				s.logCtx().WithError(err).Warn("Client: failed to write frame")
				s.Close()
				return
			}
		case <-s.done:
			s.flush()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// flush 尽量写出关闭前已经排队的帧，例如 leave-room
func (s *Session) flush() {
	for {
		select {
		case msg := <-s.send:
			if err := s.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(msg []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// handle 把一帧交给本地状态。返回 false 表示会话应结束。
func (s *Session) handle(raw []byte) bool {
	var env dto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logCtx().WithError(err).Debug("Client: dropping undecodable frame")
		return true
	}
	logCtx := s.logCtx().WithField("event", env.Event)

	switch env.Event {
	case dto.EventDrawAction:
		var action domain.DrawAction
		if err := json.Unmarshal(env.Payload, &action); err != nil {
			logCtx.WithError(err).Debug("Client: malformed draw-action")
			return true
		}
		op, err := action.ToOperation()
		if err != nil {
			logCtx.WithError(err).Debug("Client: invalid draw-action")
			return true
		}
		s.engine.ApplyRemote(op)

	case dto.EventCanvasState, dto.EventCanvasStateResponse:
		if isNull(env.Payload) {
			return true
		}
		var snap domain.Snapshot
		if err := json.Unmarshal(env.Payload, &snap); err != nil {
			logCtx.WithError(err).Debug("Client: malformed snapshot")
			return true
		}
		s.engine.ApplySnapshot(snap)

	case dto.EventClearCanvas:
		var p dto.ClearCanvasPayload
		if !isNull(env.Payload) {
			_ = json.Unmarshal(env.Payload, &p)
		}
		s.engine.ApplyRemote(domain.Operation{Kind: domain.OpClear, AuthorID: p.UserID})

	case dto.EventStudentPermissionChange:
		var p dto.PermissionChangePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return true
		}
		s.engine.HandlePermissionChange(p.StudentID, p.IsBlocked)

	case dto.EventUsersList:
		var users []dto.UserInfo
		if err := json.Unmarshal(env.Payload, &users); err != nil {
			return true
		}
		s.mu.Lock()
		s.users = users
		s.mu.Unlock()

	case dto.EventCursorPosition:
		var p dto.CursorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.UserID == "" {
			return true
		}
		s.mu.Lock()
		s.cursors[p.UserID] = p.Position
		s.mu.Unlock()

	case dto.EventUserLeft:
		var p dto.UserLeftPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			s.mu.Lock()
			delete(s.cursors, p.UserID)
			s.mu.Unlock()
		}

	case dto.EventUserJoined:
		logCtx.Debug("Client: member joined")

	case dto.EventCloseRoom:
		s.mu.Lock()
		s.roomClosed = true
		s.mu.Unlock()
		logCtx.Info("Client: room closed by tutor")
		return false

	default:
		logCtx.Debug("Client: ignoring unknown event")
	}
	return true
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
