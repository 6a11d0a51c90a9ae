package service

import (
	"context"
	"encoding/json"
	"time"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/dto"
	"classroom-whiteboard/internal/metrics"
	"classroom-whiteboard/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
)

// 房间活动事件，由 ActivityService 订阅
const (
	EventMemberJoined      hookz.Key = "member.joined"
	EventOperationRecorded hookz.Key = "operation.recorded"
	EventSnapshotReplaced  hookz.Key = "snapshot.replaced"
	EventPermissionChanged hookz.Key = "permission.changed"
	EventRoomDestroyed     hookz.Key = "room.destroyed"
)

// RoomEvent 是 hookz 上传递的房间活动
type RoomEvent struct {
	RoomID    string
	UserID    string
	Operation domain.Operation
	Snapshot  domain.Snapshot
	Blocked   bool
	At        time.Time
}

// Sender 是一条入站帧的来源连接，身份来自入场票据
type Sender struct {
	ConnID string
	RoomID string
	UserID string
	Name   string
	Role   domain.Role
}

// Delivery 是一条待发送到某个连接的出站帧
type Delivery struct {
	ConnID string
	Data   []byte
}

// CollaborationService 负责实时中继：先校验权限，再原样转发，从不改写操作。
type CollaborationService struct {
	store   repository.RoomStore
	hooks   *hookz.Hooks[RoomEvent]
	metrics *metrics.Metrics
	clock   clockz.Clock
}

// NewCollaborationService 创建 CollaborationService 实例。hooks 与 m 可以为 nil。
func NewCollaborationService(store repository.RoomStore, hooks *hookz.Hooks[RoomEvent], m *metrics.Metrics) *CollaborationService {
	if store == nil {
		panic("RoomStore cannot be nil for CollaborationService")
	}
	return &CollaborationService{
		store:   store,
		hooks:   hooks,
		metrics: m,
		clock:   clockz.RealClock,
	}
}

// HandleFrame 处理一条入站帧，返回需要发出的帧。所有失败都退化为“无效果”。
func (s *CollaborationService) HandleFrame(ctx context.Context, sender Sender, raw []byte) []Delivery {
	var env dto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		s.metrics.FrameDropped("unknown", metrics.ReasonMalformed)
		logrus.WithFields(logrus.Fields{"conn_id": sender.ConnID, "user_id": sender.UserID}).
			Debug("Relay: dropping undecodable frame")
		return nil
	}
	s.metrics.FrameReceived(env.Event)

	if env.RoomID != "" && env.RoomID != sender.RoomID {
		s.drop(sender, env.Event, metrics.ReasonWrongRoom)
		return nil
	}

	var out []Delivery
	switch env.Event {
	case dto.EventJoinRoom:
		out = s.join(ctx, sender, env.Payload)
	case dto.EventLeaveRoom:
		out = s.leave(ctx, sender)
	case dto.EventDrawAction:
		out = s.draw(ctx, sender, env.Payload, raw)
	case dto.EventCanvasState:
		out = s.canvasState(ctx, sender, env.Payload, raw)
	case dto.EventRequestCanvasState:
		out = s.requestCanvasState(sender)
	case dto.EventClearCanvas:
		out = s.clearCanvas(ctx, sender, raw)
	case dto.EventToggleStudentPermission:
		out = s.togglePermission(ctx, sender, env.Payload)
	case dto.EventCloseRoom:
		out = s.closeRoom(ctx, sender)
	case dto.EventCursorPosition:
		out = s.cursor(sender, env.Payload, raw)
	default:
		s.drop(sender, env.Event, metrics.ReasonMalformed)
		return nil
	}
	if len(out) > 0 {
		s.metrics.FrameDelivered(env.Event, len(out))
	}
	return out
}

// Disconnect 连接断开时清理它在所有房间中的成员身份
func (s *CollaborationService) Disconnect(ctx context.Context, connID string) []Delivery {
	var out []Delivery
	for _, dep := range s.store.LeaveConn(connID) {
		out = append(out, s.departed(ctx, dep)...)
	}
	s.metrics.SetActiveRooms(len(s.store.ActiveRoomIDs()))
	return out
}

func (s *CollaborationService) join(ctx context.Context, sender Sender, payload json.RawMessage) []Delivery {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": sender.RoomID, "user_id": sender.UserID})

	name := sender.Name
	if len(payload) > 0 {
		var p dto.JoinRoomPayload
		if err := json.Unmarshal(payload, &p); err == nil && p.UserName != "" {
			name = p.UserName
		}
	}

	res := s.store.Join(sender.RoomID, domain.Member{
		ID:     sender.UserID,
		Name:   name,
		Role:   sender.Role,
		ConnID: sender.ConnID,
	})
	if res.Created {
		logCtx.Info("Relay: room created on first join")
	}
	if res.Replaced != "" {
		logCtx.WithField("old_conn_id", res.Replaced).Info("Relay: member identity moved to a new connection")
	}
	s.metrics.SetActiveRooms(len(s.store.ActiveRoomIDs()))
	s.emit(EventMemberJoined, RoomEvent{RoomID: sender.RoomID, UserID: sender.UserID})

	var out []Delivery
	joined := dto.UserJoinedPayload{UserID: sender.UserID, UserName: name, Role: sender.Role}
	out = append(out, s.toOthers(sender.RoomID, sender.ConnID, dto.EventUserJoined, joined)...)
	out = append(out, s.usersList(sender.RoomID)...)
	if !res.Snapshot.IsEmpty() {
		out = append(out, s.private(sender, dto.EventCanvasStateResponse, res.Snapshot)...)
	}
	if res.Blocked {
		change := dto.PermissionChangePayload{StudentID: sender.UserID, IsBlocked: true}
		out = append(out, s.private(sender, dto.EventStudentPermissionChange, change)...)
	}
	logCtx.WithField("snapshot_objects", res.Snapshot.Len()).Info("Relay: member joined")
	return out
}

func (s *CollaborationService) leave(ctx context.Context, sender Sender) []Delivery {
	dep, err := s.store.Leave(sender.RoomID, sender.UserID, sender.ConnID)
	if err != nil {
		s.drop(sender, dto.EventLeaveRoom, metrics.ReasonNotMember)
		return nil
	}
	s.metrics.SetActiveRooms(len(s.store.ActiveRoomIDs()))
	return s.departed(ctx, dep)
}

func (s *CollaborationService) departed(ctx context.Context, dep repository.Departure) []Delivery {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": dep.RoomID, "user_id": dep.UserID})
	if dep.Destroyed {
		logCtx.Info("Relay: last member left, room destroyed")
		s.emit(EventRoomDestroyed, RoomEvent{RoomID: dep.RoomID, UserID: dep.UserID})
		return nil
	}
	logCtx.Info("Relay: member left")
	out := s.toOthers(dep.RoomID, "", dto.EventUserLeft, dto.UserLeftPayload{UserID: dep.UserID})
	return append(out, s.usersList(dep.RoomID)...)
}

func (s *CollaborationService) draw(ctx context.Context, sender Sender, payload json.RawMessage, raw []byte) []Delivery {
	if _, ok := s.mutator(sender, dto.EventDrawAction); !ok {
		return nil
	}

	var action domain.DrawAction
	if err := json.Unmarshal(payload, &action); err != nil {
		s.drop(sender, dto.EventDrawAction, metrics.ReasonMalformed)
		return nil
	}
	if action.UserID != sender.UserID {
		s.drop(sender, dto.EventDrawAction, metrics.ReasonAuthorSpoofed)
		return nil
	}
	op, err := action.ToOperation()
	if err != nil {
		s.drop(sender, dto.EventDrawAction, metrics.ReasonMalformed)
		return nil
	}

	if err := s.store.RecordOperation(sender.RoomID, op); err != nil {
		logrus.WithFields(logrus.Fields{"room_id": sender.RoomID, "user_id": sender.UserID}).
			WithError(err).Warn("Relay: failed to record operation")
		return nil
	}
	s.metrics.OperationRecorded(string(op.Kind))
	s.emit(EventOperationRecorded, RoomEvent{RoomID: sender.RoomID, UserID: sender.UserID, Operation: op})

	return s.rawToOthers(sender.RoomID, sender.ConnID, raw)
}

func (s *CollaborationService) canvasState(ctx context.Context, sender Sender, payload json.RawMessage, raw []byte) []Delivery {
	if _, ok := s.mutator(sender, dto.EventCanvasState); !ok {
		return nil
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		s.drop(sender, dto.EventCanvasState, metrics.ReasonMalformed)
		return nil
	}
	snap = snap.Dedup()
	if err := s.store.SetSnapshot(sender.RoomID, snap); err != nil {
		logrus.WithField("room_id", sender.RoomID).WithError(err).Warn("Relay: failed to store snapshot")
		return nil
	}
	s.emit(EventSnapshotReplaced, RoomEvent{RoomID: sender.RoomID, UserID: sender.UserID, Snapshot: snap})
	return s.rawToOthers(sender.RoomID, sender.ConnID, raw)
}

func (s *CollaborationService) requestCanvasState(sender Sender) []Delivery {
	if _, ok := s.member(sender, dto.EventRequestCanvasState); !ok {
		return nil
	}
	snap, err := s.store.Snapshot(sender.RoomID)
	if err != nil || snap.IsEmpty() {
		return s.private(sender, dto.EventCanvasStateResponse, json.RawMessage("null"))
	}
	return s.private(sender, dto.EventCanvasStateResponse, snap)
}

func (s *CollaborationService) clearCanvas(ctx context.Context, sender Sender, raw []byte) []Delivery {
	if _, ok := s.mutator(sender, dto.EventClearCanvas); !ok {
		return nil
	}
	if err := s.store.ResetCanvas(sender.RoomID); err != nil {
		return nil
	}
	op := domain.Operation{Kind: domain.OpClear, AuthorID: sender.UserID, Timestamp: s.clock.Now().UnixMilli()}
	s.metrics.OperationRecorded(string(op.Kind))
	s.emit(EventOperationRecorded, RoomEvent{RoomID: sender.RoomID, UserID: sender.UserID, Operation: op})
	return s.rawToOthers(sender.RoomID, "", raw)
}

func (s *CollaborationService) togglePermission(ctx context.Context, sender Sender, payload json.RawMessage) []Delivery {
	tutor, ok := s.member(sender, dto.EventToggleStudentPermission)
	if !ok {
		return nil
	}
	if !tutor.IsTutor() {
		s.drop(sender, dto.EventToggleStudentPermission, metrics.ReasonNotTutor)
		return nil
	}
	var p dto.TogglePermissionPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.StudentID == "" {
		s.drop(sender, dto.EventToggleStudentPermission, metrics.ReasonMalformed)
		return nil
	}
	if p.TutorID != sender.UserID {
		s.drop(sender, dto.EventToggleStudentPermission, metrics.ReasonAuthorSpoofed)
		return nil
	}
	if target, err := s.store.Member(sender.RoomID, p.StudentID); err == nil && target.IsTutor() {
		s.drop(sender, dto.EventToggleStudentPermission, metrics.ReasonNotTutor)
		return nil
	}

	blocked, err := s.store.SetBlocked(sender.RoomID, p.StudentID, p.IsBlocked)
	if err != nil {
		return nil
	}
	logrus.WithFields(logrus.Fields{
		"room_id":    sender.RoomID,
		"tutor_id":   sender.UserID,
		"student_id": p.StudentID,
		"blocked":    blocked,
	}).Info("Relay: student permission changed")
	s.emit(EventPermissionChanged, RoomEvent{RoomID: sender.RoomID, UserID: p.StudentID, Blocked: blocked})

	change := dto.PermissionChangePayload{StudentID: p.StudentID, IsBlocked: blocked}
	out := s.toOthers(sender.RoomID, "", dto.EventStudentPermissionChange, change)
	return append(out, s.usersList(sender.RoomID)...)
}

func (s *CollaborationService) closeRoom(ctx context.Context, sender Sender) []Delivery {
	m, ok := s.member(sender, dto.EventCloseRoom)
	if !ok {
		return nil
	}
	if !m.IsTutor() {
		s.drop(sender, dto.EventCloseRoom, metrics.ReasonNotTutor)
		return nil
	}
	out := s.toOthers(sender.RoomID, "", dto.EventCloseRoom, nil)
	s.store.Delete(sender.RoomID)
	s.metrics.SetActiveRooms(len(s.store.ActiveRoomIDs()))
	s.emit(EventRoomDestroyed, RoomEvent{RoomID: sender.RoomID, UserID: sender.UserID})
	logrus.WithFields(logrus.Fields{"room_id": sender.RoomID, "user_id": sender.UserID}).Info("Relay: room closed by tutor")
	return out
}

func (s *CollaborationService) cursor(sender Sender, payload json.RawMessage, raw []byte) []Delivery {
	if _, ok := s.member(sender, dto.EventCursorPosition); !ok {
		return nil
	}
	var p dto.CursorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.drop(sender, dto.EventCursorPosition, metrics.ReasonMalformed)
		return nil
	}
	if p.UserID != sender.UserID {
		s.drop(sender, dto.EventCursorPosition, metrics.ReasonAuthorSpoofed)
		return nil
	}
	return s.rawToOthers(sender.RoomID, sender.ConnID, raw)
}

// member 确认发送者是房间成员，且成员身份仍属于这个连接
func (s *CollaborationService) member(sender Sender, event string) (domain.Member, bool) {
	m, err := s.store.Member(sender.RoomID, sender.UserID)
	if err != nil || m.ConnID != sender.ConnID {
		s.drop(sender, event, metrics.ReasonNotMember)
		return domain.Member{}, false
	}
	return m, true
}

// mutator 在 member 的基础上拒绝被禁用的学生
func (s *CollaborationService) mutator(sender Sender, event string) (domain.Member, bool) {
	m, ok := s.member(sender, event)
	if !ok {
		return m, false
	}
	if !m.CanMutate() {
		s.drop(sender, event, metrics.ReasonBlocked)
		return m, false
	}
	return m, true
}

func (s *CollaborationService) drop(sender Sender, event, reason string) {
	s.metrics.FrameDropped(event, reason)
	logrus.WithFields(logrus.Fields{
		"room_id": sender.RoomID,
		"user_id": sender.UserID,
		"event":   event,
		"reason":  reason,
	}).Debug("Relay: frame dropped")
}

func (s *CollaborationService) usersList(roomID string) []Delivery {
	members := s.store.Members(roomID)
	list := make([]dto.UserInfo, 0, len(members))
	for _, m := range members {
		list = append(list, dto.UserInfo{ID: m.ID, Name: m.Name, Role: m.Role, IsBlocked: m.IsBlocked})
	}
	return s.toOthers(roomID, "", dto.EventUsersList, list)
}

func (s *CollaborationService) private(sender Sender, event string, payload any) []Delivery {
	msg, err := dto.NewEnvelope(event, sender.RoomID, payload)
	if err != nil {
		logrus.WithField("event", event).WithError(err).Error("Relay: failed to encode frame")
		return nil
	}
	return []Delivery{{ConnID: sender.ConnID, Data: msg}}
}

// toOthers 编码一次，发给房间内除 exceptConn 外的所有成员；exceptConn 为空时发给全部成员
func (s *CollaborationService) toOthers(roomID, exceptConn, event string, payload any) []Delivery {
	msg, err := dto.NewEnvelope(event, roomID, payload)
	if err != nil {
		logrus.WithField("event", event).WithError(err).Error("Relay: failed to encode frame")
		return nil
	}
	return s.rawToOthers(roomID, exceptConn, msg)
}

func (s *CollaborationService) rawToOthers(roomID, exceptConn string, msg []byte) []Delivery {
	members := s.store.Members(roomID)
	out := make([]Delivery, 0, len(members))
	for _, m := range members {
		if m.ConnID == "" || m.ConnID == exceptConn {
			continue
		}
		out = append(out, Delivery{ConnID: m.ConnID, Data: msg})
	}
	return out
}

func (s *CollaborationService) emit(event hookz.Key, ev RoomEvent) {
	if s.hooks == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.clock.Now()
	}
	// 钩子异步执行，不能继承帧处理的 context
	if err := s.hooks.Emit(context.Background(), event, ev); err != nil {
		logrus.WithFields(logrus.Fields{"room_id": ev.RoomID, "event": event}).
			WithError(err).Warn("Relay: failed to emit room event")
	}
}
