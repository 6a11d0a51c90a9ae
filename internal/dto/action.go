package dto

import (
	"encoding/json"

	"classroom-whiteboard/internal/domain"
)

// WebSocket 事件名
const (
	EventJoinRoom                = "join-room"
	EventLeaveRoom               = "leave-room"
	EventDrawAction              = "draw-action"
	EventCanvasState             = "canvas-state"
	EventClearCanvas             = "clear-canvas"
	EventCursorPosition          = "cursor-position"
	EventUserJoined              = "user-joined"
	EventUserLeft                = "user-left"
	EventUsersList               = "users-list"
	EventCloseRoom               = "close-room"
	EventToggleStudentPermission = "toggle-student-permission"
	EventStudentPermissionChange = "student-permission-change"
	EventRequestCanvasState      = "request_canvas_state"
	EventCanvasStateResponse     = "canvas_state_response"
)

// 帧大小上限，服务端和客户端的 SetReadLimit 共用
const (
	// MaxImageBytes 图片对象 src 解码前的大小上限
	MaxImageBytes = 10 << 20
	// MaxFrameSize 单帧上限：一张 base64 编码的最大图片加上信封和其余字段
	MaxFrameSize = MaxImageBytes/3*4 + 1<<20
)

// Envelope 是所有 WebSocket 帧的外层结构
type Envelope struct {
	Event   string          `json:"event"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope 序列化 payload 并封装成帧
func NewEnvelope(event, roomID string, payload any) ([]byte, error) {
	env := Envelope{Event: event, RoomID: roomID}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = b
	}
	return json.Marshal(env)
}

// JoinRoomPayload join-room；身份以入场票据为准，这里只允许更新显示名
type JoinRoomPayload struct {
	UserName string `json:"userName,omitempty"`
}

// UserInfo users-list 中的一项
type UserInfo struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Role      domain.Role `json:"role"`
	IsBlocked bool        `json:"isBlocked"`
}

// UserJoinedPayload user-joined
type UserJoinedPayload struct {
	UserID   string      `json:"userId"`
	UserName string      `json:"userName"`
	Role     domain.Role `json:"role"`
}

// UserLeftPayload user-left
type UserLeftPayload struct {
	UserID string `json:"userId"`
}

// TogglePermissionPayload toggle-student-permission
type TogglePermissionPayload struct {
	TutorID   string `json:"tutorId"`
	StudentID string `json:"studentId"`
	IsBlocked bool   `json:"isBlocked"`
}

// PermissionChangePayload student-permission-change
type PermissionChangePayload struct {
	StudentID string `json:"studentId"`
	IsBlocked bool   `json:"isBlocked"`
}

// CursorPosition 光标或激光笔的位置
type CursorPosition struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color,omitempty"`
}

// CursorPayload cursor-position
type CursorPayload struct {
	UserID   string         `json:"userId"`
	Position CursorPosition `json:"position"`
}

// ClearCanvasPayload clear-canvas；服务端不解析，只用于客户端识别自己的回声
type ClearCanvasPayload struct {
	UserID string `json:"userId"`
}
