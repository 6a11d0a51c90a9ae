package websocket

import (
	"errors"
	"net/http"

	"classroom-whiteboard/internal/hub"
	"classroom-whiteboard/internal/middleware"
	"classroom-whiteboard/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler 负责处理 WebSocket 升级请求和客户端注册
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	hub         *hub.Hub
	roomService *service.RoomService
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigin 为空时接受任意来源。
func NewWebSocketHandler(h *hub.Hub, roomService *service.RoomService, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if roomService == nil {
		panic("RoomService cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}

	return &WebSocketHandler{
		upgrader:    upgrader,
		hub:         h,
		roomService: roomService,
	}
}

// HandleConnection 处理 WebSocket 连接请求
// URL 预期格式: /ws/room/{roomId}?ticket=...
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	// 1. 票据由 RoomTicket 中间件校验
	ticket, ok := middleware.TicketFromContext(c)
	if !ok {
		logrus.Warn("WS Handler: Ticket not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Room ticket required"})
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"user_id": ticket.UserID, "room_id": ticket.RoomID, "role": ticket.Role})

	// 2. 房间记录必须存在
	if _, err := h.roomService.FindRoomByID(c.Request.Context(), ticket.RoomID); err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			logCtx.WithError(err).Warn("WS Handler: Room not found")
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		} else {
			logCtx.WithError(err).Error("WS Handler: Error checking room existence")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate room"})
		}
		return
	}

	// 3. 升级连接，Upgrade 失败时已经写好了 HTTP 错误响应
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	// 4. 注册到 Hub 并启动读写泵。成员身份要等客户端发送 join-room 后才建立。
	client := hub.NewClient(h.hub, conn, ticket)
	logCtx = logCtx.WithField("conn_id", client.ConnID())
	if !h.hub.QueueMessage(hub.HubMessage{Type: hub.MessageRegister, Client: client}) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		return
	}
	client.Run()
	logCtx.Info("WS Handler: Client connected")
}
