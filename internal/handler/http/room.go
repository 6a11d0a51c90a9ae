package http

import (
	"net/http"
	"time"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RoomHandler 封装了房间创建和入场票据相关的 HTTP 处理逻辑
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	if roomService == nil {
		panic("RoomService cannot be nil for RoomHandler")
	}
	return &RoomHandler{roomService: roomService}
}

// CreateRoomRequest 创建房间的请求体
type CreateRoomRequest struct {
	Name          string `json:"name" binding:"required,max=191"`
	CreatedBy     string `json:"createdBy" binding:"required,max=191"`
	TutorPasscode string `json:"tutorPasscode" binding:"omitempty,min=4,max=72"`
}

// CreateRoomResponse 创建房间成功的响应
type CreateRoomResponse struct {
	RoomID    string    `json:"roomId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateRoom 处理 POST /api/rooms
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.CreateRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: name and createdBy are required")
		return
	}
	logCtx := logrus.WithField("created_by", req.CreatedBy)

	room, err := h.roomService.CreateRoom(c.Request.Context(), req.Name, req.CreatedBy, req.TutorPasscode)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: Failed to create room via service")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithField("room_id", room.ID).Info("Handler.CreateRoom: Room created successfully")
	SuccessResponse(c, http.StatusCreated, CreateRoomResponse{
		RoomID:    room.ID,
		Name:      room.Name,
		CreatedAt: room.CreatedAt,
	})
}

// RoomInfoResponse 房间公开信息，不包含口令
type RoomInfoResponse struct {
	RoomID           string    `json:"roomId"`
	Name             string    `json:"name"`
	CreatedBy        string    `json:"createdBy"`
	RequiresPasscode bool      `json:"requiresPasscode"`
	LastActive       time.Time `json:"lastActive"`
}

// GetRoom 处理 GET /api/rooms/:roomId
func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	room, err := h.roomService.FindRoomByID(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, RoomInfoResponse{
		RoomID:           room.ID,
		Name:             room.Name,
		CreatedBy:        room.CreatedBy,
		RequiresPasscode: room.RequiresPasscode(),
		LastActive:       room.LastActive,
	})
}

// IssueTicketRequest 申请入场票据的请求体
type IssueTicketRequest struct {
	UserID   string `json:"userId" binding:"required,max=191"`
	Name     string `json:"name" binding:"max=191"`
	Role     string `json:"role" binding:"required,oneof=tutor student"`
	Passcode string `json:"passcode"`
}

// IssueTicketResponse 票据响应
type IssueTicketResponse struct {
	Ticket string `json:"ticket"`
}

// IssueTicket 处理 POST /api/rooms/:roomId/tickets
func (h *RoomHandler) IssueTicket(c *gin.Context) {
	roomID := c.Param("roomId")
	var req IssueTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("Handler.IssueTicket: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: userId and role (tutor|student) are required")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": req.UserID, "role": req.Role})

	ticket, err := h.roomService.IssueTicket(c.Request.Context(), roomID, service.TicketRequest{
		UserID:   req.UserID,
		Name:     req.Name,
		Role:     domain.Role(req.Role),
		Passcode: req.Passcode,
	})
	if err != nil {
		logCtx.WithError(err).Warn("Handler.IssueTicket: Failed to issue ticket")
		HandleServiceError(c, err)
		return
	}

	logCtx.Info("Handler.IssueTicket: Ticket issued")
	SuccessResponse(c, http.StatusOK, IssueTicketResponse{Ticket: ticket})
}
