package middleware

import (
	"errors"
	"net/http"
	"strings"

	"classroom-whiteboard/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ContextTicketKey 是验证通过的票据在 gin.Context 中的键
const ContextTicketKey = "ticket"

// ErrMissingTicket 请求既没有 Authorization 头也没有 ticket 查询参数
var ErrMissingTicket = errors.New("missing room ticket")

// ErrMalformedAuthHeader Authorization 头不是 "Bearer <token>" 格式
var ErrMalformedAuthHeader = errors.New("malformed Authorization header")

// TicketParser 校验入场票据，由 service.RoomService 实现
type TicketParser interface {
	ParseTicket(token string) (*service.TicketClaims, error)
}

// RoomTicket 返回一个 Gin 中间件，校验入场票据并确认它属于 URL 中的房间。
// 浏览器的 WebSocket 无法设置请求头，所以也接受 ?ticket= 查询参数。
func RoomTicket(parser TicketParser) gin.HandlerFunc {
	if parser == nil {
		panic("TicketParser cannot be nil for RoomTicket middleware")
	}

	return func(c *gin.Context) {
		logCtx := logrus.WithField("room_id", c.Param("roomId"))

		tokenStr, err := extractToken(c)
		if err != nil {
			logCtx.WithError(err).Warn("Auth middleware: Could not extract room ticket")
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		claims, err := parser.ParseTicket(tokenStr)
		if err != nil {
			logCtx.WithError(err).Warn("Auth middleware: Invalid room ticket")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired ticket"})
			c.Abort()
			return
		}

		if roomID := c.Param("roomId"); roomID != "" && roomID != claims.RoomID {
			logCtx.WithField("ticket_room_id", claims.RoomID).Warn("Auth middleware: Ticket issued for another room")
			c.JSON(http.StatusForbidden, gin.H{"error": "Ticket is not valid for this room"})
			c.Abort()
			return
		}

		c.Set(ContextTicketKey, claims)
		logCtx.WithField("user_id", claims.UserID).Debug("Auth middleware: Room ticket accepted")
		c.Next()
	}
}

// TicketFromContext 取出 RoomTicket 中间件保存的票据
func TicketFromContext(c *gin.Context) (*service.TicketClaims, bool) {
	v, ok := c.Get(ContextTicketKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*service.TicketClaims)
	return claims, ok
}

// extractToken 优先读取 Bearer 头，其次读取 ticket 查询参数
func extractToken(c *gin.Context) (string, error) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", ErrMalformedAuthHeader
		}
		return parts[1], nil
	}
	if t := c.Query("ticket"); t != "" {
		return t, nil
	}
	return "", ErrMissingTicket
}
