package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type parserStub map[string]*service.TicketClaims

func (p parserStub) ParseTicket(token string) (*service.TicketClaims, error) {
	if c, ok := p[token]; ok {
		return c, nil
	}
	return nil, service.ErrInvalidTicket
}

func ticketRouter(p TicketParser) *gin.Engine {
	r := gin.New()
	r.GET("/ws/room/:roomId", RoomTicket(p), func(c *gin.Context) {
		claims, ok := TicketFromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, claims.UserID)
	})
	return r
}

func TestRoomTicket(t *testing.T) {
	parser := parserStub{"good": {RoomID: "abc1234", UserID: "s1", Role: domain.RoleStudent}}
	cases := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"query ticket", "/ws/room/abc1234?ticket=good", "", http.StatusOK},
		{"bearer header", "/ws/room/abc1234", "Bearer good", http.StatusOK},
		{"missing ticket", "/ws/room/abc1234", "", http.StatusUnauthorized},
		{"malformed header", "/ws/room/abc1234", "Token good", http.StatusUnauthorized},
		{"invalid ticket", "/ws/room/abc1234?ticket=forged", "", http.StatusUnauthorized},
		{"ticket for another room", "/ws/room/zzz9999?ticket=good", "", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()

			ticketRouter(parser).ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "s1", w.Body.String())
			}
		})
	}
}

type limiterStub struct {
	counts map[string]int
	err    error
}

func (l *limiterStub) CheckRateLimit(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.counts[key]++
	return l.counts[key] > limit, nil
}

func TestRateLimit(t *testing.T) {
	// Arrange
	limiter := &limiterStub{counts: map[string]int{}}
	r := gin.New()
	r.GET("/x", RateLimit(limiter, 2, time.Second), func(c *gin.Context) { c.Status(http.StatusOK) })

	// Act
	var codes []int
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, w.Code)
	}

	// Assert
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	r := gin.New()
	r.GET("/x", RateLimit(&limiterStub{err: errors.New("redis down")}, 1, time.Second), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()

	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
