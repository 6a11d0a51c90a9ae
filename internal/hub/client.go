package hub

import (
	"time"

	"classroom-whiteboard/internal/service"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。身份在握手时由票据确定，之后不可更改。
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	sender service.Sender
	send   chan []byte
}

// NewClient 按票据身份创建 Client 并分配连接 ID
func NewClient(hub *Hub, conn *websocket.Conn, ticket *service.TicketClaims) *Client {
	return newClient(hub, conn, service.Sender{
		ConnID: xid.New().String(),
		RoomID: ticket.RoomID,
		UserID: ticket.UserID,
		Name:   ticket.Name,
		Role:   ticket.Role,
	})
}

func newClient(hub *Hub, conn *websocket.Conn, sender service.Sender) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		sender: sender,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) logCtx() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"conn_id": c.sender.ConnID,
		"user_id": c.sender.UserID,
		"room_id": c.sender.RoomID,
	})
}

// ReadPump 将消息从 WebSocket 连接泵送到 Hub。帧按读取顺序入队；
// Hub 忙时阻塞当前连接而不是丢帧。
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.messageChan <- HubMessage{Type: MessageUnregister, Client: c}:
		case <-c.hub.done:
		case <-time.After(time.Second):
			c.logCtx().Warn("Timeout sending unregister message to Hub channel")
		}
		c.conn.Close()
		c.logCtx().Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logCtx().WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.logCtx().Debug("WebSocket connection closed normally or read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logCtx().Debugf("Received non-text message type: %d", messageType)
			continue
		}

		select {
		case c.hub.messageChan <- HubMessage{Type: MessageFrame, Client: c, RawData: message}:
		case <-c.hub.done:
			return
		}
	}
}

// WritePump 将消息从 send 通道泵送到 WebSocket 连接，并定期发送 Ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logCtx().Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了 send 通道
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logCtx().WithError(err).Warn("Failed to write message to websocket")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logCtx().WithError(err).Warn("Failed to send ping message")
				return
			}
		}
	}
}

func (c *Client) ConnID() string { return c.sender.ConnID }
func (c *Client) RoomID() string { return c.sender.RoomID }
func (c *Client) UserID() string { return c.sender.UserID }
func (c *Client) CloseConn()     { c.conn.Close() }
