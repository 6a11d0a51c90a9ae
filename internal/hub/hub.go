package hub

import (
	"context"
	"time"

	"classroom-whiteboard/internal/dto"
	"classroom-whiteboard/internal/metrics"
	"classroom-whiteboard/internal/service"

	"github.com/sirupsen/logrus"
)

// 包级别的 WebSocket 常量，供 hub 和 client 包内使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// 图片对象整帧传输，上限与客户端一致
	maxMessageSize = dto.MaxFrameSize

	sendBufferSize = 256
)

// 消息类型
const (
	MessageRegister   = "register"
	MessageUnregister = "unregister"
	MessageFrame      = "frame"
)

// HubMessage 定义了在 Hub 内部通道传递的消息
type HubMessage struct {
	Type    string
	Client  *Client
	RawData []byte // 仅用于 frame
}

// FrameHandler 是 Hub 依赖的中继逻辑，由 service.CollaborationService 实现
type FrameHandler interface {
	HandleFrame(ctx context.Context, sender service.Sender, raw []byte) []service.Delivery
	Disconnect(ctx context.Context, connID string) []service.Delivery
}

// Hub 维护活跃连接并按到达顺序逐条处理所有事件。
// clients 只在 Run 所在的 goroutine 中访问。
type Hub struct {
	messageChan chan HubMessage
	done        chan struct{}
	clients     map[string]*Client
	handler     FrameHandler
	metrics     *metrics.Metrics
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(handler FrameHandler, m *metrics.Metrics) *Hub {
	if handler == nil {
		panic("FrameHandler cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan HubMessage, 1024),
		done:        make(chan struct{}),
		clients:     make(map[string]*Client),
		handler:     handler,
		metrics:     m,
	}
}

// Run 启动 Hub 的主事件循环，应在单独的 goroutine 中运行。
// 一次只处理一个事件，同一连接的帧按到达顺序处理。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	for {
		select {
		case msg := <-h.messageChan:
			switch msg.Type {
			case MessageRegister:
				h.registerClient(msg.Client)
			case MessageUnregister:
				h.unregisterClient(msg.Client)
			case MessageFrame:
				h.handleFrame(msg)
			default:
				log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
		case <-h.done:
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			log.Info("Hub is shutting down...")
			return
		}
	}
}

// Stop 让 Run 退出并关闭所有连接的发送通道
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	h.clients[client.ConnID()] = client
	h.metrics.SetConnections(len(h.clients))
	logrus.WithFields(logrus.Fields{
		"conn_id": client.ConnID(),
		"room_id": client.sender.RoomID,
		"user_id": client.sender.UserID,
	}).Info("Client registered to Hub")
}

func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"conn_id": client.ConnID(), "user_id": client.sender.UserID})
	if _, ok := h.clients[client.ConnID()]; !ok {
		logCtx.Debug("Client already unregistered")
		return
	}
	delete(h.clients, client.ConnID())
	close(client.send)
	h.metrics.SetConnections(len(h.clients))

	h.dispatch(h.handler.Disconnect(context.Background(), client.ConnID()))
	logCtx.Info("Client unregistered from Hub")
}

func (h *Hub) handleFrame(msg HubMessage) {
	if msg.Client == nil {
		return
	}
	if _, ok := h.clients[msg.Client.ConnID()]; !ok {
		return
	}
	h.dispatch(h.handler.HandleFrame(context.Background(), msg.Client.sender, msg.RawData))
}

// dispatch 非阻塞地投递出站帧，慢客户端的缓冲满时跳过
func (h *Hub) dispatch(out []service.Delivery) {
	for _, d := range out {
		client, ok := h.clients[d.ConnID]
		if !ok {
			continue
		}
		select {
		case client.send <- d.Data:
		default:
			h.metrics.SendQueueOverrun()
			logrus.WithFields(logrus.Fields{
				"conn_id": d.ConnID,
				"user_id": client.sender.UserID,
			}).Warn("Client send channel full, skipping message")
		}
	}
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。队列已满时返回 false。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}
