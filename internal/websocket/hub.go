package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/wfunc/volume-bridge/internal/errors"
	"github.com/wfunc/volume-bridge/internal/metrics"
	"github.com/wfunc/volume-bridge/internal/models"
	"go.uber.org/zap"
)

// Hub WebSocket连接管理中心，只向客户端推送音量事件
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 消息广播通道
	broadcast chan []byte

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	// Run 退出后关闭
	done chan struct{}

	logger *zap.Logger
}

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// 消息类型
const (
	MessageTypeConnected = "connected"
	MessageTypeVolume    = "volume"
	MessageTypeError     = "error"
)

// NewHub 创建Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run 运行Hub，ctx取消后断开所有客户端
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case data := <-h.broadcast:
			h.broadcastMessage(data)
		}
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接", zap.String("client_id", client.ID))

	msg := &Message{
		Type:      MessageTypeConnected,
		Data:      json.RawMessage(`{"client_id":"` + client.ID + `"}`),
		Timestamp: time.Now().UnixMilli(),
	}
	if err := h.SendToClient(client.ID, msg); err != nil {
		h.logger.Warn("发送连接消息失败", zap.String("client_id", client.ID), zap.Error(err))
	}
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端断开", zap.String("client_id", client.ID))
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.Send)
	}
	h.clientsMu.Unlock()
}

// broadcastMessage 广播消息
func (h *Hub) broadcastMessage(data []byte) {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.Send <- data:
		default:
			// 慢客户端丢消息，不阻塞其他客户端
			h.logger.Warn("客户端发送缓冲区满", zap.String("client_id", client.ID))
		}
	}
}

// SendToClient 发送消息给指定客户端
func (h *Hub) SendToClient(clientID string, message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrWebSocketSend, clientID)
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	// 客户端已注销视为连接关闭
	client, ok := h.clients[clientID]
	if !ok {
		return apperrors.Wrap(ErrClientNotFound, apperrors.ErrWebSocketClosed, clientID)
	}

	select {
	case client.Send <- data:
		return nil
	default:
		return apperrors.Wrap(ErrSendBufferFull, apperrors.ErrWebSocketSend, clientID)
	}
}

// Broadcast 广播消息，广播队列满时丢弃
func (h *Hub) Broadcast(message *Message) bool {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return false
	}

	select {
	case h.broadcast <- data:
		return true
	default:
		h.logger.Warn("广播队列已满，丢弃消息", zap.String("type", message.Type))
		return false
	}
}

// Publish 把音量事件推送给所有客户端
func (h *Hub) Publish(event *models.VolumeEvent) {
	if event == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("序列化音量事件失败", zap.Error(err))
		return
	}
	if !h.Broadcast(&Message{
		Type:      MessageTypeVolume,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}) {
		metrics.RecordDropped()
	}
}

// Register 注册客户端，Hub已停止时返回false
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount 获取在线客户端数
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
