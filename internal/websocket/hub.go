package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wfunc/coin-hopper/internal/engine"
)

// 消息类型
const (
	// 系统消息
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"
	MessageTypeSnapshot  = "snapshot"

	// 余额与出币
	MessageTypeBalanceUpdate  = "balance_update"
	MessageTypePayoutStarted  = "payout_started"
	MessageTypePayoutComplete = "payout_complete"
	MessageTypePayoutStalled  = "payout_stalled"
	MessageTypePayoutAborted  = "payout_aborted"
	MessageTypePayoutRejected = "payout_rejected"
)

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"`           // 消息类型
	Seq       uint64          `json:"seq,omitempty"`  // 引擎事件序号，按序递增
	Data      json.RawMessage `json:"data,omitempty"` // 消息数据
	Timestamp int64           `json:"timestamp"`      // 毫秒时间戳
}

// StateSource 连接时下发快照的数据来源，通常是 *engine.Engine
type StateSource interface {
	Balance() int64
	Status() engine.PayoutStatus
}

// Snapshot 连接快照
type Snapshot struct {
	ClientID string              `json:"client_id,omitempty"`
	Balance  int64               `json:"balance"`
	Payout   engine.PayoutStatus `json:"payout"`
}

// Config Hub配置
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxMessageSize:  4096,
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		SendBuffer:      64,
	}
}

// Hub WebSocket连接管理中心，把引擎事件推送给所有客户端
type Hub struct {
	config   Config
	source   StateSource
	upgrader websocket.Upgrader

	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	logger *zap.Logger
}

// NewHub 创建Hub
func NewHub(config Config, source StateSource, logger *zap.Logger) *Hub {
	def := DefaultConfig()
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = def.ReadBufferSize
	}
	if config.WriteBufferSize <= 0 {
		config.WriteBufferSize = def.WriteBufferSize
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = def.MaxMessageSize
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = def.PongTimeout
	}
	if config.PingInterval <= 0 || config.PingInterval >= config.PongTimeout {
		// ping 周期必须小于 pong 超时
		config.PingInterval = config.PongTimeout * 9 / 10
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = def.SendBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Hub{
		config: config,
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			// 本地运维面板，不校验来源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run 运行Hub，ctx 取消时断开所有客户端
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-ctx.Done():
			h.clientsMu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.clientsMu.Unlock()
			return
		}
	}
}

// ServeWS 升级HTTP连接并启动读写协程
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败", zap.Error(err))
		return
	}

	client := newClient(h, conn)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// registerClient 注册客户端并下发快照
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接", zap.String("client_id", client.ID))

	msg, err := h.snapshotMessage(MessageTypeConnected, client.ID)
	if err != nil {
		h.logger.Error("生成快照失败", zap.Error(err))
		return
	}
	h.sendTo(client, msg)
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.send)
	}
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端断开", zap.String("client_id", client.ID))
}

// broadcastMessage 广播消息
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
			// 慢客户端丢消息
			h.logger.Warn("客户端发送缓冲区满", zap.String("client_id", client.ID))
		}
	}
}

// sendTo 发送给单个客户端
func (h *Hub) sendTo(client *Client, message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	// 持锁检查，注销后通道已关闭
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("客户端发送缓冲区满", zap.String("client_id", client.ID))
	}
}

// snapshotMessage 构造快照消息
func (h *Hub) snapshotMessage(msgType, clientID string) (*Message, error) {
	snap := Snapshot{ClientID: clientID}
	if h.source != nil {
		snap.Balance = h.source.Balance()
		snap.Payout = h.source.Status()
	}
	return newMessage(msgType, snap)
}

// Broadcast 广播消息，缓冲区满时丢弃
func (h *Hub) Broadcast(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("广播缓冲区满，丢弃消息", zap.String("type", message.Type))
	}
}

// OnEvent 实现 engine.Listener。
// 在引擎回调里调用，只做非阻塞投递。
func (h *Hub) OnEvent(ev engine.Event) {
	var (
		msgType string
		payload interface{}
	)

	switch ev.Type {
	case engine.EventCreditChanged:
		msgType = MessageTypeBalanceUpdate
		payload = map[string]interface{}{
			"balance": ev.Balance,
			"delta":   ev.Delta,
			"pulses":  ev.Pulses,
		}
	case engine.EventPayoutStarted:
		msgType = MessageTypePayoutStarted
		payload = map[string]interface{}{
			"balance": ev.Balance,
			"ticket":  ev.Ticket,
		}
	case engine.EventPayoutCompleted:
		msgType = MessageTypePayoutComplete
		payload = ev.Result
	case engine.EventPayoutStalled:
		msgType = MessageTypePayoutStalled
		payload = ev.Result
	case engine.EventPayoutAborted:
		msgType = MessageTypePayoutAborted
		payload = ev.Result
	case engine.EventPayoutRejected:
		msgType = MessageTypePayoutRejected
		data := map[string]interface{}{
			"amount":  ev.Amount,
			"reason":  ev.Reason,
			"balance": ev.Balance,
		}
		if ev.Err != nil {
			data["error"] = ev.Err.Error()
		}
		payload = data
	default:
		return
	}

	msg, err := newMessage(msgType, payload)
	if err != nil {
		h.logger.Error("序列化事件失败", zap.String("type", msgType), zap.Error(err))
		return
	}
	msg.Seq = ev.Seq
	h.Broadcast(msg)

	// 出币结束后补一条余额推送
	switch ev.Type {
	case engine.EventPayoutCompleted, engine.EventPayoutStalled, engine.EventPayoutAborted:
		if bal, err := newMessage(MessageTypeBalanceUpdate, map[string]interface{}{
			"balance": ev.Balance,
			"delta":   ev.Delta,
		}); err == nil {
			bal.Seq = ev.Seq
			h.Broadcast(bal)
		}
	}
}

// GetOnlineCount 获取在线连接数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// newMessage 构造消息
func newMessage(msgType string, payload interface{}) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = data
	}
	return msg, nil
}
