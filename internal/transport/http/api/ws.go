package apihttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"papertrade/internal/logger"
	"papertrade/internal/trading"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// IntentHandler 执行客户端通过 WebSocket 发来的操作意图。
// 具体实现由应用装配层提供（账本 + 行情同步器）。
type IntentHandler interface {
	PlaceOrder(req trading.OpenRequest) error
	ClosePosition(id string) error
	CloseAll() int
	SelectPair(ctx context.Context, symbol, interval string) error
	Reconnect(ctx context.Context) error
}

// OutMessage 是推给浏览器的统一信封。
type OutMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
)

// intentSchema 约束入站消息的外形；字段语义再由各 handler 细查。
const intentSchema = `{
	"type": "object",
	"required": ["action"],
	"properties": {
		"action": {
			"type": "string",
			"enum": ["place_order", "close_position", "close_all", "select", "reconnect"]
		},
		"payload": {"type": "object"}
	}
}`

// Hub 维护全部浏览器连接并向它们广播行情与账本更新。
//
// 广播是尽力而为：某个客户端的发送队列满了就丢这一帧，慢消费者
// 不会拖住其他连接（下一帧 price/candle 很快会补上最新状态）。
type Hub struct {
	intents IntentHandler

	// helloFn 在新连接建立时生成初始帧（当前快照），可为 nil。
	helloFn func() []OutMessage

	mu      sync.Mutex
	clients map[string]*wsClient

	upgrader websocket.Upgrader
	schema   *jsonschema.Schema
}

// HubOption 定制 Hub 行为。
type HubOption func(*Hub)

// WithHello 注册新连接的初始快照生成器。
func WithHello(fn func() []OutMessage) HubOption {
	return func(h *Hub) { h.helloFn = fn }
}

// NewHub 构建 Hub。intents 为 nil 时入站意图一律拒绝。
func NewHub(intents IntentHandler, opts ...HubOption) *Hub {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("intent.json", strings.NewReader(intentSchema)); err != nil {
		panic(fmt.Sprintf("ws intent schema: %v", err))
	}
	schema, err := compiler.Compile("intent.json")
	if err != nil {
		panic(fmt.Sprintf("ws intent schema: %v", err))
	}
	h := &Hub{
		intents: intents,
		clients: make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		schema: schema,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// ServeWS 把一次 HTTP 请求升级为 WebSocket 并接管其生命周期。
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[ws] upgrade error: %v", err)
		return
	}
	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	client := &wsClient{
		id:   clientID,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	if old, ok := h.clients[clientID]; ok {
		// 同一 client_id 重连：新连接替换旧的
		go old.close()
	}
	h.clients[clientID] = client
	h.mu.Unlock()
	logger.Infof("[ws] 客户端 %s 已连接", shortID(clientID))

	if h.helloFn != nil {
		for _, msg := range h.helloFn() {
			h.sendTo(client, msg)
		}
	}

	go client.writePump()
	h.readPump(client) // 阻塞到连接断开

	h.mu.Lock()
	if current, ok := h.clients[clientID]; ok && current == client {
		delete(h.clients, clientID)
	}
	h.mu.Unlock()
	client.close()
	logger.Infof("[ws] 客户端 %s 已断开", shortID(clientID))
}

// Broadcast 把一条消息推给所有连接的客户端。
func (h *Hub) Broadcast(msgType string, data any) {
	raw, err := json.Marshal(OutMessage{Type: msgType, Data: data})
	if err != nil {
		logger.Warnf("[ws] marshal %s error: %v", msgType, err)
		return
	}
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.trySend(raw)
	}
}

// ClientCount 返回当前连接数。
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 断开全部客户端。
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*wsClient)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) sendTo(c *wsClient, msg OutMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		logger.Warnf("[ws] marshal %s error: %v", msg.Type, err)
		return
	}
	c.trySend(raw)
}

// readPump 循环读取客户端意图，连接断开时返回。
func (h *Hub) readPump(c *wsClient) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if reply := h.handleIntent(string(raw)); reply != nil {
			h.sendTo(c, *reply)
		}
	}
}

// handleIntent 校验并执行一条入站意图，返回要回给该客户端的 ack（可为 nil）。
func (h *Hub) handleIntent(raw string) *OutMessage {
	if !gjson.Valid(raw) {
		return ackError("", "invalid json")
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return ackError("", "invalid json")
	}
	if err := h.schema.Validate(doc); err != nil {
		return ackError(gjson.Get(raw, "action").String(), "schema: "+err.Error())
	}
	action := gjson.Get(raw, "action").String()
	if h.intents == nil {
		return ackError(action, "intents disabled")
	}

	switch action {
	case "place_order":
		req := trading.OpenRequest{
			Side:       trading.Side(gjson.Get(raw, "payload.side").String()),
			Size:       gjson.Get(raw, "payload.size").Float(),
			Leverage:   int(gjson.Get(raw, "payload.leverage").Int()),
			StopLoss:   gjson.Get(raw, "payload.stop_loss").Float(),
			TakeProfit: gjson.Get(raw, "payload.take_profit").Float(),
		}
		if err := h.intents.PlaceOrder(req); err != nil {
			return ackError(action, err.Error())
		}
	case "close_position":
		id := gjson.Get(raw, "payload.id").String()
		if id == "" {
			return ackError(action, "payload.id required")
		}
		if err := h.intents.ClosePosition(id); err != nil {
			return ackError(action, err.Error())
		}
	case "close_all":
		h.intents.CloseAll()
	case "select":
		sym := gjson.Get(raw, "payload.symbol").String()
		iv := gjson.Get(raw, "payload.interval").String()
		if err := h.intents.SelectPair(context.Background(), sym, iv); err != nil {
			return ackError(action, err.Error())
		}
	case "reconnect":
		if err := h.intents.Reconnect(context.Background()); err != nil {
			return ackError(action, err.Error())
		}
	default:
		return ackError(action, "unsupported action")
	}
	return &OutMessage{Type: "ack", Data: map[string]string{"action": action}}
}

func ackError(action, msg string) *OutMessage {
	return &OutMessage{Type: "error", Data: map[string]string{"action": action, "message": msg}}
}

// wsClient 是单个浏览器连接。
type wsClient struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (c *wsClient) writePump() {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// trySend 非阻塞入队；队列满或通道已关闭都按丢帧处理。
func (c *wsClient) trySend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		close(c.send)
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
