package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"bisonguard-worker-go/internal/config"
	"bisonguard-worker-go/internal/logging"
	"bisonguard-worker-go/internal/metrics"
	"bisonguard-worker-go/internal/models"
	"bisonguard-worker-go/internal/services/analytics"
	"bisonguard-worker-go/internal/timeutil"
)

// Message types exchanged over the push channel.
const (
	TypeConnected         = "connected"
	TypeInitialData       = "initial_data"
	TypeAnalyticsUpdate   = "analytics_update"
	TypeDetectionEvent    = "detection_event"
	TypeAlert             = "alert"
	TypeThresholdUpdated  = "threshold_updated"
	TypeError             = "error"
	TypeRequestAnalytics  = "request_analytics"
	TypeSetAlertThreshold = "set_alert_threshold"
)

const (
	sendBuffer     = 32
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Message is the envelope of every push message.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Analytics is the aggregator surface the hub reads and updates.
type Analytics interface {
	Statistics() analytics.Statistics
	CurrentDetections() []models.DetectionEvent
	SetThreshold(kind string, value float64) (analytics.Thresholds, error)
}

// CameraLister lists the configured camera ids.
type CameraLister interface {
	IDs() []string
}

type thresholdRequest struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

// Hub fans push messages out to websocket clients. Each client has a
// bounded send queue; a slow client loses messages instead of blocking
// the hub.
type Hub struct {
	cfg       *config.Config
	logger    zerolog.Logger
	analytics Analytics
	cameras   CameraLister
	metrics   *metrics.Metrics
	clock     timeutil.Clock
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewHub(cfg *config.Config, a Analytics, cameras CameraLister, m *metrics.Metrics, clock timeutil.Clock) *Hub {
	if m == nil {
		m = metrics.New()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Hub{
		cfg:       cfg,
		logger:    logging.NewServiceLogger(cfg, "push"),
		analytics: a,
		cameras:   cameras,
		metrics:   m,
		clock:     clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeWS upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Info().Str("remote", r.RemoteAddr).Int("clients", h.ClientCount()).Msg("Push client connected")

	c.enqueue(encode(TypeConnected, map[string]string{"message": "Connected to BisonGuard Analytics"}))
	var cameras []string
	if h.cameras != nil {
		cameras = h.cameras.IDs()
	}
	c.enqueue(encode(TypeInitialData, map[string]interface{}{
		"cameras": cameras,
		"stats":   h.analytics.Statistics(),
	}))

	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.PushClients.Add(1)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.metrics.PushClients.Add(-1)
	}
	h.mu.Unlock()
	c.close()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to every client.
func (h *Hub) Broadcast(msgType string, data interface{}) {
	payload := encode(msgType, data)
	if payload == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.enqueue(payload)
	}
}

// PublishAlert implements models.AlertSink.
func (h *Hub) PublishAlert(alert models.AlertEvent) {
	h.Broadcast(TypeAlert, alert)
}

// Run broadcasts statistics and per-camera detection events every
// PushInterval until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	interval := h.cfg.PushInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcastUpdate()
		}
	}
}

func (h *Hub) broadcastUpdate() {
	if h.ClientCount() == 0 {
		return
	}
	h.Broadcast(TypeAnalyticsUpdate, h.analytics.Statistics())

	now := h.clock.Now()
	for _, ev := range h.analytics.CurrentDetections() {
		if ev.Count == 0 {
			continue
		}
		h.Broadcast(TypeDetectionEvent, map[string]interface{}{
			"camera_id": ev.CameraID,
			"count":     ev.Count,
			"timestamp": now,
		})
	}
}

// Shutdown disconnects every client and rejects new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
	h.logger.Info().Int("clients", len(clients)).Msg("Push hub shut down")
}

// handle answers one client request.
func (h *Hub) handle(c *client, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.enqueue(encode(TypeError, map[string]string{"message": "invalid message"}))
		return
	}

	switch msg.Type {
	case TypeRequestAnalytics:
		c.enqueue(encode(TypeAnalyticsUpdate, h.analytics.Statistics()))
	case TypeSetAlertThreshold:
		var req thresholdRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.enqueue(encode(TypeError, map[string]string{"message": "invalid threshold payload"}))
			return
		}
		thresholds, err := h.analytics.SetThreshold(req.Type, req.Value)
		if err != nil {
			c.enqueue(encode(TypeError, map[string]string{"message": err.Error()}))
			return
		}
		c.enqueue(encode(TypeThresholdUpdated, thresholds))
	default:
		c.enqueue(encode(TypeError, map[string]string{"message": "unknown message type: " + msg.Type}))
	}
}

func encode(msgType string, data interface{}) []byte {
	body, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	payload, err := json.Marshal(Message{Type: msgType, Data: body})
	if err != nil {
		return nil
	}
	return payload
}

// enqueue drops the message when the client's queue is full.
func (c *client) enqueue(payload []byte) {
	if payload == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.hub.metrics.PushMessagesDropped.Add(1)
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Msg("Push client read error")
			}
			return
		}
		c.hub.handle(c, raw)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
