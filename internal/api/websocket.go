package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"tank-arena/internal/game"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024

	// sendQueueSize bounds the per-client outbound queue. A slow reader
	// drops messages rather than stalling the engine.
	sendQueueSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients are served from the same host; non-browser
		// clients send no Origin header at all.
		origin := r.Header.Get("Origin")
		if origin == "" || IsAllowedOrigin(origin) {
			return true
		}
		log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
		RecordConnectionRejected("origin")
		return false
	},
}

// GameBackend is the slice of the engine the hub drives. Interface so tests
// can swap in a mock without the full tick scheduler.
type GameBackend interface {
	Connect(connID, addr string) game.ConnectPayload
	Disconnect(connID, reason string)
	ApplyMove(connID string, x, y, angle float64)
	ApplyShoot(connID string)
}

// AudioBackend is the slice of the audio relay the hub drives.
type AudioBackend interface {
	OnFrame(senderID string, raw []byte)
	OnStateChanged(senderID string, enabled bool)
}

type outMessage struct {
	msgType int // websocket.TextMessage or websocket.BinaryMessage
	data    []byte
}

// wsClient is one live connection: the transport handle plus its send queue.
type wsClient struct {
	id   string
	ip   string
	conn *websocket.Conn
	send chan outMessage

	closeOnce sync.Once
}

func (c *wsClient) enqueue(m outMessage) {
	select {
	case c.send <- m:
	default:
		// Queue full: drop for this client rather than block the engine.
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub is the connection registry: it maps connection IDs to transports,
// pumps messages in both directions, and routes inbound events to the game
// and audio backends. It implements game.Sink and audio.FrameSink.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient

	engine GameBackend
	relay  AudioBackend

	maxTotal    int
	connLimiter *ConnLimiter

	nextConnID uint64 // atomic
}

// NewHub creates a hub with the given connection limits. Attach must be
// called before serving: the engine and relay both need the hub as their
// sink, so wiring is a two-step construction.
func NewHub(maxTotal, maxPerIP int) *Hub {
	return &Hub{
		clients:     make(map[string]*wsClient),
		maxTotal:    maxTotal,
		connLimiter: NewConnLimiter(maxPerIP),
	}
}

// Attach wires the hub to its backends.
func (h *Hub) Attach(engine GameBackend, relay AudioBackend) {
	h.engine = engine
	h.relay = relay
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendTo delivers an envelope to one connection. Non-blocking.
func (h *Hub) SendTo(connID, event string, data interface{}) {
	payload, err := marshalEnvelope(event, data)
	if err != nil {
		return
	}
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if ok {
		c.enqueue(outMessage{websocket.TextMessage, payload})
		IncrementWSMessages()
	}
}

// Broadcast delivers an envelope to every connection. Non-blocking.
func (h *Hub) Broadcast(event string, data interface{}) {
	h.broadcastExcept("", event, data)
}

// BroadcastExcept delivers an envelope to every connection but one.
func (h *Hub) BroadcastExcept(connID, event string, data interface{}) {
	h.broadcastExcept(connID, event, data)
}

func (h *Hub) broadcastExcept(skip, event string, data interface{}) {
	payload, err := marshalEnvelope(event, data)
	if err != nil {
		return
	}
	msg := outMessage{websocket.TextMessage, payload}

	h.mu.RLock()
	for id, c := range h.clients {
		if id == skip {
			continue
		}
		c.enqueue(msg)
		IncrementWSMessages()
	}
	h.mu.RUnlock()
}

// SendFrame delivers an encoded audio frame to one connection as a binary
// message. Non-blocking.
func (h *Hub) SendFrame(connID string, payload []byte) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if ok {
		c.enqueue(outMessage{websocket.BinaryMessage, payload})
	}
}

// Kick closes a connection's transport. Used by the inactivity sweep after
// the engine has already removed the player.
func (h *Hub) Kick(connID string) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if ok {
		c.conn.Close()
	}
}

// HandleWebSocket upgrades an HTTP request into a game connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if h.ClientCount() >= h.maxTotal {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", h.maxTotal)
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.connLimiter.Allow(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.connLimiter.Release(ip)
		return
	}

	connID := newConnID(&h.nextConnID)
	client := &wsClient{
		id:   connID,
		ip:   ip,
		conn: conn,
		send: make(chan outMessage, sendQueueSize),
	}

	// Snapshot first, then register: the snapshot must be the first thing
	// this connection receives, ahead of any broadcast.
	snapshot := h.engine.Connect(connID, conn.RemoteAddr().String())
	if payload, err := marshalEnvelope(game.EventConnect, snapshot); err == nil {
		client.send <- outMessage{websocket.TextMessage, payload}
	}

	h.mu.Lock()
	h.clients[connID] = client
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("📱 %s connected from %s (%d total)", connID, ip, count)
	UpdateWSConnections(count)

	go h.writePump(client)
	go h.readPump(client)
}

// readPump processes the connection's inbound messages in order until the
// transport fails, then tears the session down.
func (h *Hub) readPump(c *wsClient) {
	defer h.unregister(c, "read loop ended")

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error from %s: %v", c.id, err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			h.relay.OnFrame(c.id, data)
		case websocket.TextMessage:
			h.dispatch(c.id, data)
		}
	}
}

// dispatch routes one inbound JSON envelope. Malformed input is dropped
// silently with no state mutation.
func (h *Hub) dispatch(connID string, raw []byte) {
	var env game.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.Event {
	case game.EventPlayerMove:
		var m game.MovePayload
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return
		}
		h.engine.ApplyMove(connID, m.X, m.Y, m.Angle)

	case game.EventPlayerShoot:
		h.engine.ApplyShoot(connID)

	case game.EventAudioState:
		var s game.AudioStatePayload
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return
		}
		h.relay.OnStateChanged(connID, s.Enabled)
	}
}

// writePump drains the client's send queue and keeps the connection alive
// with pings.
func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msg.msgType, msg.data); err != nil {
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

// unregister releases everything a connection holds: the player entry
// (synchronously, before any subsequent tick can observe it), the registry
// slot, the per-IP slot, and the transport.
func (h *Hub) unregister(c *wsClient, reason string) {
	h.engine.Disconnect(c.id, reason)

	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		h.connLimiter.Release(c.ip)
		c.close()
	}
	count := len(h.clients)
	h.mu.Unlock()

	c.conn.Close()
	log.Printf("📱 %s disconnected (%d remaining)", c.id, count)
	UpdateWSConnections(count)
}

func marshalEnvelope(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(game.Envelope{Event: event, Data: raw})
}

func newConnID(counter *uint64) string {
	return fmt.Sprintf("player_%d", atomic.AddUint64(counter, 1))
}

// AllowedOrigins defines the origins accepted for WebSocket upgrades.
var AllowedOrigins = []string{
	"http://localhost",
	"http://127.0.0.1",
}

// IsAllowedOrigin checks an Origin header against the allowed list.
// Localhost is accepted on any port.
func IsAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range AllowedOrigins {
		if origin == allowed || hasPrefixWithPort(origin, allowed) {
			return true
		}
	}
	return false
}

func hasPrefixWithPort(origin, allowed string) bool {
	if len(origin) <= len(allowed) {
		return false
	}
	return origin[:len(allowed)] == allowed && origin[len(allowed)] == ':'
}
