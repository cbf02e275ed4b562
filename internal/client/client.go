package client

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"tank-arena/internal/audio"
	"tank-arena/internal/config"
	"tank-arena/internal/game"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	// Reconnect backoff: base*2^n per attempt, capped, bounded attempt count.
	reconnectBase     = 500 * time.Millisecond
	reconnectCap      = 8 * time.Second
	maxReconnectTries = 10

	// Client-side shoot cooldown. Longer than the server's 200ms on
	// purpose: the server stays the authority, this is UX smoothing.
	clientShootCooldown = 500 * time.Millisecond
)

// FramePlayer consumes relayed audio frames, typically *audio.Playback.
type FramePlayer interface {
	Enqueue(raw []byte)
}

// Client is one connection to the arena: the transport, the replicated
// mirror, and the audio capture/playback halves.
type Client struct {
	url     string
	mirror  *Mirror
	capture *audio.Capture
	player  FramePlayer // may be nil (headless client)

	mu        sync.Mutex
	conn      *websocket.Conn
	lastShoot time.Time
	closed    bool
	done      chan struct{}
}

// New creates a client for the given WebSocket URL.
func New(url string, audioCfg config.AudioConfig, player FramePlayer) *Client {
	return &Client{
		url:     url,
		mirror:  NewMirror(),
		capture: audio.NewCapture(audioCfg),
		player:  player,
		done:    make(chan struct{}),
	}
}

// Mirror exposes the replicated store for rendering and input handlers.
func (c *Client) Mirror() *Mirror {
	return c.mirror
}

// Connect dials the server and starts the read loop. On transport failure
// the client reconnects automatically: a server-initiated close retries
// immediately, a network failure walks the capped backoff schedule. When
// the bounded attempt count is exhausted, the client enters a terminal
// failure state and Done is closed.
func (c *Client) Connect() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	c.setConn(conn)
	go c.readLoop(conn)
	return nil
}

func (c *Client) dial() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", c.url)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Done is closed when the client will not reconnect again: either Close was
// called or the reconnect budget ran out.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}

		switch msgType {
		case websocket.TextMessage:
			var env game.Envelope
			if jsonErr := json.Unmarshal(data, &env); jsonErr != nil {
				continue
			}
			c.mirror.Apply(env)
		case websocket.BinaryMessage:
			if c.player != nil {
				c.player.Enqueue(data)
			}
		}
	}
}

func (c *Client) handleDisconnect(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// A server-initiated close is a deliberate signal: retry immediately.
	// Everything else walks the backoff schedule.
	immediate := websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	log.Printf("🔌 Disconnected: %v (immediate retry: %v)", cause, immediate)

	for attempt := 0; attempt < maxReconnectTries; attempt++ {
		if !immediate || attempt > 0 {
			time.Sleep(ReconnectDelay(attempt))
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, err := c.dial()
		if err != nil {
			log.Printf("🔌 Reconnect attempt %d/%d failed: %v", attempt+1, maxReconnectTries, err)
			continue
		}
		log.Printf("🔌 Reconnected after %d attempt(s)", attempt+1)
		c.setConn(conn)
		go c.readLoop(conn)
		return
	}

	log.Printf("❌ Reconnect attempts exhausted, giving up")
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.mu.Unlock()
}

// ReconnectDelay returns the backoff delay for the given attempt number:
// 500ms doubling per attempt, capped at 8s.
func ReconnectDelay(attempt int) time.Duration {
	d := reconnectBase << uint(attempt)
	if d > reconnectCap || d <= 0 {
		d = reconnectCap
	}
	return d
}

// Move predicts the proposed position locally, then reports it to the server.
func (c *Client) Move(x, y, angle float64) error {
	predicted, ok := c.mirror.PredictMove(x, y, angle)
	if !ok {
		return errors.New("local player not ready")
	}
	return c.sendEvent(game.EventPlayerMove, predicted)
}

// Shoot requests a shot, subject to the client-side cooldown.
func (c *Client) Shoot() error {
	c.mu.Lock()
	now := time.Now()
	if !c.lastShoot.IsZero() && now.Sub(c.lastShoot) < clientShootCooldown {
		c.mu.Unlock()
		return nil
	}
	c.lastShoot = now
	c.mu.Unlock()

	return c.sendEvent(game.EventPlayerShoot, struct{}{})
}

// SetAudioEnabled reports the user's audio toggle to the server.
func (c *Client) SetAudioEnabled(enabled bool) error {
	return c.sendEvent(game.EventAudioState, game.AudioStatePayload{Enabled: enabled})
}

// SendAudioBlock runs one capture block through the silence gate and, when it
// passes, ships the compressed frame as a binary message.
func (c *Client) SendAudioBlock(block []float32) error {
	frame, ok := c.capture.Process(block, time.Now())
	if !ok {
		return nil
	}
	raw, err := audio.EncodeFrame(frame)
	if err != nil {
		return err
	}
	return c.sendRaw(websocket.BinaryMessage, raw)
}

func (c *Client) sendEvent(event string, data interface{}) error {
	rawData, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}
	env, err := json.Marshal(game.Envelope{Event: event, Data: rawData})
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	return c.sendRaw(websocket.TextMessage, env)
}

func (c *Client) sendRaw(msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return errors.New("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(msgType, data)
}

// Close tears the client down synchronously: no further reconnects, the
// transport is closed, and the playback graph (when owned by the caller)
// should be closed right after. Capture sources must be stopped by the
// caller before navigation-equivalent teardown completes.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}
