package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tank-arena/internal/audio"
	"tank-arena/internal/config"
	"tank-arena/internal/game"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.AppConfig{
		Arena:     config.DefaultArena(),
		Combat:    config.DefaultCombat(),
		Audio:     config.DefaultAudio(),
		Scheduler: config.DefaultScheduler(),
		Server:    config.DefaultServer(),
	}

	hub := NewHub(cfg.Server.MaxClients, cfg.Server.MaxClientsPerIP)
	engine := game.NewEngine(cfg, hub)
	relay := audio.NewRelay(cfg.Audio, engine, hub, hub)
	hub.Attach(engine, relay)

	router := NewRouter(RouterConfig{
		Engine: engine,
		Relay:  relay,
		Hub:    hub,
		RateLimitConfig: &RateLimitConfig{
			RequestsPerSecond: 1000,
			Burst:             1000,
			CleanupInterval:   time.Minute,
		},
		DisableLogging: true,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// dialWS connects a test client and consumes its connect snapshot, returning
// the connection and the server-assigned player ID.
func dialWS(t *testing.T, srv *httptest.Server) (*websocket.Conn, game.ConnectPayload) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })

	env := readEnvelope(t, conn, time.Second)
	if env.Event != game.EventConnect {
		t.Fatalf("first message = %q, want %q", env.Event, game.EventConnect)
	}
	var snap game.ConnectPayload
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	return conn, snap
}

func readEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) game.Envelope {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var env game.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		return env
	}
}

// waitForEvent reads and discards messages until one with the given event
// name arrives.
func waitForEvent(t *testing.T, conn *websocket.Conn, event string) game.Envelope {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, conn, time.Until(deadline))
		if env.Event == event {
			return env
		}
	}
	t.Fatalf("no %q event within deadline", event)
	return game.Envelope{}
}

// countEvents drains the connection for the given window and counts
// occurrences of one event.
func countEvents(t *testing.T, conn *websocket.Conn, event string, window time.Duration) int {
	t.Helper()

	count := 0
	deadline := time.Now().Add(window)
	for {
		conn.SetReadDeadline(deadline)
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return count // deadline reached
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var env game.Envelope
		if json.Unmarshal(data, &env) == nil && env.Event == event {
			count++
		}
	}
}

// waitForBinary reads until a binary message arrives, or reports false at
// the deadline.
func waitForBinary(conn *websocket.Conn, timeout time.Duration) ([]byte, bool) {
	deadline := time.Now().Add(timeout)
	for {
		conn.SetReadDeadline(deadline)
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return nil, false
		}
		if msgType == websocket.BinaryMessage {
			return data, true
		}
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	env, err := json.Marshal(game.Envelope{Event: event, Data: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, env); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// moveTo repositions a client and waits for the authoritative echo on an
// observer connection, so the server state is settled before the test
// proceeds.
func moveTo(t *testing.T, conn, observer *websocket.Conn, id string, x, y float64) {
	t.Helper()

	sendEvent(t, conn, game.EventPlayerMove, game.MovePayload{X: x, Y: y})
	for {
		env := waitForEvent(t, observer, game.EventPlayerMoved)
		var mv game.MovedPayload
		if json.Unmarshal(env.Data, &mv) == nil && mv.ID == id {
			return
		}
	}
}

func testFrame(t *testing.T) []byte {
	t.Helper()

	raw, err := audio.EncodeFrame(&audio.Frame{
		Data:       []int16{1000, -1000, 2000, -2000},
		Timestamp:  time.Now().UnixMilli(),
		SampleRate: 48000,
	})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return raw
}

func TestWebSocketConnectSnapshot(t *testing.T) {
	srv := newTestServer(t)

	_, snap := dialWS(t, srv)

	if snap.You == "" {
		t.Fatal("snapshot missing player ID")
	}
	found := false
	for _, p := range snap.Players {
		if p.ID == snap.You {
			found = true
		}
	}
	if !found {
		t.Error("snapshot players do not include the joining player")
	}
	if snap.ArenaBounds.Width != 800 || snap.ArenaBounds.Height != 600 {
		t.Errorf("arena bounds = %+v", snap.ArenaBounds)
	}
}

func TestWebSocketSecondClientSeesJoin(t *testing.T) {
	srv := newTestServer(t)

	connA, _ := dialWS(t, srv)
	_, snapB := dialWS(t, srv)

	env := waitForEvent(t, connA, game.EventPlayerJoined)
	var joined game.Player
	if err := json.Unmarshal(env.Data, &joined); err != nil {
		t.Fatalf("unmarshal playerJoined: %v", err)
	}
	if joined.ID != snapB.You {
		t.Errorf("playerJoined ID = %q, want %q", joined.ID, snapB.You)
	}
	if len(snapB.Players) != 2 {
		t.Errorf("second snapshot has %d players, want 2", len(snapB.Players))
	}
}

func TestWebSocketMoveClampedAndBroadcast(t *testing.T) {
	srv := newTestServer(t)

	connA, _ := dialWS(t, srv)
	connB, snapB := dialWS(t, srv)
	waitForEvent(t, connA, game.EventPlayerJoined)

	sendEvent(t, connB, game.EventPlayerMove, game.MovePayload{X: -100, Y: 50, Angle: 30})

	env := waitForEvent(t, connA, game.EventPlayerMoved)
	var mv game.MovedPayload
	if err := json.Unmarshal(env.Data, &mv); err != nil {
		t.Fatalf("unmarshal playerMoved: %v", err)
	}
	if mv.ID != snapB.You {
		t.Errorf("playerMoved ID = %q, want %q", mv.ID, snapB.You)
	}
	if mv.X != 20 || mv.Y != 50 {
		t.Errorf("broadcast position (%.0f, %.0f), want clamped (20, 50)", mv.X, mv.Y)
	}
	if mv.Angle != 30 {
		t.Errorf("angle = %.0f, want 30", mv.Angle)
	}
}

func TestWebSocketShootCooldown(t *testing.T) {
	srv := newTestServer(t)

	conn, _ := dialWS(t, srv)

	sendEvent(t, conn, game.EventPlayerShoot, struct{}{})
	sendEvent(t, conn, game.EventPlayerShoot, struct{}{})

	if got := countEvents(t, conn, game.EventBulletCreated, 300*time.Millisecond); got != 1 {
		t.Errorf("two rapid shots produced %d bullets, want 1", got)
	}
}

func TestWebSocketPlayerLeftOnClose(t *testing.T) {
	srv := newTestServer(t)

	connA, _ := dialWS(t, srv)
	connB, snapB := dialWS(t, srv)
	waitForEvent(t, connA, game.EventPlayerJoined)

	connB.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	connB.Close()

	env := waitForEvent(t, connA, game.EventPlayerLeft)
	var left game.PlayerLeftPayload
	if err := json.Unmarshal(env.Data, &left); err != nil {
		t.Fatalf("unmarshal playerLeft: %v", err)
	}
	if left.ID != snapB.You {
		t.Errorf("playerLeft ID = %q, want %q", left.ID, snapB.You)
	}
	if got := countEvents(t, connA, game.EventPlayerLeft, 200*time.Millisecond); got != 0 {
		t.Errorf("playerLeft emitted %d extra times", got)
	}
}

func TestWebSocketAudioSpatialRouting(t *testing.T) {
	srv := newTestServer(t)

	connA, snapA := dialWS(t, srv)
	connB, snapB := dialWS(t, srv)
	connC, snapC := dialWS(t, srv)

	// A and B within the 300-unit spatial radius, C far outside it. Each
	// move is confirmed on B before the frame goes out, so relay routing
	// sees the settled positions.
	moveTo(t, connA, connB, snapA.You, 100, 100)
	moveTo(t, connC, connB, snapC.You, 700, 500)
	sendEvent(t, connB, game.EventPlayerMove, game.MovePayload{X: 150, Y: 100})
	waitForEvent(t, connA, game.EventPlayerMoved)

	if err := connB.WriteMessage(websocket.BinaryMessage, testFrame(t)); err != nil {
		t.Fatalf("send frame: %v", err)
	}

	raw, ok := waitForBinary(connA, time.Second)
	if !ok {
		t.Fatal("in-range player received no audio")
	}
	frame, err := audio.DecodeRelayedFrame(raw)
	if err != nil {
		t.Fatalf("decode relayed frame: %v", err)
	}
	if frame.Sender != snapB.You {
		t.Errorf("relayed sender = %q, want %q", frame.Sender, snapB.You)
	}

	if _, ok := waitForBinary(connC, 200*time.Millisecond); ok {
		t.Error("out-of-range player received a spatial frame")
	}
}

func TestWebSocketAudioBroadcastFallback(t *testing.T) {
	srv := newTestServer(t)

	connA, snapA := dialWS(t, srv)
	connB, _ := dialWS(t, srv)

	// Opposite corners, far beyond the spatial radius. With nobody in
	// range the relay falls back to broadcast.
	moveTo(t, connA, connB, snapA.You, 20, 20)
	sendEvent(t, connB, game.EventPlayerMove, game.MovePayload{X: 780, Y: 580})
	waitForEvent(t, connA, game.EventPlayerMoved)

	if err := connB.WriteMessage(websocket.BinaryMessage, testFrame(t)); err != nil {
		t.Fatalf("send frame: %v", err)
	}

	if _, ok := waitForBinary(connA, time.Second); !ok {
		t.Error("broadcast fallback delivered nothing")
	}
}

func TestWebSocketAudioStateBroadcast(t *testing.T) {
	srv := newTestServer(t)

	connA, _ := dialWS(t, srv)
	connB, snapB := dialWS(t, srv)
	waitForEvent(t, connA, game.EventPlayerJoined)

	sendEvent(t, connB, game.EventAudioState, game.AudioStatePayload{Enabled: true})

	env := waitForEvent(t, connA, game.EventPlayerAudioState)
	var state game.PlayerAudioStatePayload
	if err := json.Unmarshal(env.Data, &state); err != nil {
		t.Fatalf("unmarshal playerAudioState: %v", err)
	}
	if state.PlayerID != snapB.You || !state.AudioEnabled {
		t.Errorf("state = %+v, want %s/true", state, snapB.You)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"http://evil.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatal("foreign origin was accepted")
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	dialWS(t, srv)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["players"].(float64) != 1 {
		t.Errorf("players = %v, want 1", body["players"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	dialWS(t, srv)

	resp, err := http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET /api/stats: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Sessions []game.SessionInfo `json:"sessions"`
		Audio    audio.RelayStats   `json:"audio"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(body.Sessions))
	}
}
