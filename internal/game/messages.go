package game

import "encoding/json"

// Event names for the JSON envelope protocol. Audio frames travel separately
// as msgpack-encoded binary WebSocket messages (see internal/audio).
const (
	EventConnect          = "connect"           // server -> new client, once
	EventPlayerJoined     = "playerJoined"      // server -> others
	EventPlayerMove       = "playerMove"        // client -> server
	EventPlayerMoved      = "playerMoved"       // server -> others
	EventPlayerShoot      = "playerShoot"       // client -> server
	EventBulletCreated    = "bulletCreated"     // server -> all
	EventBulletDestroyed  = "bulletDestroyed"   // server -> all
	EventPlayerDamaged    = "playerDamaged"     // server -> all
	EventPlayerLeft       = "playerLeft"        // server -> others
	EventAudioState       = "audioStateChanged" // client -> server
	EventPlayerAudioState = "playerAudioState"  // server -> others
)

// Envelope wraps every JSON text message on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Bounds describes the arena rectangle sent in the initial snapshot.
type Bounds struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Margin float64 `json:"margin"`

	// Obstacles is always empty today; clients must tolerate entries
	// appearing in future snapshots.
	Obstacles []Obstacle `json:"obstacles"`
}

// Obstacle is a static axis-aligned rectangle inside the arena.
type Obstacle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ServerInfo is advisory metadata in the initial snapshot.
type ServerInfo struct {
	TickRate    int `json:"tickRate"`
	PlayerCount int `json:"playerCount"`
}

// ConnectPayload is the full-state snapshot sent to a new connection only.
// The joining player's own record is included in Players.
type ConnectPayload struct {
	You         string     `json:"you"` // The receiver's own player ID
	Players     []*Player  `json:"players"`
	Bullets     []*Bullet  `json:"bullets"`
	ArenaBounds Bounds     `json:"arenaBounds"`
	ServerInfo  ServerInfo `json:"serverInfo"`
}

// MovePayload is the client's proposed position and facing.
type MovePayload struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
}

// MovedPayload is the authoritative position broadcast to other connections.
type MovedPayload struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
}

// BulletDestroyedPayload carries the destroyed bullet identity.
type BulletDestroyedPayload struct {
	ID uint64 `json:"id"`
}

// DamagedPayload is a health delta, not an absolute value.
type DamagedPayload struct {
	ID     string `json:"id"`
	Damage int    `json:"damage"`
}

// PlayerLeftPayload carries the departed player identity.
type PlayerLeftPayload struct {
	ID string `json:"id"`
}

// AudioStatePayload is the client's user-intent audio toggle.
type AudioStatePayload struct {
	Enabled bool `json:"enabled"`
}

// PlayerAudioStatePayload is the relayed audio-enabled flag.
type PlayerAudioStatePayload struct {
	PlayerID     string `json:"playerId"`
	AudioEnabled bool   `json:"audioEnabled"`
}

// Sink delivers envelopes to connections. The WebSocket hub implements it;
// tests substitute a recorder. Implementations must not block: the engine
// calls these while holding its store lock.
type Sink interface {
	SendTo(connID, event string, data interface{})
	Broadcast(event string, data interface{})
	BroadcastExcept(connID, event string, data interface{})
}
