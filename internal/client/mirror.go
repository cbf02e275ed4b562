// Package client implements the browser-equivalent side of the protocol:
// a replicated copy of the entity store driven by server events, a locally
// predicted player, and the reconnecting transport those sit on.
package client

import (
	"encoding/json"
	"sync"

	"tank-arena/internal/config"
	"tank-arena/internal/game"
)

// Mirror is the client's replicated entity store. Remote players and bullets
// are read-mostly replicas updated from server events; the local player is
// locally authoritative and predicts movement before server confirmation.
type Mirror struct {
	mu sync.RWMutex

	localID string
	players map[string]*game.Player
	bullets map[uint64]*game.Bullet
	arena   config.ArenaConfig
	ready   bool
}

// NewMirror creates an empty mirror. It becomes usable after the connect
// snapshot arrives.
func NewMirror() *Mirror {
	return &Mirror{
		players: make(map[string]*game.Player),
		bullets: make(map[uint64]*game.Bullet),
	}
}

// Apply folds one server envelope into the mirror. Unknown events and
// references to unknown entities are ignored: the mirror may observe
// broadcasts for players that joined after its snapshot was taken but
// before their playerJoined arrived.
func (m *Mirror) Apply(env game.Envelope) {
	switch env.Event {
	case game.EventConnect:
		var snap game.ConnectPayload
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return
		}
		m.applySnapshot(snap)

	case game.EventPlayerJoined:
		var p game.Player
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		m.mu.Lock()
		m.players[p.ID] = &p
		m.mu.Unlock()

	case game.EventPlayerMoved:
		var mv game.MovedPayload
		if err := json.Unmarshal(env.Data, &mv); err != nil {
			return
		}
		m.mu.Lock()
		if p, ok := m.players[mv.ID]; ok && mv.ID != m.localID {
			p.X, p.Y, p.Angle = mv.X, mv.Y, mv.Angle
		}
		m.mu.Unlock()

	case game.EventBulletCreated:
		var b game.Bullet
		if err := json.Unmarshal(env.Data, &b); err != nil {
			return
		}
		m.mu.Lock()
		m.bullets[b.ID] = &b
		m.mu.Unlock()

	case game.EventBulletDestroyed:
		var d game.BulletDestroyedPayload
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return
		}
		m.mu.Lock()
		delete(m.bullets, d.ID)
		m.mu.Unlock()

	case game.EventPlayerDamaged:
		var d game.DamagedPayload
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return
		}
		m.mu.Lock()
		if p, ok := m.players[d.ID]; ok {
			p.Health -= d.Damage
			if p.Health < 0 {
				p.Health = 0
			}
		}
		m.mu.Unlock()

	case game.EventPlayerLeft:
		var l game.PlayerLeftPayload
		if err := json.Unmarshal(env.Data, &l); err != nil {
			return
		}
		m.mu.Lock()
		delete(m.players, l.ID)
		m.mu.Unlock()

	case game.EventPlayerAudioState:
		var s game.PlayerAudioStatePayload
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return
		}
		m.mu.Lock()
		if p, ok := m.players[s.PlayerID]; ok {
			p.AudioEnabled = s.AudioEnabled
		}
		m.mu.Unlock()
	}
}

func (m *Mirror) applySnapshot(snap game.ConnectPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.localID = snap.You
	m.arena = config.ArenaConfig{
		Width:  snap.ArenaBounds.Width,
		Height: snap.ArenaBounds.Height,
		Margin: snap.ArenaBounds.Margin,
	}
	m.players = make(map[string]*game.Player, len(snap.Players))
	for _, p := range snap.Players {
		m.players[p.ID] = p
	}
	m.bullets = make(map[uint64]*game.Bullet, len(snap.Bullets))
	for _, b := range snap.Bullets {
		m.bullets[b.ID] = b
	}
	m.ready = true
}

// Ready reports whether the connect snapshot has been applied.
func (m *Mirror) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// LocalID returns this client's player ID, empty before the snapshot.
func (m *Mirror) LocalID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.localID
}

// PredictMove applies a proposed position to the local player with the same
// clamping the server performs, and returns the predicted coordinates to
// send. The server echo goes to other clients only, so this prediction is
// the local player's authoritative view.
func (m *Mirror) PredictMove(x, y, angle float64) (game.MovePayload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[m.localID]
	if !ok {
		return game.MovePayload{}, false
	}
	p.X, p.Y = game.Clamp(x, y, m.arena)
	p.Angle = angle
	return game.MovePayload{X: p.X, Y: p.Y, Angle: p.Angle}, true
}

// LocalPlayer returns a copy of the local player record.
func (m *Mirror) LocalPlayer() (game.Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[m.localID]
	if !ok {
		return game.Player{}, false
	}
	return *p, true
}

// PlayerCount returns the number of replicated players, the local one included.
func (m *Mirror) PlayerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

// BulletCount returns the number of replicated bullets.
func (m *Mirror) BulletCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bullets)
}
