package game

import (
	"fmt"
	"math/rand"
	"time"

	"tank-arena/internal/config"
)

// Player is the authoritative record for one connected tank.
// The ID is connection-scoped and stable for the connection lifetime.
type Player struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Angle        float64 `json:"angle"` // Facing angle in degrees
	Color        string  `json:"color"`
	Health       int     `json:"health"`
	AudioEnabled bool    `json:"audioEnabled"`

	// Transport metadata, never sent on the wire
	Addr            string    `json:"-"`
	ConnectedAt     time.Time `json:"-"`
	LastActivity    time.Time `json:"-"`
	LastAudioPacket time.Time `json:"-"`
	LastShoot       time.Time `json:"-"`
}

var tankColors = []string{
	"#ff6b6b", "#4ecdc4", "#45b7d1", "#96ceb4",
	"#ffeaa7", "#dfe6e9", "#fd79a8", "#00b894",
	"#6c5ce7", "#fdcb6e", "#e17055", "#00cec9",
}

var tankCallsigns = []string{
	"Viper", "Rhino", "Badger", "Falcon", "Mantis",
	"Kodiak", "Jackal", "Bison", "Cobra", "Wolf",
}

// NewPlayer creates a player with a randomized spawn inside the arena margins,
// a random color and a generated callsign.
func NewPlayer(id, addr string, arena config.ArenaConfig, maxHealth int, now time.Time) *Player {
	spawnW := arena.Width - 2*arena.Margin
	spawnH := arena.Height - 2*arena.Margin

	return &Player{
		ID:           id,
		Name:         fmt.Sprintf("%s-%d", tankCallsigns[rand.Intn(len(tankCallsigns))], rand.Intn(1000)),
		X:            arena.Margin + rand.Float64()*spawnW,
		Y:            arena.Margin + rand.Float64()*spawnH,
		Angle:        rand.Float64() * 360,
		Color:        tankColors[rand.Intn(len(tankColors))],
		Health:       maxHealth,
		Addr:         addr,
		ConnectedAt:  now,
		LastActivity: now,
	}
}

// Clamp pulls a coordinate pair into the arena's inner bounds.
func Clamp(x, y float64, arena config.ArenaConfig) (float64, float64) {
	if x < arena.Margin {
		x = arena.Margin
	} else if x > arena.Width-arena.Margin {
		x = arena.Width - arena.Margin
	}
	if y < arena.Margin {
		y = arena.Margin
	} else if y > arena.Height-arena.Margin {
		y = arena.Height - arena.Margin
	}
	return x, y
}
