package game

import (
	"math"
	"time"

	"tank-arena/internal/config"
)

// Bullet is an in-flight shell. IDs come from a process-lifetime monotonic
// counter and are never reused.
type Bullet struct {
	ID      uint64  `json:"id"`
	OwnerID string  `json:"ownerId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Angle   float64 `json:"angle"` // Heading in degrees
	Speed   float64 `json:"speed"` // Units per second

	CreatedAt time.Time `json:"-"`
}

// Advance integrates the bullet position over a fixed timestep.
func (b *Bullet) Advance(dt float64) {
	rad := b.Angle * math.Pi / 180
	b.X += math.Cos(rad) * b.Speed * dt
	b.Y += math.Sin(rad) * b.Speed * dt
}

// OutOfBounds reports whether the bullet has left the arena entirely.
// Bullets use the full bounds, not the player margin.
func (b *Bullet) OutOfBounds(arena config.ArenaConfig) bool {
	return b.X < 0 || b.X > arena.Width || b.Y < 0 || b.Y > arena.Height
}

// DistanceTo returns the Euclidean distance from the bullet to a player.
func (b *Bullet) DistanceTo(p *Player) float64 {
	dx := p.X - b.X
	dy := p.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
