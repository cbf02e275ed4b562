package game

import (
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"tank-arena/internal/config"
)

// Engine owns the authoritative entity store (players and bullets) and drives
// the three periodic tasks: combat simulation, liveness sweep and stats
// aggregation. All store mutations happen under a single mutex, so the
// observable ordering matches a single-writer model regardless of how many
// connection goroutines feed it.
type Engine struct {
	mu sync.Mutex

	arena  config.ArenaConfig
	combat config.CombatConfig
	audio  config.AudioConfig
	sched  config.SchedulerConfig

	players map[string]*Player
	bullets map[uint64]*Bullet
	expiry  map[uint64]*time.Timer // Cancelable auto-destroy timers keyed by bullet ID

	nextBulletID uint64

	sink Sink

	running   bool
	stopChan  chan struct{}
	startedAt time.Time

	// Derived counters recomputed by the stats tick
	peakPlayers int

	// Event callbacks
	OnEvict func(connID string)        // Called when the sweep removes an idle player
	OnTick  func(elapsed time.Duration) // Called after each combat tick
	OnStats func(snap StatsSnapshot)    // Called by the stats aggregation tick
}

// StatsSnapshot holds the derived counters published by the stats tick.
type StatsSnapshot struct {
	Players            int
	Bullets            int
	ActiveAudioStreams int
	PeakPlayers        int
	Uptime             time.Duration
}

// SessionInfo is the read-only per-player view served by the stats endpoint.
type SessionInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Addr         string    `json:"addr"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	AudioEnabled bool      `json:"audioEnabled"`
}

// NewEngine creates an engine over the given sink. The sink must not block.
func NewEngine(cfg config.AppConfig, sink Sink) *Engine {
	return &Engine{
		arena:     cfg.Arena,
		combat:    cfg.Combat,
		audio:     cfg.Audio,
		sched:     cfg.Scheduler,
		players:   make(map[string]*Player),
		bullets:   make(map[uint64]*Bullet),
		expiry:    make(map[uint64]*time.Timer),
		sink:      sink,
		stopChan:  make(chan struct{}),
		startedAt: time.Now(),
	}
}

// Start launches the tick scheduler: combat at TickRate Hz, liveness sweep and
// stats aggregation at their configured intervals. All three run on one
// goroutine, so a slow tick delays the others instead of overlapping them.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	combatTicker := time.NewTicker(time.Second / time.Duration(e.combat.TickRate))
	sweepTicker := time.NewTicker(e.sched.SweepInterval)
	statsTicker := time.NewTicker(e.sched.StatsInterval)

	go func() {
		defer combatTicker.Stop()
		defer sweepTicker.Stop()
		defer statsTicker.Stop()
		for {
			select {
			case <-combatTicker.C:
				start := time.Now()
				e.stepCombat()
				if e.OnTick != nil {
					e.OnTick(time.Since(start))
				}
			case <-sweepTicker.C:
				e.sweep(time.Now())
			case <-statsTicker.C:
				e.aggregateStats()
			case <-e.stopChan:
				return
			}
		}
	}()

	log.Printf("🎮 Engine started: %d TPS combat, sweep %v, stats %v",
		e.combat.TickRate, e.sched.SweepInterval, e.sched.StatsInterval)
}

// Stop stops the tick scheduler. Safe to call twice.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopChan)
	for id, t := range e.expiry {
		t.Stop()
		delete(e.expiry, id)
	}
	log.Println("🛑 Engine stopped")
}

// Connect creates the player for a new connection, notifies the other
// connections and returns the initial full-state snapshot for the new
// connection only. The snapshot includes the joining player itself.
func (e *Engine) Connect(connID, addr string) ConnectPayload {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	p := NewPlayer(connID, addr, e.arena, e.combat.MaxHealth, now)
	e.players[connID] = p
	if len(e.players) > e.peakPlayers {
		e.peakPlayers = len(e.players)
	}

	e.sink.BroadcastExcept(connID, EventPlayerJoined, p)
	log.Printf("👤 %s joined as %q at (%.0f, %.0f)", connID, p.Name, p.X, p.Y)

	players := make([]*Player, 0, len(e.players))
	for _, pl := range e.players {
		players = append(players, pl)
	}
	bullets := make([]*Bullet, 0, len(e.bullets))
	for _, b := range e.bullets {
		bullets = append(bullets, b)
	}

	return ConnectPayload{
		You:     connID,
		Players: players,
		Bullets: bullets,
		ArenaBounds: Bounds{
			Width:     e.arena.Width,
			Height:    e.arena.Height,
			Margin:    e.arena.Margin,
			Obstacles: []Obstacle{},
		},
		ServerInfo: ServerInfo{
			TickRate:    e.combat.TickRate,
			PlayerCount: len(e.players),
		},
	}
}

// Disconnect removes the player and emits exactly one playerLeft to the other
// connections. Idempotent: repeated calls for the same identity are no-ops.
func (e *Engine) Disconnect(connID, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnectLocked(connID, reason)
}

func (e *Engine) disconnectLocked(connID, reason string) {
	p, ok := e.players[connID]
	if !ok {
		return
	}
	delete(e.players, connID)
	e.sink.BroadcastExcept(connID, EventPlayerLeft, PlayerLeftPayload{ID: connID})
	log.Printf("👋 %s (%q) left: %s", connID, p.Name, reason)
}

// ApplyMove validates and applies a proposed position. Unknown connections and
// non-finite inputs are ignored silently. The position is clamped into the
// arena's inner bounds; the angle is trusted as sent. The authoritative result
// goes to every other connection — the sender already predicted it locally.
func (e *Engine) ApplyMove(connID string, x, y, angle float64) {
	if !finite(x) || !finite(y) || !finite(angle) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.players[connID]
	if !ok {
		return
	}

	p.X, p.Y = Clamp(x, y, e.arena)
	p.Angle = angle
	p.LastActivity = time.Now()

	e.sink.BroadcastExcept(connID, EventPlayerMoved, MovedPayload{
		ID:    connID,
		X:     p.X,
		Y:     p.Y,
		Angle: p.Angle,
	})
}

// ApplyShoot spawns a bullet at the shooter's current position and facing,
// subject to the server-side cooldown. Accepted shots broadcast bulletCreated
// to all connections, sender included, and arm a cancelable expiry timer.
func (e *Engine) ApplyShoot(connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.players[connID]
	if !ok {
		return
	}

	now := time.Now()
	if !p.LastShoot.IsZero() && now.Sub(p.LastShoot) < e.combat.ShootCooldown {
		return
	}
	p.LastShoot = now
	p.LastActivity = now

	e.nextBulletID++
	id := e.nextBulletID
	b := &Bullet{
		ID:        id,
		OwnerID:   connID,
		X:         p.X,
		Y:         p.Y,
		Angle:     p.Angle,
		Speed:     e.combat.BulletSpeed,
		CreatedAt: now,
	}
	e.bullets[id] = b
	e.expiry[id] = time.AfterFunc(e.combat.BulletLifetime, func() {
		e.DestroyBullet(id)
	})

	e.sink.Broadcast(EventBulletCreated, b)
}

// DestroyBullet removes a bullet and broadcasts its destruction exactly once.
// Safe to call for an already-destroyed identity; the expiry timer and the
// combat tick may race here, whichever arrives second is a no-op.
func (e *Engine) DestroyBullet(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyBulletLocked(id)
}

func (e *Engine) destroyBulletLocked(id uint64) {
	if _, ok := e.bullets[id]; !ok {
		return
	}
	delete(e.bullets, id)
	if t, ok := e.expiry[id]; ok {
		t.Stop()
		delete(e.expiry, id)
	}
	e.sink.Broadcast(EventBulletDestroyed, BulletDestroyedPayload{ID: id})
}

// stepCombat runs one fixed-timestep combat tick: integrate every live bullet,
// destroy out-of-bounds ones, then resolve at most one hit per bullet.
// The timestep is 1/TickRate regardless of wall-clock drift between ticks.
func (e *Engine) stepCombat() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.bullets) == 0 {
		return
	}

	dt := 1.0 / float64(e.combat.TickRate)

	// Sorted IDs so destruction broadcasts come out in a stable order.
	ids := make([]uint64, 0, len(e.bullets))
	for id := range e.bullets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		b, ok := e.bullets[id]
		if !ok {
			continue
		}

		b.Advance(dt)

		if b.OutOfBounds(e.arena) {
			e.destroyBulletLocked(id)
			continue
		}

		if victim := e.findVictimLocked(b); victim != nil {
			victim.Health -= e.combat.Damage
			if victim.Health < 0 {
				victim.Health = 0
			}
			e.sink.Broadcast(EventPlayerDamaged, DamagedPayload{
				ID:     victim.ID,
				Damage: e.combat.Damage,
			})
			e.destroyBulletLocked(id)
		}
	}
}

// findVictimLocked picks the hit target for a bullet: the nearest player
// within the hit radius, excluding the owner and players already at zero
// health. Ties on distance break toward the lowest player ID so the outcome
// does not depend on map iteration order.
func (e *Engine) findVictimLocked(b *Bullet) *Player {
	var victim *Player
	best := e.combat.HitRadius
	for _, p := range e.players {
		if p.ID == b.OwnerID || p.Health <= 0 {
			continue
		}
		d := b.DistanceTo(p)
		if d < best || (victim != nil && d == best && p.ID < victim.ID) {
			victim = p
			best = d
		}
	}
	return victim
}

// sweep applies the two independent timeout policies: audio staleness flips
// audioEnabled off after 5 s without a frame, and inactivity evicts a player
// after 600 s without any message. The two run on independent clocks.
func (e *Engine) sweep(now time.Time) {
	e.mu.Lock()

	var evicted []string
	for id, p := range e.players {
		if p.AudioEnabled && now.Sub(p.LastAudioPacket) > e.audio.StaleAfter {
			p.AudioEnabled = false
			e.sink.BroadcastExcept(id, EventPlayerAudioState, PlayerAudioStatePayload{
				PlayerID:     id,
				AudioEnabled: false,
			})
		}
		if now.Sub(p.LastActivity) > e.audio.InactivityTimeout {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		e.disconnectLocked(id, "inactivity timeout")
	}
	e.mu.Unlock()

	// Transport teardown happens outside the lock; the resulting unregister
	// path calls Disconnect again, which is a no-op by then.
	if e.OnEvict != nil {
		for _, id := range evicted {
			e.OnEvict(id)
		}
	}
}

// aggregateStats recomputes the derived counters and hands them to OnStats.
func (e *Engine) aggregateStats() {
	e.mu.Lock()
	active := 0
	for _, p := range e.players {
		if p.AudioEnabled {
			active++
		}
	}
	snap := StatsSnapshot{
		Players:            len(e.players),
		Bullets:            len(e.bullets),
		ActiveAudioStreams: active,
		PeakPlayers:        e.peakPlayers,
		Uptime:             time.Since(e.startedAt),
	}
	e.mu.Unlock()

	if e.OnStats != nil {
		e.OnStats(snap)
	}
}

// TouchAudio marks the sender as actively streaming. Reports whether the
// connection has a live player.
func (e *Engine) TouchAudio(connID string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.players[connID]
	if !ok {
		return false
	}
	p.AudioEnabled = true
	p.LastAudioPacket = now
	p.LastActivity = now
	return true
}

// SetAudioEnabled records the user-intent audio flag, independent of frame
// flow. Reports whether the connection has a live player.
func (e *Engine) SetAudioEnabled(connID string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.players[connID]
	if !ok {
		return false
	}
	p.AudioEnabled = enabled
	p.LastActivity = time.Now()
	return true
}

// NeighborsWithin returns the IDs of other live players within radius of the
// given player.
func (e *Engine) NeighborsWithin(connID string, radius float64) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, ok := e.players[connID]
	if !ok {
		return nil
	}
	var out []string
	for id, p := range e.players {
		if id == connID {
			continue
		}
		dx := p.X - src.X
		dy := p.Y - src.Y
		if math.Sqrt(dx*dx+dy*dy) <= radius {
			out = append(out, id)
		}
	}
	return out
}

// OtherIDs returns every live player ID except the given one.
func (e *Engine) OtherIDs(connID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []string
	for id := range e.players {
		if id != connID {
			out = append(out, id)
		}
	}
	return out
}

// Counts returns the current player and bullet counts.
func (e *Engine) Counts() (players, bullets int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.players), len(e.bullets)
}

// Uptime returns the time since the engine was constructed.
func (e *Engine) Uptime() time.Duration {
	return time.Since(e.startedAt)
}

// Sessions returns read-only per-player session info for the stats endpoint,
// sorted by connection time.
func (e *Engine) Sessions() []SessionInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]SessionInfo, 0, len(e.players))
	for _, p := range e.players {
		out = append(out, SessionInfo{
			ID:           p.ID,
			Name:         p.Name,
			Addr:         p.Addr,
			ConnectedAt:  p.ConnectedAt,
			LastActivity: p.LastActivity,
			AudioEnabled: p.AudioEnabled,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
