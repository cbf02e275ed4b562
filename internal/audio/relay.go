package audio

import (
	"log"
	"sync"
	"time"

	"tank-arena/internal/config"
	"tank-arena/internal/game"
)

// World is the slice of the entity store the relay needs: sender liveness
// and recipient queries. The game engine implements it.
type World interface {
	TouchAudio(connID string, now time.Time) bool
	SetAudioEnabled(connID string, enabled bool) bool
	NeighborsWithin(connID string, radius float64) []string
	OtherIDs(connID string) []string
}

// FrameSink delivers encoded audio frames to a single connection.
// The WebSocket hub implements it; implementations must not block.
type FrameSink interface {
	SendFrame(connID string, payload []byte)
}

// RelayStats are the relay's running counters for the stats endpoint.
type RelayStats struct {
	FramesRelayed   uint64  `json:"framesRelayed"`
	FramesDropped   uint64  `json:"framesDropped"`
	SpatialDelivers uint64  `json:"spatialDelivers"`
	BroadcastFalls  uint64  `json:"broadcastFallbacks"`
	AvgLatencyMs    float64 `json:"avgLatencyMs"`
}

// Relay forwards compressed audio frames between connections with minimal
// added latency. Delivery is spatial (within SpatialRadius of the sender)
// with a deliberate fallback to broadcast when no neighbor is in range:
// sparse arenas trade spatial realism for guaranteed audibility.
type Relay struct {
	cfg    config.AudioConfig
	world  World
	sink   FrameSink
	events game.Sink

	mu    sync.Mutex
	stats RelayStats
}

// NewRelay wires the relay to the entity store and the two delivery sinks.
func NewRelay(cfg config.AudioConfig, world World, sink FrameSink, events game.Sink) *Relay {
	return &Relay{
		cfg:    cfg,
		world:  world,
		sink:   sink,
		events: events,
	}
}

// OnFrame handles one inbound audio frame from a connection. Malformed frames
// are logged and dropped; a bad frame never interrupts the stream.
func (r *Relay) OnFrame(senderID string, raw []byte) {
	f, err := DecodeFrame(raw)
	if err != nil {
		log.Printf("🔇 Dropping audio frame from %s: %v", senderID, err)
		r.mu.Lock()
		r.stats.FramesDropped++
		r.mu.Unlock()
		return
	}

	now := time.Now()
	if !r.world.TouchAudio(senderID, now) {
		return
	}

	if f.Timestamp > 0 {
		r.observeLatency(float64(now.UnixMilli() - f.Timestamp))
	}

	recipients := r.world.NeighborsWithin(senderID, r.cfg.SpatialRadius)
	spatial := len(recipients) > 0
	if !spatial {
		recipients = r.world.OtherIDs(senderID)
	}
	if len(recipients) == 0 {
		return
	}

	out, err := EncodeRelayedFrame(&RelayedFrame{Sender: senderID, Frame: *f})
	if err != nil {
		log.Printf("🔇 Re-encode failed for %s: %v", senderID, err)
		return
	}
	for _, id := range recipients {
		r.sink.SendFrame(id, out)
	}

	r.mu.Lock()
	r.stats.FramesRelayed++
	if spatial {
		r.stats.SpatialDelivers++
	} else {
		r.stats.BroadcastFalls++
	}
	r.mu.Unlock()
}

// OnStateChanged records the sender's user-intent audio toggle and relays it
// to the other connections.
func (r *Relay) OnStateChanged(senderID string, enabled bool) {
	if !r.world.SetAudioEnabled(senderID, enabled) {
		return
	}
	r.events.BroadcastExcept(senderID, game.EventPlayerAudioState, game.PlayerAudioStatePayload{
		PlayerID:     senderID,
		AudioEnabled: enabled,
	})
}

// observeLatency folds one sample into the running estimate using the same
// exponential smoothing the stats endpoint reports: avg = (avg + sample) / 2.
func (r *Relay) observeLatency(ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.AvgLatencyMs = (r.stats.AvgLatencyMs + ms) / 2
}

// Stats returns a copy of the relay counters.
func (r *Relay) Stats() RelayStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
