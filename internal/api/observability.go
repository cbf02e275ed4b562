package api

import (
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics with bounded cardinality (no per-player labels).
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_tick_duration_seconds",
		Help:    "Time spent in one combat tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	playerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_player_count",
		Help: "Current number of connected players",
	})

	bulletCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_bullet_count",
		Help: "Current number of in-flight bullets",
	})

	peakPlayers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_peak_player_count",
		Help: "Peak concurrent players since process start",
	})

	activeAudioStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audio_active_streams",
		Help: "Players currently flagged as streaming audio",
	})

	audioRelayLatency = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audio_relay_latency_ms",
		Help: "Smoothed capture-to-relay latency estimate",
	})

	audioFramesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_frames_relayed_total",
		Help: "Audio frames forwarded by the relay",
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

// ObservabilityConfig configures the debug server.
type ObservabilityConfig struct {
	Enabled    bool
	ListenAddr string // MUST stay on localhost in production
}

// DefaultObservabilityConfig returns safe defaults.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060", // Localhost only - NEVER expose externally
	}
}

// StartDebugServer starts the internal observability server with pprof and
// the Prometheus scrape endpoint. Binds to localhost unless explicitly
// overridden via ALLOW_DEBUG_EXTERNAL.
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	if cfg.ListenAddr != "127.0.0.1:6060" && cfg.ListenAddr != "localhost:6060" {
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Println("⚠️ Debug server forced to localhost for security")
			cfg.ListenAddr = "127.0.0.1:6060"
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
		if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return nil
}

// RecordTick records combat tick timing.
func RecordTick(duration time.Duration) {
	tickDuration.Observe(duration.Seconds())
}

// UpdateEntityCounts updates the player/bullet gauges.
func UpdateEntityCounts(players, bullets, peak int) {
	playerCount.Set(float64(players))
	bulletCount.Set(float64(bullets))
	peakPlayers.Set(float64(peak))
}

// UpdateAudioStats updates the audio relay gauges and counters.
func UpdateAudioStats(activeStreams int, avgLatencyMs float64, framesRelayed uint64) {
	activeAudioStreams.Set(float64(activeStreams))
	audioRelayLatency.Set(avgLatencyMs)
	// Counter catch-up: promote the relay's absolute count into the metric.
	// Called from a single goroutine (the stats tick), so the delta is safe.
	delta := float64(framesRelayed) - lastFramesRelayed
	if delta > 0 {
		audioFramesRelayed.Add(delta)
		lastFramesRelayed = float64(framesRelayed)
	}
}

var lastFramesRelayed float64

// RecordConnectionRejected increments the rejection counter.
// reason must be one of: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit".
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// UpdateWSConnections updates the WebSocket connection gauge.
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments the WebSocket message counter.
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
