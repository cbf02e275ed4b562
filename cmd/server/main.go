package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tank-arena/internal/api"
	"tank-arena/internal/audio"
	"tank-arena/internal/config"
	"tank-arena/internal/game"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("💡 No .env file found, using environment variables only")
	}

	log.Println("🎮 ================================")
	log.Println("🎮  TANK ARENA - RELAY SERVER")
	log.Println("🎮 ================================")

	cfg := config.Load()
	log.Printf("🗺️ Arena: %.0fx%.0f (margin %.0f)", cfg.Arena.Width, cfg.Arena.Height, cfg.Arena.Margin)
	log.Printf("⚙️ Combat: %d TPS, cooldown %v, bullet %v lifetime",
		cfg.Combat.TickRate, cfg.Combat.ShootCooldown, cfg.Combat.BulletLifetime)
	log.Printf("🎙️ Audio: spatial radius %.0f, stale after %v", cfg.Audio.SpatialRadius, cfg.Audio.StaleAfter)

	// Two-step wiring: the hub is the engine's sink and the relay's frame
	// sink, while the engine backs both of them.
	hub := api.NewHub(cfg.Server.MaxClients, cfg.Server.MaxClientsPerIP)
	engine := game.NewEngine(cfg, hub)
	relay := audio.NewRelay(cfg.Audio, engine, hub, hub)
	hub.Attach(engine, relay)

	engine.OnEvict = hub.Kick
	engine.OnTick = api.RecordTick
	engine.OnStats = func(snap game.StatsSnapshot) {
		stats := relay.Stats()
		api.UpdateEntityCounts(snap.Players, snap.Bullets, snap.PeakPlayers)
		api.UpdateAudioStats(snap.ActiveAudioStreams, stats.AvgLatencyMs, stats.FramesRelayed)
	}

	if os.Getenv("DISABLE_DEBUG_SERVER") != "true" {
		if err := api.StartDebugServer(api.DefaultObservabilityConfig()); err != nil {
			log.Printf("⚠️ Debug server disabled: %v", err)
		}
	}

	router := api.NewRouter(api.RouterConfig{
		Engine: engine,
		Relay:  relay,
		Hub:    hub,
	})

	engine.Start()
	log.Println("✅ Engine started")

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Printf("🌐 Listening on http://localhost%s (ws: /ws)", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	engine.Stop()
	log.Println("👋 Goodbye!")
}
