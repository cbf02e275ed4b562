// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for all arena, combat and audio tunables.
//
// IMPORTANT: When changing values, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"
	"time"
)

// =============================================================================
// ARENA CONFIGURATION
// =============================================================================

// ArenaConfig holds the playfield geometry shared by the server and clients.
type ArenaConfig struct {
	Width  float64 // Arena width in world units
	Height float64 // Arena height in world units
	Margin float64 // Inner margin players are clamped to from each edge
}

// DefaultArena returns the standard 800x600 arena.
func DefaultArena() ArenaConfig {
	return ArenaConfig{
		Width:  800,
		Height: 600,
		Margin: 20,
	}
}

// LargeArena returns the alternate 1200x800 arena.
func LargeArena() ArenaConfig {
	return ArenaConfig{
		Width:  1200,
		Height: 800,
		Margin: 20,
	}
}

// ArenaFromEnv returns arena configuration with environment variable overrides.
// ARENA_SIZE=large selects the 1200x800 variant.
func ArenaFromEnv() ArenaConfig {
	cfg := DefaultArena()
	if os.Getenv("ARENA_SIZE") == "large" {
		cfg = LargeArena()
	}
	if w := getEnvFloat("ARENA_WIDTH", 0); w > 0 {
		cfg.Width = w
	}
	if h := getEnvFloat("ARENA_HEIGHT", 0); h > 0 {
		cfg.Height = h
	}
	return cfg
}

// =============================================================================
// COMBAT CONFIGURATION
// =============================================================================

// CombatConfig holds simulation and weapon tunables.
type CombatConfig struct {
	TickRate       int           // Combat ticks per second
	ShootCooldown  time.Duration // Server-side minimum gap between accepted shots
	BulletSpeed    float64       // Units per second
	BulletLifetime time.Duration // Unconditional bullet expiry
	HitRadius      float64       // Bullet-to-player collision distance
	Damage         int           // Health delta per hit
	MaxHealth      int           // Spawn health
}

// DefaultCombat returns the combat defaults.
func DefaultCombat() CombatConfig {
	return CombatConfig{
		TickRate:       60,
		ShootCooldown:  200 * time.Millisecond,
		BulletSpeed:    500,
		BulletLifetime: 3 * time.Second,
		HitRadius:      20,
		Damage:         10,
		MaxHealth:      100,
	}
}

// =============================================================================
// AUDIO CONFIGURATION
// =============================================================================

// AudioConfig holds relay routing and capture pipeline settings.
type AudioConfig struct {
	SpatialRadius     float64       // Deliver frames only to players within this distance
	StaleAfter        time.Duration // Flip audioEnabled off after this silence on the wire
	InactivityTimeout time.Duration // Evict players idle for this long
	SampleRate        int           // Capture/playback sample rate in Hz
	FrameSamples      int           // Samples per capture block (20ms at 48kHz)
	SilenceThreshold  float64       // RMS below which capture blocks are suppressed
}

// DefaultAudio returns the audio defaults.
func DefaultAudio() AudioConfig {
	return AudioConfig{
		SpatialRadius:     300,
		StaleAfter:        5 * time.Second,
		InactivityTimeout: 600 * time.Second,
		SampleRate:        48000,
		FrameSamples:      960,
		SilenceThreshold:  0.01,
	}
}

// AudioFromEnv returns audio configuration with environment variable overrides.
func AudioFromEnv() AudioConfig {
	cfg := DefaultAudio()
	if r := getEnvFloat("AUDIO_SPATIAL_RADIUS", 0); r > 0 {
		cfg.SpatialRadius = r
	}
	if sr := getEnvInt("AUDIO_SAMPLE_RATE", 0); sr > 0 {
		cfg.SampleRate = sr
	}
	return cfg
}

// =============================================================================
// SCHEDULER CONFIGURATION
// =============================================================================

// SchedulerConfig holds the periodic task intervals.
type SchedulerConfig struct {
	SweepInterval time.Duration // Liveness sweep (audio staleness + inactivity eviction)
	StatsInterval time.Duration // Derived counter aggregation
}

// DefaultScheduler returns the scheduler defaults: sweep at 0.5 Hz, stats at 0.2 Hz.
func DefaultScheduler() SchedulerConfig {
	return SchedulerConfig{
		SweepInterval: 2 * time.Second,
		StatsInterval: 5 * time.Second,
	}
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP/WebSocket server settings.
type ServerConfig struct {
	Port            int
	MaxClients      int // Hard cap on concurrent WebSocket connections
	MaxClientsPerIP int
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:            3000,
		MaxClients:      500,
		MaxClientsPerIP: 10,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()
	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if mc := getEnvInt("MAX_CLIENTS", 0); mc > 0 {
		cfg.MaxClients = mc
	}
	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Arena     ArenaConfig
	Combat    CombatConfig
	Audio     AudioConfig
	Scheduler SchedulerConfig
	Server    ServerConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Arena:     ArenaFromEnv(),
		Combat:    DefaultCombat(),
		Audio:     AudioFromEnv(),
		Scheduler: DefaultScheduler(),
		Server:    ServerFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
