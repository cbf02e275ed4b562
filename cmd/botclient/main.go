// Command botclient is a headless arena client. It wanders the arena,
// takes occasional shots and streams a synthesized voice tone, which makes
// it useful for load-testing the relay and for populating a dev server.
package main

import (
	"flag"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tank-arena/internal/audio"
	"tank-arena/internal/client"
	"tank-arena/internal/config"
)

func main() {
	url := flag.String("url", "ws://localhost:3000/ws", "server WebSocket URL")
	talk := flag.Bool("talk", false, "stream a synthesized tone as voice")
	play := flag.Bool("play", false, "play received audio through the speaker")
	flag.Parse()

	audioCfg := config.DefaultAudio()

	var player client.FramePlayer
	if *play {
		playback, err := audio.NewPlayback(audioCfg.SampleRate)
		if err != nil {
			log.Fatalf("Playback init failed: %v", err)
		}
		defer playback.Close()
		player = playback
	}

	c := client.New(*url, audioCfg, player)
	if err := c.Connect(); err != nil {
		log.Fatalf("Connect failed: %v", err)
	}
	log.Printf("🤖 Bot connected to %s", *url)

	go drive(c, audioCfg, *talk)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("🛑 Bot stopping")
	case <-c.Done():
		log.Println("❌ Connection lost for good")
	}
	c.Close()
}

// drive wanders with a random-walk heading, fires sporadically, and ships a
// 440Hz tone block every frame interval when talking.
func drive(c *client.Client, audioCfg config.AudioConfig, talk bool) {
	for !c.Mirror().Ready() {
		time.Sleep(50 * time.Millisecond)
	}

	local, _ := c.Mirror().LocalPlayer()
	x, y, heading := local.X, local.Y, rand.Float64()*360

	if talk {
		c.SetAudioEnabled(true)
	}

	moveTicker := time.NewTicker(50 * time.Millisecond)
	defer moveTicker.Stop()

	frameInterval := time.Second * time.Duration(audioCfg.FrameSamples) / time.Duration(audioCfg.SampleRate)
	audioTicker := time.NewTicker(frameInterval)
	defer audioTicker.Stop()

	phase := 0.0
	for {
		select {
		case <-moveTicker.C:
			heading += (rand.Float64() - 0.5) * 30
			rad := heading * math.Pi / 180
			x += math.Cos(rad) * 8
			y += math.Sin(rad) * 8
			if err := c.Move(x, y, heading); err != nil {
				return
			}
			if p, ok := c.Mirror().LocalPlayer(); ok {
				x, y = p.X, p.Y // Pick up the clamp
			}
			if rand.Float64() < 0.05 {
				c.Shoot()
			}

		case <-audioTicker.C:
			if !talk {
				continue
			}
			block := make([]float32, audioCfg.FrameSamples)
			for i := range block {
				block[i] = float32(0.3 * math.Sin(phase))
				phase += 2 * math.Pi * 440 / float64(audioCfg.SampleRate)
			}
			if err := c.SendAudioBlock(block); err != nil {
				return
			}
		}
	}
}
