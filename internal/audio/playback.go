package audio

import (
	"log"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
	"github.com/pkg/errors"
)

// maxQueuedSamples caps the playback queue. Frames arriving faster than the
// speaker drains them displace the oldest audio instead of growing latency.
const maxQueuedSamples = 48000 // 1 second at the default rate

// Playback plays decoded frames immediately with zero intentional buffering.
// Jitter comes through as-is; that is the accepted trade for minimum latency.
// It implements beep.Streamer: the speaker pulls queued samples and gets
// silence whenever the queue is empty.
type Playback struct {
	mu     sync.Mutex
	queue  []float32
	closed bool
}

// NewPlayback initializes the speaker at the given sample rate and starts
// streaming. A small speaker buffer keeps added latency in the tens of
// milliseconds.
func NewPlayback(sampleRate int) (*Playback, error) {
	p := &Playback{}
	sr := beep.SampleRate(sampleRate)
	if err := speaker.Init(sr, sr.N(20*time.Millisecond)); err != nil {
		return nil, errors.Wrap(err, "init speaker")
	}
	speaker.Play(p)
	return p, nil
}

// Enqueue decodes a relayed frame and queues it for immediate playback.
// Decode failures are logged and dropped; one bad frame never interrupts
// the stream.
func (p *Playback) Enqueue(raw []byte) {
	f, err := DecodeRelayedFrame(raw)
	if err != nil {
		log.Printf("🔇 Dropping playback frame: %v", err)
		return
	}
	p.enqueueSamples(Decompress(f.Data))
}

func (p *Playback) enqueueSamples(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue = append(p.queue, samples...)
	if over := len(p.queue) - maxQueuedSamples; over > 0 {
		p.queue = p.queue[over:]
	}
}

// Stream feeds the speaker: queued mono samples duplicated to both channels,
// silence when the queue is empty. Always reports ok so the speaker keeps
// pulling for the life of the playback graph.
func (p *Playback) Stream(samples [][2]float64) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, false
	}
	n := len(p.queue)
	if n > len(samples) {
		n = len(samples)
	}
	for i := 0; i < n; i++ {
		v := float64(p.queue[i])
		samples[i][0] = v
		samples[i][1] = v
	}
	for i := n; i < len(samples); i++ {
		samples[i][0] = 0
		samples[i][1] = 0
	}
	p.queue = p.queue[n:]
	return len(samples), true
}

// Err implements beep.Streamer.
func (p *Playback) Err() error { return nil }

// QueuedSamples returns the current queue depth.
func (p *Playback) QueuedSamples() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close tears down the playback graph synchronously. The streamer stops on
// the next speaker pull and the hardware handle is released before return.
func (p *Playback) Close() {
	p.mu.Lock()
	p.closed = true
	p.queue = nil
	p.mu.Unlock()
	speaker.Close()
}
