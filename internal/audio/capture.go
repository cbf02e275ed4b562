package audio

import (
	"time"

	"tank-arena/internal/config"
)

// Capture turns raw float32 microphone blocks into wire frames. Blocks whose
// RMS energy falls below the silence threshold are suppressed rather than
// sent, saving bandwidth while nobody is talking. Setting the threshold to
// zero transmits everything.
type Capture struct {
	sampleRate int
	threshold  float64

	blocksIn   uint64
	suppressed uint64
}

// NewCapture creates a capture pipeline with the configured silence gate.
func NewCapture(cfg config.AudioConfig) *Capture {
	return &Capture{
		sampleRate: cfg.SampleRate,
		threshold:  cfg.SilenceThreshold,
	}
}

// Process compresses one capture block into a frame stamped with now.
// Returns (nil, false) when the block is silence and was suppressed.
func (c *Capture) Process(block []float32, now time.Time) (*Frame, bool) {
	c.blocksIn++
	if len(block) == 0 {
		c.suppressed++
		return nil, false
	}
	if c.threshold > 0 && RMS(block) < c.threshold {
		c.suppressed++
		return nil, false
	}
	return &Frame{
		Data:       Compress(block),
		Timestamp:  now.UnixMilli(),
		SampleRate: c.sampleRate,
	}, true
}

// Suppressed returns how many blocks the silence gate has dropped.
func (c *Capture) Suppressed() uint64 {
	return c.suppressed
}
