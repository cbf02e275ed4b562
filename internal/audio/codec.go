// Package audio implements the voice pipeline: the server-side relay that
// routes compressed frames between connections, and the capture/playback
// halves mirrored by each client.
//
// Compression is a naive linear quantization of float32 samples to int16,
// not a perceptual codec. Frames travel as msgpack-encoded binary WebSocket
// messages; everything else on the wire is JSON.
package audio

import (
	"math"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Frame is one short block of quantized mono samples with its capture time.
type Frame struct {
	Data       []int16 `msgpack:"d" json:"data"`
	Timestamp  int64   `msgpack:"t" json:"timestamp"` // Capture time, Unix milliseconds
	SampleRate int     `msgpack:"r" json:"sampleRate"`
}

// RelayedFrame is a Frame with the sender identity the relay stamps on it.
type RelayedFrame struct {
	Sender string `msgpack:"s" json:"sender"`
	Frame
}

// Compress quantizes float32 samples in [-1, 1] to int16 by linear scaling.
// Out-of-range input is clamped to [-32768, 32767].
func Compress(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Floor(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// Decompress is the exact inverse of Compress, scaled by 1/32767.
func Decompress(data []int16) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(float64(v) / 32767)
	}
	return out
}

// RMS returns the root-mean-square energy of a sample block.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// EncodeFrame serializes a frame for the wire.
func EncodeFrame(f *Frame) ([]byte, error) {
	b, err := msgpack.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, "encode audio frame")
	}
	return b, nil
}

// DecodeFrame parses a wire frame. A frame with no samples is malformed.
func DecodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "decode audio frame")
	}
	if len(f.Data) == 0 {
		return nil, errors.New("decode audio frame: empty sample block")
	}
	return &f, nil
}

// EncodeRelayedFrame serializes a relayed frame with its sender stamp.
func EncodeRelayedFrame(f *RelayedFrame) ([]byte, error) {
	b, err := msgpack.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, "encode relayed frame")
	}
	return b, nil
}

// DecodeRelayedFrame parses a frame forwarded by the relay.
func DecodeRelayedFrame(raw []byte) (*RelayedFrame, error) {
	var f RelayedFrame
	if err := msgpack.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "decode relayed frame")
	}
	return &f, nil
}
