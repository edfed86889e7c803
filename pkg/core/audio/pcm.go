// Package audio holds the PCM codec, the gapless chunk scheduler, and a
// software timeline that a playback device pulls samples from.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Format describes interleaved signed 16-bit PCM.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// Common formats for the live API: 16 kHz in, 24 kHz out.
var (
	CaptureFormat  = Format{SampleRate: 16000, Channels: 1}
	PlaybackFormat = Format{SampleRate: 24000, Channels: 1}
)

func (f Format) valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// Buffer is decoded PCM audio.
type Buffer struct {
	Format  Format
	Samples []int16
}

// Frames is the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Format.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Format.Channels
}

// Duration is the playback length of b.
func (b Buffer) Duration() time.Duration {
	if b.Format.SampleRate <= 0 {
		return 0
	}
	return FramesToDuration(b.Frames(), b.Format.SampleRate)
}

// Payload is encoded audio as it travels over the wire, before decoding.
type Payload struct {
	Format   Format
	MIMEType string
	Data     []byte
}

var ErrOddLength = errors.New("audio: pcm16 payload has odd length")

// EncodeFrame encodes samples as little-endian PCM16.
func EncodeFrame(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeChunk decodes little-endian PCM16 in format f.
func DecodeChunk(data []byte, f Format) (Buffer, error) {
	if !f.valid() {
		return Buffer{}, fmt.Errorf("audio: invalid format %s", f)
	}
	if len(data)%2 != 0 {
		return Buffer{}, ErrOddLength
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return Buffer{Format: f, Samples: samples}, nil
}

// Decode decodes p using its own format.
func Decode(p Payload) (Buffer, error) {
	return DecodeChunk(p.Data, p.Format)
}

// Resample converts b to rate with linear interpolation. Channel count is kept.
func Resample(b Buffer, rate int) Buffer {
	if rate <= 0 || b.Format.SampleRate == rate || b.Frames() == 0 {
		if rate > 0 {
			b.Format.SampleRate = rate
		}
		return b
	}
	ch := b.Format.Channels
	inFrames := b.Frames()
	outFrames := int(int64(inFrames) * int64(rate) / int64(b.Format.SampleRate))
	if outFrames == 0 {
		outFrames = 1
	}
	out := make([]int16, outFrames*ch)
	step := float64(b.Format.SampleRate) / float64(rate)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		for c := 0; c < ch; c++ {
			a := float64(b.Samples[j*ch+c])
			next := a
			if j+1 < inFrames {
				next = float64(b.Samples[(j+1)*ch+c])
			}
			out[i*ch+c] = int16(a + (next-a)*frac)
		}
	}
	return Buffer{Format: Format{SampleRate: rate, Channels: ch}, Samples: out}
}

// FramesToDuration converts a frame count at rate to a duration.
func FramesToDuration(frames, rate int) time.Duration {
	return time.Duration(int64(frames) * int64(time.Second) / int64(rate))
}

// DurationToFrames converts d to a frame count at rate, rounding down.
func DurationToFrames(d time.Duration, rate int) int64 {
	return int64(d) * int64(rate) / int64(time.Second)
}
