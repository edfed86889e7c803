package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

// Timeline is a software mixer and Output. A device pulls PCM16 from it via
// Read; its clock is the number of frames pulled so far.
type Timeline struct {
	format Format

	mu     sync.Mutex
	pos    int64
	voices []*voice
	closed bool
}

type voice struct {
	tl      *Timeline
	start   int64
	samples []int16
	onEnded func()
}

// NewTimeline returns an empty timeline in format f.
func NewTimeline(f Format) *Timeline {
	if !f.valid() {
		f = PlaybackFormat
	}
	return &Timeline{format: f}
}

// Format is the format Read produces.
func (t *Timeline) Format() Format { return t.format }

// Now implements Output.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return FramesToDuration(int(t.pos), t.format.SampleRate)
}

// Start implements Output. buf is resampled and channel-mapped to the
// timeline's format.
func (t *Timeline) Start(buf Buffer, at time.Duration, onEnded func()) (Source, error) {
	samples, err := t.conform(buf)
	if err != nil {
		return nil, err
	}
	v := &voice{tl: t, samples: samples, onEnded: onEnded}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, io.ErrClosedPipe
	}
	v.start = DurationToFrames(at, t.format.SampleRate)
	if v.start < t.pos {
		v.start = t.pos
	}
	t.voices = append(t.voices, v)
	return v, nil
}

func (t *Timeline) conform(buf Buffer) ([]int16, error) {
	if !buf.Format.valid() {
		return nil, fmt.Errorf("audio: invalid buffer format %s", buf.Format)
	}
	buf = Resample(buf, t.format.SampleRate)
	switch {
	case buf.Format.Channels == t.format.Channels:
		return buf.Samples, nil
	case buf.Format.Channels == 1:
		out := make([]int16, len(buf.Samples)*t.format.Channels)
		for i, s := range buf.Samples {
			for c := 0; c < t.format.Channels; c++ {
				out[i*t.format.Channels+c] = s
			}
		}
		return out, nil
	case t.format.Channels == 1:
		ch := buf.Format.Channels
		out := make([]int16, buf.Frames())
		for i := range out {
			var sum int32
			for c := 0; c < ch; c++ {
				sum += int32(buf.Samples[i*ch+c])
			}
			out[i] = int16(sum / int32(ch))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("audio: cannot map %d channels to %d", buf.Format.Channels, t.format.Channels)
	}
}

// Stop implements Source.
func (v *voice) Stop() {
	t := v.tl
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(v)
}

func (t *Timeline) removeLocked(v *voice) {
	for i, candidate := range t.voices {
		if candidate == v {
			t.voices = append(t.voices[:i], t.voices[i+1:]...)
			return
		}
	}
}

// Read mixes every voice overlapping the next len(p) bytes, advances the
// clock, and fires completion callbacks for voices that finished. Silence is
// produced when nothing is playing, so the clock keeps pace with the device.
func (t *Timeline) Read(p []byte) (int, error) {
	ch := t.format.Channels
	frameBytes := 2 * ch
	frames := len(p) / frameBytes
	if frames == 0 {
		return 0, nil
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.EOF
	}
	from := t.pos
	to := from + int64(frames)
	mix := make([]int32, frames*ch)
	var ended []*voice
	kept := t.voices[:0]
	for _, v := range t.voices {
		vFrames := int64(len(v.samples) / ch)
		end := v.start + vFrames
		lo := max(v.start, from)
		hi := min(end, to)
		for f := lo; f < hi; f++ {
			src := (f - v.start) * int64(ch)
			dst := (f - from) * int64(ch)
			for c := int64(0); c < int64(ch); c++ {
				mix[dst+c] += int32(v.samples[src+c])
			}
		}
		if end <= to {
			ended = append(ended, v)
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(t.voices); i++ {
		t.voices[i] = nil
	}
	t.voices = kept
	t.pos = to
	t.mu.Unlock()

	for i, s := range mix {
		binary.LittleEndian.PutUint16(p[i*2:], uint16(clip(s)))
	}
	for _, v := range ended {
		if v.onEnded != nil {
			v.onEnded()
		}
	}
	return frames * frameBytes, nil
}

func clip(s int32) int16 {
	switch {
	case s > math.MaxInt16:
		return math.MaxInt16
	case s < math.MinInt16:
		return math.MinInt16
	default:
		return int16(s)
	}
}

// Advance pulls d worth of audio and discards it.
func (t *Timeline) Advance(d time.Duration) {
	t.pull(DurationToFrames(d, t.format.SampleRate))
}

func (t *Timeline) pull(frames int64) {
	const chunk = 1024
	buf := make([]byte, 2*t.format.Channels*chunk)
	for frames > 0 {
		n := min(frames, chunk)
		if _, err := t.Read(buf[:n*int64(2*t.format.Channels)]); err != nil {
			return
		}
		frames -= n
	}
}

// Active is the number of voices not yet finished.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// Close drops every voice without firing callbacks. Later reads return io.EOF.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.voices = nil
	return nil
}

// RunNullSink drives t in real time without a device, for headless
// processes. It returns when ctx is done.
func RunNullSink(ctx context.Context, t *Timeline, tick time.Duration) {
	if tick <= 0 {
		tick = 20 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	start := time.Now()
	var pulled int64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			target := DurationToFrames(now.Sub(start), t.format.SampleRate)
			t.pull(target - pulled)
			pulled = target
		}
	}
}
