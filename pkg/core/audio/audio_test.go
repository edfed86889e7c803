package audio

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	out     *fakeOutput
	at      time.Duration
	dur     time.Duration
	onEnded func()
	stopped bool
}

func (s *fakeSource) Stop() {
	s.out.mu.Lock()
	defer s.out.mu.Unlock()
	s.stopped = true
}

// fakeOutput is an Output with a hand-driven clock.
type fakeOutput struct {
	mu      sync.Mutex
	now     time.Duration
	started []*fakeSource
	err     error
}

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) Start(buf Buffer, at time.Duration, onEnded func()) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	s := &fakeSource{out: o, at: at, dur: buf.Duration(), onEnded: onEnded}
	o.started = append(o.started, s)
	return s, nil
}

// advance moves the clock and fires completions for sources that ended.
func (o *fakeOutput) advance(to time.Duration) {
	o.mu.Lock()
	o.now = to
	var fire []func()
	for _, s := range o.started {
		if !s.stopped && s.onEnded != nil && s.at+s.dur <= to {
			fire = append(fire, s.onEnded)
			s.onEnded = nil
		}
	}
	o.mu.Unlock()
	for _, f := range fire {
		f()
	}
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

// tone returns a mono buffer of d at 1 kHz sample rate.
func tone(d time.Duration, v int16) Buffer {
	n := int(d / time.Millisecond)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = v
	}
	return Buffer{Format: Format{SampleRate: 1000, Channels: 1}, Samples: samples}
}

func TestSchedulerStartTimes(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out, nil)

	durations := []float64{1.0, 0.5, 2.0}
	arrivals := []float64{0, 0.1, 3.0}
	want := []float64{0, 1.0, 3.0}

	for i := range durations {
		out.advance(seconds(arrivals[i]))
		got, err := s.Schedule(tone(seconds(durations[i]), 1))
		require.NoError(t, err)
		if got != seconds(want[i]) {
			t.Fatalf("chunk %d startAt=%v, want %v", i, got, seconds(want[i]))
		}
	}
	assert.Equal(t, seconds(5.0), s.NextStart())
}

func TestSchedulerNextStartNeverDecreases(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out, nil)
	prev := s.NextStart()
	clock := time.Duration(0)
	for i := 0; i < 50; i++ {
		clock += time.Duration(i%7) * 90 * time.Millisecond
		out.advance(clock)
		_, err := s.Schedule(tone(time.Duration(50+i*10)*time.Millisecond, 1))
		require.NoError(t, err)
		next := s.NextStart()
		require.GreaterOrEqual(t, next, prev)
		prev = next
	}
}

func TestSchedulerSpeakingTracksActiveSources(t *testing.T) {
	out := &fakeOutput{}
	var mu sync.Mutex
	var edges []bool
	s := NewScheduler(out, func(v bool) {
		mu.Lock()
		edges = append(edges, v)
		mu.Unlock()
	})
	assert.False(t, s.Speaking())

	_, err := s.Schedule(tone(time.Second, 1))
	require.NoError(t, err)
	assert.True(t, s.Speaking(), "speaking as soon as a chunk is scheduled")
	_, err = s.Schedule(tone(time.Second, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Active())

	out.advance(seconds(1.0))
	assert.True(t, s.Speaking())
	assert.Equal(t, 1, s.Active())

	out.advance(seconds(2.0))
	assert.False(t, s.Speaking())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, edges)
}

func TestSchedulerResetStopsSourcesAndReanchors(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out, nil)
	for i := 0; i < 3; i++ {
		_, err := s.Schedule(tone(time.Second, 1))
		require.NoError(t, err)
	}
	out.advance(seconds(0.5))
	s.Reset()

	assert.False(t, s.Speaking())
	assert.Zero(t, s.Active())
	assert.Equal(t, seconds(0.5), s.NextStart())
	for i, src := range out.started {
		assert.True(t, src.stopped, "source %d not stopped", i)
	}

	got, err := s.Schedule(tone(time.Second, 1))
	require.NoError(t, err)
	assert.Equal(t, seconds(0.5), got)
}

func TestSchedulerIgnoresCompletionsFromBeforeReset(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out, nil)
	_, err := s.Schedule(tone(time.Second, 1))
	require.NoError(t, err)
	stale := out.started[0].onEnded

	s.Reset()
	_, err = s.Schedule(tone(time.Second, 1))
	require.NoError(t, err)

	stale()
	assert.True(t, s.Speaking())
	assert.Equal(t, 1, s.Active())
}

func TestSchedulerStartFailureRollsBack(t *testing.T) {
	out := &fakeOutput{err: errors.New("device gone")}
	s := NewScheduler(out, nil)
	_, err := s.Schedule(tone(time.Second, 1))
	require.Error(t, err)
	assert.False(t, s.Speaking())
	assert.Zero(t, s.NextStart())
}

func TestSchedulerSkipsEmptyBuffers(t *testing.T) {
	out := &fakeOutput{now: seconds(0.5)}
	edges := 0
	s := NewScheduler(out, func(bool) { edges++ })
	at, err := s.Schedule(Buffer{Format: CaptureFormat})
	require.NoError(t, err)
	assert.Equal(t, seconds(0.5), at)
	assert.False(t, s.Speaking())
	assert.Zero(t, edges, "no speaking edge for an empty chunk")
	assert.Empty(t, out.started)
	assert.Equal(t, seconds(0.5), s.NextStart(), "empty chunk does not advance the schedule")
}

func TestCodecRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	wire := EncodeFrame(in)
	require.Len(t, wire, 12)
	assert.Equal(t, uint16(0xFFFF), binary.LittleEndian.Uint16(wire[4:]))

	buf, err := DecodeChunk(wire, CaptureFormat)
	require.NoError(t, err)
	assert.Equal(t, in, buf.Samples)
	assert.Equal(t, 375*time.Microsecond, buf.Duration())

	_, err = DecodeChunk([]byte{1, 2, 3}, CaptureFormat)
	assert.ErrorIs(t, err, ErrOddLength)
	_, err = DecodeChunk([]byte{1, 2}, Format{})
	assert.Error(t, err)
}

func TestResample(t *testing.T) {
	in := Buffer{Format: Format{SampleRate: 16000, Channels: 1}, Samples: make([]int16, 1600)}
	out := Resample(in, 24000)
	assert.Equal(t, 2400, len(out.Samples))
	assert.Equal(t, in.Duration(), out.Duration())

	ramp := Buffer{Format: Format{SampleRate: 2, Channels: 1}, Samples: []int16{0, 100}}
	up := Resample(ramp, 4)
	assert.Equal(t, []int16{0, 50, 100, 100}, up.Samples)
}

func readFrames(t *testing.T, tl *Timeline, frames int) []int16 {
	t.Helper()
	ch := tl.Format().Channels
	p := make([]byte, frames*2*ch)
	n, err := tl.Read(p)
	require.NoError(t, err)
	require.Equal(t, len(p), n)
	out := make([]int16, frames*ch)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(p[i*2:]))
	}
	return out
}

func TestTimelineMixesAndClocks(t *testing.T) {
	tl := NewTimeline(Format{SampleRate: 1000, Channels: 1})
	var ended []string
	_, err := tl.Start(tone(4*time.Millisecond, 100), 0, func() { ended = append(ended, "a") })
	require.NoError(t, err)
	_, err = tl.Start(tone(4*time.Millisecond, 10), 2*time.Millisecond, func() { ended = append(ended, "b") })
	require.NoError(t, err)

	got := readFrames(t, tl, 4)
	assert.Equal(t, []int16{100, 100, 110, 110}, got)
	assert.Equal(t, []string{"a"}, ended)
	assert.Equal(t, 4*time.Millisecond, tl.Now())

	got = readFrames(t, tl, 4)
	assert.Equal(t, []int16{10, 10, 0, 0}, got)
	assert.Equal(t, []string{"a", "b"}, ended)
	assert.Zero(t, tl.Active())
}

func TestTimelineClipsAndStops(t *testing.T) {
	tl := NewTimeline(Format{SampleRate: 1000, Channels: 1})
	_, err := tl.Start(tone(2*time.Millisecond, 30000), 0, nil)
	require.NoError(t, err)
	src, err := tl.Start(tone(2*time.Millisecond, 30000), 0, func() { t.Fatal("stopped source must not complete") })
	require.NoError(t, err)

	assert.Equal(t, []int16{32767}, readFrames(t, tl, 1))
	src.Stop()
	assert.Equal(t, []int16{30000}, readFrames(t, tl, 1))
}

func TestTimelineLateStartBeginsNow(t *testing.T) {
	tl := NewTimeline(Format{SampleRate: 1000, Channels: 1})
	tl.Advance(10 * time.Millisecond)
	_, err := tl.Start(tone(2*time.Millisecond, 7), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []int16{7, 7, 0}, readFrames(t, tl, 3))
}

func TestTimelineUpmixesMono(t *testing.T) {
	tl := NewTimeline(Format{SampleRate: 1000, Channels: 2})
	_, err := tl.Start(tone(time.Millisecond, 5), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []int16{5, 5}, readFrames(t, tl, 1))
}

func TestTimelineClose(t *testing.T) {
	tl := NewTimeline(PlaybackFormat)
	require.NoError(t, tl.Close())
	_, err := tl.Read(make([]byte, 4))
	assert.Error(t, err)
	_, err = tl.Start(tone(time.Millisecond, 1), 0, nil)
	assert.Error(t, err)
}

func TestSchedulerOnTimelineGoesQuiet(t *testing.T) {
	tl := NewTimeline(Format{SampleRate: 1000, Channels: 1})
	s := NewScheduler(tl, nil)
	for i := 0; i < 3; i++ {
		_, err := s.Schedule(tone(100*time.Millisecond, 1))
		require.NoError(t, err)
	}
	assert.True(t, s.Speaking())
	tl.Advance(250 * time.Millisecond)
	assert.True(t, s.Speaking())
	tl.Advance(50 * time.Millisecond)
	assert.False(t, s.Speaking())
}

func TestLevelAndPeak(t *testing.T) {
	assert.Zero(t, Level(nil))
	assert.Zero(t, Peak(nil))
	assert.InDelta(t, 0.5, Level([]int16{16384, -16384}), 1e-9)
	assert.InDelta(t, 1.0, Peak([]int16{3, -32768, 10}), 1e-9)
}
