package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/agrivoice/pkg/core/advice"
	"github.com/vango-go/agrivoice/pkg/core/audio"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
)

type stubNarrator struct {
	fn func(ctx context.Context, text string) (audio.Payload, error)
}

func (n stubNarrator) SynthesizeSpeech(ctx context.Context, text string, _ i18n.Language) (audio.Payload, error) {
	return n.fn(ctx, text)
}

func speech(context.Context, string) (audio.Payload, error) {
	return audio.Payload{Format: audio.PlaybackFormat, Data: make([]byte, 480)}, nil
}

type stubSource struct {
	onEnded func()
	stopped atomic.Bool
}

func (s *stubSource) Stop() { s.stopped.Store(true) }

type stubOutput struct {
	mu      sync.Mutex
	sources []*stubSource
	err     error
}

func (o *stubOutput) Now() time.Duration { return 0 }

func (o *stubOutput) Start(_ audio.Buffer, _ time.Duration, onEnded func()) (audio.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	s := &stubSource{onEnded: onEnded}
	o.sources = append(o.sources, s)
	return s, nil
}

func (o *stubOutput) source(i int) *stubSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sources[i]
}

func newController(t *testing.T, n Narrator, out audio.Output) (*Controller, *atomic.Int32) {
	t.Helper()
	var changes atomic.Int32
	c, err := New(Dependencies{
		Narrator: n,
		Output:   out,
		OnChange: func() { changes.Add(1) },
	})
	require.NoError(t, err)
	return c, &changes
}

func playing(c *Controller) []advice.Target {
	var out []advice.Target
	for _, s := range c.Snapshot() {
		if s.Status == Playing {
			out = append(out, s.Target)
		}
	}
	return out
}

func TestPlayReplacesCurrentTarget(t *testing.T) {
	out := &stubOutput{}
	c, _ := newController(t, stubNarrator{fn: speech}, out)
	ctx := context.Background()

	require.NoError(t, c.Play(ctx, advice.TargetWeather, "sunny all week", i18n.English))
	assert.Equal(t, []advice.Target{advice.TargetWeather}, playing(c))

	require.NoError(t, c.Play(ctx, advice.TargetMarket, "wheat is rising", i18n.English))
	assert.Equal(t, []advice.Target{advice.TargetMarket}, playing(c))
	assert.Equal(t, Idle, c.Status(advice.TargetWeather))
	assert.True(t, out.source(0).stopped.Load(), "weather source stopped")
	assert.False(t, out.source(1).stopped.Load())
}

func TestStopClearsEverySlot(t *testing.T) {
	out := &stubOutput{}
	c, changes := newController(t, stubNarrator{fn: speech}, out)

	require.NoError(t, c.Play(context.Background(), advice.TargetSoil, "loamy soil", i18n.English))
	c.Stop()
	for _, s := range c.Snapshot() {
		assert.Equal(t, Idle, s.Status, "target %s", s.Target)
	}
	assert.True(t, out.source(0).stopped.Load())

	before := changes.Load()
	c.Stop()
	c.StopTarget(advice.TargetMarket)
	assert.Equal(t, before, changes.Load(), "stop on an idle player is a no-op")
}

func TestStaleCompletionIgnored(t *testing.T) {
	out := &stubOutput{}
	c, _ := newController(t, stubNarrator{fn: speech}, out)
	ctx := context.Background()

	require.NoError(t, c.Play(ctx, advice.TargetWeather, "rain tomorrow", i18n.English))
	require.NoError(t, c.Play(ctx, advice.TargetMarket, "prices stable", i18n.English))

	out.source(0).onEnded()
	assert.Equal(t, Playing, c.Status(advice.TargetMarket))

	out.source(1).onEnded()
	assert.Equal(t, Idle, c.Status(advice.TargetMarket))
	assert.Empty(t, playing(c))
}

func TestSynthesisFailureMarksError(t *testing.T) {
	boom := errors.New("tts unavailable")
	c, _ := newController(t, stubNarrator{fn: func(context.Context, string) (audio.Payload, error) {
		return audio.Payload{}, boom
	}}, &stubOutput{})

	err := c.Play(context.Background(), advice.TargetPlanner, "plant sorghum", i18n.English)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Failed, c.Status(advice.TargetPlanner))

	c.Stop()
	assert.Equal(t, Idle, c.Status(advice.TargetPlanner))
}

func TestStartFailureMarksError(t *testing.T) {
	out := &stubOutput{err: errors.New("device closed")}
	c, _ := newController(t, stubNarrator{fn: speech}, out)

	require.Error(t, c.Play(context.Background(), advice.TargetWeather, "windy", i18n.English))
	assert.Equal(t, Failed, c.Status(advice.TargetWeather))
}

func TestStopWhileBufferingSupersedesPlay(t *testing.T) {
	entered := make(chan struct{})
	n := stubNarrator{fn: func(ctx context.Context, _ string) (audio.Payload, error) {
		close(entered)
		<-ctx.Done()
		return audio.Payload{}, ctx.Err()
	}}
	out := &stubOutput{}
	c, _ := newController(t, n, out)

	done := make(chan error, 1)
	go func() { done <- c.Play(context.Background(), advice.TargetSoil, "clay soil", i18n.English) }()

	<-entered
	assert.Equal(t, Buffering, c.Status(advice.TargetSoil))
	c.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err, "superseded play returns nil")
	case <-time.After(2 * time.Second):
		t.Fatal("play did not return after stop")
	}
	assert.Equal(t, Idle, c.Status(advice.TargetSoil))
	assert.Empty(t, out.sources)
}

func TestPlayRejectsBadInput(t *testing.T) {
	c, _ := newController(t, stubNarrator{fn: speech}, &stubOutput{})
	assert.ErrorIs(t, c.Play(context.Background(), advice.Target("moon"), "x", i18n.English), ErrUnknownTarget)
	assert.ErrorIs(t, c.Play(context.Background(), advice.TargetSoil, "  ", i18n.English), ErrNothingToPlay)

	_, err := New(Dependencies{Output: &stubOutput{}})
	assert.Error(t, err)
}
