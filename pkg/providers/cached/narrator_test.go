package cached

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/agrivoice/pkg/core/audio"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
)

type countingNarrator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingNarrator) SynthesizeSpeech(_ context.Context, text string, _ i18n.Language) (audio.Payload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return audio.Payload{}, c.err
	}
	return audio.Payload{Format: audio.PlaybackFormat, Data: []byte(text)}, nil
}

func TestCachesByTextAndLanguage(t *testing.T) {
	inner := &countingNarrator{}
	n := New(inner, Config{Size: 4}, nil)
	ctx := context.Background()

	p1, err := n.SynthesizeSpeech(ctx, "Sow wheat.", i18n.English)
	require.NoError(t, err)
	p2, err := n.SynthesizeSpeech(ctx, "Sow wheat.", i18n.English)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, inner.calls)

	_, err = n.SynthesizeSpeech(ctx, "Sow wheat.", i18n.Hindi)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	assert.Equal(t, Stats{Items: 2, Hits: 1, Misses: 2}, n.Stats())

	n.Purge()
	assert.Equal(t, 0, n.Stats().Items)
}

func TestErrorsAreNotCached(t *testing.T) {
	inner := &countingNarrator{err: errors.New("quota")}
	n := New(inner, Config{}, nil)

	_, err := n.SynthesizeSpeech(context.Background(), "x", i18n.English)
	require.Error(t, err)
	_, err = n.SynthesizeSpeech(context.Background(), "x", i18n.English)
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 0, n.Stats().Items)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	inner := &countingNarrator{}
	n := New(inner, Config{Size: 1}, nil)
	ctx := context.Background()

	_, _ = n.SynthesizeSpeech(ctx, "a", i18n.English)
	_, _ = n.SynthesizeSpeech(ctx, "b", i18n.English)
	_, _ = n.SynthesizeSpeech(ctx, "a", i18n.English)
	assert.Equal(t, 3, inner.calls)
}
