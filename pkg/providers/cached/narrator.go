// Package cached memoizes narration audio. Replaying a summary for the same
// report does not call the speech service again.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vango-go/agrivoice/pkg/core/audio"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
	"github.com/vango-go/agrivoice/pkg/core/playback"
)

const (
	DefaultSize = 64
	DefaultTTL  = 30 * time.Minute
)

type Config struct {
	Size int
	TTL  time.Duration
}

// Stats reports cache effectiveness.
type Stats struct {
	Items  int    `json:"items"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// Narrator wraps another playback.Narrator with an LRU of synthesized audio
// keyed by language and text.
type Narrator struct {
	next  playback.Narrator
	cache *expirable.LRU[string, audio.Payload]
	log   *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

func New(next playback.Narrator, cfg Config, logger *slog.Logger) *Narrator {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Narrator{
		next:  next,
		cache: expirable.NewLRU[string, audio.Payload](cfg.Size, nil, cfg.TTL),
		log:   logger,
	}
}

func (n *Narrator) SynthesizeSpeech(ctx context.Context, text string, lang i18n.Language) (audio.Payload, error) {
	key := cacheKey(text, lang)
	if p, ok := n.cache.Get(key); ok {
		n.hits.Add(1)
		n.log.Debug("narration cache hit", "key", key[:12], "bytes", len(p.Data))
		return p, nil
	}
	n.misses.Add(1)

	p, err := n.next.SynthesizeSpeech(ctx, text, lang)
	if err != nil {
		return audio.Payload{}, err
	}
	n.cache.Add(key, p)
	return p, nil
}

func (n *Narrator) Stats() Stats {
	return Stats{Items: n.cache.Len(), Hits: n.hits.Load(), Misses: n.misses.Load()}
}

// Purge drops every cached payload.
func (n *Narrator) Purge() {
	n.cache.Purge()
}

func cacheKey(text string, lang i18n.Language) string {
	sum := sha256.Sum256([]byte(string(lang) + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
