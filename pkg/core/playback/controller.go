// Package playback plays narrated summaries through a single global player.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vango-go/agrivoice/pkg/core/advice"
	"github.com/vango-go/agrivoice/pkg/core/audio"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
)

// Narrator is the external text-to-speech service.
type Narrator interface {
	SynthesizeSpeech(ctx context.Context, text string, lang i18n.Language) (audio.Payload, error)
}

// Observer receives narration outcomes. metrics.Metrics implements it.
type Observer interface {
	ObserveNarration(target, outcome string)
}

// SlotStatus is the state of one narratable target.
type SlotStatus string

const (
	Idle      SlotStatus = "idle"
	Buffering SlotStatus = "buffering"
	Playing   SlotStatus = "playing"
	Failed    SlotStatus = "error"
)

// Slot is one target and its status.
type Slot struct {
	Target advice.Target `json:"target"`
	Status SlotStatus    `json:"status"`
}

var (
	ErrNothingToPlay = errors.New("playback: nothing to narrate")
	ErrUnknownTarget = errors.New("playback: unknown target")
)

type Dependencies struct {
	Narrator Narrator
	Output   audio.Output
	Logger   *slog.Logger
	Observer Observer
	// OnChange is called after every slot change, outside the controller's lock.
	OnChange func()
}

// Controller owns the single narration player. At most one slot is ever
// buffering or playing.
type Controller struct {
	narrator Narrator
	out      audio.Output
	log      *slog.Logger
	observer Observer
	onChange func()

	mu      sync.Mutex
	gen     uint64
	slots   map[advice.Target]SlotStatus
	current *attached
}

// attached is the source currently bound to the player.
type attached struct {
	target advice.Target
	gen    uint64
	src    audio.Source
	cancel context.CancelFunc
}

func New(deps Dependencies) (*Controller, error) {
	if deps.Narrator == nil {
		return nil, errors.New("playback: missing narrator")
	}
	if deps.Output == nil {
		return nil, errors.New("playback: missing output")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	c := &Controller{
		narrator: deps.Narrator,
		out:      deps.Output,
		log:      deps.Logger,
		observer: deps.Observer,
		onChange: deps.OnChange,
		slots:    make(map[advice.Target]SlotStatus, len(advice.Targets)),
	}
	for _, t := range advice.Targets {
		c.slots[t] = Idle
	}
	return c, nil
}

// Play narrates text for target, replacing whatever is playing. It blocks
// until playback has started or failed. A Play or Stop issued while this one
// is buffering supersedes it; the superseded call returns nil.
func (c *Controller) Play(ctx context.Context, target advice.Target, text string, lang i18n.Language) error {
	if !known(target) {
		return fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	if strings.TrimSpace(text) == "" {
		return ErrNothingToPlay
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	prev := c.detachLocked()
	c.gen++
	gen := c.gen
	c.current = &attached{target: target, gen: gen, cancel: cancel}
	c.slots[target] = Buffering
	c.mu.Unlock()
	prev.release()
	c.changed()

	payload, err := c.narrator.SynthesizeSpeech(ctx, text, lang)
	if err != nil {
		return c.fail(gen, target, "synthesize", err)
	}
	buf, err := audio.Decode(payload)
	if err != nil {
		return c.fail(gen, target, "decode", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.observe(target, "superseded")
		return nil
	}
	src, err := c.out.Start(buf, c.out.Now(), func() { c.finished(gen) })
	if err != nil {
		c.mu.Unlock()
		return c.fail(gen, target, "start", err)
	}
	c.current.src = src
	c.current.cancel = nil
	c.slots[target] = Playing
	c.mu.Unlock()

	c.log.Debug("narration playing", "target", string(target), "duration_ms", buf.Duration().Milliseconds())
	c.observe(target, "played")
	c.changed()
	return nil
}

// finished handles natural completion. It only applies if gen is still the
// attached source.
func (c *Controller) finished(gen uint64) {
	c.mu.Lock()
	if c.current == nil || c.current.gen != gen {
		c.mu.Unlock()
		return
	}
	c.slots[c.current.target] = Idle
	c.current = nil
	c.mu.Unlock()
	c.changed()
}

func (c *Controller) fail(gen uint64, target advice.Target, stage string, err error) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.observe(target, "superseded")
		return nil
	}
	c.slots[target] = Failed
	c.current = nil
	c.mu.Unlock()

	c.log.Warn("narration failed", "target", string(target), "stage", stage, "error", err)
	c.observe(target, "error")
	c.changed()
	return fmt.Errorf("playback %s %s: %w", target, stage, err)
}

// Stop detaches and silences the player and sets every slot idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.current == nil && c.allIdleLocked() {
		c.mu.Unlock()
		return
	}
	c.gen++
	prev := c.detachLocked()
	c.mu.Unlock()
	prev.release()
	c.changed()
}

// StopTarget stops playback if target is active; it is a no-op for idle targets.
func (c *Controller) StopTarget(target advice.Target) {
	if !known(target) {
		return
	}
	c.mu.Lock()
	idle := c.slots[target] == Idle
	c.mu.Unlock()
	if idle {
		return
	}
	c.Stop()
}

// detachLocked unbinds the current source and clears every slot to idle. The
// returned value must be released after unlocking.
func (c *Controller) detachLocked() *attached {
	prev := c.current
	c.current = nil
	for t := range c.slots {
		c.slots[t] = Idle
	}
	return prev
}

func (a *attached) release() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.src != nil {
		a.src.Stop()
	}
}

func known(target advice.Target) bool {
	for _, t := range advice.Targets {
		if t == target {
			return true
		}
	}
	return false
}

func (c *Controller) allIdleLocked() bool {
	for _, s := range c.slots {
		if s != Idle {
			return false
		}
	}
	return true
}

// Snapshot returns the slots in display order.
func (c *Controller) Snapshot() []Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Slot, 0, len(advice.Targets))
	for _, t := range advice.Targets {
		out = append(out, Slot{Target: t, Status: c.slots[t]})
	}
	return out
}

// Status returns the status of one target.
func (c *Controller) Status(target advice.Target) SlotStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[target]
}

func (c *Controller) observe(target advice.Target, outcome string) {
	if c.observer != nil {
		c.observer.ObserveNarration(string(target), outcome)
	}
}

func (c *Controller) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}
