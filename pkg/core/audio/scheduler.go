package audio

import (
	"sync"
	"time"
)

// Source is one scheduled buffer on an Output.
type Source interface {
	// Stop silences the source without invoking its completion callback.
	Stop()
}

// Output is a playback device with its own clock.
type Output interface {
	// Now is the device's playback clock.
	Now() time.Duration
	// Start plays buf beginning at clock time at (or immediately, if at has
	// passed). onEnded runs once the buffer has fully played, on a goroutine
	// owned by the output and never while the output holds a lock.
	Start(buf Buffer, at time.Duration, onEnded func()) (Source, error)
}

// Scheduler queues decoded chunks back to back on an Output and derives a
// speaking signal from the set of sources still playing.
type Scheduler struct {
	out        Output
	onSpeaking func(bool)

	mu       sync.Mutex
	next     time.Duration
	gen      uint64
	seq      uint64
	active   map[uint64]Source
	speaking bool
}

// NewScheduler anchors the schedule at out's current time. onSpeaking, if
// non-nil, is called on every change of Speaking.
func NewScheduler(out Output, onSpeaking func(bool)) *Scheduler {
	return &Scheduler{
		out:        out,
		onSpeaking: onSpeaking,
		next:       out.Now(),
		active:     make(map[uint64]Source),
	}
}

// Schedule plays buf at max(next start, now) and advances the next start by
// buf's duration. Calls are played in call order without overlap or gaps.
func (s *Scheduler) Schedule(buf Buffer) (time.Duration, error) {
	dur := buf.Duration()

	s.mu.Lock()
	now := s.out.Now()
	startAt := s.next
	if now > startAt {
		startAt = now
	}
	// An empty chunk starts no source, so it does not set speaking: speaking
	// stays true exactly while the active set is non-empty.
	if dur <= 0 {
		s.mu.Unlock()
		return startAt, nil
	}
	s.next = startAt + dur
	s.seq++
	id := s.seq
	gen := s.gen
	s.active[id] = nil
	changed := s.setSpeakingLocked(true)
	s.mu.Unlock()
	s.notify(changed, true)

	src, err := s.out.Start(buf, startAt, func() { s.ended(gen, id) })

	s.mu.Lock()
	if err != nil {
		delete(s.active, id)
		if gen == s.gen && s.next == startAt+dur {
			s.next = startAt
		}
		speaking := len(s.active) > 0
		changed := s.setSpeakingLocked(speaking)
		s.mu.Unlock()
		s.notify(changed, speaking)
		return startAt, err
	}
	stale := gen != s.gen
	if !stale {
		if _, ok := s.active[id]; ok {
			s.active[id] = src
		}
	}
	s.mu.Unlock()

	if stale {
		src.Stop()
	}
	return startAt, nil
}

func (s *Scheduler) ended(gen, id uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	speaking := len(s.active) > 0
	changed := s.setSpeakingLocked(speaking)
	s.mu.Unlock()
	s.notify(changed, speaking)
}

// Speaking reports whether any scheduled source has not finished yet.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Active is the number of sources scheduled and not yet finished.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart is when the next scheduled chunk would begin if the clock has not passed it.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Reset stops every source, forgets them, and re-anchors the schedule at now.
// Completion callbacks of the stopped sources are ignored.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.gen++
	sources := make([]Source, 0, len(s.active))
	for _, src := range s.active {
		if src != nil {
			sources = append(sources, src)
		}
	}
	s.active = make(map[uint64]Source)
	s.next = s.out.Now()
	changed := s.setSpeakingLocked(false)
	s.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
	s.notify(changed, false)
}

func (s *Scheduler) setSpeakingLocked(v bool) bool {
	if s.speaking == v {
		return false
	}
	s.speaking = v
	return true
}

func (s *Scheduler) notify(changed, speaking bool) {
	if changed && s.onSpeaking != nil {
		s.onSpeaking(speaking)
	}
}
