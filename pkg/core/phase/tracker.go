package phase

import "sync"

// Tracker owns the live statuses. The zero value is not usable; call NewTracker.
type Tracker struct {
	mu       sync.Mutex
	epoch    Epoch
	weather  PipelineStatus
	soil     PipelineStatus
	market   PipelineStatus
	planner  Status
	onChange func(Snapshot)
}

// NewTracker returns an all-idle tracker. onChange, if non-nil, is called with a
// fresh snapshot after every applied mutation, outside the tracker's lock.
func NewTracker(onChange func(Snapshot)) *Tracker {
	t := &Tracker{onChange: onChange}
	t.resetLocked()
	return t
}

func (t *Tracker) resetLocked() {
	t.weather = initialPipeline(Weather)
	t.soil = initialPipeline(Soil)
	t.market = initialPipeline(Market)
	t.planner = Idle
}

// Reset restores the all-idle state and returns a new epoch. Every epoch issued
// before it stops being able to write.
func (t *Tracker) Reset() Epoch {
	t.mu.Lock()
	t.epoch++
	t.resetLocked()
	e := t.epoch
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snap)
	return e
}

// Epoch returns the current epoch.
func (t *Tracker) Epoch() Epoch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

// Current reports whether e may still write.
func (t *Tracker) Current(e Epoch) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch == e
}

// SetPhase moves one phase and recomputes its pipeline's main status in the
// same critical section. It reports whether the write applied.
func (t *Tracker) SetPhase(e Epoch, p Pipeline, ph Phase, s Status) bool {
	t.mu.Lock()
	if e != t.epoch {
		t.mu.Unlock()
		return false
	}
	ps := t.pipelineLocked(p)
	if ps == nil {
		t.mu.Unlock()
		return false
	}
	applied := false
	for i := range ps.Phases {
		if ps.Phases[i].Name != ph {
			continue
		}
		if CanTransition(ps.Phases[i].Status, s) {
			ps.Phases[i].Status = s
			ps.Main = Derive(ps.Phases)
			applied = true
		}
		break
	}
	if !applied {
		t.mu.Unlock()
		return false
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snap)
	return true
}

// SetPipelineMain sets the planner status, or forces a data pipeline to s.
// Forcing a data pipeline also moves its phases so Main stays derivable:
// Error marks every phase as error; Idle is only reachable through Reset.
func (t *Tracker) SetPipelineMain(e Epoch, p Pipeline, s Status) bool {
	t.mu.Lock()
	if e != t.epoch {
		t.mu.Unlock()
		return false
	}
	applied := t.setMainLocked(p, s)
	if !applied {
		t.mu.Unlock()
		return false
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snap)
	return true
}

// Fail marks every pipeline, every phase, and the planner as error in one step.
func (t *Tracker) Fail(e Epoch) bool {
	t.mu.Lock()
	if e != t.epoch {
		t.mu.Unlock()
		return false
	}
	applied := false
	for _, p := range Pipelines {
		if t.setMainLocked(p, Error) {
			applied = true
		}
	}
	if t.setMainLocked(Planner, Error) {
		applied = true
	}
	if !applied {
		t.mu.Unlock()
		return false
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snap)
	return true
}

func (t *Tracker) setMainLocked(p Pipeline, s Status) bool {
	if p == Planner {
		if !CanTransition(t.planner, s) {
			return false
		}
		t.planner = s
		return true
	}
	ps := t.pipelineLocked(p)
	if ps == nil {
		return false
	}
	switch s {
	case Error:
		changed := false
		for i := range ps.Phases {
			if ps.Phases[i].Status != Error {
				ps.Phases[i].Status = Error
				changed = true
			}
		}
		ps.Main = Derive(ps.Phases)
		return changed
	case Done:
		changed := false
		for i := range ps.Phases {
			if CanTransition(ps.Phases[i].Status, Working) {
				ps.Phases[i].Status = Working
			}
			if CanTransition(ps.Phases[i].Status, Done) {
				ps.Phases[i].Status = Done
				changed = true
			}
		}
		ps.Main = Derive(ps.Phases)
		return changed
	default:
		return false
	}
}

func (t *Tracker) pipelineLocked(p Pipeline) *PipelineStatus {
	switch p {
	case Weather:
		return &t.weather
	case Soil:
		return &t.soil
	case Market:
		return &t.market
	default:
		return nil
	}
}

// Snapshot returns a copy of the current statuses.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		Epoch:   t.epoch,
		Weather: t.weather.clone(),
		Soil:    t.soil.clone(),
		Market:  t.market.clone(),
		Planner: t.planner,
	}
}

func (t *Tracker) notify(s Snapshot) {
	if t.onChange != nil {
		t.onChange(s)
	}
}
