// Package phase tracks per-pipeline, per-phase progress of one advice request.
//
// The Tracker is the single writer for the statuses the presentation layer
// observes. Every write carries the Epoch issued by the Reset that started the
// request; writes from an older epoch are dropped under the same lock that
// applies them, so a superseded request can never leak state into a newer one.
package phase

import "fmt"

// Status is the progress of one phase, one pipeline, or the planner.
type Status string

const (
	Idle    Status = "idle"
	Working Status = "working"
	Done    Status = "done"
	Error   Status = "error"
)

// Pipeline names a data-gathering workflow, or the planner.
type Pipeline string

const (
	Weather Pipeline = "weather"
	Soil    Pipeline = "soil"
	Market  Pipeline = "market"
	Planner Pipeline = "planner"
)

// Phase names a step inside a pipeline.
type Phase string

const (
	Forecast   Phase = "forecast"
	Alerts     Phase = "alerts"
	Nutrients  Phase = "nutrients"
	PHMoisture Phase = "ph_moisture"
	SoilType   Phase = "type"
	Prices     Phase = "prices"
	Export     Phase = "export"
)

// Pipelines lists the data pipelines in display order. The planner is not included.
var Pipelines = []Pipeline{Weather, Soil, Market}

var declared = map[Pipeline][]Phase{
	Weather: {Forecast, Alerts},
	Soil:    {Nutrients, PHMoisture, SoilType},
	Market:  {Prices, Export},
}

// PhasesOf returns the declared phase order for p. The planner has none.
func PhasesOf(p Pipeline) []Phase {
	phases := declared[p]
	out := make([]Phase, len(phases))
	copy(out, phases)
	return out
}

// Valid reports whether ph belongs to p.
func Valid(p Pipeline, ph Phase) bool {
	for _, candidate := range declared[p] {
		if candidate == ph {
			return true
		}
	}
	return false
}

// CanTransition reports whether a phase may move from one status to another
// outside of a reset.
func CanTransition(from, to Status) bool {
	switch {
	case from == to:
		return false
	case from == Error:
		return false
	case to == Error:
		return true
	case from == Idle && to == Working:
		return true
	case from == Working && to == Done:
		return true
	default:
		return false
	}
}

// Derive computes a pipeline's main status from its phases.
func Derive(phases []PhaseStatus) Status {
	if len(phases) == 0 {
		return Idle
	}
	var done, idle int
	for _, ph := range phases {
		switch ph.Status {
		case Error:
			return Error
		case Done:
			done++
		case Idle:
			idle++
		}
	}
	switch {
	case done == len(phases):
		return Done
	case idle == len(phases):
		return Idle
	default:
		return Working
	}
}

// PhaseStatus is one named phase and its status.
type PhaseStatus struct {
	Name   Phase  `json:"name"`
	Status Status `json:"status"`
}

// PipelineStatus is a pipeline's derived main status plus its phases in declared order.
type PipelineStatus struct {
	Main   Status        `json:"main"`
	Phases []PhaseStatus `json:"phases"`
}

// Phase returns the status of ph, or Idle if ph is not part of the pipeline.
func (s PipelineStatus) Phase(ph Phase) Status {
	for _, p := range s.Phases {
		if p.Name == ph {
			return p.Status
		}
	}
	return Idle
}

func (s PipelineStatus) clone() PipelineStatus {
	out := PipelineStatus{Main: s.Main, Phases: make([]PhaseStatus, len(s.Phases))}
	copy(out.Phases, s.Phases)
	return out
}

// Epoch identifies the request generation that is allowed to write.
type Epoch uint64

// Snapshot is an immutable copy of every status.
type Snapshot struct {
	Epoch   Epoch          `json:"epoch"`
	Weather PipelineStatus `json:"weather"`
	Soil    PipelineStatus `json:"soil"`
	Market  PipelineStatus `json:"market"`
	Planner Status         `json:"planner"`
}

// Pipeline returns the status for p. The planner is reported as a phase-less pipeline.
func (s Snapshot) Pipeline(p Pipeline) PipelineStatus {
	switch p {
	case Weather:
		return s.Weather
	case Soil:
		return s.Soil
	case Market:
		return s.Market
	case Planner:
		return PipelineStatus{Main: s.Planner}
	default:
		panic(fmt.Sprintf("phase: unknown pipeline %q", p))
	}
}

// AllIdle reports whether nothing has started.
func (s Snapshot) AllIdle() bool {
	if s.Planner != Idle {
		return false
	}
	for _, p := range Pipelines {
		ps := s.Pipeline(p)
		if ps.Main != Idle {
			return false
		}
		for _, ph := range ps.Phases {
			if ph.Status != Idle {
				return false
			}
		}
	}
	return true
}

func initialPipeline(p Pipeline) PipelineStatus {
	phases := declared[p]
	out := PipelineStatus{Main: Idle, Phases: make([]PhaseStatus, len(phases))}
	for i, ph := range phases {
		out.Phases[i] = PhaseStatus{Name: ph, Status: Idle}
	}
	return out
}
