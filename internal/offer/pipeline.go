package offer

import "errors"

// Phase is the state of one pipeline. Running is only entered from a
// non-running phase, and every run ends in Succeeded, Failed or Idle (stale).
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// pipeline is guarded by Session.mu.
type pipeline struct {
	phase Phase
}

func (p *pipeline) running() bool {
	return p.phase == PhaseRunning
}

func (p *pipeline) begin() bool {
	if p.phase == PhaseRunning {
		return false
	}
	p.phase = PhaseRunning
	return true
}

func (p *pipeline) finish(err error) {
	switch {
	case err == nil:
		p.phase = PhaseSucceeded
	case errors.Is(err, ErrStale):
		p.phase = PhaseIdle
	default:
		p.phase = PhaseFailed
	}
}
