package client

import "sync"

// OpState models the lifecycle of one request class. A new identical request
// is dropped, not queued, while one is outstanding; Cooling holds submissions
// back after a response that warrants a pause (e.g. a transport error).
type OpState int

const (
	OpIdle OpState = iota
	OpInFlight
	OpCooling
)

// InFlightGuard replaces scattered request-in-flight booleans with an
// explicit per-operation state machine.
type InFlightGuard struct {
	mu    sync.Mutex
	state OpState
}

// TryBegin transitions Idle -> InFlight. It reports false, leaving the state
// untouched, when a request of this class is already outstanding or cooling.
func (g *InFlightGuard) TryBegin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != OpIdle {
		return false
	}
	g.state = OpInFlight
	return true
}

// Finish transitions InFlight -> Idle, or InFlight -> Cooling when cool is
// set.
func (g *InFlightGuard) Finish(cool bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != OpInFlight {
		return
	}
	if cool {
		g.state = OpCooling
		return
	}
	g.state = OpIdle
}

// Release transitions Cooling -> Idle. No-op in any other state.
func (g *InFlightGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == OpCooling {
		g.state = OpIdle
	}
}

func (g *InFlightGuard) State() OpState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
