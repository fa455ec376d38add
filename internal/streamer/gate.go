package streamer

import "sync"

// gate is a ref-counted backpressure valve for the Byte Source's event
// pump. Two independent reasons close it over the pump's lifetime: a user
// pause() and enqueue_buffer's "buffer full" detour (spec.md §4.4 step 6,
// §4.9's pause/unschedule notes) — both need the pump to simply stop
// draining events until released, and either may be the one to release it,
// so a plain bool would let one reason's clear silently cancel the other's.
type gate struct {
	mu    sync.Mutex
	count int
	wake  chan struct{}
}

func newGate() *gate {
	return &gate{wake: make(chan struct{})}
}

func (g *gate) blocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count > 0
}

func (g *gate) closedChan() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.wake
}

// inc closes the gate for one more reason.
func (g *gate) inc() {
	g.mu.Lock()
	g.count++
	g.mu.Unlock()
}

// dec clears one reason; once the count reaches zero, every pump blocked on
// closedChan() wakes.
func (g *gate) dec() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count > 0 {
		g.count--
	}
	if g.count == 0 {
		close(g.wake)
		g.wake = make(chan struct{})
	}
}
