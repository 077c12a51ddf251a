package refresh

import "sync/atomic"

// Guard admits at most one refresh at a time.
type Guard struct {
	busy atomic.Bool
}

// TryBegin claims the guard. It returns false, without waiting, if a
// refresh already holds it.
func (g *Guard) TryBegin() bool {
	return g.busy.CompareAndSwap(false, true)
}

// End releases the guard.
func (g *Guard) End() {
	g.busy.Store(false)
}

// InProgress reports whether the guard is held.
func (g *Guard) InProgress() bool {
	return g.busy.Load()
}
