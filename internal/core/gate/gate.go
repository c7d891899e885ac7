// Package gate keeps remotely applied operations from being re-broadcast as
// local edits.
//
// A Gate is held open for the whole duration of a programmatic apply. Every
// change notification observed while it is held is swallowed, so an adapter
// that emits several notifications for one apply cannot leak an echo, and a
// notification arriving after the apply returned is never mistaken for one.
// Holds nest, which lets a remote apply trigger further programmatic applies.
//
// A Gate is owned by exactly one session and is not safe for concurrent use;
// the session serializes every call through its event loop.
package gate

// Gate is a reference-counted suppression latch.
type Gate struct {
	depth      int
	swallowed  uint64
	lastHeld   int
	totalHolds uint64
}

// New returns a clear gate.
func New() *Gate {
	return &Gate{}
}

// Hold marks the start of a programmatic apply and returns the function that
// ends it. Calling the release function more than once has no further effect.
func (g *Gate) Hold() (release func()) {
	g.depth++
	g.totalHolds++
	g.lastHeld = 0
	released := false
	return func() {
		if released {
			return
		}
		released = true
		g.depth--
	}
}

// Suppress runs apply while the gate is held.
func (g *Gate) Suppress(apply func()) {
	release := g.Hold()
	defer release()
	apply()
}

// Active reports whether a programmatic apply is in progress.
func (g *Gate) Active() bool {
	return g.depth > 0
}

// Admit is called for every change notification. It returns false, and counts
// the notification as swallowed, when the gate is held.
func (g *Gate) Admit() bool {
	if g.depth > 0 {
		g.swallowed++
		g.lastHeld++
		return false
	}
	return true
}

// Stats describes the gate's history.
type Stats struct {
	Depth int
	// Holds is the number of programmatic applies seen.
	Holds uint64
	// Swallowed is the number of notifications suppressed.
	Swallowed uint64
	// LastHoldSwallowed is how many notifications the latest hold absorbed;
	// more than one means the adapter split a single apply.
	LastHoldSwallowed int
}

func (g *Gate) Stats() Stats {
	return Stats{
		Depth:             g.depth,
		Holds:             g.totalHolds,
		Swallowed:         g.swallowed,
		LastHoldSwallowed: g.lastHeld,
	}
}
