package engine

import (
	"sync"

	"github.com/coachpo/pgreactor/reactor"
)

// controlBlock is the separately allocated, shared record every deferred
// callback captures (spec §9, "Cyclic reference: engine <-> callbacks").
// It turns every callback into a no-op once the engine has torn down.
//
// Go has no move constructors, so the relocation-safety half of spec §9's
// open question (re-seating a back-pointer under lock after an engine
// move) is moot here: an *Engine is always referenced by pointer and
// never physically relocated, so the mutex and stopped flag alone are
// sufficient for callback safety.
type controlBlock struct {
	mu      sync.Mutex
	stopped bool
	timer   reactor.Timer
}
