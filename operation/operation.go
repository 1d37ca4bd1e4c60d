// Package operation declares the polymorphic contract every runnable unit
// submitted to an engine must satisfy, and the one-shot completion
// channel used to deliver its outcome.
package operation

import (
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/pgreactor/driver"
)

// Status is the status returned by Begin and Perform: either the
// operation is done, or it names the socket readiness it needs next.
type Status int

const (
	Done Status = iota
	Read
	Write
	ReadWrite
)

func (s Status) String() string {
	switch s {
	case Done:
		return "done"
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "read_write"
	default:
		return "unknown"
	}
}

// Operation is the four-method contract the engine drives. The engine
// never depends on any concrete implementation of this interface.
type Operation interface {
	// Begin is called exactly once, when the operation becomes current.
	Begin(handle driver.Handle) (Status, error)
	// Perform is called each time the reactor reports the readiness the
	// operation last asked for.
	Perform(handle driver.Handle, readiness driver.Readiness) (Status, error)
	// Complete is called exactly once, when the operation terminates by
	// success, failure, or abort. err is nil on success.
	Complete(err error)
	// Timeout is read once, when the operation becomes current. The
	// bool reports whether a timeout applies at all: absent means the
	// operation may run arbitrarily long and no timer is armed, which
	// is distinct from a present zero duration (fires on the very next
	// reactor tick).
	Timeout() (d time.Duration, ok bool)
}

// ID returns a fresh random correlation identifier. Callers that want to
// correlate an operation's log lines or metrics generate and keep one
// themselves; the engine neither assigns nor records these identifiers.
func ID() uuid.UUID {
	return uuid.New()
}
