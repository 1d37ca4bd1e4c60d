// Package ops implements the three operation subclasses the engine
// drives: Connect (component F), Reset (component G), and the generic
// Query (component H).
package ops

import (
	"time"

	"github.com/coachpo/pgreactor/driver"
	"github.com/coachpo/pgreactor/engine"
	"github.com/coachpo/pgreactor/operation"
	"github.com/coachpo/pgreactor/pgerr"
	"github.com/coachpo/pgreactor/reactor"
	"github.com/coachpo/pgreactor/socket"
)

// Start produces a driver handle in non-blocking connect mode, the Go
// equivalent of PQconnectStart/PQconnectStartParams (spec §4.F).
type Start func() (driver.Handle, error)

// Connect is the first operation driven on a freshly constructed engine:
// it polls the driver's non-blocking connect state machine to
// completion.
type Connect struct {
	handle     driver.Handle
	attached   bool
	hasTimeout bool
	timeout    time.Duration
	onStatus   func(driver.PollStatus)
	completion *operation.Completion[struct{}]
}

// NewConnect invokes start and validates the resulting handle's status is
// not Bad, per spec §4.F ("Construction validates that the handle's
// initial status is not bad"). On validation failure the handle is
// finalized and a ConnectionError is returned; there is no operation to
// submit in that case.
func NewConnect(start Start) (*Connect, error) {
	handle, err := start()
	if err != nil {
		return nil, pgerr.WrapConnectionError(err)
	}
	if handle.Status() == driver.StatusBad {
		msg := handle.ErrorMessage()
		handle.Finish()
		return nil, pgerr.NewConnectionError(msg)
	}
	return &Connect{
		handle:     handle,
		completion: operation.NewCompletion[struct{}](),
	}, nil
}

// WithTimeout sets a per-operation timeout; the default (unset) means no
// timeout is armed, per spec §9's open-question resolution.
func (c *Connect) WithTimeout(d time.Duration) *Connect {
	c.hasTimeout = true
	c.timeout = d
	return c
}

// WithStatusObserver installs a hook invoked after every non-terminal
// poll (spec §4.F: "so observers... can react"); default is a no-op.
func (c *Connect) WithStatusObserver(fn func(driver.PollStatus)) *Connect {
	c.onStatus = fn
	return c
}

// Completion returns the one-shot receiver for this operation's outcome.
func (c *Connect) Completion() *operation.Completion[struct{}] {
	return c.completion
}

// Attach consumes the handle, constructing a fresh engine with this
// operation already enqueued as its first entry (spec §4.F). Attach may
// be called at most once; a second call is a LogicError, matching the
// "double-attach raises logic_error" testable property in spec §8.
func (c *Connect) Attach(r reactor.Reactor, dup socket.Duplicator, opts ...engine.Option) (*engine.Engine, error) {
	if c.attached {
		return nil, pgerr.NewLogicError("connect: handle already attached to an engine")
	}
	c.attached = true
	e := engine.New(c.handle, r, dup, opts...)
	e.Add(c)
	return e, nil
}

func (c *Connect) Timeout() (time.Duration, bool) {
	return c.timeout, c.hasTimeout
}

// Begin returns write unconditionally, the driver's convention of
// treating the initial state as if the last poll asked to write (spec
// §4.F).
func (c *Connect) Begin(handle driver.Handle) (operation.Status, error) {
	return operation.Write, nil
}

func (c *Connect) Perform(handle driver.Handle, readiness driver.Readiness) (operation.Status, error) {
	switch handle.ConnectPoll() {
	case driver.PollWriting:
		c.notify(driver.PollWriting)
		return operation.Write, nil
	case driver.PollReading:
		c.notify(driver.PollReading)
		return operation.Read, nil
	case driver.PollOK:
		return operation.Done, nil
	default:
		return operation.Done, pgerr.NewConnectionError(handle.ErrorMessage())
	}
}

func (c *Connect) notify(status driver.PollStatus) {
	if c.onStatus != nil {
		c.onStatus(status)
	}
}

func (c *Connect) Complete(err error) {
	if err != nil {
		c.completion.Fail(err)
		return
	}
	c.completion.Fulfill(struct{}{})
}
