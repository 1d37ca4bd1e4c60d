package ops

import (
	"time"

	"github.com/coachpo/pgreactor/driver"
	"github.com/coachpo/pgreactor/operation"
	"github.com/coachpo/pgreactor/pgerr"
)

// Reset drives the same poll sub-state-machine as Connect, but against
// an already-owned handle (spec §4.G).
type Reset struct {
	hasTimeout bool
	timeout    time.Duration
	onStatus   func(driver.PollStatus)
	completion *operation.Completion[struct{}]
}

// NewReset constructs a reset operation, submitted directly via
// (*engine.Engine).Add — unlike Connect it does not own a handle to
// attach.
func NewReset() *Reset {
	return &Reset{completion: operation.NewCompletion[struct{}]()}
}

func (r *Reset) WithTimeout(d time.Duration) *Reset {
	r.hasTimeout = true
	r.timeout = d
	return r
}

func (r *Reset) WithStatusObserver(fn func(driver.PollStatus)) *Reset {
	r.onStatus = fn
	return r
}

func (r *Reset) Completion() *operation.Completion[struct{}] {
	return r.completion
}

func (r *Reset) Timeout() (time.Duration, bool) {
	return r.timeout, r.hasTimeout
}

// Begin calls the driver's start-reset routine; failure is a
// ConnectionError (spec §4.G). Success returns write unconditionally,
// mirroring Connect's begin convention.
func (r *Reset) Begin(handle driver.Handle) (operation.Status, error) {
	if !handle.StartReset() {
		return operation.Done, pgerr.NewConnectionError(handle.ErrorMessage())
	}
	return operation.Write, nil
}

func (r *Reset) Perform(handle driver.Handle, readiness driver.Readiness) (operation.Status, error) {
	switch handle.ResetPoll() {
	case driver.PollWriting:
		r.notify(driver.PollWriting)
		return operation.Write, nil
	case driver.PollReading:
		r.notify(driver.PollReading)
		return operation.Read, nil
	case driver.PollOK:
		return operation.Done, nil
	default:
		return operation.Done, pgerr.NewConnectionError(handle.ErrorMessage())
	}
}

func (r *Reset) notify(status driver.PollStatus) {
	if r.onStatus != nil {
		r.onStatus(status)
	}
}

func (r *Reset) Complete(err error) {
	if err != nil {
		r.completion.Fail(err)
		return
	}
	r.completion.Fulfill(struct{}{})
}
