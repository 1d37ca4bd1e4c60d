// Package engine implements the execution engine (spec §4.E, "the
// heart"): it owns the driver handle and the reactor-bound socket
// binding, serializes submitted operations in FIFO order, drives each
// against the socket's readiness events and an optional per-operation
// timeout, and tears down safely in the presence of in-flight
// asynchronous callbacks.
package engine

import (
	"fmt"

	"github.com/coachpo/pgreactor/driver"
	"github.com/coachpo/pgreactor/operation"
	"github.com/coachpo/pgreactor/pgerr"
	"github.com/coachpo/pgreactor/reactor"
	"github.com/coachpo/pgreactor/socket"
)

// Engine drives exactly one driver handle's operations to completion, one
// at a time, in submission order. The zero value is not usable; construct
// with New.
type Engine struct {
	ctrl    *controlBlock
	r       reactor.Reactor
	handle  driver.Handle
	binder  *socket.Binder

	pending []operation.Operation
	current operation.Operation
	seq     uint64

	readPending, writePending bool

	observer Observer
}

// New constructs an engine around an already-owned driver handle. The
// reactor and duplicator are the engine's only collaborators with the
// outside world (spec §1: "deliberately out of scope... the reactor
// runtime... treated as an async I/O executor").
func New(handle driver.Handle, r reactor.Reactor, dup socket.Duplicator, opts ...Option) *Engine {
	e := &Engine{
		r:        r,
		handle:   handle,
		observer: noopObserver{},
	}
	e.ctrl = &controlBlock{timer: r.NewTimer()}
	e.binder = socket.New(r, dup)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Add enqueues op (spec §4.E, "Submission"). If no operation is current,
// op becomes current and a reactor task is scheduled to begin it;
// scheduling rather than invoking directly is mandatory so add never
// calls operation methods on the caller's goroutine. If the engine has
// already torn down, op is completed with Aborted immediately.
func (e *Engine) Add(op operation.Operation) {
	e.ctrl.mu.Lock()
	if e.ctrl.stopped {
		e.ctrl.mu.Unlock()
		op.Complete(pgerr.NewAborted())
		return
	}
	if e.current != nil {
		e.pending = append(e.pending, op)
		e.ctrl.mu.Unlock()
		return
	}
	e.current = op
	e.seq++
	seq := e.seq
	e.ctrl.mu.Unlock()

	e.r.Schedule(func() { e.beginCurrent(seq) })
}

// Close tears the engine down (spec §4.E, "Teardown"): stops accepting
// further callbacks, synthesizes Aborted for the current operation and
// every pending operation in FIFO order, then finalizes the handle
// exactly once (invariant I4).
func (e *Engine) Close() {
	e.ctrl.mu.Lock()
	if e.ctrl.stopped {
		e.ctrl.mu.Unlock()
		return
	}
	e.ctrl.stopped = true
	e.ctrl.timer.Cancel()
	current := e.current
	pending := e.pending
	e.current = nil
	e.pending = nil

	// Binder mutations must happen under ctrl.mu: a reactor worker still
	// inside rebindAfter (which re-checks stopped under the same lock)
	// could otherwise race this teardown on socket.Binder's unlocked
	// fields, or resurrect a binding after Close has already run.
	e.binder.Socket().Cancel()
	e.binder.Close()
	e.ctrl.mu.Unlock()

	if current != nil {
		e.observer.OperationCompleted("current", pgerr.NewAborted())
		current.Complete(pgerr.NewAborted())
	}
	for _, op := range pending {
		e.observer.OperationCompleted("pending", pgerr.NewAborted())
		op.Complete(pgerr.NewAborted())
	}

	e.handle.Finish()
}

// beginCurrent drives the current operation (spec §4.E, "Main loop")
// until it either completes (looping to the next pending operation) or
// suspends waiting on I/O or a timer. seq identifies the operation that
// was current when this call was scheduled; if a teardown or a faster
// advancement already moved the engine past it, this call is a no-op.
func (e *Engine) beginCurrent(seq uint64) {
	for {
		e.ctrl.mu.Lock()
		if e.ctrl.stopped || seq != e.seq {
			e.ctrl.mu.Unlock()
			return
		}
		op := e.current
		e.ctrl.mu.Unlock()

		status, err := e.safeBegin(op)
		e.rebindAfter(&status, &err)

		if err != nil || status == operation.Done {
			e.completeAndAdvance(op, err)
			nextSeq, ok := e.currentSeqIfAlive()
			if !ok {
				return
			}
			seq = nextSeq
			continue
		}

		e.armTimeout(op, seq)
		e.armWaits(status, seq)
		return
	}
}

// onReadiness is the readiness callback (spec §4.E, "Readiness
// callback"): it re-checks staleness, clears the corresponding pending
// flag, drives perform, and either completes-and-advances or re-arms.
func (e *Engine) onReadiness(seq uint64, readiness driver.Readiness, waitErr error) {
	e.ctrl.mu.Lock()
	if e.ctrl.stopped || seq != e.seq {
		e.ctrl.mu.Unlock()
		return
	}
	op := e.current
	if readiness == driver.Readable {
		e.readPending = false
	} else {
		e.writePending = false
	}
	e.ctrl.mu.Unlock()

	if waitErr != nil {
		// Cancellation, not a real readiness event: teardown or a
		// faster path has already handled completion.
		return
	}

	status, err := e.safePerform(op, readiness)
	e.rebindAfter(&status, &err)

	if err != nil || status == operation.Done {
		e.completeAndAdvance(op, err)
		if nextSeq, ok := e.currentSeqIfAlive(); ok {
			e.beginCurrent(nextSeq)
		}
		return
	}

	e.armWaits(status, seq)
}

// currentSeqIfAlive reports the sequence number of the new current
// operation after an advance, or false if the engine has no current
// operation (queue drained) or has stopped.
func (e *Engine) currentSeqIfAlive() (uint64, bool) {
	e.ctrl.mu.Lock()
	defer e.ctrl.mu.Unlock()
	if e.ctrl.stopped || e.current == nil {
		return 0, false
	}
	return e.seq, true
}

// completeAndAdvance implements the open question's resolution in spec
// §9: clear both pending flags and cancel outstanding waits/timer before
// calling complete, so a single error or done status yields exactly one
// complete call rather than one per outstanding wait. It then pops the
// next pending operation (or clears current) per spec §4.E's "next".
func (e *Engine) completeAndAdvance(op operation.Operation, err error) {
	e.ctrl.mu.Lock()
	if e.ctrl.stopped {
		// Close has already completed op with Aborted.
		e.ctrl.mu.Unlock()
		return
	}
	e.binder.Socket().Cancel()
	e.ctrl.timer.Cancel()
	e.readPending, e.writePending = false, false

	// seq moves on every advance, including when the queue drains, so
	// callbacks captured for op are recognised as stale.
	e.seq++
	var next operation.Operation
	if len(e.pending) > 0 {
		next = e.pending[0]
		e.pending = e.pending[1:]
		e.current = next
	} else {
		e.current = nil
	}
	e.ctrl.mu.Unlock()

	e.observer.OperationCompleted("", err)
	op.Complete(err)
}

// armTimeout arms the control block's timer if op carries one. A fired
// timer synthesizes TimedOut and advances, exactly like any other
// completion path.
func (e *Engine) armTimeout(op operation.Operation, seq uint64) {
	d, ok := op.Timeout()
	if !ok {
		return
	}
	e.ctrl.timer.ExpiresAfter(d)
	e.ctrl.timer.AsyncWait(func(fireErr error) {
		if fireErr != nil {
			// Cancelled because the operation completed first.
			return
		}
		e.ctrl.mu.Lock()
		if e.ctrl.stopped || seq != e.seq {
			e.ctrl.mu.Unlock()
			return
		}
		current := e.current
		e.ctrl.mu.Unlock()

		e.completeAndAdvance(current, pgerr.NewTimedOut(d))
		if nextSeq, ok := e.currentSeqIfAlive(); ok {
			e.beginCurrent(nextSeq)
		}
	})
}

// armWaits arms exactly the readiness waits status demands, honoring
// invariant I2: a second call asking for a direction already pending
// must not stack a redundant wait.
func (e *Engine) armWaits(status operation.Status, seq uint64) {
	e.ctrl.mu.Lock()
	needRead := status == operation.Read || status == operation.ReadWrite
	needWrite := status == operation.Write || status == operation.ReadWrite
	armRead := needRead && !e.readPending
	armWrite := needWrite && !e.writePending
	if armRead {
		e.readPending = true
	}
	if armWrite {
		e.writePending = true
	}
	sock := e.binder.Socket()
	e.ctrl.mu.Unlock()

	if armRead {
		sock.AsyncWaitReadable(func(err error) { e.onReadiness(seq, driver.Readable, err) })
	}
	if armWrite {
		sock.AsyncWaitWritable(func(err error) { e.onReadiness(seq, driver.Writable, err) })
	}
}

// rebindAfter runs the socket binder (spec §4.D) and, on failure,
// downgrades the in-flight status/err pair to a SystemError so the
// caller's completion path treats a duplication failure exactly like any
// other operation error (spec §4.D, "Failure").
//
// It runs under ctrl.mu for two reasons: it must re-check stopped so a
// concurrent Close doesn't race it on socket.Binder's unlocked fields, and
// it must decide the fd=-1 policy below before armWaits can be reached.
func (e *Engine) rebindAfter(status *operation.Status, err *error) {
	if *err != nil {
		return
	}
	e.ctrl.mu.Lock()
	defer e.ctrl.mu.Unlock()
	if e.ctrl.stopped {
		// Close already owns (or is tearing down) the binder; the stopped
		// checks in completeAndAdvance and in every callback make the rest
		// of this round a no-op, so the binder is not touched here.
		return
	}

	driverFD := e.handle.Socket()
	prevFD := e.binder.Socket().FD()
	if rebindErr := e.binder.Rebind(driverFD); rebindErr != nil {
		*err = pgerr.WrapSystemError(rebindErr)
		*status = operation.Done
		return
	}
	if driverFD < 0 && *status != operation.Done {
		// The driver reports no socket at all while the operation still
		// wants to read or write. Rebind has already closed the reactor
		// socket in this case, and arming a wait on a closed, unregistered
		// socket would deliver errClosed synchronously and inline
		// (onReadiness then drops it as a stale/cancelled wait), stranding
		// the operation with no further callback ever due. Fail it
		// outright instead of silently losing the completion.
		*err = pgerr.WrapSystemError(fmt.Errorf("driver reported no socket while operation awaited %v", *status))
		*status = operation.Done
		return
	}
	// Only a replacement of an already bound socket is reported; the
	// first binding and an unchanged binding are not rebinds.
	if sock := e.binder.Socket(); prevFD >= 0 && sock.IsOpen() && sock.FD() != prevFD {
		e.observer.SocketRebound(sock.FD())
	}
}

// safeBegin and safePerform isolate operation-method panics from the
// reactor worker (spec §9, "Exception-free paths"): a panicking begin or
// perform is converted into a LogicError instead of taking the worker
// down, since Go has no operation-local recover boundary otherwise.
func (e *Engine) safeBegin(op operation.Operation) (status operation.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, err = operation.Done, pgerr.NewLogicError(panicMessage(r))
		}
	}()
	return op.Begin(e.handle)
}

func (e *Engine) safePerform(op operation.Operation, readiness driver.Readiness) (status operation.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, err = operation.Done, pgerr.NewLogicError(panicMessage(r))
		}
	}()
	return op.Perform(e.handle, readiness)
}

func panicMessage(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return "operation panicked"
}
