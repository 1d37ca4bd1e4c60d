// Package reactor declares the asynchronous I/O contract THE CORE
// consumes (spec §6: "reactor runtime... treated as an async I/O
// executor") and ships two concrete implementations, an epoll backend on
// Linux and a poll backend on other Unix systems, selected by New, so the
// engine is independently runnable and testable without a production
// reactor framework wired in.
package reactor

import "time"

// Family distinguishes the address family a duplicated socket was bound
// with, per spec §4.D ("tagged with the observed address family").
type Family int

const (
	IPv4 Family = iota
	IPv6
)

// Socket is a reactor-managed wrapper around a duplicated driver file
// descriptor. "Wait" calls report readiness only; they never transfer
// data (spec GLOSSARY: "Readiness wait").
type Socket interface {
	// Assign registers fd, tagged with family, as this socket's current
	// file descriptor. Assign takes ownership of fd: Close (or a later
	// Assign) will close it.
	Assign(family Family, fd int) error
	// Close closes the current file descriptor, if any, and leaves the
	// socket unassigned.
	Close() error
	// IsOpen reports whether a file descriptor is currently assigned.
	IsOpen() bool
	// FD returns the currently assigned descriptor, or -1.
	FD() int
	// Cancel cancels any pending readable/writable waits without
	// closing the socket.
	Cancel()
	// AsyncWaitReadable arms a one-shot readability wait; fn is invoked
	// (via the reactor's Scheduler) on completion or cancellation. On a
	// socket with no assigned fd, fn is called inline with an error.
	AsyncWaitReadable(fn func(error))
	// AsyncWaitWritable arms a one-shot writability wait.
	AsyncWaitWritable(fn func(error))
}

// Timer is a reactor-bound, cancellable one-shot timer.
type Timer interface {
	ExpiresAfter(d time.Duration)
	AsyncWait(fn func(error))
	Cancel()
}

// Scheduler enqueues a function for execution on a reactor worker. The
// engine's Add must never invoke operation methods on the caller's
// thread (spec §4.E); Scheduler.Schedule is how it hands off.
type Scheduler interface {
	Schedule(fn func())
}

// Reactor is the full contract the engine depends on: a way to schedule
// work, and factories for the two resources it binds per connection.
type Reactor interface {
	Scheduler
	NewSocket() Socket
	NewTimer() Timer
	// Close shuts down the reactor's worker(s) and releases any
	// OS-level resources. The returned Reactor must be closed with
	// Close once no longer needed.
	Close() error
}
