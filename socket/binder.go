// Package socket implements the binder that keeps a reactor-managed
// socket consistent with a driver handle's current file descriptor
// (spec §4.D), duplicating the driver FD so the reactor and the driver
// hold independently closable descriptors to the same underlying
// connection.
package socket

import (
	"fmt"

	"github.com/coachpo/pgreactor/reactor"
)

// Duplicator is the platform hook that produces an independent, reactor
// owned duplicate of a driver-owned file descriptor, along with the
// address family it is bound to and an identity token used for the
// rebind tie-break described in spec §4.D. Linux/darwin implementations
// use dup(2) + getsockname(2); windows uses WSADuplicateSocket.
type Duplicator interface {
	// Duplicate produces a new, independently closable descriptor for
	// driverFD, plus its address family and an identity token.
	Duplicate(driverFD int) (dupFD int, family reactor.Family, token int64, err error)
	// Identify returns the same token Duplicate would report for
	// driverFD, without duplicating it. Used to cheaply detect the OS
	// having recycled a numerically equal FD for a different
	// connection (spec §4.D's identity tie-break).
	Identify(driverFD int) (token int64, err error)
}

// Binder owns the rebind algorithm: on every call it compares the
// driver's current FD against what the reactor socket was last bound
// to, and re-duplicates only when they have diverged.
type Binder struct {
	dup     Duplicator
	sock    reactor.Socket
	boundFD int
	token   int64
	bound   bool
}

// New constructs a binder around a fresh reactor socket obtained from r.
func New(r reactor.Reactor, dup Duplicator) *Binder {
	return &Binder{dup: dup, sock: r.NewSocket(), boundFD: -1}
}

// Socket returns the reactor socket the binder keeps rebound.
func (b *Binder) Socket() reactor.Socket {
	return b.sock
}

// Rebind applies the algorithm in spec §4.D: given the driver's current
// FD, it leaves an already-current binding untouched, closes the socket
// when the driver reports no FD, or duplicates and re-registers when the
// driver has swapped its underlying connection.
func (b *Binder) Rebind(driverFD int) error {
	if driverFD < 0 {
		if b.bound {
			b.sock.Close()
			b.bound = false
			b.boundFD = -1
		}
		return nil
	}

	if b.bound && b.boundFD == driverFD {
		token, err := b.dup.Identify(driverFD)
		if err != nil {
			return fmt.Errorf("socket: identify driver fd: %w", err)
		}
		if token == b.token {
			return nil
		}
		// Numerical FD match but token mismatch: the OS recycled this
		// number for a different underlying connection. Fall through
		// to a full rebind.
	}

	dupFD, family, token, err := b.dup.Duplicate(driverFD)
	if err != nil {
		return fmt.Errorf("socket: duplicate driver fd: %w", err)
	}

	if b.bound {
		b.sock.Close()
	}
	if err := b.sock.Assign(family, dupFD); err != nil {
		return fmt.Errorf("socket: assign duplicated fd: %w", err)
	}
	b.boundFD = driverFD
	b.token = token
	b.bound = true
	return nil
}

// Close releases the reactor socket, if bound.
func (b *Binder) Close() error {
	if !b.bound {
		return nil
	}
	b.bound = false
	return b.sock.Close()
}
