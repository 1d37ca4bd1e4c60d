//go:build linux

package socket

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/coachpo/pgreactor/reactor"
)

type stubDuplicator struct {
	calls     int
	failNext  bool
	nextToken int64
}

func (d *stubDuplicator) Duplicate(driverFD int) (int, reactor.Family, int64, error) {
	d.calls++
	if d.failNext {
		d.failNext = false
		return -1, 0, 0, errors.New("duplicate failed")
	}
	dup, err := unix.Dup(driverFD)
	if err != nil {
		return -1, 0, 0, err
	}
	unix.SetNonblock(dup, true)
	d.nextToken++
	return dup, reactor.IPv4, d.nextToken, nil
}

func (d *stubDuplicator) Identify(driverFD int) (int64, error) {
	return d.nextToken, nil
}

func newSocketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	return fds[0], fds[1]
}

func TestBinderRebindsOnNewFD(t *testing.T) {
	r, err := reactor.NewEpollReactor(1, 1)
	if err != nil {
		t.Fatalf("NewEpollReactor: %v", err)
	}
	defer r.Close()

	dup := &stubDuplicator{}
	b := New(r, dup)
	defer b.Close()

	a, peer := newSocketpair(t)
	defer unix.Close(a)
	defer unix.Close(peer)

	if err := b.Rebind(a); err != nil {
		t.Fatalf("Rebind: %v", err)
	}
	if dup.calls != 1 {
		t.Fatalf("expected 1 duplicate call, got %d", dup.calls)
	}
	if !b.Socket().IsOpen() {
		t.Fatal("expected reactor socket open after rebind")
	}
}

func TestBinderSkipsRedundantRebind(t *testing.T) {
	r, err := reactor.NewEpollReactor(1, 1)
	if err != nil {
		t.Fatalf("NewEpollReactor: %v", err)
	}
	defer r.Close()

	dup := &stubDuplicator{}
	b := New(r, dup)
	defer b.Close()

	a, peer := newSocketpair(t)
	defer unix.Close(a)
	defer unix.Close(peer)

	if err := b.Rebind(a); err != nil {
		t.Fatalf("first Rebind: %v", err)
	}
	if err := b.Rebind(a); err != nil {
		t.Fatalf("second Rebind: %v", err)
	}
	if dup.calls != 1 {
		t.Fatalf("expected rebind to be skipped on unchanged fd, got %d duplicate calls", dup.calls)
	}
}

func TestBinderRebindsOnTokenMismatch(t *testing.T) {
	r, err := reactor.NewEpollReactor(1, 1)
	if err != nil {
		t.Fatalf("NewEpollReactor: %v", err)
	}
	defer r.Close()

	dup := &stubDuplicator{}
	b := New(r, dup)
	defer b.Close()

	a, peer := newSocketpair(t)
	defer unix.Close(a)
	defer unix.Close(peer)

	if err := b.Rebind(a); err != nil {
		t.Fatalf("first Rebind: %v", err)
	}
	// Simulate the OS recycling fd number `a` for an unrelated
	// connection: Identify now reports a different token.
	dup.nextToken++
	if err := b.Rebind(a); err != nil {
		t.Fatalf("second Rebind: %v", err)
	}
	if dup.calls != 2 {
		t.Fatalf("expected token mismatch to force a re-duplicate, got %d calls", dup.calls)
	}
}

func TestBinderClosesOnNegativeFD(t *testing.T) {
	r, err := reactor.NewEpollReactor(1, 1)
	if err != nil {
		t.Fatalf("NewEpollReactor: %v", err)
	}
	defer r.Close()

	dup := &stubDuplicator{}
	b := New(r, dup)
	defer b.Close()

	a, peer := newSocketpair(t)
	defer unix.Close(a)
	defer unix.Close(peer)

	if err := b.Rebind(a); err != nil {
		t.Fatalf("Rebind: %v", err)
	}
	if err := b.Rebind(-1); err != nil {
		t.Fatalf("Rebind(-1): %v", err)
	}
	if b.Socket().IsOpen() {
		t.Fatal("expected reactor socket closed after negative fd")
	}
}

func TestBinderPropagatesDuplicateFailure(t *testing.T) {
	r, err := reactor.NewEpollReactor(1, 1)
	if err != nil {
		t.Fatalf("NewEpollReactor: %v", err)
	}
	defer r.Close()

	dup := &stubDuplicator{failNext: true}
	b := New(r, dup)
	defer b.Close()

	a, peer := newSocketpair(t)
	defer unix.Close(a)
	defer unix.Close(peer)

	if err := b.Rebind(a); err == nil {
		t.Fatal("expected duplicate failure to propagate")
	}
}
