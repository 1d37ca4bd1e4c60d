//go:build linux

package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("set nonblock: %v", err)
		}
	}
	return fds[0], fds[1]
}

func TestEpollReactorWaitWritableFiresImmediately(t *testing.T) {
	r, err := NewEpollReactor(2, 4)
	if err != nil {
		t.Fatalf("NewEpollReactor: %v", err)
	}
	defer r.Close()

	a, b := socketpair(t)
	defer unix.Close(b)

	sock := r.NewSocket()
	if err := sock.Assign(IPv4, a); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	defer sock.Close()

	done := make(chan error, 1)
	sock.AsyncWaitWritable(func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected writable with nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("writable wait never fired")
	}
}

func TestEpollReactorWaitReadableFiresOnPeerWrite(t *testing.T) {
	r, err := NewEpollReactor(2, 4)
	if err != nil {
		t.Fatalf("NewEpollReactor: %v", err)
	}
	defer r.Close()

	a, b := socketpair(t)
	defer unix.Close(b)

	sock := r.NewSocket()
	if err := sock.Assign(IPv4, a); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	defer sock.Close()

	done := make(chan error, 1)
	sock.AsyncWaitReadable(func(err error) { done <- err })

	if _, werr := unix.Write(b, []byte{1}); werr != nil {
		t.Fatalf("peer write: %v", werr)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected readable with nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("readable wait never fired")
	}
}

func TestEpollSocketCancelDeliversCancelledError(t *testing.T) {
	r, err := NewEpollReactor(2, 4)
	if err != nil {
		t.Fatalf("NewEpollReactor: %v", err)
	}
	defer r.Close()

	a, b := socketpair(t)
	defer unix.Close(b)

	sock := r.NewSocket()
	if err := sock.Assign(IPv4, a); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	defer sock.Close()

	done := make(chan error, 1)
	sock.AsyncWaitReadable(func(err error) { done <- err })
	sock.Cancel()

	select {
	case err := <-done:
		if err != errCancelled {
			t.Fatalf("expected errCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled wait never delivered")
	}
}

func TestEpollSocketCloseMarksNotOpen(t *testing.T) {
	r, err := NewEpollReactor(1, 1)
	if err != nil {
		t.Fatalf("NewEpollReactor: %v", err)
	}
	defer r.Close()

	a, b := socketpair(t)
	defer unix.Close(b)

	sock := r.NewSocket()
	if err := sock.Assign(IPv4, a); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if !sock.IsOpen() {
		t.Fatal("expected socket open after Assign")
	}
	if err := sock.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sock.IsOpen() {
		t.Fatal("expected socket closed")
	}
	if sock.FD() != -1 {
		t.Fatalf("expected FD -1 after close, got %d", sock.FD())
	}
}
