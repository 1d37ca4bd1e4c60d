//go:build !windows

package reactor

import (
	"sync"

	"golang.org/x/sys/unix"
)

// pollReactor is the portable fallback backend for platforms without
// epoll (darwin, the BSDs): a single run-loop goroutine rebuilds the
// pollfd set every iteration and calls unix.Poll, per spec §6's
// platform-neutral reactor contract note ("reference reactor ships at
// least one real backend; others may be added without touching engine").
type pollReactor struct {
	pool *workerPool

	mu      sync.Mutex
	sockets map[int]*pollSocket
	closed  bool
	wake    [2]int
}

// NewPollReactor starts a poll(2)-based reactor and its run loop.
func NewPollReactor(workers, queue int) (Reactor, error) {
	var wake [2]int
	if err := unix.Pipe2(wake[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	r := &pollReactor{
		pool:    newWorkerPool(workers, queue),
		sockets: make(map[int]*pollSocket),
		wake:    wake,
	}
	go r.loop()
	return r, nil
}

func (r *pollReactor) Schedule(fn func()) {
	r.pool.Schedule(fn)
}

func (r *pollReactor) NewTimer() Timer {
	return newTimer(r)
}

func (r *pollReactor) NewSocket() Socket {
	return &pollSocket{reactor: r, fd: -1}
}

func (r *pollReactor) snapshot() []unix.PollFd {
	r.mu.Lock()
	defer r.mu.Unlock()
	fds := make([]unix.PollFd, 0, len(r.sockets)+1)
	fds = append(fds, unix.PollFd{Fd: int32(r.wake[0]), Events: unix.POLLIN})
	for fd, s := range r.sockets {
		s.mu.Lock()
		var events int16
		if s.onRead != nil {
			events |= unix.POLLIN
		}
		if s.onWrite != nil {
			events |= unix.POLLOUT
		}
		s.mu.Unlock()
		if events != 0 {
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		}
	}
	return fds
}

func (r *pollReactor) loop() {
	for {
		fds := r.snapshot()
		n, err := unix.Poll(fds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n <= 0 {
			continue
		}
		for _, pfd := range fds {
			if pfd.Revents == 0 {
				continue
			}
			if int(pfd.Fd) == r.wake[0] {
				r.drainWake()
				r.mu.Lock()
				closed := r.closed
				r.mu.Unlock()
				if closed {
					return
				}
				continue
			}
			r.dispatch(int(pfd.Fd), pfd.Revents)
		}
	}
}

func (r *pollReactor) drainWake() {
	var buf [64]byte
	for {
		if _, err := unix.Read(r.wake[0], buf[:]); err != nil {
			return
		}
	}
}

func (r *pollReactor) dispatch(fd int, revents int16) {
	r.mu.Lock()
	sock, ok := r.sockets[fd]
	r.mu.Unlock()
	if !ok {
		return
	}
	sock.handleEvent(revents)
}

func (r *pollReactor) register(fd int, sock *pollSocket) {
	r.mu.Lock()
	r.sockets[fd] = sock
	r.mu.Unlock()
	unix.Write(r.wake[1], []byte{1})
}

func (r *pollReactor) unregister(fd int) {
	r.mu.Lock()
	delete(r.sockets, fd)
	r.mu.Unlock()
	unix.Write(r.wake[1], []byte{1})
}

func (r *pollReactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	unix.Write(r.wake[1], []byte{1})
	r.pool.Close()
	unix.Close(r.wake[0])
	return unix.Close(r.wake[1])
}

type pollSocket struct {
	reactor *pollReactor

	mu         sync.Mutex
	fd         int
	registered bool
	onRead     func(error)
	onWrite    func(error)
}

func (s *pollSocket) Assign(family Family, fd int) error {
	s.mu.Lock()
	if s.registered {
		s.mu.Unlock()
		s.Close()
		s.mu.Lock()
	}
	s.fd = fd
	s.registered = true
	s.mu.Unlock()
	s.reactor.register(fd, s)
	return nil
}

func (s *pollSocket) Close() error {
	s.mu.Lock()
	if !s.registered {
		s.mu.Unlock()
		return nil
	}
	fd := s.fd
	s.registered = false
	s.fd = -1
	s.onRead = nil
	s.onWrite = nil
	s.mu.Unlock()
	s.reactor.unregister(fd)
	return unix.Close(fd)
}

func (s *pollSocket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

func (s *pollSocket) FD() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registered {
		return -1
	}
	return s.fd
}

func (s *pollSocket) Cancel() {
	s.mu.Lock()
	read, write := s.onRead, s.onWrite
	s.onRead, s.onWrite = nil, nil
	s.mu.Unlock()
	if read != nil {
		s.reactor.Schedule(func() { read(errCancelled) })
	}
	if write != nil {
		s.reactor.Schedule(func() { write(errCancelled) })
	}
	s.reactor.mu.Lock()
	_, ok := s.reactor.sockets[s.fd]
	s.reactor.mu.Unlock()
	if ok {
		unix.Write(s.reactor.wake[1], []byte{1})
	}
}

func (s *pollSocket) AsyncWaitReadable(fn func(error)) {
	s.mu.Lock()
	if !s.registered {
		s.mu.Unlock()
		fn(errClosed)
		return
	}
	s.onRead = fn
	s.mu.Unlock()
	unix.Write(s.reactor.wake[1], []byte{1})
}

func (s *pollSocket) AsyncWaitWritable(fn func(error)) {
	s.mu.Lock()
	if !s.registered {
		s.mu.Unlock()
		fn(errClosed)
		return
	}
	s.onWrite = fn
	s.mu.Unlock()
	unix.Write(s.reactor.wake[1], []byte{1})
}

func (s *pollSocket) handleEvent(revents int16) {
	s.mu.Lock()
	var read, write func(error)
	if revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && s.onRead != nil {
		read = s.onRead
		s.onRead = nil
	}
	if revents&(unix.POLLOUT|unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && s.onWrite != nil {
		write = s.onWrite
		s.onWrite = nil
	}
	s.mu.Unlock()
	if read != nil {
		s.reactor.Schedule(func() { read(nil) })
	}
	if write != nil {
		s.reactor.Schedule(func() { write(nil) })
	}
}
