//go:build windows

package reactor

import "errors"

// NewEpollReactor and NewPollReactor are Linux/portable-unix backends;
// windows has no registered implementation in this tree. The duplication
// half of the socket-binder contract (socket/dup_windows.go,
// WSADuplicateSocket) is platform code that can ship independently of a
// windows reactor backend, so it is not gated on this.
func NewEpollReactor(workers, queue int) (Reactor, error) {
	return nil, errors.New("reactor: epoll backend unavailable on windows")
}

func NewPollReactor(workers, queue int) (Reactor, error) {
	return nil, errors.New("reactor: poll backend unavailable on windows")
}
