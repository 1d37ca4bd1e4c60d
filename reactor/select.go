package reactor

import "runtime"

// Backend names a concrete reactor implementation selectable from
// configuration, independent of the platform-specific build tags that
// back each one.
type Backend string

const (
	// BackendAuto picks epoll on linux and poll(2) everywhere else.
	BackendAuto Backend = "auto"
	// BackendEpoll forces the Linux epoll implementation.
	BackendEpoll Backend = "epoll"
	// BackendPoll forces the portable poll(2) implementation.
	BackendPoll Backend = "poll"
)

// New builds a Reactor for the requested backend, resolving "auto" to
// the best implementation for runtime.GOOS.
func New(backend Backend, workers, queue int) (Reactor, error) {
	resolved := backend
	if resolved == "" || resolved == BackendAuto {
		if runtime.GOOS == "linux" {
			resolved = BackendEpoll
		} else {
			resolved = BackendPoll
		}
	}

	switch resolved {
	case BackendEpoll:
		return NewEpollReactor(workers, queue)
	case BackendPoll:
		return NewPollReactor(workers, queue)
	default:
		return NewPollReactor(workers, queue)
	}
}
