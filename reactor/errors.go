package reactor

import "errors"

// errCancelled is delivered to a pending wait callback when Cancel runs
// before the readiness it was waiting for. errClosed is delivered when a
// wait is armed on a socket that has no assigned fd.
var (
	errCancelled = errors.New("reactor: wait cancelled")
	errClosed    = errors.New("reactor: socket not open")
)
