//go:build !windows

package socket

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/coachpo/pgreactor/reactor"
)

// UnixDuplicator implements Duplicator with dup(2) and getsockname(2),
// the POSIX half of spec §4.D's "native duplication routine" note.
type UnixDuplicator struct{}

func (UnixDuplicator) Duplicate(driverFD int) (int, reactor.Family, int64, error) {
	family, token, err := identify(driverFD)
	if err != nil {
		return -1, 0, 0, err
	}
	dupFD, err := unix.Dup(driverFD)
	if err != nil {
		return -1, 0, 0, fmt.Errorf("socket: dup: %w", err)
	}
	if err := unix.SetNonblock(dupFD, true); err != nil {
		unix.Close(dupFD)
		return -1, 0, 0, fmt.Errorf("socket: set nonblock on duplicate: %w", err)
	}
	return dupFD, family, token, nil
}

func (UnixDuplicator) Identify(driverFD int) (int64, error) {
	_, token, err := identify(driverFD)
	return token, err
}

// identify reports the socket's address family and an inode-derived
// identity token via getsockname/Fstat, so the binder can tell an
// unchanged FD apart from a numerically recycled one.
func identify(fd int) (reactor.Family, int64, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, 0, fmt.Errorf("socket: getsockname: %w", err)
	}
	var family reactor.Family
	switch sa.(type) {
	case *unix.SockaddrInet6:
		family = reactor.IPv6
	default:
		family = reactor.IPv4
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return 0, 0, fmt.Errorf("socket: fstat: %w", err)
	}
	return family, int64(stat.Ino), nil
}
