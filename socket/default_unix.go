//go:build !windows

package socket

// NewDefaultDuplicator returns the platform-appropriate Duplicator.
func NewDefaultDuplicator() Duplicator {
	return UnixDuplicator{}
}
