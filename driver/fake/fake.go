// Package fake is a test double for the driver contract (package driver).
// It is deliberately not a Postgres wire-protocol client: it owns a real
// loopback TCP socket so the socket binder and reactor are exercised
// against a genuine file descriptor, but the connect/reset/query
// progression itself is driven by a caller-supplied script so tests can
// force every branch spec.md §8 names (happy path, failed connect,
// timeout, mid-batch teardown, socket rebind, unexpected result).
package fake

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/coachpo/pgreactor/driver"
)

// Step is one scripted PQconnectPoll/PQresetPoll return value.
type Step struct {
	Status  driver.PollStatus
	Message string // used only when Status == driver.PollFailed
	// DropSocket closes and clears the handle's socket fd as this step is
	// consumed, simulating the driver reporting no socket (Socket() < 0)
	// while Status still asks for more I/O. Used to exercise the engine's
	// fd=-1-mid-operation handling.
	DropSocket bool
}

// Handle is the fake libpq-style connection handle.
type Handle struct {
	mu sync.Mutex

	fd       int
	finished bool

	connectScript []Step
	connectAt     int

	resetScript []Step
	resetAt     int

	store *Store

	pendingResults []driver.Result
	flushErr       error
	sendFailNext   bool
	swapAddr       string
}

// Dial creates a fake handle backed by a real non-blocking TCP socket
// connected (possibly still in progress) to addr. connectScript is
// consumed one entry per ConnectPoll call, matching one-to-one with
// PQconnectPoll invocations in the real protocol.
func Dial(addr string, connectScript []Step) (*Handle, error) {
	fd, err := dialNonblocking(addr)
	if err != nil {
		return nil, err
	}
	return &Handle{fd: fd, connectScript: connectScript, store: NewStore()}, nil
}

func dialNonblocking(addr string) (int, error) {
	host, portStr, err := splitHostPort(addr)
	if err != nil {
		return -1, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return -1, fmt.Errorf("fake: invalid port %q: %w", portStr, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("fake: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("fake: set nonblock: %w", err)
	}

	var addr4 [4]byte
	copy(addr4[:], host)
	sa := &unix.SockaddrInet4{Port: port, Addr: addr4}

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("fake: connect: %w", err)
	}
	return fd, nil
}

func splitHostPort(addr string) (host string, port string, err error) {
	idx := strings.LastIndexByte(addr, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("fake: address %q missing port", addr)
	}
	hostPart := addr[:idx]
	if hostPart == "" || hostPart == "localhost" {
		return "\x7f\x00\x00\x01", addr[idx+1:], nil // 127.0.0.1
	}
	parts := strings.Split(hostPart, ".")
	if len(parts) != 4 {
		return "", "", fmt.Errorf("fake: only literal IPv4 loopback addresses are supported, got %q", hostPart)
	}
	buf := make([]byte, 0, 4)
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return "", "", fmt.Errorf("fake: invalid IPv4 octet %q", p)
		}
		buf = append(buf, byte(n))
	}
	return string(buf), addr[idx+1:], nil
}

// Status always reports StatusOK for a successfully dialed handle; a
// construction-time failure never produces a Handle at all (Dial returns
// an error instead), matching libpq's "handle with status bad" being a
// distinct, rarer failure mode than an in-progress connect later failing.
func (h *Handle) Status() driver.ConnStatus {
	return driver.StatusOK
}

func (h *Handle) SetNonblocking(nonblocking bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd < 0 {
		return fmt.Errorf("fake: socket already closed")
	}
	return unix.SetNonblock(h.fd, nonblocking)
}

func (h *Handle) ConnectPoll() driver.PollStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return nextStep(&h.connectScript, &h.connectAt, h)
}

func (h *Handle) StartReset() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetAt = 0
	return len(h.resetScript) > 0
}

// SetResetScript configures the sequence ResetPoll will walk; call before
// submitting the Reset operation.
func (h *Handle) SetResetScript(steps []Step) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetScript = steps
	h.resetAt = 0
}

func (h *Handle) ResetPoll() driver.PollStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := nextStep(&h.resetScript, &h.resetAt, h)
	if status == driver.PollOK && h.swapAddr != "" {
		h.applySwap()
	}
	return status
}

// SwapSocketOnReset arranges for the next ResetPoll call that returns
// PollOK to close the current socket and dial a fresh one against addr,
// modelling the driver replacing its underlying FD during a reset (spec
// §8 scenario 5, "socket rebind").
func (h *Handle) SwapSocketOnReset(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.swapAddr = addr
}

func (h *Handle) applySwap() {
	newFD, err := dialNonblocking(h.swapAddr)
	h.swapAddr = ""
	if err != nil {
		return
	}
	if h.fd >= 0 {
		_ = unix.Close(h.fd)
	}
	h.fd = newFD
}

func nextStep(script *[]Step, at *int, h *Handle) driver.PollStatus {
	s := *script
	if *at >= len(s) {
		if len(s) == 0 {
			return driver.PollFailed
		}
		return s[len(s)-1].Status
	}
	step := s[*at]
	*at++
	if step.DropSocket && h.fd >= 0 {
		_ = unix.Close(h.fd)
		h.fd = -1
	}
	return step.Status
}

// LastFailureMessage reports the message of the most recently consumed
// failing step, if any, across either script.
func (h *Handle) LastFailureMessage() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connectAt > 0 && h.connectAt <= len(h.connectScript) {
		if s := h.connectScript[h.connectAt-1]; s.Status == driver.PollFailed {
			return s.Message
		}
	}
	if h.resetAt > 0 && h.resetAt <= len(h.resetScript) {
		if s := h.resetScript[h.resetAt-1]; s.Status == driver.PollFailed {
			return s.Message
		}
	}
	return "connection failed"
}

func (h *Handle) Socket() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fd
}

// FailNextSend forces the next SendQuery call to fail, for exercising the
// connection-error path out of Query.begin.
func (h *Handle) FailNextSend() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendFailNext = true
}

func (h *Handle) SendQuery(sql string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendFailNext {
		h.sendFailNext = false
		return false
	}
	// A handle whose last connect poll failed never became usable:
	// nothing is sent on it.
	if h.connectAt > 0 && h.connectScript[h.connectAt-1].Status == driver.PollFailed {
		return false
	}
	result, err := h.store.Exec(sql)
	if err != nil {
		h.flushErr = err
		h.pendingResults = nil
	} else {
		h.flushErr = nil
		h.pendingResults = []driver.Result{result}
	}
	// Write a single sentinel byte on the real socket so a genuine
	// reactor observes readability once the fake peer echoes it back;
	// the byte carries no protocol meaning.
	if h.fd >= 0 {
		_, _ = unix.Write(h.fd, []byte{1})
	}
	return true
}

func (h *Handle) Flush() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return true, nil
}

func (h *Handle) ConsumeInput() error {
	h.mu.Lock()
	fd := h.fd
	h.mu.Unlock()
	if fd < 0 {
		return nil
	}
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return nil
		}
	}
}

func (h *Handle) IsBusy() bool {
	return false
}

func (h *Handle) GetResult() (driver.Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.flushErr != nil {
		err := h.flushErr
		h.flushErr = nil
		return &errResult{msg: err.Error()}, true
	}
	if len(h.pendingResults) == 0 {
		return nil, false
	}
	r := h.pendingResults[0]
	h.pendingResults = h.pendingResults[1:]
	return r, true
}

func (h *Handle) ErrorMessage() string {
	return h.LastFailureMessage()
}

func (h *Handle) Finish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		panic("fake: Finish called more than once")
	}
	h.finished = true
	if h.fd >= 0 {
		_ = unix.Close(h.fd)
		h.fd = -1
	}
}

// Finished reports whether Finish has been called, for test assertions.
func (h *Handle) Finished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finished
}

var whitespace = regexp.MustCompile(`\s+`)

func normalize(sql string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(sql, " "))
}
