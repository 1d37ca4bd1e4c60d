// Package driver declares the contract THE CORE consumes from an opaque,
// libpq-style PostgreSQL client library: a non-blocking connection handle
// driven by a ternary (readable/writable/done) polling protocol.
//
// Nothing in this package talks to a real server. A production binding
// (cgo-wrapped libpq, or a pure-Go wire-protocol client) is explicitly out
// of scope for this module (see spec §1); driver/fake ships the only
// concrete implementation, used by every test.
package driver

// ConnStatus mirrors libpq's PQstatus/CONNECTION_BAD sentinel.
type ConnStatus int

const (
	StatusOK ConnStatus = iota
	StatusBad
)

// PollStatus mirrors the PGRES_POLLING_* enumeration returned by
// PQconnectPoll/PQresetPoll.
type PollStatus int

const (
	PollWriting PollStatus = iota
	PollReading
	PollOK
	PollFailed
)

// Readiness names which socket readiness triggered a Perform call.
type Readiness int

const (
	Readable Readiness = iota
	Writable
)

func (r Readiness) String() string {
	if r == Writable {
		return "writable"
	}
	return "readable"
}

// ResultStatus mirrors a narrow, engine-irrelevant subset of libpq's
// ExecStatusType; only query operation subclasses inspect it.
type ResultStatus int

const (
	ResultCommandOK ResultStatus = iota
	ResultTuplesOK
	ResultEmptyQuery
	ResultBadResponse
	ResultFatalError
)

// Result is the driver's handle to a single command result (PGresult*).
// The engine never calls Clear; the query operation that received the
// result owns that responsibility on every code path, including panics.
type Result interface {
	Status() ResultStatus
	NTuples() int
	NFields() int
	GetValue(row, col int) string
	ErrorMessage() string
	Clear()
}

// Handle is the non-blocking libpq connection contract (PGconn*)
// THE CORE drives. The sentinel FD for "no socket" is -1, matching
// PQsocket's documented failure value.
type Handle interface {
	// Status reports the connection's current coarse status.
	Status() ConnStatus
	// SetNonblocking puts the handle into (or out of) non-blocking mode.
	SetNonblocking(nonblocking bool) error
	// ConnectPoll drives PQconnectPoll's state machine one step.
	ConnectPoll() PollStatus
	// StartReset initiates PQresetStart; ok is false on failure.
	StartReset() (ok bool)
	// ResetPoll drives PQresetPoll's state machine one step.
	ResetPoll() PollStatus
	// Socket returns the current underlying file descriptor, or -1.
	Socket() int
	// SendQuery dispatches PQsendQuery; ok is false on failure.
	SendQuery(sql string) (ok bool)
	// Flush drives PQflush. done is true when the send buffer drained
	// completely (PQflush returned 0); err is non-nil for any other
	// return value than 0 or 1.
	Flush() (done bool, err error)
	// ConsumeInput drives PQconsumeInput.
	ConsumeInput() error
	// IsBusy reports PQisBusy.
	IsBusy() bool
	// GetResult drives PQgetResult. A nil result with ok=false signals
	// that the command is done (PQgetResult returned NULL).
	GetResult() (result Result, ok bool)
	// ErrorMessage drives PQerrorMessage.
	ErrorMessage() string
	// Finish drives PQfinish. Called exactly once, by the engine, at
	// teardown.
	Finish()
}
