// Package pgerr defines the typed error taxonomy raised by the engine and
// its operations: connection failures, unexpected results, timeouts,
// teardown aborts, and programmer misuse.
package pgerr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
)

// Class is a coarse SQLSTATE classification, derived from the error's
// two-character class prefix (see the Postgres "Appendix A. PostgreSQL
// Error Codes"). It exists so callers can make broad retry/no-retry
// decisions without parsing driver-specific error text.
type Class string

const (
	// ClassUnknown is used when no SQLSTATE could be recovered from the cause.
	ClassUnknown Class = ""
	// ClassConnectionException covers SQLSTATE class 08.
	ClassConnectionException Class = "connection_exception"
	// ClassOperatorIntervention covers SQLSTATE class 57 (admin shutdown, crash recovery).
	ClassOperatorIntervention Class = "operator_intervention"
	// ClassInsufficientResources covers SQLSTATE class 53.
	ClassInsufficientResources Class = "insufficient_resources"
	// ClassSystemError covers SQLSTATE class 58 and XX (internal/data corruption).
	ClassSystemError Class = "system_error"
	// ClassOther covers any other recognized SQLSTATE class.
	ClassOther Class = "other"
)

func classify(sqlstate string) Class {
	if len(sqlstate) < 2 {
		return ClassUnknown
	}
	switch sqlstate[:2] {
	case "08":
		return ClassConnectionException
	case "57":
		return ClassOperatorIntervention
	case "53":
		return ClassInsufficientResources
	case "58", "XX":
		return ClassSystemError
	default:
		return ClassOther
	}
}

// sqlStater is implemented by *pgconn.PgError; matched structurally so
// this package never needs to import pgconn directly.
type sqlStater interface {
	SQLState() string
}

// baseError is the common shape shared by every taxonomy member: a message,
// an optional wrapped cause, and (when derivable) a SQLSTATE class.
type baseError struct {
	kind  string
	msg   string
	cause error
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("pgreactor: %s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("pgreactor: %s: %s", e.kind, e.msg)
}

func (e *baseError) Unwrap() error { return e.cause }

// Class reports the SQLSTATE classification of the error's cause, if any.
func (e *baseError) Class() Class {
	var s sqlStater
	if errors.As(e.cause, &s) {
		return classify(s.SQLState())
	}
	return ClassUnknown
}

// stripTrailing removes the trailing newline/carriage-return sequence
// libpq-style error messages carry, per spec §7.
func stripTrailing(s string) string {
	return strings.TrimRight(s, "\r\n")
}

// ConnectionError wraps a driver-reported connection failure: a bad
// status, a failed poll, a failed flush, a failed consume-input, or a
// failed send.
type ConnectionError struct{ *baseError }

// NewConnectionError builds a ConnectionError from the driver's raw error
// message, stripping trailing newline/CR as required by spec §7.
func NewConnectionError(message string) *ConnectionError {
	return &ConnectionError{&baseError{kind: "connection_error", msg: stripTrailing(message)}}
}

// WrapConnectionError builds a ConnectionError around an existing cause
// (e.g. a *pgconn.PgError or an address-family lookup failure).
func WrapConnectionError(cause error) *ConnectionError {
	return &ConnectionError{&baseError{kind: "connection_error", msg: stripTrailing(cause.Error()), cause: cause}}
}

// ResultError indicates a result whose status was not what the query
// subclass expected (e.g. neither CommandOK nor TuplesOK).
type ResultError struct{ *baseError }

// NewResultError builds a ResultError from the driver's raw result error message.
func NewResultError(message string) *ResultError {
	return &ResultError{&baseError{kind: "result_error", msg: stripTrailing(message)}}
}

// WrapResultError builds a ResultError around an existing cause.
func WrapResultError(cause error) *ResultError {
	return &ResultError{&baseError{kind: "result_error", msg: stripTrailing(cause.Error()), cause: cause}}
}

// Aborted is delivered to every operation (current and pending) when the
// engine is torn down before the operation could complete.
type Aborted struct{ *baseError }

// NewAborted constructs the sentinel abort error delivered at teardown.
func NewAborted() *Aborted {
	return &Aborted{&baseError{kind: "aborted", msg: "connection torn down before operation completed"}}
}

// TimedOut is delivered when an operation's per-operation timeout elapses
// before it completes.
type TimedOut struct {
	*baseError
	Duration time.Duration
}

// NewTimedOut constructs a TimedOut error carrying the elapsed duration.
func NewTimedOut(d time.Duration) *TimedOut {
	return &TimedOut{
		baseError: &baseError{kind: "timed_out", msg: fmt.Sprintf("operation exceeded timeout of %s", d)},
		Duration: d,
	}
}

// LogicError indicates programmer misuse: reattaching a moved-from
// connect operation, or receiving a result a query subclass did not
// expect to receive.
type LogicError struct{ *baseError }

// NewLogicError constructs a LogicError with the given message.
func NewLogicError(message string) *LogicError {
	return &LogicError{&baseError{kind: "logic_error", msg: message}}
}

// SystemError indicates that socket duplication or a local-address query
// failed at the OS level.
type SystemError struct{ *baseError }

// WrapSystemError builds a SystemError around an OS-level cause (e.g. a
// dup(2) or getsockname(2) failure).
func WrapSystemError(cause error) *SystemError {
	return &SystemError{&baseError{kind: "system_error", msg: stripTrailing(cause.Error()), cause: cause}}
}

// Is* helpers let callers branch on taxonomy membership without a type
// switch, mirroring the errors.Is idiom.

func IsConnectionError(err error) bool { var t *ConnectionError; return errors.As(err, &t) }
func IsResultError(err error) bool     { var t *ResultError; return errors.As(err, &t) }
func IsAborted(err error) bool         { var t *Aborted; return errors.As(err, &t) }
func IsTimedOut(err error) bool        { var t *TimedOut; return errors.As(err, &t) }
func IsLogicError(err error) bool      { var t *LogicError; return errors.As(err, &t) }
func IsSystemError(err error) bool     { var t *SystemError; return errors.As(err, &t) }

// wellKnownConnectionClasses documents the SQLSTATE class codes this
// package recognizes as connection-level failures, named via pgerrcode
// for readability; classification itself uses the raw class prefix (see
// classify) so it does not depend on pgerrcode's exact constant surface.
var wellKnownConnectionClasses = []string{
	pgerrcode.ConnectionException,
	pgerrcode.ConnectionDoesNotExist,
	pgerrcode.ConnectionFailure,
	pgerrcode.SQLClientUnableToEstablishSQLConnection,
	pgerrcode.SQLServerRejectedEstablishmentOfSQLConnection,
	pgerrcode.TransactionResolutionUnknown,
}

// KnownConnectionSQLStates exposes the SQLSTATE codes pgreactor treats as
// unambiguous connection failures, for callers building their own retry
// policy on top of Class.
func KnownConnectionSQLStates() []string {
	out := make([]string, len(wellKnownConnectionClasses))
	copy(out, wellKnownConnectionClasses)
	return out
}
