package pgerr

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeSQLState struct{ code string }

func (f fakeSQLState) Error() string    { return "fake: " + f.code }
func (f fakeSQLState) SQLState() string { return f.code }

func TestNewConnectionErrorStripsTrailingNewline(t *testing.T) {
	err := NewConnectionError("server closed the connection unexpectedly\n")
	if got := err.Error(); got != "pgreactor: connection_error: server closed the connection unexpectedly" {
		t.Fatalf("expected trailing newline stripped, got %q", got)
	}
	if IsConnectionError(err) == false {
		t.Fatal("expected IsConnectionError to match")
	}
}

func TestWrapConnectionErrorClassification(t *testing.T) {
	cause := fakeSQLState{code: "08006"}
	err := WrapConnectionError(cause)
	if !IsConnectionError(err) {
		t.Fatal("expected ConnectionError")
	}
	if got := err.Class(); got != ClassConnectionException {
		t.Fatalf("expected ClassConnectionException, got %q", got)
	}
	if !errors.Is(err, err) {
		t.Fatal("errors.Is should match itself")
	}
}

func TestClassUnknownWithoutSQLState(t *testing.T) {
	err := NewResultError("unexpected row count")
	if got := err.Class(); got != ClassUnknown {
		t.Fatalf("expected ClassUnknown, got %q", got)
	}
}

func TestTimedOutCarriesDuration(t *testing.T) {
	err := NewTimedOut(5 * time.Millisecond)
	if err.Duration != 5*time.Millisecond {
		t.Fatalf("expected 5ms, got %s", err.Duration)
	}
	if !IsTimedOut(err) {
		t.Fatal("expected IsTimedOut to match")
	}
}

func TestAbortedIsDistinctFromLogicError(t *testing.T) {
	a := NewAborted()
	l := NewLogicError("double attach")
	if IsLogicError(a) {
		t.Fatal("aborted must not be classified as logic error")
	}
	if IsAborted(l) {
		t.Fatal("logic error must not be classified as aborted")
	}
}

func TestSystemErrorWrapsCause(t *testing.T) {
	cause := errors.New("dup: too many open files")
	err := WrapSystemError(cause)
	if !IsSystemError(err) {
		t.Fatal("expected IsSystemError to match")
	}
	if !errors.Is(err.Unwrap(), cause) {
		t.Fatal("expected cause to unwrap to the original error")
	}
}

func TestKnownConnectionSQLStatesNonEmpty(t *testing.T) {
	if len(KnownConnectionSQLStates()) == 0 {
		t.Fatal("expected at least one known connection SQLSTATE")
	}
}

// TestWrapConnectionErrorMatchesRealPgError proves the sqlStater
// structural match works against the real driver error type, not just
// the fakeSQLState stand-in above: *pgconn.PgError satisfies sqlStater
// without this package importing pgconn directly.
func TestWrapConnectionErrorMatchesRealPgError(t *testing.T) {
	cause := &pgconn.PgError{Code: "57P01", Message: "terminating connection due to administrator command"}
	err := WrapConnectionError(cause)
	if !IsConnectionError(err) {
		t.Fatal("expected ConnectionError")
	}
	if got := err.Class(); got != ClassOperatorIntervention {
		t.Fatalf("expected ClassOperatorIntervention, got %q", got)
	}
}
