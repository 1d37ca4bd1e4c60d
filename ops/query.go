package ops

import (
	"time"

	"github.com/coachpo/pgreactor/driver"
	"github.com/coachpo/pgreactor/operation"
	"github.com/coachpo/pgreactor/pgerr"
)

// Extractor pulls a typed value out of a single driver result, taking
// ownership of it (it must call Clear on every path, which Query does on
// the caller's behalf). It is the overridable "on_result" hook from spec
// §4.H, generalized with a Go generic parameter instead of subclassing;
// the engine and this package still decode nothing themselves, matching
// the "no query result decoder" non-goal — decoding logic lives entirely
// in the caller-supplied Extractor.
type Extractor[T any] func(result driver.Result) (T, error)

// Query is the send/flush/consume-input/read-results sub-state-machine
// (spec §4.H). The zero value is not usable; construct with NewQuery.
type Query[T any] struct {
	sql        string
	hasTimeout bool
	timeout    time.Duration
	flushed    bool
	extract    Extractor[T]
	rows       []T
	completion *operation.Completion[[]T]
}

// NewQuery constructs a query for sql. extract is called once per result
// row-set the driver returns; a nil extract defaults to spec §4.H's
// described default ("release result and raise a logic error").
func NewQuery[T any](sql string, extract Extractor[T]) *Query[T] {
	if extract == nil {
		extract = func(driver.Result) (T, error) {
			var zero T
			return zero, pgerr.NewLogicError("query: unexpected result; no extractor configured")
		}
	}
	return &Query[T]{
		sql:        sql,
		extract:    extract,
		completion: operation.NewCompletion[[]T](),
	}
}

func (q *Query[T]) WithTimeout(d time.Duration) *Query[T] {
	q.hasTimeout = true
	q.timeout = d
	return q
}

// Completion returns the one-shot receiver for this query's extracted
// rows, one per result the driver returned before signalling done.
func (q *Query[T]) Completion() *operation.Completion[[]T] {
	return q.completion
}

func (q *Query[T]) Timeout() (time.Duration, bool) {
	return q.timeout, q.hasTimeout
}

func (q *Query[T]) Begin(handle driver.Handle) (operation.Status, error) {
	if !handle.SendQuery(q.sql) {
		return operation.Done, pgerr.NewConnectionError(handle.ErrorMessage())
	}
	return q.flush(handle)
}

// flush drives PQflush's ternary result into flushed/status, per spec
// §4.H: 0 -> flushed, next is read; 1 -> not flushed, next is read_write;
// anything else is a connection error.
func (q *Query[T]) flush(handle driver.Handle) (operation.Status, error) {
	done, err := handle.Flush()
	if err != nil {
		return operation.Done, pgerr.WrapConnectionError(err)
	}
	q.flushed = done
	if done {
		return operation.Read, nil
	}
	return operation.ReadWrite, nil
}

func (q *Query[T]) Perform(handle driver.Handle, readiness driver.Readiness) (operation.Status, error) {
	if !q.flushed {
		if readiness == driver.Readable {
			if err := handle.ConsumeInput(); err != nil {
				return operation.Done, pgerr.WrapConnectionError(err)
			}
		}
		return q.flush(handle)
	}

	if err := handle.ConsumeInput(); err != nil {
		return operation.Done, pgerr.WrapConnectionError(err)
	}
	for !handle.IsBusy() {
		result, ok := handle.GetResult()
		if !ok {
			return operation.Done, nil
		}
		if err := q.consume(result); err != nil {
			return operation.Done, err
		}
	}
	return operation.Read, nil
}

// consume releases result on every path, including when extract panics
// or errors, matching spec §4.H's "must release it on all paths".
func (q *Query[T]) consume(result driver.Result) (err error) {
	defer result.Clear()
	defer func() {
		if r := recover(); r != nil {
			err = pgerr.NewLogicError("query: extractor panicked")
		}
	}()
	value, extractErr := q.extract(result)
	if extractErr != nil {
		return extractErr
	}
	q.rows = append(q.rows, value)
	return nil
}

func (q *Query[T]) Complete(err error) {
	if err != nil {
		q.completion.Fail(err)
		return
	}
	q.completion.Fulfill(q.rows)
}
