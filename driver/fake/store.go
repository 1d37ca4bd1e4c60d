package fake

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/coachpo/pgreactor/driver"
)

// Store is a tiny in-memory single-table SQL engine sufficient to run the
// literal batch from spec §8 scenario 1: CREATE TABLE, INSERT, SELECT
// COUNT(*), SELECT MIN(). It is not, and does not try to be, a general
// SQL engine.
type Store struct {
	mu      sync.Mutex
	created bool
	values  []int64
}

// NewStore returns an empty table store.
func NewStore() *Store {
	return &Store{}
}

var (
	reCreateTable = regexp.MustCompile(`(?i)^CREATE TABLE "test" \("foo" int\)$`)
	reInsert      = regexp.MustCompile(`(?i)^INSERT INTO "test" \("foo"\) VALUES \((-?\d+)\)$`)
	reSelectCount = regexp.MustCompile(`(?i)^SELECT COUNT\(\*\) FROM "test"$`)
	reSelectMin   = regexp.MustCompile(`(?i)^SELECT MIN\("foo"\) FROM "test"$`)
)

// Exec interprets sql and returns the corresponding fake Result, or an
// error carrying the message a real server would put in a result's error
// text for a statement this store cannot recognize.
func (s *Store) Exec(sql string) (driver.Result, error) {
	stmt := normalize(sql)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case reCreateTable.MatchString(stmt):
		s.created = true
		s.values = s.values[:0]
		return &commandResult{tag: "CREATE TABLE"}, nil

	case reInsert.MatchString(stmt):
		if !s.created {
			return nil, fmt.Errorf(`relation "test" does not exist`)
		}
		m := reInsert.FindStringSubmatch(stmt)
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer literal: %w", err)
		}
		s.values = append(s.values, n)
		return &commandResult{tag: "INSERT 0 1"}, nil

	case reSelectCount.MatchString(stmt):
		return &rowsResult{columns: 1, rows: [][]string{{strconv.Itoa(len(s.values))}}}, nil

	case reSelectMin.MatchString(stmt):
		if len(s.values) == 0 {
			return &rowsResult{columns: 1, rows: [][]string{{""}}}, nil
		}
		min := s.values[0]
		for _, v := range s.values[1:] {
			if v < min {
				min = v
			}
		}
		return &rowsResult{columns: 1, rows: [][]string{{strconv.FormatInt(min, 10)}}}, nil

	default:
		return nil, fmt.Errorf("fake store: unrecognized statement: %s", stmt)
	}
}

// commandResult models a PGRES_COMMAND_OK result carrying no rows.
type commandResult struct {
	tag     string
	cleared bool
}

func (r *commandResult) Status() driver.ResultStatus   { return driver.ResultCommandOK }
func (r *commandResult) NTuples() int                  { return 0 }
func (r *commandResult) NFields() int                  { return 0 }
func (r *commandResult) GetValue(row, col int) string  { return "" }
func (r *commandResult) ErrorMessage() string          { return "" }
func (r *commandResult) Clear() {
	if r.cleared {
		panic("fake: result cleared twice")
	}
	r.cleared = true
}

// rowsResult models a PGRES_TUPLES_OK result carrying a rectangular grid
// of text-format values.
type rowsResult struct {
	columns int
	rows    [][]string
	cleared bool
}

func (r *rowsResult) Status() driver.ResultStatus { return driver.ResultTuplesOK }
func (r *rowsResult) NTuples() int                { return len(r.rows) }
func (r *rowsResult) NFields() int                { return r.columns }
func (r *rowsResult) GetValue(row, col int) string {
	if row < 0 || row >= len(r.rows) || col < 0 || col >= r.columns {
		return ""
	}
	return r.rows[row][col]
}
func (r *rowsResult) ErrorMessage() string { return "" }
func (r *rowsResult) Clear() {
	if r.cleared {
		panic("fake: result cleared twice")
	}
	r.cleared = true
}

// errResult models a PGRES_FATAL_ERROR result surfaced through the normal
// GetResult path (as opposed to a connection-level failure).
type errResult struct {
	msg     string
	cleared bool
}

func (r *errResult) Status() driver.ResultStatus  { return driver.ResultFatalError }
func (r *errResult) NTuples() int                 { return 0 }
func (r *errResult) NFields() int                 { return 0 }
func (r *errResult) GetValue(row, col int) string { return "" }
func (r *errResult) ErrorMessage() string         { return r.msg }
func (r *errResult) Clear() {
	if r.cleared {
		panic("fake: result cleared twice")
	}
	r.cleared = true
}
