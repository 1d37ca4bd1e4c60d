package ops

import (
	"strconv"

	"github.com/coachpo/pgreactor/driver"
	"github.com/coachpo/pgreactor/pgerr"
)

// ExpectCommandOK is an Extractor for statements with no result rows
// (CREATE TABLE, INSERT, ...): it raises ResultError on anything but
// ResultCommandOK, and otherwise yields no value of interest.
func ExpectCommandOK() Extractor[struct{}] {
	return func(result driver.Result) (struct{}, error) {
		if result.Status() != driver.ResultCommandOK {
			return struct{}{}, statusError(result)
		}
		return struct{}{}, nil
	}
}

// ExtractInt64Column is an Extractor for single-row, single-column
// integer results (SELECT COUNT(*), SELECT MIN(...), ...).
func ExtractInt64Column(col int) Extractor[int64] {
	return func(result driver.Result) (int64, error) {
		if result.Status() != driver.ResultTuplesOK {
			return 0, statusError(result)
		}
		if result.NTuples() == 0 {
			return 0, pgerr.NewResultError("expected at least one row")
		}
		raw := result.GetValue(0, col)
		if raw == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, pgerr.WrapResultError(err)
		}
		return n, nil
	}
}

func statusError(result driver.Result) error {
	if result.Status() == driver.ResultFatalError {
		return pgerr.NewResultError(result.ErrorMessage())
	}
	return pgerr.NewResultError("unexpected result status")
}
