package stores

import (
	"fmt"
	"time"

	"github.com/oarkflow/date"

	"github.com/oarkflow/permit"
)

// Timestamps are stored as RFC 3339 text. Rows written by other tools are
// accepted in any layout date.Parse understands.
func parseFlexibleTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return date.Parse(s)
}

// scanTime decodes a timestamp column. NULL and empty text are the zero
// time; any other value that does not parse is an error, so a corrupt
// validity bound never reads as an open window.
func scanTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v, nil
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		return parseFlexibleTime(v)
	case []byte:
		if len(v) == 0 {
			return time.Time{}, nil
		}
		return parseFlexibleTime(string(v))
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp type %T", raw)
}

// timeScanner keeps the first decode error of a row.
type timeScanner struct {
	err error
}

func (s *timeScanner) scan(column string, raw any) time.Time {
	if s.err != nil {
		return time.Time{}
	}
	t, err := scanTime(raw)
	if err != nil {
		s.err = fmt.Errorf("%s: %w", column, err)
	}
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sqlNullTimeOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

// nullID lets sqlite assign the rowid when the caller did not pick one.
func nullID(id int64) interface{} {
	if id <= 0 {
		return nil
	}
	return id
}

func nullInt(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func notFound(what string, id any) error {
	return fmt.Errorf("%w: %s %v", permit.ErrNotFound, what, id)
}
