package ingest

import (
	"fmt"
	"strings"
)

// MalformedFileError marks an unrecoverable structural break in the input,
// such as a quoted field left unterminated through EOF. It aborts the whole
// job; ragged row widths do not raise it.
type MalformedFileError struct {
	Line    int64
	Wrapped error
}

func (e *MalformedFileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed file at line %d: %v", e.Line, e.Wrapped)
	}
	return fmt.Sprintf("malformed file: %v", e.Wrapped)
}

func (e *MalformedFileError) Unwrap() error { return e.Wrapped }

// SchemaError marks a header that cannot be resolved to the required
// canonical fields. No row can be trusted without the header, so this fails
// the job before any chunk is queued.
type SchemaError struct {
	Missing []string
	Header  []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("unresolvable required columns: %s", strings.Join(e.Missing, ", "))
}

// ValidationError carries every rule a single row violated. Rules are applied
// exhaustively so one pass over the file surfaces all of a row's problems.
type ValidationError struct {
	RowNumber  int64
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %d: %s", e.RowNumber, strings.Join(e.Violations, "; "))
}

func (e *ValidationError) Add(format string, args ...interface{}) {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
}

func (e *ValidationError) HasViolations() bool { return len(e.Violations) > 0 }
