package executor

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
)

var (
	// ErrJobNotFound is returned when a job id or its implementation key
	// does not resolve.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidParams rejects a manual request before any record exists.
	ErrInvalidParams = errors.New("invalid execution parameters")
)

// PanicError is a job body panic converted to an error.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Unwrap exposes a panicked error value to errors.Is/As.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Format prints the captured stack for %+v.
func (e *PanicError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = io.WriteString(s, e.Error())
			if len(e.Stack) > 0 {
				_, _ = io.WriteString(s, "\n")
				_, _ = s.Write(e.Stack)
			}
			return
		}
		fallthrough
	case 's':
		_, _ = io.WriteString(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}
