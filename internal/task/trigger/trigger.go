// Package trigger turns schedule expressions into fire-time calculators.
//
// The dialect is the 6-field cron form with seconds:
//
//	second minute hour day-of-month month day-of-week
//
// plus "?" as a day wildcard, month/day names and the @ descriptors
// (@hourly, @daily, @every 5m, ...).
package trigger

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// ErrInvalidExpression is matched by every ParseError.
var ErrInvalidExpression = errors.New("invalid schedule expression")

// ParseError describes a malformed schedule expression.
type ParseError struct {
	Expr string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "invalid schedule expression " + quote(e.Expr)
	}
	return "invalid schedule expression " + quote(e.Expr) + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrInvalidExpression }

// Trigger yields successive fire instants. It satisfies cron.Schedule.
type Trigger struct {
	expr  string
	sched cron.Schedule
}

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse compiles expr. It never panics.
func Parse(expr string) (Trigger, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return Trigger{}, &ParseError{Expr: expr, Err: errors.New("empty expression")}
	}
	sched, err := parser.Parse(s)
	if err != nil {
		return Trigger{}, &ParseError{Expr: expr, Err: err}
	}
	return Trigger{expr: s, sched: sched}, nil
}

// Validate reports whether expr parses.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// Expr returns the normalized source expression.
func (t Trigger) Expr() string { return t.expr }

// IsZero reports whether t was never successfully parsed.
func (t Trigger) IsZero() bool { return t.sched == nil }

// Next returns the first fire instant strictly after the given time, in
// after's location. A zero time means the expression never fires again.
func (t Trigger) Next(after time.Time) time.Time {
	if t.sched == nil {
		return time.Time{}
	}
	return t.sched.Next(after)
}

// NextN previews up to n upcoming fire instants.
func (t Trigger) NextN(after time.Time, n int) []time.Time {
	if n <= 0 || t.sched == nil {
		return nil
	}
	out := make([]time.Time, 0, n)
	cur := after
	for i := 0; i < n; i++ {
		cur = t.sched.Next(cur)
		if cur.IsZero() {
			break
		}
		out = append(out, cur)
	}
	return out
}

// Schedule exposes the underlying cron schedule for the coordinator.
func (t Trigger) Schedule() cron.Schedule { return t.sched }

func quote(s string) string { return "\"" + s + "\"" }
