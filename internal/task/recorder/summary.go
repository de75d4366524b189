package recorder

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

const (
	MaxSummaryLen     = 1000
	MaxDetailLen      = 8000
	MaxCauseLen       = 200
	MaxCauseDepth     = 3
	noMessage         = "(no message)"
	causeSeparator    = " → "
	nilErrorTypeLabel = "<nil>"
)

// Summarize renders err as "[Type] message" followed by up to three causes,
// each " → [Type] message". Wrappers that only decorate their cause (same
// message, e.g. an attached stack trace) are skipped. The result is never
// empty and is bounded by MaxSummaryLen characters.
func Summarize(err error) string {
	if err == nil {
		return "[" + nilErrorTypeLabel + "] " + noMessage
	}

	top := skipDecorations(err)
	var b strings.Builder
	b.WriteString(label(top, safeError(top), 0))

	cur := top
	for depth := 0; depth < MaxCauseDepth; depth++ {
		cur = skipDecorations(nextCause(cur))
		if cur == nil {
			break
		}
		b.WriteString(causeSeparator)
		b.WriteString(label(cur, ownMessage(cur), MaxCauseLen))
	}
	return truncate(b.String(), MaxSummaryLen)
}

// Detail renders the full diagnostic text, stack traces included. The top
// error is rendered with %+v; every cause whose message that text does not
// already carry is appended as a "caused by" section, so a blank or custom
// wrapper cannot hide its cause. The result is empty only for a nil error.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(render(err))
	for cur := nextCause(err); cur != nil; cur = nextCause(cur) {
		msg := strings.TrimSpace(safeError(cur))
		if msg != "" && strings.Contains(b.String(), msg) {
			continue
		}
		b.WriteString("\ncaused by: ")
		b.WriteString(render(cur))
	}
	d := strings.TrimSpace(b.String())
	if d == "" {
		d = Summarize(err)
	}
	return truncate(d, MaxDetailLen)
}

// render is %+v of err, or its type label when that comes out blank.
func render(err error) string {
	if s := strings.TrimSpace(fmt.Sprintf("%+v", err)); s != "" {
		return s
	}
	return label(err, "", 0)
}

// TypeName is the dynamic type of err without the package path noise of
// pointer receivers.
func TypeName(err error) string {
	if err == nil {
		return nilErrorTypeLabel
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return fmt.Sprintf("%T", err)
	}
	if pkg := t.PkgPath(); pkg != "" {
		return pkg[strings.LastIndex(pkg, "/")+1:] + "." + t.Name()
	}
	return t.Name()
}

func label(err error, msg string, limit int) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = noMessage
	} else if limit > 0 {
		msg = truncate(msg, limit)
	}
	return "[" + TypeName(err) + "] " + msg
}

// ownMessage is the message err contributes on its own, without the
// ": cause" suffix that wrapping errors append.
func ownMessage(err error) string {
	msg := safeError(err)
	cause := nextCause(err)
	if cause == nil {
		return msg
	}
	cmsg := safeError(cause)
	if cmsg == "" {
		return msg
	}
	// Strip only a separated suffix: "load: timeout" over "timeout" is
	// "load", but "connection timeout" stays whole.
	if trimmed, ok := strings.CutSuffix(msg, cmsg); ok && trimmed != "" {
		if t := strings.TrimRight(trimmed, " "); strings.HasSuffix(t, ":") {
			return strings.TrimSuffix(t, ":")
		}
	}
	return msg
}

func skipDecorations(err error) error {
	for err != nil && isDecoration(err) {
		err = nextCause(err)
	}
	return err
}

// isDecoration reports whether err adds nothing visible to its cause.
func isDecoration(err error) bool {
	cause := nextCause(err)
	return cause != nil && safeError(err) == safeError(cause)
}

func nextCause(err error) error {
	if err == nil {
		return nil
	}
	if c := errors.UnwrapOnce(err); c != nil {
		return c
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, c := range j.Unwrap() {
			if c != nil {
				return c
			}
		}
	}
	return nil
}

// safeError calls Error, tolerating implementations that panic on a nil
// receiver or nil field.
func safeError(err error) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = ""
		}
	}()
	return err.Error()
}

// truncate keeps at most limit characters.
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
