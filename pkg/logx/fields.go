package logx

import (
	"time"

	"github.com/rs/zerolog"
)

// Field mutates a zerolog event. Fields apply in order, so a later field
// with the same key wins.
type Field func(e *zerolog.Event)

func String(k, v string) Field      { return func(e *zerolog.Event) { e.Str(k, v) } }
func Strings(k string, v []string) Field {
	return func(e *zerolog.Event) { e.Strs(k, v) }
}
func Int(k string, v int) Field     { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Uint64(k string, v uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(k, v) }
}
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field        { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err attaches err under "err". A nil error adds nothing.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Keys shared by every component, so log queries can join on them.
const (
	KeyComponent = "comp"
	KeyJobID     = "job_id"
	KeyRecordID  = "record_id"
	KeyTrigger   = "trigger"
)

// Component names the subsystem a derived logger belongs to.
func Component(name string) Field { return String(KeyComponent, name) }

func JobID(id string) Field { return String(KeyJobID, id) }

// RecordID is omitted when empty (the history insert failed).
func RecordID(id string) Field {
	return func(e *zerolog.Event) {
		if id != "" {
			e.Str(KeyRecordID, id)
		}
	}
}

func Trigger(source string) Field { return String(KeyTrigger, source) }
