// Package registry maps implementation keys to job bodies.
//
// The table is fixed when the process starts; there is no lookup by type
// name or any other dynamic dispatch.
package registry

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Params is the parameter context handed to a job body.
type Params struct {
	JobID   string
	JobName string
	// From and To are civil dates (2006-01-02). Scheduled fires carry
	// the current date in both.
	From string
	To   string
	// FiredAt is the instant the coordinator fired or the manual request
	// was accepted.
	FiredAt time.Time
	Manual  bool
}

// Func is a job body.
type Func func(ctx context.Context, p Params) error

// Registry is read-only after New and safe for concurrent use.
type Registry struct {
	funcs map[string]Func
	keys  []string
}

// New copies table. Entries with an empty key or a nil Func are ignored.
func New(table map[string]Func) *Registry {
	r := &Registry{funcs: make(map[string]Func, len(table))}
	for k, fn := range table {
		k = strings.TrimSpace(k)
		if k == "" || fn == nil {
			continue
		}
		r.funcs[k] = fn
		r.keys = append(r.keys, k)
	}
	sort.Strings(r.keys)
	return r
}

// Resolve returns the body registered under key.
func (r *Registry) Resolve(key string) (Func, bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r.funcs[strings.TrimSpace(key)]
	return fn, ok
}

// Has reports whether key resolves.
func (r *Registry) Has(key string) bool {
	_, ok := r.Resolve(key)
	return ok
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.keys...)
}

// Len returns the number of registered bodies.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.funcs)
}
