package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const day = 24 * time.Hour

// ParseDurationField parses a Go duration string ("500ms", "30s") or a
// whole number of days ("90d"). Empty means zero; negatives are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}

	var (
		d   time.Duration
		err error
	)
	if n, ok := strings.CutSuffix(s, "d"); ok {
		var days int
		days, err = strconv.Atoi(n)
		d = time.Duration(days) * day
	} else {
		d, err = time.ParseDuration(s)
	}
	if err != nil {
		return 0, errors.Newf("%s: invalid duration %q", path, raw)
	}
	if d < 0 {
		return 0, errors.Newf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
