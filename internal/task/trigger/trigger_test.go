package trigger

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidExpressions(t *testing.T) {
	t.Parallel()
	ref := time.Date(2025, 1, 15, 10, 30, 15, 0, time.UTC)
	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{name: "hourly", expr: "0 0 * * * *", want: time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)},
		{name: "every 10 seconds", expr: "*/10 * * * * *", want: time.Date(2025, 1, 15, 10, 30, 20, 0, time.UTC)},
		{name: "daily 2am with question mark", expr: "0 0 2 * * ?", want: time.Date(2025, 1, 16, 2, 0, 0, 0, time.UTC)},
		{name: "weekday names", expr: "0 0 8 * * MON-FRI", want: time.Date(2025, 1, 16, 8, 0, 0, 0, time.UTC)},
		{name: "month names", expr: "0 0 0 1 FEB *", want: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
		{name: "descriptor", expr: "@daily", want: time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)},
		{name: "surrounding spaces", expr: "  0 30 * * * *  ", want: time.Date(2025, 1, 15, 11, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tr.Next(ref))
		})
	}
}

func TestParseInvalidExpressions(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{
		"",
		"   ",
		"* * * * *",    // 5 fields: seconds are mandatory
		"0 0 25 * * *", // hour out of range
		"0 61 * * * *", // minute out of range
		"not a cron",
		"0 0 * * * * * *",
	} {
		_, err := Parse(expr)
		require.Error(t, err, "expr %q", expr)
		assert.True(t, errors.Is(err, ErrInvalidExpression), "expr %q: %v", expr, err)

		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, expr, pe.Expr)
		assert.Contains(t, pe.Error(), "invalid schedule expression")
	}
}

func TestNextIsDeterministic(t *testing.T) {
	t.Parallel()
	exprs := []string{"0 0 * * * *", "*/7 */3 * * * *", "0 15 10 ? * 6L", "0 0 12 1-7 * MON"}
	ref := time.Date(2024, 2, 28, 23, 59, 59, 0, time.UTC)
	for _, expr := range exprs {
		a, errA := Parse(expr)
		b, errB := Parse(expr)
		if errA != nil {
			// Some dialect extensions are not supported; both parses must agree.
			require.Error(t, errB)
			continue
		}
		require.NoError(t, errB)
		for i := 0; i < 3; i++ {
			assert.Equal(t, a.Next(ref), a.Next(ref), "expr %q", expr)
			assert.Equal(t, a.Next(ref), b.Next(ref), "expr %q", expr)
		}
	}
}

func TestNextRespectsLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("KST", 9*60*60)
	tr, err := Parse("0 0 9 * * *")
	require.NoError(t, err)

	ref := time.Date(2025, 3, 1, 10, 0, 0, 0, loc)
	next := tr.Next(ref)
	assert.Equal(t, time.Date(2025, 3, 2, 9, 0, 0, 0, loc), next)
	assert.Equal(t, loc, next.Location())
}

func TestNextN(t *testing.T) {
	t.Parallel()
	tr, err := Parse("0 0 * * * *")
	require.NoError(t, err)
	ref := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	got := tr.NextN(ref, 3)
	require.Len(t, got, 3)
	for i, ts := range got {
		assert.Equal(t, ref.Add(time.Duration(i+1)*time.Hour), ts)
	}
	assert.Nil(t, tr.NextN(ref, 0))
}

func TestZeroTrigger(t *testing.T) {
	t.Parallel()
	var tr Trigger
	assert.True(t, tr.IsZero())
	assert.True(t, tr.Next(time.Now()).IsZero())
	assert.Nil(t, tr.NextN(time.Now(), 2))
}
