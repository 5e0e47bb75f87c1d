package recurrence

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/cyp0633/localcal/store/temporal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func canonicals(vs []temporal.Value) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Canonical()
	}
	return out
}

func floating(y int, m time.Month, d, hh, mm int) temporal.Value {
	return temporal.Floating(time.Date(y, m, d, hh, mm, 0, 0, time.UTC))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "daily", input: "FREQ=DAILY", want: "FREQ=DAILY"},
		{name: "prefix and order", input: "RRULE:INTERVAL=2;FREQ=WEEKLY", want: "FREQ=WEEKLY;INTERVAL=2"},
		{name: "count", input: "FREQ=MONTHLY;COUNT=3", want: "FREQ=MONTHLY;COUNT=3"},
		{name: "until date", input: "FREQ=YEARLY;UNTIL=20301231", want: "FREQ=YEARLY;UNTIL=20301231"},
		{name: "until utc", input: "FREQ=DAILY;UNTIL=20220825T000000Z", want: "FREQ=DAILY;UNTIL=20220825T000000Z"},
		{name: "byday kept", input: "FREQ=WEEKLY;BYDAY=MO,WE", want: "FREQ=WEEKLY;BYDAY=MO,WE"},
		{name: "interval one dropped", input: "FREQ=DAILY;INTERVAL=1", want: "FREQ=DAILY"},
		{name: "empty", input: "", wantErr: true},
		{name: "no freq", input: "COUNT=3", wantErr: true},
		{name: "hourly unsupported", input: "FREQ=HOURLY", wantErr: true},
		{name: "zero interval", input: "FREQ=DAILY;INTERVAL=0", wantErr: true},
		{name: "negative interval", input: "FREQ=DAILY;INTERVAL=-2", wantErr: true},
		{name: "count and until", input: "FREQ=DAILY;COUNT=2;UNTIL=20220101", wantErr: true},
		{name: "unknown part", input: "FREQ=DAILY;BYFOO=1", wantErr: true},
		{name: "malformed", input: "FREQ=DAILY;COUNT", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidRule))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.String())
		})
	}
}

func TestRule_OccurrencesIn(t *testing.T) {
	anchor := floating(2022, 8, 22, 8, 30)
	r := New(Daily)

	seq, err := r.OccurrencesIn(anchor,
		time.Date(2022, 8, 22, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 8, 26, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	got := slices.Collect(seq)
	assert.Equal(t, []string{
		"20220822T083000", "20220823T083000", "20220824T083000", "20220825T083000",
	}, canonicals(got))

	// restartable: ranging again yields the same values
	assert.Equal(t, got, slices.Collect(seq))
}

func TestRule_Bounds(t *testing.T) {
	anchor := floating(2022, 8, 22, 8, 30)
	farEnd := time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("count", func(t *testing.T) {
		r, err := Parse("FREQ=WEEKLY;INTERVAL=2;COUNT=3")
		require.NoError(t, err)
		seq, err := r.OccurrencesIn(anchor, start, farEnd)
		require.NoError(t, err)
		assert.Equal(t, []string{"20220822T083000", "20220905T083000", "20220919T083000"}, canonicals(slices.Collect(seq)))
	})

	t.Run("until inclusive", func(t *testing.T) {
		r, err := Parse("FREQ=DAILY;UNTIL=20220824T083000")
		require.NoError(t, err)
		seq, err := r.OccurrencesIn(anchor, start, farEnd)
		require.NoError(t, err)
		assert.Len(t, slices.Collect(seq), 3)
	})

	t.Run("date series", func(t *testing.T) {
		r, err := Parse("FREQ=DAILY;UNTIL=20220824")
		require.NoError(t, err)
		seq, err := r.OccurrencesIn(temporal.Date(2022, 8, 22), start, farEnd)
		require.NoError(t, err)
		got := slices.Collect(seq)
		assert.Equal(t, []string{"20220822", "20220823", "20220824"}, canonicals(got))
		for _, v := range got {
			assert.True(t, v.IsDate())
		}
	})
}

func TestRule_SkipsNonexistentDays(t *testing.T) {
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

	monthly, err := Parse("FREQ=MONTHLY;COUNT=4")
	require.NoError(t, err)
	seq, err := monthly.OccurrencesIn(temporal.Date(2022, 1, 31), start, end)
	require.NoError(t, err)
	assert.Equal(t, []string{"20220131", "20220331", "20220531", "20220731"}, canonicals(slices.Collect(seq)))

	yearly, err := Parse("FREQ=YEARLY;COUNT=2")
	require.NoError(t, err)
	seq, err = yearly.OccurrencesIn(temporal.Date(2020, 2, 29), start, end)
	require.NoError(t, err)
	assert.Equal(t, []string{"20200229", "20240229"}, canonicals(slices.Collect(seq)))
}

func TestRule_Validate(t *testing.T) {
	anchor := floating(2022, 8, 22, 8, 30)

	r := New(Daily)
	assert.NoError(t, r.Validate(anchor))

	r.Interval = 0
	assert.True(t, errors.Is(r.Validate(anchor), ErrInvalidRule))

	before, err := Parse("FREQ=DAILY;UNTIL=20220801T000000")
	require.NoError(t, err)
	assert.True(t, errors.Is(before.Validate(anchor), ErrInvalidRule))

	assert.Error(t, New(Daily).Validate(temporal.Value{}))
}

func TestRule_IncludesAndCountBefore(t *testing.T) {
	anchor := floating(2022, 8, 22, 8, 30)
	r, err := Parse("FREQ=WEEKLY")
	require.NoError(t, err)

	assert.True(t, r.Includes(anchor, anchor))
	assert.True(t, r.Includes(anchor, anchor.AddDays(14)))
	assert.False(t, r.Includes(anchor, anchor.AddDays(3)))
	assert.False(t, r.Includes(anchor, anchor.AddDays(-7)))
	assert.False(t, r.Includes(anchor, temporal.Date(2022, 8, 29)))

	assert.Equal(t, 0, r.CountBefore(anchor, anchor))
	assert.Equal(t, 3, r.CountBefore(anchor, anchor.AddDays(21)))
}

func TestRule_Truncate(t *testing.T) {
	anchor := floating(2022, 8, 22, 8, 30)
	windowStart := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("unbounded gets until", func(t *testing.T) {
		r := New(Daily)
		tr, err := r.Truncate(anchor, anchor.AddDays(3))
		require.NoError(t, err)
		assert.Equal(t, "FREQ=DAILY;UNTIL=20220825T082959", tr.String())
		assert.Equal(t, "FREQ=DAILY", r.String(), "original untouched")

		seq, err := tr.OccurrencesIn(anchor, windowStart, windowEnd)
		require.NoError(t, err)
		assert.Len(t, slices.Collect(seq), 3)
	})

	t.Run("count reduced", func(t *testing.T) {
		r, err := Parse("FREQ=DAILY;COUNT=10")
		require.NoError(t, err)
		tr, err := r.Truncate(anchor, anchor.AddDays(3))
		require.NoError(t, err)
		assert.Equal(t, 3, tr.Count)

		rest := r.Remainder(anchor, anchor.AddDays(3))
		assert.Equal(t, 7, rest.Count)
	})

	t.Run("date series", func(t *testing.T) {
		d := temporal.Date(2022, 8, 22)
		tr, err := New(Weekly).Truncate(d, d.AddDays(14))
		require.NoError(t, err)
		assert.Equal(t, "FREQ=WEEKLY;UNTIL=20220904", tr.String())
	})

	t.Run("zoned series uses utc", func(t *testing.T) {
		z := temporal.DateTime(time.Date(2022, 8, 22, 8, 30, 0, 0, time.FixedZone("CEST", 2*3600)))
		tr, err := New(Daily).Truncate(z, z.AddDays(1))
		require.NoError(t, err)
		assert.Equal(t, "FREQ=DAILY;UNTIL=20220823T062959Z", tr.String())
	})

	t.Run("first occurrence", func(t *testing.T) {
		_, err := New(Daily).Truncate(anchor, anchor)
		assert.True(t, errors.Is(err, ErrInvalidRule))
	})
}
