package main

import (
	"testing"
	"time"

	"github.com/cyp0633/localcal/store"
	"github.com/cyp0633/localcal/store/temporal"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	tests := []struct {
		in      string
		want    string
		date    bool
		wantErr bool
	}{
		{in: "2024-03-04", want: "20240304", date: true},
		{in: " 2024-03-04 ", want: "20240304", date: true},
		{in: "2024-03-04T09:00", want: "20240304T090000"},
		{in: "2024-03-04 09:30:15", want: "20240304T093015"},
		{in: "2024-03-04T09:00:00Z", want: "20240304T090000Z"},
		{in: "tomorrow", wantErr: true},
		{in: "2024-13-01", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := parseValue(tt.in, berlin)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Canonical())
			assert.Equal(t, tt.date, v.IsDate())
		})
	}
}

func TestParseValue_SystemZoneFloating(t *testing.T) {
	v, err := parseValue("2024-03-04T08:30", time.Local)
	require.NoError(t, err)
	assert.True(t, v.IsFloating())
	assert.Equal(t, "20240304T083000", v.Canonical())
}

func TestBodyFlags_Event(t *testing.T) {
	f := bodyFlags{
		summary: "Standup",
		start:   "2024-03-04T09:00",
		end:     "2024-03-04T09:15",
		rrule:   "FREQ=DAILY;COUNT=5",
	}
	e := &store.Event{}
	require.NoError(t, f.apply(e, time.UTC))
	assert.Equal(t, "Standup", e.Summary)
	assert.Equal(t, "20240304T090000Z", e.Start.Canonical())
	assert.Equal(t, "20240304T091500Z", e.End.Canonical())
	require.NotNil(t, e.Rule)

	// moving the start keeps the length
	move := bodyFlags{start: "2024-03-04T10:00", rrule: "none"}
	require.NoError(t, move.apply(e, time.UTC))
	assert.Equal(t, "20240304T101500Z", e.End.Canonical())
	assert.Nil(t, e.Rule)
	assert.Equal(t, "Standup", e.Summary)
}

func TestBodyFlags_AllDayEnd(t *testing.T) {
	f := bodyFlags{start: "2024-03-04", end: "2024-03-05"}
	e := &store.Event{}
	require.NoError(t, f.apply(e, time.UTC))
	assert.Equal(t, "20240306", e.End.Canonical())
}

func TestBodyFlags_Todo(t *testing.T) {
	f := bodyFlags{summary: "Rent", due: "2024-03-01", status: "completed"}
	td := &store.Todo{}
	require.NoError(t, f.apply(td, time.UTC))

	due, ok := td.Due.Get()
	require.True(t, ok)
	assert.Equal(t, "20240302", due.Canonical())
	assert.Equal(t, "20240301", store.DisplayDue(due).Canonical())
	assert.Equal(t, store.StatusCompleted, td.Status)
}

func TestBodyFlags_Errors(t *testing.T) {
	tests := []struct {
		name  string
		flags bodyFlags
		body  store.Body
	}{
		{"event due", bodyFlags{due: "2024-03-01"}, &store.Event{}},
		{"todo location", bodyFlags{location: "home"}, &store.Todo{}},
		{"bad start", bodyFlags{start: "soon"}, &store.Event{}},
		{"bad status", bodyFlags{status: "maybe"}, &store.Todo{}},
		{"bad rule", bodyFlags{rrule: "FREQ=SOMETIMES"}, &store.Event{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.flags.apply(tt.body, time.UTC))
		})
	}
}

func TestOccurrenceBody(t *testing.T) {
	it := &store.Item{
		UID: "a",
		Body: &store.Todo{
			Summary: "Bins",
			Due:     mo.Some(temporal.Date(2024, time.March, 5)),
			Rule:    mustRule(t, "FREQ=WEEKLY"),
		},
	}
	body, err := occurrenceBody(it, "20240312")
	require.NoError(t, err)

	td := body.(*store.Todo)
	assert.Nil(t, td.Rule)
	assert.Equal(t, "20240312", td.Due.MustGet().Canonical())
	// the stored item is untouched
	assert.Equal(t, "20240305", it.Body.(*store.Todo).Due.MustGet().Canonical())

	_, err = occurrenceBody(&store.Item{UID: "b", Body: &store.Todo{}}, "20240312")
	assert.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "2024-03-04", formatValue(temporal.Date(2024, time.March, 4), time.UTC))
	assert.Equal(t, "2024-03-04 09:00", formatValue(temporal.DateTime(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)), time.UTC))
	assert.Equal(t, "", formatValue(temporal.Value{}, time.UTC))
}
