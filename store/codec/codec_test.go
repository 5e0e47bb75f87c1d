package codec

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/cyp0633/localcal/store"
	"github.com/cyp0633/localcal/store/recurrence"
	"github.com/cyp0633/localcal/store/temporal"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{
		Location:     time.UTC,
		ProdID:       CurrentProdID,
		LegacyProdID: LegacyProdID,
		Now:          func() time.Time { return testNow },
	}
}

const sampleCalendar = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Example Corp//Calendar//EN
X-WR-CALNAME:Home
BEGIN:VTIMEZONE
TZID:Europe/Berlin
BEGIN:STANDARD
DTSTART:19701025T030000
TZOFFSETFROM:+0200
TZOFFSETTO:+0100
END:STANDARD
END:VTIMEZONE
BEGIN:VEVENT
UID:morning
DTSTAMP:20220801T000000Z
SUMMARY:Morning walk
DTSTART:20220822T083000
DTEND:20220822T090000
RRULE:FREQ=DAILY
EXDATE:20220824T083000
X-CUSTOM;X-PARAM=1:kept
BEGIN:VALARM
ACTION:DISPLAY
TRIGGER:-PT15M
DESCRIPTION:Reminder
END:VALARM
END:VEVENT
BEGIN:VEVENT
UID:morning
DTSTAMP:20220801T000000Z
RECURRENCE-ID:20220823T083000
SUMMARY:Late walk
DTSTART:20220823T103000
DTEND:20220823T110000
END:VEVENT
BEGIN:VTODO
UID:rent
DTSTAMP:20220801T000000Z
SUMMARY:Pay rent
DUE;VALUE=DATE:20220901
STATUS:NEEDS-ACTION
END:VTODO
END:VCALENDAR
`

func decode(t *testing.T, doc string) *store.Snapshot {
	t.Helper()
	snap, _, err := Decode([]byte(doc), testOptions())
	require.NoError(t, err)
	return snap
}

func TestDecode_Document(t *testing.T) {
	snap := decode(t, sampleCalendar)

	assert.Equal(t, CurrentProdID, snap.ProdID)
	require.NotNil(t, snap.Props.Get("X-WR-CALNAME"))
	assert.Equal(t, "Home", snap.Props.Get("X-WR-CALNAME").Value)
	require.Len(t, snap.Components, 1)
	assert.Equal(t, "VTIMEZONE", snap.Components[0].Name)

	require.Len(t, snap.Items, 2)
	walk := snap.Items[0]
	assert.Equal(t, "morning", walk.UID)
	assert.Equal(t, time.Date(2022, 8, 1, 0, 0, 0, 0, time.UTC), walk.Stamp)
	ev, ok := walk.Body.(*store.Event)
	require.True(t, ok)
	assert.Equal(t, "Morning walk", ev.Summary)
	assert.True(t, ev.Start.IsFloating())
	assert.Equal(t, "20220822T083000", ev.Start.Canonical())
	assert.Equal(t, "20220822T090000", ev.End.Canonical())
	require.NotNil(t, ev.Rule)
	assert.Equal(t, "FREQ=DAILY", ev.Rule.String())
	require.NotNil(t, walk.Extra.Props.Get("X-CUSTOM"))
	assert.Equal(t, "kept", walk.Extra.Props.Get("X-CUSTOM").Value)
	require.Len(t, walk.Extra.Children, 1)
	assert.Equal(t, "VALARM", walk.Extra.Children[0].Name)

	rent := snap.Items[1]
	todo, ok := rent.Body.(*store.Todo)
	require.True(t, ok)
	assert.Equal(t, store.StatusNeedsAction, todo.Status)
	assert.Equal(t, temporal.Date(2022, 9, 1), todo.Due.MustGet())
	assert.False(t, todo.Start.IsPresent())
	assert.Nil(t, rent.Extra.Props)

	require.Len(t, snap.Exceptions, 2)
	assert.Equal(t, store.Cancelled, snap.Exceptions[0].Kind)
	assert.Equal(t, "20220824T083000", snap.Exceptions[0].RecurrenceID)
	assert.Equal(t, store.Modified, snap.Exceptions[1].Kind)
	assert.Equal(t, "20220823T083000", snap.Exceptions[1].RecurrenceID)
	assert.Equal(t, "Late walk", snap.Exceptions[1].Body.(*store.Event).Summary)
}

func TestDecode_Empty(t *testing.T) {
	for _, doc := range []string{"", "  \r\n"} {
		snap, migrated, err := Decode([]byte(doc), testOptions())
		require.NoError(t, err)
		assert.False(t, migrated)
		assert.Equal(t, CurrentProdID, snap.ProdID)
		assert.Empty(t, snap.Items)
		assert.Empty(t, snap.Exceptions)
	}
}

func TestDecode_ParseErrors(t *testing.T) {
	wrap := func(body string) string {
		return "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//x//EN\n" + body + "END:VCALENDAR\n"
	}
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "not a calendar",
			doc:  "this is not a calendar",
		},
		{
			name: "event without uid",
			doc:  wrap("BEGIN:VEVENT\nSUMMARY:x\nDTSTART:20220822T083000\nEND:VEVENT\n"),
		},
		{
			name: "event without start",
			doc:  wrap("BEGIN:VEVENT\nUID:a\nSUMMARY:x\nEND:VEVENT\n"),
		},
		{
			name: "unknown frequency",
			doc:  wrap("BEGIN:VEVENT\nUID:a\nSUMMARY:x\nDTSTART:20220822T083000\nRRULE:FREQ=SOMETIMES\nEND:VEVENT\n"),
		},
		{
			name: "unknown zone",
			doc:  wrap("BEGIN:VEVENT\nUID:a\nSUMMARY:x\nDTSTART;TZID=Mars/Olympus_Mons:20220822T083000\nEND:VEVENT\n"),
		},
		{
			name: "malformed date",
			doc:  wrap("BEGIN:VTODO\nUID:a\nSUMMARY:x\nDUE;VALUE=DATE:2022-09-01\nEND:VTODO\n"),
		},
		{
			name: "unknown task status",
			doc:  wrap("BEGIN:VTODO\nUID:a\nSUMMARY:x\nSTATUS:SNOOZED\nEND:VTODO\n"),
		},
		{
			name: "duplicate uid",
			doc: wrap("BEGIN:VTODO\nUID:a\nSUMMARY:x\nEND:VTODO\n" +
				"BEGIN:VTODO\nUID:a\nSUMMARY:y\nEND:VTODO\n"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, _, err := Decode([]byte(tt.doc), testOptions())
			require.Error(t, err)
			assert.Nil(t, snap)
			assert.True(t, store.IsParse(err), "got %v", err)
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	first, err := Encode(decode(t, sampleCalendar))
	require.NoError(t, err)

	second, err := Encode(decode(t, string(first)))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	out := string(first)
	for _, want := range []string{
		"PRODID:" + CurrentProdID,
		"X-WR-CALNAME:Home",
		"BEGIN:VTIMEZONE",
		"X-CUSTOM;X-PARAM=1:kept",
		"BEGIN:VALARM",
		"RRULE:FREQ=DAILY",
		"EXDATE:20220824T083000",
		"RECURRENCE-ID:20220823T083000",
		"DUE;VALUE=DATE:20220901",
		"DTSTAMP:20220801T000000Z",
	} {
		assert.Contains(t, out, want)
	}
	// the override follows its series
	assert.Less(t, strings.Index(out, "SUMMARY:Morning walk"), strings.Index(out, "SUMMARY:Late walk"))
	assert.Less(t, strings.Index(out, "SUMMARY:Late walk"), strings.Index(out, "SUMMARY:Pay rent"))
}

func TestEncode_RoundTripOccurrences(t *testing.T) {
	occurrences := func(snap *store.Snapshot) []string {
		s, err := store.New(snap, store.Options{Location: time.UTC})
		require.NoError(t, err)
		occs, err := s.ListOccurrences(
			time.Date(2022, 8, 22, 0, 0, 0, 0, time.UTC),
			time.Date(2022, 8, 27, 0, 0, 0, 0, time.UTC),
		)
		require.NoError(t, err)
		out := make([]string, len(occs))
		for i, o := range occs {
			out[i] = o.UID + "/" + o.RecurrenceID.OrElse("-") + "@" + o.Start.Canonical()
		}
		return out
	}

	before := decode(t, sampleCalendar)
	data, err := Encode(before)
	require.NoError(t, err)
	after := decode(t, string(data))

	want := []string{
		"morning/20220822T083000@20220822T083000",
		"morning/20220823T083000@20220823T103000",
		"morning/20220825T083000@20220825T083000",
		"morning/20220826T083000@20220826T083000",
	}
	assert.Equal(t, want, occurrences(before))
	assert.Equal(t, want, occurrences(after))
}

func TestEncode_EmptySnapshot(t *testing.T) {
	data, err := Encode(&store.Snapshot{ProdID: CurrentProdID})
	require.NoError(t, err)

	snap, migrated, err := Decode(data, testOptions())
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.Empty(t, snap.Items)
}

func TestDecode_Zones(t *testing.T) {
	doc := `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//x//EN
BEGIN:VEVENT
UID:standup
DTSTAMP:20240301T000000Z
SUMMARY:Standup
DTSTART;TZID=Europe/Berlin:20240330T090000
DURATION:PT15M
RRULE:FREQ=DAILY;COUNT=3
EXDATE:20240331T070000Z
END:VEVENT
BEGIN:VEVENT
UID:call
DTSTAMP:20240301T000000Z
SUMMARY:Call
DTSTART:20240330T120000Z
END:VEVENT
END:VCALENDAR
`
	snap := decode(t, doc)
	require.Len(t, snap.Items, 2)

	ev := snap.Items[0].Body.(*store.Event)
	assert.Equal(t, "Europe/Berlin", ev.Start.Location().String())
	assert.Equal(t, "20240330T091500", ev.End.Canonical())
	require.Len(t, snap.Exceptions, 1)
	assert.Equal(t, "20240331T090000", snap.Exceptions[0].RecurrenceID)
	assert.Nil(t, snap.Items[0].Extra.Props.Get("DURATION"))

	call := snap.Items[1].Body.(*store.Event)
	assert.True(t, call.Start.IsUTC())

	data, err := Encode(snap)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "DTSTART;TZID=Europe/Berlin:20240330T090000")
	assert.Contains(t, out, "DTEND;TZID=Europe/Berlin:20240330T091500")
	assert.Contains(t, out, "EXDATE;TZID=Europe/Berlin:20240331T090000")
	assert.Contains(t, out, "DTSTART:20240330T120000Z")
	assert.NotContains(t, out, "DURATION")
}

func TestEncode_UnnamedZoneWrittenFloating(t *testing.T) {
	zone := time.FixedZone("", 2*60*60)
	snap := &store.Snapshot{
		ProdID: CurrentProdID,
		Items: []*store.Item{{
			UID:   "fixed",
			Stamp: testNow,
			Body: &store.Event{
				Summary: "Fixed",
				Start:   temporal.DateTime(time.Date(2024, 5, 1, 10, 0, 0, 0, zone)),
				End:     temporal.DateTime(time.Date(2024, 5, 1, 11, 0, 0, 0, zone)),
			},
		}},
	}
	data, err := Encode(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), "DTSTART:20240501T100000\r\n")
	assert.Contains(t, string(data), "DTEND:20240501T110000\r\n")
	assert.NotContains(t, string(data), "TZID")
}

// A series in the system zone keeps its wall clock and recurrence ids across
// a save and load that spans a daylight saving change.
func TestEncode_SystemZoneSeriesAcrossDST(t *testing.T) {
	tzdata, err := os.ReadFile("/usr/share/zoneinfo/America/New_York")
	if err != nil {
		t.Skip("zoneinfo for America/New_York not available")
	}
	local, err := time.LoadLocationFromTZData("Local", tzdata)
	require.NoError(t, err)

	rule, err := recurrence.Parse("FREQ=WEEKLY")
	require.NoError(t, err)
	snap := &store.Snapshot{
		ProdID: CurrentProdID,
		Items: []*store.Item{{
			UID:   "w",
			Stamp: testNow,
			Body: &store.Event{
				Summary: "Weekly",
				Start:   temporal.DateTime(time.Date(2024, 3, 4, 8, 30, 0, 0, local)),
				End:     temporal.DateTime(time.Date(2024, 3, 4, 9, 30, 0, 0, local)),
				Rule:    rule,
			},
		}},
	}

	occurrences := func(snap *store.Snapshot) (*store.Store, []string) {
		st, err := store.New(snap, store.Options{Location: local})
		require.NoError(t, err)
		occs, err := st.ListOccurrences(
			time.Date(2024, 3, 10, 0, 0, 0, 0, local),
			time.Date(2024, 3, 19, 0, 0, 0, 0, local),
		)
		require.NoError(t, err)
		var out []string
		for _, o := range occs {
			out = append(out, o.RecurrenceID.OrElse("-")+"@"+o.Start.Instant(local).Format("15:04"))
		}
		return st, out
	}

	_, before := occurrences(snap)

	data, err := Encode(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), "DTSTART:20240304T083000\r\n")

	opts := testOptions()
	opts.Location = local
	decoded, _, err := Decode(data, opts)
	require.NoError(t, err)
	st, after := occurrences(decoded)

	want := []string{"20240311T083000@08:30", "20240318T083000@08:30"}
	assert.Equal(t, want, before)
	assert.Equal(t, want, after)
	require.NoError(t, st.Delete("w", mo.Some("20240311T083000"), store.ThisOnly))
}

func TestEncode_StrandedOverrideKept(t *testing.T) {
	start := temporal.Floating(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	snap := &store.Snapshot{
		ProdID: CurrentProdID,
		Items: []*store.Item{{
			UID:   "d",
			Stamp: testNow,
			Body:  &store.Event{Summary: "Daily", Start: start, End: start, Rule: recurrence.New(recurrence.Daily)},
		}},
		Exceptions: []*store.Exception{{
			UID:          "d",
			RecurrenceID: "20240103",
			Kind:         store.Modified,
			Stamp:        testNow,
			Body:         &store.Event{Summary: "Moved", Start: temporal.Date(2024, 1, 3), End: temporal.Date(2024, 1, 4)},
		}},
	}

	data, err := Encode(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), "RECURRENCE-ID;VALUE=DATE:20240103")

	decoded := decode(t, string(data))
	require.Len(t, decoded.Exceptions, 1)
	assert.Equal(t, "20240103", decoded.Exceptions[0].RecurrenceID)

	again, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestDecode_TaskStatus(t *testing.T) {
	tests := []struct {
		status string
		want   store.Status
	}{
		{"", store.StatusNeedsAction},
		{"STATUS:completed\n", store.StatusCompleted},
		{"STATUS:IN-PROCESS\n", store.StatusInProcess},
		{"STATUS:CANCELLED\n", store.StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			snap := decode(t, "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//x//EN\n"+
				"BEGIN:VTODO\nUID:a\nDTSTAMP:20240101T000000Z\nSUMMARY:x\n"+tt.status+"END:VTODO\nEND:VCALENDAR\n")
			require.Len(t, snap.Items, 1)
			assert.Equal(t, tt.want, snap.Items[0].Body.(*store.Todo).Status)
		})
	}
}

func TestDecode_Migration(t *testing.T) {
	doc := `BEGIN:VCALENDAR
VERSION:2.0
PRODID:` + LegacyProdID + `
BEGIN:VTODO
UID:rent
DTSTAMP:20200101T000000Z
SUMMARY:Pay rent
DUE;VALUE=DATE:20200101
END:VTODO
BEGIN:VTODO
UID:call
DTSTAMP:20200101T000000Z
SUMMARY:Call
DUE:20200101T100000Z
END:VTODO
BEGIN:VTODO
UID:bins
DTSTAMP:20200101T000000Z
SUMMARY:Bins
DUE;VALUE=DATE:20200101
RRULE:FREQ=MONTHLY;COUNT=3
EXDATE;VALUE=DATE:20200201
END:VTODO
END:VCALENDAR
`
	snap, migrated, err := Decode([]byte(doc), testOptions())
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.Equal(t, CurrentProdID, snap.ProdID)

	due := func(snap *store.Snapshot, i int) string {
		return snap.Items[i].Body.(*store.Todo).Due.MustGet().Canonical()
	}
	assert.Equal(t, "20200102", due(snap, 0))
	assert.Equal(t, "20200101T100000Z", due(snap, 1))
	assert.Equal(t, "20200102", due(snap, 2))
	require.Len(t, snap.Exceptions, 1)
	assert.Equal(t, "20200202", snap.Exceptions[0].RecurrenceID)
	assert.Equal(t, temporal.Date(2020, 1, 1), store.DisplayDue(snap.Items[0].Body.(*store.Todo).Due.MustGet()))

	data, err := Encode(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), "PRODID:"+CurrentProdID)

	again, migrated, err := Decode(data, testOptions())
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.Equal(t, "20200102", due(again, 0))
	assert.Equal(t, "20200202", again.Exceptions[0].RecurrenceID)
}

func TestDecode_MissingStamp(t *testing.T) {
	doc := "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//x//EN\nBEGIN:VTODO\nUID:a\nSUMMARY:x\nEND:VTODO\nEND:VCALENDAR\n"
	snap := decode(t, doc)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, testNow, snap.Items[0].Stamp)
}

func TestDecode_OrphanOverrideKept(t *testing.T) {
	doc := `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//x//EN
BEGIN:VEVENT
UID:lost
DTSTAMP:20220801T000000Z
RECURRENCE-ID;TZID=Europe/Berlin:20220823T083000
SUMMARY:Lost
DTSTART;TZID=Europe/Berlin:20220823T103000
END:VEVENT
END:VCALENDAR
`
	snap := decode(t, doc)
	assert.Empty(t, snap.Items)
	require.Len(t, snap.Exceptions, 1)
	assert.Equal(t, "20220823T083000", snap.Exceptions[0].RecurrenceID)

	data, err := Encode(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), "RECURRENCE-ID;TZID=Europe/Berlin:20220823T083000")
	assert.Equal(t, 1, strings.Count(string(data), "RECURRENCE-ID"))
}
