package codec

import (
	"strings"
	"time"

	"github.com/cyp0633/localcal/store/temporal"
	"github.com/emersion/go-ical"
)

// migrateDue moves every date-only DUE of the calendar's tasks one day later,
// turning the due day into the exclusive bound RFC 5545 expects. Series that
// are anchored on such a due value have their EXDATE and RECURRENCE-ID dates
// moved along so exceptions keep matching. It returns the number of DUE
// properties changed.
func migrateDue(cal *ical.Calendar) int {
	dueAnchored := make(map[string]bool)
	for _, comp := range cal.Children {
		if comp.Name != ical.CompToDo || comp.Props.Get(propRecurrenceID) != nil {
			continue
		}
		if comp.Props.Get(ical.PropRecurrenceRule) == nil || comp.Props.Get(ical.PropDateTimeStart) != nil {
			continue
		}
		if due := comp.Props.Get(ical.PropDue); due != nil && isDateProp(due) {
			dueAnchored[uidOf(comp)] = true
		}
	}

	shifted := 0
	for _, comp := range cal.Children {
		if comp.Name != ical.CompToDo {
			continue
		}
		for i := range comp.Props[ical.PropDue] {
			if shiftDates(&comp.Props[ical.PropDue][i]) {
				shifted++
			}
		}
		if !dueAnchored[uidOf(comp)] {
			continue
		}
		for _, name := range []string{ical.PropExceptionDates, propRecurrenceID} {
			for i := range comp.Props[name] {
				shiftDates(&comp.Props[name][i])
			}
		}
	}
	return shifted
}

func uidOf(comp *ical.Component) string {
	if p := comp.Props.Get(ical.PropUID); p != nil {
		return p.Value
	}
	return ""
}

func isDateProp(prop *ical.Prop) bool {
	if strings.EqualFold(prop.Params.Get(paramValue), valueDate) {
		return true
	}
	first, _, _ := strings.Cut(prop.Value, ",")
	return len(strings.TrimSpace(first)) == len(temporal.DateFormat)
}

// shiftDates adds one day to every value of a date-only property.
func shiftDates(prop *ical.Prop) bool {
	if !isDateProp(prop) {
		return false
	}
	parts := strings.Split(prop.Value, ",")
	for i, s := range parts {
		t, err := time.Parse(temporal.DateFormat, strings.TrimSpace(s))
		if err != nil {
			return false
		}
		parts[i] = t.AddDate(0, 0, 1).Format(temporal.DateFormat)
	}
	prop.Value = strings.Join(parts, ",")
	return true
}
