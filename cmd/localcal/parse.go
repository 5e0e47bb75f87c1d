package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/cyp0633/localcal/store"
	"github.com/cyp0633/localcal/store/recurrence"
	"github.com/cyp0633/localcal/store/temporal"
	"github.com/samber/mo"
)

var dateTimeLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// parseValue reads a command line date ("2024-03-04"), a wall clock
// date-time in loc ("2024-03-04T09:00") or an RFC 3339 timestamp. Wall clock
// values in the system zone are floating.
func parseValue(s string, loc *time.Location) (temporal.Value, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return temporal.DateOf(t), nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			if loc.String() == "Local" {
				return temporal.Floating(t), nil
			}
			return temporal.DateTime(t), nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return temporal.DateTime(t), nil
	}
	return temporal.Value{}, fmt.Errorf("cannot read %q as a date or date-time", s)
}

// bodyFlags holds the item fields that can be given on the command line.
// Empty strings are unset; rrule "none" removes the rule.
type bodyFlags struct {
	summary     string
	description string
	location    string
	start       string
	end         string
	due         string
	status      string
	rrule       string
}

// apply sets the non-empty fields on body, which is modified in place.
func (f *bodyFlags) apply(body store.Body, loc *time.Location) error {
	rule, err := f.rule()
	if err != nil {
		return err
	}

	switch b := body.(type) {
	case *store.Event:
		if f.due != "" || f.status != "" {
			return fmt.Errorf("events have no due date or status")
		}
		setString(&b.Summary, f.summary)
		setString(&b.Description, f.description)
		setString(&b.Location, f.location)
		if f.start != "" {
			v, err := parseValue(f.start, loc)
			if err != nil {
				return fmt.Errorf("start: %w", err)
			}
			// keep the length unless a new end is given
			switch {
			case f.end != "" || b.End.IsZero():
			case b.Start.Kind() != v.Kind():
				b.End = temporal.Value{}
			default:
				b.End = v.AddDuration(b.End.Sub(b.Start))
			}
			b.Start = v
		}
		if f.end != "" {
			v, err := parseValue(f.end, loc)
			if err != nil {
				return fmt.Errorf("end: %w", err)
			}
			if v.IsDate() {
				v = v.AddDays(1)
			}
			b.End = v
		}
		if rule.IsPresent() {
			b.Rule = rule.MustGet()
		}
	case *store.Todo:
		if f.location != "" || f.end != "" {
			return fmt.Errorf("tasks have no location or end")
		}
		setString(&b.Summary, f.summary)
		setString(&b.Description, f.description)
		if f.start != "" {
			v, err := parseValue(f.start, loc)
			if err != nil {
				return fmt.Errorf("start: %w", err)
			}
			b.Start = mo.Some(v)
		}
		if f.due != "" {
			v, err := parseValue(f.due, loc)
			if err != nil {
				return fmt.Errorf("due: %w", err)
			}
			b.Due = mo.Some(store.StorageDue(v))
		}
		if f.status != "" {
			st, err := store.ParseStatus(f.status)
			if err != nil {
				return err
			}
			b.Status = st
		}
		if rule.IsPresent() {
			b.Rule = rule.MustGet()
		}
	}
	return nil
}

// rule returns None when the flag is unset, Some(nil) for "none".
func (f *bodyFlags) rule() (mo.Option[*recurrence.Rule], error) {
	switch strings.ToLower(strings.TrimSpace(f.rrule)) {
	case "":
		return mo.None[*recurrence.Rule](), nil
	case "none":
		return mo.Some[*recurrence.Rule](nil), nil
	}
	r, err := recurrence.Parse(f.rrule)
	if err != nil {
		return mo.None[*recurrence.Rule](), fmt.Errorf("rrule: %w", err)
	}
	return mo.Some(r), nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// occurrenceBody returns a copy of the item's body moved to the occurrence
// rid, without the rule.
func occurrenceBody(it *store.Item, rid string) (store.Body, error) {
	anchor, _, ok := it.Body.Span()
	if !ok {
		return nil, fmt.Errorf("item %s has no dates", it.UID)
	}
	at, err := temporal.Resolve(rid, anchor)
	if err != nil {
		return nil, err
	}
	d := at.Sub(anchor)

	switch b := it.Body.(type) {
	case *store.Event:
		c := *b
		c.Rule = nil
		c.Start = b.Start.AddDuration(d)
		if !b.End.IsZero() {
			c.End = b.End.AddDuration(d)
		}
		return &c, nil
	case *store.Todo:
		c := *b
		c.Rule = nil
		if v, ok := b.Start.Get(); ok {
			c.Start = mo.Some(v.AddDuration(d))
		}
		if v, ok := b.Due.Get(); ok {
			c.Due = mo.Some(v.AddDuration(d))
		}
		return &c, nil
	}
	return nil, fmt.Errorf("item %s has an unknown body", it.UID)
}

// copyBody returns a shallow copy of b that apply can modify without
// touching the stored item.
func copyBody(b store.Body) store.Body {
	switch v := b.(type) {
	case *store.Event:
		c := *v
		return &c
	case *store.Todo:
		c := *v
		return &c
	}
	return b
}

func formatValue(v temporal.Value, loc *time.Location) string {
	if v.IsZero() {
		return ""
	}
	if v.IsDate() {
		return v.Time().Format(time.DateOnly)
	}
	return v.Instant(loc).Format("2006-01-02 15:04")
}
