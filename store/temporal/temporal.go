// Package temporal implements the date / date-time values used for event
// start, end and task due fields.
package temporal

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DateFormat is the iCalendar DATE form, also used as recurrence id of all-day occurrences.
	DateFormat = "20060102"
	// LocalDateTimeFormat is the iCalendar DATE-TIME form without zone designator.
	LocalDateTimeFormat = "20060102T150405"
	// UTCDateTimeFormat is the iCalendar DATE-TIME form of UTC values.
	UTCDateTimeFormat = "20060102T150405Z"
)

// ErrIncompatibleKind is returned when a date is compared with a date-time.
var ErrIncompatibleKind = errors.New("incompatible temporal kind")

// Kind tells dates and date-times apart.
type Kind int

const (
	KindDate Kind = iota
	KindDateTime
)

func (k Kind) String() string {
	if k == KindDate {
		return "date"
	}
	return "date-time"
}

// Value is either a calendar date (day granularity, no zone) or a date-time.
// Date-times are zoned, or floating when they carry only a wall clock; a
// floating value keeps the location it was read in so it can be turned into
// an instant.
//
// The zero Value is not valid; use IsZero to detect it.
type Value struct {
	t        time.Time
	kind     Kind
	floating bool
}

// Date returns a date value.
func Date(year int, month time.Month, day int) Value {
	return Value{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), kind: KindDate}
}

// DateOf returns the date of t's wall clock.
func DateOf(t time.Time) Value {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// DateTime returns a zoned date-time truncated to the second.
func DateTime(t time.Time) Value {
	return Value{t: t.Truncate(time.Second), kind: KindDateTime}
}

// Floating returns a floating date-time whose wall clock is read in t's location.
func Floating(t time.Time) Value {
	return Value{t: t.Truncate(time.Second), kind: KindDateTime, floating: true}
}

func (v Value) IsZero() bool { return v.t.IsZero() }

func (v Value) IsDate() bool { return v.kind == KindDate }

func (v Value) IsFloating() bool { return v.kind == KindDateTime && v.floating }

func (v Value) Kind() Kind { return v.kind }

// IsUTC reports whether v is a date-time pinned to UTC.
func (v Value) IsUTC() bool {
	return v.kind == KindDateTime && !v.floating && v.t.Location() == time.UTC
}

// Time returns the underlying time. Dates are midnight UTC.
func (v Value) Time() time.Time { return v.t }

// Location returns the location of a zoned or floating date-time, nil for dates.
func (v Value) Location() *time.Location {
	if v.kind == KindDate {
		return nil
	}
	return v.t.Location()
}

// Instant maps v onto the time line. Dates become midnight in loc; floating
// values keep their wall clock in loc.
func (v Value) Instant(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	switch {
	case v.kind == KindDate, v.floating:
		y, m, d := v.t.Date()
		hh, mm, ss := v.t.Clock()
		return time.Date(y, m, d, hh, mm, ss, 0, loc)
	default:
		return v.t
	}
}

// Compare returns -1, 0 or +1. Dates compare by day, date-times by instant.
func (v Value) Compare(o Value) (int, error) {
	if v.kind != o.kind {
		return 0, fmt.Errorf("%w: %s vs %s", ErrIncompatibleKind, v.kind, o.kind)
	}
	if v.kind == KindDate {
		return v.t.Compare(o.t), nil
	}
	return v.comparable().Compare(o.comparable()), nil
}

// comparable pins a floating value to its own location.
func (v Value) comparable() time.Time {
	if v.floating {
		return v.Instant(v.t.Location())
	}
	return v.t
}

// Before is Compare < 0, false for incompatible kinds.
func (v Value) Before(o Value) bool {
	c, err := v.Compare(o)
	return err == nil && c < 0
}

// Equal is Compare == 0, false for incompatible kinds.
func (v Value) Equal(o Value) bool {
	c, err := v.Compare(o)
	return err == nil && c == 0
}

// AddDays moves v by n calendar days, keeping the wall clock.
func (v Value) AddDays(n int) Value {
	v.t = v.t.AddDate(0, 0, n)
	return v
}

// AddDuration adds d. Dates move by whole days only.
func (v Value) AddDuration(d time.Duration) Value {
	if v.kind == KindDate {
		return v.AddDays(int(d / (24 * time.Hour)))
	}
	v.t = v.t.Add(d)
	return v
}

// Sub returns v-o. Dates differ by whole days; mixed kinds return 0.
func (v Value) Sub(o Value) time.Duration {
	if v.kind != o.kind {
		return 0
	}
	if v.kind == KindDate {
		return v.t.Sub(o.t)
	}
	return v.comparable().Sub(o.comparable())
}

// WithWallClock re-reads the wall clock of v in loc. Dates are returned as is.
func (v Value) WithWallClock(loc *time.Location) Value {
	if v.kind == KindDate {
		return v
	}
	v.t = v.Instant(loc)
	return v
}

// Canonical is the recurrence id form: YYYYMMDD for dates, YYYYMMDDTHHMMSS
// for floating and zoned date-times (wall clock in their own zone) and
// YYYYMMDDTHHMMSSZ for UTC.
func (v Value) Canonical() string {
	switch {
	case v.kind == KindDate:
		return v.t.Format(DateFormat)
	case v.IsUTC():
		return v.t.Format(UTCDateTimeFormat)
	default:
		return v.t.Format(LocalDateTimeFormat)
	}
}

func (v Value) String() string { return v.Canonical() }

// ParseCanonical parses a recurrence id. Values without zone designator are
// floating in loc (UTC when nil).
func ParseCanonical(s string, loc *time.Location) (Value, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch len(s) {
	case len(DateFormat):
		t, err := time.Parse(DateFormat, s)
		if err != nil {
			return Value{}, fmt.Errorf("parse date %q: %w", s, err)
		}
		return Value{t: t, kind: KindDate}, nil
	case len(UTCDateTimeFormat):
		t, err := time.Parse(UTCDateTimeFormat, s)
		if err != nil {
			return Value{}, fmt.Errorf("parse date-time %q: %w", s, err)
		}
		return DateTime(t.UTC()), nil
	case len(LocalDateTimeFormat):
		t, err := time.ParseInLocation(LocalDateTimeFormat, s, loc)
		if err != nil {
			return Value{}, fmt.Errorf("parse date-time %q: %w", s, err)
		}
		return Floating(t), nil
	default:
		return Value{}, fmt.Errorf("parse %q: unrecognized length", s)
	}
}

// Resolve converts a canonical recurrence id into a value of the same kind and
// zone as anchor, so it can be compared with occurrences generated from anchor.
func Resolve(s string, anchor Value) (Value, error) {
	loc := time.UTC
	if !anchor.IsDate() {
		loc = anchor.Location()
	}
	v, err := ParseCanonical(s, loc)
	if err != nil {
		return Value{}, err
	}
	return Align(v, anchor)
}

// Align expresses v the way anchor is expressed: in anchor's zone, floating
// when anchor is. Dates are returned unchanged.
func Align(v, anchor Value) (Value, error) {
	if v.kind != anchor.kind {
		return Value{}, fmt.Errorf("%w: %s value %s for %s series", ErrIncompatibleKind, v.kind, v, anchor.kind)
	}
	if v.kind == KindDate {
		return v, nil
	}
	loc := anchor.Location()
	t := v.t.In(loc)
	if v.floating {
		t = v.Instant(loc)
	}
	return Value{t: t, kind: KindDateTime, floating: anchor.floating}, nil
}
