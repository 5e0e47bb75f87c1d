package recurrence

import (
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/cyp0633/localcal/store/temporal"
	"github.com/samber/mo"
	"github.com/teambition/rrule-go"
)

// ErrInvalidRule is returned for rules that cannot produce a valid schedule.
var ErrInvalidRule = errors.New("invalid recurrence rule")

type Frequency int

const (
	Daily Frequency = iota
	Weekly
	Monthly
	Yearly
)

var freqNames = map[Frequency]string{
	Daily:   "DAILY",
	Weekly:  "WEEKLY",
	Monthly: "MONTHLY",
	Yearly:  "YEARLY",
}

var freqFromName = map[string]Frequency{
	"DAILY":   Daily,
	"WEEKLY":  Weekly,
	"MONTHLY": Monthly,
	"YEARLY":  Yearly,
}

func (f Frequency) String() string {
	if name, ok := freqNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Frequency(%d)", int(f))
}

func (f Frequency) rrule() rrule.Frequency {
	switch f {
	case Weekly:
		return rrule.WEEKLY
	case Monthly:
		return rrule.MONTHLY
	case Yearly:
		return rrule.YEARLY
	default:
		return rrule.DAILY
	}
}

// Rule is a repeating schedule. Count and Until bound the series; BY* and
// WKST parts are kept verbatim and interpreted by rrule-go.
type Rule struct {
	Freq     Frequency
	Interval int
	Count    int // 0 means unbounded
	Until    mo.Option[temporal.Value]

	parts []string
}

// New returns an unbounded rule with interval 1.
func New(freq Frequency) *Rule {
	return &Rule{Freq: freq, Interval: 1}
}

// Parse reads an RRULE value such as "FREQ=WEEKLY;INTERVAL=2;COUNT=10".
// A leading "RRULE:" is accepted.
func Parse(s string) (*Rule, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "RRULE:")
	if s == "" {
		return nil, fmt.Errorf("%w: empty rule", ErrInvalidRule)
	}

	r := &Rule{Interval: 1}
	hasFreq := false
	for _, part := range strings.Split(s, ";") {
		key, val, ok := strings.Cut(part, "=")
		if !ok || val == "" {
			return nil, fmt.Errorf("%w: malformed part %q", ErrInvalidRule, part)
		}
		key = strings.ToUpper(key)

		switch key {
		case "FREQ":
			f, ok := freqFromName[strings.ToUpper(val)]
			if !ok {
				return nil, fmt.Errorf("%w: unsupported frequency %q", ErrInvalidRule, val)
			}
			r.Freq = f
			hasFreq = true
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("%w: interval %q", ErrInvalidRule, val)
			}
			r.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("%w: count %q", ErrInvalidRule, val)
			}
			r.Count = n
		case "UNTIL":
			// floating values are re-read in the anchor's zone at expansion time
			u, err := temporal.ParseCanonical(val, time.UTC)
			if err != nil {
				return nil, fmt.Errorf("%w: until: %v", ErrInvalidRule, err)
			}
			r.Until = mo.Some(u)
		default:
			r.parts = append(r.parts, key+"="+val)
		}
	}

	if !hasFreq {
		return nil, fmt.Errorf("%w: FREQ is required", ErrInvalidRule)
	}
	if r.Count > 0 && r.Until.IsPresent() {
		return nil, fmt.Errorf("%w: COUNT and UNTIL are mutually exclusive", ErrInvalidRule)
	}
	if _, err := r.extraOptions(); err != nil {
		return nil, err
	}
	return r, nil
}

// String renders the rule in a stable form.
func (r *Rule) String() string {
	var b strings.Builder
	b.WriteString("FREQ=")
	b.WriteString(r.Freq.String())
	if r.Interval > 1 {
		fmt.Fprintf(&b, ";INTERVAL=%d", r.Interval)
	}
	if r.Count > 0 {
		fmt.Fprintf(&b, ";COUNT=%d", r.Count)
	}
	if until, ok := r.Until.Get(); ok {
		b.WriteString(";UNTIL=")
		b.WriteString(until.Canonical())
	}
	for _, p := range r.parts {
		b.WriteString(";")
		b.WriteString(p)
	}
	return b.String()
}

// Clone returns a deep copy.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	c.parts = append([]string(nil), r.parts...)
	return &c
}

// Validate checks the rule against the series anchor.
func (r *Rule) Validate(anchor temporal.Value) error {
	if r.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidRule, r.Interval)
	}
	if _, ok := freqNames[r.Freq]; !ok {
		return fmt.Errorf("%w: unsupported frequency %d", ErrInvalidRule, r.Freq)
	}
	if r.Count < 0 {
		return fmt.Errorf("%w: negative count", ErrInvalidRule)
	}
	if anchor.IsZero() {
		return fmt.Errorf("%w: recurring item has no start", ErrInvalidRule)
	}
	if until, ok := r.Until.Get(); ok && untilFor(anchor, until).Before(dtstart(anchor)) {
		return fmt.Errorf("%w: until %s is before start %s", ErrInvalidRule, until, anchor)
	}
	_, err := r.build(anchor)
	return err
}

func (r *Rule) extraOptions() (rrule.ROption, error) {
	if len(r.parts) == 0 {
		return rrule.ROption{}, nil
	}
	opt, err := rrule.StrToROption("FREQ=" + r.Freq.String() + ";" + strings.Join(r.parts, ";"))
	if err != nil {
		return rrule.ROption{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return *opt, nil
}

func (r *Rule) build(anchor temporal.Value) (*rrule.RRule, error) {
	opt, err := r.extraOptions()
	if err != nil {
		return nil, err
	}
	opt.Freq = r.Freq.rrule()
	opt.Interval = r.Interval
	opt.Count = r.Count
	opt.Dtstart = dtstart(anchor)
	if until, ok := r.Until.Get(); ok {
		opt.Until = untilFor(anchor, until)
	}

	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return rr, nil
}

// dtstart is the anchor as rrule-go sees it: dates at midnight UTC, date-times
// with the wall clock in their own location.
func dtstart(anchor temporal.Value) time.Time {
	return anchor.Time()
}

func untilFor(anchor, until temporal.Value) time.Time {
	if anchor.IsDate() {
		return temporal.DateOf(until.Time()).Time()
	}
	loc := anchor.Location()
	switch {
	case until.IsDate():
		y, m, d := until.Time().Date()
		return time.Date(y, m, d, 23, 59, 59, 0, loc)
	case until.IsFloating():
		return until.Instant(loc)
	default:
		return until.Time()
	}
}

func fromRRule(anchor temporal.Value, t time.Time) temporal.Value {
	switch {
	case anchor.IsDate():
		return temporal.DateOf(t)
	case anchor.IsFloating():
		return temporal.Floating(t)
	default:
		return temporal.DateTime(t)
	}
}

// All returns the lazy, ascending sequence of occurrence starts beginning at
// anchor. The sequence is infinite unless Count or Until bound it, and each
// range over it starts from the anchor again.
func (r *Rule) All(anchor temporal.Value) (iter.Seq[temporal.Value], error) {
	rr, err := r.build(anchor)
	if err != nil {
		return nil, err
	}
	return func(yield func(temporal.Value) bool) {
		next := rr.Iterator()
		for {
			t, ok := next()
			if !ok || !yield(fromRRule(anchor, t)) {
				return
			}
		}
	}, nil
}

// OccurrencesIn returns the occurrences whose start lies in [windowStart,
// windowEnd). Dates and floating values are placed in windowStart's location.
func (r *Rule) OccurrencesIn(anchor temporal.Value, windowStart, windowEnd time.Time) (iter.Seq[temporal.Value], error) {
	all, err := r.All(anchor)
	if err != nil {
		return nil, err
	}
	loc := windowStart.Location()
	return func(yield func(temporal.Value) bool) {
		for v := range all {
			at := v.Instant(loc)
			if !at.Before(windowEnd) {
				return
			}
			if at.Before(windowStart) {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}, nil
}

// Includes reports whether v is one of the occurrences of the series.
func (r *Rule) Includes(anchor, v temporal.Value) bool {
	all, err := r.All(anchor)
	if err != nil {
		return false
	}
	for occ := range all {
		c, err := occ.Compare(v)
		if err != nil || c > 0 {
			return false
		}
		if c == 0 {
			return true
		}
	}
	return false
}

// CountBefore returns the number of occurrences strictly before v.
func (r *Rule) CountBefore(anchor, v temporal.Value) int {
	all, err := r.All(anchor)
	if err != nil {
		return 0
	}
	n := 0
	for occ := range all {
		if !occ.Before(v) {
			break
		}
		n++
	}
	return n
}

// Truncate returns a copy of the rule that ends just before target. When the
// series was bounded by Count the count is reduced to the occurrences before
// target; otherwise Until is set to the instant (or day) preceding target.
func (r *Rule) Truncate(anchor, target temporal.Value) (*Rule, error) {
	if !anchor.Before(target) {
		return nil, fmt.Errorf("%w: cannot end series at or before its first occurrence %s", ErrInvalidRule, anchor)
	}
	c := r.Clone()
	if r.Count > 0 {
		c.Count = r.CountBefore(anchor, target)
		return c, nil
	}
	c.Until = mo.Some(untilBefore(target))
	return c, nil
}

// Remainder returns the rule of a series that continues r from target on.
func (r *Rule) Remainder(anchor, target temporal.Value) *Rule {
	c := r.Clone()
	if r.Count > 0 {
		c.Count = r.Count - r.CountBefore(anchor, target)
		if c.Count < 1 {
			c.Count = 1
		}
	}
	return c
}

func untilBefore(target temporal.Value) temporal.Value {
	switch {
	case target.IsDate():
		return target.AddDays(-1)
	case target.IsFloating():
		return target.AddDuration(-time.Second)
	default:
		return temporal.DateTime(target.Time().Add(-time.Second).UTC())
	}
}
