package store

import (
	"sort"
	"time"

	"github.com/cyp0633/localcal/store/temporal"
	"github.com/samber/mo"
)

// Occurrence is one concrete instance of an item. RecurrenceID is set for
// occurrences of a recurring series. Occurrences are derived views; changing
// them has no effect on the store.
type Occurrence struct {
	UID          string
	RecurrenceID mo.Option[string]
	Body         Body
	Start        temporal.Value
	End          temporal.Value
}

// ListOccurrences returns the live occurrences overlapping [windowStart,
// windowEnd), ordered by start, uid and recurrence id. Items without length
// are included when they start inside the window.
func (s *Store) ListOccurrences(windowStart, windowEnd time.Time) ([]Occurrence, error) {
	if windowEnd.Before(windowStart) {
		return nil, newError(ErrValidation, nil, "window end %s is before start %s", windowEnd, windowStart)
	}
	st := s.current()
	windowStart = windowStart.In(s.loc)

	var out []Occurrence
	for _, uid := range st.order {
		occs, err := s.expandWindow(st, st.items[uid], windowStart, windowEnd)
		if err != nil {
			return nil, err
		}
		out = append(out, occs...)
	}
	s.sortOccurrences(out)
	return out, nil
}

func (s *Store) expandWindow(st *state, it *Item, windowStart, windowEnd time.Time) ([]Occurrence, error) {
	start, end, ok := it.Body.Span()
	if !ok {
		return nil, nil
	}
	rule := it.Body.Recurrence()
	if rule == nil {
		if !s.overlaps(start, end, windowStart, windowEnd) {
			return nil, nil
		}
		return []Occurrence{{UID: it.UID, Body: it.Body.clone(), Start: start, End: end}}, nil
	}

	// occurrences that started before the window may still overlap it
	dur := end.Sub(start)
	from := windowStart.Add(-dur - 24*time.Hour)
	candidates, err := s.engine.Between(rule, start, from, windowEnd)
	if err != nil {
		return nil, classify(err, "expand %s", it.UID)
	}

	excs := st.exceptions[it.UID]
	var out []Occurrence
	for _, v := range candidates {
		rid := v.Canonical()
		if _, ok := excs[rid]; ok {
			continue
		}
		if s.overlaps(v, v.AddDuration(dur), windowStart, windowEnd) {
			out = append(out, s.occurrence(it, v, rid))
		}
	}
	for _, occ := range s.overrides(it, excs) {
		if s.overlaps(occ.Start, occ.End, windowStart, windowEnd) {
			out = append(out, occ)
		}
	}
	return out, nil
}

// NextOccurrence returns the earliest occurrence that has not ended at now.
// An occurrence in progress at now is returned before later ones.
func (s *Store) NextOccurrence(now time.Time) (mo.Option[Occurrence], error) {
	st := s.current()
	now = now.In(s.loc)

	var best mo.Option[Occurrence]
	consider := func(o Occurrence) {
		if cur, ok := best.Get(); !ok || s.less(o, cur) {
			best = mo.Some(o)
		}
	}

	for _, uid := range st.order {
		it := st.items[uid]
		start, end, ok := it.Body.Span()
		if !ok {
			continue
		}
		rule := it.Body.Recurrence()
		if rule == nil {
			if s.pending(start, end, now) {
				consider(Occurrence{UID: uid, Body: it.Body.clone(), Start: start, End: end})
			}
			continue
		}

		dur := end.Sub(start)
		excs := st.exceptions[uid]
		seq, err := s.engine.After(rule, start, now.Add(-dur))
		if err != nil {
			return mo.None[Occurrence](), classify(err, "expand %s", uid)
		}
		for v := range seq {
			rid := v.Canonical()
			if _, ok := excs[rid]; ok {
				continue
			}
			if s.pending(v, v.AddDuration(dur), now) {
				consider(s.occurrence(it, v, rid))
				break
			}
		}
		for _, occ := range s.overrides(it, excs) {
			if s.pending(occ.Start, occ.End, now) {
				consider(occ)
			}
		}
	}
	return best, nil
}

// TodoList returns every task in positional order. A recurring task is
// represented by its current instance: the last live occurrence starting at
// or before now, or the first upcoming one when none has started yet.
func (s *Store) TodoList(now time.Time) ([]Occurrence, error) {
	st := s.current()
	now = now.In(s.loc)

	var out []Occurrence
	for _, uid := range st.order {
		it := st.items[uid]
		if it.Body.Kind() != KindTodo {
			continue
		}
		if it.Body.Recurrence() == nil {
			start, end, _ := it.Body.Span()
			out = append(out, Occurrence{UID: uid, Body: it.Body.clone(), Start: start, End: end})
			continue
		}
		occ, err := s.currentInstance(st, it, now)
		if err != nil {
			return nil, err
		}
		if o, ok := occ.Get(); ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *Store) currentInstance(st *state, it *Item, now time.Time) (mo.Option[Occurrence], error) {
	if _, _, ok := it.Body.Span(); !ok {
		// a rule without start or due has nothing to expand
		return mo.Some(Occurrence{UID: it.UID, Body: it.Body.clone()}), nil
	}
	seq, err := s.engine.Scan(it.Body.Recurrence(), it.anchor())
	if err != nil {
		return mo.None[Occurrence](), classify(err, "expand %s", it.UID)
	}
	excs := st.exceptions[it.UID]

	var latest mo.Option[Occurrence]
	for v := range seq {
		rid := v.Canonical()
		occ, live := s.instance(it, v, rid, excs)
		if v.Instant(s.loc).After(now) {
			if latest.IsPresent() {
				break
			}
			if live {
				return mo.Some(occ), nil
			}
			continue
		}
		if live {
			latest = mo.Some(occ)
		}
	}
	return latest, nil
}

// instance is the occurrence at rule start v after applying exceptions. live
// is false for cancelled occurrences.
func (s *Store) instance(it *Item, v temporal.Value, rid string, excs map[string]*Exception) (Occurrence, bool) {
	x, ok := excs[rid]
	if !ok {
		return s.occurrence(it, v, rid), true
	}
	if x.Kind == Cancelled {
		return Occurrence{}, false
	}
	return overrideOccurrence(x), true
}

func (s *Store) occurrence(it *Item, v temporal.Value, rid string) Occurrence {
	body := it.Body.shiftTo(v)
	start, end, _ := body.Span()
	return Occurrence{UID: it.UID, RecurrenceID: mo.Some(rid), Body: body, Start: start, End: end}
}

func overrideOccurrence(x *Exception) Occurrence {
	body := x.Body.clone()
	start, end, _ := body.Span()
	return Occurrence{UID: x.UID, RecurrenceID: mo.Some(x.RecurrenceID), Body: body, Start: start, End: end}
}

// overrides returns the modified occurrences of it whose recurrence id is
// reachable from its rule. Dangling exceptions are skipped.
func (s *Store) overrides(it *Item, excs map[string]*Exception) []Occurrence {
	var out []Occurrence
	for _, x := range sortedExceptions(excs) {
		if x.Kind != Modified || x.Body == nil {
			continue
		}
		if _, _, ok := x.Body.Span(); !ok {
			continue
		}
		if _, err := s.resolve(it, x.RecurrenceID); err != nil {
			continue
		}
		out = append(out, overrideOccurrence(x))
	}
	return out
}

// overlaps is the half-open overlap test. Zero-length spans are points.
func (s *Store) overlaps(start, end temporal.Value, windowStart, windowEnd time.Time) bool {
	a, b := start.Instant(s.loc), end.Instant(s.loc)
	if !b.After(a) {
		return !a.Before(windowStart) && a.Before(windowEnd)
	}
	return a.Before(windowEnd) && b.After(windowStart)
}

// pending is overlaps with an unbounded window end.
func (s *Store) pending(start, end temporal.Value, now time.Time) bool {
	a, b := start.Instant(s.loc), end.Instant(s.loc)
	if !b.After(a) {
		return !a.Before(now)
	}
	return b.After(now)
}

func (s *Store) less(a, b Occurrence) bool {
	at, bt := a.Start.Instant(s.loc), b.Start.Instant(s.loc)
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	if a.UID != b.UID {
		return a.UID < b.UID
	}
	return a.RecurrenceID.OrElse("") < b.RecurrenceID.OrElse("")
}

func (s *Store) sortOccurrences(occs []Occurrence) {
	sort.SliceStable(occs, func(i, j int) bool { return s.less(occs[i], occs[j]) })
}
