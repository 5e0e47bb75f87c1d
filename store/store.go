package store

import (
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cyp0633/localcal/store/recurrence"
	"github.com/cyp0633/localcal/store/temporal"
	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Options configures a Store. The zero value is usable.
type Options struct {
	// Location interprets dates and floating date-times. Defaults to time.Local.
	Location *time.Location
	// Engine expands rules. Defaults to recurrence.NewEngine().
	Engine *recurrence.Engine
	// Now stamps added and edited items. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Snapshot is the full content of a store as exchanged with the codec.
type Snapshot struct {
	ProdID string
	// Props holds calendar properties other than PRODID and VERSION.
	Props ical.Props
	// Components holds top-level components that are neither events nor
	// tasks, such as VTIMEZONE.
	Components []*ical.Component
	// Items in positional order.
	Items      []*Item
	Exceptions []*Exception
}

// state is never modified once published; mutations build a new one.
type state struct {
	items      map[string]*Item
	order      []string
	exceptions map[string]map[string]*Exception // uid -> recurrence id
}

func (st *state) clone() *state {
	next := &state{
		items:      maps.Clone(st.items),
		order:      slices.Clone(st.order),
		exceptions: make(map[string]map[string]*Exception, len(st.exceptions)),
	}
	for uid, m := range st.exceptions {
		next.exceptions[uid] = maps.Clone(m)
	}
	return next
}

func (st *state) setException(x *Exception) {
	m, ok := st.exceptions[x.UID]
	if !ok {
		m = make(map[string]*Exception)
		st.exceptions[x.UID] = m
	}
	m[x.RecurrenceID] = x
}

func (st *state) remove(uid string) {
	delete(st.items, uid)
	delete(st.exceptions, uid)
	st.order = slices.DeleteFunc(st.order, func(u string) bool { return u == uid })
}

func (st *state) insertAfter(after, uid string) {
	idx := slices.Index(st.order, after)
	st.order = slices.Insert(st.order, idx+1, uid)
}

// Store holds the items and exceptions of one calendar or task list.
// Mutations are applied to a private copy of the state and published only
// when they succeed, so readers never observe a partial edit.
type Store struct {
	mu sync.RWMutex
	st *state

	prodID     string
	props      ical.Props
	components []*ical.Component

	loc    *time.Location
	engine *recurrence.Engine
	now    func() time.Time
	logger *slog.Logger
}

// New creates a store from a snapshot, which may be nil.
func New(snap *Snapshot, opts Options) (*Store, error) {
	s := &Store{
		st: &state{
			items:      make(map[string]*Item),
			exceptions: make(map[string]map[string]*Exception),
		},
		loc:    opts.Location,
		engine: opts.Engine,
		now:    opts.Now,
		logger: opts.Logger,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.engine == nil {
		s.engine = recurrence.NewEngine()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if snap == nil {
		return s, nil
	}

	s.prodID = snap.ProdID
	s.props = cloneProps(snap.Props)
	for _, c := range snap.Components {
		s.components = append(s.components, CloneComponent(c))
	}
	for _, it := range snap.Items {
		if it.Body == nil {
			return nil, newError(ErrValidation, nil, "item %s has no body", it.UID)
		}
		if _, dup := s.st.items[it.UID]; dup {
			return nil, newError(ErrValidation, nil, "duplicate uid %s", it.UID)
		}
		s.st.items[it.UID] = it.Clone()
		s.st.order = append(s.st.order, it.UID)
	}
	for _, x := range snap.Exceptions {
		s.st.setException(x.Clone())
	}
	return s, nil
}

// Location returns the location dates and floating values are read in.
func (s *Store) Location() *time.Location { return s.loc }

func (s *Store) current() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

func (s *Store) mutate(op func(next *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.st.clone()
	if err := op(next); err != nil {
		return err
	}
	s.st = next
	return nil
}

func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// Snapshot returns the current content. Items and exceptions are shared with
// the store and must not be modified.
func (s *Store) Snapshot() *Snapshot {
	st := s.current()
	snap := &Snapshot{
		ProdID:     s.prodID,
		Props:      s.props,
		Components: s.components,
	}
	for _, uid := range st.order {
		snap.Items = append(snap.Items, st.items[uid])
		snap.Exceptions = append(snap.Exceptions, sortedExceptions(st.exceptions[uid])...)
	}
	// exceptions without base item
	var orphans []string
	for uid := range st.exceptions {
		if _, ok := st.items[uid]; !ok {
			orphans = append(orphans, uid)
		}
	}
	sort.Strings(orphans)
	for _, uid := range orphans {
		snap.Exceptions = append(snap.Exceptions, sortedExceptions(st.exceptions[uid])...)
	}
	return snap
}

func sortedExceptions(m map[string]*Exception) []*Exception {
	out := make([]*Exception, 0, len(m))
	for _, rid := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[rid])
	}
	return out
}

// Len returns the number of items.
func (s *Store) Len() int {
	return len(s.current().order)
}

// Get returns a copy of the item with the given uid.
func (s *Store) Get(uid string) (*Item, error) {
	it, ok := s.current().items[uid]
	if !ok {
		return nil, newError(ErrNotFound, nil, "item %s not found", uid)
	}
	return it.Clone(), nil
}

// Items returns copies of all items in positional order.
func (s *Store) Items() []*Item {
	st := s.current()
	out := make([]*Item, 0, len(st.order))
	for _, uid := range st.order {
		out = append(out, st.items[uid].Clone())
	}
	return out
}

// Exceptions returns copies of the exceptions of uid sorted by recurrence id.
func (s *Store) Exceptions(uid string) []*Exception {
	var out []*Exception
	for _, x := range sortedExceptions(s.current().exceptions[uid]) {
		out = append(out, x.Clone())
	}
	return out
}

// Add inserts a new item at the end of the store and returns its uid. A uid
// is generated when item.UID is empty.
func (s *Store) Add(item Item) (string, error) {
	if item.Body == nil {
		return "", newError(ErrValidation, nil, "item has no body")
	}
	body, err := item.Body.normalize()
	if err != nil {
		return "", err
	}
	uid := item.UID
	if uid == "" {
		uid = uuid.NewString()
	}

	err = s.mutate(func(next *state) error {
		if _, exists := next.items[uid]; exists {
			return newError(ErrValidation, nil, "item %s already exists", uid)
		}
		next.items[uid] = &Item{UID: uid, Body: body, Stamp: s.stamp(), Extra: item.Extra.clone()}
		next.order = append(next.order, uid)
		delete(next.exceptions, uid)
		return nil
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug("item added", "uid", uid, "item", describe(body))
	return uid, nil
}

// Edit replaces the body of an item. Without recurrence id the whole item is
// replaced. With one, ThisOnly overrides that occurrence and ThisAndFuture
// ends the series before it and starts a new series, with a new uid, from
// the new body. A new body without rule continues the original rule.
func (s *Store) Edit(uid string, recurrenceID mo.Option[string], rng Range, body Body) error {
	if body == nil {
		return newError(ErrValidation, nil, "edit of %s has no body", uid)
	}
	normalized, err := body.normalize()
	if err != nil {
		return err
	}

	return s.mutate(func(next *state) error {
		it, ok := next.items[uid]
		if !ok {
			return newError(ErrNotFound, nil, "item %s not found", uid)
		}
		if err := checkKind(it.Body, normalized); err != nil {
			return err
		}

		rid, ok := recurrenceID.Get()
		if !ok {
			replaced := &Item{UID: uid, Body: normalized, Stamp: s.stamp(), Extra: it.Extra}
			next.items[uid] = replaced
			s.keepReachable(next, uid, normalized)
			s.logger.Debug("item edited", "uid", uid)
			return nil
		}

		target, err := s.resolve(it, rid)
		if err != nil {
			return err
		}

		if rng == ThisOnly {
			x := &Exception{
				UID:          uid,
				RecurrenceID: target.Canonical(),
				Kind:         Modified,
				Body:         normalized.withRule(nil),
				Stamp:        s.stamp(),
			}
			if prev, ok := next.exceptions[uid][x.RecurrenceID]; ok {
				x.Extra = prev.Extra
			}
			next.setException(x)
			s.logger.Debug("occurrence edited", "uid", uid, "recurrence_id", x.RecurrenceID)
			return nil
		}

		anchor := it.anchor()
		series := normalized
		if series.Recurrence() == nil {
			rest := it.Body.Recurrence().Remainder(anchor, target)
			if series, err = series.withRule(rest).normalize(); err != nil {
				return err
			}
		}

		if target.Equal(anchor) {
			next.items[uid] = &Item{UID: uid, Body: series, Stamp: s.stamp(), Extra: it.Extra}
			delete(next.exceptions, uid)
			s.logger.Debug("series edited from first occurrence", "uid", uid)
			return nil
		}

		if err := s.truncate(next, it, target); err != nil {
			return err
		}
		newUID := uuid.NewString()
		next.items[newUID] = &Item{UID: newUID, Body: series, Stamp: s.stamp(), Extra: it.Extra.clone()}
		next.insertAfter(uid, newUID)
		s.logger.Debug("series split", "uid", uid, "new_uid", newUID, "recurrence_id", target.Canonical())
		return nil
	})
}

// Delete removes an item. Without recurrence id the item and its exceptions
// are removed. With one, ThisOnly cancels that occurrence and ThisAndFuture
// ends the series before it.
func (s *Store) Delete(uid string, recurrenceID mo.Option[string], rng Range) error {
	return s.DeleteAll([]string{uid}, recurrenceID, rng)
}

// DeleteAll applies Delete to each uid. Either all deletions succeed or
// none is applied.
func (s *Store) DeleteAll(uids []string, recurrenceID mo.Option[string], rng Range) error {
	return s.mutate(func(next *state) error {
		for _, uid := range uids {
			if err := s.deleteOne(next, uid, recurrenceID, rng); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) deleteOne(next *state, uid string, recurrenceID mo.Option[string], rng Range) error {
	it, ok := next.items[uid]
	if !ok {
		return newError(ErrNotFound, nil, "item %s not found", uid)
	}
	rid, ok := recurrenceID.Get()
	if !ok {
		next.remove(uid)
		s.logger.Debug("item deleted", "uid", uid)
		return nil
	}

	target, err := s.resolve(it, rid)
	if err != nil {
		return err
	}
	if rng == ThisOnly {
		next.setException(&Exception{
			UID:          uid,
			RecurrenceID: target.Canonical(),
			Kind:         Cancelled,
			Stamp:        s.stamp(),
		})
		s.logger.Debug("occurrence cancelled", "uid", uid, "recurrence_id", target.Canonical())
		return nil
	}

	if target.Equal(it.anchor()) {
		next.remove(uid)
		s.logger.Debug("series deleted from first occurrence", "uid", uid)
		return nil
	}
	if err := s.truncate(next, it, target); err != nil {
		return err
	}
	s.logger.Debug("series truncated", "uid", uid, "recurrence_id", target.Canonical())
	return nil
}

// truncate ends the series of it just before target and drops the
// exceptions at or after target.
func (s *Store) truncate(next *state, it *Item, target temporal.Value) error {
	anchor := it.anchor()
	rule, err := it.Body.Recurrence().Truncate(anchor, target)
	if err != nil {
		return classify(err, "truncate %s at %s", it.UID, target)
	}
	next.items[it.UID] = &Item{
		UID:   it.UID,
		Body:  it.Body.withRule(rule),
		Stamp: s.stamp(),
		Extra: it.Extra,
	}

	for rid := range next.exceptions[it.UID] {
		v, err := temporal.Resolve(rid, anchor)
		if err != nil || !v.Before(target) {
			delete(next.exceptions[it.UID], rid)
		}
	}
	return nil
}

// keepReachable drops the exceptions of uid whose recurrence id is no longer
// an occurrence of body's series.
func (s *Store) keepReachable(next *state, uid string, body Body) {
	rule := body.Recurrence()
	if rule == nil {
		delete(next.exceptions, uid)
		return
	}
	anchor, _, _ := body.Span()
	for rid := range next.exceptions[uid] {
		v, err := temporal.Resolve(rid, anchor)
		if err != nil || !rule.Includes(anchor, v) {
			delete(next.exceptions[uid], rid)
			s.logger.Debug("exception dropped by edit", "uid", uid, "recurrence_id", rid)
		}
	}
}

// resolve turns a recurrence id into the occurrence start it addresses.
func (s *Store) resolve(it *Item, rid string) (temporal.Value, error) {
	rule := it.Body.Recurrence()
	if rule == nil {
		return temporal.Value{}, newError(ErrNotFound, nil, "item %s is not recurring", it.UID)
	}
	anchor := it.anchor()
	v, err := temporal.Resolve(rid, anchor)
	if err != nil {
		return temporal.Value{}, newError(ErrNotFound, err, "recurrence id %q of %s", rid, it.UID)
	}
	if !rule.Includes(anchor, v) {
		return temporal.Value{}, newError(ErrNotFound, nil, "item %s has no occurrence %s", it.UID, rid)
	}
	return v, nil
}

// Move places uid right after the item after, or first when after is absent.
// Moving an item after itself does nothing.
func (s *Store) Move(uid string, after mo.Option[string]) error {
	prev, hasPrev := after.Get()
	if hasPrev && prev == uid {
		return nil
	}
	return s.mutate(func(next *state) error {
		src := slices.Index(next.order, uid)
		if src < 0 {
			return newError(ErrNotFound, nil, "item %s not found", uid)
		}
		dst := 0
		if hasPrev {
			idx := slices.Index(next.order, prev)
			if idx < 0 {
				return newError(ErrNotFound, nil, "item %s not found", prev)
			}
			dst = idx + 1
		}
		next.order = slices.Delete(next.order, src, src+1)
		if dst > src {
			dst--
		}
		next.order = slices.Insert(next.order, dst, uid)
		return nil
	})
}
