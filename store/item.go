package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/cyp0633/localcal/store/recurrence"
	"github.com/cyp0633/localcal/store/temporal"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// BodyKind tells events and tasks apart.
type BodyKind int

const (
	KindEvent BodyKind = iota
	KindTodo
)

func (k BodyKind) String() string {
	if k == KindTodo {
		return "todo"
	}
	return "event"
}

// Body is the typed payload of an item: *Event or *Todo.
type Body interface {
	Kind() BodyKind
	// Recurrence returns the series rule, nil for single items.
	Recurrence() *recurrence.Rule
	// Span returns the effective start and end of the body. ok is false for
	// tasks without any date.
	Span() (start, end temporal.Value, ok bool)

	normalize() (Body, error)
	clone() Body
	withRule(r *recurrence.Rule) Body
	shiftTo(start temporal.Value) Body
}

// Event is a calendar entry. End is exclusive for all-day events.
type Event struct {
	Summary     string
	Description string
	Location    string
	Start       temporal.Value
	End         temporal.Value
	Rule        *recurrence.Rule
}

func (e *Event) Kind() BodyKind               { return KindEvent }
func (e *Event) Recurrence() *recurrence.Rule { return e.Rule }

func (e *Event) Span() (temporal.Value, temporal.Value, bool) {
	if e.Start.IsZero() {
		return temporal.Value{}, temporal.Value{}, false
	}
	return e.Start, eventEnd(e.Start, e.End), true
}

// eventEnd fills in the implied end of an event: one day for all-day events,
// none for timed ones.
func eventEnd(start, end temporal.Value) temporal.Value {
	if !end.IsZero() && !(start.IsDate() && end.Equal(start)) {
		return end
	}
	if start.IsDate() {
		return start.AddDays(1)
	}
	return start
}

func (e *Event) normalize() (Body, error) {
	n := e.clone().(*Event)
	if strings.TrimSpace(n.Summary) == "" {
		return nil, newError(ErrValidation, nil, "event summary is required")
	}
	if n.Start.IsZero() {
		return nil, newError(ErrValidation, nil, "event start is required")
	}
	n.End = eventEnd(n.Start, n.End)
	c, err := n.Start.Compare(n.End)
	if err != nil {
		return nil, classify(err, "event start and end")
	}
	if c > 0 {
		return nil, newError(ErrValidation, nil, "event start %s is after end %s", n.Start, n.End)
	}
	if n.Rule != nil {
		if err := n.Rule.Validate(n.Start); err != nil {
			return nil, classify(err, "event rule")
		}
	}
	return n, nil
}

func (e *Event) clone() Body {
	c := *e
	c.Rule = e.Rule.Clone()
	return &c
}

func (e *Event) withRule(r *recurrence.Rule) Body {
	c := e.clone().(*Event)
	c.Rule = r
	return c
}

func (e *Event) shiftTo(start temporal.Value) Body {
	c := e.clone().(*Event)
	d := start.Sub(e.Start)
	c.Start = start
	c.End = eventEnd(e.Start, e.End).AddDuration(d)
	return c
}

// Status is the VTODO STATUS value.
type Status string

const (
	StatusNeedsAction Status = "NEEDS-ACTION"
	StatusInProcess   Status = "IN-PROCESS"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
)

// ParseStatus accepts the iCalendar spelling in any case. The empty string
// maps to StatusNeedsAction.
func ParseStatus(s string) (Status, error) {
	if s == "" {
		return StatusNeedsAction, nil
	}
	st := Status(strings.ToUpper(strings.ReplaceAll(s, "_", "-")))
	switch st {
	case StatusNeedsAction, StatusInProcess, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", newError(ErrValidation, nil, "unknown task status %q", s)
}

// Done reports whether the task is shown as checked off. Cancelled tasks
// count as done.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Todo is a task. Due is exclusive for date-only values, see DisplayDue.
type Todo struct {
	Summary     string
	Description string
	Start       mo.Option[temporal.Value]
	Due         mo.Option[temporal.Value]
	Status      Status
	Rule        *recurrence.Rule
}

func (t *Todo) Kind() BodyKind               { return KindTodo }
func (t *Todo) Recurrence() *recurrence.Rule { return t.Rule }

func (t *Todo) Span() (temporal.Value, temporal.Value, bool) {
	start, hasStart := t.Start.Get()
	due, hasDue := t.Due.Get()
	switch {
	case hasStart && hasDue:
		return start, due, true
	case hasStart:
		return start, start, true
	case hasDue:
		return due, due, true
	}
	return temporal.Value{}, temporal.Value{}, false
}

func (t *Todo) normalize() (Body, error) {
	n := t.clone().(*Todo)
	st, err := ParseStatus(string(n.Status))
	if err != nil {
		return nil, err
	}
	n.Status = st

	start, hasStart := n.Start.Get()
	due, hasDue := n.Due.Get()
	if hasStart && hasDue {
		c, err := start.Compare(due)
		if err != nil {
			return nil, classify(err, "task start and due")
		}
		if c > 0 {
			return nil, newError(ErrValidation, nil, "task start %s is after due %s", start, due)
		}
	}
	if n.Rule != nil {
		anchor, _, _ := n.Span()
		if err := n.Rule.Validate(anchor); err != nil {
			return nil, classify(err, "task rule")
		}
	}
	return n, nil
}

func (t *Todo) clone() Body {
	c := *t
	c.Rule = t.Rule.Clone()
	return &c
}

func (t *Todo) withRule(r *recurrence.Rule) Body {
	c := t.clone().(*Todo)
	c.Rule = r
	return c
}

func (t *Todo) shiftTo(start temporal.Value) Body {
	c := t.clone().(*Todo)
	anchor, _, ok := t.Span()
	if !ok {
		return c
	}
	d := start.Sub(anchor)
	if v, ok := t.Start.Get(); ok {
		c.Start = mo.Some(v.AddDuration(d))
	}
	if v, ok := t.Due.Get(); ok {
		c.Due = mo.Some(v.AddDuration(d))
	}
	return c
}

// DisplayDue converts a stored due value to the one shown to users: date-only
// dues are stored exclusive (the day after), users see the day itself.
func DisplayDue(due temporal.Value) temporal.Value {
	if due.IsDate() {
		return due.AddDays(-1)
	}
	return due
}

// StorageDue is the inverse of DisplayDue.
func StorageDue(due temporal.Value) temporal.Value {
	if due.IsDate() {
		return due.AddDays(1)
	}
	return due
}

// Extension carries the iCalendar content of a component that has no typed
// field, such as X- properties, ATTENDEE or VALARM children.
type Extension struct {
	Props    ical.Props
	Children []*ical.Component
}

func (x Extension) clone() Extension {
	c := Extension{Props: cloneProps(x.Props)}
	for _, child := range x.Children {
		c.Children = append(c.Children, CloneComponent(child))
	}
	return c
}

func cloneProps(props ical.Props) ical.Props {
	if props == nil {
		return nil
	}
	c := make(ical.Props, len(props))
	for name, list := range props {
		cl := make([]ical.Prop, len(list))
		for i, p := range list {
			cl[i] = ical.Prop{Name: p.Name, Value: p.Value}
			if p.Params != nil {
				cl[i].Params = make(ical.Params, len(p.Params))
				for k, v := range p.Params {
					cl[i].Params[k] = append([]string(nil), v...)
				}
			}
		}
		c[name] = cl
	}
	return c
}

// CloneComponent deep-copies an iCalendar component.
func CloneComponent(comp *ical.Component) *ical.Component {
	if comp == nil {
		return nil
	}
	c := &ical.Component{Name: comp.Name, Props: cloneProps(comp.Props)}
	for _, child := range comp.Children {
		c.Children = append(c.Children, CloneComponent(child))
	}
	return c
}

// Item is a base entry of the store, single or recurring.
type Item struct {
	UID   string
	Body  Body
	Stamp time.Time
	Extra Extension
}

// Clone returns a deep copy of the item.
func (it *Item) Clone() *Item {
	c := &Item{UID: it.UID, Stamp: it.Stamp, Extra: it.Extra.clone()}
	if it.Body != nil {
		c.Body = it.Body.clone()
	}
	return c
}

// anchor is the start the item's series is expanded from.
func (it *Item) anchor() temporal.Value {
	start, _, _ := it.Body.Span()
	return start
}

// ExceptionKind distinguishes overrides from suppressed occurrences.
type ExceptionKind int

const (
	Modified ExceptionKind = iota
	Cancelled
)

func (k ExceptionKind) String() string {
	if k == Cancelled {
		return "cancelled"
	}
	return "modified"
}

// Exception overrides or cancels one occurrence of a recurring item.
// RecurrenceID is the canonical form of the occurrence's rule-derived start.
type Exception struct {
	UID          string
	RecurrenceID string
	Kind         ExceptionKind
	Body         Body // nil when cancelled
	Stamp        time.Time
	Extra        Extension
}

// Clone returns a deep copy of the exception.
func (x *Exception) Clone() *Exception {
	c := *x
	c.Extra = x.Extra.clone()
	if x.Body != nil {
		c.Body = x.Body.clone()
	}
	return &c
}

// Range scopes an edit or delete of a recurring item.
type Range int

const (
	ThisOnly Range = iota
	ThisAndFuture
)

func (r Range) String() string {
	if r == ThisAndFuture {
		return "THISANDFUTURE"
	}
	return ""
}

// ParseRange reads the RANGE parameter form. The empty string and "NONE"
// select ThisOnly.
func ParseRange(s string) (Range, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return ThisOnly, nil
	case "THISANDFUTURE":
		return ThisAndFuture, nil
	}
	return ThisOnly, newError(ErrValidation, nil, "unknown range %q", s)
}

func checkKind(old, body Body) error {
	if old.Kind() != body.Kind() {
		return newError(ErrValidation, nil, "cannot replace %s with %s", old.Kind(), body.Kind())
	}
	return nil
}

func describe(b Body) string {
	switch v := b.(type) {
	case *Event:
		return fmt.Sprintf("event %q", v.Summary)
	case *Todo:
		return fmt.Sprintf("task %q", v.Summary)
	}
	return "item"
}
