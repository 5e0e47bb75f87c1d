package codec

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/cyp0633/localcal/store"
	"github.com/cyp0633/localcal/store/temporal"
	"github.com/emersion/go-ical"
)

// Encode writes snap as an iCalendar document. Equal snapshots give equal
// bytes: components follow the snapshot order, each series is followed by
// its modified occurrences sorted by recurrence id, and EXDATE values are
// sorted. Cancelled occurrences of unknown series cannot be represented and
// are left out. A snapshot without components encodes to an empty document,
// which Decode reads back as an empty snapshot.
func Encode(snap *store.Snapshot) ([]byte, error) {
	if len(snap.Components) == 0 && len(snap.Items) == 0 && !hasModified(snap.Exceptions) {
		return nil, nil
	}
	cal := ical.NewCalendar()
	for name, props := range snap.Props {
		cal.Props[name] = props
	}
	prodID := snap.ProdID
	if prodID == "" {
		prodID = CurrentProdID
	}
	cal.Props.SetText(ical.PropVersion, version)
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Children = append(cal.Children, snap.Components...)

	byUID := make(map[string][]*store.Exception)
	for _, x := range snap.Exceptions {
		byUID[x.UID] = append(byUID[x.UID], x)
	}
	for _, xs := range byUID {
		sort.SliceStable(xs, func(i, j int) bool { return xs[i].RecurrenceID < xs[j].RecurrenceID })
	}

	seen := make(map[string]bool, len(snap.Items))
	for _, it := range snap.Items {
		seen[it.UID] = true
		anchor, _, _ := it.Body.Span()

		comp := encodeItem(it, byUID[it.UID], anchor)
		cal.Children = append(cal.Children, comp)
		for _, x := range byUID[it.UID] {
			if x.Kind != store.Modified || x.Body == nil {
				continue
			}
			ridProp, ok := exceptionRID(x, anchor)
			if !ok {
				continue
			}
			cal.Children = append(cal.Children, encodeException(x, ridProp))
		}
	}

	for _, x := range snap.Exceptions {
		if seen[x.UID] || x.Kind != store.Modified || x.Body == nil {
			continue
		}
		ridProp, ok := exceptionRID(x, temporal.Value{})
		if !ok {
			continue
		}
		cal.Children = append(cal.Children, encodeException(x, ridProp))
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

func hasModified(excs []*store.Exception) bool {
	for _, x := range excs {
		if x.Kind == store.Modified && x.Body != nil {
			return true
		}
	}
	return false
}

// ridValue turns a recurrence id back into a value shaped like the series
// anchor.
func ridValue(rid string, anchor temporal.Value) (temporal.Value, error) {
	if anchor.IsZero() {
		return temporal.ParseCanonical(rid, time.UTC)
	}
	return temporal.Resolve(rid, anchor)
}

// exceptionRID returns the RECURRENCE-ID of x shaped like the series anchor.
// Ids that do not fit the anchor are written as stored; a nil prop keeps the
// one carried in x.Extra. ok is false when the id cannot be written at all.
func exceptionRID(x *store.Exception, anchor temporal.Value) (*ical.Prop, bool) {
	if !anchor.IsZero() {
		if v, err := ridValue(x.RecurrenceID, anchor); err == nil {
			p := encodeValues(propRecurrenceID, v)
			return &p, true
		}
	}
	if x.Extra.Props.Get(propRecurrenceID) != nil {
		return nil, true
	}
	v, err := temporal.ParseCanonical(x.RecurrenceID, time.UTC)
	if err != nil {
		return nil, false
	}
	p := encodeValues(propRecurrenceID, v)
	return &p, true
}

func componentName(b store.Body) string {
	if b.Kind() == store.KindTodo {
		return ical.CompToDo
	}
	return ical.CompEvent
}

// newComponent starts a component from a copy of the opaque content.
func newComponent(name string, extra store.Extension) *ical.Component {
	comp := store.CloneComponent(&ical.Component{Name: name, Props: extra.Props, Children: extra.Children})
	if comp.Props == nil {
		comp.Props = make(ical.Props)
	}
	return comp
}

func encodeItem(it *store.Item, excs []*store.Exception, anchor temporal.Value) *ical.Component {
	comp := newComponent(componentName(it.Body), it.Extra)
	writeHeader(comp, it.UID, it.Stamp)
	writeBody(comp, it.Body)

	if rule := it.Body.Recurrence(); rule != nil {
		setProp(comp, ical.Prop{Name: ical.PropRecurrenceRule, Value: rule.String()})
	}

	var exdates []temporal.Value
	for _, x := range excs {
		if x.Kind != store.Cancelled {
			continue
		}
		if v, err := ridValue(x.RecurrenceID, anchor); err == nil {
			exdates = append(exdates, v)
		}
	}
	if len(exdates) > 0 {
		setProp(comp, encodeValues(ical.PropExceptionDates, exdates...))
	}
	return comp
}

func encodeException(x *store.Exception, rid *ical.Prop) *ical.Component {
	comp := newComponent(componentName(x.Body), x.Extra)
	writeHeader(comp, x.UID, x.Stamp)
	writeBody(comp, x.Body)
	if rid != nil {
		setProp(comp, *rid)
	}
	return comp
}

func writeHeader(comp *ical.Component, uid string, stamp time.Time) {
	comp.Props.SetText(ical.PropUID, uid)
	if stamp.IsZero() {
		stamp = time.Now().Truncate(time.Second)
	}
	comp.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
}

func writeBody(comp *ical.Component, body store.Body) {
	switch b := body.(type) {
	case *store.Event:
		setText(comp, ical.PropSummary, b.Summary)
		setText(comp, ical.PropDescription, b.Description)
		setText(comp, ical.PropLocation, b.Location)
		setProp(comp, encodeValues(ical.PropDateTimeStart, b.Start))
		if !b.End.IsZero() {
			setProp(comp, encodeValues(ical.PropDateTimeEnd, b.End))
		}
	case *store.Todo:
		setText(comp, ical.PropSummary, b.Summary)
		setText(comp, ical.PropDescription, b.Description)
		if v, ok := b.Start.Get(); ok {
			setProp(comp, encodeValues(ical.PropDateTimeStart, v))
		}
		if v, ok := b.Due.Get(); ok {
			setProp(comp, encodeValues(ical.PropDue, v))
		}
		if b.Status != "" {
			setProp(comp, ical.Prop{Name: ical.PropStatus, Value: string(b.Status)})
		}
	}
}

func setText(comp *ical.Component, name, value string) {
	if value != "" {
		comp.Props.SetText(name, value)
	}
}

func setProp(comp *ical.Component, prop ical.Prop) {
	comp.Props[prop.Name] = []ical.Prop{prop}
}
