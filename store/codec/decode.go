package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/cyp0633/localcal/store"
	"github.com/cyp0633/localcal/store/recurrence"
	"github.com/cyp0633/localcal/store/temporal"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// Decode parses a document into a snapshot. Empty input yields an empty
// snapshot. When the document carries opts.LegacyProdID its date-only task
// due values are migrated and migrated is true; the snapshot always carries
// opts.ProdID. Malformed documents fail with a store.ErrParse error.
func Decode(data []byte, opts Options) (snap *store.Snapshot, migrated bool, err error) {
	opts = opts.withDefaults()
	snap = &store.Snapshot{ProdID: opts.ProdID}
	if len(bytes.TrimSpace(data)) == 0 {
		return snap, false, nil
	}

	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if errors.Is(err, io.EOF) {
		return snap, false, nil
	}
	if err != nil {
		return nil, false, parseError(err, "decode calendar")
	}

	if prod := cal.Props.Get(ical.PropProductID); prod != nil && opts.LegacyProdID != "" && prod.Value == opts.LegacyProdID {
		n := migrateDue(cal)
		migrated = true
		opts.Logger.Info("migrated legacy task due dates", "shifted", n)
	}

	for name, props := range cal.Props {
		if name == ical.PropProductID || name == ical.PropVersion {
			continue
		}
		if snap.Props == nil {
			snap.Props = make(ical.Props)
		}
		snap.Props[name] = props
	}

	d := &decoder{opts: opts, bases: make(map[string]*store.Item)}
	var overrides []*ical.Component
	for _, comp := range cal.Children {
		switch comp.Name {
		case ical.CompEvent, ical.CompToDo:
			if comp.Props.Get(propRecurrenceID) != nil {
				overrides = append(overrides, comp)
				continue
			}
			item, cancelled, err := d.item(comp)
			if err != nil {
				return nil, false, err
			}
			snap.Items = append(snap.Items, item)
			snap.Exceptions = append(snap.Exceptions, cancelled...)
		default:
			snap.Components = append(snap.Components, comp)
		}
	}
	for _, comp := range overrides {
		x, err := d.exception(comp)
		if err != nil {
			return nil, false, err
		}
		snap.Exceptions = append(snap.Exceptions, x)
	}
	return snap, migrated, nil
}

type decoder struct {
	opts  Options
	bases map[string]*store.Item
}

func (d *decoder) item(comp *ical.Component) (*store.Item, []*store.Exception, error) {
	uid, err := requireUID(comp)
	if err != nil {
		return nil, nil, err
	}
	if _, dup := d.bases[uid]; dup {
		return nil, nil, parseError(nil, fmt.Sprintf("duplicate %s %s", comp.Name, uid))
	}
	body, rest, err := d.body(comp, true)
	if err != nil {
		return nil, nil, err
	}
	item := &store.Item{
		UID:   uid,
		Body:  body,
		Stamp: d.stampOf(comp),
		Extra: store.Extension{Props: rest, Children: comp.Children},
	}
	d.bases[uid] = item

	anchor, _, _ := body.Span()
	var cancelled []*store.Exception
	for i := range comp.Props[ical.PropExceptionDates] {
		values, err := decodeValues(&comp.Props[ical.PropExceptionDates][i], d.opts.Location)
		if err != nil {
			return nil, nil, parseError(err, fmt.Sprintf("%s %s", comp.Name, uid))
		}
		for _, v := range values {
			cancelled = append(cancelled, &store.Exception{
				UID:          uid,
				RecurrenceID: alignedID(v, anchor),
				Kind:         store.Cancelled,
			})
		}
	}
	return item, cancelled, nil
}

func (d *decoder) exception(comp *ical.Component) (*store.Exception, error) {
	uid, err := requireUID(comp)
	if err != nil {
		return nil, err
	}
	ridProp := comp.Props.Get(propRecurrenceID)
	rid, err := decodeValue(ridProp, d.opts.Location)
	if err != nil {
		return nil, parseError(err, fmt.Sprintf("%s %s", comp.Name, uid))
	}
	if strings.EqualFold(ridProp.Params.Get(paramRange), "THISANDFUTURE") {
		d.opts.Logger.Debug("range of recurrence id ignored", "uid", uid, "recurrence_id", rid.Canonical())
	}

	body, rest, err := d.body(comp, false)
	if err != nil {
		return nil, err
	}
	x := &store.Exception{
		UID:   uid,
		Kind:  store.Modified,
		Body:  body,
		Stamp: d.stampOf(comp),
		Extra: store.Extension{Props: rest, Children: comp.Children},
	}
	if base, ok := d.bases[uid]; ok {
		anchor, _, _ := base.Body.Span()
		x.RecurrenceID = alignedID(rid, anchor)
	} else {
		// without series the original property is the only record of the zone
		x.RecurrenceID = rid.Canonical()
		if x.Extra.Props == nil {
			x.Extra.Props = make(ical.Props)
		}
		x.Extra.Props[propRecurrenceID] = []ical.Prop{*ridProp}
	}
	return x, nil
}

// alignedID is the recurrence id of v within a series starting at anchor.
func alignedID(v, anchor temporal.Value) string {
	if anchor.IsZero() {
		return v.Canonical()
	}
	a, err := temporal.Align(v, anchor)
	if err != nil {
		return v.Canonical()
	}
	return a.Canonical()
}

var (
	commonProps = []string{ical.PropUID, ical.PropDateTimeStamp, ical.PropSummary, ical.PropDescription, ical.PropDateTimeStart, propRecurrenceID}
	seriesProps = []string{ical.PropRecurrenceRule, ical.PropExceptionDates}
	eventProps  = []string{ical.PropLocation, ical.PropDateTimeEnd, ical.PropDuration}
	todoProps   = []string{ical.PropDue, ical.PropStatus, ical.PropDuration}
)

// body decodes the typed fields of comp and returns the remaining properties.
// RRULE and EXDATE are typed only on series components.
func (d *decoder) body(comp *ical.Component, series bool) (store.Body, ical.Props, error) {
	consumed := append([]string(nil), commonProps...)
	if series {
		consumed = append(consumed, seriesProps...)
	}
	fail := func(err error) error {
		return parseError(err, fmt.Sprintf("%s %s", comp.Name, uidOf(comp)))
	}

	summary, err := comp.Props.Text(ical.PropSummary)
	if err != nil {
		return nil, nil, fail(err)
	}
	description, err := comp.Props.Text(ical.PropDescription)
	if err != nil {
		return nil, nil, fail(err)
	}
	start, err := d.optionalValue(comp, ical.PropDateTimeStart)
	if err != nil {
		return nil, nil, fail(err)
	}
	var rule *recurrence.Rule
	if p := comp.Props.Get(ical.PropRecurrenceRule); series && p != nil {
		if rule, err = recurrence.Parse(p.Value); err != nil {
			return nil, nil, fail(err)
		}
	}

	var body store.Body
	switch comp.Name {
	case ical.CompEvent:
		consumed = append(consumed, eventProps...)
		s, ok := start.Get()
		if !ok {
			return nil, nil, fail(errors.New("missing DTSTART"))
		}
		location, err := comp.Props.Text(ical.PropLocation)
		if err != nil {
			return nil, nil, fail(err)
		}
		end, err := d.end(comp, s, ical.PropDateTimeEnd)
		if err != nil {
			return nil, nil, fail(err)
		}
		body = &store.Event{
			Summary:     summary,
			Description: description,
			Location:    location,
			Start:       s,
			End:         end.OrEmpty(),
			Rule:        rule,
		}
	default:
		consumed = append(consumed, todoProps...)
		var due mo.Option[temporal.Value]
		if s, ok := start.Get(); ok {
			due, err = d.end(comp, s, ical.PropDue)
		} else {
			due, err = d.optionalValue(comp, ical.PropDue)
		}
		if err != nil {
			return nil, nil, fail(err)
		}
		text, err := comp.Props.Text(ical.PropStatus)
		if err != nil {
			return nil, nil, fail(err)
		}
		status, err := store.ParseStatus(text)
		if err != nil {
			return nil, nil, fail(err)
		}
		body = &store.Todo{
			Summary:     summary,
			Description: description,
			Start:       start,
			Due:         due,
			Status:      status,
			Rule:        rule,
		}
	}

	rest := make(ical.Props)
	for name, props := range comp.Props {
		if !slices.Contains(consumed, name) {
			rest[name] = props
		}
	}
	if len(rest) == 0 {
		rest = nil
	}
	return body, rest, nil
}

func (d *decoder) optionalValue(comp *ical.Component, name string) (mo.Option[temporal.Value], error) {
	p := comp.Props.Get(name)
	if p == nil {
		return mo.None[temporal.Value](), nil
	}
	v, err := decodeValue(p, d.opts.Location)
	if err != nil {
		return mo.None[temporal.Value](), err
	}
	return mo.Some(v), nil
}

// end reads the end property, falling back to DTSTART plus DURATION.
func (d *decoder) end(comp *ical.Component, start temporal.Value, name string) (mo.Option[temporal.Value], error) {
	if comp.Props.Get(name) != nil {
		return d.optionalValue(comp, name)
	}
	p := comp.Props.Get(ical.PropDuration)
	if p == nil {
		return mo.None[temporal.Value](), nil
	}
	dur, err := p.Duration()
	if err != nil {
		return mo.None[temporal.Value](), err
	}
	return mo.Some(start.AddDuration(dur)), nil
}

func requireUID(comp *ical.Component) (string, error) {
	uid := uidOf(comp)
	if uid == "" {
		return "", parseError(nil, comp.Name+" without UID")
	}
	return uid, nil
}

func (d *decoder) stampOf(comp *ical.Component) time.Time {
	if comp.Props.Get(ical.PropDateTimeStamp) != nil {
		if t, err := comp.Props.DateTime(ical.PropDateTimeStamp, time.UTC); err == nil {
			return t.UTC()
		}
	}
	return d.opts.Now().UTC().Truncate(time.Second)
}
