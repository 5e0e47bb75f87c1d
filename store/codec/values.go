package codec

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cyp0633/localcal/store/temporal"
	"github.com/emersion/go-ical"
)

var zones sync.Map // TZID -> *time.Location, or error

func loadZone(tzid string) (*time.Location, error) {
	if v, ok := zones.Load(tzid); ok {
		if err, isErr := v.(error); isErr {
			return nil, err
		}
		return v.(*time.Location), nil
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		err = fmt.Errorf("unknown TZID %q: %w", tzid, err)
		zones.Store(tzid, err)
		return nil, err
	}
	zones.Store(tzid, loc)
	return loc, nil
}

// decodeValues reads the comma separated date or date-time values of prop.
func decodeValues(prop *ical.Prop, loc *time.Location) ([]temporal.Value, error) {
	var out []temporal.Value
	for _, s := range strings.Split(prop.Value, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		v, err := decodeOne(prop, s, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeValue(prop *ical.Prop, loc *time.Location) (temporal.Value, error) {
	return decodeOne(prop, strings.TrimSpace(prop.Value), loc)
}

func decodeOne(prop *ical.Prop, s string, loc *time.Location) (temporal.Value, error) {
	isDate := strings.EqualFold(prop.Params.Get(paramValue), valueDate) || len(s) == len(temporal.DateFormat)
	switch {
	case isDate:
		t, err := time.Parse(temporal.DateFormat, s)
		if err != nil {
			return temporal.Value{}, fmt.Errorf("%s: %w", prop.Name, err)
		}
		return temporal.DateOf(t), nil
	case strings.HasSuffix(s, "Z"):
		t, err := time.Parse(temporal.UTCDateTimeFormat, s)
		if err != nil {
			return temporal.Value{}, fmt.Errorf("%s: %w", prop.Name, err)
		}
		return temporal.DateTime(t.UTC()), nil
	}

	if tzid := prop.Params.Get(paramTZID); tzid != "" {
		zone, err := loadZone(tzid)
		if err != nil {
			return temporal.Value{}, fmt.Errorf("%s: %w", prop.Name, err)
		}
		t, err := time.ParseInLocation(temporal.LocalDateTimeFormat, s, zone)
		if err != nil {
			return temporal.Value{}, fmt.Errorf("%s: %w", prop.Name, err)
		}
		return temporal.DateTime(t), nil
	}

	t, err := time.ParseInLocation(temporal.LocalDateTimeFormat, s, loc)
	if err != nil {
		return temporal.Value{}, fmt.Errorf("%s: %w", prop.Name, err)
	}
	return temporal.Floating(t), nil
}

func namedZone(loc *time.Location) bool {
	name := loc.String()
	if name == "" || name == "Local" {
		return false
	}
	_, err := loadZone(name)
	return err == nil
}

// encodeValues writes values, which must share kind and zone, as one property.
func encodeValues(name string, values ...temporal.Value) ical.Prop {
	prop := ical.Prop{Name: name}
	if len(values) == 0 {
		return prop
	}
	first := values[0]
	if !first.IsDate() && !first.IsFloating() && !first.IsUTC() && !namedZone(first.Location()) {
		// zones without IANA name (time.Local, fixed offsets) keep their wall
		// clock as floating values, read back in the store location
		floating := make([]temporal.Value, len(values))
		for i, v := range values {
			floating[i] = temporal.Floating(v.Time())
		}
		values = floating
		first = values[0]
	}

	switch {
	case first.IsDate():
		prop.Params = ical.Params{paramValue: []string{valueDate}}
	case !first.IsFloating() && !first.IsUTC():
		prop.Params = ical.Params{paramTZID: []string{first.Location().String()}}
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.Canonical()
	}
	prop.Value = strings.Join(parts, ",")
	return prop
}
