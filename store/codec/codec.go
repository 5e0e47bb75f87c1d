// Package codec reads and writes a store snapshot as one iCalendar document.
//
// Events and tasks map to VEVENT and VTODO components. Cancelled occurrences
// are written as EXDATE values of their series, modified occurrences as
// components sharing the series UID with a RECURRENCE-ID. Properties and
// components without a typed field are carried through unchanged.
package codec

import (
	"log/slog"
	"time"

	"github.com/cyp0633/localcal/store"
)

const (
	// CurrentProdID marks documents whose date-only task due values are
	// exclusive, as RFC 5545 defines them.
	CurrentProdID = "-//cyp0633//localcal 2.0//EN"
	// LegacyProdID marks documents written when date-only due values were
	// stored as the due day itself.
	LegacyProdID = "-//cyp0633//localcal 1.0//EN"

	version = "2.0"
)

const (
	propRecurrenceID = "RECURRENCE-ID"
	paramValue       = "VALUE"
	paramTZID        = "TZID"
	paramRange       = "RANGE"
	valueDate        = "DATE"
)

// Options controls decoding.
type Options struct {
	// Location reads floating date-times. Defaults to time.Local.
	Location *time.Location
	// ProdID is written to every decoded snapshot.
	ProdID string
	// LegacyProdID triggers the due date migration. Empty disables it.
	LegacyProdID string
	// Now stamps components read without DTSTAMP. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// DefaultOptions uses the local zone and the localcal product ids.
var DefaultOptions = Options{
	ProdID:       CurrentProdID,
	LegacyProdID: LegacyProdID,
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.ProdID == "" {
		o.ProdID = CurrentProdID
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func parseError(err error, msg string) error {
	return &store.Error{Type: store.ErrParse, Message: msg, Err: err}
}
