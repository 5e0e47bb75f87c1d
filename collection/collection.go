// Package collection binds a store to a stored document. A collection is
// the single owner of one calendar or task list: it loads and migrates the
// document on open, applies mutations in memory and persists them in the
// background.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cyp0633/localcal/storage"
	"github.com/cyp0633/localcal/store"
	"github.com/cyp0633/localcal/store/codec"
	"github.com/cyp0633/localcal/store/recurrence"
	"github.com/samber/mo"
)

// ErrClosed is returned by operations on a closed collection.
var ErrClosed = errors.New("collection closed")

// DefaultSaveTimeout bounds one background save.
const DefaultSaveTimeout = 30 * time.Second

// Options configures a Collection. The zero value is usable.
type Options struct {
	// Location reads dates and floating date-times. Defaults to time.Local.
	Location *time.Location
	// Codec controls decoding; its Location and Logger default to the ones
	// of the collection.
	Codec codec.Options
	// Engine expands rules. Defaults to recurrence.NewEngine().
	Engine *recurrence.Engine
	// ResetOnParseError opens an unreadable document as an empty collection
	// instead of failing. The document is overwritten by the next save.
	ResetOnParseError bool
	// SaveTimeout bounds one background save. Defaults to DefaultSaveTimeout.
	SaveTimeout time.Duration
	// Now stamps items. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Engine == nil {
		o.Engine = recurrence.NewEngine()
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = DefaultSaveTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Codec.Location == nil {
		o.Codec.Location = o.Location
	}
	if o.Codec.ProdID == "" {
		o.Codec.ProdID = codec.DefaultOptions.ProdID
	}
	if o.Codec.Now == nil {
		o.Codec.Now = o.Now
	}
	if o.Codec.Logger == nil {
		o.Codec.Logger = o.Logger
	}
	return o
}

// Collection is safe for concurrent use.
type Collection struct {
	name   string
	blob   storage.Blob
	opts   Options
	logger *slog.Logger

	// ops is held shared by mutations and exclusively while the store is
	// replaced, so no mutation is applied to a store being discarded.
	ops sync.RWMutex

	mu       sync.Mutex
	st       *store.Store
	etag     string        // of the document last loaded or saved
	gen      uint64        // bumped by every mutation
	saved    uint64        // generation of the last successful save
	started  uint64        // save attempts begun by the saver
	finished uint64        // save attempts completed by the saver
	saveErr  error         // result of the last save attempt
	attempt  chan struct{} // closed and replaced after every attempt
	closed   bool

	kick    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
}

// Open loads the document name from blob. A missing document opens an empty
// collection. A document written by the legacy format is migrated and saved
// back before Open returns.
func Open(ctx context.Context, blob storage.Blob, name string, opts Options) (*Collection, error) {
	opts = opts.withDefaults()
	c := &Collection{
		name:    name,
		blob:    blob,
		opts:    opts,
		logger:  opts.Logger.With("collection", name),
		attempt: make(chan struct{}),
		kick:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	st, info, migrated, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	c.st = st
	c.etag = info.ETag

	if migrated {
		if err := c.saveNow(ctx, st, 0); err != nil {
			return nil, fmt.Errorf("failed to save migrated collection %s: %w", name, err)
		}
		c.logger.Info("collection migrated")
	}

	go c.run()
	c.logger.Debug("collection opened", "items", st.Len())
	return c, nil
}

func (c *Collection) load(ctx context.Context) (*store.Store, storage.Info, bool, error) {
	data, info, err := c.blob.Load(ctx, c.name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		data, info = nil, storage.Info{Name: c.name}
	case err != nil:
		return nil, storage.Info{}, false, fmt.Errorf("failed to load collection %s: %w", c.name, err)
	}

	snap, migrated, err := codec.Decode(data, c.opts.Codec)
	if err != nil {
		if !c.opts.ResetOnParseError || !store.IsParse(err) {
			return nil, storage.Info{}, false, fmt.Errorf("failed to decode collection %s: %w", c.name, err)
		}
		c.logger.Warn("unreadable document replaced by empty collection", "error", err)
		snap, migrated = nil, false
	}

	st, err := store.New(snap, store.Options{
		Location: c.opts.Location,
		Engine:   c.opts.Engine,
		Now:      c.opts.Now,
		Logger:   c.logger,
	})
	if err != nil {
		return nil, storage.Info{}, false, fmt.Errorf("failed to load collection %s: %w", c.name, err)
	}
	return st, info, migrated, nil
}

// Name returns the document name.
func (c *Collection) Name() string { return c.name }

// Location returns the location dates and floating values are read in.
func (c *Collection) Location() *time.Location { return c.opts.Location }

func (c *Collection) current() *store.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// mutate applies op to the store and schedules a save when it succeeds.
func (c *Collection) mutate(op func(st *store.Store) error) error {
	c.ops.RLock()
	defer c.ops.RUnlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	st := c.st
	c.mu.Unlock()

	if err := op(st); err != nil {
		return err
	}

	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
	c.schedule()
	return nil
}

func (c *Collection) schedule() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Add inserts an item and returns its uid.
func (c *Collection) Add(item store.Item) (string, error) {
	var uid string
	err := c.mutate(func(st *store.Store) error {
		var err error
		uid, err = st.Add(item)
		return err
	})
	return uid, err
}

// EditRequest replaces an item or some of its occurrences.
type EditRequest struct {
	UID string
	// RecurrenceID selects an occurrence of a recurring item; None edits the
	// whole item.
	RecurrenceID mo.Option[string]
	Range        store.Range
	Body         store.Body
}

// Edit applies req.
func (c *Collection) Edit(req EditRequest) error {
	return c.mutate(func(st *store.Store) error {
		return st.Edit(req.UID, req.RecurrenceID, req.Range, req.Body)
	})
}

// DeleteRequest removes items or some of their occurrences. All uids are
// removed or none is.
type DeleteRequest struct {
	UIDs         []string
	RecurrenceID mo.Option[string]
	Range        store.Range
}

// Delete applies req.
func (c *Collection) Delete(req DeleteRequest) error {
	return c.mutate(func(st *store.Store) error {
		return st.DeleteAll(req.UIDs, req.RecurrenceID, req.Range)
	})
}

// Move places uid right after the item after, or first when after is None.
func (c *Collection) Move(uid string, after mo.Option[string]) error {
	return c.mutate(func(st *store.Store) error {
		return st.Move(uid, after)
	})
}

// Get returns a copy of the item with the given uid.
func (c *Collection) Get(uid string) (*store.Item, error) {
	return c.current().Get(uid)
}

// Items returns copies of all items in positional order.
func (c *Collection) Items() []*store.Item {
	return c.current().Items()
}

// Events returns the occurrences overlapping [start, end).
func (c *Collection) Events(start, end time.Time) ([]store.Occurrence, error) {
	return c.current().ListOccurrences(start, end)
}

// Next returns the first occurrence that has not ended at now.
func (c *Collection) Next(now time.Time) (mo.Option[store.Occurrence], error) {
	return c.current().NextOccurrence(now)
}

// Todos returns the task list as shown at now: one entry per task, the
// current instance for recurring tasks.
func (c *Collection) Todos(now time.Time) ([]store.Occurrence, error) {
	return c.current().TodoList(now)
}
