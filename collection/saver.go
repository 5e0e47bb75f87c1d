package collection

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyp0633/localcal/storage"
	"github.com/cyp0633/localcal/store"
	"github.com/cyp0633/localcal/store/codec"
)

// run saves the latest state whenever it is kicked. Kicks arriving during a
// save are coalesced into one more save.
func (c *Collection) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.kick:
			c.saveLatest()
		case <-c.quit:
			c.saveLatest()
			return
		}
	}
}

func (c *Collection) saveLatest() {
	c.mu.Lock()
	c.started++
	gen, st := c.gen, c.st
	pending := gen > c.saved
	c.mu.Unlock()

	var err error
	if pending {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.SaveTimeout)
		err = c.saveNow(ctx, st, gen)
		cancel()
		if err != nil {
			c.logger.Error("failed to save collection", "error", err)
		}
	}

	c.mu.Lock()
	c.finished++
	c.saveErr = err
	close(c.attempt)
	c.attempt = make(chan struct{})
	c.mu.Unlock()
}

// saveNow writes st, which includes every mutation up to gen.
func (c *Collection) saveNow(ctx context.Context, st *store.Store, gen uint64) error {
	data, err := codec.Encode(st.Snapshot())
	if err != nil {
		return err
	}
	info, err := c.blob.Save(ctx, c.name, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen > c.saved {
		c.saved = gen
	}
	c.etag = info.ETag
	c.logger.Debug("collection saved", "bytes", info.Size)
	return nil
}

// Flush waits until every mutation applied before the call is stored. It
// returns the error of the save attempt made on its behalf; the state in
// memory is kept either way and saved again by the next mutation or Flush.
func (c *Collection) Flush(ctx context.Context) error {
	c.mu.Lock()
	target := c.gen
	if c.saved >= target {
		c.mu.Unlock()
		return nil
	}
	since := c.started
	c.mu.Unlock()

	c.schedule()
	for {
		c.mu.Lock()
		done := c.finished > since
		saved, err, wait := c.saved >= target, c.saveErr, c.attempt
		c.mu.Unlock()

		switch {
		case saved:
			return nil
		case done && err != nil:
			return fmt.Errorf("failed to save collection %s: %w", c.name, err)
		}

		select {
		case <-wait:
		case <-c.stopped:
			c.mu.Lock()
			saved, err = c.saved >= target, c.saveErr
			c.mu.Unlock()
			if saved {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to save collection %s: %w", c.name, err)
			}
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close flushes pending mutations and stops the background saver. Further
// mutations fail with ErrClosed; queries keep working on the last state.
func (c *Collection) Close(ctx context.Context) error {
	err := c.Flush(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return err
	}
	c.closed = true
	c.mu.Unlock()

	close(c.quit)
	select {
	case <-c.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.logger.Debug("collection closed")
	return err
}

// Refresh reloads the document when it was changed by someone else since it
// was last loaded or saved. Collections with mutations not yet stored are
// left alone. It reports whether the state was replaced.
func (c *Collection) Refresh(ctx context.Context) (bool, error) {
	info, err := c.blob.Stat(ctx, c.name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		info = storage.Info{Name: c.name}
	case err != nil:
		return false, fmt.Errorf("failed to stat collection %s: %w", c.name, err)
	}
	if !c.stale(info) {
		return false, nil
	}

	c.ops.Lock()
	defer c.ops.Unlock()

	st, loaded, migrated, err := c.load(ctx)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if c.closed || c.saved < c.gen {
		c.mu.Unlock()
		return false, nil
	}
	c.st = st
	c.etag = loaded.ETag
	if migrated {
		c.gen++
	}
	c.mu.Unlock()

	if migrated {
		c.schedule()
	}
	c.logger.Info("collection reloaded", "items", st.Len())
	return true, nil
}

func (c *Collection) stale(info storage.Info) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || info.ETag == c.etag {
		return false
	}
	if c.saved < c.gen {
		c.logger.Warn("document changed while local changes are pending", "etag", info.ETag)
		return false
	}
	return true
}
