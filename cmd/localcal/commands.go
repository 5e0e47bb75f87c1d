package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cyp0633/localcal/collection"
	"github.com/cyp0633/localcal/internal/config"
	"github.com/cyp0633/localcal/internal/refresh"
	"github.com/cyp0633/localcal/store"
	"github.com/samber/mo"
)

func (a *app) list(ctx context.Context, args []string) error {
	fs := newFlagSet("list")
	name := fs.String("c", "", "collection")
	from := fs.String("from", "", "window start (default today)")
	to := fs.String("to", "", "window end, exclusive (default from + days)")
	days := fs.Int("days", 7, "window length in days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	now := time.Now().In(a.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc)
	if *from != "" {
		v, err := parseValue(*from, a.loc)
		if err != nil {
			return fmt.Errorf("from: %w", err)
		}
		start = v.Instant(a.loc)
	}
	end := start.AddDate(0, 0, *days)
	if *to != "" {
		v, err := parseValue(*to, a.loc)
		if err != nil {
			return fmt.Errorf("to: %w", err)
		}
		end = v.Instant(a.loc)
	}

	c, _, err := a.open(ctx, *name, config.KindCalendar)
	if err != nil {
		return err
	}
	defer a.finish(ctx, c)

	occs, err := c.Events(start, end)
	if err != nil {
		return err
	}
	a.printEvents(occs)
	return nil
}

func (a *app) next(ctx context.Context, args []string) error {
	fs := newFlagSet("next")
	name := fs.String("c", "", "collection")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, _, err := a.open(ctx, *name, config.KindCalendar)
	if err != nil {
		return err
	}
	defer a.finish(ctx, c)

	occ, err := c.Next(time.Now())
	if err != nil {
		return err
	}
	if o, ok := occ.Get(); ok {
		a.printEvents([]store.Occurrence{o})
	} else {
		fmt.Fprintln(a.out, "nothing scheduled")
	}
	return nil
}

func (a *app) todos(ctx context.Context, args []string) error {
	fs := newFlagSet("todos")
	name := fs.String("c", "", "collection")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, _, err := a.open(ctx, *name, config.KindTodo)
	if err != nil {
		return err
	}
	defer a.finish(ctx, c)

	occs, err := c.Todos(time.Now())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, o := range occs {
		t, ok := o.Body.(*store.Todo)
		if !ok {
			continue
		}
		mark := "[ ]"
		if t.Status.Done() {
			mark = "[x]"
		}
		due := ""
		if v, ok := t.Due.Get(); ok {
			due = formatValue(store.DisplayDue(v), a.loc)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, t.Summary, due, occurrenceID(o))
	}
	return w.Flush()
}

func (a *app) printEvents(occs []store.Occurrence) {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, o := range occs {
		summary := ""
		if e, ok := o.Body.(*store.Event); ok {
			summary = e.Summary
		}
		end := o.End
		if end.IsDate() {
			end = end.AddDays(-1)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", formatValue(o.Start, a.loc), formatValue(end, a.loc), summary, occurrenceID(o))
	}
	w.Flush()
}

func occurrenceID(o store.Occurrence) string {
	if rid, ok := o.RecurrenceID.Get(); ok {
		return o.UID + " " + rid
	}
	return o.UID
}

func registerBody(fs *flag.FlagSet, f *bodyFlags) {
	fs.StringVar(&f.summary, "summary", "", "summary")
	fs.StringVar(&f.description, "description", "", "description")
	fs.StringVar(&f.location, "location", "", "event location")
	fs.StringVar(&f.start, "start", "", "start date or date-time")
	fs.StringVar(&f.end, "end", "", "event end; dates are inclusive")
	fs.StringVar(&f.due, "due", "", "task due date or date-time")
	fs.StringVar(&f.status, "status", "", "task status")
	fs.StringVar(&f.rrule, "rrule", "", `recurrence rule such as "FREQ=WEEKLY;BYDAY=MO", or "none"`)
}

func (a *app) add(ctx context.Context, args []string, kind config.Kind) error {
	fs := newFlagSet("add")
	name := fs.String("c", "", "collection")
	var f bodyFlags
	registerBody(fs, &f)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var body store.Body = &store.Event{}
	if kind == config.KindTodo {
		body = &store.Todo{}
	}
	if err := f.apply(body, a.loc); err != nil {
		return err
	}

	c, col, err := a.open(ctx, *name, kind)
	if err != nil {
		return err
	}
	if col.Kind != kind {
		a.finish(ctx, c)
		return fmt.Errorf("collection %s holds %ss", col.Name, col.Kind)
	}
	uid, err := c.Add(store.Item{Body: body})
	if err != nil {
		a.finish(ctx, c)
		return err
	}
	if err := a.finish(ctx, c); err != nil {
		return err
	}
	fmt.Fprintln(a.out, uid)
	return nil
}

func (a *app) edit(ctx context.Context, args []string) error {
	fs := newFlagSet("edit")
	name := fs.String("c", "", "collection")
	uid := fs.String("uid", "", "item to edit")
	rid := fs.String("rid", "", "recurrence id of the occurrence to edit")
	rng := fs.String("range", "", `"THISANDFUTURE" to edit the following occurrences too`)
	var f bodyFlags
	registerBody(fs, &f)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *uid == "" {
		return errors.New("edit needs -uid")
	}
	r, err := store.ParseRange(*rng)
	if err != nil {
		return err
	}

	c, _, err := a.open(ctx, *name, config.KindCalendar)
	if err != nil {
		return err
	}
	defer a.finish(ctx, c)

	it, err := c.Get(*uid)
	if err != nil {
		return err
	}
	body := copyBody(it.Body)
	if *rid != "" && r == store.ThisOnly {
		if body, err = occurrenceBody(it, *rid); err != nil {
			return err
		}
	}
	if err := f.apply(body, a.loc); err != nil {
		return err
	}
	if err := c.Edit(collection.EditRequest{
		UID:          *uid,
		RecurrenceID: optional(*rid),
		Range:        r,
		Body:         body,
	}); err != nil {
		return err
	}
	return a.finish(ctx, c)
}

func (a *app) delete(ctx context.Context, args []string) error {
	fs := newFlagSet("delete")
	name := fs.String("c", "", "collection")
	uids := fs.String("uid", "", "comma separated items to delete")
	rid := fs.String("rid", "", "recurrence id of the occurrence to delete")
	rng := fs.String("range", "", `"THISANDFUTURE" to delete the following occurrences too`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	list := splitList(*uids)
	if len(list) == 0 {
		return errors.New("delete needs -uid")
	}
	r, err := store.ParseRange(*rng)
	if err != nil {
		return err
	}

	c, _, err := a.open(ctx, *name, config.KindCalendar)
	if err != nil {
		return err
	}
	defer a.finish(ctx, c)

	if err := c.Delete(collection.DeleteRequest{UIDs: list, RecurrenceID: optional(*rid), Range: r}); err != nil {
		return err
	}
	return a.finish(ctx, c)
}

func (a *app) move(ctx context.Context, args []string) error {
	fs := newFlagSet("move")
	name := fs.String("c", "", "collection")
	uid := fs.String("uid", "", "item to move")
	after := fs.String("after", "", "item to place it after; empty moves it first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *uid == "" {
		return errors.New("move needs -uid")
	}

	c, _, err := a.open(ctx, *name, config.KindTodo)
	if err != nil {
		return err
	}
	defer a.finish(ctx, c)

	if err := c.Move(*uid, optional(*after)); err != nil {
		return err
	}
	return a.finish(ctx, c)
}

func (a *app) watch(ctx context.Context, args []string) error {
	fs := newFlagSet("watch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var targets []refresh.Target
	var open []*collection.Collection
	defer func() {
		for _, c := range open {
			if err := a.finish(context.Background(), c); err != nil {
				a.logger.Error("failed to close collection", "collection", c.Name(), "error", err)
			}
		}
	}()
	for _, col := range a.cfg.Collections {
		c, _, err := a.open(ctx, col.Name, col.Kind)
		if err != nil {
			return err
		}
		open = append(open, c)
		targets = append(targets, c)
	}

	s, err := refresh.New(a.cfg.RefreshCron, a.loc, a.logger, targets...)
	if err != nil {
		return err
	}
	s.Start()
	a.logger.Info("watching collections", "count", len(targets), "schedule", a.cfg.RefreshCron, "next", s.Next())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	a.logger.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(stopCtx)
}

func optional(s string) mo.Option[string] {
	if s = strings.TrimSpace(s); s == "" {
		return mo.None[string]()
	}
	return mo.Some(s)
}
