// Command localcal manages local calendars and task lists stored as
// iCalendar documents.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyp0633/localcal/collection"
	"github.com/cyp0633/localcal/internal/config"
	"github.com/cyp0633/localcal/internal/logging"
	"github.com/cyp0633/localcal/storage"
	"github.com/cyp0633/localcal/storage/file"
	"github.com/cyp0633/localcal/storage/memory"
	"github.com/cyp0633/localcal/storage/sqlite"
)

const usage = `usage: localcal [-config path] <command> [flags]

commands:
  list       occurrences of a calendar in a window
  next       the next occurrence of a calendar
  todos      the task list
  add-event  add an event
  add-todo   add a task
  edit       change an item or some of its occurrences
  delete     delete items or some of their occurrences
  move       reorder an item
  watch      keep collections open and reload them on schedule
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "localcal:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("localcal", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", defaultConfigPath(), "path of the YAML configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.SetupWriter(stderr, cfg.LogLevel)

	a, err := newApp(cfg, logger, stdout)
	if err != nil {
		return err
	}
	defer a.close()

	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "list":
		return a.list(ctx, cmdArgs)
	case "next":
		return a.next(ctx, cmdArgs)
	case "todos":
		return a.todos(ctx, cmdArgs)
	case "add-event":
		return a.add(ctx, cmdArgs, config.KindCalendar)
	case "add-todo":
		return a.add(ctx, cmdArgs, config.KindTodo)
	case "edit":
		return a.edit(ctx, cmdArgs)
	case "delete":
		return a.delete(ctx, cmdArgs)
	case "move":
		return a.move(ctx, cmdArgs)
	case "watch":
		return a.watch(ctx, cmdArgs)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("LOCALCAL_CONFIG"); p != "" {
		return p
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "localcal", "config.yaml")
	}
	return "localcal.yaml"
}

type app struct {
	cfg    *config.Config
	loc    *time.Location
	blob   storage.Blob
	close  func()
	logger *slog.Logger
	out    io.Writer
}

func newApp(cfg *config.Config, logger *slog.Logger, out io.Writer) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, loc: loc, logger: logger, out: out, close: func() {}}

	switch cfg.Storage.Driver {
	case config.DriverFile:
		b, err := file.New(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		a.blob = b
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		b, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		a.blob = b
		a.close = func() {
			if err := b.Close(); err != nil {
				logger.Error("failed to close storage", "error", err)
			}
		}
	case config.DriverMemory:
		a.blob = memory.New()
	}
	return a, nil
}

// open opens a configured collection. With an empty name the first
// collection of kind is used.
func (a *app) open(ctx context.Context, name string, kind config.Kind) (*collection.Collection, config.CollectionConfig, error) {
	col, ok := a.cfg.Collection(name)
	if name == "" {
		for _, c := range a.cfg.Collections {
			if c.Kind == kind {
				col, ok = c, true
				break
			}
		}
	}
	if !ok {
		if name == "" {
			return nil, col, fmt.Errorf("no %s collection configured", kind)
		}
		return nil, col, fmt.Errorf("collection %q is not configured", name)
	}

	c, err := collection.Open(ctx, a.blob, col.Name, collection.Options{
		Location:          a.loc,
		ResetOnParseError: a.cfg.ResetOnParseError,
		SaveTimeout:       a.cfg.SaveTimeout,
		Logger:            a.logger,
	})
	if err != nil {
		return nil, col, err
	}
	return c, col, nil
}

// finish stores pending mutations of c.
func (a *app) finish(ctx context.Context, c *collection.Collection) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.SaveTimeout)
	defer cancel()
	return c.Close(ctx)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
