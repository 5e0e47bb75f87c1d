package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cyp0633/localcal/storage"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Kind selects what a collection holds.
type Kind string

const (
	KindCalendar Kind = "calendar"
	KindTodo     Kind = "todo"
)

// Storage drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// CollectionConfig describes one calendar or task list.
type CollectionConfig struct {
	// Name is the document name in storage.
	Name string `yaml:"name"`
	Kind Kind   `yaml:"kind"`
}

// StorageConfig selects where documents are kept.
type StorageConfig struct {
	// Driver is one of "file", "sqlite" or "memory".
	Driver string `yaml:"driver"`
	// Path is the directory (file) or database file (sqlite).
	Path string `yaml:"path"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA timezone dates and floating times are read in
	// (e.g. "Europe/Berlin"). Empty means the system zone.
	Timezone string `yaml:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used to pick up changes made to the documents by other programs.
	RefreshCron string `yaml:"refresh"`

	// SaveTimeout bounds one background save.
	SaveTimeout time.Duration `yaml:"save_timeout"`

	// ResetOnParseError opens unreadable documents as empty collections.
	ResetOnParseError bool `yaml:"reset_on_parse_error"`

	Storage     StorageConfig      `yaml:"storage"`
	Collections []CollectionConfig `yaml:"collections"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:    "info",
		RefreshCron: "*/15 * * * *",
		SaveTimeout: 30 * time.Second,
		Storage: StorageConfig{
			Driver: DriverFile,
			Path:   defaultDataDir(),
		},
		Collections: []CollectionConfig{
			{Name: "calendar", Kind: KindCalendar},
			{Name: "todo", Kind: KindTodo},
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "localcal")
	}
	return ".localcal"
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = def.SaveTimeout
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = def.Storage.Driver
	}
	if c.Storage.Path == "" && c.Storage.Driver == DriverFile {
		c.Storage.Path = def.Storage.Path
	}
	if c.Storage.Path == "" && c.Storage.Driver == DriverSQLite {
		c.Storage.Path = filepath.Join(def.Storage.Path, "localcal.db")
	}
	if c.Collections == nil {
		c.Collections = def.Collections
	}
	for i := range c.Collections {
		if c.Collections[i].Kind == "" {
			c.Collections[i].Kind = KindCalendar
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", c.RefreshCron, err)
	}
	switch c.Storage.Driver {
	case DriverFile, DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage driver %s needs a path", c.Storage.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	seen := make(map[string]bool, len(c.Collections))
	for _, col := range c.Collections {
		if err := storage.ValidateName(col.Name); err != nil {
			return fmt.Errorf("collection: %w", err)
		}
		if seen[col.Name] {
			return fmt.Errorf("duplicate collection %q", col.Name)
		}
		seen[col.Name] = true
		if col.Kind != KindCalendar && col.Kind != KindTodo {
			return fmt.Errorf("collection %s: unknown kind %q", col.Name, col.Kind)
		}
	}
	return nil
}

// Location loads Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Collection returns the collection called name.
func (c *Config) Collection(name string) (CollectionConfig, bool) {
	for _, col := range c.Collections {
		if col.Name == name {
			return col, true
		}
	}
	return CollectionConfig{}, false
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there with
//     0600 perms and returned.
//   - Otherwise the YAML is read, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file + rename, creating the
// parent directory (0700) when needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".localcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
