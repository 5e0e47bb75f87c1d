package recurrence

import (
	"iter"
	"slices"
	"time"

	"github.com/cyp0633/localcal/store/temporal"
)

// Engine expands rules for the store, caching window expansions when enabled.
type Engine struct {
	cache  *Cache
	config ExpandConfig
}

// NewEngine creates an engine with DefaultExpandConfig.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultExpandConfig)
}

// NewEngineWithConfig creates a new expansion engine with custom configuration
func NewEngineWithConfig(config ExpandConfig) *Engine {
	var cache *Cache
	if config.CacheEnabled {
		cache = NewCache(config.CacheConfig)
	}
	if config.MaxScan <= 0 {
		config.MaxScan = DefaultExpandConfig.MaxScan
	}
	return &Engine{cache: cache, config: config}
}

// Between returns the occurrence starts in [windowStart, windowEnd). The
// returned slice may be shared with the cache and must not be modified.
func (e *Engine) Between(rule *Rule, anchor temporal.Value, windowStart, windowEnd time.Time) ([]temporal.Value, error) {
	var key string
	if e.cache != nil {
		key = Key(rule, anchor, windowStart, windowEnd)
		if res, ok := e.cache.Get(key); ok {
			return res, nil
		}
	}

	seq, err := rule.OccurrencesIn(anchor, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	res := slices.Collect(seq)

	if e.cache != nil {
		e.cache.Set(key, res)
	}
	return res, nil
}

// Scan returns the series from its anchor on, cut after MaxScan occurrences.
func (e *Engine) Scan(rule *Rule, anchor temporal.Value) (iter.Seq[temporal.Value], error) {
	all, err := rule.All(anchor)
	if err != nil {
		return nil, err
	}
	limit := e.config.MaxScan
	return func(yield func(temporal.Value) bool) {
		n := 0
		for v := range all {
			if n >= limit || !yield(v) {
				return
			}
			n++
		}
	}, nil
}

// After returns the occurrences starting at or after from. Dates and floating
// values are placed in from's location. At most MaxScan occurrences are
// produced.
func (e *Engine) After(rule *Rule, anchor temporal.Value, from time.Time) (iter.Seq[temporal.Value], error) {
	all, err := rule.All(anchor)
	if err != nil {
		return nil, err
	}
	loc := from.Location()
	limit := e.config.MaxScan
	return func(yield func(temporal.Value) bool) {
		n := 0
		for v := range all {
			if v.Instant(loc).Before(from) {
				continue
			}
			if n >= limit || !yield(v) {
				return
			}
			n++
		}
	}, nil
}

// CacheStats reports the cache usage, zero when caching is disabled.
func (e *Engine) CacheStats() CacheStats {
	if e.cache == nil {
		return CacheStats{}
	}
	return e.cache.Stats()
}
