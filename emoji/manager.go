package emoji

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
	"github.com/quailyquaily/guildmind/internal/metrics"
	"github.com/quailyquaily/guildmind/store"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var errEmptyDescription = errors.New("describer returned an empty description")

// Manager resolves emoji descriptions. Lookups go hot cache, then store,
// then a single-flight analysis per key.
type Manager struct {
	store     store.Store
	describer Describer
	cfg       Config
	log       *slog.Logger
	cache     *ristretto.Cache
	breaker   *gobreaker.CircuitBreaker
	flights   singleflight.Group

	// analyses counts Describe calls.
	analyses atomic.Int64

	// Metrics is optional and must be set before first use.
	Metrics *metrics.Collector
}

type result struct {
	desc   string
	source store.DescriptionSource
	from   string
}

func NewManager(st store.Store, d Describer, cfg Config, logger *slog.Logger) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("emoji manager: nil store")
	}
	def := DefaultConfig()
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = def.AnalysisTimeout
	}
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = def.RefreshConcurrency
	}
	if cfg.HotCacheMaxItems <= 0 {
		cfg.HotCacheMaxItems = def.HotCacheMaxItems
	}
	if cfg.Breaker.ConsecutiveFailures == 0 {
		cfg.Breaker.ConsecutiveFailures = def.Breaker.ConsecutiveFailures
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.HotCacheMaxItems * 10,
		MaxCost:     cfg.HotCacheMaxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("emoji hot cache: %w", err)
	}

	m := &Manager{
		store:     st,
		describer: d,
		cfg:       cfg,
		log:       logger,
		cache:     cache,
	}
	failures := cfg.Breaker.ConsecutiveFailures
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "emoji_describer",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("emoji_breaker_state", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return m, nil
}

// Close releases the hot cache.
func (m *Manager) Close() {
	if m != nil && m.cache != nil {
		m.cache.Close()
	}
}

// Analyses reports how many times the describer has been called.
func (m *Manager) Analyses() int64 { return m.analyses.Load() }

// GetOrAnalyze returns a description for e, analyzing it at most once per key
// even under concurrent callers. The returned description is always usable;
// err is set only when the store could not be read or written.
func (m *Manager) GetOrAnalyze(ctx context.Context, e Emoji) (string, error) {
	r, err := m.lookup(ctx, e, false)
	return r.desc, err
}

// Refresh re-analyzes e. A vision result replaces whatever is stored; a
// failed analysis leaves an existing vision description in place.
func (m *Manager) Refresh(ctx context.Context, e Emoji) (string, error) {
	e = e.normalized()
	if e.GuildID == "" || e.Name == "" {
		return FallbackDescription(e.Name), store.ErrInvalidKey
	}
	r, err := m.await(ctx, e, true, false)
	return r.desc, err
}

// Forget drops a cached description.
func (m *Manager) Forget(ctx context.Context, guildID, name string) error {
	if err := m.store.DeleteEmojiDescription(ctx, guildID, name); err != nil {
		return err
	}
	m.cache.Del(store.EmojiKey(strings.TrimSpace(guildID), strings.TrimSpace(name)))
	return nil
}

func (m *Manager) lookup(ctx context.Context, e Emoji, detached bool) (result, error) {
	e = e.normalized()
	if e.GuildID == "" || e.Name == "" {
		return result{desc: FallbackDescription(e.Name), source: store.SourceFallback}, store.ErrInvalidKey
	}
	key := e.Key()
	if v, ok := m.cache.Get(key); ok {
		if desc, ok := v.(string); ok {
			m.Metrics.EmojiLookup(metrics.LookupHot)
			return result{desc: desc, from: metrics.LookupHot}, nil
		}
	}

	rec, ok, err := m.store.GetEmojiDescription(ctx, e.GuildID, e.Name)
	if err != nil {
		m.log.Warn("emoji_store_read_failed", "key", key, "error", err.Error())
	} else if ok {
		m.remember(key, rec.Description)
		m.Metrics.EmojiLookup(metrics.LookupStore)
		return result{desc: rec.Description, source: rec.Source, from: metrics.LookupStore}, nil
	}

	r, ferr := m.await(ctx, e, false, detached)
	if ferr == nil {
		ferr = err
	}
	return r, ferr
}

// await joins (or starts) the flight for e. Unless detached, a caller whose
// ctx ends stops waiting and gets the fallback while the flight carries on.
func (m *Manager) await(ctx context.Context, e Emoji, force, detached bool) (result, error) {
	key := e.Key()
	work := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(key, func() (any, error) {
		r, err := m.analyzeAndStore(work, e, force)
		return r, err
	})

	var res singleflight.Result
	if detached {
		res = <-ch
	} else {
		select {
		case res = <-ch:
		case <-ctx.Done():
			m.Metrics.EmojiLookup(metrics.LookupFallback)
			m.log.Debug("emoji_wait_abandoned", "key", key, "error", ctx.Err().Error())
			return result{desc: FallbackDescription(e.Name), source: store.SourceFallback, from: metrics.LookupFallback}, nil
		}
	}

	r, _ := res.Val.(result)
	if r.desc == "" {
		r.desc = FallbackDescription(e.Name)
	}
	if res.Shared {
		r.from = metrics.LookupShared
	}
	m.Metrics.EmojiLookup(r.from)
	return r, res.Err
}

func (m *Manager) analyzeAndStore(ctx context.Context, e Emoji, force bool) (result, error) {
	key := e.Key()
	if !force {
		// Another flight may have finished between our read and this one.
		rec, ok, err := m.store.GetEmojiDescription(ctx, e.GuildID, e.Name)
		if err == nil && ok {
			m.remember(key, rec.Description)
			return result{desc: rec.Description, source: rec.Source, from: metrics.LookupStore}, nil
		}
	}

	desc, source := m.analyze(ctx, e)
	stored, err := m.store.PutEmojiDescription(ctx, store.EmojiDescription{
		GuildID:     e.GuildID,
		EmojiName:   e.Name,
		Description: desc,
		Source:      source,
	})
	if err != nil {
		m.log.Warn("emoji_store_write_failed", "key", key, "error", err.Error())
		return result{desc: desc, source: source, from: metrics.LookupAnalyzed}, err
	}
	m.remember(key, stored.Description)
	return result{desc: stored.Description, source: stored.Source, from: metrics.LookupAnalyzed}, nil
}

func (m *Manager) analyze(ctx context.Context, e Emoji) (string, store.DescriptionSource) {
	if m.describer == nil {
		m.Metrics.EmojiAnalysis(string(store.SourceFallback))
		return FallbackDescription(e.Name), store.SourceFallback
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.AnalysisTimeout)
	defer cancel()
	out, err := m.breaker.Execute(func() (interface{}, error) {
		m.analyses.Add(1)
		desc, err := m.describer.Describe(ctx, e)
		if err != nil {
			return nil, err
		}
		desc = strings.TrimSpace(desc)
		if desc == "" {
			return nil, errEmptyDescription
		}
		return desc, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			m.log.Debug("emoji_analysis_skipped", "key", e.Key(), "reason", err.Error())
		} else {
			m.log.Warn("emoji_analysis_failed", "key", e.Key(), "error", err.Error())
		}
		m.Metrics.EmojiAnalysis("error")
		return FallbackDescription(e.Name), store.SourceFallback
	}
	m.Metrics.EmojiAnalysis(string(store.SourceVision))
	return out.(string), store.SourceVision
}

func (m *Manager) remember(key, desc string) {
	if desc == "" {
		return
	}
	m.cache.Set(key, desc, 1)
	m.cache.Wait()
}

// RefreshAll brings the store in line with inventory: entries not yet
// cached are analyzed, and depending on Config fallbacks are retried and
// entries for removed emoji are deleted. It checks ctx between keys, never
// mid-analysis. Per-emoji failures are logged and counted, not returned.
func (m *Manager) RefreshAll(ctx context.Context, inventory []Emoji) RefreshStats {
	var stats RefreshStats
	byGuild := map[string][]Emoji{}
	var guilds []string
	for _, e := range inventory {
		e = e.normalized()
		if e.GuildID == "" || e.Name == "" {
			continue
		}
		if _, ok := byGuild[e.GuildID]; !ok {
			guilds = append(guilds, e.GuildID)
		}
		byGuild[e.GuildID] = append(byGuild[e.GuildID], e)
	}

	var cachedLate, analyzed, fallbacks, upgraded, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(m.cfg.RefreshConcurrency)

	for _, guildID := range guilds {
		if ctx.Err() != nil {
			break
		}
		current := byGuild[guildID]
		stats.Seen += len(current)

		cached := map[string]store.EmojiDescription{}
		rows, err := m.store.ListEmojiDescriptions(ctx, guildID)
		if err != nil {
			m.log.Warn("emoji_refresh_list_failed", "guild_id", guildID, "error", err.Error())
		}
		for _, r := range rows {
			cached[r.EmojiName] = r
		}

		if m.cfg.PruneRemoved && err == nil {
			present := make(map[string]bool, len(current))
			for _, e := range current {
				present[e.Name] = true
			}
			for name := range cached {
				if present[name] {
					continue
				}
				if ferr := m.Forget(ctx, guildID, name); ferr != nil {
					m.log.Warn("emoji_prune_failed", "guild_id", guildID, "name", name, "error", ferr.Error())
					continue
				}
				stats.Pruned++
			}
		}

		for _, e := range current {
			if ctx.Err() != nil {
				break
			}
			rec, ok := cached[e.Name]
			upgrade := ok && rec.Source != store.SourceVision && m.cfg.UpgradeFallbacks && m.describer != nil
			if ok && !upgrade {
				stats.Cached++
				continue
			}
			e := e
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				var (
					r   result
					err error
				)
				if upgrade {
					r, err = m.await(ctx, e, true, true)
				} else {
					r, err = m.lookup(ctx, e, true)
				}
				switch {
				case err != nil:
					failed.Add(1)
					m.log.Warn("emoji_refresh_failed", "key", e.Key(), "error", err.Error())
				case !upgrade && (r.from == metrics.LookupHot || r.from == metrics.LookupStore):
					cachedLate.Add(1)
				case upgrade && r.source == store.SourceVision:
					upgraded.Add(1)
				case upgrade:
					fallbacks.Add(1)
				case r.source == store.SourceVision:
					analyzed.Add(1)
				default:
					fallbacks.Add(1)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	stats.Cached += int(cachedLate.Load())
	stats.Analyzed = int(analyzed.Load())
	stats.Fallbacks = int(fallbacks.Load())
	stats.Upgraded = int(upgraded.Load())
	stats.Failed = int(failed.Load())
	m.log.Info("emoji_refresh_done",
		"seen", stats.Seen,
		"cached", stats.Cached,
		"analyzed", stats.Analyzed,
		"fallbacks", stats.Fallbacks,
		"upgraded", stats.Upgraded,
		"pruned", stats.Pruned,
		"failed", stats.Failed,
	)
	return stats
}
