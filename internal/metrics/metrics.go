// Package metrics exposes Prometheus counters for the memory, emoji and
// composer components. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "guildmind"

// Emoji lookup results.
const (
	LookupHot      = "hot"
	LookupStore    = "store"
	LookupAnalyzed = "analyzed"
	LookupShared   = "shared"
	LookupFallback = "fallback"
)

type Collector struct {
	registry *prometheus.Registry

	EmojiLookups   *prometheus.CounterVec
	EmojiAnalyses  *prometheus.CounterVec
	MemoryWrites   *prometheus.CounterVec
	RefreshCycles  prometheus.Counter
	ComposeChars   prometheus.Histogram
	ComposeDropped *prometheus.CounterVec
}

// New builds a collector on its own registry so several instances (tests,
// embedded use) never collide on registration.
func New() *Collector {
	registry := prometheus.NewRegistry()

	lookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emoji_lookups_total",
			Help:      "Emoji description lookups by where the answer came from",
		},
		[]string{"result"},
	)
	analyses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emoji_analyses_total",
			Help:      "Emoji analyses by outcome",
		},
		[]string{"outcome"},
	)
	writes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_writes_total",
			Help:      "Memory mutations by kind",
		},
		[]string{"kind"},
	)
	cycles := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emoji_refresh_cycles_total",
			Help:      "Completed background emoji refresh cycles",
		},
	)
	chars := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compose_bundle_chars",
			Help:      "Rendered context bundle size in characters",
			Buckets:   prometheus.ExponentialBuckets(256, 2, 8),
		},
	)
	dropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compose_dropped_total",
			Help:      "Items dropped from context bundles to fit the budget",
		},
		[]string{"section"},
	)

	registry.MustRegister(lookups, analyses, writes, cycles, chars, dropped)

	return &Collector{
		registry:       registry,
		EmojiLookups:   lookups,
		EmojiAnalyses:  analyses,
		MemoryWrites:   writes,
		RefreshCycles:  cycles,
		ComposeChars:   chars,
		ComposeDropped: dropped,
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) EmojiLookup(result string) {
	if c == nil {
		return
	}
	c.EmojiLookups.WithLabelValues(result).Inc()
}

func (c *Collector) EmojiAnalysis(outcome string) {
	if c == nil {
		return
	}
	c.EmojiAnalyses.WithLabelValues(outcome).Inc()
}

func (c *Collector) MemoryWrite(kind string) {
	if c == nil {
		return
	}
	c.MemoryWrites.WithLabelValues(kind).Inc()
}

func (c *Collector) RefreshCycle() {
	if c == nil {
		return
	}
	c.RefreshCycles.Inc()
}

// Composed records one bundle. dropped maps section name to item count.
func (c *Collector) Composed(chars int, dropped map[string]int) {
	if c == nil {
		return
	}
	c.ComposeChars.Observe(float64(chars))
	for section, n := range dropped {
		if n > 0 {
			c.ComposeDropped.WithLabelValues(section).Add(float64(n))
		}
	}
}
