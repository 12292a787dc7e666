// Package metrics defines the Prometheus collectors used by index
// construction and serving, and an HTTP server for scraping them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kestrel"

// Metrics holds all Prometheus collectors.
type Metrics struct {
	BuildStageDuration *prometheus.HistogramVec
	BuildsTotal        *prometheus.CounterVec
	JournalEntries     prometheus.Counter
	JournalOmitted     prometheus.Counter
	PostingsWritten    prometheus.Counter
	DuplicatesMerged   prometheus.Counter
	TermsWritten       prometheus.Counter

	BlocksDecoded  *prometheus.CounterVec
	PostingsRead   prometheus.Counter
	BudgetExceeded prometheus.Counter
	CorruptErrors  *prometheus.CounterVec
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter

	GenerationSwaps prometheus.Counter
	ActiveLeases    prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is useful in tests and one-shot commands.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BuildStageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_stage_duration_seconds",
				Help:      "Preindex build stage duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"stage"},
		),
		BuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_total",
				Help:      "Index builds by outcome (ok, error).",
			},
			[]string{"outcome"},
		),
		JournalEntries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "journal_entries_read_total",
				Help:      "Journal entries consumed by construction.",
			},
		),
		JournalOmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "journal_entries_omitted_total",
				Help:      "Journal entries dropped as oversized or bodiless.",
			},
		),
		PostingsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "postings_written_total",
				Help:      "Postings written to finalized docs files.",
			},
		),
		DuplicatesMerged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "postings_duplicates_merged_total",
				Help:      "Duplicate (document, term) postings coalesced during sorting.",
			},
		),
		TermsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terms_written_total",
				Help:      "Terms written to the word lexicon.",
			},
		),
		BlocksDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocks_decoded_total",
				Help:      "Skip-list blocks decoded by kind (docs, values).",
			},
			[]string{"kind"},
		),
		PostingsRead: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "postings_read_total",
				Help:      "Document ids returned by posting reads.",
			},
		),
		BudgetExceeded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "budget_exceeded_total",
				Help:      "Posting reads aborted by the query budget.",
			},
		),
		CorruptErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "corrupt_errors_total",
				Help:      "Corruption errors by store (docs, values, positions, lexicon).",
			},
			[]string{"store"},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "block_cache_hits_total",
				Help:      "Decoded block cache hits.",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "block_cache_misses_total",
				Help:      "Decoded block cache misses.",
			},
		),
		GenerationSwaps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_swaps_total",
				Help:      "Index generations published or reloaded.",
			},
		),
		ActiveLeases: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "generation_active_leases",
				Help:      "Generation leases currently held by readers.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.BuildStageDuration,
			m.BuildsTotal,
			m.JournalEntries,
			m.JournalOmitted,
			m.PostingsWritten,
			m.DuplicatesMerged,
			m.TermsWritten,
			m.BlocksDecoded,
			m.PostingsRead,
			m.BudgetExceeded,
			m.CorruptErrors,
			m.CacheHits,
			m.CacheMisses,
			m.GenerationSwaps,
			m.ActiveLeases,
		)
	}
	return m
}

// Default returns m if non-nil, otherwise a fresh unregistered set.
func Default(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return New(nil)
}

// Handler returns the scrape handler for the collectors in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
