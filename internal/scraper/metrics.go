package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a crawl run.
type Metrics struct {
	Registry        *prometheus.Registry
	ItemsExtracted  prometheus.Counter
	Entries         *prometheus.CounterVec
	Faults          *prometheus.CounterVec
	Pages           prometheus.Counter
	ExtractDuration prometheus.Histogram
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	items := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_items_extracted_total",
		Help: "Total number of item records extracted.",
	})
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_entries_total",
		Help: "Listing entries seen, by classification.",
	}, []string{"class"})
	faults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_faults_total",
		Help: "Faults raised during crawling, by kind.",
	}, []string{"kind"})
	pages := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_pages_total",
		Help: "Listing pages visited.",
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawler_extract_duration_seconds",
		Help:    "Time spent per item, tab open to tab close.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
	})

	registry.MustRegister(items, entries, faults, pages, duration)

	return &Metrics{
		Registry:        registry,
		ItemsExtracted:  items,
		Entries:         entries,
		Faults:          faults,
		Pages:           pages,
		ExtractDuration: duration,
	}
}

func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsExtracted.Inc()
}

func (m *Metrics) AddEntries(class string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Entries.WithLabelValues(class).Add(float64(n))
}

func (m *Metrics) IncFault(kind Kind) {
	if m == nil {
		return
	}
	m.Faults.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.Pages.Inc()
}

func (m *Metrics) ObserveExtract(d time.Duration) {
	if m == nil {
		return
	}
	m.ExtractDuration.Observe(d.Seconds())
}
