package scraper

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncItems()
		m.AddEntries("valid", 3)
		m.IncFault(KindTransientTimeout)
		m.IncPages()
		m.ObserveExtract(time.Second)
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.IncItems()
	m.IncItems()
	m.AddEntries("alien", 2)
	m.AddEntries("alien", 0)
	m.IncFault(KindTransientTimeout)
	m.IncPages()
	m.ObserveExtract(1500 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ItemsExtracted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Entries.WithLabelValues("alien")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Faults.WithLabelValues(string(KindTransientTimeout))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pages))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ExtractDuration))
}
