package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/maltedev/catalog-crawler/internal/catalog"
	"github.com/maltedev/catalog-crawler/internal/catalog/catalogtest"
	"github.com/maltedev/catalog-crawler/internal/driver"
	"github.com/maltedev/catalog-crawler/internal/driver/drivertest"
	"github.com/maltedev/catalog-crawler/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rootURL = "https://en.zalando.de/mens-clothing-shirts/"

func itemURL(id string) string {
	return "https://en.zalando.de/" + id + ".html"
}

type memStore struct {
	processed  models.IDSet
	snapshots  []*models.RunSnapshot
	loadErr    error
	persistErr error
}

func (m *memStore) LoadProcessed() (models.IDSet, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return models.NewIDSet(m.processed.Sorted()...), nil
}

func (m *memStore) Persist(s *models.RunSnapshot) error {
	m.snapshots = append(m.snapshots, s)
	if m.persistErr != nil {
		return m.persistErr
	}
	for _, id := range s.Processed {
		m.processed.Add(id)
	}
	return nil
}

func (m *memStore) last() *models.RunSnapshot {
	if len(m.snapshots) == 0 {
		return nil
	}
	return m.snapshots[len(m.snapshots)-1]
}

type fixture struct {
	t     *testing.T
	page  *drivertest.Page
	sel   *catalog.Selectors
	store *memStore
}

// newFixture serves one listing page per element of pages, chained by the
// next button, and a well formed detail page for every id.
func newFixture(t *testing.T, pages [][]string, processed ...string) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		page:  drivertest.New(),
		sel:   catalog.DefaultSelectors(),
		store: &memStore{processed: models.NewIDSet(processed...)},
	}

	roots := make([]*drivertest.Node, len(pages))
	for i := len(pages) - 1; i >= 0; i-- {
		links := make([]string, len(pages[i]))
		for j, id := range pages[i] {
			links[j] = itemURL(id)
			f.good(id)
		}
		opts := catalogtest.ListingOptions{
			TotalLabel: "500 items",
			PageLabel:  fmt.Sprintf("Page %d of %d", i+1, len(pages)),
		}
		if i < len(pages)-1 {
			next := roots[i+1]
			opts.NextEnabled = true
			opts.OnNext = func(p *drivertest.Page) error {
				p.Replace(next)
				return nil
			}
		}
		roots[i] = catalogtest.Listing(f.sel, links, opts)
	}
	if len(roots) > 0 {
		f.page.Route(rootURL, roots[0])
	}
	return f
}

func (f *fixture) good(id string) {
	d := sampleDetail()
	d.Name = "Shirt " + id
	f.page.Route(itemURL(id), catalogtest.DetailPage(f.sel, d))
}

// timeout serves an empty document, so the first wait expires.
func (f *fixture) timeout(ids ...string) {
	for _, id := range ids {
		f.page.Route(itemURL(id), drivertest.El("html", ""))
	}
}

// broken serves a detail container without the content wrapper.
func (f *fixture) broken(id string) {
	f.page.Route(itemURL(id), drivertest.El("html", "", drivertest.El("div", f.sel.DetailContainer.Value)))
}

func (f *fixture) crawler(mutate ...func(*Config)) *Crawler {
	f.t.Helper()
	cfg := Config{
		Page:       f.page,
		Store:      f.store,
		Selectors:  f.sel,
		RootURL:    rootURL,
		Logger:     slog.Default(),
		SizeSettle: time.Nanosecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(f.t, err)
	return c
}

func ids(records []*models.ItemRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestCrawler_RunCompletes(t *testing.T) {
	f := newFixture(t, [][]string{
		{"a-a11", "b-a11"},
		{"c-a11", "a-a11"},
	})
	metrics := NewMetrics()
	c := f.crawler(func(cfg *Config) { cfg.Metrics = metrics })

	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, c.State())
	assert.Equal(t, []string{"a-a11", "b-a11", "c-a11"}, ids(report.Records))
	assert.Equal(t, models.OutcomeDone, report.Metadata.Outcome)
	assert.Equal(t, 500, report.Metadata.TotalItems)
	assert.Equal(t, 2, report.Metadata.TotalPages)
	assert.Equal(t, 2, report.Metadata.PagesVisited)
	assert.Equal(t, 3, report.Metadata.ProcessedArticles)
	assert.Equal(t, models.SkipDuplicate, report.Skipped["a-a11"])

	assert.Equal(t, 3, f.page.Opened)
	assert.Equal(t, 3, f.page.Closed)
	assert.Equal(t, 2, f.page.MaxDepth)
	assert.Equal(t, 1, f.page.Depth())

	snap := f.store.last()
	require.NotNil(t, snap)
	assert.Equal(t, []string{"a-a11", "b-a11", "c-a11"}, snap.Processed)

	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.ItemsExtracted))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Pages))

	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRan)
}

func TestCrawler_SkipsProcessedItems(t *testing.T) {
	f := newFixture(t, [][]string{{"old-a11", "new-a11"}}, "old-a11")
	c := f.crawler()

	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"new-a11"}, ids(report.Records))
	assert.NotContains(t, f.page.Visited, itemURL("old-a11"))
	assert.Equal(t, 1, f.page.Opened)
}

func TestCrawler_ConsecutiveTimeoutThreshold(t *testing.T) {
	f := newFixture(t, [][]string{{"ok-a11", "t1-a11", "t2-a11", "t3-a11", "t4-a11", "never-a11"}}, "old-a11")
	f.timeout("t1-a11", "t2-a11", "t3-a11", "t4-a11")
	c := f.crawler()

	report, err := c.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindConnectivityDegraded, KindOf(err))
	assert.ErrorIs(t, err, driver.ErrTimeout)
	assert.Equal(t, StateAborted, c.State())

	assert.Equal(t, models.OutcomeAborted, report.Metadata.Outcome)
	assert.Equal(t, string(KindConnectivityDegraded), report.Metadata.FaultKind)
	for _, id := range []string{"t1-a11", "t2-a11", "t3-a11"} {
		assert.Equal(t, models.SkipTransientTimeout, report.Skipped[id], id)
	}
	assert.NotContains(t, report.Skipped, "t4-a11")
	assert.NotContains(t, f.page.Visited, itemURL("never-a11"))

	snap := f.store.last()
	require.NotNil(t, snap, "aborted runs are persisted")
	assert.Equal(t, []string{"ok-a11", "old-a11"}, snap.Processed)
	assert.Equal(t, 1, f.page.Depth())
}

func TestCrawler_SuccessResetsTimeoutCounter(t *testing.T) {
	f := newFixture(t, [][]string{{"t1-a11", "t2-a11", "t3-a11", "ok-a11", "t4-a11", "t5-a11", "t6-a11"}})
	f.timeout("t1-a11", "t2-a11", "t3-a11", "t4-a11", "t5-a11", "t6-a11")
	c := f.crawler()

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ok-a11"}, ids(report.Records))
	assert.Len(t, report.Skipped, 6)
}

func TestCrawler_ThresholdIsConfigurable(t *testing.T) {
	f := newFixture(t, [][]string{{"t1-a11", "t2-a11", "ok-a11"}})
	f.timeout("t1-a11", "t2-a11")
	c := f.crawler(func(cfg *Config) { cfg.TimeoutThreshold = 1 })

	_, err := c.Run(context.Background())
	assert.Equal(t, KindConnectivityDegraded, KindOf(err))
}

func TestCrawler_UnexpectedExtractionAborts(t *testing.T) {
	f := newFixture(t, [][]string{{"ok-a11", "bad-a11", "later-a11"}})
	f.broken("bad-a11")
	c := f.crawler()

	report, err := c.Run(context.Background())
	assert.Equal(t, KindUnexpectedExtraction, KindOf(err))
	assert.Equal(t, []string{"ok-a11"}, ids(report.Records))
	assert.Equal(t, f.page.Opened, f.page.Closed, "tab closed even though extraction failed")
	assert.Equal(t, 1, f.page.Depth())
	assert.Equal(t, []string{"ok-a11"}, f.store.last().Processed)
}

func TestCrawler_BrowserUnavailableAborts(t *testing.T) {
	f := newFixture(t, [][]string{{"ok-a11", "gone-a11"}})
	c := f.crawler()

	opens := 0
	f.page.Fail = func(op string, _ driver.Element) error {
		if op == "open" {
			opens++
			if opens == 2 {
				return fmt.Errorf("target closed: %w", driver.ErrNoSuchWindow)
			}
		}
		return nil
	}

	report, err := c.Run(context.Background())
	assert.Equal(t, KindBrowserUnavailable, KindOf(err))
	assert.Equal(t, []string{"ok-a11"}, ids(report.Records))
	assert.Equal(t, []string{"ok-a11"}, f.store.last().Processed)
}

func TestCrawler_StaleEntryOnOpen(t *testing.T) {
	f := newFixture(t, [][]string{{"a-a11"}})
	c := f.crawler()
	f.page.Fail = func(op string, _ driver.Element) error {
		if op == "open" {
			return driver.ErrStaleElement
		}
		return nil
	}

	_, err := c.Run(context.Background())
	assert.Equal(t, KindPreviousContextNotClosed, KindOf(err))
}

func TestCrawler_CloseFailure(t *testing.T) {
	f := newFixture(t, [][]string{{"a-a11", "b-a11"}})
	c := f.crawler()
	f.page.Fail = func(op string, _ driver.Element) error {
		if op == "close" {
			return errors.New("protocol error")
		}
		return nil
	}

	report, err := c.Run(context.Background())
	assert.Equal(t, KindUnexpectedContext, KindOf(err))
	assert.Empty(t, report.Records)
	assert.Equal(t, 1, f.page.Opened, "no second tab while the first is still open")
}

func TestCrawler_CancellationFinalizes(t *testing.T) {
	f := newFixture(t, [][]string{{"a-a11", "b-a11", "c-a11"}}, "old-a11")
	c := f.crawler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.page.Fail = func(op string, _ driver.Element) error {
		if op == "close" {
			cancel()
		}
		return nil
	}

	report, err := c.Run(ctx)
	assert.Equal(t, KindInterrupted, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a-a11"}, ids(report.Records), "in-flight item completes")
	assert.Equal(t, StateAborted, c.State())
	assert.Equal(t, []string{"a-a11", "old-a11"}, f.store.last().Processed)
}

func TestCrawler_PersistFailureIsReported(t *testing.T) {
	f := newFixture(t, [][]string{{"a-a11"}})
	f.store.persistErr = errors.New("disk full")
	c := f.crawler()

	report, err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, report.Records, 1)
}

func TestCrawler_LoadFailure(t *testing.T) {
	f := newFixture(t, [][]string{{"a-a11"}})
	f.store.loadErr = errors.New("corrupt")
	c := f.crawler()

	report, err := c.Run(context.Background())
	assert.Nil(t, report)
	assert.Error(t, err)
	assert.Empty(t, f.store.snapshots)
	assert.Equal(t, StateAborted, c.State())
}

func TestCrawler_MaxPages(t *testing.T) {
	f := newFixture(t, [][]string{{"a-a11"}, {"b-a11"}})
	c := f.crawler(func(cfg *Config) { cfg.MaxPages = 1 })

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a-a11"}, ids(report.Records))
	assert.Equal(t, 1, report.Metadata.PagesVisited)
}

func TestCrawler_ListingUnreachable(t *testing.T) {
	f := newFixture(t, [][]string{{"a-a11"}})
	f.page.Fail = func(op string, _ driver.Element) error {
		if op == "navigate" {
			return fmt.Errorf("net::ERR_INTERNET_DISCONNECTED: %w", driver.ErrNetwork)
		}
		return nil
	}
	c := f.crawler()

	_, err := c.Run(context.Background())
	assert.Equal(t, KindConnectivityDegraded, KindOf(err))
	require.NotNil(t, f.store.last())
}

func TestCrawler_RunLinks(t *testing.T) {
	f := newFixture(t, nil, "old-a11")
	f.good("x-a11")
	f.good("y-a11")
	f.timeout("slow-a11")
	c := f.crawler()

	report, err := c.RunLinks(context.Background(), []string{
		itemURL("x-a11"),
		"https://en.zalando.de/outfits/look.html",
		itemURL("old-a11"),
		itemURL("slow-a11"),
		itemURL("y-a11") + "?from=retry",
	})
	require.NoError(t, err)

	assert.Equal(t, ModeLinks, report.Metadata.Mode)
	assert.Equal(t, []string{"x-a11", "y-a11"}, ids(report.Records))
	assert.Equal(t, models.SkipDuplicate, report.Skipped["old-a11"])
	assert.Equal(t, models.SkipAlien, report.Skipped["https://en.zalando.de/outfits/look.html"])
	assert.Equal(t, models.SkipTransientTimeout, report.Skipped["slow-a11"])
	assert.Equal(t, 0, f.page.Opened, "links are extracted in the main tab")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Store: &memStore{}})
	assert.Error(t, err)

	_, err = New(Config{Page: drivertest.New()})
	assert.Error(t, err)

	_, err = New(Config{Page: drivertest.New(), Store: &memStore{}, TimeoutThreshold: -1})
	assert.Error(t, err)

	c, err := New(Config{Page: drivertest.New(), Store: &memStore{processed: models.NewIDSet()}})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeoutThreshold, c.threshold)
	assert.Equal(t, StateIdle, c.State())
}
