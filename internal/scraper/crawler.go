package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/catalog-crawler/internal/catalog"
	"github.com/maltedev/catalog-crawler/internal/driver"
	"github.com/maltedev/catalog-crawler/internal/models"
	"github.com/maltedev/catalog-crawler/internal/ratelimit"
)

// State is a step of the crawl state machine.
type State string

const (
	StateIdle          State = "idle"
	StateBootstrapping State = "bootstrapping"
	StateOnListingPage State = "on_listing_page"
	StateProcessing    State = "processing_item"
	StatePageExhausted State = "page_exhausted"
	StateFinalizing    State = "finalizing"
	StateDone          State = "done"
	StateAborted       State = "aborted"
)

const (
	ModeAll   = "all"
	ModeLinks = "links"

	DefaultTimeoutThreshold = 3
)

var ErrAlreadyRan = errors.New("crawler already ran")

// Store is the run state the crawler reads at start and writes at the end.
type Store interface {
	LoadProcessed() (models.IDSet, error)
	Persist(snapshot *models.RunSnapshot) error
}

type Config struct {
	Page      driver.Page
	Store     Store
	Selectors *catalog.Selectors
	Site      catalog.Site
	RootURL   string
	Logger    *slog.Logger
	Metrics   *Metrics

	// TimeoutThreshold is how many consecutive transient timeouts are
	// skipped; one more aborts the run.
	TimeoutThreshold int
	ConsentWait      time.Duration
	SizeSettle       time.Duration
	// MaxPages stops after that many listing pages. Zero walks all.
	MaxPages int

	Pacer       ratelimit.RateLimiter
	PageLimiter *ratelimit.PageLimiter
	Clock       func() time.Time
}

// Report is the outcome of one run.
type Report struct {
	Metadata models.RunMetadata
	Records  []*models.ItemRecord
	Skipped  map[string]models.SkipReason
	Err      error
}

// Crawler runs one crawl. It is single use.
type Crawler struct {
	page      driver.Page
	store     Store
	site      catalog.Site
	sel       *catalog.Selectors
	rootURL   string
	logger    *slog.Logger
	metrics   *Metrics
	extractor *Extractor

	threshold   int
	consentWait time.Duration
	maxPages    int
	pacer       ratelimit.RateLimiter
	pages       *ratelimit.PageLimiter
	now         func() time.Time

	state     State
	processed models.IDSet
	meta      models.RunMetadata
	records   []*models.ItemRecord
	skipped   map[string]models.SkipReason
	timeouts  int
	activeTab *TabSession
}

func New(cfg Config) (*Crawler, error) {
	if cfg.Page == nil {
		return nil, fmt.Errorf("page driver is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if cfg.Selectors == nil {
		cfg.Selectors = catalog.DefaultSelectors()
	}
	if err := cfg.Selectors.Validate(); err != nil {
		return nil, err
	}
	if cfg.Site.Prefix == "" {
		cfg.Site = catalog.DefaultSite()
	}
	if cfg.RootURL == "" {
		cfg.RootURL = cfg.Site.Prefix + "mens-clothing-shirts/"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TimeoutThreshold < 0 {
		return nil, fmt.Errorf("timeout threshold must not be negative")
	}
	if cfg.TimeoutThreshold == 0 {
		cfg.TimeoutThreshold = DefaultTimeoutThreshold
	}
	if cfg.ConsentWait == 0 {
		cfg.ConsentWait = 20 * time.Second
	}
	if cfg.SizeSettle == 0 {
		cfg.SizeSettle = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	logger := cfg.Logger.With("component", "crawler")
	extractor := NewExtractor(cfg.Page, cfg.Selectors, cfg.SizeSettle, cfg.Logger)
	extractor.now = cfg.Clock

	return &Crawler{
		page:        cfg.Page,
		store:       cfg.Store,
		site:        cfg.Site,
		sel:         cfg.Selectors,
		rootURL:     cfg.RootURL,
		logger:      logger,
		metrics:     cfg.Metrics,
		extractor:   extractor,
		threshold:   cfg.TimeoutThreshold,
		consentWait: cfg.ConsentWait,
		maxPages:    cfg.MaxPages,
		pacer:       cfg.Pacer,
		pages:       cfg.PageLimiter,
		now:         cfg.Clock,
		state:       StateIdle,
		skipped:     make(map[string]models.SkipReason),
	}, nil
}

func (c *Crawler) State() State {
	return c.state
}

func (c *Crawler) transition(to State) {
	c.logger.Debug("state transition", "from", c.state, "to", to)
	c.state = to
}

// Run walks the listing from the root URL and extracts every new item.
// Whatever happens, captured records and run metadata are persisted
// before Run returns.
func (c *Crawler) Run(ctx context.Context) (*Report, error) {
	return c.run(ctx, ModeAll, c.crawlListing)
}

// RunLinks extracts the given item links directly in the main tab, with
// the same filtering, timeout policy and persistence as Run.
func (c *Crawler) RunLinks(ctx context.Context, links []string) (*Report, error) {
	return c.run(ctx, ModeLinks, func(ctx context.Context) error {
		return c.crawlLinks(ctx, links)
	})
}

func (c *Crawler) run(ctx context.Context, mode string, body func(context.Context) error) (report *Report, err error) {
	if c.state != StateIdle {
		return nil, ErrAlreadyRan
	}

	c.transition(StateBootstrapping)
	c.meta = models.RunMetadata{
		RunID:      uuid.NewString(),
		Mode:       mode,
		StartedAt:  c.now(),
		TotalItems: -1,
		TotalPages: -1,
	}

	processed, err := c.store.LoadProcessed()
	if err != nil {
		c.transition(StateAborted)
		return nil, fmt.Errorf("failed to load processed ids: %w", err)
	}
	c.processed = processed
	c.logger.Info("run started",
		"run_id", c.meta.RunID,
		"mode", mode,
		"known_items", len(processed))

	defer func() {
		if r := recover(); r != nil {
			c.finalize(newFault(KindUnexpectedExtraction, "", fmt.Sprintf("panic: %v", r), nil))
			panic(r)
		}
	}()

	return c.finalize(body(ctx))
}

func (c *Crawler) checkCancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return newFault(KindInterrupted, "", "run cancelled", err)
	}
	return nil
}

func (c *Crawler) crawlListing(ctx context.Context) error {
	if err := c.checkCancel(ctx); err != nil {
		return err
	}

	walker := catalog.NewWalker(c.page, c.sel, c.site, c.processed, c.logger)

	if err := c.page.Navigate(c.rootURL); err != nil {
		return navigationFault("open listing", err)
	}
	if err := c.page.WaitForLoad(); err != nil {
		c.logger.Warn("listing load wait failed", "error", err)
	}
	if _, err := walker.DismissConsent(c.consentWait); err != nil {
		c.logger.Warn("failed to dismiss consent banner", "error", err)
	}

	totals := walker.Totals()
	c.meta.TotalItems = totals.Items
	c.meta.TotalPages = totals.Pages
	c.logger.Info("listing totals", "items", totals.Items, "pages", totals.Pages)

	for {
		if err := c.checkCancel(ctx); err != nil {
			return err
		}
		c.transition(StateOnListingPage)
		c.meta.PagesVisited++
		c.metrics.IncPages()

		entries, stats, err := walker.Entries()
		if err != nil {
			return navigationFault("enumerate listing", err)
		}
		c.recordPageStats(stats)

		for _, entry := range entries {
			if err := c.checkCancel(ctx); err != nil {
				return err
			}
			c.transition(StateProcessing)
			if c.processed.Has(entry.Item.ID) {
				c.skipped[entry.Item.ID] = models.SkipDuplicate
				continue
			}
			if err := c.pace(ctx); err != nil {
				return err
			}

			started := time.Now()
			record, err := c.processEntry(entry)
			c.metrics.ObserveExtract(time.Since(started))
			if err := c.settle(entry.Item, record, err); err != nil {
				return err
			}
		}

		c.transition(StatePageExhausted)
		if err := c.checkCancel(ctx); err != nil {
			return err
		}
		if c.maxPages > 0 && c.meta.PagesVisited >= c.maxPages {
			c.logger.Info("page limit reached", "pages", c.meta.PagesVisited)
			return nil
		}
		if err := c.pages.Wait(ctx); err != nil {
			return newFault(KindInterrupted, "", "waiting for next page", err)
		}

		more, err := walker.HasNextPage()
		if err != nil {
			return navigationFault("advance listing", err)
		}
		if !more {
			c.logger.Info("listing exhausted", "pages", c.meta.PagesVisited)
			return nil
		}
	}
}

func (c *Crawler) crawlLinks(ctx context.Context, links []string) error {
	consentChecked := false

	for _, link := range links {
		if err := c.checkCancel(ctx); err != nil {
			return err
		}
		c.transition(StateProcessing)

		item, verdict := c.site.Classify(link, c.processed)
		switch verdict {
		case catalog.Alien:
			c.skipped[item.URL] = models.SkipAlien
			c.metrics.AddEntries("alien", 1)
			continue
		case catalog.Duplicate:
			c.skipped[item.ID] = models.SkipDuplicate
			c.metrics.AddEntries("duplicate", 1)
			continue
		}
		c.metrics.AddEntries("valid", 1)

		if err := c.pace(ctx); err != nil {
			return err
		}

		started := time.Now()
		record, err := c.visit(item, &consentChecked)
		c.metrics.ObserveExtract(time.Since(started))
		if err := c.settle(item, record, err); err != nil {
			return err
		}
	}

	c.transition(StatePageExhausted)
	return nil
}

func (c *Crawler) visit(item models.CatalogItem, consentChecked *bool) (*models.ItemRecord, error) {
	if err := c.page.Navigate(item.URL); err != nil {
		return nil, extractionFault(item.ID, err)
	}
	if err := c.page.WaitForLoad(); err != nil {
		c.logger.Warn("item load wait failed", "id", item.ID, "error", err)
	}
	if !*consentChecked {
		*consentChecked = true
		walker := catalog.NewWalker(c.page, c.sel, c.site, c.processed, c.logger)
		if _, err := walker.DismissConsent(c.consentWait); err != nil {
			c.logger.Warn("failed to dismiss consent banner", "error", err)
		}
	}
	return c.extractor.Extract(item)
}

// processEntry opens entry in its own tab, extracts it and closes the tab.
func (c *Crawler) processEntry(entry catalog.Entry) (*models.ItemRecord, error) {
	if c.activeTab != nil {
		return nil, newFault(KindPreviousContextNotClosed, entry.Item.ID,
			"detail tab of "+c.activeTab.item.ID+" still open", nil)
	}

	tab, err := OpenTab(c.page, entry, c.logger)
	if err != nil {
		return nil, err
	}
	c.activeTab = tab

	var record *models.ItemRecord
	err = tab.Do(func() error {
		var err error
		record, err = c.extractor.Extract(entry.Item)
		return err
	})
	if !tab.open {
		c.activeTab = nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// settle applies the outcome of one item to the run state. A non-nil
// return ends the run.
func (c *Crawler) settle(item models.CatalogItem, record *models.ItemRecord, err error) error {
	if err == nil {
		c.records = append(c.records, record)
		c.processed.Add(item.ID)
		delete(c.skipped, item.ID)
		c.timeouts = 0
		c.metrics.IncItems()
		c.feedback(true)
		c.logger.Info("item extracted",
			"id", item.ID,
			"brand", record.Brand,
			"sizes", len(record.Sizes),
			"processed", len(c.records))
		return nil
	}

	kind := KindOf(err)
	if kind == "" {
		kind = KindUnexpectedExtraction
		err = newFault(kind, item.ID, "", err)
	}
	c.metrics.IncFault(kind)

	if kind != KindTransientTimeout {
		c.logger.Error("item failed", "id", item.ID, "kind", kind, "error", err)
		return err
	}

	c.timeouts++
	c.feedback(false)
	if c.timeouts > c.threshold {
		c.logger.Error("too many consecutive timeouts",
			"id", item.ID,
			"consecutive", c.timeouts,
			"threshold", c.threshold)
		c.metrics.IncFault(KindConnectivityDegraded)
		return newFault(KindConnectivityDegraded, item.ID,
			fmt.Sprintf("%d consecutive timeouts", c.timeouts), err)
	}

	c.skipped[item.ID] = models.SkipTransientTimeout
	c.logger.Warn("item skipped after timeout",
		"id", item.ID,
		"consecutive", c.timeouts,
		"error", err)
	return nil
}

func (c *Crawler) feedback(ok bool) {
	fb, isFeedback := c.pacer.(ratelimit.Feedback)
	if !isFeedback {
		return
	}
	if ok {
		fb.RecordSuccess()
	} else {
		fb.RecordError()
	}
}

func (c *Crawler) pace(ctx context.Context) error {
	if c.pacer == nil {
		return nil
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return newFault(KindInterrupted, "", "pacing", err)
	}
	return nil
}

func (c *Crawler) recordPageStats(stats catalog.PageStats) {
	for key, reason := range stats.Skipped {
		if _, ok := c.skipped[key]; !ok {
			c.skipped[key] = reason
		}
	}
	c.metrics.AddEntries("valid", stats.Valid)
	c.metrics.AddEntries("duplicate", stats.Duplicate)
	c.metrics.AddEntries("alien", stats.Alien)
	c.metrics.AddEntries("stale", stats.Stale)
}

// finalize persists the run and reports its outcome.
func (c *Crawler) finalize(runErr error) (*Report, error) {
	c.transition(StateFinalizing)

	finished := c.now()
	c.meta.FinishedAt = finished
	c.meta.Duration = finished.Sub(c.meta.StartedAt).Round(time.Millisecond).String()
	c.meta.ProcessedArticles = len(c.records)
	c.meta.SkippedArticles = len(c.skipped)
	c.meta.SkipReasons = c.skipped
	c.meta.Outcome = models.OutcomeDone
	if runErr != nil {
		c.meta.Outcome = models.OutcomeAborted
		c.meta.Fault = runErr.Error()
		c.meta.FaultKind = string(KindOf(runErr))
	}

	snapshot := &models.RunSnapshot{
		Metadata:  c.meta,
		Records:   c.records,
		Skipped:   c.skipped,
		Processed: c.processed.Sorted(),
	}

	persistErr := c.store.Persist(snapshot)
	if persistErr != nil {
		c.logger.Error("failed to persist run state", "error", persistErr)
		persistErr = fmt.Errorf("failed to persist run state: %w", persistErr)
	}

	report := &Report{
		Metadata: c.meta,
		Records:  c.records,
		Skipped:  c.skipped,
		Err:      runErr,
	}

	if runErr != nil {
		c.transition(StateAborted)
		attrs := []any{
			"run_id", c.meta.RunID,
			"kind", c.meta.FaultKind,
			"processed", c.meta.ProcessedArticles,
			"skipped", c.meta.SkippedArticles,
			"error", runErr,
		}
		var f *Fault
		if errors.As(runErr, &f) && f.Hint != "" {
			attrs = append(attrs, "hint", f.Hint)
		}
		c.logger.Error("run aborted", attrs...)
		if persistErr != nil {
			return report, errors.Join(runErr, persistErr)
		}
		return report, runErr
	}

	c.transition(StateDone)
	c.logger.Info("run finished",
		"run_id", c.meta.RunID,
		"processed", c.meta.ProcessedArticles,
		"skipped", c.meta.SkippedArticles,
		"pages", c.meta.PagesVisited,
		"duration", c.meta.Duration)
	return report, persistErr
}
