package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/catalog-crawler/internal/driver"
	"github.com/maltedev/catalog-crawler/internal/models"
	"github.com/maltedev/catalog-crawler/internal/parser"
)

// Entry is one valid listing entry: the DOM handle to open and the item
// it resolves to.
type Entry struct {
	Handle driver.Element
	Item   models.CatalogItem
}

// PageStats counts how the entries of one listing page were classified.
// Stale entries count toward Stale only.
type PageStats struct {
	Discovered int
	Valid      int
	Duplicate  int
	Alien      int
	Stale      int
	// Skipped maps ids (or links, for entries without an id) to the reason
	// they were filtered out.
	Skipped map[string]models.SkipReason
}

// Totals is what the listing reports about itself. Unknown values are -1.
type Totals struct {
	Items       int
	CurrentPage int
	Pages       int
}

// Walker drives the listing view page by page.
type Walker struct {
	page      driver.Page
	sel       *Selectors
	site      Site
	processed models.IDSet
	logger    *slog.Logger
}

// NewWalker returns a walker that filters against processed. The set is
// shared with the caller and read on every call to Entries.
func NewWalker(page driver.Page, sel *Selectors, site Site, processed models.IDSet, logger *slog.Logger) *Walker {
	return &Walker{
		page:      page,
		sel:       sel,
		site:      site,
		processed: processed,
		logger:    logger.With("component", "walker"),
	}
}

// DismissConsent denies the consent banner if it shows up within wait.
func (w *Walker) DismissConsent(wait time.Duration) (bool, error) {
	banner, err := w.page.WaitFor(w.sel.ConsentBanner, wait)
	if err != nil {
		if errors.Is(err, driver.ErrTimeout) || errors.Is(err, driver.ErrNoSuchElement) {
			w.logger.Debug("no consent banner", "wait", wait)
			return false, nil
		}
		return false, fmt.Errorf("failed to wait for consent banner: %w", err)
	}

	deny, err := w.page.FindOne(w.sel.ConsentDeny, banner)
	if err != nil {
		deny, err = w.page.FindOne(w.sel.ConsentDeny, nil)
		if err != nil {
			return false, fmt.Errorf("failed to find consent deny button: %w", err)
		}
	}
	if err := w.page.Click(deny); err != nil {
		return false, fmt.Errorf("failed to deny consent: %w", err)
	}

	w.logger.Info("consent banner denied")
	return true, nil
}

// Totals reads the reported item count and page indicator.
func (w *Walker) Totals() Totals {
	totals := Totals{Items: -1, CurrentPage: -1, Pages: -1}

	if text, err := w.readText(w.sel.TotalItems); err != nil {
		w.logger.Warn("failed to read total items", "error", err)
	} else if n, err := parser.TotalItems(text); err != nil {
		w.logger.Warn("failed to parse total items", "text", text, "error", err)
	} else {
		totals.Items = n
	}

	if text, err := w.readText(w.sel.PageIndicator); err != nil {
		w.logger.Warn("failed to read page indicator", "error", err)
	} else if current, total, err := parser.PageIndicator(text); err != nil {
		w.logger.Warn("failed to parse page indicator", "text", text, "error", err)
	} else {
		totals.CurrentPage = current
		totals.Pages = total
	}

	return totals
}

func (w *Walker) readText(loc driver.Locator) (string, error) {
	el, err := w.page.FindOne(loc, nil)
	if err != nil {
		return "", err
	}
	return w.page.Text(el)
}

// Entries enumerates the current listing page and returns the entries
// that still need extraction.
func (w *Walker) Entries() ([]Entry, PageStats, error) {
	stats := PageStats{Skipped: make(map[string]models.SkipReason)}

	articles, err := w.page.FindMany(w.sel.Article, nil)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to list articles: %w", err)
	}
	stats.Discovered = len(articles)

	seen := make(models.IDSet)
	var entries []Entry
	for _, article := range articles {
		href, err := w.link(article)
		if err != nil {
			if errors.Is(err, driver.ErrStaleElement) {
				stats.Stale++
				w.logger.Debug("stale entry dropped")
				continue
			}
			if errors.Is(err, driver.ErrNoSuchElement) {
				stats.Alien++
				continue
			}
			return nil, stats, err
		}

		item, verdict := w.site.Classify(href, w.processed)
		if verdict == Valid && seen.Has(item.ID) {
			verdict = Duplicate
		}

		switch verdict {
		case Alien:
			stats.Alien++
			stats.Skipped[item.URL] = models.SkipAlien
		case Duplicate:
			stats.Duplicate++
			stats.Skipped[item.ID] = models.SkipDuplicate
		case Valid:
			seen.Add(item.ID)
			stats.Valid++
			entries = append(entries, Entry{Handle: article, Item: item})
		}
	}

	w.logger.Info("listing page enumerated",
		"discovered", stats.Discovered,
		"valid", stats.Valid,
		"duplicate", stats.Duplicate,
		"alien", stats.Alien,
		"stale", stats.Stale)

	return entries, stats, nil
}

func (w *Walker) link(article driver.Element) (string, error) {
	anchor, err := w.page.FindOne(w.sel.ArticleLink, article)
	if err != nil {
		return "", err
	}
	return w.page.Attribute(anchor, "href")
}

// HasNextPage clicks the next-page control when it is enabled and waits
// for the new page to load. A false return is terminal for the run.
func (w *Walker) HasNextPage() (bool, error) {
	buttons, err := w.page.FindMany(w.sel.NextButton, nil)
	if err != nil {
		return false, fmt.Errorf("failed to find next button: %w", err)
	}
	if len(buttons) == 0 {
		w.logger.Info("no next button found")
		return false, nil
	}

	// Previous and next share a class; next is rendered last.
	next := buttons[len(buttons)-1]

	disabled, err := w.page.Attribute(next, "disabled")
	if err != nil {
		return false, fmt.Errorf("failed to read next button state: %w", err)
	}
	ariaDisabled, err := w.page.Attribute(next, "aria-disabled")
	if err != nil {
		return false, fmt.Errorf("failed to read next button state: %w", err)
	}
	if disabled == "true" || ariaDisabled == "true" {
		w.logger.Info("next button is disabled")
		return false, nil
	}

	if err := w.page.ScrollTowards(next); err != nil {
		w.logger.Debug("failed to scroll to next button", "error", err)
	}
	if err := w.page.Click(next); err != nil {
		return false, fmt.Errorf("failed to click next button: %w", err)
	}
	if err := w.page.WaitForLoad(); err != nil {
		return false, fmt.Errorf("failed to load next page: %w", err)
	}

	return true, nil
}
