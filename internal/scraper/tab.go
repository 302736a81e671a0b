package scraper

import (
	"errors"
	"log/slog"

	"github.com/maltedev/catalog-crawler/internal/catalog"
	"github.com/maltedev/catalog-crawler/internal/driver"
	"github.com/maltedev/catalog-crawler/internal/models"
)

// TabSession is one open/close cycle of a detail tab. The listing tab is
// active again once Close returns, or Close reports why it is not.
type TabSession struct {
	page   driver.Page
	item   models.CatalogItem
	open   bool
	logger *slog.Logger
}

// OpenTab opens entry in a new tab and makes it active.
func OpenTab(page driver.Page, entry catalog.Entry, logger *slog.Logger) (*TabSession, error) {
	if err := page.ScrollTowards(entry.Handle); err != nil {
		if errors.Is(err, driver.ErrStaleElement) || browserGone(err) {
			return nil, contextFault(entry.Item.ID, "scroll to entry", err)
		}
		logger.Debug("failed to scroll to entry", "id", entry.Item.ID, "error", err)
	}

	if err := page.OpenInNewContext(entry.Handle); err != nil {
		return nil, contextFault(entry.Item.ID, "open detail tab", err)
	}

	t := &TabSession{
		page:   page,
		item:   entry.Item,
		open:   true,
		logger: logger,
	}

	// Extraction waits are bounded on their own; a slow load surfaces
	// there as a timeout.
	if err := page.WaitForLoad(); err != nil {
		logger.Warn("detail tab load wait failed", "id", entry.Item.ID, "error", err)
	}

	return t, nil
}

// Close closes the detail tab and returns to the listing. After a
// successful close further calls do nothing.
func (t *TabSession) Close() error {
	if !t.open {
		return nil
	}
	if err := t.page.CloseActiveContext(); err != nil {
		return contextFault(t.item.ID, "close detail tab", err)
	}
	t.open = false
	return nil
}

// Do runs fn inside the tab and closes the tab on every exit path. A close
// failure takes precedence over fn's error; the latter stays reachable
// through Unwrap.
func (t *TabSession) Do(fn func() error) (err error) {
	defer func() {
		closeErr := t.Close()
		if closeErr == nil {
			return
		}
		var f *Fault
		if err != nil && errors.As(closeErr, &f) {
			f.Err = errors.Join(f.Err, err)
		}
		err = closeErr
	}()

	return fn()
}
