package scraper

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/catalog-crawler/internal/catalog"
	"github.com/maltedev/catalog-crawler/internal/driver"
	"github.com/maltedev/catalog-crawler/internal/models"
	"github.com/maltedev/catalog-crawler/internal/parser"
)

// Extractor reads an ItemRecord from the active detail view. It holds no
// per-item state.
type Extractor struct {
	page   driver.Page
	sel    *catalog.Selectors
	settle time.Duration
	sleep  func(time.Duration)
	now    func() time.Time
	logger *slog.Logger
}

func NewExtractor(page driver.Page, sel *catalog.Selectors, settle time.Duration, logger *slog.Logger) *Extractor {
	return &Extractor{
		page:   page,
		sel:    sel,
		settle: settle,
		sleep:  time.Sleep,
		now:    time.Now,
		logger: logger.With("component", "extractor"),
	}
}

// Extract returns a complete record or a *Fault; it never returns a
// partially filled record.
func (e *Extractor) Extract(item models.CatalogItem) (*models.ItemRecord, error) {
	record, err := e.extract(item)
	if err != nil {
		return nil, extractionFault(item.ID, err)
	}
	return record, nil
}

func (e *Extractor) extract(item models.CatalogItem) (*models.ItemRecord, error) {
	record := models.NewItemRecord(item)

	container, err := e.page.FindOne(e.sel.DetailContainer, nil)
	if err != nil {
		return nil, fmt.Errorf("detail container: %w", err)
	}
	wrapper, err := e.page.FindOne(e.sel.ContentWrapper, container)
	if err != nil {
		return nil, fmt.Errorf("content wrapper: %w", err)
	}

	if record.Brand, err = e.text(e.sel.Brand, wrapper); err != nil {
		return nil, fmt.Errorf("brand: %w", err)
	}
	if record.Name, err = e.text(e.sel.Name, wrapper); err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	if record.PriceLabel, err = e.rawText(e.sel.Price, wrapper); err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}

	if record.Colors, err = e.colors(wrapper); err != nil {
		return nil, fmt.Errorf("colors: %w", err)
	}
	if record.Sizes, err = e.sizes(); err != nil {
		return nil, fmt.Errorf("sizes: %w", err)
	}
	if record.AttributeGroups, err = e.sections(); err != nil {
		return nil, fmt.Errorf("sections: %w", err)
	}

	record.ScrapedAt = e.now()
	return record, nil
}

func (e *Extractor) rawText(loc driver.Locator, scope driver.Element) (string, error) {
	el, err := e.page.FindOne(loc, scope)
	if err != nil {
		return "", err
	}
	return e.page.Text(el)
}

func (e *Extractor) text(loc driver.Locator, scope driver.Element) (string, error) {
	s, err := e.rawText(loc, scope)
	return strings.TrimSpace(s), err
}

// colors reads the swatch labels, falling back to the displayed color so
// the result is never empty.
func (e *Extractor) colors(wrapper driver.Element) ([]string, error) {
	swatches, err := e.page.FindMany(e.sel.ColorSwatch, wrapper)
	if err != nil {
		return nil, err
	}

	colors := make([]string, 0, len(swatches))
	for _, swatch := range swatches {
		img, err := e.page.FindOne(e.sel.SwatchImage, swatch)
		if errors.Is(err, driver.ErrNoSuchElement) {
			continue
		}
		if err != nil {
			return nil, err
		}
		alt, err := e.page.Attribute(img, "alt")
		if err != nil {
			return nil, err
		}
		if alt = strings.TrimSpace(alt); alt != "" {
			colors = append(colors, alt)
		}
	}
	if len(colors) > 0 {
		return colors, nil
	}

	displayed, err := e.text(e.sel.DisplayedColor, wrapper)
	if err != nil {
		return nil, err
	}
	return []string{displayed}, nil
}

func (e *Extractor) sizes() (map[string]models.SizeInfo, error) {
	picker, err := e.page.FindOne(e.sel.SizePicker, nil)
	if err != nil {
		return nil, fmt.Errorf("size picker: %w", err)
	}
	if err := e.page.ScrollTowards(picker); err != nil {
		e.logger.Debug("failed to scroll to size picker", "error", err)
	}
	if err := e.page.Click(picker); err != nil {
		return nil, fmt.Errorf("open size picker: %w", err)
	}
	e.sleep(e.settle)

	rows, err := e.page.FindMany(e.sel.SizeRow, nil)
	if err != nil {
		return nil, err
	}

	sizes := make(map[string]models.SizeInfo, len(rows))
	for _, row := range rows {
		availability, err := e.text(e.sel.SizeAvailability, row)
		if err != nil {
			return nil, fmt.Errorf("availability: %w", err)
		}

		notify := availability == parser.NotifyMe
		labelLoc := e.sel.SizeLabel
		if notify {
			labelLoc = e.sel.SizeLabelNotify
		}
		label, err := e.text(labelLoc, row)
		if err != nil {
			return nil, fmt.Errorf("size label: %w", err)
		}

		info := models.SizeInfo{Availability: availability}
		if !notify {
			price, err := e.text(e.sel.SizePrice, row)
			switch {
			case err == nil:
				info.Price = price
			case errors.Is(err, driver.ErrNoSuchElement):
			default:
				return nil, fmt.Errorf("size price: %w", err)
			}
		}
		sizes[label] = info
	}

	return sizes, nil
}

func (e *Extractor) sections() (map[string]map[string]string, error) {
	wanted := make(map[string]bool, len(e.sel.Sections))
	for _, s := range e.sel.Sections {
		wanted[s] = true
	}

	sections, err := e.page.FindMany(e.sel.Section, nil)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]map[string]string)
	for _, section := range sections {
		title, err := e.rawText(e.sel.SectionTitle, section)
		if err != nil {
			return nil, fmt.Errorf("section title: %w", err)
		}
		title = parser.HTMLText(title)
		if !wanted[title] {
			continue
		}

		keys, err := e.page.FindMany(e.sel.SectionKey, section)
		if err != nil {
			return nil, err
		}
		values, err := e.page.FindMany(e.sel.SectionValue, section)
		if err != nil {
			return nil, err
		}
		if len(keys) != len(values) {
			e.logger.Debug("section keys and values differ", "section", title, "keys", len(keys), "values", len(values))
		}

		group := make(map[string]string, len(keys))
		for i := 0; i < len(keys) && i < len(values); i++ {
			k, err := e.page.Attribute(keys[i], "innerHTML")
			if err != nil {
				return nil, err
			}
			v, err := e.page.Attribute(values[i], "innerHTML")
			if err != nil {
				return nil, err
			}
			group[parser.AttributeKey(k)] = parser.HTMLText(v)
		}
		groups[title] = group
	}

	return groups, nil
}
