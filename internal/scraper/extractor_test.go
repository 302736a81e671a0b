package scraper

import (
	"log/slog"
	"testing"
	"time"

	"github.com/maltedev/catalog-crawler/internal/catalog"
	"github.com/maltedev/catalog-crawler/internal/catalog/catalogtest"
	"github.com/maltedev/catalog-crawler/internal/driver"
	"github.com/maltedev/catalog-crawler/internal/driver/drivertest"
	"github.com/maltedev/catalog-crawler/internal/models"
	"github.com/maltedev/catalog-crawler/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testItem = models.CatalogItem{
	ID:  "boss-shirt-white-bo122d0bc-a11",
	URL: "https://en.zalando.de/boss-shirt-white-bo122d0bc-a11.html",
}

func sampleDetail() catalogtest.Detail {
	return catalogtest.Detail{
		Brand:          "BOSS",
		Name:           "Formal shirt - white",
		Price:          "59,95 €\n89,95 €",
		DisplayedColor: "white",
		Colors:         []string{"white", "light blue"},
		Sizes: []catalogtest.SizeRow{
			{Label: "39", Availability: "", Price: "54,95 €"},
			{Label: "40", Availability: "Notify Me", Price: "59,95 €"},
			{Label: "41", Availability: "Only 1 left"},
		},
		Sections: []catalogtest.Section{
			{Title: "Material &amp; care", Pairs: [][2]string{
				{"Outer fabric material:", "100% cotton"},
				{"Care instructions:", "Machine wash at 40°C,<br> do not tumble dry"},
			}},
			{Title: "Details", Pairs: [][2]string{
				{"Collar:", "Kent collar"},
			}},
			{Title: "Reviews", Pairs: [][2]string{
				{"Stars:", "5"},
			}},
		},
	}
}

func newExtractorPage(t *testing.T, d catalogtest.Detail) (*Extractor, *drivertest.Page) {
	t.Helper()
	sel := catalog.DefaultSelectors()
	page := drivertest.New()
	page.Route(testItem.URL, catalogtest.DetailPage(sel, d))
	require.NoError(t, page.Navigate(testItem.URL))

	e := NewExtractor(page, sel, time.Second, slog.Default())
	e.sleep = func(time.Duration) {}
	e.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e, page
}

func TestExtractor_Extract(t *testing.T) {
	e, page := newExtractorPage(t, sampleDetail())

	record, err := e.Extract(testItem)
	require.NoError(t, err)

	assert.Equal(t, testItem.ID, record.ID)
	assert.Equal(t, "BOSS", record.Brand)
	assert.Equal(t, "Formal shirt - white", record.Name)
	assert.Equal(t, "59,95 €\n89,95 €", record.PriceLabel, "price label is passed through raw")
	assert.Equal(t, "59,95 €", parser.CleanPrice(record.PriceLabel))
	assert.Equal(t, []string{"white", "light blue"}, record.Colors)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), record.ScrapedAt)
	assert.Empty(t, record.Validate())

	assert.Equal(t, map[string]models.SizeInfo{
		"39": {Availability: "", Price: "54,95 €"},
		"40": {Availability: "Notify Me"},
		"41": {Availability: "Only 1 left"},
	}, record.Sizes)

	assert.Equal(t, map[string]map[string]string{
		"Material & care": {
			"Outer fabric material": "100% cotton",
			"Care instructions":     "Machine wash at 40°C, do not tumble dry",
		},
		"Details": {"Collar": "Kent collar"},
	}, record.AttributeGroups)

	assert.Equal(t, 1, page.Clicks, "size picker is opened once")
}

func TestExtractor_SizeRowsScenario(t *testing.T) {
	d := sampleDetail()
	d.Sizes = []catalogtest.SizeRow{
		{Label: "M", Availability: "Notify Me", Price: "19,99 €"},
		{Label: "L", Availability: "", Price: "24,99 €"},
	}
	e, _ := newExtractorPage(t, d)

	record, err := e.Extract(testItem)
	require.NoError(t, err)

	require.Len(t, record.Sizes, 2)
	assert.Empty(t, record.Sizes["M"].Price)
	assert.Equal(t, "24,99 €", record.Sizes["L"].Price)
}

func TestExtractor_ColorFallback(t *testing.T) {
	d := sampleDetail()
	d.Colors = nil
	d.DisplayedColor = "navy"
	e, _ := newExtractorPage(t, d)

	record, err := e.Extract(testItem)
	require.NoError(t, err)
	assert.Equal(t, []string{"navy"}, record.Colors)
}

func TestExtractor_SwatchWithoutImage(t *testing.T) {
	sel := catalog.DefaultSelectors()
	root := catalogtest.DetailPage(sel, sampleDetail())
	wrapper := root.Children[0].Children[0]
	wrapper.Append(drivertest.El("li", sel.ColorSwatch.Value))

	page := drivertest.New()
	page.Route(testItem.URL, root)
	require.NoError(t, page.Navigate(testItem.URL))
	e := NewExtractor(page, sel, 0, slog.Default())
	e.sleep = func(time.Duration) {}

	record, err := e.Extract(testItem)
	require.NoError(t, err)
	assert.Equal(t, []string{"white", "light blue"}, record.Colors)
}

func TestExtractor_NoSwatchImagesFallsBack(t *testing.T) {
	sel := catalog.DefaultSelectors()
	d := sampleDetail()
	d.Colors = nil
	d.DisplayedColor = "navy"
	root := catalogtest.DetailPage(sel, d)
	root.Children[0].Children[0].Append(drivertest.El("li", sel.ColorSwatch.Value))

	page := drivertest.New()
	page.Route(testItem.URL, root)
	require.NoError(t, page.Navigate(testItem.URL))
	e := NewExtractor(page, sel, 0, slog.Default())
	e.sleep = func(time.Duration) {}

	record, err := e.Extract(testItem)
	require.NoError(t, err)
	assert.Equal(t, []string{"navy"}, record.Colors)
}

func TestExtractor_Faults(t *testing.T) {
	sel := catalog.DefaultSelectors()

	t.Run("missing container is a transient timeout", func(t *testing.T) {
		page := drivertest.New()
		require.NoError(t, page.Navigate(testItem.URL))
		e := NewExtractor(page, sel, 0, slog.Default())

		record, err := e.Extract(testItem)
		assert.Nil(t, record)
		assert.Equal(t, KindTransientTimeout, KindOf(err))
		assert.ErrorIs(t, err, driver.ErrTimeout)
	})

	t.Run("missing scoped field is unexpected", func(t *testing.T) {
		d := sampleDetail()
		root := catalogtest.DetailPage(sel, d)
		// Drop the brand node from the wrapper.
		wrapper := root.Children[0].Children[0]
		wrapper.Children = wrapper.Children[1:]

		page := drivertest.New()
		page.Route(testItem.URL, root)
		require.NoError(t, page.Navigate(testItem.URL))
		e := NewExtractor(page, sel, 0, slog.Default())

		record, err := e.Extract(testItem)
		assert.Nil(t, record, "no partial record")
		assert.Equal(t, KindUnexpectedExtraction, KindOf(err))
		assert.ErrorIs(t, err, driver.ErrNoSuchElement)
		assert.Contains(t, err.Error(), "brand")
	})

	t.Run("disconnected browser", func(t *testing.T) {
		e, page := newExtractorPage(t, sampleDetail())
		page.Fail = func(op string, _ driver.Element) error {
			if op == "click" {
				return driver.ErrDisconnected
			}
			return nil
		}

		_, err := e.Extract(testItem)
		assert.Equal(t, KindBrowserUnavailable, KindOf(err))
	})

	t.Run("network error is transient", func(t *testing.T) {
		e, page := newExtractorPage(t, sampleDetail())
		page.Fail = func(op string, _ driver.Element) error {
			if op == "findMany" {
				return driver.ErrNetwork
			}
			return nil
		}

		_, err := e.Extract(testItem)
		assert.Equal(t, KindTransientTimeout, KindOf(err))
	})
}
