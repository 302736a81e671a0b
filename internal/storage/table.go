package storage

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/maltedev/catalog-crawler/internal/models"
	"github.com/maltedev/catalog-crawler/internal/parser"
)

const (
	ColID             = "ID"
	ColURL            = "URL"
	ColBrand          = "Brand"
	ColName           = "Name"
	ColPriceLabel     = "Price Label"
	ColPrice          = "Price"
	ColSizes          = "Sizes"
	ColAvailableSizes = "Available Sizes"
	ColColors         = "Colors"
	ColScrapedAt      = "Scraped At"
)

var baseColumns = []string{
	ColID, ColURL, ColBrand, ColName, ColPriceLabel, ColPrice,
	ColSizes, ColAvailableSizes, ColColors, ColScrapedAt,
}

// AttributeColumn names the flat column of one attribute group entry.
func AttributeColumn(section, key string) string {
	return section + ": " + key
}

// table is the flat output: one row per item id, columns are the base
// columns followed by every attribute column ever seen.
type table struct {
	header []string
	known  map[string]bool
	rows   map[string]map[string]string
	order  []string
}

func newTable() *table {
	t := &table{
		known: make(map[string]bool),
		rows:  make(map[string]map[string]string),
	}
	t.addColumns(baseColumns)
	return t
}

func (t *table) addColumns(cols []string) {
	for _, c := range cols {
		if !t.known[c] {
			t.known[c] = true
			t.header = append(t.header, c)
		}
	}
}

func (t *table) empty() bool {
	return len(t.rows) == 0
}

// put inserts or replaces the row keyed by its ID column.
func (t *table) put(row map[string]string) {
	id := row[ColID]
	if id == "" {
		return
	}
	var extra []string
	for col := range row {
		if !t.known[col] {
			extra = append(extra, col)
		}
	}
	sort.Strings(extra)
	t.addColumns(extra)

	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = row
}

func readTable(path string) (*table, error) {
	t := newTable()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	t.addColumns(header)

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) && rec[i] != "" {
				row[col] = rec[i]
			}
		}
		t.put(row)
	}

	return t, nil
}

func (t *table) write(path string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(t.header); err != nil {
		return err
	}
	for _, id := range t.order {
		row := t.rows[id]
		rec := make([]string, len(t.header))
		for i, col := range t.header {
			rec[i] = row[col]
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	return writeAtomic(path, buf.Bytes())
}

// recordRow flattens a record into the cleaned tabular view.
func recordRow(r *models.ItemRecord) map[string]string {
	labels := make([]string, 0, len(r.Sizes))
	for label := range r.Sizes {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	row := map[string]string{
		ColID:             r.ID,
		ColURL:            r.URL,
		ColBrand:          r.Brand,
		ColName:           r.Name,
		ColPriceLabel:     r.PriceLabel,
		ColPrice:          parser.CleanPrice(r.PriceLabel),
		ColSizes:          strings.Join(labels, "\n"),
		ColAvailableSizes: strings.Join(parser.AvailableSizes(r.Sizes), "\n"),
		ColColors:         strings.Join(r.Colors, "\n"),
	}
	if !r.ScrapedAt.IsZero() {
		row[ColScrapedAt] = r.ScrapedAt.Format(time.RFC3339)
	}
	for section, pairs := range r.AttributeGroups {
		for key, value := range pairs {
			row[AttributeColumn(section, key)] = value
		}
	}
	return row
}
