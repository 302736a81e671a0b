package models

import (
	"sort"
	"time"
)

// CatalogItem identifies one product listing by its canonical id and URL.
type CatalogItem struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// SizeInfo is one row of the size picker.
type SizeInfo struct {
	Availability string `json:"availability"`
	Price        string `json:"price,omitempty"`
}

// ItemRecord is the extracted payload for one catalog item. Price is the
// raw label as rendered; cleaning happens downstream.
type ItemRecord struct {
	ID              string                       `json:"id"`
	URL             string                       `json:"url"`
	Brand           string                       `json:"brand"`
	Name            string                       `json:"name"`
	PriceLabel      string                       `json:"price_label"`
	Sizes           map[string]SizeInfo          `json:"sizes"`
	Colors          []string                     `json:"colors"`
	AttributeGroups map[string]map[string]string `json:"attribute_groups"`
	ScrapedAt       time.Time                    `json:"scraped_at"`
}

func NewItemRecord(item CatalogItem) *ItemRecord {
	return &ItemRecord{
		ID:              item.ID,
		URL:             item.URL,
		Sizes:           make(map[string]SizeInfo),
		Colors:          make([]string, 0),
		AttributeGroups: make(map[string]map[string]string),
	}
}

func (r *ItemRecord) Validate() []string {
	var errors []string

	if r.ID == "" {
		errors = append(errors, "ID is required")
	}

	if r.URL == "" {
		errors = append(errors, "URL is required")
	}

	if len(r.Colors) == 0 {
		errors = append(errors, "at least one color is required")
	}

	if r.ScrapedAt.IsZero() {
		errors = append(errors, "ScrapedAt is required")
	}

	return errors
}

// SkipReason explains why an entry was not extracted in this run.
type SkipReason string

const (
	SkipDuplicate        SkipReason = "duplicate"
	SkipAlien            SkipReason = "alien-link"
	SkipTransientTimeout SkipReason = "transient-timeout"
)

// Outcome is the final state a run reports.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeAborted Outcome = "aborted"
)

// RunMetadata holds counters and timestamps for one run.
type RunMetadata struct {
	RunID             string                `json:"run_id"`
	Mode              string                `json:"mode"`
	StartedAt         time.Time             `json:"started_at"`
	FinishedAt        time.Time             `json:"finished_at"`
	Duration          string                `json:"duration"`
	TotalItems        int                   `json:"total_items"`
	TotalPages        int                   `json:"total_pages"`
	PagesVisited      int                   `json:"pages_visited"`
	ProcessedArticles int                   `json:"processed_articles"`
	SkippedArticles   int                   `json:"skipped_articles"`
	SkipReasons       map[string]SkipReason `json:"skip_reasons,omitempty"`
	Outcome           Outcome               `json:"outcome"`
	Fault             string                `json:"fault,omitempty"`
	FaultKind         string                `json:"fault_kind,omitempty"`
}

// RunSnapshot is everything a finished run hands to the state store.
type RunSnapshot struct {
	Metadata  RunMetadata
	Records   []*ItemRecord
	Skipped   map[string]SkipReason
	Processed []string
}

// IDSet is a set of catalog item ids.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

func (s IDSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
