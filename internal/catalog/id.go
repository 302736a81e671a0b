// Package catalog knows the shape of the target catalog: how item ids are
// derived from links, where things are on the page, and how to walk the
// paginated listing.
package catalog

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/maltedev/catalog-crawler/internal/models"
)

// Site holds the constants that decide whether a link is an item page.
type Site struct {
	// Prefix is the canonical origin plus trailing slash, e.g.
	// "https://en.zalando.de/". Relative links resolve against it.
	Prefix         string
	ItemSuffix     string
	AlienFragments []string
}

func DefaultSite() Site {
	return Site{
		Prefix:     "https://en.zalando.de/",
		ItemSuffix: ".html",
		AlienFragments: []string{
			"/outfits/",
			"/collections/",
			"/men/",
			"/campaigns/",
			"/mens-clothing/",
		},
	}
}

// Verdict is the walker's classification of a listing entry.
type Verdict int

const (
	Valid Verdict = iota
	Alien
	Duplicate
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case Alien:
		return "alien"
	case Duplicate:
		return "duplicate"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Canonical resolves link against the site prefix and drops query and
// fragment.
func (s Site) Canonical(link string) (string, error) {
	base, err := url.Parse(s.Prefix)
	if err != nil {
		return "", fmt.Errorf("invalid site prefix %q: %w", s.Prefix, err)
	}
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", link, err)
	}
	u = base.ResolveReference(u)
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// Identify derives the catalog item for link. The second return is Alien
// when the link cannot be an item page; ids never contain a slash.
func (s Site) Identify(link string) (models.CatalogItem, Verdict) {
	canonical, err := s.Canonical(link)
	if err != nil {
		return models.CatalogItem{URL: link}, Alien
	}
	item := models.CatalogItem{URL: canonical}

	if !strings.HasSuffix(canonical, s.ItemSuffix) {
		return item, Alien
	}
	for _, fragment := range s.AlienFragments {
		if strings.Contains(canonical, fragment) {
			return item, Alien
		}
	}
	if !strings.HasPrefix(canonical, s.Prefix) {
		return item, Alien
	}

	id := strings.TrimSuffix(strings.TrimPrefix(canonical, s.Prefix), s.ItemSuffix)
	if id == "" || strings.Contains(id, "/") {
		return item, Alien
	}
	item.ID = id
	return item, Valid
}

// Classify is Identify plus the duplicate check against processed.
func (s Site) Classify(link string, processed models.IDSet) (models.CatalogItem, Verdict) {
	item, verdict := s.Identify(link)
	if verdict == Valid && processed.Has(item.ID) {
		return item, Duplicate
	}
	return item, verdict
}

// ItemURL is the canonical link for id.
func (s Site) ItemURL(id string) string {
	return s.Prefix + id + s.ItemSuffix
}
