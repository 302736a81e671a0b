// Package catalogtest builds fake listing and detail documents that match
// a catalog.Selectors table.
package catalogtest

import (
	"github.com/maltedev/catalog-crawler/internal/catalog"
	"github.com/maltedev/catalog-crawler/internal/driver"
	"github.com/maltedev/catalog-crawler/internal/driver/drivertest"
)

// node builds an element matched by loc.
func node(loc driver.Locator, children ...*drivertest.Node) *drivertest.Node {
	switch loc.Kind {
	case driver.ByID:
		return drivertest.El("div", "", children...).WithID(loc.Value)
	case driver.ByTag:
		return drivertest.El(loc.Value, "", children...)
	case driver.ByName:
		n := drivertest.El("div", "", children...)
		n.Name = loc.Value
		return n
	}
	return drivertest.El("div", loc.Value, children...)
}

type ListingOptions struct {
	TotalLabel string
	PageLabel  string
	// NextEnabled renders an enabled next button; OnNext runs when it is
	// clicked.
	NextEnabled bool
	OnNext      func(p *drivertest.Page) error
	Consent     bool
}

// Listing renders one listing page with an article per link.
func Listing(sel *catalog.Selectors, links []string, opts ListingOptions) *drivertest.Node {
	root := drivertest.El("html", "")

	if opts.Consent {
		banner := node(sel.ConsentBanner, node(sel.ConsentDeny))
		deny := banner.Children[0]
		deny.OnClick = func(p *drivertest.Page) error {
			root.Children = root.Children[1:]
			return nil
		}
		root.Append(banner)
	}

	if opts.TotalLabel != "" {
		root.Append(node(sel.TotalItems).WithText(opts.TotalLabel))
	}
	if opts.PageLabel != "" {
		root.Append(node(sel.PageIndicator).WithText(opts.PageLabel))
	}

	for _, link := range links {
		anchor := node(sel.ArticleLink).WithAttr("href", link)
		root.Append(node(sel.Article, anchor))
	}

	prev := node(sel.NextButton).WithAttr("disabled", "true")
	next := node(sel.NextButton)
	if !opts.NextEnabled {
		next.WithAttr("aria-disabled", "true")
	}
	next.OnClick = opts.OnNext
	root.Append(prev, next)

	return root
}

type SizeRow struct {
	Label        string
	Availability string
	Price        string
}

type Section struct {
	Title string
	Pairs [][2]string
}

type Detail struct {
	Brand          string
	Name           string
	Price          string
	DisplayedColor string
	Colors         []string
	Sizes          []SizeRow
	Sections       []Section
}

// DetailPage renders a detail view. Size rows only appear after the size
// picker has been clicked.
func DetailPage(sel *catalog.Selectors, d Detail) *drivertest.Node {
	wrapper := node(sel.ContentWrapper,
		node(sel.Brand).WithText(d.Brand),
		node(sel.Name).WithText(d.Name),
		node(sel.Price).WithText(d.Price),
		node(sel.DisplayedColor).WithText(d.DisplayedColor),
	)

	for _, color := range d.Colors {
		img := drivertest.El("img", "").WithAttr("alt", color)
		wrapper.Append(node(sel.ColorSwatch, img))
	}

	picker := node(sel.SizePicker)
	wrapper.Append(picker)

	sizes := drivertest.El("ul", "size-list")
	picker.OnClick = func(p *drivertest.Page) error {
		if len(sizes.Children) > 0 {
			return nil
		}
		for _, row := range d.Sizes {
			labelLoc := sel.SizeLabel
			if row.Availability == "Notify Me" {
				labelLoc = sel.SizeLabelNotify
			}
			r := node(sel.SizeRow,
				node(labelLoc).WithText(row.Label),
				node(sel.SizeAvailability).WithText(row.Availability),
			)
			if row.Price != "" {
				r.Append(node(sel.SizePrice).WithText(row.Price))
			}
			sizes.Append(r)
		}
		return nil
	}

	container := node(sel.DetailContainer, wrapper)

	for _, section := range d.Sections {
		s := node(sel.Section, node(sel.SectionTitle).WithText(section.Title))
		for _, pair := range section.Pairs {
			s.Append(
				node(sel.SectionKey).WithHTML(pair[0]),
				node(sel.SectionValue).WithHTML(pair[1]),
			)
		}
		container.Append(s)
	}

	return drivertest.El("html", "", container, sizes)
}
