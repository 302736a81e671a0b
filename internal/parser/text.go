package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/catalog-crawler/internal/models"
)

var (
	pageIndicatorPattern = regexp.MustCompile(`(?i)(\d+)\s*(?:of|/|von)\s*(\d+)`)
	whitespacePattern    = regexp.MustCompile(`\s+`)
)

// HTMLText returns the visible text of an HTML fragment with whitespace
// collapsed. Attribute keys and values are read as innerHTML and may
// carry entities or inline markup.
func HTMLText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return collapse(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + fragment + "</body>"))
	if err != nil {
		return collapse(fragment)
	}
	return collapse(doc.Find("body").Text())
}

func collapse(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// AttributeKey normalizes a section key label: markup removed and a
// trailing colon stripped.
func AttributeKey(fragment string) string {
	key := HTMLText(fragment)
	key = strings.TrimSpace(strings.TrimSuffix(key, ":"))
	return key
}

// TotalItems parses labels like "1,234 items".
func TotalItems(label string) (int, error) {
	fields := strings.Fields(HTMLText(label))
	if len(fields) == 0 {
		return 0, ErrNoCount
	}
	if len(fields) > 1 {
		fields = fields[:len(fields)-1]
	}
	digits := strings.NewReplacer(",", "", ".", "", " ", "").Replace(strings.Join(fields, ""))
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNoCount, label)
	}
	return n, nil
}

// PageIndicator parses "Page 1 of 12" into (1, 12).
func PageIndicator(label string) (current, total int, err error) {
	m := pageIndicatorPattern.FindStringSubmatch(HTMLText(label))
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadPageIndicator, label)
	}
	current, _ = strconv.Atoi(m[1])
	total, _ = strconv.Atoi(m[2])
	if current < 1 || total < current {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadPageIndicator, label)
	}
	return current, total, nil
}

// CleanPrice keeps the leading segment of a price label. Promotional
// labels render the current price first, on its own line ("29,99 €\n39,99 €")
// or joined as "29,99 € | 39,99 €".
func CleanPrice(label string) string {
	label = strings.TrimSpace(label)
	if i := strings.IndexAny(label, "|\n"); i >= 0 {
		label = label[:i]
	}
	return collapse(label)
}

// AvailableSizes lists the size labels that can be ordered, sorted.
func AvailableSizes(sizes map[string]models.SizeInfo) []string {
	available := make([]string, 0, len(sizes))
	for size, info := range sizes {
		if strings.EqualFold(strings.TrimSpace(info.Availability), NotifyMe) {
			continue
		}
		available = append(available, size)
	}
	sort.Strings(available)
	return available
}
