package catalog

import (
	"testing"

	"github.com/maltedev/catalog-crawler/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestSite_Identify(t *testing.T) {
	site := DefaultSite()

	tests := []struct {
		name    string
		link    string
		id      string
		verdict Verdict
	}{
		{"item page", "https://en.zalando.de/tommy-hilfiger-shirt-white-to122d0bc-a11.html", "tommy-hilfiger-shirt-white-to122d0bc-a11", Valid},
		{"relative link", "/levis-shirt-blue-le222d0ba-k11.html", "levis-shirt-blue-le222d0ba-k11", Valid},
		{"missing suffix", "https://en.zalando.de/mens-clothing-shirts/", "", Alien},
		{"outfit page", "https://en.zalando.de/outfits/abc123.html", "", Alien},
		{"campaign page", "https://en.zalando.de/campaigns/summer.html", "", Alien},
		{"nested path", "https://en.zalando.de/brand/item.html", "", Alien},
		{"other host", "https://www.example.com/item.html", "", Alien},
		{"bare suffix", "https://en.zalando.de/.html", "", Alien},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, verdict := site.Identify(tt.link)
			assert.Equal(t, tt.verdict, verdict)
			assert.Equal(t, tt.id, item.ID)
		})
	}
}

func TestSite_IdentifyIgnoresQueryAndFragment(t *testing.T) {
	site := DefaultSite()
	base := "https://en.zalando.de/boss-shirt-white-bo122d0bc-a11.html"

	variants := []string{
		base,
		base + "?size=M",
		base + "#reviews",
		base + "?utm_source=listing&pos=3#top",
	}

	for _, link := range variants {
		item, verdict := site.Identify(link)
		assert.Equal(t, Valid, verdict, link)
		assert.Equal(t, "boss-shirt-white-bo122d0bc-a11", item.ID, link)
		assert.Equal(t, base, item.URL, link)
	}
}

func TestSite_Classify(t *testing.T) {
	site := DefaultSite()
	processed := models.NewIDSet("seen-a11")

	_, verdict := site.Classify("https://en.zalando.de/seen-a11.html?x=1", processed)
	assert.Equal(t, Duplicate, verdict)

	_, verdict = site.Classify("https://en.zalando.de/fresh-a11.html", processed)
	assert.Equal(t, Valid, verdict)

	_, verdict = site.Classify("https://en.zalando.de/outfits/seen-a11.html", processed)
	assert.Equal(t, Alien, verdict)
}

func TestSite_ItemURL(t *testing.T) {
	site := DefaultSite()
	item, verdict := site.Identify(site.ItemURL("abc-d11"))
	assert.Equal(t, Valid, verdict)
	assert.Equal(t, "abc-d11", item.ID)
}
