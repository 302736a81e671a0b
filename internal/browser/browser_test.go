package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/maltedev/catalog-crawler/internal/driver"
	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Headless)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 5*time.Second, opts.ShortWait)
	assert.Equal(t, 2*time.Second, opts.LoadWait)
	assert.Equal(t, 1920, opts.ViewportWidth)
	assert.Equal(t, 1080, opts.ViewportHeight)
	assert.Equal(t, "en-GB", opts.Locale)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		connected bool
		want      error
	}{
		{"playwright timeout", fmt.Errorf("%w: waiting for locator", playwright.ErrTimeout), true, driver.ErrTimeout},
		{"timeout message", errors.New("Timeout 5000ms exceeded."), true, driver.ErrTimeout},
		{"detached", errors.New("Element is not attached to the DOM"), true, driver.ErrStaleElement},
		{"closed tab", fmt.Errorf("%w: page closed", playwright.ErrTargetClosed), true, driver.ErrNoSuchWindow},
		{"closed while disconnected", errors.New("Target page, context or browser has been closed"), false, driver.ErrDisconnected},
		{"browser gone", errors.New("Browser has been closed"), true, driver.ErrDisconnected},
		{"network", errors.New("page.goto: net::ERR_NAME_NOT_RESOLVED at https://en.zalando.de/"), true, driver.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, tt.connected)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_Passthrough(t *testing.T) {
	assert.NoError(t, classify(nil, true))

	err := errors.New("evaluation failed")
	assert.Same(t, err, classify(err, true))
}

func TestResolve(t *testing.T) {
	got, err := resolve("https://en.zalando.de/mens-clothing-shirts/?p=2", "/boss-shirt-a11.html")
	require.NoError(t, err)
	assert.Equal(t, "https://en.zalando.de/boss-shirt-a11.html", got)

	got, err = resolve("https://en.zalando.de/", "https://other.example/x.html")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example/x.html", got)

	_, err = resolve("https://en.zalando.de/", "%zz")
	assert.Error(t, err)
}

func TestScrollDelta(t *testing.T) {
	assert.Zero(t, scrollDelta(100, 50, 1000))
	assert.Zero(t, scrollDelta(300, 2000, 1000), "tall element already starting in view")
	assert.Equal(t, maxScrollStep, scrollDelta(5000, 50, 1000))
	assert.Equal(t, 300.0, scrollDelta(1000, 50, 1000))
	assert.Equal(t, -maxScrollStep, scrollDelta(-4000, 50, 1000))
	assert.Equal(t, -350.0, scrollDelta(-100, 50, 1000))
}

func TestNoActiveTab(t *testing.T) {
	b := &Browser{opts: DefaultOptions(), sleep: func(time.Duration) {}}

	_, err := b.CurrentURL()
	assert.ErrorIs(t, err, driver.ErrNoSuchWindow)
	assert.ErrorIs(t, b.Navigate("https://en.zalando.de/"), driver.ErrNoSuchWindow)
	assert.ErrorIs(t, b.CloseActiveContext(), driver.ErrNoSuchWindow)
	assert.NoError(t, b.Quit())
}

func TestForeignElement(t *testing.T) {
	b := &Browser{opts: DefaultOptions(), sleep: func(time.Duration) {}}

	_, err := b.Text("not a handle")
	assert.ErrorIs(t, err, driver.ErrStaleElement)
	_, err = b.Attribute(nil, "href")
	assert.ErrorIs(t, err, driver.ErrStaleElement)
	assert.ErrorIs(t, b.Click(42), driver.ErrStaleElement)
}

type stubPage struct {
	playwright.Page
	url    string
	closed bool
}

func (p *stubPage) Close(...playwright.PageCloseOptions) error {
	p.closed = true
	return nil
}
func (p *stubPage) IsClosed() bool { return p.closed }
func (p *stubPage) URL() string { return p.url }
func (p *stubPage) BringToFront() error { return nil }

type stubContext struct {
	playwright.BrowserContext
	pages []*stubPage
}

func (c *stubContext) Pages() []playwright.Page {
	var open []playwright.Page
	for _, p := range c.pages {
		if !p.closed {
			open = append(open, p)
		}
	}
	return open
}

func TestUntracked(t *testing.T) {
	main := &stubPage{url: "https://en.zalando.de/men-shirts/"}
	detail := &stubPage{url: "https://en.zalando.de/a-a11.html"}
	late := &stubPage{url: "https://en.zalando.de/a-a11.html"}

	stray := untracked([]playwright.Page{main, late, detail}, []playwright.Page{main, detail})
	require.Len(t, stray, 1)
	assert.Same(t, late, stray[0])
	assert.Empty(t, untracked([]playwright.Page{main}, []playwright.Page{main}))
}

func TestCloseStray_LateCtrlClickTab(t *testing.T) {
	main := &stubPage{url: "https://en.zalando.de/men-shirts/"}
	fallback := &stubPage{url: "https://en.zalando.de/a-a11.html"}
	late := &stubPage{url: "https://en.zalando.de/a-a11.html"}
	ctx := &stubContext{pages: []*stubPage{main, late, fallback}}

	b := &Browser{
		context: ctx,
		pages:   []playwright.Page{main, fallback},
		opts:    DefaultOptions(),
		logger:  slog.Default(),
		sleep:   func(time.Duration) {},
	}
	b.closeStray()

	assert.True(t, late.closed, "the tab opened after the fallback is closed")
	assert.False(t, main.closed)
	assert.False(t, fallback.closed)
	assert.Len(t, b.pages, 2)
}

func TestCloseActiveContext_ClosesStrayTabs(t *testing.T) {
	main := &stubPage{url: "https://en.zalando.de/men-shirts/"}
	detail := &stubPage{url: "https://en.zalando.de/a-a11.html"}
	late := &stubPage{url: "https://en.zalando.de/a-a11.html"}
	ctx := &stubContext{pages: []*stubPage{main, detail, late}}

	b := &Browser{
		context: ctx,
		pages:   []playwright.Page{main, detail},
		opts:    DefaultOptions(),
		logger:  slog.Default(),
		sleep:   func(time.Duration) {},
	}
	require.NoError(t, b.CloseActiveContext())

	assert.True(t, detail.closed)
	assert.True(t, late.closed)
	assert.False(t, main.closed)
	assert.Equal(t, []playwright.Page{main}, b.pages)
	assert.Len(t, ctx.Pages(), 1)
}
