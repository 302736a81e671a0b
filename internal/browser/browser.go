// Package browser drives Chromium through Playwright and exposes it as a
// driver.Page.
package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/maltedev/catalog-crawler/internal/driver"
	"github.com/playwright-community/playwright-go"
)

const (
	maxScrollStep  = 800.0
	maxScrollSteps = 25
	jitterSpread   = 300 * time.Millisecond
	loadSpread     = 700 * time.Millisecond
)

// Browser owns one Playwright browser context and a stack of tabs. The
// tab on top of the stack is the active one every driver.Page call
// operates on.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	pages   []playwright.Page
	opts    *Options
	logger  *slog.Logger
	sleep   func(time.Duration)
}

var _ driver.Page = (*Browser)(nil)

type Options struct {
	Headless       bool
	Timeout        time.Duration
	ShortWait      time.Duration
	LoadWait       time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		ShortWait:      5 * time.Second,
		LoadWait:       2 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-GB,en;q=0.9,de;q=0.8",
		TimezoneID:     "Europe/Berlin",
		Locale:         "en-GB",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
			"--user-agent=" + opts.UserAgent,
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	headers := make(map[string]string, len(opts.ExtraHeaders)+1)
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	if opts.AcceptLanguage != "" {
		headers["Accept-Language"] = opts.AcceptLanguage
	}

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(opts.UserAgent),
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            playwright.String(opts.Locale),
		TimezoneId:        playwright.String(opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	b := &Browser{
		pw:      pw,
		browser: browser,
		context: context,
		opts:    opts,
		logger:  logger.With("component", "browser"),
		sleep:   time.Sleep,
	}

	page, err := b.newPage()
	if err != nil {
		b.Quit()
		return nil, err
	}
	b.pages = append(b.pages, page)

	return b, nil
}

func (b *Browser) newPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", b.classify(err))
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))
	page.SetDefaultNavigationTimeout(float64(b.opts.Timeout.Milliseconds()))

	return page, nil
}

func (b *Browser) active() (playwright.Page, error) {
	if len(b.pages) == 0 {
		return nil, driver.ErrNoSuchWindow
	}
	page := b.pages[len(b.pages)-1]
	if page.IsClosed() {
		return nil, driver.ErrNoSuchWindow
	}
	return page, nil
}

func (b *Browser) Navigate(rawURL string) error {
	page, err := b.active()
	if err != nil {
		return err
	}

	b.logger.Debug("navigating", "url", rawURL)
	_, err = page.Goto(rawURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, b.classify(err))
	}

	b.pause(500 * time.Millisecond)
	return nil
}

func (b *Browser) CurrentURL() (string, error) {
	page, err := b.active()
	if err != nil {
		return "", err
	}
	return page.URL(), nil
}

func (b *Browser) FindOne(loc driver.Locator, scope driver.Element) (driver.Element, error) {
	if scope == nil {
		return b.WaitFor(loc, b.opts.ShortWait)
	}

	h, err := handle(scope)
	if err != nil {
		return nil, err
	}
	el, err := h.QuerySelector(loc.Selector())
	if err != nil {
		return nil, b.classify(err)
	}
	if el == nil {
		return nil, fmt.Errorf("%w: %s", driver.ErrNoSuchElement, loc)
	}
	return el, nil
}

func (b *Browser) WaitFor(loc driver.Locator, timeout time.Duration) (driver.Element, error) {
	page, err := b.active()
	if err != nil {
		return nil, err
	}

	el, err := page.WaitForSelector(loc.Selector(), playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", loc, b.classify(err))
	}
	if el == nil {
		return nil, fmt.Errorf("%w: %s", driver.ErrNoSuchElement, loc)
	}
	return el, nil
}

func (b *Browser) FindMany(loc driver.Locator, scope driver.Element) ([]driver.Element, error) {
	var (
		found []playwright.ElementHandle
		err   error
	)
	if scope == nil {
		page, perr := b.active()
		if perr != nil {
			return nil, perr
		}
		found, err = page.QuerySelectorAll(loc.Selector())
	} else {
		h, herr := handle(scope)
		if herr != nil {
			return nil, herr
		}
		found, err = h.QuerySelectorAll(loc.Selector())
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", loc, b.classify(err))
	}

	out := make([]driver.Element, len(found))
	for i, el := range found {
		out[i] = el
	}
	return out, nil
}

func (b *Browser) Text(el driver.Element) (string, error) {
	h, err := handle(el)
	if err != nil {
		return "", err
	}
	text, err := h.InnerText()
	if err != nil {
		return "", b.classify(err)
	}
	return text, nil
}

// Attribute reads name from el. "disabled" is reported as "true" or
// "false" since the DOM attribute carries no value.
func (b *Browser) Attribute(el driver.Element, name string) (string, error) {
	h, err := handle(el)
	if err != nil {
		return "", err
	}

	switch name {
	case "innerHTML":
		html, err := h.InnerHTML()
		if err != nil {
			return "", b.classify(err)
		}
		return html, nil
	case "disabled":
		disabled, err := h.IsDisabled()
		if err != nil {
			return "", b.classify(err)
		}
		if disabled {
			return "true", nil
		}
		return "false", nil
	}

	value, err := h.GetAttribute(name)
	if err != nil {
		return "", b.classify(err)
	}
	return value, nil
}

func (b *Browser) Click(el driver.Element) error {
	h, err := handle(el)
	if err != nil {
		return err
	}
	b.pause(200 * time.Millisecond)
	if err := h.Click(); err != nil {
		return b.classify(err)
	}
	return nil
}

// OpenInNewContext ctrl-clicks the element so the site opens it in a
// new tab, which becomes the active one. When no tab appears the link is
// resolved against the active page and loaded in a fresh tab instead.
func (b *Browser) OpenInNewContext(el driver.Element) error {
	h, err := handle(el)
	if err != nil {
		return err
	}
	current, err := b.active()
	if err != nil {
		return err
	}

	b.pause(300 * time.Millisecond)
	page, err := b.context.ExpectPage(func() error {
		return h.Click(playwright.ElementHandleClickOptions{
			Modifiers: []playwright.KeyboardModifier{*playwright.KeyboardModifierControl},
		})
	}, playwright.BrowserContextExpectPageOptions{
		Timeout: playwright.Float(float64(b.opts.ShortWait.Milliseconds())),
	})
	if err == nil {
		page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))
		page.SetDefaultNavigationTimeout(float64(b.opts.Timeout.Milliseconds()))
		b.pages = append(b.pages, page)
		if err := page.BringToFront(); err != nil {
			return b.discard(b.classify(err))
		}
		return nil
	}
	if classified := b.classify(err); !errors.Is(classified, driver.ErrTimeout) {
		return classified
	}
	b.logger.Debug("ctrl-click opened no tab, following link", "error", err)

	href, err := link(h)
	if err != nil {
		return b.classify(err)
	}
	target, err := resolve(current.URL(), href)
	if err != nil {
		return err
	}

	page, err = b.newPage()
	if err != nil {
		return err
	}
	b.pages = append(b.pages, page)

	if _, err := page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		err = b.classify(err)
		// The tab stays: a slow or flaky load shows up as a timeout
		// while extracting.
		if errors.Is(err, driver.ErrTimeout) || errors.Is(err, driver.ErrNetwork) {
			b.logger.Warn("detail tab load failed", "url", target, "error", err)
			b.closeStray()
			return nil
		}
		err = b.discard(fmt.Errorf("open %s: %w", target, err))
		b.closeStray()
		return err
	}
	// The ctrl-click tab may have opened after ExpectPage gave up.
	b.closeStray()
	return nil
}

// closeStray closes tabs of the context that are not on the stack.
func (b *Browser) closeStray() {
	for _, p := range untracked(b.context.Pages(), b.pages) {
		if err := p.Close(); err != nil && !p.IsClosed() {
			b.logger.Warn("failed to close stray tab", "url", p.URL(), "error", err)
			continue
		}
		b.logger.Debug("closed stray tab", "url", p.URL())
	}
}

func untracked(all, tracked []playwright.Page) []playwright.Page {
	var stray []playwright.Page
	for _, p := range all {
		if !slices.Contains(tracked, p) {
			stray = append(stray, p)
		}
	}
	return stray
}

// discard closes the top tab after a failed open so the previous tab is
// active again, and returns cause.
func (b *Browser) discard(cause error) error {
	top := b.pages[len(b.pages)-1]
	b.pages = b.pages[:len(b.pages)-1]
	if err := top.Close(); err != nil && !top.IsClosed() {
		return errors.Join(cause, b.classify(err))
	}
	return cause
}

func link(h playwright.ElementHandle) (string, error) {
	href, err := h.GetAttribute("href")
	if err != nil || href != "" {
		return href, err
	}
	anchor, err := h.QuerySelector("a[href]")
	if err != nil {
		return "", err
	}
	if anchor == nil {
		return "", fmt.Errorf("%w: element has no link", driver.ErrNoSuchElement)
	}
	return anchor.GetAttribute("href")
}

// CloseActiveContext closes the top tab and brings the one below to the
// front. Closing the last tab is refused.
func (b *Browser) CloseActiveContext() error {
	if len(b.pages) < 2 {
		return fmt.Errorf("%w: refusing to close the main tab", driver.ErrNoSuchWindow)
	}

	top := b.pages[len(b.pages)-1]
	if err := top.Close(); err != nil && !top.IsClosed() {
		return b.classify(err)
	}
	b.pages = b.pages[:len(b.pages)-1]
	b.closeStray()

	prev, err := b.active()
	if err != nil {
		return err
	}
	if err := prev.BringToFront(); err != nil {
		return b.classify(err)
	}
	return nil
}

// ScrollTowards wheels the active page in steps of at most maxScrollStep
// pixels until el's box is inside the viewport.
func (b *Browser) ScrollTowards(el driver.Element) error {
	page, err := b.active()
	if err != nil {
		return err
	}

	if el == nil {
		dy := 200 + rand.Float64()*(maxScrollStep-200)
		if err := page.Mouse().Wheel(0, dy); err != nil {
			return b.classify(err)
		}
		b.pause(300 * time.Millisecond)
		return nil
	}

	h, err := handle(el)
	if err != nil {
		return err
	}

	viewport := float64(b.opts.ViewportHeight)
	if size := page.ViewportSize(); size != nil && size.Height > 0 {
		viewport = float64(size.Height)
	}

	for i := 0; i < maxScrollSteps; i++ {
		box, err := h.BoundingBox()
		if err != nil {
			return b.classify(err)
		}
		if box == nil {
			break
		}

		delta := scrollDelta(box.Y, box.Height, viewport)
		if delta == 0 {
			return nil
		}
		if err := page.Mouse().Wheel(0, delta); err != nil {
			return b.classify(err)
		}
		b.pause(150 * time.Millisecond)
	}

	if err := h.ScrollIntoViewIfNeeded(); err != nil {
		return b.classify(err)
	}
	return nil
}

func (b *Browser) WaitForLoad() error {
	page, err := b.active()
	if err != nil {
		return err
	}

	if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateDomcontentloaded,
	}); err != nil {
		return b.classify(err)
	}

	b.sleep(b.opts.LoadWait + time.Duration(rand.Int63n(int64(loadSpread))))
	return nil
}

func (b *Browser) Quit() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	b.pages = nil
	return errors.Join(errs...)
}

func (b *Browser) pause(base time.Duration) {
	b.sleep(base + time.Duration(rand.Int63n(int64(jitterSpread))))
}

func (b *Browser) classify(err error) error {
	connected := b.browser == nil || b.browser.IsConnected()
	return classify(err, connected)
}

// classify maps Playwright failures onto the driver sentinels. The
// original error stays in the chain.
func classify(err error, connected bool) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	var sentinel error
	switch {
	case errors.Is(err, playwright.ErrTimeout) || strings.Contains(msg, "Timeout") && strings.Contains(msg, "exceeded"):
		sentinel = driver.ErrTimeout
	case strings.Contains(msg, "not attached to the DOM") || strings.Contains(msg, "detached"):
		sentinel = driver.ErrStaleElement
	case strings.Contains(msg, "Browser has been closed") || strings.Contains(msg, "browser has disconnected"):
		sentinel = driver.ErrDisconnected
	case errors.Is(err, playwright.ErrTargetClosed) || strings.Contains(msg, "Target closed") || strings.Contains(msg, "has been closed"):
		if connected {
			sentinel = driver.ErrNoSuchWindow
		} else {
			sentinel = driver.ErrDisconnected
		}
	case strings.Contains(msg, "net::ERR_") || strings.Contains(msg, "NS_ERROR_"):
		sentinel = driver.ErrNetwork
	default:
		return err
	}

	return fmt.Errorf("%w: %w", sentinel, err)
}

func handle(el driver.Element) (playwright.ElementHandle, error) {
	h, ok := el.(playwright.ElementHandle)
	if !ok || h == nil {
		return nil, fmt.Errorf("%w: unexpected element %T", driver.ErrStaleElement, el)
	}
	return h, nil
}

func resolve(base, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", href, err)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid page url %q: %w", base, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// scrollDelta is how far to wheel so a box at top y with height h ends up
// inside a viewport of the given height, capped at maxScrollStep.
func scrollDelta(y, h, viewport float64) float64 {
	switch {
	case y >= 0 && (y+h <= viewport || y < viewport/2):
		return 0
	case y < 0:
		return max(y-viewport/4, -maxScrollStep)
	default:
		return min(y+h-viewport+viewport/4, maxScrollStep)
	}
}
