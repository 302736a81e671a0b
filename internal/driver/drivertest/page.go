// Package drivertest provides an in-memory driver.Page for exercising the
// crawler without a browser.
package drivertest

import (
	"fmt"
	"strings"
	"time"

	"github.com/maltedev/catalog-crawler/internal/driver"
)

// Node is a fake DOM node. It doubles as the driver.Element handle.
type Node struct {
	Tag      string
	ID       string
	Name     string
	Classes  []string
	Text     string
	HTML     string
	Attrs    map[string]string
	Children []*Node

	// Stale makes every read of this node fail with driver.ErrStaleElement.
	Stale bool
	// OnClick runs when the node is clicked.
	OnClick func(p *Page) error
}

// El builds a node with a space separated class list.
func El(tag, classes string, children ...*Node) *Node {
	return &Node{Tag: tag, Classes: strings.Fields(classes), Children: children}
}

func (n *Node) WithText(text string) *Node {
	n.Text = text
	return n
}

func (n *Node) WithHTML(html string) *Node {
	n.HTML = html
	return n
}

func (n *Node) WithID(id string) *Node {
	n.ID = id
	return n
}

func (n *Node) WithAttr(key, value string) *Node {
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[key] = value
	return n
}

func (n *Node) Append(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

func (n *Node) matches(loc driver.Locator) bool {
	switch loc.Kind {
	case driver.ByID:
		return n.ID == loc.Value
	case driver.ByName:
		return n.Name == loc.Value
	case driver.ByTag:
		return n.Tag == loc.Value
	case driver.ByClass:
		want := strings.Fields(loc.Value)
		if len(want) == 0 {
			return false
		}
		for _, w := range want {
			found := false
			for _, c := range n.Classes {
				if c == w {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
	return false
}

// href is the node's link, or that of its first descendant carrying one,
// mirroring a click that lands on a nested anchor.
func (n *Node) href() string {
	if h := n.Attrs["href"]; h != "" {
		return h
	}
	for _, c := range n.Children {
		if h := c.href(); h != "" {
			return h
		}
	}
	return ""
}

func (n *Node) collect(loc driver.Locator, out *[]*Node) {
	for _, c := range n.Children {
		if c.matches(loc) {
			*out = append(*out, c)
		}
		c.collect(loc, out)
	}
}

// Document builds the DOM served for a URL. It is called on every load so
// handlers can vary their output between visits.
type Document func(url string) *Node

type tab struct {
	url  string
	root *Node
}

// Page is a fake driver.Page with a stack of tabs.
type Page struct {
	Routes map[string]Document
	// Fail is consulted before every operation; a non-nil return is
	// returned from that operation unchanged.
	Fail func(op string, el driver.Element) error

	tabs []*tab

	Opened   int
	Closed   int
	MaxDepth int
	Clicks   int
	Scrolls  int
	Visited  []string
	Quitted  bool
}

var _ driver.Page = (*Page)(nil)

func New() *Page {
	return &Page{
		Routes: make(map[string]Document),
		tabs:   []*tab{{url: "about:blank", root: El("html", "")}},
	}
}

// Route registers a static document for url.
func (p *Page) Route(url string, root *Node) {
	p.Routes[url] = func(string) *Node { return root }
}

// Depth is the number of open tabs.
func (p *Page) Depth() int {
	return len(p.tabs)
}

func (p *Page) active() *tab {
	return p.tabs[len(p.tabs)-1]
}

// Replace swaps the active tab's DOM, as a client side navigation would.
func (p *Page) Replace(root *Node) {
	p.active().root = root
}

func (p *Page) load(url string) *Node {
	p.Visited = append(p.Visited, url)
	if doc, ok := p.Routes[url]; ok {
		if root := doc(url); root != nil {
			return root
		}
	}
	return El("html", "")
}

func (p *Page) fail(op string, el driver.Element) error {
	if p.Fail == nil {
		return nil
	}
	return p.Fail(op, el)
}

func node(el driver.Element) (*Node, error) {
	n, ok := el.(*Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("drivertest: foreign element %T", el)
	}
	if n.Stale {
		return nil, driver.ErrStaleElement
	}
	return n, nil
}

func (p *Page) Navigate(url string) error {
	if err := p.fail("navigate", nil); err != nil {
		return err
	}
	t := p.active()
	t.url = url
	t.root = p.load(url)
	return nil
}

func (p *Page) CurrentURL() (string, error) {
	if err := p.fail("url", nil); err != nil {
		return "", err
	}
	return p.active().url, nil
}

func (p *Page) FindOne(loc driver.Locator, scope driver.Element) (driver.Element, error) {
	if err := p.fail("find", scope); err != nil {
		return nil, err
	}
	found, err := p.find(loc, scope)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		if scope == nil {
			return nil, fmt.Errorf("%s: %w", loc, driver.ErrTimeout)
		}
		return nil, fmt.Errorf("%s: %w", loc, driver.ErrNoSuchElement)
	}
	return found[0], nil
}

func (p *Page) WaitFor(loc driver.Locator, _ time.Duration) (driver.Element, error) {
	if err := p.fail("wait", nil); err != nil {
		return nil, err
	}
	found, _ := p.find(loc, nil)
	if len(found) == 0 {
		return nil, fmt.Errorf("%s: %w", loc, driver.ErrTimeout)
	}
	return found[0], nil
}

func (p *Page) FindMany(loc driver.Locator, scope driver.Element) ([]driver.Element, error) {
	if err := p.fail("findMany", scope); err != nil {
		return nil, err
	}
	found, err := p.find(loc, scope)
	if err != nil {
		return nil, err
	}
	out := make([]driver.Element, len(found))
	for i, n := range found {
		out[i] = n
	}
	return out, nil
}

func (p *Page) find(loc driver.Locator, scope driver.Element) ([]*Node, error) {
	root := p.active().root
	if scope != nil {
		n, err := node(scope)
		if err != nil {
			return nil, err
		}
		root = n
	}
	var found []*Node
	root.collect(loc, &found)
	return found, nil
}

func (p *Page) Text(el driver.Element) (string, error) {
	if err := p.fail("text", el); err != nil {
		return "", err
	}
	n, err := node(el)
	if err != nil {
		return "", err
	}
	return n.Text, nil
}

func (p *Page) Attribute(el driver.Element, name string) (string, error) {
	if err := p.fail("attr", el); err != nil {
		return "", err
	}
	n, err := node(el)
	if err != nil {
		return "", err
	}
	if name == "innerHTML" {
		if n.HTML != "" {
			return n.HTML, nil
		}
		return n.Text, nil
	}
	return n.Attrs[name], nil
}

func (p *Page) Click(el driver.Element) error {
	if err := p.fail("click", el); err != nil {
		return err
	}
	n, err := node(el)
	if err != nil {
		return err
	}
	p.Clicks++
	if n.OnClick != nil {
		return n.OnClick(p)
	}
	return nil
}

func (p *Page) OpenInNewContext(el driver.Element) error {
	if err := p.fail("open", el); err != nil {
		return err
	}
	n, err := node(el)
	if err != nil {
		return err
	}
	url := n.href()
	p.tabs = append(p.tabs, &tab{url: url, root: p.load(url)})
	p.Opened++
	if len(p.tabs) > p.MaxDepth {
		p.MaxDepth = len(p.tabs)
	}
	return nil
}

func (p *Page) CloseActiveContext() error {
	if err := p.fail("close", nil); err != nil {
		return err
	}
	if len(p.tabs) < 2 {
		return fmt.Errorf("close listing tab: %w", driver.ErrNoSuchWindow)
	}
	p.tabs = p.tabs[:len(p.tabs)-1]
	p.Closed++
	return nil
}

func (p *Page) ScrollTowards(el driver.Element) error {
	if err := p.fail("scroll", el); err != nil {
		return err
	}
	p.Scrolls++
	return nil
}

func (p *Page) WaitForLoad() error {
	return p.fail("load", nil)
}

func (p *Page) Quit() error {
	p.Quitted = true
	return p.fail("quit", nil)
}
