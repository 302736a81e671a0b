// Package driver defines the narrow browser capability surface the crawler
// core depends on. Implementations live elsewhere (see internal/browser).
package driver

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTimeout       = errors.New("timed out waiting for element")
	ErrNoSuchElement = errors.New("no such element")
	ErrStaleElement  = errors.New("stale element reference")
	ErrNoSuchWindow  = errors.New("no such window")
	ErrDisconnected  = errors.New("browser disconnected")
	ErrNetwork       = errors.New("network error")
)

// Element is an opaque handle to a DOM node owned by the Page that returned it.
type Element interface{}

// Page is the browser surface consumed by the crawler.
//
// FindOne blocks up to the driver's short wait when scope is nil and
// returns ErrTimeout on expiry. With a non-nil scope it looks only at
// the current DOM and returns ErrNoSuchElement when nothing matches.
type Page interface {
	Navigate(url string) error
	CurrentURL() (string, error)
	FindOne(loc Locator, scope Element) (Element, error)
	WaitFor(loc Locator, timeout time.Duration) (Element, error)
	FindMany(loc Locator, scope Element) ([]Element, error)
	Text(el Element) (string, error)
	// Attribute reads an attribute. The pseudo attribute "innerHTML"
	// returns the element's inner markup.
	Attribute(el Element, name string) (string, error)
	Click(el Element) error
	// OpenInNewContext opens the element's link in a new tab and makes it active.
	OpenInNewContext(el Element) error
	// CloseActiveContext closes the active tab and re-activates the previous one.
	CloseActiveContext() error
	// ScrollTowards scrolls stepwise until el is in view. A nil el scrolls
	// a random amount.
	ScrollTowards(el Element) error
	WaitForLoad() error
	Quit() error
}

type LocatorKind string

const (
	ByClass LocatorKind = "class"
	ByID    LocatorKind = "id"
	ByName  LocatorKind = "name"
	ByTag   LocatorKind = "tag"
)

// Locator identifies elements by one of a few simple strategies.
type Locator struct {
	Kind  LocatorKind
	Value string
}

func Class(classes string) Locator { return Locator{Kind: ByClass, Value: classes} }
func ID(id string) Locator         { return Locator{Kind: ByID, Value: id} }
func Name(name string) Locator     { return Locator{Kind: ByName, Value: name} }
func Tag(tag string) Locator       { return Locator{Kind: ByTag, Value: tag} }

func (l Locator) IsZero() bool {
	return l.Value == ""
}

// Selector renders the locator as a CSS selector. A class set matches
// elements carrying every listed class, in any order.
func (l Locator) Selector() string {
	switch l.Kind {
	case ByClass:
		fields := strings.Fields(l.Value)
		var b strings.Builder
		for _, f := range fields {
			b.WriteByte('.')
			b.WriteString(cssEscape(f))
		}
		return b.String()
	case ByID:
		return "#" + cssEscape(l.Value)
	case ByName:
		return fmt.Sprintf("[name=%q]", l.Value)
	case ByTag:
		return l.Value
	}
	return l.Value
}

func (l Locator) String() string {
	return string(l.Kind) + ":" + l.Value
}

// ParseLocator parses the "kind:value" form used in selector files.
func ParseLocator(s string) (Locator, error) {
	kind, value, ok := strings.Cut(s, ":")
	if !ok {
		return Locator{}, fmt.Errorf("locator %q: missing kind prefix", s)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return Locator{}, fmt.Errorf("locator %q: empty value", s)
	}
	switch LocatorKind(strings.TrimSpace(kind)) {
	case ByClass:
		return Class(value), nil
	case ByID:
		return ID(value), nil
	case ByName:
		return Name(value), nil
	case ByTag:
		return Tag(value), nil
	}
	return Locator{}, fmt.Errorf("locator %q: unknown kind %q", s, kind)
}

// cssEscape escapes characters that are legal in class names but not in
// bare CSS identifiers. Generated class names such as "_0Qm8W1" or
// "DJxzzA" are common on the target site.
func cssEscape(ident string) string {
	var b strings.Builder
	for i, r := range ident {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r >= 0x80:
			b.WriteRune(r)
		case r == '-':
			if i == 0 && len(ident) == 1 {
				b.WriteString(`\-`)
			} else {
				b.WriteRune(r)
			}
		case r >= '0' && r <= '9':
			if i == 0 || (i == 1 && ident[0] == '-') {
				fmt.Fprintf(&b, `\3%c `, r)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}
