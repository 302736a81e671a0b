package scraper

import (
	"errors"
	"strings"

	"github.com/maltedev/catalog-crawler/internal/driver"
)

// Kind classifies a Fault. Kinds double as metric label values.
type Kind string

const (
	KindAlienEntry               Kind = "alien_entry"
	KindDuplicateEntry           Kind = "duplicate_entry"
	KindStaleEntry               Kind = "stale_entry"
	KindTransientTimeout         Kind = "transient_timeout"
	KindPreviousContextNotClosed Kind = "previous_context_not_closed"
	KindBrowserUnavailable       Kind = "browser_unavailable"
	KindUnexpectedContext        Kind = "unexpected_context_fault"
	KindConnectivityDegraded     Kind = "connectivity_degraded"
	KindUnexpectedExtraction     Kind = "unexpected_extraction_fault"
	KindInterrupted              Kind = "interrupted"
)

var hints = map[Kind]string{
	KindPreviousContextNotClosed: "a detail tab was left open; restart the browser before the next run",
	KindBrowserUnavailable:       "the browser session is gone; start a fresh run, saved state is kept",
	KindConnectivityDegraded:     "connectivity looks degraded; re-run later, the run resumes from saved state",
	KindUnexpectedExtraction:     "the page structure may have changed; check the selectors",
	KindUnexpectedContext:        "opening or closing a detail tab failed; inspect the browser",
	KindInterrupted:              "the run was cancelled; re-run to continue",
}

// Fault is the single error type the crawler core raises.
type Fault struct {
	Kind   Kind
	Msg    string
	ItemID string
	Err    error
	Hint   string
}

func newFault(kind Kind, itemID, msg string, err error) *Fault {
	return &Fault{
		Kind:   kind,
		Msg:    msg,
		ItemID: itemID,
		Err:    err,
		Hint:   hints[kind],
	}
}

func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString(string(f.Kind))
	if f.ItemID != "" {
		b.WriteString(" [")
		b.WriteString(f.ItemID)
		b.WriteString("]")
	}
	if f.Msg != "" {
		b.WriteString(": ")
		b.WriteString(f.Msg)
	}
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// KindOf returns the kind of the outermost Fault in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsFatal reports whether a fault kind ends the run.
func IsFatal(kind Kind) bool {
	switch kind {
	case KindAlienEntry, KindDuplicateEntry, KindStaleEntry, KindTransientTimeout:
		return false
	}
	return true
}

func browserGone(err error) bool {
	return errors.Is(err, driver.ErrNoSuchWindow) || errors.Is(err, driver.ErrDisconnected)
}

func timedOut(err error) bool {
	return errors.Is(err, driver.ErrTimeout) || errors.Is(err, driver.ErrNetwork)
}

// extractionFault classifies a failure inside the detail view.
func extractionFault(itemID string, err error) error {
	var f *Fault
	if errors.As(err, &f) {
		return err
	}
	switch {
	case browserGone(err):
		return newFault(KindBrowserUnavailable, itemID, "extraction", err)
	case timedOut(err):
		return newFault(KindTransientTimeout, itemID, "extraction", err)
	}
	return newFault(KindUnexpectedExtraction, itemID, "extraction", err)
}

// contextFault classifies a failure opening or closing a detail tab.
func contextFault(itemID, msg string, err error) error {
	switch {
	case errors.Is(err, driver.ErrStaleElement):
		return newFault(KindPreviousContextNotClosed, itemID, msg, err)
	case browserGone(err):
		return newFault(KindBrowserUnavailable, itemID, msg, err)
	}
	return newFault(KindUnexpectedContext, itemID, msg, err)
}

// navigationFault classifies a failure on the listing view.
func navigationFault(msg string, err error) error {
	switch {
	case browserGone(err):
		return newFault(KindBrowserUnavailable, "", msg, err)
	case timedOut(err):
		return newFault(KindConnectivityDegraded, "", msg, err)
	}
	return newFault(KindUnexpectedExtraction, "", msg, err)
}
