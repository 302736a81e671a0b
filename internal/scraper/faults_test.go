package scraper

import (
	"errors"
	"fmt"
	"testing"

	"github.com/maltedev/catalog-crawler/internal/driver"
	"github.com/stretchr/testify/assert"
)

func TestFault_Error(t *testing.T) {
	f := newFault(KindTransientTimeout, "abc-a11", "extraction", driver.ErrTimeout)
	assert.Equal(t, "transient_timeout [abc-a11]: extraction: timed out waiting for element", f.Error())
	assert.ErrorIs(t, f, driver.ErrTimeout)

	bare := &Fault{Kind: KindInterrupted}
	assert.Equal(t, "interrupted", bare.Error())
}

func TestFault_Hint(t *testing.T) {
	assert.NotEmpty(t, newFault(KindConnectivityDegraded, "", "", nil).Hint)
	assert.NotEmpty(t, newFault(KindBrowserUnavailable, "", "", nil).Hint)
	assert.Empty(t, newFault(KindTransientTimeout, "", "", nil).Hint)
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", newFault(KindBrowserUnavailable, "", "", nil))
	assert.Equal(t, KindBrowserUnavailable, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestIsFatal(t *testing.T) {
	for _, k := range []Kind{KindAlienEntry, KindDuplicateEntry, KindStaleEntry, KindTransientTimeout} {
		assert.False(t, IsFatal(k), k)
	}
	for _, k := range []Kind{
		KindPreviousContextNotClosed,
		KindBrowserUnavailable,
		KindUnexpectedContext,
		KindConnectivityDegraded,
		KindUnexpectedExtraction,
		KindInterrupted,
	} {
		assert.True(t, IsFatal(k), k)
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name string
		got  error
		kind Kind
	}{
		{"extraction timeout", extractionFault("x", fmt.Errorf("brand: %w", driver.ErrTimeout)), KindTransientTimeout},
		{"extraction network", extractionFault("x", driver.ErrNetwork), KindTransientTimeout},
		{"extraction window", extractionFault("x", driver.ErrNoSuchWindow), KindBrowserUnavailable},
		{"extraction missing", extractionFault("x", driver.ErrNoSuchElement), KindUnexpectedExtraction},
		{"extraction keeps fault", extractionFault("x", newFault(KindInterrupted, "", "", nil)), KindInterrupted},
		{"context stale", contextFault("x", "open", driver.ErrStaleElement), KindPreviousContextNotClosed},
		{"context other", contextFault("x", "open", driver.ErrTimeout), KindUnexpectedContext},
		{"navigation timeout", navigationFault("next", driver.ErrTimeout), KindConnectivityDegraded},
		{"navigation window", navigationFault("next", driver.ErrDisconnected), KindBrowserUnavailable},
		{"navigation other", navigationFault("next", errors.New("x")), KindUnexpectedExtraction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.got))
		})
	}
}
