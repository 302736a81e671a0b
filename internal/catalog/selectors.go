package catalog

import (
	"fmt"
	"os"
	"sort"

	"github.com/maltedev/catalog-crawler/internal/driver"
	"gopkg.in/yaml.v3"
)

// Selectors is the locator table for the listing and detail pages.
type Selectors struct {
	ConsentBanner driver.Locator
	ConsentDeny   driver.Locator

	TotalItems    driver.Locator
	PageIndicator driver.Locator
	NextButton    driver.Locator
	Article       driver.Locator
	ArticleLink   driver.Locator

	DetailContainer driver.Locator
	ContentWrapper  driver.Locator
	Brand           driver.Locator
	Name            driver.Locator
	Price           driver.Locator
	DisplayedColor  driver.Locator
	ColorSwatch     driver.Locator
	SwatchImage     driver.Locator

	SizePicker       driver.Locator
	SizeRow          driver.Locator
	SizeAvailability driver.Locator
	SizePrice        driver.Locator
	SizeLabel        driver.Locator
	SizeLabelNotify  driver.Locator

	Section      driver.Locator
	SectionTitle driver.Locator
	SectionKey   driver.Locator
	SectionValue driver.Locator

	// Sections lists the attribute section titles that are extracted.
	Sections []string
}

func DefaultSelectors() *Selectors {
	return &Selectors{
		ConsentBanner: driver.ID("uc-main-banner"),
		ConsentDeny:   driver.ID("uc-btn-deny-banner"),

		TotalItems:    driver.Class("_0Qm8W1 _7Cm1F9 FxZV-M weHhRC u-6V88"),
		PageIndicator: driver.Class("_0Qm8W1 _7Cm1F9 FxZV-M pVrzNP JCuRr_ _0xLoFW uEg2FS FCIprz"),
		NextButton:    driver.Class("DJxzzA OldB32"),
		Article:       driver.Class("DT5BTM w8MdNG cYylcv _1FGXgy _75qWlu iOzucJ JT3_zV vut4p9"),
		ArticleLink:   driver.Class("_LM JT3_zV CKDt_l LyRfpJ"),

		DetailContainer: driver.Class("DT5BTM VHXqc_ rceRmQ _4NtqZU mIlIve"),
		ContentWrapper:  driver.Tag("x-wrapper-re-1-4"),
		Brand:           driver.Class("SZKKsK mt1kvu FxZV-M pVrzNP _5Yd-hZ"),
		Name:            driver.Class("EKabf7 R_QwOV"),
		Price:           driver.Class("_0xLoFW _78xIQ-"),
		DisplayedColor:  driver.Class("_0Qm8W1 u-6V88 dgII7d pVrzNP zN9KaA"),
		ColorSwatch:     driver.Class("pl0w2g DT5BTM A-NCMf"),
		SwatchImage:     driver.Tag("img"),

		SizePicker:       driver.ID("picker-trigger"),
		SizeRow:          driver.Class("fOd40J _0xLoFW JT3_zV FCIprz LyRfpJ"),
		SizeAvailability: driver.Class("nXkCf3"),
		SizePrice:        driver.Class("_0Qm8W1 u-6V88 FxZV-M pVrzNP ra-RRD"),
		SizeLabel:        driver.Class("_0Qm8W1 _7Cm1F9 dgII7d pVrzNP"),
		SizeLabelNotify:  driver.Class("_0Qm8W1 _7Cm1F9 dgII7d D--idb"),

		Section:      driver.Class("y4Yt_f NN8L-8 JT3_zV MxUWj-"),
		SectionTitle: driver.Class("JCuRr_"),
		SectionKey:   driver.Class("_0Qm8W1 u-6V88 dgII7d pVrzNP zN9KaA"),
		SectionValue: driver.Class("_0Qm8W1 u-6V88 FxZV-M pVrzNP zN9KaA"),

		Sections: []string{"Material & care", "Size & fit", "Details"},
	}
}

func (s *Selectors) table() map[string]*driver.Locator {
	return map[string]*driver.Locator{
		"consent_banner":    &s.ConsentBanner,
		"consent_deny":      &s.ConsentDeny,
		"total_items":       &s.TotalItems,
		"page_indicator":    &s.PageIndicator,
		"next_button":       &s.NextButton,
		"article":           &s.Article,
		"article_link":      &s.ArticleLink,
		"detail_container":  &s.DetailContainer,
		"content_wrapper":   &s.ContentWrapper,
		"brand":             &s.Brand,
		"name":              &s.Name,
		"price":             &s.Price,
		"displayed_color":   &s.DisplayedColor,
		"color_swatch":      &s.ColorSwatch,
		"swatch_image":      &s.SwatchImage,
		"size_picker":       &s.SizePicker,
		"size_row":          &s.SizeRow,
		"size_availability": &s.SizeAvailability,
		"size_price":        &s.SizePrice,
		"size_label":        &s.SizeLabel,
		"size_label_notify": &s.SizeLabelNotify,
		"section":           &s.Section,
		"section_title":     &s.SectionTitle,
		"section_key":       &s.SectionKey,
		"section_value":     &s.SectionValue,
	}
}

// Validate reports locators left empty.
func (s *Selectors) Validate() error {
	var missing []string
	for name, loc := range s.table() {
		if loc.IsZero() {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("selectors missing: %v", missing)
	}
	if len(s.Sections) == 0 {
		return fmt.Errorf("selectors: no attribute sections configured")
	}
	return nil
}

type selectorFile struct {
	Locators map[string]string `yaml:"locators"`
	Sections []string          `yaml:"sections"`
}

// LoadSelectors reads a YAML overlay on top of DefaultSelectors. Locators
// are written as "kind:value", e.g.
//
//	locators:
//	  next_button: "class:DJxzzA OldB32"
//	  size_picker: "id:picker-trigger"
//	sections: ["Material & care", "Details"]
func LoadSelectors(path string) (*Selectors, error) {
	sel := DefaultSelectors()
	if path == "" {
		return sel, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read selectors file: %w", err)
	}

	var file selectorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse selectors file: %w", err)
	}

	table := sel.table()
	for name, raw := range file.Locators {
		target, ok := table[name]
		if !ok {
			return nil, fmt.Errorf("selectors file: unknown locator %q", name)
		}
		loc, err := driver.ParseLocator(raw)
		if err != nil {
			return nil, fmt.Errorf("selectors file: %s: %w", name, err)
		}
		*target = loc
	}
	if len(file.Sections) > 0 {
		sel.Sections = file.Sections
	}

	return sel, sel.Validate()
}
