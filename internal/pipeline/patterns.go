package pipeline

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var rawPatterns []byte

// patternFile mirrors the YAML layout of the embedded pattern tables.
type patternFile struct {
	PromotedText struct {
		Phrases      []string `yaml:"phrases"`
		LabelClasses []string `yaml:"label_classes"`
	} `yaml:"promoted_text"`
	BadgeContainer struct {
		Classes        []string `yaml:"classes"`
		ComponentTypes []string `yaml:"component_types"`
	} `yaml:"badge_container"`
	Aria struct {
		Phrases    []string `yaml:"phrases"`
		RoleTokens []string `yaml:"role_tokens"`
	} `yaml:"aria"`
	AdMetadata struct {
		AttrPrefixes []string `yaml:"attr_prefixes"`
		Tokens       []string `yaml:"tokens"`
		WidgetTokens []string `yaml:"widget_tokens"`
	} `yaml:"ad_metadata"`
	Validator struct {
		PriceMarkers    []string `yaml:"price_markers"`
		TitleMarkers    []string `yaml:"title_markers"`
		RatingMarkers   []string `yaml:"rating_markers"`
		DeliveryMarkers []string `yaml:"delivery_markers"`
		PermalinkPaths  []string `yaml:"permalink_patterns"`
		InjectionMarks  []string `yaml:"injection_markers"`
		MinMarkupLen    int      `yaml:"min_markup_length"`
		MaxOccurrences  int      `yaml:"max_identifier_occurrences"`
	} `yaml:"validator"`
}

// PatternSet holds the compiled keyword and regex tables shared by the
// classifier and the boundary validator. A set is built once and treated
// as read-only afterwards, so it is safe to share across sessions.
type PatternSet struct {
	promotedTextRe *regexp.Regexp
	labelClasses   []string

	containerClasses []string
	componentTypeRe  *regexp.Regexp

	ariaRe     *regexp.Regexp
	roleTokens []string

	adAttrPrefixes []string
	adTokens       []string
	widgetTokenRe  *regexp.Regexp

	priceMarkers    []string
	titleMarkers    []string
	ratingMarkers   []string
	deliveryMarkers []string
	permalinkPaths  []string
	injectionMarks  []string
	minMarkupLen    int
	maxOccurrences  int
}

var defaultPatterns = mustLoad(rawPatterns)

// DefaultPatterns returns the pattern set compiled from the embedded tables.
func DefaultPatterns() *PatternSet { return defaultPatterns }

func mustLoad(raw []byte) *PatternSet {
	ps, err := loadPatterns(raw)
	if err != nil {
		panic(fmt.Sprintf("pipeline: bad embedded pattern tables: %v", err))
	}
	return ps
}

func loadPatterns(raw []byte) (*PatternSet, error) {
	var pf patternFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse pattern tables: %w", err)
	}
	if len(pf.PromotedText.Phrases) == 0 {
		return nil, fmt.Errorf("pattern tables define no promoted-text phrases")
	}

	ps := &PatternSet{
		labelClasses:     lowerAll(pf.PromotedText.LabelClasses),
		containerClasses: pf.BadgeContainer.Classes,
		roleTokens:       lowerAll(pf.Aria.RoleTokens),
		adAttrPrefixes:   lowerAll(pf.AdMetadata.AttrPrefixes),
		adTokens:         pf.AdMetadata.Tokens,
		priceMarkers:     lowerAll(pf.Validator.PriceMarkers),
		titleMarkers:     lowerAll(pf.Validator.TitleMarkers),
		ratingMarkers:    lowerAll(pf.Validator.RatingMarkers),
		deliveryMarkers:  lowerAll(pf.Validator.DeliveryMarkers),
		permalinkPaths:   pf.Validator.PermalinkPaths,
		injectionMarks:   lowerAll(pf.Validator.InjectionMarks),
		minMarkupLen:     pf.Validator.MinMarkupLen,
		maxOccurrences:   pf.Validator.MaxOccurrences,
	}
	if ps.minMarkupLen <= 0 {
		ps.minMarkupLen = 500
	}
	if ps.maxOccurrences <= 0 {
		ps.maxOccurrences = 5
	}

	var err error
	// Badge phrases match as element text: between a tag close and the
	// next tag open, allowing surrounding whitespace.
	ps.promotedTextRe, err = regexp.Compile(`(?i)>\s*(?:` + alternation(pf.PromotedText.Phrases) + `)\s*<`)
	if err != nil {
		return nil, fmt.Errorf("compile promoted-text pattern: %w", err)
	}
	ps.componentTypeRe, err = regexp.Compile(`(?i)data-component-type\s*=\s*["'](?:` + alternation(pf.BadgeContainer.ComponentTypes) + `)["']`)
	if err != nil {
		return nil, fmt.Errorf("compile component-type pattern: %w", err)
	}
	ps.ariaRe, err = regexp.Compile(`(?i)aria-(?:label|describedby)\s*=\s*["'][^"']*(?:` + alternation(pf.Aria.Phrases) + `)`)
	if err != nil {
		return nil, fmt.Errorf("compile aria pattern: %w", err)
	}
	ps.widgetTokenRe, err = regexp.Compile(`(?i)(?:cel_widget_id|data-cel-widget)\s*=\s*["'][^"']*(?:` + alternation(pf.AdMetadata.WidgetTokens) + `)`)
	if err != nil {
		return nil, fmt.Errorf("compile widget-token pattern: %w", err)
	}
	return ps, nil
}

func alternation(terms []string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(t))
	}
	return strings.Join(quoted, "|")
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func countMarkers(haystack string, needles []string) int {
	n := 0
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			n++
		}
	}
	return n
}
