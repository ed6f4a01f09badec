// Package pipeline implements the rank-resolution pipeline: classification
// of raw search results into promoted and organic families, merging of the
// two extraction passes, rank computation over the merged sequence, and
// boundary validation of matches found at page edges.
package pipeline

import (
	"strings"

	"go.uber.org/zap"

	"github.com/shelfmetrics/rank-cli/internal/model"
)

// Classifier tags raw results as promoted or organic by scoring four
// independent markup signals. Classification is a pure function of the
// result markup and the compiled pattern tables; no renderer state is
// consulted.
type Classifier struct {
	pats *PatternSet
}

func NewClassifier(pats *PatternSet) *Classifier {
	if pats == nil {
		pats = DefaultPatterns()
	}
	return &Classifier{pats: pats}
}

// Classify scores one result's markup. Each signal contributes at most one
// point; two or more points mark the result as promoted.
func (c *Classifier) Classify(markup string) model.SignalVector {
	lower := strings.ToLower(markup)

	v := model.SignalVector{
		HasPromotedText:   c.hasPromotedText(markup, lower),
		HasBadgeContainer: c.hasBadgeContainer(markup, lower),
		HasAriaLabel:      c.hasAriaLabel(markup, lower),
		HasAdMetadata:     c.hasAdMetadata(markup, lower),
	}
	for _, hit := range []bool{v.HasPromotedText, v.HasBadgeContainer, v.HasAriaLabel, v.HasAdMetadata} {
		if hit {
			v.SignalCount++
		}
	}
	return v
}

// ClassifyAll tags every record of one extraction pass, preserving order.
func (c *Classifier) ClassifyAll(records []model.RawResult) []model.ClassifiedResult {
	out := make([]model.ClassifiedResult, 0, len(records))
	promoted := 0
	for _, rec := range records {
		v := c.Classify(rec.Markup)
		if v.IsPromoted() {
			promoted++
		}
		out = append(out, model.ClassifiedResult{
			RawResult: rec,
			Promoted:  v.IsPromoted(),
			Signals:   v,
		})
	}
	zap.L().Debug("classify: tagged extraction pass",
		zap.Int("records", len(records)),
		zap.Int("promoted", promoted),
		zap.Int("organic", len(records)-promoted),
	)
	return out
}

// Signal 1: a visible sponsorship badge, either as element text or via the
// label classes that wrap it.
func (c *Classifier) hasPromotedText(markup, lower string) bool {
	if c.pats.promotedTextRe.MatchString(markup) {
		return true
	}
	return containsAny(lower, c.pats.labelClasses)
}

// Signal 2: a structural badge container class, or a component-type
// attribute marking the whole result as an ad slot.
func (c *Classifier) hasBadgeContainer(markup, _ string) bool {
	for _, cls := range c.pats.containerClasses {
		if strings.Contains(markup, cls) {
			return true
		}
	}
	return c.pats.componentTypeRe.MatchString(markup)
}

// Signal 3: promotion wording inside accessibility attributes, or an
// assistive-tech disclosure token.
func (c *Classifier) hasAriaLabel(markup, lower string) bool {
	if c.pats.ariaRe.MatchString(markup) {
		return true
	}
	return containsAny(lower, c.pats.roleTokens)
}

// Signal 4: ad-telemetry data attributes, a creative-metadata token, or an
// ad token inside the widget identifier.
func (c *Classifier) hasAdMetadata(markup, lower string) bool {
	if containsAny(lower, c.pats.adAttrPrefixes) {
		return true
	}
	for _, tok := range c.pats.adTokens {
		if strings.Contains(markup, tok) {
			return true
		}
	}
	return c.pats.widgetTokenRe.MatchString(markup)
}
