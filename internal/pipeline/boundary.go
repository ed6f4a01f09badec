package pipeline

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/shelfmetrics/rank-cli/internal/model"
)

// boundaryZoneWidth is the number of positions at each page edge where a
// match is treated as suspect. Edge slots are where lazy-loading artifacts
// and injected widgets concentrate.
const boundaryZoneWidth = 3

// IsBoundaryZone reports whether a 1-based page position falls in the first
// or last boundaryZoneWidth slots of the page.
func IsBoundaryZone(position, totalResults int) bool {
	return position <= boundaryZoneWidth || position > totalResults-boundaryZoneWidth
}

// Validator double-checks matches found in a boundary zone. A cheap
// substring probe runs first; the four structural checks only run when the
// probe fails. Validation never vetoes a match: a failed validation is
// surfaced on the result, not used to drop it.
type Validator struct {
	pats *PatternSet
}

func NewValidator(pats *PatternSet) *Validator {
	if pats == nil {
		pats = DefaultPatterns()
	}
	return &Validator{pats: pats}
}

// Validate runs the quick probe and, when it fails, the full check battery.
func (v *Validator) Validate(targetID, markup string) model.BoundaryValidation {
	if v.Quick(targetID, markup) {
		return model.BoundaryValidation{
			Valid:      true,
			Confidence: 1.0,
			Checks: model.BoundaryChecks{
				IdentifierMatch:     true,
				StructuralIntegrity: true,
				ContentPresence:     true,
				NotInjection:        true,
			},
		}
	}
	return v.Full(targetID, markup)
}

// Quick is the cheap probe: the identifier appears somewhere in the markup,
// the markup contains an anchor, and at least one of the price, rating, or
// title markers is present.
func (v *Validator) Quick(targetID, markup string) bool {
	lower := strings.ToLower(markup)
	if !strings.Contains(lower, strings.ToLower(targetID)) {
		return false
	}
	if !strings.Contains(lower, "<a ") && !strings.Contains(lower, "</a>") {
		return false
	}
	return containsAny(lower, v.pats.priceMarkers) ||
		containsAny(lower, v.pats.ratingMarkers) ||
		containsAny(lower, v.pats.titleMarkers)
}

// Full runs the four independent checks. Three of four passing makes the
// match valid; the per-check outcomes and the pass fraction are kept for
// the caller. Check failures are absorbed into the result, never raised.
func (v *Validator) Full(targetID, markup string) model.BoundaryValidation {
	checks := model.BoundaryChecks{
		IdentifierMatch: v.identifierMatch(targetID, markup),
		NotInjection:    v.notInjection(markup),
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		zap.L().Debug("boundary: markup did not parse, structural checks fail closed",
			zap.Error(err))
	} else {
		checks.StructuralIntegrity = v.structuralIntegrity(doc)
	}
	checks.ContentPresence = v.contentPresence(markup)

	passed := 0
	for _, ok := range []bool{checks.IdentifierMatch, checks.StructuralIntegrity, checks.ContentPresence, checks.NotInjection} {
		if ok {
			passed++
		}
	}
	return model.BoundaryValidation{
		Valid:      passed >= 3,
		Confidence: float64(passed) / 4,
		Checks:     checks,
	}
}

// identifierMatch requires the identifier to appear as an exact data
// attribute value, and its total occurrence count to stay within the bounds
// of a single genuine listing. Zero occurrences means a stale match; too
// many means the markup captured more than one result card.
func (v *Validator) identifierMatch(targetID, markup string) bool {
	re, err := regexp.Compile(`(?i)data-[a-z0-9-]+\s*=\s*["']` + regexp.QuoteMeta(targetID) + `["']`)
	if err != nil {
		return false
	}
	if !re.MatchString(markup) {
		return false
	}
	n := strings.Count(strings.ToLower(markup), strings.ToLower(targetID))
	return n >= 1 && n <= v.pats.maxOccurrences
}

// structuralIntegrity wants at least two of: a product permalink anchor, an
// image, an interactive element.
func (v *Validator) structuralIntegrity(doc *goquery.Document) bool {
	found := 0

	permalink := false
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		for _, p := range v.pats.permalinkPaths {
			if strings.Contains(href, p) {
				permalink = true
				return false
			}
		}
		return true
	})
	if permalink {
		found++
	}
	if doc.Find("img").Length() > 0 {
		found++
	}
	if doc.Find(`button, input, select, [role="button"], [role="link"]`).Length() > 0 {
		found++
	}
	return found >= 2
}

// contentPresence wants at least two of the price, title, rating, and
// delivery markers. Markers are substring probes, not selectors: rating
// and delivery wording often lives in attribute values.
func (v *Validator) contentPresence(markup string) bool {
	lower := strings.ToLower(markup)
	found := 0
	for _, markers := range [][]string{v.pats.priceMarkers, v.pats.titleMarkers, v.pats.ratingMarkers, v.pats.deliveryMarkers} {
		if containsAny(lower, markers) {
			found++
		}
	}
	return found >= 2
}

// notInjection rejects markup carrying injected-widget markers or too
// little substance to be a real listing card.
func (v *Validator) notInjection(markup string) bool {
	if len(markup) < v.pats.minMarkupLen {
		return false
	}
	return !containsAny(strings.ToLower(markup), v.pats.injectionMarks)
}
