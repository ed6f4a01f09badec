package renderer

import "strings"

// BlockType describes the kind of blocking page detected.
type BlockType string

const (
	BlockNone         BlockType = ""
	BlockCaptcha      BlockType = "captcha"
	BlockInterstitial BlockType = "interstitial"
	BlockEmptyShell   BlockType = "empty_shell"
)

// captchaMarkers appear on storefront robot-check pages.
var captchaMarkers = []string{
	"validatecaptcha",
	"enter the characters you see below",
	"type the characters you see in this image",
	"api-services-support@",
	"robot check",
}

// interstitialMarkers appear on generic challenge and rate-limit pages.
var interstitialMarkers = []string{
	"checking your browser",
	"cf-browser-verification",
	"request could not be satisfied",
	"to discuss automated access",
}

// noResultsMarkers declare a zero-result page for the keyword.
var noResultsMarkers = []string{
	"did not match any products",
	"no results for",
	"try checking your spelling or use more general terms",
}

// DetectBlocking checks rendered page HTML for signs of anti-bot
// interception. A near-empty document that still asks for JavaScript is
// treated as a block: the renderer always executes scripts, so an empty
// shell means the real content was withheld.
func DetectBlocking(html string) BlockType {
	lower := strings.ToLower(html)

	for _, m := range captchaMarkers {
		if strings.Contains(lower, m) {
			return BlockCaptcha
		}
	}
	for _, m := range interstitialMarkers {
		if strings.Contains(lower, m) {
			return BlockInterstitial
		}
	}
	if len(html) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return BlockEmptyShell
		}
		if strings.Contains(lower, `meta http-equiv="refresh"`) {
			return BlockEmptyShell
		}
	}
	return BlockNone
}

// DetectNoResults checks rendered page HTML for the storefront's explicit
// zero-results message.
func DetectNoResults(html string) bool {
	lower := strings.ToLower(html)
	for _, m := range noResultsMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
