// Package renderer owns the browser side of a scan: launching a headless
// session, navigating storefront search pages, detecting challenge
// interstitials and empty result pages, and extracting raw result records
// for the pipeline to classify. One session serves exactly one scan
// attempt; retries get a fresh session with a fresh fingerprint.
package renderer

import (
	"context"

	"github.com/shelfmetrics/rank-cli/internal/model"
)

// Session is an exclusively-owned browser session. Methods are called
// strictly sequentially by the scan loop; implementations do not need to
// be safe for concurrent use. Close must release the underlying browser
// no matter how the attempt ended.
type Session interface {
	// Navigate loads the given search URL and waits for the page to load.
	Navigate(ctx context.Context, url string) error

	// Blocked reports whether the current page is a challenge interstitial
	// rather than a results page.
	Blocked(ctx context.Context) (BlockType, error)

	// NoResults reports whether the current page declares zero results for
	// the keyword.
	NoResults(ctx context.Context) (bool, error)

	// SettleLazyContent scrolls the page and waits for lazily injected
	// result slots to attach.
	SettleLazyContent(ctx context.Context) error

	// ExtractCandidates captures every candidate result container in DOM
	// order, positions numbered from 1.
	ExtractCandidates(ctx context.Context) ([]model.RawResult, error)

	Close() error
}

// Factory creates one session per scan attempt.
type Factory interface {
	NewSession(ctx context.Context, req model.Request) (Session, error)
}
