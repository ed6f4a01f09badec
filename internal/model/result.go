package model

import "time"

// RawResult is one candidate listing entry captured by the renderer during a
// single extraction pass. Immutable once captured.
type RawResult struct {
	Identifier string `json:"identifier"`
	Position   int    `json:"position"` // 1-based within its extraction pass
	Markup     string `json:"markup"`
}

// SignalVector holds the four independent promotion detectors evaluated
// against one result's markup. The promotion decision is derived from the
// count, never stored alongside it.
type SignalVector struct {
	HasPromotedText   bool `json:"has_promoted_text"`
	HasBadgeContainer bool `json:"has_badge_container"`
	HasAriaLabel      bool `json:"has_aria_label"`
	HasAdMetadata     bool `json:"has_ad_metadata"`
	SignalCount       int  `json:"signal_count"`
}

// IsPromoted reports whether the vector carries enough corroborating signals
// to classify the entry as promoted. A single signal is not sufficient:
// every detector has a known false-positive mode on its own.
func (v SignalVector) IsPromoted() bool {
	return v.SignalCount >= 2
}

// Confidence returns the fraction of detectors that fired, in [0,1].
func (v SignalVector) Confidence() float64 {
	return float64(v.SignalCount) / 4
}

// ClassifiedResult is a raw result tagged with its promotion classification.
type ClassifiedResult struct {
	RawResult
	Promoted bool         `json:"promoted"`
	Signals  SignalVector `json:"signals"`
}

// PageResult is the outcome of ranking one merged page of results against
// the target identifier. Rank fields are nil whenever Found is false.
type PageResult struct {
	Found             bool `json:"found"`
	OrganicRank       *int `json:"organic_rank"`
	PromotedRank      *int `json:"promoted_rank"`
	Position          *int `json:"position"`
	TotalResults      int  `json:"total_results"`
	OrganicCount      int  `json:"organic_count"`
	PromotedCount     int  `json:"promoted_count"`
	BoundaryValidated bool `json:"boundary_validated"`
}

// BoundaryChecks records the outcome of each full-validation check.
type BoundaryChecks struct {
	IdentifierMatch     bool `json:"identifier_match"`
	StructuralIntegrity bool `json:"structural_integrity"`
	ContentPresence     bool `json:"content_presence"`
	NotInjection        bool `json:"not_injection"`
}

// BoundaryValidation is the result of validating a boundary-zone match.
type BoundaryValidation struct {
	Valid      bool           `json:"valid"`
	Confidence float64        `json:"confidence"`
	Checks     BoundaryChecks `json:"checks"`
}

// RankResult is the final answer for one scan session: where the identifier
// ranks across all scanned pages. Nil ranks mean "not found within the
// scanned pages" and are a success, not an error.
type RankResult struct {
	Identifier          string    `json:"identifier"`
	Keyword             string    `json:"keyword"`
	OrganicRank         *int      `json:"organic_rank"`
	PromotedRank        *int      `json:"promoted_rank"`
	PageFound           *int      `json:"page_found"`
	PositionOnPage      *int      `json:"position_on_page"`
	TotalResultsScanned int       `json:"total_results_scanned"`
	ScannedPages        int       `json:"scanned_pages"`
	BoundaryValidated   bool      `json:"boundary_validated"`
	Timestamp           time.Time `json:"timestamp"`
}

// Found reports whether either rank was resolved.
func (r *RankResult) Found() bool {
	return r.OrganicRank != nil || r.PromotedRank != nil
}

// RetrySessionState is the observable state of the retry controller after
// each attempt, kept for logging and run records.
type RetrySessionState struct {
	Attempt     int           `json:"attempt"`
	LastError   ErrorKind     `json:"last_error,omitempty"`
	TotalDelay  time.Duration `json:"total_delay"`
	ShouldRetry bool          `json:"should_retry"`
}
