package pipeline

import (
	"go.uber.org/zap"

	"github.com/shelfmetrics/rank-cli/internal/model"
)

type mergeKey struct {
	id       string
	promoted bool
}

// Merge combines the two extraction passes of one page into a single
// duplicate-free sequence. Pass A keeps its order; pass B records are
// appended, in their own order, only when absent from A. Identity is the
// pair (identifier, promoted), so a listing appearing both as an ad slot
// and as an organic result survives as two entries. Merging a pass with
// itself returns the pass unchanged.
func Merge(passA, passB []model.ClassifiedResult) []model.ClassifiedResult {
	merged := make([]model.ClassifiedResult, 0, len(passA)+len(passB))
	seen := make(map[mergeKey]struct{}, len(passA)+len(passB))

	for _, r := range passA {
		k := mergeKey{id: r.Identifier, promoted: r.Promoted}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, r)
	}

	appended := 0
	for _, r := range passB {
		k := mergeKey{id: r.Identifier, promoted: r.Promoted}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, r)
		appended++
	}

	zap.L().Debug("merge: combined extraction passes",
		zap.Int("pass_a", len(passA)),
		zap.Int("pass_b", len(passB)),
		zap.Int("appended_from_b", appended),
		zap.Int("merged", len(merged)),
	)
	return merged
}
