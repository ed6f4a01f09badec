package pipeline

import (
	"github.com/shelfmetrics/rank-cli/internal/model"
)

// ComputeRanks walks the merged sequence once, in order, counting organic
// and promoted results and latching the target's per-category rank at its
// first occurrence in each category. The walk never stops early: the full
// page totals feed cross-page accumulation even after the target is found.
// Ranks are relative to the page, 1-based within each category.
func ComputeRanks(merged []model.ClassifiedResult, targetID string) model.PageResult {
	pr := model.PageResult{TotalResults: len(merged)}

	for _, r := range merged {
		if r.Promoted {
			pr.PromotedCount++
		} else {
			pr.OrganicCount++
		}
		if r.Identifier != targetID {
			continue
		}
		if r.Promoted {
			if pr.PromotedRank == nil {
				rank := pr.PromotedCount
				pr.PromotedRank = &rank
			}
		} else {
			if pr.OrganicRank == nil {
				rank := pr.OrganicCount
				pr.OrganicRank = &rank
			}
		}
		if pr.Position == nil {
			pos := r.RawResult.Position
			pr.Position = &pos
		}
		pr.Found = true
	}
	return pr
}
