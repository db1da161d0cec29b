// Package evaluate measures prediction quality for one scoring day: top-K
// selection by propensity score and recall/precision against the realized
// labels. Its output feeds the metric series the concept-drift estimator
// consumes.
package evaluate

import (
	"sort"

	"github.com/sells-group/driftwatch/internal/concept"
	"github.com/sells-group/driftwatch/internal/model"
)

// TopK returns the k highest-scored entities, ties broken by entity ID so
// the selection is deterministic across runs. The input is not mutated.
func TopK(scored []model.ScoredEntity, k int) []model.ScoredEntity {
	if k <= 0 {
		return nil
	}

	ranked := append([]model.ScoredEntity(nil), scored...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].EntityID < ranked[j].EntityID
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// RecallAtK is the fraction of positive entities captured by the top-K
// selection. Undefined when there are no positives to recall.
func RecallAtK(scored []model.ScoredEntity, positives map[string]bool, k int) model.Measure {
	total := 0
	for _, isPos := range positives {
		if isPos {
			total++
		}
	}
	if total == 0 {
		return model.UndefinedMeasure()
	}

	hits := 0
	for _, s := range TopK(scored, k) {
		if positives[s.EntityID] {
			hits++
		}
	}
	return model.DefinedMeasure(float64(hits) / float64(total))
}

// PrecisionAtK is the fraction of the top-K selection that turned out
// positive. Undefined when the selection is empty.
func PrecisionAtK(scored []model.ScoredEntity, positives map[string]bool, k int) model.Measure {
	top := TopK(scored, k)
	if len(top) == 0 {
		return model.UndefinedMeasure()
	}

	hits := 0
	for _, s := range top {
		if positives[s.EntityID] {
			hits++
		}
	}
	return model.DefinedMeasure(float64(hits) / float64(len(top)))
}

// PositiveRate is the share of positive labels in a day's cohort. Undefined
// for an empty cohort.
func PositiveRate(labels []int) model.Measure {
	if len(labels) == 0 {
		return model.UndefinedMeasure()
	}
	pos := 0
	for _, l := range labels {
		if l != 0 {
			pos++
		}
	}
	return model.DefinedMeasure(float64(pos) / float64(len(labels)))
}

// Pairs joins scored entities with their realized labels for correlation.
// Entities without a label row are skipped (an inner join), matching how
// scores and labels are reconciled upstream.
func Pairs(scored []model.ScoredEntity, labels map[string]int) []concept.Pair {
	pairs := make([]concept.Pair, 0, len(scored))
	for _, s := range scored {
		label, ok := labels[s.EntityID]
		if !ok {
			continue
		}
		pairs = append(pairs, concept.Pair{Score: s.Score, Label: label})
	}
	return pairs
}
