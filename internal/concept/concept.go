// Package concept estimates concept drift: how prediction quality at an
// anchor date compares to its own history. Baselines are computed strictly
// before the anchor, by construction; the estimator never sees a future
// value while averaging.
package concept

import (
	"math"
	"sort"
	"time"

	"github.com/sells-group/driftwatch/internal/model"
)

// Config holds the estimator's tunables.
type Config struct {
	// BaselineLookback caps the baseline mean to the most recent N
	// observations before the anchor.
	BaselineLookback int `yaml:"baseline_lookback" mapstructure:"baseline_lookback"`
}

// DefaultConfig returns the production lookback of 30 observations.
func DefaultConfig() Config {
	return Config{BaselineLookback: 30}
}

// Pair is one (prediction score, true label) observation for the anchor day.
type Pair struct {
	Score float64
	Label int
}

// Estimator computes concept-drift signals. Stateless; all inputs are passed
// explicitly and never mutated.
type Estimator struct {
	cfg Config
}

// New returns an Estimator, filling the default lookback if unset.
func New(cfg Config) *Estimator {
	if cfg.BaselineLookback <= 0 {
		cfg.BaselineLookback = 30
	}
	return &Estimator{cfg: cfg}
}

// Check assembles the ConceptDriftRecord for one anchor date: recall
// degradation against the pre-anchor baseline, score/label correlation for
// the anchor-day cohort, and the label-rate shift against its own history.
// Missing inputs surface as undefined measures, never as zeros.
func (e *Estimator) Check(anchor time.Time, metrics []model.MetricPoint, pairs []Pair, labelRates []model.MetricPoint) model.ConceptDriftRecord {
	baseline := e.Baseline(metrics, anchor)
	current := Current(metrics, anchor)

	return model.ConceptDriftRecord{
		AnchorDate:        day(anchor),
		BaselineRecall:    baseline,
		CurrentRecall:     current,
		RecallDegradation: baseline.Sub(current),
		ScoreLabelCorr:    Correlation(pairs),
		LabelRateShift:    Current(labelRates, anchor).Sub(e.Baseline(labelRates, anchor)),
	}
}

// Baseline returns the mean of non-null metric values strictly before the
// anchor date, bounded to the most recent BaselineLookback observations.
// Undefined when no prior value exists.
func (e *Estimator) Baseline(series []model.MetricPoint, anchor time.Time) model.Measure {
	anchorDay := day(anchor)

	prior := make([]model.MetricPoint, 0, len(series))
	for _, p := range series {
		if p.Value != nil && day(p.Date).Before(anchorDay) {
			prior = append(prior, p)
		}
	}
	if len(prior) == 0 {
		return model.UndefinedMeasure()
	}

	// Most recent first, then cap at the lookback.
	sort.SliceStable(prior, func(i, j int) bool { return prior[i].Date.After(prior[j].Date) })
	if len(prior) > e.cfg.BaselineLookback {
		prior = prior[:e.cfg.BaselineLookback]
	}

	var sum float64
	for _, p := range prior {
		sum += *p.Value
	}
	return model.DefinedMeasure(sum / float64(len(prior)))
}

// Current returns the metric value recorded exactly at the anchor date, or
// undefined when no record (or a null record) exists for that day.
func Current(series []model.MetricPoint, anchor time.Time) model.Measure {
	anchorDay := day(anchor)
	for _, p := range series {
		if p.Value != nil && day(p.Date).Equal(anchorDay) {
			return model.DefinedMeasure(*p.Value)
		}
	}
	return model.UndefinedMeasure()
}

// Correlation computes the Pearson correlation between prediction scores and
// true labels. Undefined for fewer than two pairs or zero variance on either
// side, never NaN.
func Correlation(pairs []Pair) model.Measure {
	n := float64(len(pairs))
	if len(pairs) < 2 {
		return model.UndefinedMeasure()
	}

	var meanScore, meanLabel float64
	for _, p := range pairs {
		meanScore += p.Score
		meanLabel += float64(p.Label)
	}
	meanScore /= n
	meanLabel /= n

	var cov, varScore, varLabel float64
	for _, p := range pairs {
		ds := p.Score - meanScore
		dl := float64(p.Label) - meanLabel
		cov += ds * dl
		varScore += ds * ds
		varLabel += dl * dl
	}
	if varScore == 0 || varLabel == 0 {
		return model.UndefinedMeasure()
	}
	return model.DefinedMeasure(cov / math.Sqrt(varScore*varLabel))
}

// day truncates a timestamp to its UTC calendar date.
func day(ts time.Time) time.Time {
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
