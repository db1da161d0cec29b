// Package decision converts per-feature drift scores and concept-drift
// signals into a single categorical severity and a retrain/skip verdict.
// The engine is pure: one call, one verdict, full evidence trail.
package decision

import (
	"fmt"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/driftwatch/internal/model"
)

// Config holds every threshold the engine applies. All values are explicit
// and documented here; call sites never carry their own constants.
type Config struct {
	// PSIStrong and PSIWeak bound the stability-index severity bands:
	// s > PSIStrong is strong drift, PSIWeak < s <= PSIStrong is weak.
	PSIStrong float64 `yaml:"psi_strong" mapstructure:"psi_strong"`
	PSIWeak   float64 `yaml:"psi_weak" mapstructure:"psi_weak"`

	// Correlation floors: a score/label correlation below the strong floor
	// is strong drift, below the weak floor weak drift.
	CorrelationStrongFloor float64 `yaml:"correlation_strong_floor" mapstructure:"correlation_strong_floor"`
	CorrelationWeakFloor   float64 `yaml:"correlation_weak_floor" mapstructure:"correlation_weak_floor"`

	// Recall-degradation bands, in absolute recall points.
	RecallDropStrong float64 `yaml:"recall_drop_strong" mapstructure:"recall_drop_strong"`
	RecallDropWeak   float64 `yaml:"recall_drop_weak" mapstructure:"recall_drop_weak"`

	// Label-rate-shift bands, applied to the absolute shift.
	LabelShiftStrong float64 `yaml:"label_shift_strong" mapstructure:"label_shift_strong"`
	LabelShiftWeak   float64 `yaml:"label_shift_weak" mapstructure:"label_shift_weak"`

	// WeightByImportance scales each feature's index by its normalized
	// importance before thresholding, restricted to the TopN most important
	// features. Features outside the top N do not contribute.
	WeightByImportance bool `yaml:"weight_by_importance" mapstructure:"weight_by_importance"`
	TopN               int  `yaml:"top_n" mapstructure:"top_n"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		PSIStrong:              0.2,
		PSIWeak:                0.1,
		CorrelationStrongFloor: 0.1,
		CorrelationWeakFloor:   0.3,
		RecallDropStrong:       0.2,
		RecallDropWeak:         0.1,
		LabelShiftStrong:       0.2,
		LabelShiftWeak:         0.1,
		TopN:                   40,
	}
}

// Validate fills zero fields from the defaults and rejects inconsistent
// bands. Configuration errors are fatal.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.PSIStrong == 0 {
		c.PSIStrong = def.PSIStrong
	}
	if c.PSIWeak == 0 {
		c.PSIWeak = def.PSIWeak
	}
	if c.CorrelationStrongFloor == 0 {
		c.CorrelationStrongFloor = def.CorrelationStrongFloor
	}
	if c.CorrelationWeakFloor == 0 {
		c.CorrelationWeakFloor = def.CorrelationWeakFloor
	}
	if c.RecallDropStrong == 0 {
		c.RecallDropStrong = def.RecallDropStrong
	}
	if c.RecallDropWeak == 0 {
		c.RecallDropWeak = def.RecallDropWeak
	}
	if c.LabelShiftStrong == 0 {
		c.LabelShiftStrong = def.LabelShiftStrong
	}
	if c.LabelShiftWeak == 0 {
		c.LabelShiftWeak = def.LabelShiftWeak
	}
	if c.TopN == 0 {
		c.TopN = def.TopN
	}

	if c.PSIWeak >= c.PSIStrong {
		return eris.Errorf("decision: psi weak threshold %g must be below strong %g", c.PSIWeak, c.PSIStrong)
	}
	if c.CorrelationStrongFloor >= c.CorrelationWeakFloor {
		return eris.Errorf("decision: correlation strong floor %g must be below weak floor %g", c.CorrelationStrongFloor, c.CorrelationWeakFloor)
	}
	if c.RecallDropWeak >= c.RecallDropStrong {
		return eris.Errorf("decision: recall drop weak threshold %g must be below strong %g", c.RecallDropWeak, c.RecallDropStrong)
	}
	if c.LabelShiftWeak >= c.LabelShiftStrong {
		return eris.Errorf("decision: label shift weak threshold %g must be below strong %g", c.LabelShiftWeak, c.LabelShiftStrong)
	}
	if c.TopN < 0 {
		return eris.Errorf("decision: top_n must be positive, got %d", c.TopN)
	}
	return nil
}

// Engine applies the threshold policy. Stateless and safe for concurrent use.
type Engine struct {
	cfg Config
}

// New validates the config and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Decide aggregates data-drift scores and an optional concept record into a
// verdict. Overall severity is the maximum across contributing signals; a
// single strong signal is sufficient for RETRAIN. Undefined or undecidable
// signals are listed in the evidence but never counted as "no drift". When
// nothing at all could be measured the verdict is SKIP with an explicit
// insufficient-evidence marker.
func (e *Engine) Decide(scores []model.DriftScore, importance []model.FeatureImportance, concept *model.ConceptDriftRecord) model.DriftVerdict {
	verdict := model.DriftVerdict{Severity: model.SeverityNone, Decision: model.DecisionSkip}
	measured := 0

	weights := e.importanceWeights(importance)

	for _, s := range scores {
		ev := model.SignalEvidence{Name: fmt.Sprintf("psi:%s", s.Feature), Crossed: model.SeverityNone}

		if s.Undecidable {
			ev.Undecidable = true
			verdict.Signals = append(verdict.Signals, ev)
			continue
		}

		contribution := s.StabilityIndex
		if weights != nil {
			w, tracked := weights[s.Feature]
			if !tracked {
				// Outside the monitored top-N: kept in the audit trail but
				// never drives the verdict.
				ev.Value = model.DefinedMeasure(s.StabilityIndex)
				verdict.Signals = append(verdict.Signals, ev)
				continue
			}
			contribution *= w
		}

		ev.Value = model.DefinedMeasure(contribution)
		ev.Crossed, ev.Threshold = bandAbove(contribution, e.cfg.PSIStrong, e.cfg.PSIWeak)
		measured++
		verdict.Severity = model.MaxSeverity(verdict.Severity, ev.Crossed)
		verdict.Signals = append(verdict.Signals, ev)
	}

	if concept != nil {
		conceptSignals := []model.SignalEvidence{
			e.recallEvidence(concept.RecallDegradation),
			e.correlationEvidence(concept.ScoreLabelCorr),
			e.labelShiftEvidence(concept.LabelRateShift),
		}
		for _, ev := range conceptSignals {
			if !ev.Undecidable {
				measured++
				verdict.Severity = model.MaxSeverity(verdict.Severity, ev.Crossed)
			}
			verdict.Signals = append(verdict.Signals, ev)
		}
	}

	if measured == 0 {
		verdict.Severity = model.SeverityNone
		verdict.InsufficientEvidence = true
		zap.L().Warn("decision: no usable signals, skipping with insufficient evidence",
			zap.Int("signals_seen", len(verdict.Signals)),
		)
		return verdict
	}

	if verdict.Severity == model.SeverityStrong {
		verdict.Decision = model.DecisionRetrain
	}
	return verdict
}

// importanceWeights returns normalized weights for the top-N features, or
// nil when importance weighting is disabled or no importances are supplied.
func (e *Engine) importanceWeights(importance []model.FeatureImportance) map[string]float64 {
	if !e.cfg.WeightByImportance || len(importance) == 0 {
		return nil
	}

	ranked := append([]model.FeatureImportance(nil), importance...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Importance > ranked[j].Importance })
	if len(ranked) > e.cfg.TopN {
		ranked = ranked[:e.cfg.TopN]
	}

	max := ranked[0].Importance
	if max <= 0 {
		return nil
	}

	weights := make(map[string]float64, len(ranked))
	for _, fi := range ranked {
		weights[fi.Feature] = fi.Importance / max
	}
	return weights
}

func (e *Engine) recallEvidence(degradation model.Measure) model.SignalEvidence {
	ev := model.SignalEvidence{Name: "recall_degradation", Value: degradation, Crossed: model.SeverityNone}
	if !degradation.Defined {
		ev.Undecidable = true
		return ev
	}
	ev.Crossed, ev.Threshold = bandAbove(degradation.Value, e.cfg.RecallDropStrong, e.cfg.RecallDropWeak)
	return ev
}

func (e *Engine) correlationEvidence(corr model.Measure) model.SignalEvidence {
	ev := model.SignalEvidence{Name: "score_label_correlation", Value: corr, Crossed: model.SeverityNone}
	if !corr.Defined {
		ev.Undecidable = true
		return ev
	}
	switch {
	case corr.Value < e.cfg.CorrelationStrongFloor:
		ev.Crossed, ev.Threshold = model.SeverityStrong, e.cfg.CorrelationStrongFloor
	case corr.Value < e.cfg.CorrelationWeakFloor:
		ev.Crossed, ev.Threshold = model.SeverityWeak, e.cfg.CorrelationWeakFloor
	}
	return ev
}

func (e *Engine) labelShiftEvidence(shift model.Measure) model.SignalEvidence {
	ev := model.SignalEvidence{Name: "label_rate_shift", Value: shift, Crossed: model.SeverityNone}
	if !shift.Defined {
		ev.Undecidable = true
		return ev
	}
	ev.Crossed, ev.Threshold = bandAbove(math.Abs(shift.Value), e.cfg.LabelShiftStrong, e.cfg.LabelShiftWeak)
	return ev
}

// bandAbove maps a value into {STRONG, WEAK, NONE} for thresholds where
// larger means worse, returning the threshold that was crossed.
func bandAbove(v, strong, weak float64) (model.Severity, float64) {
	switch {
	case v > strong:
		return model.SeverityStrong, strong
	case v > weak:
		return model.SeverityWeak, weak
	default:
		return model.SeverityNone, 0
	}
}
