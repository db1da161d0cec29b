package model

import "time"

// Severity is the categorical drift level derived from numeric signals.
type Severity string

const (
	SeverityNone   Severity = "NONE"
	SeverityWeak   Severity = "WEAK"
	SeverityStrong Severity = "STRONG"
)

// Rank orders severities for max-aggregation.
func (s Severity) Rank() int {
	switch s {
	case SeverityWeak:
		return 1
	case SeverityStrong:
		return 2
	default:
		return 0
	}
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Decision is the retrain verdict consumed by the orchestration layer.
type Decision string

const (
	DecisionRetrain Decision = "RETRAIN"
	DecisionSkip    Decision = "SKIP"
)

// FeatureDistribution is an immutable numeric sample for one feature,
// captured from either the baseline or the current period.
type FeatureDistribution struct {
	Feature string    `json:"feature"`
	Sample  []float64 `json:"sample"`
}

// DriftScore is the stability index computed for one feature during one
// drift check. Undecidable marks features whose baseline sample was too
// degenerate to bin; the index is meaningless in that case and the decision
// engine treats the feature as "could not check", never as "no drift".
type DriftScore struct {
	Feature        string  `json:"feature"`
	StabilityIndex float64 `json:"stability_index"`
	Buckets        int     `json:"buckets"`
	Undecidable    bool    `json:"undecidable,omitempty"`
}

// FeatureImportance is one row of the externally supplied importance table.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// ConceptDriftRecord holds the prediction-quality signals for one scheduled
// check. Baseline values are computed strictly before the anchor date.
// Immutable once computed; persisted for trend analysis.
type ConceptDriftRecord struct {
	AnchorDate        time.Time `json:"anchor_date"`
	BaselineRecall    Measure   `json:"baseline_recall"`
	CurrentRecall     Measure   `json:"current_recall"`
	RecallDegradation Measure   `json:"recall_degradation"`
	ScoreLabelCorr    Measure   `json:"score_label_correlation"`
	LabelRateShift    Measure   `json:"label_rate_shift"`
}

// SignalEvidence records how one signal contributed to a verdict: its value,
// the threshold it crossed (if any), and the severity it contributed.
type SignalEvidence struct {
	Name        string   `json:"name"`
	Value       Measure  `json:"value"`
	Threshold   float64  `json:"threshold,omitempty"`
	Crossed     Severity `json:"crossed"`
	Undecidable bool     `json:"undecidable,omitempty"`
}

// DriftVerdict is the decision engine's output: overall severity, the
// retrain decision, and the per-signal evidence trail that justifies it.
// InsufficientEvidence distinguishes "checked and found no drift" from
// "could not check anything"; both SKIP, but audited differently.
type DriftVerdict struct {
	Severity             Severity         `json:"severity"`
	Decision             Decision         `json:"decision"`
	Signals              []SignalEvidence `json:"signals"`
	InsufficientEvidence bool             `json:"insufficient_evidence,omitempty"`
}
