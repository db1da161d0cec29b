// Package stability computes the Population Stability Index between two
// empirical feature distributions. A zero index means the distributions are
// identical; larger values mean more divergence, with no fixed upper bound.
package stability

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/driftwatch/internal/model"
)

// Strategy selects how bucket breakpoints are derived.
type Strategy string

const (
	// StrategyEqualFrequency derives breakpoints from baseline percentiles,
	// so baseline bucket populations are equal by construction. This is the
	// canonical strategy.
	StrategyEqualFrequency Strategy = "equal_frequency"

	// StrategyEqualWidth min-max scales each sample independently and bins
	// the unit interval into equal widths. Gives materially different values
	// on skewed data; kept because both variants are in production use.
	StrategyEqualWidth Strategy = "equal_width"
)

// minMaxGuard keeps the scale denominator nonzero for constant samples.
const minMaxGuard = 1e-5

// Config holds the comparator's tunables. Zero values are filled from
// DefaultConfig by Validate.
type Config struct {
	Buckets  int      `yaml:"buckets" mapstructure:"buckets"`
	Strategy Strategy `yaml:"strategy" mapstructure:"strategy"`
	Epsilon  float64  `yaml:"epsilon" mapstructure:"epsilon"`
}

// DefaultConfig returns the canonical equal-frequency configuration.
func DefaultConfig() Config {
	return Config{Buckets: 10, Strategy: StrategyEqualFrequency, Epsilon: 1e-6}
}

// EqualWidthConfig returns the legacy equal-width configuration, including
// its larger smoothing constant.
func EqualWidthConfig() Config {
	return Config{Buckets: 10, Strategy: StrategyEqualWidth, Epsilon: 1e-4}
}

// Validate fills defaults and rejects malformed configuration. Configuration
// errors are fatal: the caller must fix them, they are never degraded to an
// undefined signal.
func (c *Config) Validate() error {
	if c.Buckets == 0 {
		c.Buckets = 10
	}
	if c.Buckets < 0 {
		return eris.Errorf("stability: bucket count must be positive, got %d", c.Buckets)
	}
	if c.Strategy == "" {
		c.Strategy = StrategyEqualFrequency
	}
	if c.Strategy != StrategyEqualFrequency && c.Strategy != StrategyEqualWidth {
		return eris.Errorf("stability: unknown binning strategy %q", c.Strategy)
	}
	if c.Epsilon == 0 {
		c.Epsilon = 1e-6
	}
	if c.Epsilon < 0 {
		return eris.Errorf("stability: epsilon must be positive, got %g", c.Epsilon)
	}
	return nil
}

var (
	// ErrDegenerateDistribution means percentile binning cannot construct
	// distinct breakpoints from the baseline. Callers treat the feature as
	// "drift undecidable", never as zero drift.
	ErrDegenerateDistribution = eris.New("stability: baseline has too few distinct values for percentile binning")

	// ErrEmptySample means one of the samples has no observations.
	ErrEmptySample = eris.New("stability: empty sample")
)

// Index computes the stability index between the baseline and current
// samples. Neither input is mutated.
func Index(baseline, current []float64, cfg Config) (float64, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	if len(baseline) == 0 || len(current) == 0 {
		return 0, ErrEmptySample
	}

	switch cfg.Strategy {
	case StrategyEqualWidth:
		return equalWidthIndex(baseline, current, cfg), nil
	default:
		return equalFrequencyIndex(baseline, current, cfg)
	}
}

// Compare computes the DriftScore for one feature, degrading statistical
// failures (degenerate baseline, empty sample) to an undecidable score.
// Only configuration errors are returned.
func Compare(baseline, current model.FeatureDistribution, cfg Config) (model.DriftScore, error) {
	if err := cfg.Validate(); err != nil {
		return model.DriftScore{}, err
	}

	score := model.DriftScore{Feature: baseline.Feature, Buckets: cfg.Buckets}

	idx, err := Index(baseline.Sample, current.Sample, cfg)
	switch {
	case err == nil:
		score.StabilityIndex = idx
	case eris.Is(err, ErrDegenerateDistribution) || eris.Is(err, ErrEmptySample):
		zap.L().Warn("stability: feature undecidable",
			zap.String("feature", baseline.Feature),
			zap.Error(err),
		)
		score.Undecidable = true
	default:
		return model.DriftScore{}, err
	}

	return score, nil
}

// equalFrequencyIndex reproduces the percentile-binning PSI: k+1 breakpoints
// from baseline percentiles, both samples histogrammed into the same edges,
// epsilon added to every raw count before normalizing.
func equalFrequencyIndex(baseline, current []float64, cfg Config) (float64, error) {
	edges, err := percentileEdges(baseline, cfg.Buckets)
	if err != nil {
		return 0, err
	}

	base := histogram(baseline, edges)
	curr := histogram(current, edges)

	var baseTotal, currTotal float64
	for i := range base {
		base[i] += cfg.Epsilon
		curr[i] += cfg.Epsilon
		baseTotal += base[i]
		currTotal += curr[i]
	}

	var psi float64
	for i := range base {
		pb := base[i] / baseTotal
		pc := curr[i] / currTotal
		psi += (pb - pc) * math.Log(pb/pc)
	}
	return psi, nil
}

// equalWidthIndex reproduces the min-max-scaling PSI: each sample is scaled
// to [0,1) independently, binned into k equal widths, and epsilon is added
// to the proportions inside the log ratio.
func equalWidthIndex(baseline, current []float64, cfg Config) float64 {
	k := cfg.Buckets
	edges := make([]float64, k+1)
	for i := range edges {
		edges[i] = float64(i) / float64(k)
	}

	base := histogram(scaleUnit(baseline), edges)
	curr := histogram(scaleUnit(current), edges)

	var psi float64
	for i := 0; i < k; i++ {
		pb := base[i] / float64(len(baseline))
		pc := curr[i] / float64(len(current))
		psi += (pb - pc) * math.Log((pb+cfg.Epsilon)/(pc+cfg.Epsilon))
	}
	return psi
}

// percentileEdges computes k+1 linearly interpolated percentile breakpoints
// over [0,100] from the sample.
func percentileEdges(sample []float64, k int) ([]float64, error) {
	if distinctCount(sample) < k+1 {
		return nil, ErrDegenerateDistribution
	}

	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)

	edges := make([]float64, k+1)
	for i := range edges {
		edges[i] = percentile(sorted, float64(i)*100/float64(k))
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return nil, ErrDegenerateDistribution
		}
	}
	return edges, nil
}

// percentile returns the p-th percentile of a sorted sample using linear
// interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// histogram counts sample values per bucket with open-ended outer bins:
// values below the first edge land in the first bucket, values at or above
// the last edge land in the last one.
func histogram(sample, edges []float64) []float64 {
	counts := make([]float64, len(edges)-1)
	for _, v := range sample {
		counts[bucketIndex(v, edges)]++
	}
	return counts
}

func bucketIndex(v float64, edges []float64) int {
	k := len(edges) - 1
	if v < edges[0] {
		return 0
	}
	if v >= edges[k] {
		return k - 1
	}
	// First edge strictly greater than v; the bucket is the one before it.
	j := sort.Search(len(edges), func(i int) bool { return edges[i] > v })
	return j - 1
}

func scaleUnit(sample []float64) []float64 {
	lo, hi := sample[0], sample[0]
	for _, v := range sample {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo + minMaxGuard

	scaled := make([]float64, len(sample))
	for i, v := range sample {
		scaled[i] = (v - lo) / span
	}
	return scaled
}

func distinctCount(sample []float64) int {
	seen := make(map[float64]struct{}, len(sample))
	for _, v := range sample {
		seen[v] = struct{}{}
	}
	return len(seen)
}
