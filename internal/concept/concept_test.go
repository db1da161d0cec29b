package concept

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/driftwatch/internal/model"
)

var anchor = time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

func point(daysBefore int, v float64) model.MetricPoint {
	return model.MetricPoint{
		Date:  anchor.AddDate(0, 0, -daysBefore),
		Value: &v,
	}
}

func nullPoint(daysBefore int) model.MetricPoint {
	return model.MetricPoint{Date: anchor.AddDate(0, 0, -daysBefore)}
}

func TestEstimator_BaselineStrictlyBeforeAnchor(t *testing.T) {
	t.Parallel()

	// Values at D-3..D-1 = [0.5, 0.6, 0.7] and D = 0.2: the baseline must
	// ignore the anchor-day value entirely.
	series := []model.MetricPoint{
		point(3, 0.5),
		point(2, 0.6),
		point(1, 0.7),
		point(0, 0.2),
	}

	e := New(DefaultConfig())
	baseline := e.Baseline(series, anchor)
	require.True(t, baseline.Defined)
	assert.InDelta(t, 0.6, baseline.Value, 1e-12)

	rec := e.Check(anchor, series, nil, nil)
	require.True(t, rec.RecallDegradation.Defined)
	assert.InDelta(t, 0.4, rec.RecallDegradation.Value, 1e-12)
	assert.InDelta(t, 0.2, rec.CurrentRecall.Value, 1e-12)
}

func TestEstimator_BaselineLookbackCap(t *testing.T) {
	t.Parallel()

	// 40 prior days: the first 5 at 0.9, the most recent 35 at 0.5. With a
	// lookback of 30, only recent 0.5s contribute.
	var series []model.MetricPoint
	for d := 1; d <= 35; d++ {
		series = append(series, point(d, 0.5))
	}
	for d := 36; d <= 40; d++ {
		series = append(series, point(d, 0.9))
	}

	e := New(DefaultConfig())
	baseline := e.Baseline(series, anchor)
	require.True(t, baseline.Defined)
	assert.InDelta(t, 0.5, baseline.Value, 1e-12)
}

func TestEstimator_BaselineSkipsNulls(t *testing.T) {
	t.Parallel()

	series := []model.MetricPoint{
		point(3, 0.4),
		nullPoint(2),
		point(1, 0.6),
	}

	e := New(DefaultConfig())
	baseline := e.Baseline(series, anchor)
	require.True(t, baseline.Defined)
	assert.InDelta(t, 0.5, baseline.Value, 1e-12)
}

func TestEstimator_UndefinedNotZero(t *testing.T) {
	t.Parallel()

	e := New(DefaultConfig())

	t.Run("no anchor-day record", func(t *testing.T) {
		t.Parallel()
		series := []model.MetricPoint{point(2, 0.5), point(1, 0.6)}
		rec := e.Check(anchor, series, nil, nil)
		assert.True(t, rec.BaselineRecall.Defined)
		assert.False(t, rec.CurrentRecall.Defined)
		assert.False(t, rec.RecallDegradation.Defined, "degradation must be undefined, not zero")
	})

	t.Run("no history at all", func(t *testing.T) {
		t.Parallel()
		rec := e.Check(anchor, nil, nil, nil)
		assert.False(t, rec.BaselineRecall.Defined)
		assert.False(t, rec.CurrentRecall.Defined)
		assert.False(t, rec.RecallDegradation.Defined)
		assert.False(t, rec.ScoreLabelCorr.Defined)
		assert.False(t, rec.LabelRateShift.Defined)
	})

	t.Run("null record on the anchor day", func(t *testing.T) {
		t.Parallel()
		series := []model.MetricPoint{point(1, 0.6), nullPoint(0)}
		assert.False(t, Current(series, anchor).Defined)
	})
}

func TestCorrelation(t *testing.T) {
	t.Parallel()

	t.Run("perfect separation", func(t *testing.T) {
		t.Parallel()
		pairs := []Pair{
			{Score: 0.9, Label: 1},
			{Score: 0.8, Label: 1},
			{Score: 0.2, Label: 0},
			{Score: 0.1, Label: 0},
		}
		c := Correlation(pairs)
		require.True(t, c.Defined)
		assert.Greater(t, c.Value, 0.9)
	})

	t.Run("anti-correlated", func(t *testing.T) {
		t.Parallel()
		pairs := []Pair{
			{Score: 0.9, Label: 0},
			{Score: 0.1, Label: 1},
		}
		c := Correlation(pairs)
		require.True(t, c.Defined)
		assert.Less(t, c.Value, 0.0)
	})

	t.Run("fewer than two pairs", func(t *testing.T) {
		t.Parallel()
		assert.False(t, Correlation(nil).Defined)
		assert.False(t, Correlation([]Pair{{Score: 0.5, Label: 1}}).Defined)
	})

	t.Run("zero variance", func(t *testing.T) {
		t.Parallel()
		allSameLabel := []Pair{{Score: 0.2, Label: 1}, {Score: 0.8, Label: 1}}
		assert.False(t, Correlation(allSameLabel).Defined)

		allSameScore := []Pair{{Score: 0.5, Label: 0}, {Score: 0.5, Label: 1}}
		assert.False(t, Correlation(allSameScore).Defined)
	})
}

func TestEstimator_LabelRateShift(t *testing.T) {
	t.Parallel()

	rates := []model.MetricPoint{
		point(3, 0.10),
		point(2, 0.10),
		point(1, 0.10),
		point(0, 0.25),
	}

	e := New(DefaultConfig())
	rec := e.Check(anchor, nil, nil, rates)
	require.True(t, rec.LabelRateShift.Defined)
	assert.InDelta(t, 0.15, rec.LabelRateShift.Value, 1e-12)
}

func TestEstimator_TimezoneNormalization(t *testing.T) {
	t.Parallel()

	// A record stamped late in the anchor day in another zone still counts
	// as the anchor-day observation once normalized to UTC dates.
	loc := time.FixedZone("UTC+2", 2*3600)
	v := 0.3
	series := []model.MetricPoint{
		{Date: time.Date(2026, 8, 29, 23, 30, 0, 0, loc).Add(-2 * time.Hour), Value: &v},
		point(1, 0.6),
	}

	cur := Current(series, anchor)
	require.True(t, cur.Defined)
	assert.InDelta(t, 0.3, cur.Value, 1e-12)
}
