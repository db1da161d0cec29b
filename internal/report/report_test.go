package report

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/driftwatch/internal/model"
)

func TestWriteCheckHistory(t *testing.T) {
	t.Parallel()

	anchor := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	checks := []model.CheckRun{
		{
			ID:         "check-1",
			AnchorDate: anchor,
			Status:     model.CheckStatusComplete,
			Scores: []model.DriftScore{
				{Feature: "purchase_count", StabilityIndex: 0.31, Buckets: 10},
				{Feature: "flat_feature", Undecidable: true},
			},
			Verdict: &model.DriftVerdict{
				Severity: model.SeverityStrong,
				Decision: model.DecisionRetrain,
				Signals: []model.SignalEvidence{
					{Name: "psi:purchase_count", Value: model.DefinedMeasure(0.31), Threshold: 0.2, Crossed: model.SeverityStrong},
					{Name: "score_label_correlation", Value: model.UndefinedMeasure(), Undecidable: true},
				},
			},
		},
		{
			ID:         "check-2",
			AnchorDate: anchor.AddDate(0, 0, 1),
			Status:     model.CheckStatusFailed,
			Error:      "window: event log is empty",
		},
	}

	path := filepath.Join(t.TempDir(), "history.xlsx")
	require.NoError(t, WriteCheckHistory(path, checks))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	summary, ok := f.Sheet["Checks"]
	require.True(t, ok)
	require.Len(t, summary.Rows, 3) // header + 2 checks
	assert.Equal(t, "Check ID", summary.Rows[0].Cells[0].String())
	assert.Equal(t, "check-1", summary.Rows[1].Cells[0].String())
	assert.Equal(t, "2026-08-29", summary.Rows[1].Cells[1].String())
	assert.Equal(t, "RETRAIN", summary.Rows[1].Cells[4].String())
	assert.Equal(t, "window: event log is empty", summary.Rows[2].Cells[6].String())

	signals, ok := f.Sheet["Signals"]
	require.True(t, ok)
	require.Len(t, signals.Rows, 3) // header + 2 signals; failed check has none
	assert.Equal(t, "psi:purchase_count", signals.Rows[1].Cells[1].String())
	// Undecidable signal keeps an empty value cell.
	assert.Equal(t, "", signals.Rows[2].Cells[2].String())
	assert.Equal(t, "true", signals.Rows[2].Cells[5].String())

	scores, ok := f.Sheet["Feature Scores"]
	require.True(t, ok)
	require.Len(t, scores.Rows, 3)
	v, err := scores.Rows[1].Cells[2].Float()
	require.NoError(t, err)
	assert.InDelta(t, 0.31, v, 1e-9)
	assert.Equal(t, "", scores.Rows[2].Cells[2].String())
}
