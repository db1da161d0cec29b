// Package report renders drift-check history to XLSX workbooks for the
// analysts who review retrain decisions outside the pipeline.
package report

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/driftwatch/internal/model"
)

const dateLayout = "2006-01-02"

// WriteCheckHistory writes one workbook with three sheets: a per-check
// summary, the per-signal evidence trail, and the per-feature stability
// indexes. Undecidable entries keep an empty value cell so they are never
// mistaken for zero drift.
func WriteCheckHistory(path string, checks []model.CheckRun) error {
	f := xlsx.NewFile()

	if err := writeSummarySheet(f, checks); err != nil {
		return err
	}
	if err := writeSignalSheet(f, checks); err != nil {
		return err
	}
	if err := writeScoreSheet(f, checks); err != nil {
		return err
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func writeSummarySheet(f *xlsx.File, checks []model.CheckRun) error {
	sheet, err := f.AddSheet("Checks")
	if err != nil {
		return eris.Wrap(err, "report: add checks sheet")
	}

	addHeader(sheet, "Check ID", "Anchor Date", "Status", "Severity", "Decision", "Insufficient Evidence", "Error")
	for _, c := range checks {
		row := sheet.AddRow()
		row.AddCell().Value = c.ID
		row.AddCell().Value = c.AnchorDate.Format(dateLayout)
		row.AddCell().Value = string(c.Status)
		if c.Verdict != nil {
			row.AddCell().Value = string(c.Verdict.Severity)
			row.AddCell().Value = string(c.Verdict.Decision)
			row.AddCell().Value = strconv.FormatBool(c.Verdict.InsufficientEvidence)
		} else {
			row.AddCell()
			row.AddCell()
			row.AddCell()
		}
		row.AddCell().Value = c.Error
	}
	return nil
}

func writeSignalSheet(f *xlsx.File, checks []model.CheckRun) error {
	sheet, err := f.AddSheet("Signals")
	if err != nil {
		return eris.Wrap(err, "report: add signals sheet")
	}

	addHeader(sheet, "Check ID", "Signal", "Value", "Threshold", "Crossed", "Undecidable")
	for _, c := range checks {
		if c.Verdict == nil {
			continue
		}
		for _, sig := range c.Verdict.Signals {
			row := sheet.AddRow()
			row.AddCell().Value = c.ID
			row.AddCell().Value = sig.Name
			if sig.Value.Defined {
				row.AddCell().SetFloat(sig.Value.Value)
			} else {
				row.AddCell()
			}
			if sig.Threshold != 0 {
				row.AddCell().SetFloat(sig.Threshold)
			} else {
				row.AddCell()
			}
			row.AddCell().Value = string(sig.Crossed)
			row.AddCell().Value = strconv.FormatBool(sig.Undecidable)
		}
	}
	return nil
}

func writeScoreSheet(f *xlsx.File, checks []model.CheckRun) error {
	sheet, err := f.AddSheet("Feature Scores")
	if err != nil {
		return eris.Wrap(err, "report: add scores sheet")
	}

	addHeader(sheet, "Check ID", "Feature", "Stability Index", "Buckets", "Undecidable")
	for _, c := range checks {
		for _, score := range c.Scores {
			row := sheet.AddRow()
			row.AddCell().Value = c.ID
			row.AddCell().Value = score.Feature
			if score.Undecidable {
				row.AddCell()
			} else {
				row.AddCell().SetFloat(score.StabilityIndex)
			}
			row.AddCell().Value = fmt.Sprintf("%d", score.Buckets)
			row.AddCell().Value = strconv.FormatBool(score.Undecidable)
		}
	}
	return nil
}

func addHeader(sheet *xlsx.Sheet, names ...string) {
	row := sheet.AddRow()
	for _, name := range names {
		row.AddCell().Value = name
	}
}
