// Package report renders persisted scan runs into XLSX workbooks and
// publishes them to a Notion results database.
package report

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/shelfmetrics/rank-cli/internal/model"
)

// Options configures workbook generation.
type Options struct {
	SheetName string // rank rows sheet name; empty means "Ranks"
}

var runHeader = []string{
	"Run ID", "Identifier", "Keyword", "Status",
	"Organic Rank", "Promoted Rank", "Page", "Position",
	"Pages Scanned", "Results Scanned", "Boundary Validated",
	"Attempts", "Error", "Created (UTC)", "Duration",
}

// WriteRuns writes the given runs to an XLSX workbook at path: a summary
// sheet with aggregate counts, then one row per run.
func WriteRuns(path string, runs []model.Run, opts Options) error {
	sheetName := opts.SheetName
	if sheetName == "" {
		sheetName = "Ranks"
	}

	f := xlsx.NewFile()

	if err := addSummarySheet(f, runs); err != nil {
		return err
	}

	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrapf(err, "report: add sheet %q", sheetName)
	}

	header := sheet.AddRow()
	for _, h := range runHeader {
		header.AddCell().SetString(h)
	}

	for i := range runs {
		addRunRow(sheet, &runs[i])
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save workbook %s", path)
	}
	return nil
}

func addRunRow(sheet *xlsx.Sheet, run *model.Run) {
	row := sheet.AddRow()
	row.AddCell().SetString(run.ID)
	row.AddCell().SetString(run.Request.Identifier)
	row.AddCell().SetString(run.Request.Keyword)
	row.AddCell().SetString(string(run.Status))

	if run.Result != nil {
		row.AddCell().SetString(rankCell(run.Result.OrganicRank))
		row.AddCell().SetString(rankCell(run.Result.PromotedRank))
		row.AddCell().SetString(rankCell(run.Result.PageFound))
		row.AddCell().SetString(rankCell(run.Result.PositionOnPage))
		row.AddCell().SetInt(run.Result.ScannedPages)
		row.AddCell().SetInt(run.Result.TotalResultsScanned)
		row.AddCell().SetBool(run.Result.BoundaryValidated)
	} else {
		for range 4 {
			row.AddCell().SetString("-")
		}
		row.AddCell().SetInt(0)
		row.AddCell().SetInt(0)
		row.AddCell().SetBool(false)
	}

	row.AddCell().SetInt(run.Attempts)
	if run.Error != nil {
		row.AddCell().SetString(string(run.Error.Code))
	} else {
		row.AddCell().SetString("")
	}
	row.AddCell().SetString(run.CreatedAt.UTC().Format(time.RFC3339))
	row.AddCell().SetString(run.Duration().Round(time.Millisecond).String())
}

func addSummarySheet(f *xlsx.File, runs []model.Run) error {
	sheet, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}

	var (
		byStatus  = map[model.RunStatus]int{}
		found     int
		validated int
		totalDur  time.Duration
		oldest    time.Time
		newest    time.Time
	)
	for i := range runs {
		run := &runs[i]
		byStatus[run.Status]++
		if run.Result != nil && run.Result.Found() {
			found++
		}
		if run.Result != nil && run.Result.BoundaryValidated {
			validated++
		}
		totalDur += run.Duration()
		created := run.CreatedAt.UTC()
		if oldest.IsZero() || created.Before(oldest) {
			oldest = created
		}
		if created.After(newest) {
			newest = created
		}
	}

	addKV := func(key, value string) {
		row := sheet.AddRow()
		row.AddCell().SetString(key)
		row.AddCell().SetString(value)
	}

	addKV("Total runs", fmt.Sprintf("%d", len(runs)))
	for _, status := range []model.RunStatus{
		model.RunStatusQueued, model.RunStatusRunning,
		model.RunStatusComplete, model.RunStatusFailed,
	} {
		addKV(fmt.Sprintf("Runs %s", status), fmt.Sprintf("%d", byStatus[status]))
	}

	complete := byStatus[model.RunStatusComplete]
	if complete > 0 {
		addKV("Found rate", fmt.Sprintf("%.1f%%", 100*float64(found)/float64(complete)))
	} else {
		addKV("Found rate", "-")
	}
	addKV("Boundary validated", fmt.Sprintf("%d", validated))

	if len(runs) > 0 {
		addKV("Avg duration", (totalDur / time.Duration(len(runs))).Round(time.Millisecond).String())
		addKV("Oldest run", oldest.Format(time.RFC3339))
		addKV("Newest run", newest.Format(time.RFC3339))
	}
	addKV("Generated", time.Now().UTC().Format(time.RFC3339))

	return nil
}

// rankCell renders a nullable rank for a spreadsheet cell. Absent ranks
// render as "-" so they cannot be confused with rank values.
func rankCell(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
