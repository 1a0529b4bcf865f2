// Package export renders attendance data as Excel workbooks.
package export

import (
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"classattend/internal/model"
)

const rosterSheet = "Roster"

var rosterHeader = []string{"Student ID", "Name", "Status", "Checked in", "Score", "Remark"}

// RosterWorkbook builds a one-sheet workbook listing every record of a
// session, followed by a totals row.
func RosterWorkbook(c model.Classroom, s model.CheckinSession, records []model.AttendanceRecord, loc *time.Location) (*excelize.File, error) {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", rosterSheet); err != nil {
		return nil, err
	}

	title := fmt.Sprintf("%s, session %s, %s", c.Label(), s.Code, s.ScheduledAt.In(loc).Format("2006-01-02 15:04"))
	if err := f.SetCellValue(rosterSheet, "A1", title); err != nil {
		return nil, err
	}
	if err := setRow(f, 3, toAny(rosterHeader)); err != nil {
		return nil, err
	}

	var total float64
	present := 0
	row := 4
	for _, r := range records {
		checked := ""
		if r.SubmittedAt != nil {
			checked = r.SubmittedAt.In(loc).Format("2006-01-02 15:04:05")
		}
		if r.State != model.Absent {
			present++
		}
		total += r.AwardedScore
		if err := setRow(f, row, []any{r.StudentDisplayID, r.Name, r.State.String(), checked, r.AwardedScore, r.Remark}); err != nil {
			return nil, err
		}
		row++
	}
	summary := []any{"Total", fmt.Sprintf("%d/%d attended", present, len(records)), "", "", total, ""}
	if err := setRow(f, row+1, summary); err != nil {
		return nil, err
	}
	if err := format(f, records); err != nil {
		return nil, err
	}
	return f, nil
}

// WriteRoster streams the roster workbook to w.
func WriteRoster(w io.Writer, c model.Classroom, s model.CheckinSession, records []model.AttendanceRecord, loc *time.Location) error {
	f, err := RosterWorkbook(c, s, records, loc)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.WriteTo(w)
	return err
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(rosterSheet, cell, &values)
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// format bolds the header, adds a filter and sizes columns to their content.
func format(f *excelize.File, records []model.AttendanceRecord) error {
	last, err := excelize.ColumnNumberToName(len(rosterHeader))
	if err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(rosterSheet, "A3", last+"3", style); err != nil {
		return err
	}
	if err := f.AutoFilter(rosterSheet, "A3:"+last+"3", nil); err != nil {
		return err
	}

	widths := make([]int, len(rosterHeader))
	for i, h := range rosterHeader {
		widths[i] = utf8.RuneCountInString(h) + 2
	}
	for _, r := range records {
		for i, v := range []string{r.StudentDisplayID, r.Name, r.State.String(), "2006-01-02 15:04:05", "", r.Remark} {
			if n := utf8.RuneCountInString(v) + 2; n > widths[i] {
				widths[i] = min(n, 60)
			}
		}
	}
	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(rosterSheet, col, col, float64(w)); err != nil {
			return err
		}
	}
	return nil
}
