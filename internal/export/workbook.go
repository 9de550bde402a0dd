package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"servicehours/internal/ledger"
	"servicehours/internal/students"
)

const sheetName = "Service Hours"

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var headers = []string{"Class", "Location", "Roll Number", "Name", "Email", "Approved Hours", "Required Hours", "Remaining Hours", "Pending Hours"}

// Row is one student and their per-status totals.
type Row struct {
	Student students.Record
	Summary ledger.Summary
}

// Filename returns the download name for a workbook generated at t.
func Filename(t time.Time) string {
	return fmt.Sprintf("service-hours-%s.xlsx", t.Format("20060102"))
}

// Workbook renders rows as an .xlsx file, one student per row in the given order.
func Workbook(rows []Row, generated time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	widths := []float64{8, 14, 14, 26, 30, 15, 15, 16, 14}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheetName, col, col, w); err != nil {
			return nil, err
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#1F4E79"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, err
	}
	hoursStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return nil, err
	}

	if err := f.SetCellValue(sheetName, "A1", fmt.Sprintf("Community service hours, generated %s", generated.Format("2006-01-02 15:04 MST"))); err != nil {
		return nil, err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	if err := f.MergeCell(sheetName, "A1", lastCol+"1"); err != nil {
		return nil, err
	}

	if err := f.SetSheetRow(sheetName, "A2", &headers); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheetName, "A2", lastCol+"2", headerStyle); err != nil {
		return nil, err
	}

	for i, r := range rows {
		s := r.Student
		values := []any{
			s.Class, s.Location, s.RollNumber, s.Name, s.Email,
			s.TotalHours, s.RequiredHours, s.RemainingHours(), r.Summary.Pending,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return nil, err
		}
	}
	if len(rows) > 0 {
		first, _ := excelize.CoordinatesToCellName(6, 3)
		last, _ := excelize.CoordinatesToCellName(len(headers), len(rows)+2)
		if err := f.SetCellStyle(sheetName, first, last, hoursStyle); err != nil {
			return nil, err
		}
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 2, TopLeftCell: "A3", ActivePane: "bottomLeft"}); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
