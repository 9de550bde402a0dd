package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"servicehours/internal/ledger"
	"servicehours/internal/students"
)

func TestWorkbook(t *testing.T) {
	rows := []Row{
		{
			Student: students.Record{Class: "AS", Location: "godavari", RollNumber: "021bim01", Name: "Asha",
				Email: "021bim01@sxc.edu.np", TotalHours: 20, RequiredHours: 50},
			Summary: ledger.Summary{Approved: 20, Pending: 4.5},
		},
		{
			Student: students.Record{Class: "A2", Location: "pulchowk", RollNumber: "021bim02", Name: "Bikash",
				Email: "021bim02@sxc.edu.np", TotalHours: 55, RequiredHours: 50},
		},
	}

	raw, err := Workbook(rows, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Workbook: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	if sheets := f.GetSheetList(); len(sheets) != 1 || sheets[0] != sheetName {
		t.Fatalf("sheets = %v", sheets)
	}
	cases := map[string]string{
		"A2": "Class",
		"C3": "021bim01",
		"H3": "30",
		"I3": "4.5",
		"D4": "Bikash",
		"H4": "0",
	}
	for cell, want := range cases {
		got, err := f.GetCellValue(sheetName, cell, excelize.Options{RawCellValue: true})
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("%s = %q, want %q", cell, got, want)
		}
	}
}

func TestWorkbookEmpty(t *testing.T) {
	raw, err := Workbook(nil, time.Now())
	if err != nil || len(raw) == 0 {
		t.Fatalf("empty workbook: %d bytes, %v", len(raw), err)
	}
}
