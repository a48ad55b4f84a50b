package targets

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Row is one importable target.
type Row struct {
	URL   string
	Label string
}

// ImportReport summarizes an import run.
type ImportReport struct {
	Added   int
	Skipped int
	Errors  []string
}

// ReadRows reads url,label rows from a .csv or .xlsx file. A header row is
// detected by a first cell without a URL scheme and skipped. For workbooks the
// active sheet is used.
func ReadRows(path string) ([]Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return readCSV(f)
	case ".xlsx", ".xlsm":
		return readXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported import format %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

func readCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	var records [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		records = append(records, rec)
	}
	return toRows(records), nil
}

func readXLSX(path string) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		list := f.GetSheetList()
		if len(list) == 0 {
			return nil, errors.New("no sheets found in workbook")
		}
		sheet = list[0]
	}
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return toRows(records), nil
}

func toRows(records [][]string) []Row {
	out := make([]Row, 0, len(records))
	for i, rec := range records {
		if len(rec) == 0 {
			continue
		}
		u := strings.TrimSpace(rec[0])
		if u == "" {
			continue
		}
		if i == 0 && !strings.Contains(u, "://") {
			continue
		}
		row := Row{URL: u}
		if len(rec) > 1 {
			row.Label = strings.TrimSpace(rec[1])
		}
		out = append(out, row)
	}
	return out
}

// Import adds every row not yet registered.
func (r *Registry) Import(ctx context.Context, rows []Row, actor string) ImportReport {
	var rep ImportReport
	for _, row := range rows {
		if ctx.Err() != nil {
			rep.Errors = append(rep.Errors, ctx.Err().Error())
			break
		}
		_, err := r.Add(ctx, row.URL, row.Label, actor)
		switch {
		case err == nil:
			rep.Added++
		case errors.Is(err, ErrExists):
			rep.Skipped++
		default:
			rep.Errors = append(rep.Errors, err.Error())
		}
	}
	return rep
}
