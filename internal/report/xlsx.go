package report

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXWriter writes spreadsheet reports into Dir.
type XLSXWriter struct {
	Dir string
}

// Write implements Writer.
func (w XLSXWriter) Write(ctx context.Context, r Report) (string, error) {
	path := filepath.Join(w.Dir, r.FileStem()+".xlsx")
	return path, WriteWorkbook(ctx, path, r)
}

// WriteWorkbook writes one sheet per report to path.
func WriteWorkbook(ctx context.Context, path string, reports ...Report) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrap(err, "report: create dir")
		}
	}

	f := xlsx.NewFile()
	for _, r := range reports {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := r.CountryName
		if name == "" {
			name = r.Country
		}
		sheet, err := f.AddSheet(name)
		if err != nil {
			return eris.Wrapf(err, "report: add sheet %s", name)
		}
		header := sheet.AddRow()
		for _, col := range columns {
			header.AddCell().SetString(col)
		}
		for _, rec := range r.Records {
			xr := sheet.AddRow()
			for i, v := range row(rec) {
				cell := xr.AddCell()
				switch {
				case i == 1 && rec.Score != nil:
					cell.SetInt(*rec.Score)
				case i == 8 && rec.Employees != nil:
					cell.SetInt(*rec.Employees)
				case i == 9 && rec.NetSales != nil:
					cell.SetInt64(*rec.NetSales)
				case i == 10 && rec.TotalAssets != nil:
					cell.SetInt64(*rec.TotalAssets)
				default:
					cell.SetString(v)
				}
			}
		}
	}
	return eris.Wrapf(f.Save(path), "report: save %s", path)
}
