package extract

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSX extracts spreadsheet exports of the reservation system. Every sheet is
// read in workbook order; non-empty cells of a row are joined by single
// spaces so the same rules match spreadsheet and PDF invoices.
type XLSX struct{}

func (x XLSX) Extract(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open xlsx %s: %w", path, err)
	}
	defer f.Close()
	return sheetText(ctx, f)
}

func (x XLSX) ExtractReader(ctx context.Context, ra io.ReaderAt, size int64) (string, error) {
	f, err := excelize.OpenReader(io.NewSectionReader(ra, 0, size))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()
	return sheetText(ctx, f)
}

func sheetText(ctx context.Context, f *excelize.File) (string, error) {
	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, c := range row {
				if s := strings.TrimSpace(c); s != "" {
					cells = append(cells, s)
				}
			}
			if len(cells) == 0 {
				continue
			}
			b.WriteString(strings.Join(cells, " "))
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
