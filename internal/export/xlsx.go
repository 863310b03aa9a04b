// Package export renders price listings as XLSX workbooks.
package export

import (
	"fmt"
	"io"

	"mandi-prices/internal/models"

	"github.com/xuri/excelize/v2"
)

const SheetName = "Prices"

var header = []string{
	"Date", "State", "District", "Market", "Commodity", "Variety", "Grade",
	"Unit", "Min Price", "Max Price", "Modal Price", "Source",
}

// WritePrices writes records as a single-sheet workbook to w. Absent prices
// are left as empty cells.
func WritePrices(w io.Writer, records []models.PriceRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetRowStyle(SheetName, 1, 1, bold)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			r.Date, r.State, r.District, r.Market, r.Commodity, r.Variety, r.Grade,
			r.Unit, priceCell(r.MinPrice), priceCell(r.MaxPrice), priceCell(r.ModalPrice), string(r.Source),
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func priceCell(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
