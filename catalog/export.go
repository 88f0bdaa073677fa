package catalog

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

var unverifiedHeader = []string{
	"ItemId", "Name", "Category", "SourceRawName", "TotalSold", "SoldStandalone",
	"SoldAsAddon", "TotalRevenue", "SuggestedTargetId", "SuggestedTargetName",
}

// ExportUnverifiedXLSX writes the review queue of unverified items as a workbook.
func (s *Store) ExportUnverifiedXLSX(ctx context.Context, w io.Writer) (int, error) {
	items, err := s.ListUnverifiedItems(ctx)
	if err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := "Unverified"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return 0, err
	}
	if err := f.SetSheetRow(sheet, "A1", &unverifiedHeader); err != nil {
		return 0, err
	}

	for i, it := range items {
		suggestedId, suggestedName := "", ""
		if it.SuggestedTargetId != nil {
			suggestedId = strconv.Itoa(*it.SuggestedTargetId)
			if target, err := s.GetItem(ctx, *it.SuggestedTargetId); err == nil {
				suggestedName = target.Name
			}
		}
		row := []interface{}{
			it.ID, it.Name, string(it.Category), it.SourceRawName, it.TotalSold,
			it.SoldStandalone, it.SoldAsAddon, it.TotalRevenue.StringFixed(2),
			suggestedId, suggestedName,
		}
		if err := f.SetSheetRow(sheet, "A"+strconv.Itoa(i+2), &row); err != nil {
			return 0, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.Write(w); err != nil {
		return 0, err
	}
	return len(items), nil
}
