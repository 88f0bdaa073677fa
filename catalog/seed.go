package catalog

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/normalizer"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// SeedRow is one verified catalog entry from the seed workbook.
type SeedRow struct {
	Name             string
	Category         models.Category
	Variant          string
	Price            decimal.Decimal
	AddonEligible    bool
	DeliveryEligible bool
}

var seedHeader = []string{"Name", "Category", "Variant", "Price", "AddonEligible", "DeliveryEligible"}

// ReadSeedXLSX reads the first sheet of a seed workbook. The first row is the
// header; columns follow seedHeader.
func ReadSeedXLSX(r io.Reader) ([]SeedRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("unable to open seed workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("unable to read sheet: %w", err)
	}

	var out []SeedRow
	for i, row := range rows {
		if i == 0 || isBlankRow(row) {
			continue
		}
		seed, err := parseSeedRow(row)
		if err != nil {
			return nil, fmt.Errorf("seed row %d: %w", i+1, err)
		}
		out = append(out, seed)
	}
	return out, nil
}

func parseSeedRow(row []string) (SeedRow, error) {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	var s SeedRow
	s.Name = cell(0)
	if s.Name == "" {
		return s, fmt.Errorf("name is required")
	}
	cat, err := models.ParseCategory(cell(1))
	if err != nil {
		return s, fmt.Errorf("%w: %q", err, cell(1))
	}
	s.Category = cat
	s.Variant = cell(2)
	s.Price = decimal.Zero
	if p := cell(3); p != "" {
		if s.Price, err = decimal.NewFromString(p); err != nil {
			return s, fmt.Errorf("invalid price %q", p)
		}
	}
	s.AddonEligible = parseFlag(cell(4))
	s.DeliveryEligible = parseFlag(cell(5))
	return s, nil
}

func parseFlag(v string) bool {
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err == nil {
		return b
	}
	switch strings.ToLower(v) {
	case "y", "yes":
		return true
	}
	return false
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ApplySeed inserts seed rows as verified items, variants and links.
func (s *Store) ApplySeed(ctx context.Context, rows []SeedRow, norm *normalizer.Normalizer) (int, error) {
	applied := 0
	for _, row := range rows {
		item, _, err := s.InsertOrFetchItem(ctx, NewItem{
			Name:         row.Name,
			Category:     row.Category,
			PrefixFamily: norm.PrefixFamily(row.Name),
			Verified:     true,
		})
		if err != nil {
			return applied, fmt.Errorf("seed %s/%s: %w", row.Category, row.Name, err)
		}
		if row.Variant != "" {
			v, _, err := s.InsertOrFetchVariant(ctx, normalizer.ParseVariant(row.Variant), true)
			if err != nil {
				return applied, fmt.Errorf("seed variant %q: %w", row.Variant, err)
			}
			_, _, err = s.EnsureLink(ctx, LinkInput{
				ItemId:             item.ID,
				VariantId:          v.ID,
				Price:              row.Price,
				Verified:           true,
				IsAddonEligible:    row.AddonEligible,
				IsDeliveryEligible: row.DeliveryEligible,
			})
			if err != nil {
				return applied, err
			}
		}
		applied++
	}
	return applied, nil
}

// WriteSeedXLSX writes rows in the layout ReadSeedXLSX expects.
func WriteSeedXLSX(w io.Writer, rows []SeedRow) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "Sheet1"
	if err := f.SetSheetRow(sheet, "A1", &seedHeader); err != nil {
		return err
	}
	for i, r := range rows {
		values := []interface{}{
			r.Name, string(r.Category), r.Variant, r.Price.String(),
			strconv.FormatBool(r.AddonEligible), strconv.FormatBool(r.DeliveryEligible),
		}
		if err := f.SetSheetRow(sheet, "A"+strconv.Itoa(i+2), &values); err != nil {
			return err
		}
	}
	return f.Write(w)
}
