package core

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// TemplateExampleRows returns the illustrative rows written under the
// header, using colors from palette and names ending in imageExt so the
// template parses cleanly under the same settings. The second row leaves
// SKU blank to show inheritance; it is omitted for a one-color palette.
func TemplateExampleRows(palette []string, imageExt string) [][]string {
	palette = cleanPalette(palette)
	ext := normalizeExt(imageExt)
	image := func(sku, color string, n int) string {
		return fmt.Sprintf("%s_%s_%d%s", sku, strings.ToLower(color), n, ext)
	}

	first := palette[0]
	rows := [][]string{
		{"849", "Bag", "Leather shoulder bag", "Bags", first, "10", "450", "650", "550",
			image("849", first, 1) + ", " + image("849", first, 2)},
	}
	if len(palette) > 1 {
		second := palette[1]
		rows = append(rows, []string{"", "", "", "", second, "15", "450", "650", "550", image("849", second, 1)})
	}
	third := palette[2%len(palette)]
	rows = append(rows, []string{"912", "Wallet", "Bifold wallet", "Accessories", third, "25", "120", "180", "150",
		image("912", third, 1)})
	return rows
}

// requiredColumns are marked with " *" in the template header.
var requiredColumns = map[string]bool{
	ColSKU: true, ColName: true, ColCategory: true, ColColor: true, ColStock: true,
	ColPrice: true, ColPriceRetail: true, ColPriceWholesale: true,
}

// GenerateTemplate builds the XLSX import template: a Products sheet with the
// header row and TemplateExampleRows, plus an Instructions sheet. Pass the
// same palette and extension the parser uses.
func GenerateTemplate(palette []string, imageExt string) ([]byte, error) {
	examples := TemplateExampleRows(palette, imageExt)
	palette = cleanPalette(palette)
	imageExt = normalizeExt(imageExt)

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ProductsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	requiredStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"C65911"}, Pattern: 1},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("required style: %w", err)
	}

	for i, col := range Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		text, style := col, headerStyle
		if requiredColumns[col] {
			text, style = col+" *", requiredStyle
		}
		if err := f.SetCellValue(ProductsSheet, cell, text); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		if err := f.SetCellStyle(ProductsSheet, cell, cell, style); err != nil {
			return nil, fmt.Errorf("style header: %w", err)
		}
		name, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(ProductsSheet, name, name, 18)
	}

	for r, row := range examples {
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		values := make([]any, len(row))
		for i, v := range row {
			values[i] = v
		}
		if err := f.SetSheetRow(ProductsSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write example row: %w", err)
		}
	}

	const info = "Instructions"
	if _, err := f.NewSheet(info); err != nil {
		return nil, fmt.Errorf("instructions sheet: %w", err)
	}
	lines := []string{
		"Catalog import instructions",
		"",
		"One row per color variant. Leave SKU blank to add another color to the product above.",
		"Name and Category are required on every row that has a SKU.",
		"Color must be one of: " + strings.Join(palette, ", "),
		"Stock is a whole number of at least 0. Price, PriceRetail and PriceWholesale must be greater than 0.",
		fmt.Sprintf("Images is a comma-separated list named {SKU}_{color}_{n}%s, e.g. %s.", imageExt, examples[len(examples)-1][len(Columns)-1]),
		"Upload the images together as one .zip archive; folders inside the archive are ignored.",
	}
	for i, line := range lines {
		_ = f.SetCellValue(info, fmt.Sprintf("A%d", i+1), line)
	}
	_ = f.SetColWidth(info, "A", "A", 110)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write template: %w", err)
	}
	return buf.Bytes(), nil
}
