package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// HeaderIndex maps normalized column names to their position in a sheet row.
type HeaderIndex map[string]int

// MakeHeaderIndex creates a HeaderIndex from a header row.
// Keys are normalized with normalizeHeader.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if key == "" {
			continue
		}
		if _, seen := idx[key]; !seen {
			idx[key] = i
		}
	}
	return idx
}

// normalizeHeader lowercases a header and strips spaces, underscores,
// dashes and the " *" marker the template puts on required columns.
func normalizeHeader(h string) string {
	h = strings.TrimSpace(CleanCell(h))
	h = strings.TrimSuffix(h, "*")
	h = strings.ToLower(h)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '\t':
			return -1
		}
		return r
	}, h)
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// parseStock parses a non-negative integer stock count.
// Spreadsheet exports sometimes render integers as "10.0"; those are accepted.
func parseStock(s string) (int, error) {
	s = CleanCell(s)
	if s == "" {
		return 0, fmt.Errorf("stock is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		d, derr := decimal.NewFromString(s)
		if derr != nil || !d.IsInteger() {
			return 0, fmt.Errorf("stock %q is not a whole number", s)
		}
		n = int(d.IntPart())
	}
	if n < 0 {
		return 0, fmt.Errorf("stock %d must not be negative", n)
	}
	return n, nil
}

// thousandsGrouped matches amounts like 1,200 or 12,345,678.90.
var thousandsGrouped = regexp.MustCompile(`^-?\d{1,3}(,\d{3})+(\.\d+)?$`)

// parsePrice parses a strictly positive decimal amount.
// Currency symbols are stripped. Commas are accepted only as thousands
// separators; "1,5" is rejected rather than read as 15.
func parsePrice(field, s string) (decimal.Decimal, error) {
	s = CleanCell(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	cleaned := strings.NewReplacer("$", "", " ", "").Replace(s)
	if strings.Contains(cleaned, ",") {
		if !thousandsGrouped.MatchString(cleaned) {
			return decimal.Zero, fmt.Errorf("%s %q has a misplaced comma; use a dot for decimals", field, s)
		}
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q is not a valid number", field, s)
	}
	if !d.IsPositive() {
		return d, fmt.Errorf("%s must be greater than 0", field)
	}
	return d, nil
}

// splitImages splits a comma-separated images cell into trimmed, non-empty names.
func splitImages(cell string) []string {
	cell = CleanCell(cell)
	if cell == "" {
		return nil
	}
	parts := strings.Split(cell, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			names = append(names, p)
		}
	}
	return names
}
