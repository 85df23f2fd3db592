package core

import (
	"fmt"
	"strings"
)

// ParseError describes a single row-level problem found while parsing a sheet.
type ParseError struct {
	Row     int    `json:"row"`             // Sheet row (index + 2)
	Field   string `json:"field,omitempty"` // Column header, empty for row-level errors
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Message)
}

// ParseResult is the output of Parser.Parse.
// Products are in first-seen SKU order; variants keep row order.
type ParseResult struct {
	Products []ParsedProduct `json:"products"`
	Errors   []ParseError    `json:"errors"`
}

// OK reports whether the sheet parsed without errors.
func (r ParseResult) OK() bool {
	return len(r.Errors) == 0
}

// Messages returns the errors as display strings.
func (r ParseResult) Messages() []string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return msgs
}

// VariantCount returns the number of variants across all products.
func (r ParseResult) VariantCount() int {
	n := 0
	for _, p := range r.Products {
		n += len(p.Variants)
	}
	return n
}

// ValidateHeaders checks that every template column is present.
// Returns the names of missing columns joined in an error.
func ValidateHeaders(headers []string) error {
	idx := MakeHeaderIndex(headers)
	var missing []string
	for _, col := range Columns {
		if _, ok := idx[normalizeHeader(col)]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required column: %s", strings.Join(missing, ", "))
	}
	return nil
}
