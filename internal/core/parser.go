package core

import (
	"fmt"
	"strings"
)

// DefaultPalette is the set of colors a variant may use.
var DefaultPalette = []string{
	"Black", "White", "Red", "Blue", "Green", "Yellow", "Brown", "Beige",
	"Gray", "Pink", "Purple", "Orange", "Navy", "Gold", "Silver",
}

// DefaultImageExt is the only image extension accepted in the archive.
const DefaultImageExt = ".webp"

// Parser turns sheet rows into products with variants.
type Parser struct {
	palette map[string]string // lowercase -> canonical spelling
	ext     string
}

// NewParser creates a parser for the given palette and image extension.
// Empty arguments fall back to DefaultPalette and DefaultImageExt.
func NewParser(palette []string, imageExt string) *Parser {
	palette = cleanPalette(palette)
	p := &Parser{palette: make(map[string]string, len(palette)), ext: normalizeExt(imageExt)}
	for _, c := range palette {
		p.palette[strings.ToLower(c)] = c
	}
	return p
}

// cleanPalette trims colors and drops blanks and case-insensitive repeats,
// falling back to DefaultPalette.
func cleanPalette(palette []string) []string {
	out := make([]string, 0, len(palette))
	seen := make(map[string]bool, len(palette))
	for _, c := range palette {
		c = strings.TrimSpace(c)
		if c == "" || seen[strings.ToLower(c)] {
			continue
		}
		seen[strings.ToLower(c)] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return DefaultPalette
	}
	return out
}

// normalizeExt lowercases ext and adds the leading dot.
func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return DefaultImageExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// ImageExt returns the accepted image extension, including the dot.
func (p *Parser) ImageExt() string {
	return p.ext
}

// productContext is the base fields inherited by blank-SKU rows.
type productContext struct {
	sku, name, description, category string
}

// Parse folds rows into products.
//
// A row with a SKU sets the context inherited by following blank-SKU rows.
// A SKU that reappears after a different one is recorded as another
// occurrence of the first product, so Validate reports it as a duplicate.
// A blank-SKU row before any SKU is an error and yields no variant. Every
// other row yields a variant; field problems are reported but the variant is
// kept, except for a repeated color, which is reported and dropped.
func (p *Parser) Parse(rows []RawRow) ParseResult {
	var (
		res     ParseResult
		ctx     *productContext
		indexOf = make(map[string]int) // sku -> position in res.Products
	)

	for i, row := range rows {
		rowNum := i + 2

		if sku := row.Value(ColSKU); sku != "" {
			reopened := ctx != nil && ctx.sku != sku
			ctx = &productContext{
				sku:         sku,
				name:        row.Value(ColName),
				description: row.Value(ColDescription),
				category:    row.Value(ColCategory),
			}
			if ctx.name == "" {
				res.Errors = append(res.Errors, ParseError{Row: rowNum, Field: ColName, Message: "name is required"})
			}
			if ctx.category == "" {
				res.Errors = append(res.Errors, ParseError{Row: rowNum, Field: ColCategory, Message: "category is required"})
			}
			if at, seen := indexOf[sku]; !seen {
				indexOf[sku] = len(res.Products)
				res.Products = append(res.Products, ParsedProduct{
					SKU:         ctx.sku,
					Name:        ctx.name,
					Description: ctx.description,
					Category:    ctx.category,
					Row:         rowNum,
					Occurrences: []Occurrence{{Index: len(res.Products), Row: rowNum, Name: ctx.name}},
				})
			} else if reopened {
				// The SKU starts a second group further down the sheet.
				// Its rows are kept on the first product, and the extra
				// occurrence makes the validator report the repeat.
				product := &res.Products[at]
				product.Occurrences = append(product.Occurrences, Occurrence{Index: at, Row: rowNum, Name: ctx.name})
			}
		} else if ctx == nil {
			res.Errors = append(res.Errors, ParseError{
				Row:     rowNum,
				Field:   ColSKU,
				Message: "SKU is empty and no previous product to inherit from",
			})
			continue
		}

		variant, errs := p.parseVariant(row, ctx.sku, rowNum)
		res.Errors = append(res.Errors, errs...)

		product := &res.Products[indexOf[ctx.sku]]
		if hasColor(product.Variants, variant.Color) {
			res.Errors = append(res.Errors, ParseError{
				Row:     rowNum,
				Field:   ColColor,
				Value:   variant.Color,
				Message: fmt.Sprintf("duplicate color for SKU %s", ctx.sku),
			})
			continue
		}
		product.Variants = append(product.Variants, variant)
	}

	return res
}

// parseVariant validates one row's variant fields.
func (p *Parser) parseVariant(row RawRow, sku string, rowNum int) (ParsedVariant, []ParseError) {
	var errs []ParseError
	fail := func(field, value, msg string) {
		errs = append(errs, ParseError{Row: rowNum, Field: field, Value: value, Message: msg})
	}

	v := ParsedVariant{Row: rowNum}

	color := row.Value(ColColor)
	switch canonical, ok := p.palette[strings.ToLower(color)]; {
	case color == "":
		fail(ColColor, "", "color is required")
	case !ok:
		v.Color = color
		fail(ColColor, color, "color is not in the allowed palette")
	default:
		v.Color = canonical
	}

	stockCell := row.Value(ColStock)
	stock, err := parseStock(stockCell)
	if err != nil {
		fail(ColStock, stockCell, err.Error())
	}
	v.Stock = stock

	if v.Price, err = parsePrice("price", row.Value(ColPrice)); err != nil {
		fail(ColPrice, row.Value(ColPrice), err.Error())
	}
	if v.PriceRetail, err = parsePrice("retail price", row.Value(ColPriceRetail)); err != nil {
		fail(ColPriceRetail, row.Value(ColPriceRetail), err.Error())
	}
	if v.PriceWholesale, err = parsePrice("wholesale price", row.Value(ColPriceWholesale)); err != nil {
		fail(ColPriceWholesale, row.Value(ColPriceWholesale), err.Error())
	}

	v.ImageNames = splitImages(row.Value(ColImages))
	prefix := strings.ToLower(sku + "_" + v.Color + "_")
	for _, name := range v.ImageNames {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, prefix) || !strings.HasSuffix(lower, p.ext) {
			fail(ColImages, name, fmt.Sprintf("image name must look like %s<n>%s", prefix, p.ext))
		}
	}

	return v, errs
}

func hasColor(variants []ParsedVariant, color string) bool {
	for _, v := range variants {
		if strings.EqualFold(v.Color, color) {
			return true
		}
	}
	return false
}
