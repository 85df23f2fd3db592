package core

import (
	"context"
	"fmt"
	"sort"
)

// Validate reconciles a batch against itself and against the store.
//
// Every SKU appearing more than once, either as separate products or as a
// product the parser saw reopened, yields one InternalDuplicate listing all
// its occurrences. The store is queried once for all SKUs; each returned
// record yields one StoreConflict. Validate never mutates products and is
// safe to call again after the caller fixes the source data.
func Validate(ctx context.Context, products []ParsedProduct, lookup SkuLookup) (ConflictReport, error) {
	report := ConflictReport{
		InternalDuplicates: findInternalDuplicates(products),
		StoreConflicts:     []StoreConflict{},
	}

	skus := uniqueSKUs(products)
	if len(skus) == 0 || lookup == nil {
		return report, nil
	}

	existing, err := lookup.LookupExisting(ctx, skus)
	if err != nil {
		return report, fmt.Errorf("lookup existing skus: %w", err)
	}

	firstIndex := make(map[string]int, len(products))
	for i, p := range products {
		if _, ok := firstIndex[p.SKU]; !ok {
			firstIndex[p.SKU] = i
		}
	}

	reported := make(map[string]bool, len(existing))
	for _, rec := range existing {
		i, ok := firstIndex[rec.SKU]
		if !ok || reported[rec.SKU] {
			continue
		}
		reported[rec.SKU] = true
		report.StoreConflicts = append(report.StoreConflicts, StoreConflict{
			SKU:          rec.SKU,
			ExistingID:   rec.ID,
			ExistingName: rec.Name,
			BatchName:    products[i].Name,
			BatchIndex:   i,
			Row:          rowOf(products[i], i),
		})
	}
	sort.Slice(report.StoreConflicts, func(a, b int) bool {
		return report.StoreConflicts[a].BatchIndex < report.StoreConflicts[b].BatchIndex
	})

	return report, nil
}

// findInternalDuplicates groups repeated SKUs in first-seen order.
// Parsed products carry their own occurrences; others count once each.
func findInternalDuplicates(products []ParsedProduct) []InternalDuplicate {
	groups := make(map[string][]Occurrence)
	var order []string
	for i, p := range products {
		if _, seen := groups[p.SKU]; !seen {
			order = append(order, p.SKU)
		}
		occ := p.Occurrences
		if len(occ) == 0 {
			occ = []Occurrence{{Index: i, Row: rowOf(p, i), Name: p.Name}}
		}
		groups[p.SKU] = append(groups[p.SKU], occ...)
	}

	dups := []InternalDuplicate{}
	for _, sku := range order {
		if occ := groups[sku]; len(occ) > 1 {
			dups = append(dups, InternalDuplicate{SKU: sku, Occurrences: occ})
		}
	}
	return dups
}

func uniqueSKUs(products []ParsedProduct) []string {
	seen := make(map[string]bool, len(products))
	skus := make([]string, 0, len(products))
	for _, p := range products {
		if p.SKU == "" || seen[p.SKU] {
			continue
		}
		seen[p.SKU] = true
		skus = append(skus, p.SKU)
	}
	return skus
}

// rowOf returns the product's sheet row, falling back to index + 2 for
// products that were not built by the parser.
func rowOf(p ParsedProduct, index int) int {
	if p.Row > 0 {
		return p.Row
	}
	return index + 2
}

// CheckImages cross-references variant image names with the archive.
// Referenced names missing from assets are blocking; archive files nobody
// references are reported as unused.
func CheckImages(products []ParsedProduct, assets ExtractedAssets) ImageReport {
	report := ImageReport{Missing: []MissingImage{}, Unused: []string{}}
	referenced := make(map[string]bool)

	for _, p := range products {
		for _, v := range p.Variants {
			for _, name := range v.ImageNames {
				if referenced[name] {
					continue
				}
				referenced[name] = true
				if _, ok := assets[name]; !ok {
					report.Missing = append(report.Missing, MissingImage{
						Name:  name,
						SKU:   p.SKU,
						Color: v.Color,
						Row:   v.Row,
					})
				}
			}
		}
	}

	for name := range assets {
		if !referenced[name] {
			report.Unused = append(report.Unused, name)
		}
	}
	sort.Strings(report.Unused)

	return report
}
