package core

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// ProductsSheet is the preferred worksheet name in XLSX uploads.
const ProductsSheet = "Products"

var (
	// ErrEmptySheet is returned when the upload has no data rows.
	ErrEmptySheet = errors.New("empty file: sheet has no data rows")

	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
	zipMagic = []byte("PK\x03\x04")
)

// ReadRows decodes an uploaded sheet into rows keyed by header.
// XLSX is detected by extension or by its zip signature; everything else is
// read as CSV. Fully blank rows are dropped.
func ReadRows(fileName string, data []byte) ([]RawRow, error) {
	ext := strings.ToLower(filepath.Ext(fileName))

	var (
		records [][]string
		err     error
	)
	if ext == ".xlsx" || ext == ".xlsm" || bytes.HasPrefix(data, zipMagic) {
		records, err = readXLSX(data)
	} else {
		records, err = readCSV(data)
	}
	if err != nil {
		return nil, err
	}

	return recordsToRows(records)
}

// readXLSX returns the cell grid of the Products sheet, or of the first
// sheet when none is named Products.
func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySheet
	}
	sheet := sheets[0]
	for _, name := range sheets {
		if strings.EqualFold(name, ProductsSheet) {
			sheet = name
			break
		}
	}

	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return records, nil
}

// readCSV parses CSV after dropping a UTF-8 BOM and replacing invalid
// byte sequences, which Excel "Save as CSV" produces on some platforms.
func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte("�"))
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// recordsToRows keys every record by the first non-blank row's headers.
func recordsToRows(records [][]string) ([]RawRow, error) {
	headerAt := -1
	for i, rec := range records {
		if !blankRecord(rec) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, ErrEmptySheet
	}

	header := records[headerAt]
	if err := ValidateHeaders(header); err != nil {
		return nil, err
	}

	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(CleanCell(h)), "*"))
	}

	rows := make([]RawRow, 0, len(records)-headerAt-1)
	for _, rec := range records[headerAt+1:] {
		if blankRecord(rec) {
			continue
		}
		row := make(RawRow, len(names))
		for i, name := range names {
			if name == "" {
				continue
			}
			if i < len(rec) {
				row[name] = rec[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrEmptySheet
	}
	return rows, nil
}

func blankRecord(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
