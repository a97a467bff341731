package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Ramsey-B/lily/pkg/models"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const (
	colName       = "name"
	colDiocese    = "diocese"
	colCountryISO = "country_iso"
	colAddress    = "address"
	colImageURL   = "image_url"
)

var requiredColumns = []string{colName, colDiocese, colCountryISO}

// headerAliases maps accepted header spellings to column names.
var headerAliases = map[string]string{
	"name":         colName,
	"church":       colName,
	"church_name":  colName,
	"diocese":      colDiocese,
	"diocese_name": colDiocese,
	"country_iso":  colCountryISO,
	"country":      colCountryISO,
	"iso":          colCountryISO,
	"iso_code":     colCountryISO,
	"address":      colAddress,
	"image_url":    colImageURL,
	"image":        colImageURL,
}

// DetectFormat picks the parser from the file extension.
func DetectFormat(filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported file type %q, expected .csv or .xlsx", filepath.Ext(filename))
	}
}

// record is one sheet row and the 1-based line it was read from.
type record struct {
	line  int
	cells []string
}

// ParseRows reads every non-blank data row. The first row is the header.
func ParseRows(format string, r io.Reader) ([]models.ImportRow, error) {
	var records []record
	var err error
	switch format {
	case FormatCSV:
		records, err = readCSV(r)
	case FormatXLSX:
		records, err = readXLSX(r)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("file is empty")
	}

	columns, err := mapHeader(records[0].cells)
	if err != nil {
		return nil, err
	}

	rows := make([]models.ImportRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		if blank(rec.cells) {
			continue
		}
		get := func(col string) string {
			idx, ok := columns[col]
			if !ok || idx >= len(rec.cells) {
				return ""
			}
			return strings.TrimSpace(rec.cells[idx])
		}
		rows = append(rows, models.ImportRow{
			Line:       rec.line,
			Name:       get(colName),
			Diocese:    get(colDiocese),
			CountryISO: strings.ToUpper(get(colCountryISO)),
			Address:    get(colAddress),
			ImageURL:   get(colImageURL),
		})
	}
	return rows, nil
}

// readCSV keeps the source line of each record; the csv reader skips blank lines.
func readCSV(r io.Reader) ([]record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records []record
	for {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		line, _ := reader.FieldPos(0)
		records = append(records, record{line: line, cells: cells})
	}
}

// readXLSX reads the first sheet of the workbook.
func readXLSX(r io.Reader) ([]record, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("invalid xlsx: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}

	records := make([]record, 0, len(rows))
	for i, cells := range rows {
		records = append(records, record{line: i + 1, cells: cells})
	}
	return records, nil
}

func mapHeader(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, cell := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff")))
		key = strings.ReplaceAll(key, " ", "_")
		if col, ok := headerAliases[key]; ok {
			if _, dup := columns[col]; !dup {
				columns[col] = i
			}
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required column(s): %s", strings.Join(missing, ", "))
	}
	return columns, nil
}

func blank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
