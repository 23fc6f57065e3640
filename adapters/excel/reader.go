package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Row is one data row keyed by lower-cased header
type Row map[string]string

// Table is a header row plus data rows
type Table struct {
	Headers []string
	Rows    []Row
}

// DataReader reads named sheets from an .xlsx workbook, or the single table
// of a .csv file
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
}

// NewDataReader picks the format from the file extension
func NewDataReader(filePath string) *DataReader {
	fileType := "xlsx"
	if strings.ToLower(filepath.Ext(filePath)) == ".csv" {
		fileType = "csv"
	}
	return &DataReader{filePath: filePath, fileType: fileType}
}

// Sheets lists the workbook's sheets; a CSV file has one unnamed sheet
func (r *DataReader) Sheets() ([]string, error) {
	if r.fileType == "csv" {
		return []string{""}, nil
	}
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// ReadSheet reads one sheet. The sheet name is ignored for CSV.
func (r *DataReader) ReadSheet(sheet string) (*Table, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSV()
	default:
		rows, err = r.readExcel(sheet)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("sheet %q has no header row", sheet)
	}
	return processRows(rows), nil
}

func (r *DataReader) readExcel(sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func (r *DataReader) readCSV() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

// processRows keys every data row by its trimmed, lower-cased header.
// Blank rows are dropped.
func processRows(rows [][]string) *Table {
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
	}

	t := &Table{Headers: headers}
	for _, raw := range rows[1:] {
		row := make(Row, len(headers))
		blank := true
		for j, cell := range raw {
			if j >= len(headers) {
				break
			}
			v := strings.TrimSpace(cell)
			if v != "" {
				blank = false
			}
			row[headers[j]] = v
		}
		if !blank {
			t.Rows = append(t.Rows, row)
		}
	}
	return t
}
