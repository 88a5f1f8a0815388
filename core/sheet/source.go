package sheet

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

var (
	zipMagic = []byte("PK\x03\x04")
	utf8BOM  = []byte("\xef\xbb\xbf")
)

// FileSource is an uploaded file. Workbooks (.xlsx, .xlsm) are detected by their zip
// signature or extension; anything else is read as CSV.
type FileSource struct {
	Name string
	Data []byte
}

// OpenFile reads the file at `path` into a FileSource.
func OpenFile(path string) (FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileSource{}, errors.Wrap(err, "reading spreadsheet")
	}
	return FileSource{Name: filepath.Base(path), Data: data}, nil
}

func (s FileSource) name() string { return s.Name }

func (s FileSource) IsWorkbook() bool {
	if bytes.HasPrefix(s.Data, zipMagic) {
		return true
	}
	switch strings.ToLower(filepath.Ext(s.Name)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}

func (s FileSource) rows() ([][]string, error) {
	if s.IsWorkbook() {
		return workbookRows(s.Data)
	}
	return csvRows(s.Data)
}

// GridSource is a 2-D cell grid already fetched from a remote spreadsheet provider.
type GridSource struct {
	Title string
	Rows  [][]interface{}
}

func (s GridSource) name() string { return s.Title }

func (s GridSource) rows() ([][]string, error) {
	rows := make([][]string, len(s.Rows))
	for i, row := range s.Rows {
		rows[i] = make([]string, len(row))
		for j, c := range row {
			rows[i][j] = formatCell(c)
		}
	}
	return rows, nil
}

func csvRows(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "reading csv")
	}
	for _, row := range rows {
		for j := range row {
			row[j] = strings.TrimSpace(row[j])
		}
	}
	return rows, nil
}

// workbookRows reads the first worksheet of a workbook.
func workbookRows(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "opening workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no worksheet")
	}
	sheet := sheets[0]

	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.Wrapf(err, "reading worksheet %q", sheet)
	}
	rows := make([][]string, len(raw))
	for i, row := range raw {
		rows[i] = make([]string, len(row))
		for j, v := range row {
			if v == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return nil, err
			}
			typ, err := f.GetCellType(sheet, cell)
			if err != nil {
				return nil, errors.Wrapf(err, "reading cell %s", cell)
			}
			rows[i][j] = workbookCell(typ, v)
		}
	}
	return rows, nil
}

func workbookCell(typ excelize.CellType, raw string) string {
	switch typ {
	case excelize.CellTypeBool:
		return strconv.FormatBool(raw == "1" || strings.EqualFold(raw, "true"))
	case excelize.CellTypeError:
		return ""
	case excelize.CellTypeUnset, excelize.CellTypeNumber, excelize.CellTypeDate:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return formatNumber(f)
		}
	}
	return strings.TrimSpace(raw)
}
