// Package export turns uploaded JSON datasets into spreadsheet workbooks.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"configdeck/api/internal/jsondoc"
)

const (
	MimeTypeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	defaultSheetName = "Data"
	maxSheetName     = 31
)

var ErrInvalidJSON = errors.New("uploaded file is not valid JSON")

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Spreadsheet converts payload, the contents of the file uploaded as
// uploadName, into a single-sheet workbook. An array becomes one row per
// record under a header of every key in first-seen order; any other JSON
// value gives an empty sheet.
func Spreadsheet(uploadName string, payload []byte) (*Result, error) {
	value, err := jsondoc.Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	records, _ := value.([]any)

	f := excelize.NewFile()
	defer f.Close()

	sheet := SheetName(uploadName)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	headers := Headers(records)
	if len(headers) > 0 {
		header := make([]any, len(headers))
		for i, key := range headers {
			header[i] = key
		}
		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	for i, record := range records {
		obj, ok := record.(*jsondoc.Object)
		if !ok {
			continue
		}
		row := make([]any, len(headers))
		for col, key := range headers {
			value, _ := obj.Get(key)
			row[col], err = cellValue(value)
			if err != nil {
				return nil, err
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return &Result{
		Data:     buf.Bytes(),
		Filename: Filename(uploadName),
		MimeType: MimeTypeXLSX,
	}, nil
}

// Headers is the union of record keys in the order they are first seen.
func Headers(records []any) []string {
	seen := make(map[string]bool)
	var headers []string
	for _, record := range records {
		obj, ok := record.(*jsondoc.Object)
		if !ok {
			continue
		}
		for _, key := range obj.Keys() {
			if !seen[key] {
				seen[key] = true
				headers = append(headers, key)
			}
		}
	}
	return headers
}

func cellValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.Number:
		if n, err := strconv.ParseInt(string(v), 10, 64); err == nil {
			return n, nil
		}
		if !strings.ContainsAny(string(v), ".eE") {
			return string(v), nil
		}
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
		return string(v), nil
	case string, bool:
		return v, nil
	default:
		encoded, err := jsondoc.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode cell: %w", err)
		}
		return string(encoded), nil
	}
}

// SheetName derives an Excel-safe sheet name from the upload's base name.
func SheetName(uploadName string) string {
	base := strings.TrimSuffix(filepath.Base(uploadName), filepath.Ext(uploadName))
	var b strings.Builder
	for _, r := range base {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			continue
		}
		b.WriteRune(r)
	}
	name := strings.Trim(strings.TrimSpace(b.String()), "'")
	if runes := []rune(name); len(runes) > maxSheetName {
		name = string(runes[:maxSheetName])
	}
	if name == "" || name == "." {
		return defaultSheetName
	}
	return name
}

// Filename is the upload's name with its extension replaced by .xlsx.
func Filename(uploadName string) string {
	base := filepath.Base(strings.ReplaceAll(uploadName, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return sanitizeFilename(base) + ".xlsx"
}

// sanitizeFilename keeps characters that are safe in a Content-Disposition header.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		}
	}
	result := b.String()
	if len(result) > 100 {
		result = result[:100]
	}
	if result == "" || result == "." {
		result = "data"
	}
	return result
}
