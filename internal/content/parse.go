// Package content parses question files (JSON, YAML and Excel) into catalog
// records and imports them with a per-record report.
package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/p-n-ai/pai-activity/internal/activity"
)

// Format is an import file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatXLSX Format = "xlsx"
)

var xlsxMagic = []byte("PK\x03\x04")

// DetectFormat picks the format from the file name, then the content type,
// then the leading bytes of data.
func DetectFormat(filename, contentType string, data []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".xls":
		return "", invalidFile("legacy .xls workbooks are not supported, save as .xlsx")
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return FormatJSON, nil
	case strings.Contains(ct, "yaml"):
		return FormatYAML, nil
	case strings.Contains(ct, "spreadsheetml"):
		return FormatXLSX, nil
	}

	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.HasPrefix(data, xlsxMagic):
		return FormatXLSX, nil
	case len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{'):
		return FormatJSON, nil
	case len(trimmed) > 0:
		return FormatYAML, nil
	}
	return "", invalidFile("empty file")
}

// ParseRecords decodes data into raw question records. A single object is
// treated as a one-record file.
func ParseRecords(format Format, data []byte) ([]map[string]any, error) {
	switch format {
	case FormatJSON:
		return parseJSON(data)
	case FormatYAML:
		return parseYAML(data)
	case FormatXLSX:
		return parseXLSX(data)
	default:
		return nil, invalidFile("unknown format %q", format)
	}
}

func parseJSON(data []byte) ([]map[string]any, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, invalidFile("invalid JSON: %v", err)
	}
	return asRecords(doc)
}

func parseYAML(data []byte) ([]map[string]any, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, invalidFile("invalid YAML: %v", err)
	}
	// A seed file may wrap its list in a "questions" key.
	if m, ok := doc.(map[string]any); ok {
		if qs, ok := m["questions"]; ok {
			doc = qs
		}
	}
	return asRecords(doc)
}

func asRecords(doc any) ([]map[string]any, error) {
	switch v := doc.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		out := make([]map[string]any, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, invalidFile("record %d is not an object", i)
			}
			out = append(out, m)
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, invalidFile("expected an object or a list of objects")
	}
}

// Columns whose spreadsheet cells hold numbers.
var integerColumns = map[string]bool{
	"level":              true,
	"question_no":        true,
	"version":            true,
	"time_limit_seconds": true,
	"stars_for_perfect":  true,
}

// Columns whose spreadsheet cells hold a JSON list; a bare value becomes a
// one-element list.
var listColumns = map[string]bool{
	"question_items": true,
	"answer":         true,
	"analytics_tags": true,
	"match_pairs":    true,
	"hints":          true,
}

// Columns whose spreadsheet cells hold a JSON object.
var objectColumns = map[string]bool{
	"presentation": true,
	"assets":       true,
}

// parseXLSX reads the first sheet. The first row names the columns; every
// following non-empty row is a record.
func parseXLSX(data []byte) ([]map[string]any, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, invalidFile("invalid Excel workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, invalidFile("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, invalidFile("read sheet %s: %v", sheets[0], err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var out []map[string]any
	for _, row := range rows[1:] {
		rec := make(map[string]any)
		for i, cell := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			rec[header[i]] = cellValue(header[i], cell)
		}
		if len(rec) > 0 {
			out = append(out, rec)
		}
	}
	return out, nil
}

func cellValue(column, cell string) any {
	switch {
	case integerColumns[column]:
		if n, err := strconv.Atoi(cell); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(cell, 64); err == nil && f == float64(int(f)) {
			return int(f)
		}
		return cell
	case listColumns[column], objectColumns[column]:
		if strings.HasPrefix(cell, "[") || strings.HasPrefix(cell, "{") {
			var v any
			if err := json.Unmarshal([]byte(cell), &v); err == nil {
				return v
			}
			return cell
		}
		if listColumns[column] {
			return []any{cell}
		}
		return cell
	default:
		return cell
	}
}

// DecodeQuestion converts a validated record into a question. Timestamps in
// the record are ignored; the catalog assigns them.
func DecodeQuestion(rec map[string]any) (activity.Question, error) {
	fields := make(map[string]any, len(rec))
	for k, v := range rec {
		if k == "created_at" || k == "updated_at" {
			continue
		}
		fields[k] = v
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return activity.Question{}, fmt.Errorf("encode record: %w", err)
	}
	var q activity.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return activity.Question{}, fmt.Errorf("%w: %v", activity.ErrValidation, err)
	}
	return q, nil
}

func invalidFile(format string, args ...any) error {
	return fmt.Errorf("%w: %s", activity.ErrValidation, fmt.Sprintf(format, args...))
}
