// Package tables extracts tabular data from uploaded fund documents.
package tables

import (
	"bytes"
	"encoding/csv"
	"log/slog"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format identifies the file format of an uploaded document. Dispatch is by
// this explicit tag, never by content sniffing.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatTXT     Format = "txt"
	FormatPDF     Format = "pdf"
	FormatUnknown Format = ""
)

// ParseFormat maps a file extension or format string to a Format.
// Unrecognized values map to FormatUnknown.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "csv":
		return FormatCSV
	case "xlsx", "xls":
		return FormatXLSX
	case "txt", "text":
		return FormatTXT
	case "pdf":
		return FormatPDF
	default:
		return FormatUnknown
	}
}

// Record is one parsed table: a sheet or section name, the header in
// original column order, and the data rows keyed by column name.
type Record struct {
	Section string
	Header  []string
	Rows    []map[string]string
}

// Parser extracts tables from document bytes. Parse never returns an error:
// a failed parse is an expected, recoverable condition upstream, so it is
// logged and yields an empty result instead.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a Parser. A nil logger falls back to slog.Default.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse extracts tables from data according to the format tag. PDF content
// has no reliably recoverable table structure here; its text goes through
// the model-based extraction path instead, so PDF (like any unrecognized
// format) yields nil.
func (p *Parser) Parse(data []byte, format Format) []Record {
	switch format {
	case FormatCSV:
		return p.parseCSV(data)
	case FormatXLSX:
		return p.parseXLSX(data)
	case FormatTXT:
		return p.parseText(data)
	default:
		return nil
	}
}

func (p *Parser) parseCSV(data []byte) []Record {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1 // repair short/long rows ourselves
	r.TrimLeadingSpace = true

	lines, err := r.ReadAll()
	if err != nil {
		p.logger.Warn("csv parse failed", "error", err)
		return nil
	}
	if len(lines) == 0 {
		return nil
	}

	rec := buildRecord("csv_data", lines[0], lines[1:])
	return []Record{rec}
}

func (p *Parser) parseXLSX(data []byte) []Record {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		p.logger.Warn("spreadsheet parse failed", "error", err)
		return nil
	}
	defer f.Close()

	var records []Record
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			p.logger.Warn("reading sheet failed", "sheet", sheet, "error", err)
			continue
		}
		if len(rows) == 0 {
			records = append(records, Record{Section: sheet})
			continue
		}
		records = append(records, buildRecord(sheet, rows[0], rows[1:]))
	}
	return records
}

// textDelim splits on a tab or a run of two or more whitespace characters,
// so single spaces inside a cell value survive.
var textDelim = regexp.MustCompile(`\t|\s{2,}`)

func (p *Parser) parseText(data []byte) []Record {
	var lines [][]string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, textDelim.Split(line, -1))
	}
	if len(lines) == 0 {
		return nil
	}

	rec := buildRecord("text_data", lines[0], lines[1:])
	return []Record{rec}
}

// buildRecord assembles a Record from a header and raw rows. Rows with a
// field count mismatch are repaired, not dropped: short rows are right-padded
// with empty strings and long rows truncated to the header width. Missing
// cells become "" (never absent keys) so downstream keyword matching is
// stable.
func buildRecord(section string, header []string, raw [][]string) Record {
	rec := Record{Section: section, Header: header}
	for _, fields := range raw {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(fields) {
				row[col] = fields[i]
			} else {
				row[col] = ""
			}
		}
		rec.Rows = append(rec.Rows, row)
	}
	return rec
}
