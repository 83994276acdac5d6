// Package doctext extracts the full plain text of an uploaded document for
// semantic indexing and model-based extraction.
package doctext

import (
	"bytes"
	"io"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/fundlens/fundlens/internal/tables"
)

// Extractor converts document bytes into plain text. Extraction may fail;
// the caller treats empty text as "nothing to index" and continues.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates an Extractor. A nil logger falls back to slog.Default.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract returns the document's plain text, or "" when the format is
// unknown or extraction fails.
func (e *Extractor) Extract(data []byte, format tables.Format) string {
	switch format {
	case tables.FormatCSV, tables.FormatTXT:
		return string(data)
	case tables.FormatXLSX:
		return e.extractXLSX(data)
	case tables.FormatPDF:
		return e.extractPDF(data)
	default:
		return ""
	}
}

func (e *Extractor) extractXLSX(data []byte) string {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		e.logger.Warn("spreadsheet text extraction failed", "error", err)
		return ""
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			e.logger.Warn("reading sheet for text extraction failed", "sheet", sheet, "error", err)
			continue
		}
		sb.WriteString("Sheet: ")
		sb.WriteString(sheet)
		sb.WriteString("\n")
		for _, row := range rows {
			sb.WriteString(strings.Join(row, ","))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (e *Extractor) extractPDF(data []byte) (text string) {
	// The pdf library panics on some malformed inputs; a bad upload must
	// degrade to empty text, not crash the worker.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("pdf text extraction panicked", "recovered", r)
			text = ""
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		e.logger.Warn("pdf open failed", "error", err)
		return ""
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		e.logger.Warn("pdf text extraction failed", "error", err)
		return ""
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		e.logger.Warn("reading pdf text failed", "error", err)
		return ""
	}
	return sb.String()
}
