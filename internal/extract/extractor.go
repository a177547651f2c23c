// Package extract provides text extraction from document files.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Result is extracted text plus the mime type it was derived from.
type Result struct {
	Text string
	Mime string
}

// Extractor extracts plain text from document files (reports, filings, memos).
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content and mime type.
// Plain text formats (.txt, .md, .csv, .json) pass through UTF-8 validated;
// PDF, DOCX, and XLSX are parsed. Unsupported extensions return an error.
func (e *Extractor) Extract(path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content based on ext (with leading dot).
func (e *Extractor) ExtractBytes(content []byte, ext string) (*Result, error) {
	switch ext {
	case ".pdf":
		text, err := extractPDF(content)
		if err != nil {
			return nil, err
		}
		return &Result{Text: text, Mime: "application/pdf"}, nil
	case ".docx":
		text, err := extractDOCX(content)
		if err != nil {
			return nil, err
		}
		return &Result{Text: text, Mime: "application/vnd.openxmlformats-officedocument.wordprocessingml.document"}, nil
	case ".xlsx":
		text, err := extractXLSX(content)
		if err != nil {
			return nil, err
		}
		return &Result{Text: text, Mime: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}, nil
	case ".txt", ".md", ".csv", ".json", "":
		return &Result{Text: extractPlain(content), Mime: mimeForPlain(ext)}, nil
	default:
		return nil, fmt.Errorf("unsupported extension %q", ext)
	}
}

// Supported reports whether files with ext can be extracted.
func (e *Extractor) Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".xlsx", ".txt", ".md", ".csv", ".json", "":
		return true
	}
	return false
}

func mimeForPlain(ext string) string {
	switch ext {
	case ".md":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "text/plain"
	}
}
