package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const docxDocumentPath = "word/document.xml"

// extractDOCX extracts text from .docx bytes. DOCX is a zip holding OOXML;
// all <w:t> text nodes are collected with an XML token scan so content is
// found regardless of paragraph or run attributes.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract docx: not a zip: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != docxDocumentPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("extract docx: open %s: %w", f.Name, err)
		}
		text, err := collectTextNodes(rc)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("extract docx: %w", err)
		}
		return text, nil
	}
	return "", fmt.Errorf("extract docx: %s not found", docxDocumentPath)
}

// collectTextNodes joins the character data of every <w:t> element with spaces.
func collectTextNodes(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inText = t.Name.Local == "t"
		case xml.EndElement:
			inText = false
		case xml.CharData:
			if inText {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.Write(bytes.TrimSpace(t))
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
