// Package extract derives descriptive metadata from uploaded documents.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// ErrUnsupported is returned for content types with no extractor.
var ErrUnsupported = errors.New("unsupported mime type")

// Info is what could be learned about a document without indexing it.
type Info struct {
	Pages int
	Words int
}

// Metadata renders the non-zero fields for storage alongside the document.
func (i Info) Metadata() map[string]any {
	out := make(map[string]any, 2)
	if i.Pages > 0 {
		out["pages"] = i.Pages
	}
	if i.Words > 0 {
		out["words"] = i.Words
	}
	return out
}

// Describe inspects an in-memory payload. mimeType must already be normalized.
// Libraries used: github.com/ledongthuc/pdf (PDF); DOCX is read as OOXML directly.
func Describe(ctx context.Context, data []byte, mimeType string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	switch {
	case mimeType == mimePDF:
		return describePDF(data)
	case mimeType == mimeDOCX:
		text, err := docxText(data)
		if err != nil {
			return Info{}, err
		}
		return Info{Words: len(strings.Fields(text))}, nil
	case strings.HasPrefix(mimeType, "text/"):
		return Info{Words: len(strings.Fields(string(data)))}, nil
	default:
		return Info{}, fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}
}

func describePDF(data []byte) (info Info, err error) {
	// ledongthuc/pdf panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Info{}, fmt.Errorf("read pdf: %w", err)
	}
	return Info{Pages: reader.NumPage()}, nil
}

func docxText(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty docx data")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("read docx: %w", err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", errors.New("document.xml file not found")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	return stripDocxXML(rc)
}

func stripDocxXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var buf strings.Builder
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			buf.Write(t)
		case xml.EndElement:
			if t.Name.Local == "p" || t.Name.Local == "br" {
				buf.WriteString("\n")
			}
		}
	}
	return strings.TrimSpace(buf.String()), nil
}
