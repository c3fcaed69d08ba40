package safety

import (
	"bytes"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"rag-ingest-backend/internal/shared/util"
)

// MIME types with dedicated handling.
const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDOC  = "application/msword"
)

var signatures = map[string][]byte{
	MimePDF:  []byte("%PDF"),
	MimeDOCX: {'P', 'K', 0x03, 0x04},
}

var extensionsByMIME = map[string][]string{
	MimePDF:         {".pdf"},
	MimeDOCX:        {".docx"},
	MimeDOC:         {".doc"},
	"text/plain":    {".txt", ".text", ".log", ".csv"},
	"text/markdown": {".md", ".markdown"},
	"text/html":     {".html", ".htm"},
}

// FileInput is an uploaded file awaiting validation.
type FileInput struct {
	FileName     string
	DeclaredMIME string
	Data         []byte
}

// FileVerdict describes a file that passed validation.
type FileVerdict struct {
	MimeType          string
	Size              int64
	SHA256            string
	ExtensionMismatch bool
}

// ValidateFile checks size, allow-list and magic bytes, in that order.
// An extension that contradicts the declared type is flagged, not rejected.
func (v *Validator) ValidateFile(in FileInput) (FileVerdict, error) {
	size := int64(len(in.Data))
	if size == 0 {
		return FileVerdict{}, newError(ErrEmptyFile, "Empty file")
	}
	if v.MaxBytes > 0 && size > v.MaxBytes {
		return FileVerdict{}, newError(ErrTooLarge, fmt.Sprintf("File too large. Max %d MB", v.MaxBytes>>20))
	}

	mimeType := NormalizeMIME(in.DeclaredMIME)
	if _, ok := v.allowed[mimeType]; !ok || mimeType == "" {
		return FileVerdict{}, newError(ErrUnsupportedType, fmt.Sprintf("Unsupported MIME type: %s", displayMIME(in.DeclaredMIME)))
	}

	if sig, ok := signatures[mimeType]; ok && !bytes.HasPrefix(in.Data, sig) {
		return FileVerdict{}, newError(ErrContentMismatch, fmt.Sprintf("File content does not match declared type %s", mimeType))
	}

	return FileVerdict{
		MimeType:          mimeType,
		Size:              size,
		SHA256:            util.ContentSHA256(in.Data),
		ExtensionMismatch: extensionMismatch(in.FileName, mimeType),
	}, nil
}

// NormalizeMIME lower-cases the type and strips parameters such as charset.
func NormalizeMIME(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(raw); err == nil {
		return strings.ToLower(mediaType)
	}
	base, _, _ := strings.Cut(raw, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func extensionMismatch(fileName, mimeType string) bool {
	exts, known := extensionsByMIME[mimeType]
	if !known {
		return false
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if e == ext {
			return false
		}
	}
	return true
}

func displayMIME(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "unknown"
	}
	return raw
}
