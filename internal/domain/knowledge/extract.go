package knowledge

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv/v2"
	"github.com/ledongthuc/pdf"
)

// MaxDocumentBytes bounds a single upload.
const MaxDocumentBytes = 25 << 20

// KindFromName maps a file extension to a supported Kind.
func KindFromName(name string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF, nil
	case ".docx":
		return KindDOCX, nil
	case ".txt", ".md", ".markdown":
		return KindText, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
}

// ExtractText returns the normalized plain text of a document.
func ExtractText(kind Kind, data []byte) (string, error) {
	var (
		raw string
		err error
	)
	switch kind {
	case KindPDF:
		raw, err = extractPDF(data)
	case KindDOCX:
		raw, err = extractDOCX(data)
	case KindText:
		raw = string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	default:
		return "", fmt.Errorf("%w: kind %q", ErrUnsupportedFormat, kind)
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", kind, err)
	}
	text := normalizeText(raw)
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

func extractPDF(data []byte) (text string, err error) {
	// The PDF parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// extractDOCX returns the body text of an OOXML document, one paragraph per line.
func extractDOCX(data []byte) (string, error) {
	text, _, err := docconv.ConvertDocx(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("docx: %w", err)
	}
	return text, nil
}

// normalizeText repairs encoding, unifies line endings and drops control characters.
func normalizeText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\r':
			return '\n'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
