package knowledge

import (
	"errors"
	"strings"
	"testing"
)

func TestKindFromName(t *testing.T) {
	t.Parallel()

	cases := map[string]Kind{
		"apuntes.PDF":    KindPDF,
		"ensayo.docx":    KindDOCX,
		"notas.txt":      KindText,
		"README.md":      KindText,
		"dir/x.markdown": KindText,
	}
	for name, want := range cases {
		got, err := KindFromName(name)
		if err != nil || got != want {
			t.Errorf("KindFromName(%q) = %q, %v; want %q", name, got, err, want)
		}
	}
	for _, name := range []string{"slides.pptx", "hoja.xlsx", "sin_extension", "foto.png"} {
		if _, err := KindFromName(name); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("KindFromName(%q): expected ErrUnsupportedFormat, got %v", name, err)
		}
	}
}

func TestExtractText_PlainText_NormalizesAndStripsBOM(t *testing.T) {
	t.Parallel()

	got, err := ExtractText(KindText, []byte("\xef\xbb\xbf  Línea uno\r\nLínea\x00 dos\r \n"))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if got != "Línea uno\nLínea dos" {
		t.Errorf("unexpected text %q", got)
	}
}

func TestExtractText_InvalidUTF8IsRepaired(t *testing.T) {
	t.Parallel()

	got, err := ExtractText(KindText, []byte("caf\xe9 con leche"))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if got != "caf con leche" {
		t.Errorf("unexpected text %q", got)
	}
}

func TestExtractText_Empty(t *testing.T) {
	t.Parallel()

	if _, err := ExtractText(KindText, []byte(" \n\t ")); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestExtractText_DOCX(t *testing.T) {
	t.Parallel()

	data := buildDOCX(t, "La Revolución Francesa comenzó en 1789.", "Terminó con el ascenso de Napoleón.")
	got, err := ExtractText(KindDOCX, data)
	if err != nil {
		t.Fatalf("ExtractText(docx): %v", err)
	}
	var lines []string
	for _, l := range strings.Split(got, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) != 2 || lines[0] != "La Revolución Francesa comenzó en 1789." || lines[1] != "Terminó con el ascenso de Napoleón." {
		t.Errorf("expected one line per paragraph, got %q", got)
	}
}

func TestExtractText_DOCX_NotAZip(t *testing.T) {
	t.Parallel()

	if _, err := ExtractText(KindDOCX, []byte("plain text pretending")); err == nil {
		t.Error("expected error for non-zip docx")
	}
}

func TestExtractText_PDF_GarbageIsAnErrorNotAPanic(t *testing.T) {
	t.Parallel()

	if _, err := ExtractText(KindPDF, []byte("%PDF-1.4 truncated")); err == nil {
		t.Error("expected error for malformed pdf")
	}
}
