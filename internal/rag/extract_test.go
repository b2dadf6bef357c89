package rag

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestFileExtension(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"report.PDF", "pdf"},
		{"notes.txt", "txt"},
		{"readme.md", "md"},
		{"archive.tar.gz", "gz"},
		{"noextension", ""},
	}

	for _, tt := range tests {
		if got := FileExtension(tt.filename); got != tt.want {
			t.Errorf("FileExtension(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestExtractPlainText(t *testing.T) {
	text, err := ExtractText("notes.txt", []byte("hello world"))
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if text != "hello world" {
		t.Errorf("unexpected text: %q", text)
	}

	text, err = ExtractText("readme.md", []byte("# Title\n\nBody"))
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if !strings.Contains(text, "Body") {
		t.Errorf("markdown content lost: %q", text)
	}
}

func TestExtractUnsupportedType(t *testing.T) {
	if _, err := ExtractText("image.png", []byte("data")); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestExtractEmptyDocument(t *testing.T) {
	if _, err := ExtractText("blank.txt", []byte("   \n\t ")); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("expected ErrEmptyDocument, got %v", err)
	}
}

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("word/document.xml")
	if err != nil {
		t.Fatalf("failed to create archive entry: %v", err)
	}
	if _, err := f.Write([]byte(documentXML)); err != nil {
		t.Fatalf("failed to write archive entry: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close archive: %v", err)
	}
	return buf.Bytes()
}

func TestExtractDOCX(t *testing.T) {
	docXML := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
    <w:p></w:p>
  </w:body>
</w:document>`

	text, err := ExtractText("report.docx", buildDOCX(t, docXML))
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}

	lines := strings.Split(text, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 paragraphs, got %d: %q", len(lines), text)
	}
	if lines[0] != "First paragraph." {
		t.Errorf("unexpected first paragraph: %q", lines[0])
	}
	if lines[1] != "Second paragraph." {
		t.Errorf("runs not joined within paragraph: %q", lines[1])
	}
}

func TestExtractDOCXMissingBody(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, _ := w.Create("word/other.xml")
	f.Write([]byte("<x/>"))
	w.Close()

	if _, err := ExtractText("report.docx", buf.Bytes()); err == nil {
		t.Error("expected error for archive without document body")
	}
}

func TestExtractDOCXInvalidArchive(t *testing.T) {
	if _, err := ExtractText("report.docx", []byte("not a zip")); err == nil {
		t.Error("expected error for invalid archive")
	}
}
