package rag

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// AllowedExtensions lists the file types the pipeline accepts.
var AllowedExtensions = map[string]bool{
	"pdf":  true,
	"txt":  true,
	"docx": true,
	"doc":  true,
	"md":   true,
}

// FileExtension returns the lowercase extension of a filename without the dot.
func FileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// ExtractText extracts plain text from a document based on its extension.
// Returns ErrUnsupportedType for unknown extensions and ErrEmptyDocument
// when extraction yields no text.
func ExtractText(filename string, data []byte) (string, error) {
	ext := FileExtension(filename)

	var text string
	var err error

	switch ext {
	case "pdf":
		text, err = extractPDF(data)
	case "docx", "doc":
		text, err = extractDOCX(data)
	case "txt", "md":
		text = string(data)
	default:
		return "", fmt.Errorf("%w: .%s", ErrUnsupportedType, ext)
	}

	if err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyDocument
	}

	return text, nil
}

// extractPDF extracts text from a PDF page by page.
func extractPDF(data []byte) (string, error) {
	// go-fitz works from a file path.
	tmpFile, err := os.CreateTemp("", "extract-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	tmpFile.Close()

	doc, err := fitz.New(tmpPath)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	var pages []string
	for i := 0; i < doc.NumPage(); i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("failed to extract page %d: %w", i+1, err)
		}
		pages = append(pages, pageText)
	}

	return strings.Join(pages, "\n"), nil
}

// docxBody mirrors the parts of word/document.xml we care about. Paragraphs
// hold runs, runs hold text nodes.
type docxBody struct {
	Paragraphs []struct {
		Runs []struct {
			Text string `xml:"t"`
		} `xml:"r"`
	} `xml:"body>p"`
}

// extractDOCX extracts paragraph text from a DOCX archive.
func extractDOCX(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open document archive: %w", err)
	}

	var docFile *zip.File
	for _, f := range reader.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("document archive has no word/document.xml")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open document body: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read document body: %w", err)
	}

	var body docxBody
	if err := xml.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("failed to parse document body: %w", err)
	}

	var paragraphs []string
	for _, p := range body.Paragraphs {
		var sb strings.Builder
		for _, r := range p.Runs {
			sb.WriteString(r.Text)
		}
		if line := sb.String(); strings.TrimSpace(line) != "" {
			paragraphs = append(paragraphs, line)
		}
	}

	return strings.Join(paragraphs, "\n"), nil
}
