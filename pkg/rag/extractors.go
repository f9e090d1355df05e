package rag

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// documentExtensions are formats that need a binary extractor before
// chunking. Everything else is treated as plain text.
var documentExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".xlsx": true,
}

// ExtractText reads a file and returns its textual content. PDF, DOCX
// and XLSX files go through format-specific extractors; other files are
// read verbatim. Binary files return ErrBinaryFile.
func ExtractText(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return extractPDF(ctx, path)
	case ".docx":
		return extractDocx(path)
	case ".xlsx":
		return extractXlsx(ctx, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if isBinary(data) {
		return "", ErrBinaryFile
	}
	return string(data), nil
}

// ErrBinaryFile marks files that carry no indexable text.
var ErrBinaryFile = fmt.Errorf("binary file")

// isBinary applies the same heuristic git uses: a NUL byte in the
// first 8000 bytes, or content that is not valid UTF-8.
func isBinary(data []byte) bool {
	probe := data
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	if bytes.IndexByte(probe, 0) >= 0 {
		return true
	}
	return !utf8.Valid(probe)
}

func extractPDF(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer file.Close()

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", pageNum, text))
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

func extractDocx(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse Word document: %w", err)
	}
	defer doc.Close()

	return doc.Editable().GetContent(), nil
}

func extractXlsx(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse Excel document: %w", err)
	}
	defer f.Close()

	const maxCells = 1000

	var parts []string
	for _, sheetName := range f.GetSheetList() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		var sheetText strings.Builder
		sheetText.WriteString(fmt.Sprintf("--- Sheet: %s ---\n", sheetName))

		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}

		cellCount := 0
		for rowIndex, row := range rows {
			if cellCount >= maxCells {
				sheetText.WriteString("... (truncated)\n")
				break
			}
			for colIndex, cell := range row {
				if cellCount >= maxCells {
					break
				}
				if text := strings.TrimSpace(cell); text != "" {
					sheetText.WriteString(fmt.Sprintf("%s%d: %s\n", columnLetter(colIndex), rowIndex+1, text))
					cellCount++
				}
			}
		}

		if text := strings.TrimSpace(sheetText.String()); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

// columnLetter converts a 0-based column index to an Excel column
// letter (A, B, ..., Z, AA, AB, ...).
func columnLetter(index int) string {
	result := ""
	for {
		result = string(rune('A'+index%26)) + result
		index = index/26 - 1
		if index < 0 {
			break
		}
	}
	return result
}
