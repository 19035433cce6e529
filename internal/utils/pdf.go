package utils

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

const (
	// MaxPDFPages limits the number of pages to process
	MaxPDFPages = 50

	// MaxExtractedTextSize limits the extracted text size (256KB):
	// resource text is embedded into prompts, so it must stay small.
	MaxExtractedTextSize = 256 * 1024
)

// ExtractPDFText extracts plain text from an uploaded PDF for use as a
// template resource.
func ExtractPDFText(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	totalPages := pdfReader.NumPage()
	if totalPages == 0 {
		return "", fmt.Errorf("PDF has no pages")
	}
	if totalPages > MaxPDFPages {
		return "", fmt.Errorf("PDF has too many pages (%d), max allowed is %d", totalPages, MaxPDFPages)
	}

	var textBuilder strings.Builder
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := pdfReader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages with extraction errors, don't fail completely
			continue
		}

		cleaned := cleanPDFText(text)
		if cleaned != "" {
			textBuilder.WriteString(cleaned)
			textBuilder.WriteString("\n")
		}

		if textBuilder.Len() > MaxExtractedTextSize {
			break
		}
	}

	extracted := strings.TrimSpace(textBuilder.String())
	if extracted == "" {
		return "", fmt.Errorf("no extractable text in PDF")
	}
	if len(extracted) > MaxExtractedTextSize {
		extracted = extracted[:MaxExtractedTextSize]
	}

	return extracted, nil
}

// cleanPDFText removes null bytes and collapses whitespace runs.
func cleanPDFText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")

	var result strings.Builder
	lastWasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				if r == '\n' {
					result.WriteRune('\n')
				} else {
					result.WriteRune(' ')
				}
				lastWasSpace = true
			}
		} else {
			result.WriteRune(r)
			lastWasSpace = false
		}
	}

	return strings.TrimSpace(result.String())
}
