package indexer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// AttachmentText extracts indexable text from an uploaded attachment.
// PDF bytes are parsed page by page; anything else is treated as plain text.
func AttachmentText(contentType string, data []byte) (string, error) {
	if contentType == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF-")) {
		return pdfText(data)
	}
	return string(data), nil
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extracting text from page %d: %w", pageNum, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("pdf contains no extractable text")
	}
	return out, nil
}
