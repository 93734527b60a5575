package parse

import (
	"bytes"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/oxbow-systems/sluice/types"
)

// partitionPDF extracts per-page plain text and splits it into typed
// elements. Page numbers are real; heading detection reuses the plain-text
// heuristics.
func partitionPDF(data []byte) (elements []Element, err error) {
	// The pdf reader panics on some malformed inputs; surface those as
	// corruption instead of crashing the worker.
	defer func() {
		if r := recover(); r != nil {
			elements = nil
			err = newError(types.CodeFileCorrupted, "malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, newError(types.CodeFileCorrupted, "cannot open PDF: %v", err)
	}

	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not corrupt the document.
			continue
		}
		pageElements, _ := partitionText([]byte(normalizePDFText(text)))
		for _, el := range pageElements {
			el.Page = pageNum
			elements = append(elements, el)
		}
	}
	return elements, nil
}

// normalizePDFText rejoins extraction artifacts: single newlines inside a
// paragraph become spaces, runs of blank lines become block separators.
func normalizePDFText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var blocks []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, strings.TrimSpace(line))
	}
	flush()
	return strings.Join(blocks, "\n\n")
}
