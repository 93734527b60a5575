package parse

import (
	"bytes"
	"encoding/csv"
	"strings"
	"unicode"

	"github.com/oxbow-systems/sluice/types"
)

// partitionText splits plain text and markdown into typed elements. Blank
// lines separate blocks; short emphatic lines become headings, bullet and
// numbered lines become list items.
func partitionText(data []byte) ([]Element, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	var elements []Element
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		// A block of bullet lines yields one element per line.
		lines := strings.Split(block, "\n")
		if allListLines(lines) {
			for _, line := range lines {
				elements = append(elements, Element{
					Type: types.ElementListItem,
					Text: strings.TrimSpace(trimListMarker(line)),
					Page: 1,
				})
			}
			continue
		}
		joined := strings.Join(lines, " ")
		elemType := types.ElementParagraph
		if isHeadingLine(block) {
			elemType = types.ElementHeading
			joined = strings.TrimLeft(joined, "# ")
		}
		elements = append(elements, Element{Type: elemType, Text: joined, Page: 1})
	}
	return elements, nil
}

func allListLines(lines []string) bool {
	for _, line := range lines {
		if !isListLine(line) {
			return false
		}
	}
	return len(lines) > 0
}

func isListLine(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" {
		return false
	}
	if strings.HasPrefix(t, "- ") || strings.HasPrefix(t, "* ") || strings.HasPrefix(t, "• ") {
		return true
	}
	// "1. ", "2) "
	i := 0
	for i < len(t) && t[i] >= '0' && t[i] <= '9' {
		i++
	}
	return i > 0 && i < len(t) && (t[i] == '.' || t[i] == ')') && i+1 < len(t) && t[i+1] == ' '
}

func trimListMarker(line string) string {
	t := strings.TrimSpace(line)
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(t, prefix) {
			return t[len(prefix):]
		}
	}
	i := 0
	for i < len(t) && t[i] >= '0' && t[i] <= '9' {
		i++
	}
	if i > 0 && i < len(t) && (t[i] == '.' || t[i] == ')') {
		return strings.TrimSpace(t[i+1:])
	}
	return t
}

// isHeadingLine treats markdown headings and short, unterminated, emphatic
// single lines as headings.
func isHeadingLine(block string) bool {
	if strings.Contains(block, "\n") {
		return false
	}
	if strings.HasPrefix(block, "#") {
		return true
	}
	if len(block) > 80 || strings.HasSuffix(block, ".") || strings.HasSuffix(block, ",") {
		return false
	}
	letters, upper := 0, 0
	for _, r := range block {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return false
	}
	// All-caps lines, or title case with every word capitalized.
	if upper == letters {
		return true
	}
	words := strings.Fields(block)
	if len(words) > 8 {
		return false
	}
	for _, w := range words {
		r := []rune(w)
		if unicode.IsLetter(r[0]) && !unicode.IsUpper(r[0]) {
			return false
		}
	}
	return true
}

// csvRowsPerElement groups CSV rows so very large sheets do not produce one
// enormous table element.
const csvRowsPerElement = 50

// partitionCSV renders CSV rows as table elements, preserving the header
// row at the top of every group.
func partitionCSV(data []byte) ([]Element, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, newError(types.CodeFileCorrupted, "invalid CSV: %v", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := strings.Join(records[0], " | ")
	rows := records[1:]
	if len(rows) == 0 {
		return []Element{{Type: types.ElementTable, Text: header, Page: 1}}, nil
	}

	var elements []Element
	for off := 0; off < len(rows); off += csvRowsPerElement {
		end := min(off+csvRowsPerElement, len(rows))
		lines := make([]string, 0, end-off+1)
		lines = append(lines, header)
		for _, row := range rows[off:end] {
			lines = append(lines, strings.Join(row, " | "))
		}
		elements = append(elements, Element{
			Type: types.ElementTable,
			Text: strings.Join(lines, "\n"),
			Page: 1,
		})
	}
	return elements, nil
}
