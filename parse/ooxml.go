package parse

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/oxbow-systems/sluice/iox"
	"github.com/oxbow-systems/sluice/types"
)

func openZipEntry(archive *zip.Reader, name string) ([]byte, error) {
	for _, f := range archive.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer iox.DiscardClose(rc)
		return io.ReadAll(rc)
	}
	return nil, nil
}

// partitionDOCX walks word/document.xml, mapping styled paragraphs onto
// typed elements and w:tbl blocks onto table elements.
func partitionDOCX(data []byte) ([]Element, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, newError(types.CodeFileCorrupted, "not a DOCX archive: %v", err)
	}
	doc, err := openZipEntry(archive, "word/document.xml")
	if err != nil {
		return nil, newError(types.CodeFileCorrupted, "cannot read document.xml: %v", err)
	}
	if doc == nil {
		return nil, newError(types.CodeFileCorrupted, "document.xml missing")
	}

	decoder := xml.NewDecoder(bytes.NewReader(doc))
	var (
		elements  []Element
		paraText  strings.Builder
		paraStyle string
		inText    bool
		tableDepth int
		tableRows []string
		rowCells  []string
		cellText  strings.Builder
	)

	flushPara := func() {
		text := strings.TrimSpace(paraText.String())
		paraText.Reset()
		style := paraStyle
		paraStyle = ""
		if text == "" {
			return
		}
		elemType := types.ElementParagraph
		switch {
		case strings.HasPrefix(style, "Heading"), style == "Title":
			elemType = types.ElementHeading
		case style == "ListParagraph":
			elemType = types.ElementListItem
		case style == "Caption":
			elemType = types.ElementFigureCaption
		}
		elements = append(elements, Element{Type: elemType, Text: text, Page: 1})
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newError(types.CodeFileCorrupted, "malformed document.xml: %v", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "tr":
				if tableDepth > 0 {
					rowCells = nil
				}
			case "tc":
				if tableDepth > 0 {
					cellText.Reset()
				}
			case "pStyle":
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						paraStyle = attr.Value
					}
				}
			case "t":
				inText = true
			case "tab":
				if inTable := tableDepth > 0; inTable {
					cellText.WriteString("\t")
				} else {
					paraText.WriteString("\t")
				}
			case "br":
				if tableDepth > 0 {
					cellText.WriteString(" ")
				} else {
					paraText.WriteString(" ")
				}
			}
		case xml.CharData:
			if inText {
				if tableDepth > 0 {
					cellText.Write(t)
				} else {
					paraText.Write(t)
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if tableDepth == 0 {
					flushPara()
				} else {
					cellText.WriteString(" ")
				}
			case "tc":
				if tableDepth > 0 {
					rowCells = append(rowCells, strings.TrimSpace(cellText.String()))
				}
			case "tr":
				if tableDepth > 0 && len(rowCells) > 0 {
					tableRows = append(tableRows, strings.Join(rowCells, " | "))
				}
			case "tbl":
				tableDepth--
				if tableDepth == 0 && len(tableRows) > 0 {
					elements = append(elements, Element{
						Type: types.ElementTable,
						Text: strings.Join(tableRows, "\n"),
						Page: 1,
					})
					tableRows = nil
				}
			}
		}
	}
	return elements, nil
}

// partitionXLSX renders worksheet rows as table elements. Each sheet maps
// onto its own page number so chunk offsets stay sheet-local.
func partitionXLSX(data []byte) ([]Element, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, newError(types.CodeFileCorrupted, "not an XLSX archive: %v", err)
	}

	shared, err := readSharedStrings(archive)
	if err != nil {
		return nil, err
	}

	var sheetNames []string
	for _, f := range archive.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/sheet") && strings.HasSuffix(f.Name, ".xml") {
			sheetNames = append(sheetNames, f.Name)
		}
	}
	sort.Strings(sheetNames)
	if len(sheetNames) == 0 {
		return nil, newError(types.CodeFileCorrupted, "no worksheets found")
	}

	var elements []Element
	for sheetIdx, name := range sheetNames {
		content, err := openZipEntry(archive, name)
		if err != nil {
			return nil, newError(types.CodeFileCorrupted, "cannot read %s: %v", name, err)
		}
		rows, err := parseSheetRows(content, shared)
		if err != nil {
			return nil, err
		}
		for off := 0; off < len(rows); off += csvRowsPerElement {
			end := min(off+csvRowsPerElement, len(rows))
			elements = append(elements, Element{
				Type: types.ElementTable,
				Text: strings.Join(rows[off:end], "\n"),
				Page: sheetIdx + 1,
			})
		}
	}
	return elements, nil
}

func readSharedStrings(archive *zip.Reader) ([]string, error) {
	content, err := openZipEntry(archive, "xl/sharedStrings.xml")
	if err != nil {
		return nil, newError(types.CodeFileCorrupted, "cannot read shared strings: %v", err)
	}
	if content == nil {
		return nil, nil
	}

	decoder := xml.NewDecoder(bytes.NewReader(content))
	var (
		strs    []string
		current strings.Builder
		inSI    bool
		inT     bool
	)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newError(types.CodeFileCorrupted, "malformed shared strings: %v", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inSI = true
				current.Reset()
			case "t":
				inT = true
			}
		case xml.CharData:
			if inSI && inT {
				current.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "si":
				inSI = false
				strs = append(strs, current.String())
			}
		}
	}
	return strs, nil
}

func parseSheetRows(content []byte, shared []string) ([]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(content))
	var (
		rows     []string
		cells    []string
		cellType string
		inV      bool
		value    strings.Builder
	)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newError(types.CodeFileCorrupted, "malformed worksheet: %v", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				cells = nil
			case "c":
				cellType = ""
				for _, attr := range t.Attr {
					if attr.Name.Local == "t" {
						cellType = attr.Value
					}
				}
			case "v":
				inV = true
				value.Reset()
			}
		case xml.CharData:
			if inV {
				value.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v":
				inV = false
				cell := value.String()
				if cellType == "s" {
					if idx, err := strconv.Atoi(cell); err == nil && idx >= 0 && idx < len(shared) {
						cell = shared[idx]
					}
				}
				cells = append(cells, cell)
			case "row":
				if len(cells) > 0 {
					rows = append(rows, strings.Join(cells, " | "))
				}
			}
		}
	}
	return rows, nil
}
