// Package parse turns raw document bytes into canonical structured form.
//
// Parsing runs in three stages: a format-specific partitioner extracts typed
// elements (headings, paragraphs, list items, tables), the title chunker
// groups them into embedding-sized chunks along section boundaries, and
// canonical assembly derives deterministic identifiers, offsets, lineage,
// and stats. The same bytes always produce the same canonical document.
package parse

import (
	"fmt"
	"strings"

	"github.com/oxbow-systems/sluice/types"
)

// Element is one typed span extracted by a partitioner, in reading order.
type Element struct {
	Type types.ElementType
	Text string
	Page int
}

// Error is a typed parsing failure. Reason maps onto the processing error
// codes surfaced through audit events.
type Error struct {
	Reason  types.ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func newError(reason types.ErrorCode, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Partition extracts typed elements from raw bytes, dispatching on the
// sniffed MIME type. Unsupported types and empty extractions fail with a
// typed Error.
func Partition(data []byte, mimeType string) ([]Element, error) {
	base := mimeType
	if i := strings.Index(base, ";"); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSpace(strings.ToLower(base))

	var (
		elements []Element
		err      error
	)
	switch base {
	case "application/pdf":
		elements, err = partitionPDF(data)
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		elements, err = partitionDOCX(data)
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		elements, err = partitionXLSX(data)
	case "text/csv":
		elements, err = partitionCSV(data)
	case "text/plain", "text/markdown":
		elements, err = partitionText(data)
	default:
		return nil, newError(types.CodeParserError, "no partitioner for %q", mimeType)
	}
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, newError(types.CodeParserError, "no content extracted")
	}
	return elements, nil
}
