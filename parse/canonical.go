package parse

import (
	"time"

	"github.com/oxbow-systems/sluice/types"
)

// BuildDocument assembles a canonical structured document from raw bytes:
// partition, chunk, then derive deterministic ids, offsets, lineage, and
// stats. The output validates against the canonical invariants before it is
// returned.
func BuildDocument(data []byte, mimeType, fileID, tenantID, sha256 string) (*types.CanonicalDocument, error) {
	elements, err := Partition(data, mimeType)
	if err != nil {
		return nil, err
	}

	drafts := ChunkByTitle(elements)
	if len(drafts) == 0 {
		return nil, newError(types.CodeParserError, "no content extracted")
	}

	docID := types.DocID(fileID)
	doc := &types.CanonicalDocument{
		DocID:    docID,
		FileID:   fileID,
		TenantID: tenantID,
		Lineage: types.Lineage{
			RawSHA256:          sha256,
			PartitionerVersion: types.PartitionerVersion,
			ChunkerVersion:     types.ChunkerVersion,
			ParseTimestamp:     time.Now().UTC(),
		},
	}

	offset := 0
	pages := make(map[int]struct{})
	sections := make(map[string]struct{})
	totalChars := 0
	for _, d := range drafts {
		start := offset
		end := offset + len(d.Text)
		offset = end
		totalChars += len(d.Text)
		pages[d.Page] = struct{}{}
		if d.SectionTitle != "" {
			sections[d.SectionTitle] = struct{}{}
		}

		doc.Chunks = append(doc.Chunks, types.Chunk{
			ChunkID:     types.ChunkID(docID, d.Page, start, end),
			Text:        d.Text,
			Page:        d.Page,
			StartChar:   start,
			EndChar:     end,
			ElementType: d.ElementType,
			Metadata:    types.ChunkMetadata{SectionTitle: d.SectionTitle},
		})
	}

	tables, figures := 0, 0
	for _, c := range doc.Chunks {
		switch c.ElementType {
		case types.ElementTable:
			tables++
		case types.ElementFigureCaption:
			figures++
		}
	}
	doc.Stats = types.Stats{
		PageCount:       len(pages),
		SectionCount:    len(sections),
		TableCount:      tables,
		FigureCount:     figures,
		ChunkCount:      len(doc.Chunks),
		TotalCharacters: totalChars,
	}

	if err := doc.Validate(); err != nil {
		return nil, newError(types.CodeParserError, "canonical document invalid: %v", err)
	}
	return doc, nil
}
