package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ElementType classifies a chunk's source element. The set is closed.
type ElementType string

// Canonical element types.
const (
	ElementParagraph     ElementType = "paragraph"
	ElementTable         ElementType = "table"
	ElementHeading       ElementType = "heading"
	ElementListItem      ElementType = "list_item"
	ElementFigureCaption ElementType = "figure_caption"
)

// ValidElementType reports whether t is in the closed element-type set.
func ValidElementType(t ElementType) bool {
	switch t {
	case ElementParagraph, ElementTable, ElementHeading, ElementListItem, ElementFigureCaption:
		return true
	}
	return false
}

// ChunkMetadata carries optional section context for a chunk.
type ChunkMetadata struct {
	SectionTitle string `json:"section_title,omitempty"`
	HeadingLevel int    `json:"heading_level,omitempty"`
}

// Chunk is a contiguous span of document text: the unit of policy
// evaluation and embedding.
type Chunk struct {
	ChunkID     string        `json:"chunk_id"`
	Text        string        `json:"text"`
	Page        int           `json:"page"`
	StartChar   int           `json:"start_char"`
	EndChar     int           `json:"end_char"`
	ElementType ElementType   `json:"element_type"`
	Metadata    ChunkMetadata `json:"metadata"`
}

// Lineage records provenance for a parsed document so a later reparse can be
// detected and downstream data invalidated.
type Lineage struct {
	RawSHA256          string    `json:"raw_sha256"`
	PartitionerVersion string    `json:"partitioner_version"`
	ChunkerVersion     string    `json:"chunker_version"`
	ParseTimestamp     time.Time `json:"parse_timestamp"`
}

// Stats summarizes a parsed document.
type Stats struct {
	PageCount       int `json:"page_count"`
	SectionCount    int `json:"section_count"`
	TableCount      int `json:"table_count"`
	FigureCount     int `json:"figure_count"`
	ChunkCount      int `json:"chunk_count"`
	TotalCharacters int `json:"total_characters"`
}

// CanonicalDocument is the post-parse representation of a document as an
// ordered list of typed chunks with stable identifiers. Serialized to
// normalized/{tenant_id}/{doc_id}/structured.json in the object store.
type CanonicalDocument struct {
	DocID    string  `json:"doc_id"`
	FileID   string  `json:"file_id"`
	TenantID string  `json:"tenant_id"`
	Chunks   []Chunk `json:"chunks"`
	Lineage  Lineage `json:"lineage"`
	Stats    Stats   `json:"stats"`
}

// Validate checks the canonical document invariants:
// non-empty chunks, unique chunk ids, non-empty chunk text,
// start_char < end_char, element types in the closed set.
func (d *CanonicalDocument) Validate() error {
	if d.DocID == "" || d.FileID == "" || d.TenantID == "" {
		return fmt.Errorf("doc_id, file_id, and tenant_id must be non-empty")
	}
	if len(d.Chunks) == 0 {
		return fmt.Errorf("document %s has no chunks", d.DocID)
	}
	seen := make(map[string]struct{}, len(d.Chunks))
	for _, c := range d.Chunks {
		if c.Text == "" {
			return fmt.Errorf("chunk %s has empty text", c.ChunkID)
		}
		if c.StartChar >= c.EndChar {
			return fmt.Errorf("chunk %s has start_char %d >= end_char %d", c.ChunkID, c.StartChar, c.EndChar)
		}
		if !ValidElementType(c.ElementType) {
			return fmt.Errorf("chunk %s has unknown element type %q", c.ChunkID, c.ElementType)
		}
		if _, dup := seen[c.ChunkID]; dup {
			return fmt.Errorf("duplicate chunk id %s in document %s", c.ChunkID, d.DocID)
		}
		seen[c.ChunkID] = struct{}{}
	}
	return nil
}

// DocID derives the deterministic document id from a file id:
// "doc_" + first 12 hex of SHA-256(file_id).
func DocID(fileID string) string {
	sum := sha256.Sum256([]byte(fileID))
	return "doc_" + hex.EncodeToString(sum[:])[:12]
}

// ChunkID derives the deterministic chunk id from its coordinates:
// "chk_" + first 12 hex of SHA-256("docID|page|start|end").
func ChunkID(docID string, page, start, end int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%d|%d", docID, page, start, end))
	return "chk_" + hex.EncodeToString(sum[:])[:12]
}
