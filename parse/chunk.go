package parse

import (
	"strings"

	"github.com/oxbow-systems/sluice/types"
)

// Chunker limits. A chunk never exceeds MaxCharacters; a chunk that grows
// past SoftCut closes after the current element; adjacent small chunks
// under CombineUnder within the same section merge.
const (
	MaxCharacters = 1500
	SoftCut       = 1200
	CombineUnder  = 400
)

// Draft is a chunk under construction, before offsets and ids.
type Draft struct {
	Text         string
	Page         int
	ElementType  types.ElementType
	SectionTitle string
}

// ChunkByTitle groups elements into chunks along section boundaries.
// Headings start a new section and a new chunk; tables stay alone in their
// chunk; oversized elements hard-split at word boundaries.
func ChunkByTitle(elements []Element) []Draft {
	var (
		chunks  []Draft
		current *Draft
		section string
	)
	flush := func() {
		if current != nil && strings.TrimSpace(current.Text) != "" {
			chunks = append(chunks, *current)
		}
		current = nil
	}
	open := func(el Element) {
		current = &Draft{
			Text:         el.Text,
			Page:         el.Page,
			ElementType:  el.Type,
			SectionTitle: section,
		}
	}

	for _, el := range elements {
		for _, piece := range splitOversized(el.Text) {
			part := el
			part.Text = piece

			switch {
			case part.Type == types.ElementHeading:
				flush()
				section = truncateRunes(part.Text, 200)
				open(part)
			case part.Type == types.ElementTable:
				// Tables do not share a chunk with prose.
				flush()
				open(part)
				flush()
			case current == nil:
				open(part)
			case current.ElementType == types.ElementTable,
				len(current.Text)+2+len(part.Text) > MaxCharacters,
				current.Page != part.Page && len(current.Text) >= CombineUnder:
				flush()
				open(part)
			default:
				current.Text += "\n\n" + part.Text
				if current.ElementType == types.ElementHeading {
					// A section's body type labels the chunk, not its
					// heading.
					current.ElementType = part.Type
				}
			}

			if current != nil && len(current.Text) >= SoftCut {
				flush()
			}
		}
	}
	flush()
	return combineSmall(chunks)
}

// combineSmall merges adjacent chunks under the combine threshold when they
// share a section and page, mirroring the soft-cut in reverse.
func combineSmall(chunks []Draft) []Draft {
	if len(chunks) == 0 {
		return chunks
	}
	out := chunks[:1]
	for _, c := range chunks[1:] {
		prev := &out[len(out)-1]
		if prev.SectionTitle == c.SectionTitle &&
			prev.Page == c.Page &&
			prev.ElementType != types.ElementTable &&
			c.ElementType != types.ElementTable &&
			len(prev.Text) < CombineUnder &&
			len(prev.Text)+2+len(c.Text) <= MaxCharacters {
			prev.Text += "\n\n" + c.Text
			if prev.ElementType == types.ElementHeading {
				prev.ElementType = c.ElementType
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

// splitOversized hard-splits text exceeding MaxCharacters, preferring word
// boundaries.
func splitOversized(text string) []string {
	if len(text) <= MaxCharacters {
		return []string{text}
	}
	var pieces []string
	for len(text) > MaxCharacters {
		cut := MaxCharacters
		if i := strings.LastIndexByte(text[:MaxCharacters], ' '); i > MaxCharacters/2 {
			cut = i
		}
		pieces = append(pieces, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
