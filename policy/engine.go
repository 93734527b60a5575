// Package policy runs the governance gates over parsed documents.
//
// Three gates run in order on every chunk: Gate 1 detects PII and applies
// the tenant's REDACT/FLAG/BLOCK policy, Gate 2 classifies the document
// once from a leading sample, Gate 3 scores prompt-injection risk. Chunks
// that survive all gates come out annotated with policy metadata; blocked
// and quarantined chunks never reach the embedding queue.
package policy

import (
	"strings"

	"github.com/oxbow-systems/sluice/tenantconf"
	"github.com/oxbow-systems/sluice/types"
)

// Classification sampling: the first few chunks, capped by byte length.
const (
	sampleChunks    = 5
	sampleByteLimit = 3000
)

// Outcome is the per-document result of running all gates.
type Outcome struct {
	// Passing holds the chunks that survived every gate, annotated.
	Passing []types.EnrichedChunk
	// QuarantinedCount counts chunks dropped by BLOCK or quarantine.
	QuarantinedCount int
	// DocumentBlocked is true when Gate 1 BLOCK hit any chunk.
	DocumentBlocked bool
	// Classification is the Gate 2 result, recorded even when no chunk
	// passes.
	Classification string
	Confidence     float64
}

// RunGates evaluates every chunk of a document against the three gates.
//
// With per_document_quarantine enabled, a single injection-quarantined
// chunk drops the whole document.
func RunGates(doc *types.CanonicalDocument, cfg *tenantconf.Config, originalFilename string) Outcome {
	sample := classificationSample(doc.Chunks)
	classification, confidence := Classify(sample, originalFilename, cfg)

	out := Outcome{
		Classification: classification,
		Confidence:     confidence,
	}
	anyInjectionQuarantined := false

	for _, chunk := range doc.Chunks {
		text := chunk.Text

		g1 := Gate1PII(text, cfg)
		if g1.Blocked {
			out.DocumentBlocked = true
			out.QuarantinedCount++
			continue
		}
		if g1.Modified {
			text = g1.ModifiedText
		}

		g3 := Gate3Injection(text, cfg)
		if g3.Quarantined {
			out.QuarantinedCount++
			anyInjectionQuarantined = true
			continue
		}

		out.Passing = append(out.Passing, types.EnrichedChunk{
			ChunkID:  chunk.ChunkID,
			DocID:    doc.DocID,
			TenantID: doc.TenantID,
			Text:     text,
			Metadata: types.PolicyMetadata{
				PIIScanResult:            g1.ScanResult,
				PIITypesFound:            g1.TypesFound,
				PIIActionTaken:           g1.ActionTaken,
				Classification:           classification,
				ClassificationConfidence: confidence,
				ClassifierVersion:        types.ClassifierVersion,
				InjectionScore:           g3.Score,
				InjectionPatternsMatched: g3.PatternsMatched,
				InjectionActionTaken:     g3.Action,
			},
			Offsets: types.ChunkOffsets{
				Page:      chunk.Page,
				StartChar: chunk.StartChar,
				EndChar:   chunk.EndChar,
			},
			ElementType:  chunk.ElementType,
			SectionTitle: chunk.Metadata.SectionTitle,
		})
	}

	if cfg.PerDocumentQuarantine && anyInjectionQuarantined {
		out.Passing = nil
		out.QuarantinedCount = len(doc.Chunks)
	}
	return out
}

func classificationSample(chunks []types.Chunk) string {
	parts := make([]string, 0, sampleChunks)
	for i, c := range chunks {
		if i >= sampleChunks {
			break
		}
		parts = append(parts, c.Text)
	}
	return truncate(strings.Join(parts, " "), sampleByteLimit)
}
