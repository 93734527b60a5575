package multimodal

import (
	"context"
	"fmt"

	"github.com/oxbow-systems/sluice/blob"
	"github.com/oxbow-systems/sluice/embed"
	"github.com/oxbow-systems/sluice/intake"
	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/types"
	"github.com/oxbow-systems/sluice/vector"
)

// FrameRate is the video sampling rate in frames per second.
const FrameRate = 1

// Chunk kinds indexed by the multimodal pipeline.
const (
	KindImageText      = "image_text"
	KindImageEmbedding = "image_embedding"
	KindAudioTranscript = "audio_transcript"
	KindVideoTranscript = "video_transcript"
	KindVideoFrameText = "video_frame_text"
	KindVideoFrame     = "video_frame_embedding"
)

// Blobs is the object-store surface the processor reads from.
type Blobs interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Vectors is the indexing surface the processor writes to.
type Vectors interface {
	Upsert(ctx context.Context, collection string, points []vector.Point) error
}

var (
	_ Blobs   = (*blob.Store)(nil)
	_ Vectors = (*vector.Store)(nil)
)

// Outcome summarizes what one job indexed.
type Outcome struct {
	Modality    intake.Modality
	TextPoints  int
	ImagePoints int
}

// Processor turns multimodal jobs into indexed vectors. Text-modality
// content (OCR, transcripts) goes into the tenant's text collection at
// 768 dimensions; visual embeddings go into the parallel image collection
// at 512 dimensions.
type Processor struct {
	blobs       Blobs
	vectors     Vectors
	text        embed.Client
	visual      Visual
	ocr         OCR
	transcriber Transcriber
	frames      FrameExtractor
	logger      *log.Logger
}

// NewProcessor builds a multimodal processor.
func NewProcessor(blobs Blobs, vectors Vectors, text embed.Client, visual Visual, ocr OCR, transcriber Transcriber, frames FrameExtractor, logger *log.Logger) *Processor {
	return &Processor{
		blobs:       blobs,
		vectors:     vectors,
		text:        text,
		visual:      visual,
		ocr:         ocr,
		transcriber: transcriber,
		frames:      frames,
		logger:      logger,
	}
}

// textDraft is a text chunk awaiting embedding.
type textDraft struct {
	chunkID string
	kind    string
	text    string
	payload map[string]any
}

// Process fetches the raw object and runs the modality-specific flow. Any
// model or storage failure fails the whole job; the worker records the
// failure and marks the document failed.
func (p *Processor) Process(ctx context.Context, job *types.MultimodalJob) (*Outcome, error) {
	data, err := p.blobs.Get(ctx, job.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("multimodal: fetch %s: %w", job.StoragePath, err)
	}

	modality := intake.DetectModality(job.Filename)
	var drafts []textDraft
	var imagePoints []vector.Point

	switch modality {
	case intake.ModalityImage:
		drafts, imagePoints, err = p.processImage(ctx, job, data)
	case intake.ModalityAudio:
		drafts, err = p.processAudio(ctx, job, data)
	case intake.ModalityVideo:
		drafts, imagePoints, err = p.processVideo(ctx, job, data)
	default:
		return nil, fmt.Errorf("multimodal: %q is not an image, audio, or video file", job.Filename)
	}
	if err != nil {
		return nil, err
	}

	textPoints, err := p.embedDrafts(ctx, job, drafts)
	if err != nil {
		return nil, err
	}

	if len(textPoints) > 0 {
		if err := p.vectors.Upsert(ctx, vector.TextCollection(job.TenantID), textPoints); err != nil {
			return nil, fmt.Errorf("multimodal: index text points: %w", err)
		}
	}
	if len(imagePoints) > 0 {
		if err := p.vectors.Upsert(ctx, vector.ImageCollection(job.TenantID), imagePoints); err != nil {
			return nil, fmt.Errorf("multimodal: index image points: %w", err)
		}
	}

	return &Outcome{
		Modality:    modality,
		TextPoints:  len(textPoints),
		ImagePoints: len(imagePoints),
	}, nil
}

func (p *Processor) processImage(ctx context.Context, job *types.MultimodalJob, data []byte) ([]textDraft, []vector.Point, error) {
	var drafts []textDraft
	ocrText, err := p.ocr.ExtractText(ctx, data)
	if err != nil {
		return nil, nil, fmt.Errorf("multimodal: ocr %s: %w", job.Filename, err)
	}
	if ocrText != "" {
		drafts = append(drafts, p.draft(job, KindImageText, ocrText, nil))
	}

	point, err := p.visualPoint(ctx, job, KindImageEmbedding, data, nil)
	if err != nil {
		return nil, nil, err
	}
	return drafts, []vector.Point{point}, nil
}

func (p *Processor) processAudio(ctx context.Context, job *types.MultimodalJob, data []byte) ([]textDraft, error) {
	transcript, err := p.transcriber.Transcribe(ctx, data, job.Filename)
	if err != nil {
		return nil, fmt.Errorf("multimodal: transcribe %s: %w", job.Filename, err)
	}
	if transcript == "" {
		return nil, fmt.Errorf("multimodal: empty transcript for %s", job.Filename)
	}
	return []textDraft{p.draft(job, KindAudioTranscript, transcript, nil)}, nil
}

func (p *Processor) processVideo(ctx context.Context, job *types.MultimodalJob, data []byte) ([]textDraft, []vector.Point, error) {
	track, err := p.frames.AudioTrack(ctx, data)
	if err != nil {
		return nil, nil, err
	}
	transcript, err := p.transcriber.Transcribe(ctx, track, job.Filename)
	if err != nil {
		return nil, nil, fmt.Errorf("multimodal: transcribe %s: %w", job.Filename, err)
	}

	var drafts []textDraft
	if transcript != "" {
		drafts = append(drafts, p.draft(job, KindVideoTranscript, transcript, nil))
	}

	frames, err := p.frames.Frames(ctx, data, FrameRate)
	if err != nil {
		return nil, nil, err
	}

	var imagePoints []vector.Point
	for i, frame := range frames {
		// Sampled at FrameRate fps, frame index is the timestamp in seconds.
		ts := i / FrameRate

		frameText, err := p.ocr.ExtractText(ctx, frame)
		if err != nil {
			return nil, nil, fmt.Errorf("multimodal: ocr frame %d of %s: %w", i, job.Filename, err)
		}
		if frameText != "" {
			drafts = append(drafts, p.draft(job, fmt.Sprintf("%s_%d", KindVideoFrameText, i), frameText,
				map[string]any{"kind": KindVideoFrameText, "timestamp_seconds": ts}))
		}

		point, err := p.visualPoint(ctx, job, fmt.Sprintf("%s_%d", KindVideoFrame, i), frame,
			map[string]any{"kind": KindVideoFrame, "timestamp_seconds": ts})
		if err != nil {
			return nil, nil, err
		}
		imagePoints = append(imagePoints, point)
	}
	return drafts, imagePoints, nil
}

// draft builds a text chunk. The payload override lets frame chunks carry a
// timestamp while keeping their per-frame chunk id suffix.
func (p *Processor) draft(job *types.MultimodalJob, kind, text string, payload map[string]any) textDraft {
	chunkID := fmt.Sprintf("%s_%s", job.DocumentID, kind)
	base := map[string]any{
		"doc_id":    job.DocumentID,
		"chunk_id":  chunkID,
		"tenant_id": job.TenantID,
		"filename":  job.Filename,
		"kind":      kind,
		"text":      text,
	}
	for k, v := range payload {
		base[k] = v
	}
	return textDraft{chunkID: chunkID, kind: kind, text: text, payload: base}
}

func (p *Processor) visualPoint(ctx context.Context, job *types.MultimodalJob, kind string, image []byte, payload map[string]any) (vector.Point, error) {
	vec, err := p.visual.EmbedImage(ctx, image)
	if err != nil {
		return vector.Point{}, fmt.Errorf("multimodal: visual embed %s: %w", job.Filename, err)
	}
	if len(vec) != p.visual.Dimensions() {
		return vector.Point{}, fmt.Errorf("%w: visual endpoint returned %d dims, want %d",
			vector.ErrDimensionMismatch, len(vec), p.visual.Dimensions())
	}
	chunkID := fmt.Sprintf("%s_%s", job.DocumentID, kind)
	base := map[string]any{
		"doc_id":    job.DocumentID,
		"chunk_id":  chunkID,
		"tenant_id": job.TenantID,
		"filename":  job.Filename,
		"kind":      kind,
	}
	for k, v := range payload {
		base[k] = v
	}
	return vector.Point{
		ID:      vector.PointID(chunkID),
		ChunkID: chunkID,
		DocID:   job.DocumentID,
		Vector:  vec,
		Payload: base,
	}, nil
}

func (p *Processor) embedDrafts(ctx context.Context, job *types.MultimodalJob, drafts []textDraft) ([]vector.Point, error) {
	if len(drafts) == 0 {
		return nil, nil
	}
	texts := make([]string, len(drafts))
	for i, d := range drafts {
		texts[i] = d.text
	}
	vectors, err := p.text.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("multimodal: text embed: %w", err)
	}
	points := make([]vector.Point, len(drafts))
	for i, d := range drafts {
		if len(vectors[i]) != p.text.Dimensions() {
			return nil, fmt.Errorf("%w: text endpoint returned %d dims, want %d",
				vector.ErrDimensionMismatch, len(vectors[i]), p.text.Dimensions())
		}
		points[i] = vector.Point{
			ID:      vector.PointID(d.chunkID),
			ChunkID: d.chunkID,
			DocID:   job.DocumentID,
			Vector:  vectors[i],
			Payload: d.payload,
		}
	}
	return points, nil
}
