package types

import (
	"errors"
	"fmt"
)

// JobKind discriminates queue job payloads. Every job envelope carries its
// kind on the wire; consumers validate kind and shape before acting.
type JobKind string

// Job kinds, one per pipeline edge.
const (
	JobParse      JobKind = "parse"
	JobPolicy     JobKind = "policy"
	JobEmbed      JobKind = "embed"
	JobMultimodal JobKind = "multimodal"
)

// ErrJobKindMismatch is returned when a consumed payload declares a kind the
// consumer did not expect.
var ErrJobKindMismatch = errors.New("job kind mismatch")

// ParseJob is enqueued by the intake gateway for each accepted text-modality
// file on tenant:{id}:queue:parse.
type ParseJob struct {
	Kind        JobKind `msgpack:"kind"`
	FileID      string  `msgpack:"file_id"`
	BatchID     string  `msgpack:"batch_id"`
	SHA256      string  `msgpack:"sha256"`
	StoragePath string  `msgpack:"storage_path"`
	TenantID    string  `msgpack:"tenant_id"`
	MimeType    string  `msgpack:"mime_type"`
	Filename    string  `msgpack:"filename"`
}

// Validate checks the job shape on consume.
func (j *ParseJob) Validate() error {
	if j.Kind != JobParse {
		return fmt.Errorf("%w: got %q, want %q", ErrJobKindMismatch, j.Kind, JobParse)
	}
	if j.FileID == "" || j.TenantID == "" || j.StoragePath == "" || j.SHA256 == "" {
		return errors.New("parse job missing file_id, tenant_id, storage_path, or sha256")
	}
	return nil
}

// PolicyJob is enqueued by the parse worker on tenant:{id}:queue:policy.
type PolicyJob struct {
	Kind        JobKind `msgpack:"kind"`
	DocID       string  `msgpack:"doc_id"`
	FileID      string  `msgpack:"file_id"`
	TenantID    string  `msgpack:"tenant_id"`
	StoragePath string  `msgpack:"storage_path"` // normalized structured.json
	Filename    string  `msgpack:"filename"`
}

// Validate checks the job shape on consume.
func (j *PolicyJob) Validate() error {
	if j.Kind != JobPolicy {
		return fmt.Errorf("%w: got %q, want %q", ErrJobKindMismatch, j.Kind, JobPolicy)
	}
	if j.DocID == "" || j.TenantID == "" || j.StoragePath == "" {
		return errors.New("policy job missing doc_id, tenant_id, or storage_path")
	}
	return nil
}

// EmbedJob is enqueued by the policy engine on tenant:{id}:queue:embedding.
// Chunks carries only the chunks that survived all gates.
type EmbedJob struct {
	Kind        JobKind         `msgpack:"kind"`
	DocID       string          `msgpack:"doc_id"`
	FileID      string          `msgpack:"file_id"`
	TenantID    string          `msgpack:"tenant_id"`
	StoragePath string          `msgpack:"storage_path"`
	Chunks      []EnrichedChunk `msgpack:"chunks"`
}

// Validate checks the job shape on consume.
func (j *EmbedJob) Validate() error {
	if j.Kind != JobEmbed {
		return fmt.Errorf("%w: got %q, want %q", ErrJobKindMismatch, j.Kind, JobEmbed)
	}
	if j.DocID == "" || j.TenantID == "" {
		return errors.New("embed job missing doc_id or tenant_id")
	}
	if len(j.Chunks) == 0 {
		return errors.New("embed job has no chunks")
	}
	return nil
}

// MultimodalJob is enqueued on the global multimodal:jobs queue for
// image/audio/video files. StoragePath points at the raw object; the worker
// fetches bytes from the object store rather than carrying them inline.
type MultimodalJob struct {
	Kind        JobKind `msgpack:"kind"`
	JobID       string  `msgpack:"job_id"`
	DocumentID  string  `msgpack:"document_id"`
	TenantID    string  `msgpack:"tenant_id"`
	Filename    string  `msgpack:"filename"`
	StoragePath string  `msgpack:"storage_path"`
	SHA256      string  `msgpack:"sha256"`
}

// Validate checks the job shape on consume.
func (j *MultimodalJob) Validate() error {
	if j.Kind != JobMultimodal {
		return fmt.Errorf("%w: got %q, want %q", ErrJobKindMismatch, j.Kind, JobMultimodal)
	}
	if j.DocumentID == "" || j.TenantID == "" || j.Filename == "" || j.StoragePath == "" {
		return errors.New("multimodal job missing document_id, tenant_id, filename, or storage_path")
	}
	return nil
}
