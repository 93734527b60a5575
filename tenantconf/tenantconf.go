// Package tenantconf defines the per-tenant configuration bag.
//
// The bag is stored as raw JSON on the tenant record and validated against
// a closed JSON Schema before any write: unknown keys are rejected rather
// than silently carried. Parsing overlays the bag onto defaults, so a tenant
// only states what it overrides.
package tenantconf

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/oxbow-systems/sluice/types"
)

// Defaults.
const (
	DefaultMaxFileSizeMB           = 500
	DefaultClassificationThreshold = 0.7
	DefaultInjectionFlagThreshold  = 0.3
	DefaultInjectionQuarantine     = 0.7
)

// DefaultMimeAllowlist is the default intake allowlist. Every admitted file
// must sniff to one of these types regardless of modality; tenants that take
// audio or video add those types to their own allowlist.
var DefaultMimeAllowlist = []string{
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"text/plain",
	"text/csv",
	"image/png",
	"image/tiff",
}

// Config is the parsed per-tenant configuration.
type Config struct {
	MaxFileSizeMB           int             `json:"max_file_size_mb"`
	MimeAllowlist           []string        `json:"mime_allowlist"`
	MetadataSchema          json.RawMessage `json:"metadata_schema"`
	PIIPolicy               types.PIIPolicy `json:"pii_policy"`
	PIITypes                []types.PIICode `json:"pii_types"`
	ClassificationThreshold float64         `json:"classification_threshold"`
	InjectionFlagThreshold  float64         `json:"injection_flag_threshold"`
	InjectionQuarantine     float64         `json:"injection_quarantine_threshold"`
	PerDocumentQuarantine   bool            `json:"per_document_quarantine"`
	RateLimit               int             `json:"rate_limit"` // 0 inherits the process default

	metadataSchema *jsonschema.Schema
}

// Defaults returns the baseline tenant configuration.
func Defaults() *Config {
	return &Config{
		MaxFileSizeMB:           DefaultMaxFileSizeMB,
		MimeAllowlist:           append([]string(nil), DefaultMimeAllowlist...),
		PIIPolicy:               types.PIIFlag,
		PIITypes:                append([]types.PIICode(nil), types.DefaultPIITypes...),
		ClassificationThreshold: DefaultClassificationThreshold,
		InjectionFlagThreshold:  DefaultInjectionFlagThreshold,
		InjectionQuarantine:     DefaultInjectionQuarantine,
	}
}

// MaxFileSizeBytes returns the size cap in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// MimeAllowed reports whether a sniffed MIME type is on the allowlist.
// Parameters (e.g. "; charset=utf-8") are ignored.
func (c *Config) MimeAllowed(mimeType string) bool {
	base := mimeType
	if i := strings.Index(base, ";"); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSpace(strings.ToLower(base))
	for _, allowed := range c.MimeAllowlist {
		if base == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

const schemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"max_file_size_mb": {"type": "integer", "minimum": 1, "maximum": 4096},
		"mime_allowlist": {
			"type": "array",
			"items": {"type": "string", "minLength": 3},
			"minItems": 1
		},
		"metadata_schema": {"type": "object"},
		"pii_policy": {"enum": ["REDACT", "FLAG", "BLOCK"]},
		"pii_types": {
			"type": "array",
			"items": {"enum": ["SSN", "DOB", "EMAIL", "PHONE", "NAME", "ADDRESS",
				"FINANCIAL_ACCOUNT", "DRIVERS_LICENSE", "MEDICAL_RECORD"]},
			"uniqueItems": true
		},
		"classification_threshold": {"type": "number", "minimum": 0, "maximum": 1},
		"injection_flag_threshold": {"type": "number", "minimum": 0, "maximum": 1},
		"injection_quarantine_threshold": {"type": "number", "minimum": 0, "maximum": 1},
		"per_document_quarantine": {"type": "boolean"},
		"rate_limit": {"type": "integer", "minimum": 0}
	}
}`

var schema = jsonschema.MustCompileString("tenantconf.json", schemaJSON)

// Validate checks a raw config bag against the schema without parsing it
// into a Config. An empty bag is valid.
func Validate(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("tenantconf: invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("tenantconf: %w", err)
	}
	// The outer schema only checks that metadata_schema is an object; it
	// must also compile as a JSON Schema of its own.
	if bag, ok := doc.(map[string]any); ok {
		if ms, present := bag["metadata_schema"]; present {
			encoded, err := json.Marshal(ms)
			if err != nil {
				return fmt.Errorf("tenantconf: metadata_schema: %w", err)
			}
			if _, err := compileMetadataSchema(encoded); err != nil {
				return err
			}
		}
	}
	return nil
}

// Parse validates a raw config bag and overlays it onto the defaults.
func Parse(raw []byte) (*Config, error) {
	cfg := Defaults()
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("tenantconf: decode: %w", err)
	}
	if len(cfg.MetadataSchema) > 0 {
		compiled, err := compileMetadataSchema(cfg.MetadataSchema)
		if err != nil {
			return nil, err
		}
		cfg.metadataSchema = compiled
	}
	return cfg, nil
}

func compileMetadataSchema(raw []byte) (*jsonschema.Schema, error) {
	compiled, err := jsonschema.CompileString("metadata_schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("tenantconf: metadata_schema: %w", err)
	}
	return compiled, nil
}

// ValidateMetadata checks one file's custom metadata against the tenant's
// metadata schema. Tenants without a schema accept any metadata; absent
// metadata validates as an empty object.
func (c *Config) ValidateMetadata(meta map[string]any) error {
	if c.metadataSchema == nil {
		return nil
	}
	doc := map[string]any{}
	if meta != nil {
		doc = meta
	}
	if err := c.metadataSchema.Validate(doc); err != nil {
		return fmt.Errorf("metadata does not satisfy the tenant schema: %w", err)
	}
	return nil
}
