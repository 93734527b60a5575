package types

// PIICode identifies a configurable PII entity type. The set is closed.
type PIICode string

// PII codes.
const (
	PIISSN              PIICode = "SSN"
	PIIDOB              PIICode = "DOB"
	PIIEmail            PIICode = "EMAIL"
	PIIPhone            PIICode = "PHONE"
	PIIName             PIICode = "NAME"
	PIIAddress          PIICode = "ADDRESS"
	PIIFinancialAccount PIICode = "FINANCIAL_ACCOUNT"
	PIIDriversLicense   PIICode = "DRIVERS_LICENSE"
	PIIMedicalRecord    PIICode = "MEDICAL_RECORD"
)

// DefaultPIITypes is the default detection set when a tenant configures none.
var DefaultPIITypes = []PIICode{PIISSN, PIIDOB, PIIEmail}

// ValidPIICode reports whether c is in the closed PII code set.
func ValidPIICode(c PIICode) bool {
	switch c {
	case PIISSN, PIIDOB, PIIEmail, PIIPhone, PIIName, PIIAddress,
		PIIFinancialAccount, PIIDriversLicense, PIIMedicalRecord:
		return true
	}
	return false
}

// PIIPolicy is the tenant-configured action for detected PII.
type PIIPolicy string

// PII actions. BLOCK drops the entire document; REDACT rewrites detected
// spans; FLAG records the detection and passes content unchanged.
const (
	PIIRedact PIIPolicy = "REDACT"
	PIIFlag   PIIPolicy = "FLAG"
	PIIBlock  PIIPolicy = "BLOCK"
)

// PIIScanResult is the recorded Gate 1 outcome for a chunk.
type PIIScanResult string

// Gate 1 outcomes.
const (
	PIIScanClean    PIIScanResult = "clean"
	PIIScanFound    PIIScanResult = "pii_found"
	PIIScanRedacted PIIScanResult = "redacted"
	PIIScanBlocked  PIIScanResult = "blocked"
)

// InjectionAction is the Gate 3 disposition for a chunk.
type InjectionAction string

// Gate 3 dispositions.
const (
	InjectionPass       InjectionAction = "pass"
	InjectionFlag       InjectionAction = "flag"
	InjectionQuarantine InjectionAction = "quarantine"
)

// Classification categories, in tie-break priority order.
var ClassificationCategories = []string{
	"contract", "invoice", "SOP", "policy", "correspondence", "legal_filing", "other",
}

// PolicyMetadata is the governance metadata attached to a chunk that
// survived all gates.
type PolicyMetadata struct {
	PIIScanResult            PIIScanResult   `json:"pii_scan_result" msgpack:"pii_scan_result"`
	PIITypesFound            []PIICode       `json:"pii_types_found" msgpack:"pii_types_found"`
	PIIActionTaken           string          `json:"pii_action_taken" msgpack:"pii_action_taken"`
	Classification           string          `json:"classification" msgpack:"classification"`
	ClassificationConfidence float64         `json:"classification_confidence" msgpack:"classification_confidence"`
	ClassifierVersion        string          `json:"classifier_version" msgpack:"classifier_version"`
	InjectionScore           float64         `json:"injection_score" msgpack:"injection_score"`
	InjectionPatternsMatched []string        `json:"injection_patterns_matched" msgpack:"injection_patterns_matched"`
	InjectionActionTaken     InjectionAction `json:"injection_action_taken" msgpack:"injection_action_taken"`
}

// ChunkOffsets locates a chunk within its source document.
type ChunkOffsets struct {
	Page      int `json:"page" msgpack:"page"`
	StartChar int `json:"start_char" msgpack:"start_char"`
	EndChar   int `json:"end_char" msgpack:"end_char"`
}

// EnrichedChunk is a chunk that survived all three gates, annotated with
// policy metadata. Chunks blocked by PII or quarantined by injection defense
// never become EnrichedChunks and never reach the embed queue.
type EnrichedChunk struct {
	ChunkID      string         `json:"chunk_id" msgpack:"chunk_id"`
	DocID        string         `json:"doc_id" msgpack:"doc_id"`
	TenantID     string         `json:"tenant_id" msgpack:"tenant_id"`
	Text         string         `json:"text" msgpack:"text"`
	Metadata     PolicyMetadata `json:"metadata" msgpack:"metadata"`
	Offsets      ChunkOffsets   `json:"offsets" msgpack:"offsets"`
	ElementType  ElementType    `json:"element_type" msgpack:"element_type"`
	SectionTitle string         `json:"section_title,omitempty" msgpack:"section_title,omitempty"`
}
