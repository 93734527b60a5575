package types

import "fmt"

// RejectReason is a typed per-file rejection code. Per-file failures are
// data in the batch response, never errors: one bad file must not fail the
// batch.
type RejectReason string

// Per-file rejection and quarantine reasons.
const (
	RejectUnsupportedFormat RejectReason = "UNSUPPORTED_FORMAT"
	RejectSizeExceeded      RejectReason = "SIZE_EXCEEDED"
	RejectChecksumMismatch  RejectReason = "CHECKSUM_MISMATCH"
	RejectMetadataInvalid   RejectReason = "METADATA_INVALID"
	RejectMalwareDetected   RejectReason = "MALWARE_DETECTED"
	RejectScanUnavailable   RejectReason = "MALWARE_SCAN_UNAVAILABLE"
)

// ErrorCode is a machine-readable error code carried on API errors and
// processing failures.
type ErrorCode string

// Error codes per surface. Validation codes map to 400, auth to 401/403,
// capacity to 429, not-found to 404, configuration to 503. Processing codes
// surface asynchronously through audit events and document status.
const (
	CodeManifestInvalid       ErrorCode = "MANIFEST_INVALID"
	CodeFileCountMismatch     ErrorCode = "MANIFEST_FILE_COUNT_MISMATCH"
	CodeDuplicateFileID       ErrorCode = "DUPLICATE_FILE_ID"
	CodeAuthRequired          ErrorCode = "AUTHENTICATION_REQUIRED"
	CodeTokenExpired          ErrorCode = "TOKEN_EXPIRED"
	CodeInsufficientScope     ErrorCode = "INSUFFICIENT_PERMISSIONS"
	CodeRateLimitExceeded     ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeResourceNotFound      ErrorCode = "RESOURCE_NOT_FOUND"
	CodeDBUnavailable         ErrorCode = "DB_UNAVAILABLE"
	CodeAuthNotConfigured     ErrorCode = "AUTH_NOT_CONFIGURED"
	CodeParserError           ErrorCode = "PARSER_ERROR"
	CodeFileCorrupted         ErrorCode = "FILE_CORRUPTED"
	CodeDimensionMismatch     ErrorCode = "DIMENSION_MISMATCH"
	CodeProvisioningFailed    ErrorCode = "PROVISIONING_FAILED"
	CodeUnsupportedQueryFile  ErrorCode = "UNSUPPORTED_FORMAT"
	CodeInvalidTenantConfig   ErrorCode = "MANIFEST_INVALID"
	CodeTenantNotFound        ErrorCode = "RESOURCE_NOT_FOUND"
	CodeUnsupportedVectorName ErrorCode = "RESOURCE_NOT_FOUND"
)

// APIError is a structured, machine-readable API failure.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Status  int       `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError builds an APIError with the given HTTP status.
func NewAPIError(status int, code ErrorCode, message string) *APIError {
	return &APIError{Code: code, Message: message, Status: status}
}
