package policy

import (
	"regexp"

	"github.com/oxbow-systems/sluice/types"
)

// piiDetector pairs a PII code with its detection pattern. Detection is
// regex-based; context keywords anchor the noisier entity types.
type piiDetector struct {
	code types.PIICode
	re   *regexp.Regexp
}

var piiDetectors = []piiDetector{
	{types.PIISSN, regexp.MustCompile(`\b\d{3}[- ]\d{2}[- ]\d{4}\b`)},
	{types.PIIDOB, regexp.MustCompile(`(?i)(?:dob|date\s+of\s+birth|born(?:\s+on)?)\s*[:\s]\s*\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}`)},
	{types.PIIEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{types.PIIPhone, regexp.MustCompile(`(?:\+1[-. ]?)?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`)},
	{types.PIIName, regexp.MustCompile(`(?i:name|attn|attention|dear)\s*[:\s]\s*[A-Z][a-z]+\s+[A-Z][a-z]+\b`)},
	{types.PIIAddress, regexp.MustCompile(`(?i)\b\d{1,5}\s+[A-Za-z][A-Za-z ]*\s+(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|way|place|pl)\b\.?`)},
	{types.PIIFinancialAccount, regexp.MustCompile(`(?i)(?:account|acct|routing|iban)\s*(?:number|no|#)?\s*[:\s#]\s*[A-Z0-9]{6,24}|\b\d{4}[- ]\d{4}[- ]\d{4}[- ]\d{4}\b`)},
	{types.PIIDriversLicense, regexp.MustCompile(`(?i)(?:driver'?s?\s+licen[cs]e|dl)\s*(?:number|no|#)?\s*[:\s#]\s*[A-Z0-9]{5,13}\b`)},
	{types.PIIMedicalRecord, regexp.MustCompile(`(?i)(?:mrn|medical\s+record)\s*(?:number|no|#)?\s*[:\s#]\s*\d{5,10}\b`)},
}

// DetectPII scans text for the enabled PII codes and returns the distinct
// codes found, in detector order.
func DetectPII(text string, enabled []types.PIICode) []types.PIICode {
	want := make(map[types.PIICode]bool, len(enabled))
	for _, c := range enabled {
		want[c] = true
	}
	var found []types.PIICode
	for _, d := range piiDetectors {
		if !want[d.code] {
			continue
		}
		if d.re.MatchString(text) {
			found = append(found, d.code)
		}
	}
	return found
}

// RedactPII replaces every detected span of the enabled codes with a
// [REDACTED:CODE] marker and returns the rewritten text plus the distinct
// codes found.
func RedactPII(text string, enabled []types.PIICode) (string, []types.PIICode) {
	want := make(map[types.PIICode]bool, len(enabled))
	for _, c := range enabled {
		want[c] = true
	}
	var found []types.PIICode
	for _, d := range piiDetectors {
		if !want[d.code] {
			continue
		}
		if !d.re.MatchString(text) {
			continue
		}
		found = append(found, d.code)
		text = d.re.ReplaceAllString(text, "[REDACTED:"+string(d.code)+"]")
	}
	return text, found
}
