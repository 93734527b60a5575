package policy

import (
	"github.com/oxbow-systems/sluice/tenantconf"
	"github.com/oxbow-systems/sluice/types"
)

// Gate1Result is the PII gate outcome for one chunk.
type Gate1Result struct {
	Passed      bool
	Blocked     bool
	TypesFound  []types.PIICode
	ScanResult  types.PIIScanResult
	ActionTaken string

	// Modified is true when the chunk text was rewritten (REDACT policy);
	// ModifiedText then carries the redacted text.
	Modified     bool
	ModifiedText string
}

// Gate1PII runs PII detection on a chunk and applies the tenant's policy:
// BLOCK fails the whole document, REDACT rewrites the text, FLAG records
// the finding and passes the text unchanged.
func Gate1PII(text string, cfg *tenantconf.Config) Gate1Result {
	enabled := cfg.PIITypes
	if len(enabled) == 0 {
		enabled = types.DefaultPIITypes
	}

	switch cfg.PIIPolicy {
	case types.PIIRedact:
		modified, found := RedactPII(text, enabled)
		if len(found) == 0 {
			return Gate1Result{Passed: true, ScanResult: types.PIIScanClean, ActionTaken: "none"}
		}
		return Gate1Result{
			Passed:       true,
			TypesFound:   found,
			ScanResult:   types.PIIScanRedacted,
			ActionTaken:  "redacted",
			Modified:     true,
			ModifiedText: modified,
		}
	case types.PIIBlock:
		found := DetectPII(text, enabled)
		if len(found) == 0 {
			return Gate1Result{Passed: true, ScanResult: types.PIIScanClean, ActionTaken: "none"}
		}
		return Gate1Result{
			Blocked:     true,
			TypesFound:  found,
			ScanResult:  types.PIIScanBlocked,
			ActionTaken: "blocked",
		}
	default: // FLAG
		found := DetectPII(text, enabled)
		if len(found) == 0 {
			return Gate1Result{Passed: true, ScanResult: types.PIIScanClean, ActionTaken: "none"}
		}
		return Gate1Result{
			Passed:      true,
			TypesFound:  found,
			ScanResult:  types.PIIScanFound,
			ActionTaken: "flagged",
		}
	}
}

// Gate3Result is the injection gate outcome for one chunk.
type Gate3Result struct {
	Passed          bool
	Quarantined     bool
	Score           float64
	PatternsMatched []string
	Action          types.InjectionAction
}

// Gate3Injection scores a chunk against the injection pattern catalog and
// maps the score onto the tenant's thresholds: below the flag threshold
// passes clean, at or above the quarantine threshold quarantines, anything
// between passes flagged.
func Gate3Injection(text string, cfg *tenantconf.Config) Gate3Result {
	matches := ScanInjectionPatterns(text)
	score := InjectionScore(text, matches)

	categories := make([]string, 0, len(matches))
	for _, m := range matches {
		categories = append(categories, m.Category)
	}

	switch {
	case score < cfg.InjectionFlagThreshold:
		// A passing chunk reports no patterns even when weak ones matched.
		return Gate3Result{Passed: true, Score: score, PatternsMatched: []string{}, Action: types.InjectionPass}
	case score >= cfg.InjectionQuarantine:
		return Gate3Result{Quarantined: true, Score: score, PatternsMatched: categories, Action: types.InjectionQuarantine}
	default:
		return Gate3Result{Passed: true, Score: score, PatternsMatched: categories, Action: types.InjectionFlag}
	}
}
