package policy

import (
	"regexp"
)

// PatternMatch aggregates the hits for one injection pattern category.
type PatternMatch struct {
	Category string
	Count    int
	Severity float64
}

type injectionPattern struct {
	re       *regexp.Regexp
	category string
	severity float64
}

// The injection pattern catalog. Categories aggregate; severity weights the
// score contribution.
var injectionPatterns = []injectionPattern{
	{regexp.MustCompile(`(?i)(ignore\s+previous\s+instructions?|forget\s+(everything\s+)?above)`),
		"direct_instruction_override", 1.0},
	{regexp.MustCompile(`(?i)(you\s+are\s+now\s+(a\s+)?|act\s+as\s+if\s+you\s+have\s+no\s+restrictions)`),
		"role_assumption", 1.0},
	{regexp.MustCompile(`(?i)(repeat\s+your\s+system\s+prompt|what\s+are\s+your\s+instructions)`),
		"system_prompt_leakage", 0.8},
	{regexp.MustCompile(`(?i)(` + "```" + `\s*system|#{1,6}\s*instructions?\s*:)|<\|im_start\|>\s*system`),
		"delimiter_injection", 1.0},
	{regexp.MustCompile(`(?i)(disregard\s+(all\s+)?(previous|above)|override\s+(all\s+)?(previous|above)|new\s+instructions?\s*:)`),
		"generic_override", 1.0},
	{regexp.MustCompile(`(?i)(you\s+have\s+no\s+(content\s+)?policy|ignore\s+safety)`),
		"jailbreak_attempts", 1.0},
	{regexp.MustCompile(`(?i)in\s+your\s+next\s+response,?\s*(always|you\s+must)`),
		"multi_turn_manipulation", 0.8},
	{regexp.MustCompile(`(?i)(decode\s+this\s*:|execute\s*:\s*[A-Za-z0-9+/=]{20,})`),
		"obfuscation_markers", 0.8},
	{regexp.MustCompile(`(?i)(do\s+not\s+mention|never\s+reveal|always\s+say|you\s+must\s+respond)`),
		"instruction_like_imperative", 0.7},
	{regexp.MustCompile(`(?i)(your\s+new\s+role|from\s+now\s+on\s+you)`),
		"second_person_command", 0.7},
}

// Zero-width and bidi control characters used to hide instructions.
var invisibleCharsRe = regexp.MustCompile(
	"[\u200B\u200C\u200D\u200E\u200F\u202A-\u202E\u2060\uFEFF\u034F]")

var imperativeRe = regexp.MustCompile(`(?i)(you\s+must|do\s+not\s+\w+|never\s+\w+|always\s+\w+)`)

// ScanInjectionPatterns scans text against the pattern catalog and returns
// one aggregated match per category, in catalog order.
func ScanInjectionPatterns(text string) []PatternMatch {
	type agg struct {
		count    int
		severity float64
	}
	seen := make(map[string]*agg)
	var order []string

	for _, p := range injectionPatterns {
		count := len(p.re.FindAllStringIndex(text, -1))
		if count == 0 {
			continue
		}
		if a, ok := seen[p.category]; ok {
			a.count += count
			if p.severity > a.severity {
				a.severity = p.severity
			}
		} else {
			seen[p.category] = &agg{count: count, severity: p.severity}
			order = append(order, p.category)
		}
	}

	matches := make([]PatternMatch, 0, len(order))
	for _, cat := range order {
		a := seen[cat]
		matches = append(matches, PatternMatch{Category: cat, Count: a.count, Severity: a.severity})
	}
	return matches
}

// CountInvisibleChars counts zero-width and bidi control characters.
func CountInvisibleChars(text string) int {
	return len(invisibleCharsRe.FindAllStringIndex(text, -1))
}

// InjectionScore computes the heuristic 0.0-1.0 score from four factors:
// pattern matches (cap 0.4), invisible character ratio (cap 0.3),
// instruction-like structure (0.2), and length anomaly (0.1).
func InjectionScore(text string, matches []PatternMatch) float64 {
	base := 0.0
	for _, m := range matches {
		base += m.Severity * min(float64(m.Count)*0.2, 1.0)
	}
	base = min(base*0.4, 0.4)

	chars := len(text)
	if chars == 0 {
		chars = 1
	}
	invisibleRatio := float64(CountInvisibleChars(text)) / float64(chars)
	invisible := min(invisibleRatio*10, 0.3)

	imperative := 0.0
	if imperativeRe.MatchString(text) {
		imperative = 0.2
	}

	lengthAnomaly := 0.0
	if len(matches) >= 3 && len(text) > 500 {
		lengthAnomaly = 0.1
	}

	return min(base+invisible+imperative+lengthAnomaly, 1.0)
}
