package policy

import (
	"strings"

	"github.com/oxbow-systems/sluice/tenantconf"
	"github.com/oxbow-systems/sluice/types"
)

// classifySampleLimit caps the text sample inspected for header keywords.
const classifySampleLimit = 2000

type classificationRule struct {
	category   string
	confidence float64
}

// Classify assigns a document category from filename and content heuristics.
// The highest-confidence rule wins; ties break deterministically by the
// canonical category order. A winner below the tenant's confidence threshold
// falls back to "other" at 0.5.
func Classify(sample, filename string, cfg *tenantconf.Config) (string, float64) {
	var rules []classificationRule

	if filename != "" {
		fn := strings.ToLower(filename)
		if strings.Contains(fn, "contract") || strings.Contains(fn, "agreement") {
			rules = append(rules, classificationRule{"contract", 0.85})
		}
		if strings.Contains(fn, "invoice") || strings.Contains(fn, "bill") {
			rules = append(rules, classificationRule{"invoice", 0.85})
		}
		if strings.Contains(fn, "sop") || strings.Contains(fn, "procedure") {
			rules = append(rules, classificationRule{"SOP", 0.85})
		}
		if strings.Contains(fn, "policy") {
			rules = append(rules, classificationRule{"policy", 0.85})
		}
		if strings.Contains(fn, "legal") || strings.Contains(fn, "court") || strings.Contains(fn, "filing") {
			rules = append(rules, classificationRule{"legal_filing", 0.85})
		}
		if strings.Contains(fn, "letter") || strings.Contains(fn, "email") || strings.Contains(fn, "correspondence") {
			rules = append(rules, classificationRule{"correspondence", 0.75})
		}
	}

	upper := strings.ToUpper(truncate(sample, classifySampleLimit))
	if strings.Contains(upper, "AGREEMENT") || strings.Contains(upper, "CONTRACT") {
		rules = append(rules, classificationRule{"contract", 0.8})
	}
	if strings.Contains(upper, "INVOICE") || strings.Contains(upper, "BILL TO") {
		rules = append(rules, classificationRule{"invoice", 0.8})
	}
	if strings.Contains(upper, "STANDARD OPERATING PROCEDURE") || strings.Contains(upper, "SOP") {
		rules = append(rules, classificationRule{"SOP", 0.8})
	}
	if strings.Contains(upper, "POLICY") && strings.Contains(upper, "DOCUMENT") {
		rules = append(rules, classificationRule{"policy", 0.75})
	}

	if len(rules) == 0 {
		return "other", 0.5
	}

	best := rules[0]
	for _, r := range rules[1:] {
		if r.confidence > best.confidence {
			best = r
			continue
		}
		if r.confidence == best.confidence && categoryRank(r.category) < categoryRank(best.category) {
			best = r
		}
	}
	if best.confidence < cfg.ClassificationThreshold {
		return "other", 0.5
	}
	return best.category, best.confidence
}

func categoryRank(category string) int {
	for i, c := range types.ClassificationCategories {
		if c == category {
			return i
		}
	}
	return len(types.ClassificationCategories)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
