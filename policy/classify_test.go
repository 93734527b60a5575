package policy

import (
	"testing"

	"github.com/oxbow-systems/sluice/tenantconf"
)

func TestClassifyByFilename(t *testing.T) {
	cfg := tenantconf.Defaults()
	tests := []struct {
		filename string
		want     string
		conf     float64
	}{
		{"master_services_agreement.pdf", "contract", 0.85},
		{"invoice_2026_001.pdf", "invoice", 0.85},
		{"cleaning_procedure.docx", "SOP", 0.85},
		{"privacy_policy.pdf", "policy", 0.85},
		{"court_filing_42.pdf", "legal_filing", 0.85},
	}
	for _, tt := range tests {
		got, conf := Classify("", tt.filename, cfg)
		if got != tt.want || conf != tt.conf {
			t.Errorf("Classify(%q) = (%s, %v), want (%s, %v)", tt.filename, got, conf, tt.want, tt.conf)
		}
	}
}

func TestClassifyByContent(t *testing.T) {
	cfg := tenantconf.Defaults()
	got, conf := Classify("INVOICE\nBill To: Acme Corp\nAmount due: $400", "scan001.pdf", cfg)
	if got != "invoice" || conf != 0.8 {
		t.Errorf("Classify = (%s, %v), want (invoice, 0.8)", got, conf)
	}
}

func TestClassifyFilenameOutranksContent(t *testing.T) {
	cfg := tenantconf.Defaults()
	// Filename rules carry 0.85 and beat content rules at 0.8.
	got, conf := Classify("This AGREEMENT is made...", "invoice_77.pdf", cfg)
	if got != "invoice" || conf != 0.85 {
		t.Errorf("Classify = (%s, %v), want (invoice, 0.85)", got, conf)
	}
}

func TestClassifyTieBreaksByCategoryOrder(t *testing.T) {
	cfg := tenantconf.Defaults()
	// Both contract and invoice match at 0.8 from content; contract ranks
	// first in the canonical order.
	got, _ := Classify("CONTRACT terms. INVOICE attached.", "", cfg)
	if got != "contract" {
		t.Errorf("Classify = %s, want contract", got)
	}
}

func TestClassifyBelowThresholdFallsBack(t *testing.T) {
	cfg := tenantconf.Defaults()
	cfg.ClassificationThreshold = 0.9
	got, conf := Classify("", "nda_agreement.pdf", cfg)
	if got != "other" || conf != 0.5 {
		t.Errorf("Classify below threshold = (%s, %v), want (other, 0.5)", got, conf)
	}
}

func TestClassifyNoSignal(t *testing.T) {
	cfg := tenantconf.Defaults()
	got, conf := Classify("Lorem ipsum dolor sit amet.", "notes.txt", cfg)
	if got != "other" || conf != 0.5 {
		t.Errorf("Classify = (%s, %v), want (other, 0.5)", got, conf)
	}
}

func TestClassifyCorrespondence(t *testing.T) {
	cfg := tenantconf.Defaults()
	got, conf := Classify("", "letter_to_board.docx", cfg)
	if got != "correspondence" || conf != 0.75 {
		t.Errorf("Classify = (%s, %v), want (correspondence, 0.75)", got, conf)
	}
}
