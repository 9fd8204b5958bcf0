package extract

import "testing"

func TestInferDomain(t *testing.T) {
	cases := []struct {
		fileName    string
		projectName string
		want        string
	}{
		{"cart-checkout-req.pdf", "", "e-commerce platform"},
		{"", "Core Banking Renewal", "financial services system"},
		{"invoice_flow.txt", "", "financial services system"},
		{"patient-portal.md", "", "healthcare system"},
		{"", "Campus Learning Hub", "education platform"},
		{"warehouse spec.pdf", "", "logistics management system"},
		{"", "Payroll Revamp", "HR management system"},
		{"sensor-gateway.txt", "", "IoT platform"},
		{"notes.txt", "Internal Tools", DefaultDomain},
		{"", "", DefaultDomain},
	}
	for _, tc := range cases {
		if got := InferDomain(tc.fileName, tc.projectName); got != tc.want {
			t.Errorf("InferDomain(%q, %q) = %q, want %q", tc.fileName, tc.projectName, got, tc.want)
		}
	}
}

func TestInferDomainCaseInsensitive(t *testing.T) {
	if got := InferDomain("SHIPPING-Manifest.PDF", ""); got != "logistics management system" {
		t.Fatalf("InferDomain upper-case = %q", got)
	}
}

func TestInferDomainFirstEntryWins(t *testing.T) {
	// "shop" (e-commerce) appears before "payment" (financial) in the vocabulary.
	if got := InferDomain("shop-payment-flows.txt", ""); got != "e-commerce platform" {
		t.Fatalf("InferDomain = %q, want the earlier vocabulary entry", got)
	}
}
