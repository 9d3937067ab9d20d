package pipeline

import "testing"

func TestNormalizeFundingAmount(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"euro single", "€50.000", "EUR 50000"},
		{"euro up to", "fino a 100.000 euro", "EUR up to 100000"},
		{"usd range", "$10,000 - $50,000", "USD 10000-50000"},
		{"english up to", "up to £25,000", "GBP up to 25000"},
		{"european decimal", "1.500.000,50 EUR", "EUR 1500000.50"},
		{"no currency passes through", "a substantial contribution", "a substantial contribution"},
		{"currency without number passes through", "several million euros TBD", "several million euros TBD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			got := normalizeFundingAmount(&in)
			if got == nil {
				t.Fatalf("normalizeFundingAmount(%q) = nil, want %q", tt.in, tt.want)
			}
			if *got != tt.want {
				t.Errorf("normalizeFundingAmount(%q) = %q, want %q", tt.in, *got, tt.want)
			}
		})
	}

	if got := normalizeFundingAmount(nil); got != nil {
		t.Errorf("normalizeFundingAmount(nil) = %q, want nil", *got)
	}
}
