package priceunits

import (
	"math/big"
	"testing"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		decimals uint8
		want     string
	}{
		{"simple dollar amount", "$1.00", 6, "1000000"},
		{"no dollar sign", "1.00", 6, "1000000"},
		{"no fractional part", "$5", 6, "5000000"},
		{"exact precision", "$0.000001", 6, "1"},
		{"fewer digits than decimals pads", "$0.01", 6, "10000"},
		{"18 decimals", "$2.5", 18, "2500000000000000000"},
		{"truncates excess fractional digits", "$0.0000015", 6, "1"},
		{"truncation not rounding", "$0.0000019", 6, "1"},
		{"all zero", "$0.00", 6, "0"},
		{"zero decimals rail", "$3", 0, "3"},
		{"leading zero int part", "$0.5", 6, "500000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToBaseUnits(tt.price, tt.decimals)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want, _ := new(big.Int).SetString(tt.want, 10)
			if got.Cmp(want) != 0 {
				t.Errorf("ToBaseUnits(%q, %d) = %s, want %s", tt.price, tt.decimals, got.String(), tt.want)
			}
		})
	}
}

func TestToBaseUnits_Malformed(t *testing.T) {
	tests := []string{"", "$", "abc", "$1.2.3", "$1.2x", "$-1.00", "1..0"}
	for _, price := range tests {
		t.Run(price, func(t *testing.T) {
			_, err := ToBaseUnits(price, 6)
			if err == nil {
				t.Errorf("ToBaseUnits(%q) expected error, got nil", price)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		price    string
		decimals uint8
	}{
		{"$1.50", 6},
		{"$0.000001", 6},
		{"$100.00", 18},
		{"$0", 6},
	}
	for _, tt := range tests {
		base, err := ToBaseUnits(tt.price, tt.decimals)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := ToDecimalString(base, tt.decimals)
		back, err := ToBaseUnits(got, tt.decimals)
		if err != nil {
			t.Fatalf("unexpected error re-parsing %q: %v", got, err)
		}
		if back.Cmp(base) != 0 {
			t.Errorf("round trip mismatch: %s -> %s -> %s", tt.price, got, back.String())
		}
	}
}

func TestToBaseUnits_Deterministic(t *testing.T) {
	a, err1 := ToBaseUnits("$9.999999", 6)
	b, err2 := ToBaseUnits("$9.999999", 6)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v, %v", err1, err2)
	}
	if a.Cmp(b) != 0 {
		t.Errorf("expected deterministic output, got %s and %s", a.String(), b.String())
	}
}
