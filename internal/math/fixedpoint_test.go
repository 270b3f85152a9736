package math_test

import (
	fpmath "TreasuryLedger/internal/math"
	stdmath "math"
	"testing"
)

func TestCheckedAdd(t *testing.T) {
	if v, ok := fpmath.CheckedAdd(2, 3); !ok || v != 5 {
		t.Errorf("2+3: got (%d, %v)", v, ok)
	}
	if _, ok := fpmath.CheckedAdd(stdmath.MaxUint64, 1); ok {
		t.Error("MaxUint64+1 should overflow")
	}
}

func TestCheckedSub(t *testing.T) {
	if v, ok := fpmath.CheckedSub(5, 5); !ok || v != 0 {
		t.Errorf("5-5: got (%d, %v)", v, ok)
	}
	if _, ok := fpmath.CheckedSub(4, 5); ok {
		t.Error("4-5 should underflow")
	}
}

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		amount   uint64
		decimals uint8
		want     string
	}{
		{90_000_000_000, 9, "90.000000000"},
		{1, 9, "0.000000001"},
		{0, 6, "0.000000"},
		{42, 0, "42"},
	}
	for _, tt := range tests {
		if got := fpmath.FormatUnits(tt.amount, tt.decimals); got != tt.want {
			t.Errorf("FormatUnits(%d, %d) = %q, want %q", tt.amount, tt.decimals, got, tt.want)
		}
	}
}

func TestParseUnits(t *testing.T) {
	got, err := fpmath.ParseUnits("10000", 9)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != 10_000_000_000_000 {
		t.Errorf("got %d", got)
	}

	got, err = fpmath.ParseUnits("0.5", 2)
	if err != nil || got != 50 {
		t.Errorf("0.5@2: got (%d, %v)", got, err)
	}

	for _, bad := range []string{"", "1.2345", "-1", "abc", "18446744073709551616"} {
		if _, err := fpmath.ParseUnits(bad, 3); err == nil {
			t.Errorf("ParseUnits(%q) should fail", bad)
		}
	}
}
