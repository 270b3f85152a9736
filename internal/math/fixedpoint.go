package math

import (
	"fmt"
	"math/big"
	"math/bits"
	"strings"
)

// CheckedAdd returns a + b and false when the sum does not fit in 64 bits.
func CheckedAdd(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// CheckedSub returns a - b and false when b > a.
func CheckedSub(a, b uint64) (uint64, bool) {
	diff, borrow := bits.Sub64(a, b, 0)
	return diff, borrow == 0
}

// FormatUnits renders a raw token amount with the mint's decimals,
// e.g. FormatUnits(90_000_000_000, 9) == "90.000000000".
func FormatUnits(amount uint64, decimals uint8) string {
	s := new(big.Int).SetUint64(amount).String()
	if decimals == 0 {
		return s
	}
	d := int(decimals)
	if len(s) <= d {
		s = strings.Repeat("0", d-len(s)+1) + s
	}
	return s[:len(s)-d] + "." + s[len(s)-d:]
}

// ParseUnits converts a decimal string into raw units. Fractional digits
// beyond the mint's precision are rejected rather than rounded.
func ParseUnits(value string, decimals uint8) (uint64, error) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(value), ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if len(frac) > int(decimals) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", value, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || n.Sign() < 0 {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("amount %q overflows u64", value)
	}
	return n.Uint64(), nil
}
