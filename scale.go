package bookfeed

import "github.com/shopspring/decimal"

// parseScaled converts a wire decimal string into an integer scaled by 10^exp.
// Precision beyond the scale is truncated. The parse is exact; no float math
// is involved at any point, so replaying the same stream always produces the
// same integers.
func parseScaled(s string, exp int32) (int64, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return d.Shift(exp).IntPart(), true
}

// renderScaled converts a scaled integer back to its canonical decimal string:
// trailing zeros trimmed, no exponent form. This reproduces the exact wire
// representation the exchange feeds into its own checksum.
func renderScaled(v int64, exp int32) string {
	return decimal.New(v, -exp).String()
}

// displayScaled converts a scaled integer to a display-precision decimal.
func displayScaled(v int64, exp int32) decimal.Decimal {
	return decimal.New(v, -exp)
}

// parseDecimal parses an optional wire decimal string, mapping the empty
// string (a field the feed omitted) to zero.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Decimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}
	}
	return d
}
