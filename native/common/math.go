package common

import "math/big"

var (
	// BasisPoints is the denominator for all bps-expressed parameters.
	BasisPoints = big.NewInt(10_000)
	// MaxBps is the largest meaningful basis-point value (100%).
	MaxBps uint64 = 10_000
)

// MulDiv computes a * b / denom with the product held in an arbitrary-width
// intermediate, so the only rounding is the final floor division. Every unit
// conversion in the protocol goes through this helper to keep rounding
// behaviour identical system-wide. A zero or nil denominator yields zero.
func MulDiv(a, b, denom *big.Int) *big.Int {
	if a == nil || b == nil || denom == nil || denom.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, denom)
}

// Pow10 returns 10^n as a big integer. Token decimals never exceed 77, which
// keeps the exponent well inside big.Int territory.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// BpsShare returns amount * bps / 10000, floored.
func BpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	return MulDiv(amount, new(big.Int).SetUint64(bps), BasisPoints)
}

// AbsDiff returns |a - b|.
func AbsDiff(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	diff := new(big.Int).Sub(a, b)
	return diff.Abs(diff)
}
