package session

import "math/big"

// ChargeUnit is the granularity the per-second charge rounds up to. Rounding
// up protects the vault from sub-unit dust loss on short sessions.
const ChargeUnit = 1_000

var chargeUnit = big.NewInt(ChargeUnit)

// ChargeFor converts consumed time at a fixed per-second rate into the amount
// owed, rounded up to the nearest ChargeUnit. Zero consumption charges nothing.
func ChargeFor(ratePerSecond *big.Int, consumedSeconds uint64) *big.Int {
	if ratePerSecond == nil || ratePerSecond.Sign() <= 0 || consumedSeconds == 0 {
		return big.NewInt(0)
	}
	raw := new(big.Int).Mul(ratePerSecond, new(big.Int).SetUint64(consumedSeconds))
	if raw.Sign() == 0 {
		return raw
	}
	rounded := new(big.Int).Add(raw, new(big.Int).Sub(chargeUnit, big.NewInt(1)))
	rounded.Quo(rounded, chargeUnit)
	return rounded.Mul(rounded, chargeUnit)
}

// ProRataCharge computes the fractional-content price for a consumed duration,
// truncating toward zero so the consumer is never overcharged for a partial
// view. Used by catalog-priced cost projections.
func ProRataCharge(fullPrice *big.Int, consumedSeconds, durationSeconds uint64) *big.Int {
	if fullPrice == nil || fullPrice.Sign() <= 0 || consumedSeconds == 0 || durationSeconds == 0 {
		return big.NewInt(0)
	}
	owed := new(big.Int).Mul(fullPrice, new(big.Int).SetUint64(consumedSeconds))
	return owed.Quo(owed, new(big.Int).SetUint64(durationSeconds))
}
