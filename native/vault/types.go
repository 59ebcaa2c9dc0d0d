package vault

import "math/big"

// Position tracks a single depositor's claim on the vault. Shares and
// principal move together (shares are minted one per unit of principal; the
// yield-per-share index carries all accrued value), while YieldDebt offsets
// yield that accrued before the current share balance existed.
type Position struct {
	Owner     string
	Shares    *big.Int
	Principal *big.Int
	YieldDebt *big.Int
}

// Clone returns a deep copy to avoid callers mutating shared pointers.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Owner: p.Owner}
	clone.Shares = cloneBigInt(p.Shares)
	clone.Principal = cloneBigInt(p.Principal)
	clone.YieldDebt = cloneBigInt(p.YieldDebt)
	return clone
}

// GlobalState carries the vault-wide accounting totals and the lazily advanced
// accrual index.
type GlobalState struct {
	TotalShares     *big.Int
	TotalPrincipal  *big.Int
	YieldPerShare   *big.Int // 1e18 fixed point, monotonically non-decreasing
	LastAccrualTime int64
	AnnualRateBps   uint64
}

// Clone returns a deep copy of the global state.
func (g *GlobalState) Clone() *GlobalState {
	if g == nil {
		return nil
	}
	clone := &GlobalState{
		LastAccrualTime: g.LastAccrualTime,
		AnnualRateBps:   g.AnnualRateBps,
	}
	clone.TotalShares = cloneBigInt(g.TotalShares)
	clone.TotalPrincipal = cloneBigInt(g.TotalPrincipal)
	clone.YieldPerShare = cloneBigInt(g.YieldPerShare)
	return clone
}

// Withdrawal reports how a withdrawal was satisfied so callers can account for
// the yield-first deduction ordering.
type Withdrawal struct {
	Amount        *big.Int
	FromYield     *big.Int
	FromPrincipal *big.Int
	SharesBurned  *big.Int
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
