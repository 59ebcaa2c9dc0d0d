package events

import "math/big"

const (
	TypeVaultDeposited     = "vault.deposited"
	TypeVaultWithdrawn     = "vault.withdrawn"
	TypeVaultYieldInjected = "vault.yield_injected"
	TypeVaultRateChanged   = "vault.rate_changed"
)

// VaultDeposited records a principal deposit credited to a beneficiary.
type VaultDeposited struct {
	Beneficiary  string
	Amount       *big.Int
	SharesIssued *big.Int
	Timestamp    int64
}

func (VaultDeposited) EventType() string { return TypeVaultDeposited }

func (e VaultDeposited) Attributes() map[string]string {
	return map[string]string{
		"beneficiary": e.Beneficiary,
		"amount":      formatAmount(e.Amount),
		"shares":      formatAmount(e.SharesIssued),
		"timestamp":   intToString(e.Timestamp),
	}
}

// VaultWithdrawn records a withdrawal together with the yield/principal split
// so accounting mirrors can reconstruct the deduction ordering.
type VaultWithdrawn struct {
	Account       string
	Amount        *big.Int
	FromYield     *big.Int
	FromPrincipal *big.Int
	SharesBurned  *big.Int
	Timestamp     int64
}

func (VaultWithdrawn) EventType() string { return TypeVaultWithdrawn }

func (e VaultWithdrawn) Attributes() map[string]string {
	return map[string]string{
		"account":       e.Account,
		"amount":        formatAmount(e.Amount),
		"fromYield":     formatAmount(e.FromYield),
		"fromPrincipal": formatAmount(e.FromPrincipal),
		"sharesBurned":  formatAmount(e.SharesBurned),
		"timestamp":     intToString(e.Timestamp),
	}
}

// VaultYieldInjected records an externally injected yield amount distributed
// pro-rata across all outstanding shares.
type VaultYieldInjected struct {
	Amount    *big.Int
	Timestamp int64
}

func (VaultYieldInjected) EventType() string { return TypeVaultYieldInjected }

func (e VaultYieldInjected) Attributes() map[string]string {
	return map[string]string{
		"amount":    formatAmount(e.Amount),
		"timestamp": intToString(e.Timestamp),
	}
}

// VaultRateChanged records an administrator swapping the annual accrual rate.
type VaultRateChanged struct {
	OldRateBps uint64
	NewRateBps uint64
	Timestamp  int64
}

func (VaultRateChanged) EventType() string { return TypeVaultRateChanged }

func (e VaultRateChanged) Attributes() map[string]string {
	return map[string]string{
		"oldRateBps": uintToString(e.OldRateBps),
		"newRateBps": uintToString(e.NewRateBps),
		"timestamp":  intToString(e.Timestamp),
	}
}
