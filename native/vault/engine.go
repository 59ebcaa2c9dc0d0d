package vault

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"streamvault/core/events"
)

var (
	errNilState = errors.New("vault engine: state not configured")

	// ErrInvalidAmount rejects zero or negative amounts before any mutation.
	ErrInvalidAmount = errors.New("vault engine: amount must be positive")
	// ErrInvalidAccount rejects empty account identities.
	ErrInvalidAccount = errors.New("vault engine: account must not be empty")
	// ErrInsufficientBalance rejects withdrawals exceeding the account's total value.
	ErrInsufficientBalance = errors.New("vault engine: insufficient balance")
	// ErrNoSharesOutstanding rejects yield injection when no shares exist to
	// attribute it to.
	ErrNoSharesOutstanding = errors.New("vault engine: no shares outstanding")
	// ErrRateOutOfRange rejects annual rates above 100%.
	ErrRateOutOfRange = errors.New("vault engine: rate exceeds 10000 basis points")
	// ErrNotAuthorized rejects administrative calls from non-administrators.
	ErrNotAuthorized = errors.New("vault engine: caller is not the administrator")
)

var (
	basisPoints = big.NewInt(10_000)
	scale       = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// SecondsPerYear is the accrual denominator for the fixed-APY clock.
const SecondsPerYear = 31_536_000

// MaxRateBps caps the annual rate at 100%.
const MaxRateBps = 10_000

type engineState interface {
	VaultGlobal() (*GlobalState, error)
	PutVaultGlobal(*GlobalState) error
	VaultPosition(owner string) (*Position, error)
	PutVaultPosition(*Position) error
}

// Engine maintains the share ledger: per-account principal, shares and yield
// debt plus the global accrual index. It is not safe for concurrent use; the
// owning node serializes every state-changing call.
type Engine struct {
	state   engineState
	emitter events.Emitter
	admin   string
	nowFn   func() int64
}

// NewEngine constructs a vault engine administered by the supplied identity.
func NewEngine(admin string) *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		admin:   strings.TrimSpace(admin),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests to
// provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Admin returns the configured administrator identity.
func (e *Engine) Admin() string {
	if e == nil {
		return ""
	}
	return e.admin
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) requireAdmin(caller string) error {
	if strings.TrimSpace(caller) == "" || caller != e.admin {
		return ErrNotAuthorized
	}
	return nil
}

// Deposit credits principal to the beneficiary and issues shares. The index
// carries all yield, so shares are issued one per unit of principal and the
// beneficiary's yield debt is advanced to exclude yield accrued before the
// deposit.
func (e *Engine) Deposit(beneficiary string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if strings.TrimSpace(beneficiary) == "" {
		return nil, ErrInvalidAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	global, err := e.ensureGlobal()
	if err != nil {
		return nil, err
	}
	now := e.now()
	e.accrue(global, now)

	pos, err := e.ensurePosition(beneficiary)
	if err != nil {
		return nil, err
	}

	minted := new(big.Int).Set(amount)

	// Advance the debt snapshot by the index value of the new shares so the
	// deposit cannot claim yield accrued before it existed.
	debtDelta := new(big.Int).Mul(minted, global.YieldPerShare)
	debtDelta.Quo(debtDelta, scale)
	pos.YieldDebt = new(big.Int).Add(pos.YieldDebt, debtDelta)

	pos.Shares = new(big.Int).Add(pos.Shares, minted)
	pos.Principal = new(big.Int).Add(pos.Principal, amount)
	global.TotalShares = new(big.Int).Add(global.TotalShares, minted)
	global.TotalPrincipal = new(big.Int).Add(global.TotalPrincipal, amount)

	if err := e.state.PutVaultPosition(pos); err != nil {
		return nil, err
	}
	if err := e.state.PutVaultGlobal(global); err != nil {
		return nil, err
	}

	e.emit(events.VaultDeposited{
		Beneficiary:  beneficiary,
		Amount:       new(big.Int).Set(amount),
		SharesIssued: new(big.Int).Set(minted),
		Timestamp:    now,
	})
	return minted, nil
}

// Withdraw draws the requested amount from the account, yield first and
// principal second, against a single accrual snapshot. The returned receipt
// reports the split so settlement callers can account for it.
func (e *Engine) Withdraw(account string, amount *big.Int) (*Withdrawal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if strings.TrimSpace(account) == "" {
		return nil, ErrInvalidAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	global, err := e.ensureGlobal()
	if err != nil {
		return nil, err
	}
	now := e.now()
	e.accrue(global, now)

	pos, err := e.ensurePosition(account)
	if err != nil {
		return nil, err
	}

	yield := yieldAt(pos, global.YieldPerShare)
	total := new(big.Int).Add(pos.Principal, yield)
	if amount.Cmp(total) > 0 {
		return nil, ErrInsufficientBalance
	}

	fromYield := new(big.Int).Set(amount)
	if fromYield.Cmp(yield) > 0 {
		fromYield.Set(yield)
	}
	fromPrincipal := new(big.Int).Sub(amount, fromYield)

	// Shares mirror principal, so the principal portion is what burns.
	burned := new(big.Int).Set(fromPrincipal)

	pos.Principal = new(big.Int).Sub(pos.Principal, fromPrincipal)
	pos.Shares = new(big.Int).Sub(pos.Shares, burned)
	global.TotalPrincipal = new(big.Int).Sub(global.TotalPrincipal, fromPrincipal)
	global.TotalShares = new(big.Int).Sub(global.TotalShares, burned)

	// Rebase the debt snapshot so the remaining un-drawn yield survives the
	// share change.
	remainingYield := new(big.Int).Sub(yield, fromYield)
	indexValue := new(big.Int).Mul(pos.Shares, global.YieldPerShare)
	indexValue.Quo(indexValue, scale)
	debt := new(big.Int).Sub(indexValue, remainingYield)
	if debt.Sign() < 0 {
		debt.SetInt64(0)
	}
	pos.YieldDebt = debt

	if err := e.state.PutVaultPosition(pos); err != nil {
		return nil, err
	}
	if err := e.state.PutVaultGlobal(global); err != nil {
		return nil, err
	}

	e.emit(events.VaultWithdrawn{
		Account:       account,
		Amount:        new(big.Int).Set(amount),
		FromYield:     new(big.Int).Set(fromYield),
		FromPrincipal: new(big.Int).Set(fromPrincipal),
		SharesBurned:  new(big.Int).Set(burned),
		Timestamp:     now,
	})
	return &Withdrawal{
		Amount:        new(big.Int).Set(amount),
		FromYield:     fromYield,
		FromPrincipal: fromPrincipal,
		SharesBurned:  burned,
	}, nil
}

// YieldOf returns the account's current yield including pending un-applied
// accrual, without mutating state. Callers deciding on a withdrawal therefore
// never observe a stale index.
func (e *Engine) YieldOf(account string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	global, err := e.ensureGlobal()
	if err != nil {
		return nil, err
	}
	pos, err := e.ensurePosition(account)
	if err != nil {
		return nil, err
	}
	index := e.projectedIndex(global, e.now())
	return yieldAt(pos, index), nil
}

// TotalValueOf returns principal plus current yield for the account.
func (e *Engine) TotalValueOf(account string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	global, err := e.ensureGlobal()
	if err != nil {
		return nil, err
	}
	pos, err := e.ensurePosition(account)
	if err != nil {
		return nil, err
	}
	index := e.projectedIndex(global, e.now())
	return new(big.Int).Add(pos.Principal, yieldAt(pos, index)), nil
}

// Position returns a copy of the stored position for external views.
func (e *Engine) Position(account string) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pos, err := e.ensurePosition(account)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// Global returns a copy of the vault-wide state for external views.
func (e *Engine) Global() (*GlobalState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	global, err := e.ensureGlobal()
	if err != nil {
		return nil, err
	}
	return global.Clone(), nil
}

// InjectYield distributes an externally supplied yield amount across all
// outstanding shares by advancing the index. It fails when no shares exist
// because the amount would be unattributable.
func (e *Engine) InjectYield(caller string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	global, err := e.ensureGlobal()
	if err != nil {
		return err
	}
	now := e.now()
	e.accrue(global, now)

	if global.TotalShares.Sign() == 0 {
		return ErrNoSharesOutstanding
	}

	delta := new(big.Int).Mul(amount, scale)
	delta.Quo(delta, global.TotalShares)
	global.YieldPerShare = new(big.Int).Add(global.YieldPerShare, delta)

	if err := e.state.PutVaultGlobal(global); err != nil {
		return err
	}
	e.emit(events.VaultYieldInjected{Amount: new(big.Int).Set(amount), Timestamp: now})
	return nil
}

// SetAnnualRate swaps the accrual rate after applying the old rate to the time
// already elapsed.
func (e *Engine) SetAnnualRate(caller string, rateBps uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if rateBps > MaxRateBps {
		return ErrRateOutOfRange
	}

	global, err := e.ensureGlobal()
	if err != nil {
		return err
	}
	now := e.now()
	e.accrue(global, now)

	old := global.AnnualRateBps
	global.AnnualRateBps = rateBps
	if err := e.state.PutVaultGlobal(global); err != nil {
		return err
	}
	e.emit(events.VaultRateChanged{OldRateBps: old, NewRateBps: rateBps, Timestamp: now})
	return nil
}

// accrue brings the index current. It is a no-op while no shares exist (the
// index stays frozen) and when no time has elapsed.
func (e *Engine) accrue(global *GlobalState, now int64) {
	if global == nil || now <= global.LastAccrualTime {
		return
	}
	if global.TotalShares.Sign() == 0 {
		global.LastAccrualTime = now
		return
	}
	pending := pendingYield(global, now)
	if pending.Sign() > 0 {
		delta := new(big.Int).Mul(pending, scale)
		delta.Quo(delta, global.TotalShares)
		global.YieldPerShare = new(big.Int).Add(global.YieldPerShare, delta)
	}
	global.LastAccrualTime = now
}

// projectedIndex returns the index value the next accrual would produce,
// without applying it.
func (e *Engine) projectedIndex(global *GlobalState, now int64) *big.Int {
	if global == nil {
		return big.NewInt(0)
	}
	if now <= global.LastAccrualTime || global.TotalShares.Sign() == 0 {
		return new(big.Int).Set(global.YieldPerShare)
	}
	pending := pendingYield(global, now)
	if pending.Sign() == 0 {
		return new(big.Int).Set(global.YieldPerShare)
	}
	delta := new(big.Int).Mul(pending, scale)
	delta.Quo(delta, global.TotalShares)
	return new(big.Int).Add(global.YieldPerShare, delta)
}

func pendingYield(global *GlobalState, now int64) *big.Int {
	elapsed := now - global.LastAccrualTime
	if elapsed <= 0 || global.AnnualRateBps == 0 || global.TotalPrincipal.Sign() == 0 {
		return big.NewInt(0)
	}
	pending := new(big.Int).Mul(global.TotalPrincipal, new(big.Int).SetUint64(global.AnnualRateBps))
	pending.Mul(pending, big.NewInt(elapsed))
	denom := new(big.Int).Mul(big.NewInt(SecondsPerYear), basisPoints)
	return pending.Quo(pending, denom)
}

func yieldAt(pos *Position, index *big.Int) *big.Int {
	if pos == nil || pos.Shares.Sign() == 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(pos.Shares, index)
	value.Quo(value, scale)
	value.Sub(value, pos.YieldDebt)
	if value.Sign() < 0 {
		return big.NewInt(0)
	}
	return value
}

func (e *Engine) ensureGlobal() (*GlobalState, error) {
	global, err := e.state.VaultGlobal()
	if err != nil {
		return nil, err
	}
	if global == nil {
		global = &GlobalState{}
	}
	if global.TotalShares == nil {
		global.TotalShares = big.NewInt(0)
	}
	if global.TotalPrincipal == nil {
		global.TotalPrincipal = big.NewInt(0)
	}
	if global.YieldPerShare == nil {
		global.YieldPerShare = big.NewInt(0)
	}
	return global, nil
}

func (e *Engine) ensurePosition(owner string) (*Position, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, ErrInvalidAccount
	}
	pos, err := e.state.VaultPosition(owner)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{Owner: owner}
	}
	if pos.Shares == nil {
		pos.Shares = big.NewInt(0)
	}
	if pos.Principal == nil {
		pos.Principal = big.NewInt(0)
	}
	if pos.YieldDebt == nil {
		pos.YieldDebt = big.NewInt(0)
	}
	return pos, nil
}
