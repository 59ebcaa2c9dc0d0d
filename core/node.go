package core

import (
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"streamvault/core/state"
	"streamvault/native/catalog"
	"streamvault/native/session"
	"streamvault/native/vault"
	"streamvault/observability"
	"streamvault/storage"
)

// Node owns the vault, catalog and session engines and serialises every
// mutation behind a single mutex. Reads go through the same lock so callers
// always observe fully committed state.
type Node struct {
	mu sync.Mutex

	vault    *vault.Engine
	catalog  *catalog.Registry
	sessions *session.Engine
	state    *state.Manager
	logger   *slog.Logger

	streamMu      sync.Mutex
	streamSeq     uint64
	streamNextID  uint64
	streamHistory []StreamEvent
	streamSubs    map[uint64]chan StreamEvent
}

// NodeConfig carries the engine parameters the node is booted with.
type NodeConfig struct {
	AdminAccount  string
	AnnualRateBps uint64
}

// NewNode wires the engines to the provided database and applies the
// configured accrual rate.
func NewNode(db storage.Database, cfg NodeConfig, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	manager := state.NewManager(db)

	n := &Node{
		vault:    vault.NewEngine(cfg.AdminAccount),
		catalog:  catalog.NewRegistry(cfg.AdminAccount),
		sessions: session.NewEngine(),
		state:    manager,
		logger:   logger.With("component", "node"),
	}
	n.vault.SetState(manager)
	n.catalog.SetState(manager)
	n.sessions.SetState(manager)
	n.sessions.SetLedger(&vaultLedger{engine: n.vault})
	n.sessions.SetCatalog(n.catalog)

	// Seed the accrual rate before the emitter is attached so boot does not
	// broadcast a rate-change event on every restart.
	if cfg.AnnualRateBps > 0 {
		global, err := manager.VaultGlobal()
		if err != nil {
			return nil, err
		}
		if global == nil {
			if err := n.vault.SetAnnualRate(cfg.AdminAccount, cfg.AnnualRateBps); err != nil {
				return nil, err
			}
		}
	}

	n.vault.SetEmitter(n)
	n.catalog.SetEmitter(n)
	n.sessions.SetEmitter(n)
	return n, nil
}

// vaultLedger adapts the vault engine to the session engine's settlement
// interface.
type vaultLedger struct {
	engine *vault.Engine
}

func (l *vaultLedger) Withdraw(account string, amount *big.Int) (*big.Int, *big.Int, error) {
	w, err := l.engine.Withdraw(account, amount)
	if err != nil {
		return nil, nil, err
	}
	return w.FromYield, w.FromPrincipal, nil
}

// --- vault operations ---

// Deposit credits principal to the beneficiary and returns the shares issued.
func (n *Node) Deposit(beneficiary string, amount *big.Int) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	shares, err := n.vault.Deposit(beneficiary, amount)
	if err != nil {
		return nil, err
	}
	if global, gerr := n.vault.Global(); gerr == nil && global != nil {
		observability.Vault().RecordDeposit(amount, global.TotalPrincipal)
	}
	n.logger.Info("deposit committed", "beneficiary", beneficiary, "amount", amount.String())
	return shares, nil
}

// Withdraw deducts the amount yield-first and reports the split.
func (n *Node) Withdraw(account string, amount *big.Int) (*vault.Withdrawal, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	w, err := n.vault.Withdraw(account, amount)
	if err != nil {
		return nil, err
	}
	if global, gerr := n.vault.Global(); gerr == nil && global != nil {
		observability.Vault().RecordWithdrawal(w.FromYield, w.FromPrincipal, global.TotalPrincipal)
	}
	n.logger.Info("withdrawal committed",
		"account", account,
		"amount", amount.String(),
		"fromYield", w.FromYield.String(),
		"fromPrincipal", w.FromPrincipal.String())
	return w, nil
}

// YieldOf returns the account's accrued-but-unclaimed yield including the
// projection up to now.
func (n *Node) YieldOf(account string) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.vault.YieldOf(account)
}

// TotalValueOf returns principal plus projected yield for the account.
func (n *Node) TotalValueOf(account string) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.vault.TotalValueOf(account)
}

// VaultPosition returns the raw stored position for the account.
func (n *Node) VaultPosition(account string) (*vault.Position, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.vault.Position(account)
}

// VaultGlobal returns the vault-wide accounting state.
func (n *Node) VaultGlobal() (*vault.GlobalState, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.vault.Global()
}

// InjectYield distributes an external yield amount across all shares.
func (n *Node) InjectYield(caller string, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.vault.InjectYield(caller, amount)
}

// SetAnnualRate swaps the accrual rate after settling the old one.
func (n *Node) SetAnnualRate(caller string, rateBps uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.vault.SetAnnualRate(caller, rateBps)
}

// --- catalog operations ---

// ListContent registers or replaces a catalog entry.
func (n *Node) ListContent(caller, contentID string, fullPrice *big.Int, durationSeconds uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.catalog.List(caller, contentID, fullPrice, durationSeconds)
}

// GetContent returns the catalog entry for the identifier.
func (n *Node) GetContent(contentID string) (*catalog.Entry, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.catalog.Get(contentID)
}

// ContentRate returns the per-second rate derived from the entry's full price
// and duration.
func (n *Node) ContentRate(contentID string) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.catalog.RatePerSecond(contentID)
}

// --- session operations ---

// StartSession opens a metered session. A zero or nil rate falls back to the
// catalog-derived per-second rate.
func (n *Node) StartSession(owner, contentID string, ratePerSecond *big.Int) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ratePerSecond == nil || ratePerSecond.Sign() == 0 {
		derived, err := n.catalog.RatePerSecond(contentID)
		if err != nil {
			// A catalog miss here is the same caller mistake as starting
			// against unlisted content with an explicit rate.
			if errors.Is(err, catalog.ErrNotFound) {
				return 0, session.ErrContentNotListed
			}
			return 0, err
		}
		ratePerSecond = derived
	}
	id, err := n.sessions.Start(owner, contentID, ratePerSecond)
	if err != nil {
		return 0, err
	}
	observability.Session().RecordTransition("start")
	n.logger.Info("session started", "sessionId", id, "owner", owner, "contentId", contentID)
	return id, nil
}

// PauseSession folds the running period into the consumption counter and
// returns the accumulated seconds.
func (n *Node) PauseSession(caller string, id uint64) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	consumed, err := n.sessions.Pause(caller, id)
	if err != nil {
		return 0, err
	}
	observability.Session().RecordTransition("pause")
	return consumed, nil
}

// ResumeSession restarts the metering clock on a paused session.
func (n *Node) ResumeSession(caller string, id uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.sessions.Resume(caller, id); err != nil {
		return err
	}
	observability.Session().RecordTransition("resume")
	return nil
}

// StopSession finalises the session, settles the charge against the vault and
// reports the outcome. The reported duration can only raise the charge above
// the internally metered time.
func (n *Node) StopSession(caller string, id uint64, reportedSeconds uint64) (*session.Settlement, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	settlement, err := n.sessions.Stop(caller, id, reportedSeconds)
	if err != nil {
		return nil, err
	}
	observability.Session().RecordTransition("stop")
	observability.Session().RecordSettlement(settlement.FromYield, settlement.FromPrincipal)
	n.logger.Info("session stopped",
		"sessionId", id,
		"owner", caller,
		"consumed", settlement.ConsumedSeconds,
		"charged", settlement.Charged.String())
	return settlement, nil
}

// SessionConsumed returns the accumulated seconds including any running
// period.
func (n *Node) SessionConsumed(id uint64) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions.ConsumedSeconds(id)
}

// SessionOwed projects the charge the session would settle for if stopped now.
func (n *Node) SessionOwed(id uint64) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions.AmountOwed(id)
}

// ActiveSessions returns the owner's playing and paused session identifiers.
func (n *Node) ActiveSessions(owner string) ([]uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions.ActiveSessions(owner)
}

// Sessions enumerates every stored session record in identifier order,
// regardless of owner or status.
func (n *Node) Sessions() ([]*session.Session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var sessions []*session.Session
	err := n.state.EachSession(func(sess *session.Session) bool {
		sessions = append(sessions, sess)
		return true
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetSession returns the stored session record.
func (n *Node) GetSession(id uint64) (*session.Session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions.Get(id)
}
