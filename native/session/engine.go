package session

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"streamvault/core/events"
)

var (
	errNilState   = errors.New("session engine: state not configured")
	errNilLedger  = errors.New("session engine: settlement ledger not configured")
	errNilCatalog = errors.New("session engine: catalog not configured")

	// ErrInvalidContentID rejects empty content identifiers.
	ErrInvalidContentID = errors.New("session engine: content id must not be empty")
	// ErrInvalidOwner rejects empty owner identities.
	ErrInvalidOwner = errors.New("session engine: owner must not be empty")
	// ErrContentNotListed rejects sessions against unlisted content.
	ErrContentNotListed = errors.New("session engine: content not listed")
	// ErrInvalidRate rejects zero per-second rates.
	ErrInvalidRate = errors.New("session engine: rate must be positive")
	// ErrSessionNotFound is returned for unknown session identifiers.
	ErrSessionNotFound = errors.New("session engine: session not found")
	// ErrNotOwner rejects mutations from accounts other than the session owner.
	ErrNotOwner = errors.New("session engine: caller does not own session")
	// ErrNotPlaying rejects pause on a session that is not playing.
	ErrNotPlaying = errors.New("session engine: session is not playing")
	// ErrNotPaused rejects resume on a session that is not paused.
	ErrNotPaused = errors.New("session engine: session is not paused")
	// ErrAlreadyStopped rejects stop on a terminal session.
	ErrAlreadyStopped = errors.New("session engine: session already stopped")
	// ErrSessionActive rejects a second active session for the same owner and
	// content.
	ErrSessionActive = errors.New("session engine: active session already exists for content")
)

type engineState interface {
	SessionCounter() (uint64, error)
	PutSessionCounter(uint64) error
	Session(id uint64) (*Session, error)
	PutSession(*Session) error
	ActiveSessionIDs(owner string) ([]uint64, error)
	PutActiveSessionIDs(owner string, ids []uint64) error
}

// SettlementLedger is the single logical withdrawal operation the engine
// drives settlements through. The yield/principal split is computed inside the
// ledger against one accrual snapshot.
type SettlementLedger interface {
	Withdraw(account string, amount *big.Int) (fromYield, fromPrincipal *big.Int, err error)
}

// ContentCatalog exposes the listing check the engine performs on start.
type ContentCatalog interface {
	IsListed(contentID string) (bool, error)
}

// Engine is the per-session consumption state machine. Sessions are addressed
// by monotonically increasing identifiers, move Playing ⇄ Paused → Stopped,
// and settle their charge against the vault on stop. The engine is not safe
// for concurrent use; the owning node serializes every call.
type Engine struct {
	state   engineState
	ledger  SettlementLedger
	catalog ContentCatalog
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine constructs a session engine. The catalog and settlement ledger are
// wired separately by the owning node.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the settlement ledger the engine withdraws charges from.
func (e *Engine) SetLedger(ledger SettlementLedger) { e.ledger = ledger }

// SetCatalog wires the catalog consulted on session start.
func (e *Engine) SetCatalog(catalog ContentCatalog) { e.catalog = catalog }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
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

// Start opens a new session for the caller against listed content at a fixed
// per-second rate and returns its identifier. One active session per owner and
// content is allowed; concurrent sessions across different content are fine.
func (e *Engine) Start(owner, contentID string, ratePerSecond *big.Int) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if e.catalog == nil {
		return 0, errNilCatalog
	}
	if strings.TrimSpace(owner) == "" {
		return 0, ErrInvalidOwner
	}
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return 0, ErrInvalidContentID
	}
	if ratePerSecond == nil || ratePerSecond.Sign() <= 0 {
		return 0, ErrInvalidRate
	}
	listed, err := e.catalog.IsListed(contentID)
	if err != nil {
		return 0, err
	}
	if !listed {
		return 0, ErrContentNotListed
	}

	active, err := e.state.ActiveSessionIDs(owner)
	if err != nil {
		return 0, err
	}
	for _, id := range active {
		existing, err := e.state.Session(id)
		if err != nil {
			return 0, err
		}
		if existing != nil && existing.ContentID == contentID {
			return 0, ErrSessionActive
		}
	}

	counter, err := e.state.SessionCounter()
	if err != nil {
		return 0, err
	}
	id := counter + 1

	now := e.now()
	sess := &Session{
		ID:            id,
		Owner:         owner,
		ContentID:     contentID,
		RatePerSecond: new(big.Int).Set(ratePerSecond),
		Status:        StatusPlaying,
		PeriodStart:   now,
		StartedAt:     now,
	}

	if err := e.state.PutSessionCounter(id); err != nil {
		return 0, err
	}
	if err := e.state.PutSession(sess); err != nil {
		return 0, err
	}
	if err := e.state.PutActiveSessionIDs(owner, append(active, id)); err != nil {
		return 0, err
	}

	e.emit(events.SessionStarted{
		SessionID:     id,
		Owner:         owner,
		ContentID:     contentID,
		RatePerSecond: new(big.Int).Set(ratePerSecond),
		Timestamp:     now,
	})
	return id, nil
}

// Pause folds the running period into the consumed counter and suspends the
// session. Time spent paused never accrues.
func (e *Engine) Pause(caller string, id uint64) (uint64, error) {
	sess, err := e.loadOwned(caller, id)
	if err != nil {
		return 0, err
	}
	if sess.Status != StatusPlaying {
		return 0, ErrNotPlaying
	}
	now := e.now()
	sess.ConsumedSeconds += elapsedSeconds(sess.PeriodStart, now)
	sess.Status = StatusPaused
	sess.PausedAt = now
	if err := e.state.PutSession(sess); err != nil {
		return 0, err
	}
	e.emit(events.SessionPaused{
		SessionID:       id,
		Owner:           sess.Owner,
		ConsumedSeconds: sess.ConsumedSeconds,
		Timestamp:       now,
	})
	return sess.ConsumedSeconds, nil
}

// Resume restarts a paused session's running period.
func (e *Engine) Resume(caller string, id uint64) error {
	sess, err := e.loadOwned(caller, id)
	if err != nil {
		return err
	}
	if sess.Status != StatusPaused {
		return ErrNotPaused
	}
	now := e.now()
	sess.Status = StatusPlaying
	sess.PeriodStart = now
	sess.PausedAt = 0
	if err := e.state.PutSession(sess); err != nil {
		return err
	}
	e.emit(events.SessionResumed{SessionID: id, Owner: sess.Owner, Timestamp: now})
	return nil
}

// Stop finalises the session, settles the charge through the vault, and marks
// the session terminal. A caller-reported duration greater than or equal to
// the internally metered value is preferred; understatements are ignored. If
// settlement fails nothing commits: the session keeps its prior status and the
// error is surfaced to the caller.
func (e *Engine) Stop(caller string, id uint64, reportedSeconds uint64) (*Settlement, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	sess, err := e.loadOwned(caller, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusStopped {
		return nil, ErrAlreadyStopped
	}

	now := e.now()
	final := sess.ConsumedSeconds
	if sess.Status == StatusPlaying {
		final += elapsedSeconds(sess.PeriodStart, now)
	}
	if reportedSeconds >= final {
		final = reportedSeconds
	}

	charged := ChargeFor(sess.RatePerSecond, final)
	fromYield := big.NewInt(0)
	fromPrincipal := big.NewInt(0)
	if charged.Sign() > 0 {
		fromYield, fromPrincipal, err = e.ledger.Withdraw(sess.Owner, charged)
		if err != nil {
			return nil, fmt.Errorf("session engine: settlement: %w", err)
		}
	}

	sess.ConsumedSeconds = final
	sess.Status = StatusStopped
	sess.PeriodStart = 0
	sess.PausedAt = 0
	if err := e.state.PutSession(sess); err != nil {
		return nil, err
	}
	if err := e.removeActive(sess.Owner, id); err != nil {
		return nil, err
	}

	e.emit(events.SessionStopped{
		SessionID:       id,
		Owner:           sess.Owner,
		ContentID:       sess.ContentID,
		ConsumedSeconds: final,
		Charged:         new(big.Int).Set(charged),
		FromYield:       new(big.Int).Set(fromYield),
		FromPrincipal:   new(big.Int).Set(fromPrincipal),
		Timestamp:       now,
	})
	return &Settlement{
		ConsumedSeconds: final,
		Charged:         charged,
		FromYield:       fromYield,
		FromPrincipal:   fromPrincipal,
	}, nil
}

// ConsumedSeconds projects the session's current consumed time, folding in a
// still-running playing period, without mutating state.
func (e *Engine) ConsumedSeconds(id uint64) (uint64, error) {
	sess, err := e.load(id)
	if err != nil {
		return 0, err
	}
	consumed := sess.ConsumedSeconds
	if sess.Status == StatusPlaying {
		consumed += elapsedSeconds(sess.PeriodStart, e.now())
	}
	return consumed, nil
}

// AmountOwed projects the charge a stop at this instant would settle.
func (e *Engine) AmountOwed(id uint64) (*big.Int, error) {
	sess, err := e.load(id)
	if err != nil {
		return nil, err
	}
	consumed := sess.ConsumedSeconds
	if sess.Status == StatusPlaying {
		consumed += elapsedSeconds(sess.PeriodStart, e.now())
	}
	return ChargeFor(sess.RatePerSecond, consumed), nil
}

// ActiveSessions returns the identifiers of the owner's non-terminal sessions.
// Order is not meaningful; stop removal uses swap-and-pop.
func (e *Engine) ActiveSessions(owner string) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.ActiveSessionIDs(owner)
	if err != nil {
		return nil, err
	}
	return append([]uint64(nil), ids...), nil
}

// Get returns a copy of the stored session.
func (e *Engine) Get(id uint64) (*Session, error) {
	sess, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

func (e *Engine) load(id uint64) (*Session, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	sess, err := e.state.Session(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if sess.RatePerSecond == nil {
		sess.RatePerSecond = big.NewInt(0)
	}
	return sess, nil
}

func (e *Engine) loadOwned(caller string, id uint64) (*Session, error) {
	sess, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(caller) == "" || caller != sess.Owner {
		return nil, ErrNotOwner
	}
	return sess, nil
}

func (e *Engine) removeActive(owner string, id uint64) error {
	ids, err := e.state.ActiveSessionIDs(owner)
	if err != nil {
		return err
	}
	for i, candidate := range ids {
		if candidate == id {
			last := len(ids) - 1
			ids[i] = ids[last]
			ids = ids[:last]
			return e.state.PutActiveSessionIDs(owner, ids)
		}
	}
	return nil
}

func elapsedSeconds(start, now int64) uint64 {
	if start <= 0 || now <= start {
		return 0
	}
	return uint64(now - start)
}
