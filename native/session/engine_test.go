package session

import (
	"errors"
	"math/big"
	"testing"
)

type mockEngineState struct {
	counter  uint64
	sessions map[uint64]*Session
	active   map[string][]uint64
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		sessions: make(map[uint64]*Session),
		active:   make(map[string][]uint64),
	}
}

func (m *mockEngineState) SessionCounter() (uint64, error) { return m.counter, nil }

func (m *mockEngineState) PutSessionCounter(v uint64) error {
	m.counter = v
	return nil
}

func (m *mockEngineState) Session(id uint64) (*Session, error) {
	if sess, ok := m.sessions[id]; ok {
		return sess.Clone(), nil
	}
	return nil, nil
}

func (m *mockEngineState) PutSession(sess *Session) error {
	m.sessions[sess.ID] = sess.Clone()
	return nil
}

func (m *mockEngineState) ActiveSessionIDs(owner string) ([]uint64, error) {
	return append([]uint64(nil), m.active[owner]...), nil
}

func (m *mockEngineState) PutActiveSessionIDs(owner string, ids []uint64) error {
	m.active[owner] = append([]uint64(nil), ids...)
	return nil
}

type stubCatalog struct {
	listed map[string]bool
}

func (c *stubCatalog) IsListed(contentID string) (bool, error) {
	return c.listed[contentID], nil
}

var errStubInsufficient = errors.New("stub ledger: insufficient balance")

// stubLedger mimics the vault's yield-first split against fixed buckets.
type stubLedger struct {
	yield     *big.Int
	principal *big.Int
	calls     int
}

func (l *stubLedger) Withdraw(account string, amount *big.Int) (*big.Int, *big.Int, error) {
	l.calls++
	total := new(big.Int).Add(l.yield, l.principal)
	if amount.Cmp(total) > 0 {
		return nil, nil, errStubInsufficient
	}
	fromYield := new(big.Int).Set(amount)
	if fromYield.Cmp(l.yield) > 0 {
		fromYield.Set(l.yield)
	}
	fromPrincipal := new(big.Int).Sub(amount, fromYield)
	l.yield.Sub(l.yield, fromYield)
	l.principal.Sub(l.principal, fromPrincipal)
	return fromYield, fromPrincipal, nil
}

type testRig struct {
	engine *Engine
	state  *mockEngineState
	ledger *stubLedger
	now    int64
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		state:  newMockEngineState(),
		ledger: &stubLedger{yield: big.NewInt(1_000_000), principal: big.NewInt(1_000_000)},
		now:    1_700_000_000,
	}
	rig.engine = NewEngine()
	rig.engine.SetState(rig.state)
	rig.engine.SetLedger(rig.ledger)
	rig.engine.SetCatalog(&stubCatalog{listed: map[string]bool{"movie-1": true, "movie-2": true}})
	rig.engine.SetNowFunc(func() int64 { return rig.now })
	return rig
}

func TestStartAllocatesMonotonicIDs(t *testing.T) {
	rig := newTestRig(t)
	first, err := rig.engine.Start("alice", "movie-1", big.NewInt(10))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, err := rig.engine.Start("alice", "movie-2", big.NewInt(10))
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", first, second)
	}
	active, err := rig.engine.ActiveSessions("alice")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active sessions, got %v", active)
	}
}

func TestStartValidation(t *testing.T) {
	rig := newTestRig(t)
	if _, err := rig.engine.Start("alice", "", big.NewInt(10)); !errors.Is(err, ErrInvalidContentID) {
		t.Fatalf("expected ErrInvalidContentID, got %v", err)
	}
	if _, err := rig.engine.Start("alice", "movie-1", big.NewInt(0)); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate, got %v", err)
	}
	if _, err := rig.engine.Start("alice", "unlisted", big.NewInt(10)); !errors.Is(err, ErrContentNotListed) {
		t.Fatalf("expected ErrContentNotListed, got %v", err)
	}
}

func TestStartRejectsDoubleSessionForSameContent(t *testing.T) {
	rig := newTestRig(t)
	if _, err := rig.engine.Start("alice", "movie-1", big.NewInt(10)); err != nil {
		t.Fatalf("start: %v", err)
	}
	counterBefore := rig.state.counter
	if _, err := rig.engine.Start("alice", "movie-1", big.NewInt(10)); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	if rig.state.counter != counterBefore {
		t.Fatalf("failed start mutated the counter")
	}
	// A different account is free to consume the same content.
	if _, err := rig.engine.Start("bob", "movie-1", big.NewInt(10)); err != nil {
		t.Fatalf("start for bob: %v", err)
	}
}

func TestPauseResumeTimeAccounting(t *testing.T) {
	rig := newTestRig(t)
	id, err := rig.engine.Start("alice", "movie-1", big.NewInt(10))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	rig.now += 30 // t1: playing
	consumed, err := rig.engine.Pause("alice", id)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if consumed != 30 {
		t.Fatalf("expected 30s folded on pause, got %d", consumed)
	}

	rig.now += 300 // t2: paused, must not accrue
	if err := rig.engine.Resume("alice", id); err != nil {
		t.Fatalf("resume: %v", err)
	}

	rig.now += 45 // t3: playing again
	got, err := rig.engine.ConsumedSeconds(id)
	if err != nil {
		t.Fatalf("consumed: %v", err)
	}
	if got != 75 {
		t.Fatalf("expected t1+t3=75, got %d", got)
	}
}

func TestPauseRequiresPlaying(t *testing.T) {
	rig := newTestRig(t)
	id, err := rig.engine.Start("alice", "movie-1", big.NewInt(10))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := rig.engine.Pause("alice", id); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := rig.engine.Pause("alice", id); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("expected ErrNotPlaying, got %v", err)
	}
	if err := rig.engine.Resume("alice", id); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := rig.engine.Resume("alice", id); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("expected ErrNotPaused, got %v", err)
	}
}

func TestOwnershipEnforcedOnMutations(t *testing.T) {
	rig := newTestRig(t)
	id, err := rig.engine.Start("alice", "movie-1", big.NewInt(10))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := rig.engine.Pause("mallory", id); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("pause: expected ErrNotOwner, got %v", err)
	}
	if err := rig.engine.Resume("mallory", id); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("resume: expected ErrNotOwner, got %v", err)
	}
	if _, err := rig.engine.Stop("mallory", id, 0); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("stop: expected ErrNotOwner, got %v", err)
	}
}

func TestStopChargesRoundedAmount(t *testing.T) {
	rig := newTestRig(t)
	id, err := rig.engine.Start("alice", "movie-1", big.NewInt(333))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.now += 7

	settlement, err := rig.engine.Stop("alice", id, 0)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if settlement.ConsumedSeconds != 7 {
		t.Fatalf("expected 7s, got %d", settlement.ConsumedSeconds)
	}
	// 7 * 333 = 2331, rounded up to the nearest 1000.
	if settlement.Charged.Cmp(big.NewInt(3_000)) != 0 {
		t.Fatalf("expected 3000 charged, got %s", settlement.Charged)
	}
	sess := rig.state.sessions[id]
	if sess.Status != StatusStopped {
		t.Fatalf("expected stopped, got %s", sess.Status)
	}
	if len(rig.state.active["alice"]) != 0 {
		t.Fatalf("expected empty active list, got %v", rig.state.active["alice"])
	}
}

func TestStopImmediatelyChargesNothing(t *testing.T) {
	rig := newTestRig(t)
	id, err := rig.engine.Start("alice", "movie-1", big.NewInt(333))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	settlement, err := rig.engine.Stop("alice", id, 0)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if settlement.Charged.Sign() != 0 || settlement.ConsumedSeconds != 0 {
		t.Fatalf("expected free zero-length session, got %+v", settlement)
	}
	if rig.ledger.calls != 0 {
		t.Fatalf("zero-consumption stop must not touch the ledger")
	}
}

func TestStopPrefersGreaterReportedDuration(t *testing.T) {
	rig := newTestRig(t)
	id, err := rig.engine.Start("alice", "movie-1", big.NewInt(1))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.now += 10

	settlement, err := rig.engine.Stop("alice", id, 25)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if settlement.ConsumedSeconds != 25 {
		t.Fatalf("expected reported 25s to win, got %d", settlement.ConsumedSeconds)
	}
}

func TestStopIgnoresLesserReportedDuration(t *testing.T) {
	rig := newTestRig(t)
	id, err := rig.engine.Start("alice", "movie-1", big.NewInt(1))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.now += 60

	settlement, err := rig.engine.Stop("alice", id, 5)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if settlement.ConsumedSeconds != 60 {
		t.Fatalf("understated duration must be ignored, got %d", settlement.ConsumedSeconds)
	}
}

func TestStopFoldsPausedTimeOnly(t *testing.T) {
	rig := newTestRig(t)
	id, err := rig.engine.Start("alice", "movie-1", big.NewInt(10))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.now += 20
	if _, err := rig.engine.Pause("alice", id); err != nil {
		t.Fatalf("pause: %v", err)
	}
	rig.now += 500 // paused gap

	settlement, err := rig.engine.Stop("alice", id, 0)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if settlement.ConsumedSeconds != 20 {
		t.Fatalf("expected 20s, got %d", settlement.ConsumedSeconds)
	}
}

func TestFailedSettlementDoesNotCommitStop(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.yield = big.NewInt(0)
	rig.ledger.principal = big.NewInt(100) // cannot cover any rounded charge

	id, err := rig.engine.Start("alice", "movie-1", big.NewInt(333))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.now += 7

	if _, err := rig.engine.Stop("alice", id, 0); !errors.Is(err, errStubInsufficient) {
		t.Fatalf("expected settlement error, got %v", err)
	}
	sess := rig.state.sessions[id]
	if sess.Status != StatusPlaying {
		t.Fatalf("failed stop must leave the session playing, got %s", sess.Status)
	}
	if len(rig.state.active["alice"]) != 1 {
		t.Fatalf("failed stop must keep the active list, got %v", rig.state.active["alice"])
	}

	// A later deposit makes the same stop succeed.
	rig.ledger.principal = big.NewInt(10_000)
	rig.now += 3
	settlement, err := rig.engine.Stop("alice", id, 0)
	if err != nil {
		t.Fatalf("retry stop: %v", err)
	}
	if settlement.ConsumedSeconds != 10 {
		t.Fatalf("expected 10s after retry, got %d", settlement.ConsumedSeconds)
	}
}

func TestStopAlreadyStopped(t *testing.T) {
	rig := newTestRig(t)
	id, err := rig.engine.Start("alice", "movie-1", big.NewInt(1))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := rig.engine.Stop("alice", id, 0); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := rig.engine.Stop("alice", id, 0); !errors.Is(err, ErrAlreadyStopped) {
		t.Fatalf("expected ErrAlreadyStopped, got %v", err)
	}
}

func TestStopUnknownSession(t *testing.T) {
	rig := newTestRig(t)
	if _, err := rig.engine.Stop("alice", 42, 0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAmountOwedProjection(t *testing.T) {
	rig := newTestRig(t)
	id, err := rig.engine.Start("alice", "movie-1", big.NewInt(333))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.now += 7

	owed, err := rig.engine.AmountOwed(id)
	if err != nil {
		t.Fatalf("owed: %v", err)
	}
	if owed.Cmp(big.NewInt(3_000)) != 0 {
		t.Fatalf("expected projected 3000, got %s", owed)
	}
	if rig.ledger.calls != 0 {
		t.Fatalf("projection must not settle")
	}
	sess := rig.state.sessions[id]
	if sess.Status != StatusPlaying || sess.ConsumedSeconds != 0 {
		t.Fatalf("projection mutated session state: %+v", sess)
	}
}

func TestSwapAndPopRemoval(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.SetCatalog(&stubCatalog{listed: map[string]bool{"a": true, "b": true, "c": true}})
	var ids []uint64
	for _, content := range []string{"a", "b", "c"} {
		id, err := rig.engine.Start("alice", content, big.NewInt(1))
		if err != nil {
			t.Fatalf("start %s: %v", content, err)
		}
		ids = append(ids, id)
	}
	if _, err := rig.engine.Stop("alice", ids[0], 0); err != nil {
		t.Fatalf("stop: %v", err)
	}
	active, err := rig.engine.ActiveSessions("alice")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 remaining, got %v", active)
	}
	for _, id := range active {
		if id == ids[0] {
			t.Fatalf("stopped id still active: %v", active)
		}
	}
}
