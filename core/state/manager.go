package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"streamvault/native/catalog"
	"streamvault/native/session"
	"streamvault/native/vault"
	"streamvault/storage"
)

var (
	vaultGlobalKey      = []byte("vault/global")
	vaultPositionPrefix = []byte("vault/position/")
	catalogEntryPrefix  = []byte("catalog/entry/")
	sessionCounterKey   = []byte("session/counter")
	sessionRecordPrefix = []byte("session/record/")
	sessionActivePrefix = []byte("session/active/")
)

func prefixedKey(prefix []byte, suffix string) []byte {
	key := make([]byte, 0, len(prefix)+len(suffix))
	key = append(key, prefix...)
	return append(key, suffix...)
}

// Manager binds the vault, catalog and session engines to a key-value store.
// Records are RLP encoded; timestamps are stored unsigned because RLP has no
// signed integer encoding.
type Manager struct {
	db storage.Database
}

// NewManager wraps the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, raw)
}

// --- vault ---

type storedGlobal struct {
	TotalShares     *big.Int
	TotalPrincipal  *big.Int
	YieldPerShare   *big.Int
	LastAccrualTime uint64
	AnnualRateBps   uint64
}

type storedPosition struct {
	Owner     string
	Shares    *big.Int
	Principal *big.Int
	YieldDebt *big.Int
}

// VaultGlobal loads the vault-wide state, returning nil when none exists yet.
func (m *Manager) VaultGlobal() (*vault.GlobalState, error) {
	var stored storedGlobal
	ok, err := m.get(vaultGlobalKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &vault.GlobalState{
		TotalShares:     stored.TotalShares,
		TotalPrincipal:  stored.TotalPrincipal,
		YieldPerShare:   stored.YieldPerShare,
		LastAccrualTime: int64(stored.LastAccrualTime),
		AnnualRateBps:   stored.AnnualRateBps,
	}, nil
}

// PutVaultGlobal persists the vault-wide state.
func (m *Manager) PutVaultGlobal(global *vault.GlobalState) error {
	if global == nil {
		return fmt.Errorf("state: nil vault global")
	}
	return m.put(vaultGlobalKey, &storedGlobal{
		TotalShares:     nonNil(global.TotalShares),
		TotalPrincipal:  nonNil(global.TotalPrincipal),
		YieldPerShare:   nonNil(global.YieldPerShare),
		LastAccrualTime: unsigned(global.LastAccrualTime),
		AnnualRateBps:   global.AnnualRateBps,
	})
}

// VaultPosition loads one depositor position, returning nil when absent.
func (m *Manager) VaultPosition(owner string) (*vault.Position, error) {
	var stored storedPosition
	ok, err := m.get(prefixedKey(vaultPositionPrefix, owner), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &vault.Position{
		Owner:     stored.Owner,
		Shares:    stored.Shares,
		Principal: stored.Principal,
		YieldDebt: stored.YieldDebt,
	}, nil
}

// PutVaultPosition persists one depositor position.
func (m *Manager) PutVaultPosition(pos *vault.Position) error {
	if pos == nil {
		return fmt.Errorf("state: nil vault position")
	}
	return m.put(prefixedKey(vaultPositionPrefix, pos.Owner), &storedPosition{
		Owner:     pos.Owner,
		Shares:    nonNil(pos.Shares),
		Principal: nonNil(pos.Principal),
		YieldDebt: nonNil(pos.YieldDebt),
	})
}

// --- catalog ---

type storedEntry struct {
	ContentID       string
	FullPrice       *big.Int
	DurationSeconds uint64
	Listed          bool
	ListedAt        uint64
}

// CatalogEntry loads one catalog entry, returning nil when absent.
func (m *Manager) CatalogEntry(contentID string) (*catalog.Entry, error) {
	var stored storedEntry
	ok, err := m.get(prefixedKey(catalogEntryPrefix, contentID), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &catalog.Entry{
		ContentID:       stored.ContentID,
		FullPrice:       stored.FullPrice,
		DurationSeconds: stored.DurationSeconds,
		Listed:          stored.Listed,
		ListedAt:        int64(stored.ListedAt),
	}, nil
}

// PutCatalogEntry persists one catalog entry.
func (m *Manager) PutCatalogEntry(entry *catalog.Entry) error {
	if entry == nil {
		return fmt.Errorf("state: nil catalog entry")
	}
	return m.put(prefixedKey(catalogEntryPrefix, entry.ContentID), &storedEntry{
		ContentID:       entry.ContentID,
		FullPrice:       nonNil(entry.FullPrice),
		DurationSeconds: entry.DurationSeconds,
		Listed:          entry.Listed,
		ListedAt:        unsigned(entry.ListedAt),
	})
}

// --- sessions ---

type storedSession struct {
	ID              uint64
	Owner           string
	ContentID       string
	RatePerSecond   *big.Int
	ConsumedSeconds uint64
	Status          string
	PeriodStart     uint64
	PausedAt        uint64
	StartedAt       uint64
}

// SessionCounter returns the last allocated session identifier (zero before
// the first session).
func (m *Manager) SessionCounter() (uint64, error) {
	raw, err := m.db.Get(sessionCounterKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: malformed session counter")
	}
	return binary.BigEndian.Uint64(raw), nil
}

// PutSessionCounter persists the last allocated session identifier.
func (m *Manager) PutSessionCounter(v uint64) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, v)
	return m.db.Put(sessionCounterKey, raw)
}

// Session loads one session record, returning nil when absent.
func (m *Manager) Session(id uint64) (*session.Session, error) {
	var stored storedSession
	ok, err := m.get(sessionKey(id), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &session.Session{
		ID:              stored.ID,
		Owner:           stored.Owner,
		ContentID:       stored.ContentID,
		RatePerSecond:   stored.RatePerSecond,
		ConsumedSeconds: stored.ConsumedSeconds,
		Status:          session.Status(stored.Status),
		PeriodStart:     int64(stored.PeriodStart),
		PausedAt:        int64(stored.PausedAt),
		StartedAt:       int64(stored.StartedAt),
	}, nil
}

// PutSession persists one session record.
func (m *Manager) PutSession(sess *session.Session) error {
	if sess == nil {
		return fmt.Errorf("state: nil session")
	}
	return m.put(sessionKey(sess.ID), &storedSession{
		ID:              sess.ID,
		Owner:           sess.Owner,
		ContentID:       sess.ContentID,
		RatePerSecond:   nonNil(sess.RatePerSecond),
		ConsumedSeconds: sess.ConsumedSeconds,
		Status:          string(sess.Status),
		PeriodStart:     unsigned(sess.PeriodStart),
		PausedAt:        unsigned(sess.PausedAt),
		StartedAt:       unsigned(sess.StartedAt),
	})
}

// EachSession walks every stored session record in identifier order.
// Returning false from fn stops the walk early.
func (m *Manager) EachSession(fn func(*session.Session) bool) error {
	var decodeErr error
	err := m.db.IteratePrefix(sessionRecordPrefix, func(key, value []byte) bool {
		var stored storedSession
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			decodeErr = fmt.Errorf("state: decode %q: %w", key, err)
			return false
		}
		return fn(&session.Session{
			ID:              stored.ID,
			Owner:           stored.Owner,
			ContentID:       stored.ContentID,
			RatePerSecond:   stored.RatePerSecond,
			ConsumedSeconds: stored.ConsumedSeconds,
			Status:          session.Status(stored.Status),
			PeriodStart:     int64(stored.PeriodStart),
			PausedAt:        int64(stored.PausedAt),
			StartedAt:       int64(stored.StartedAt),
		})
	})
	if decodeErr != nil {
		return decodeErr
	}
	return err
}

// ActiveSessionIDs returns the owner's active session identifiers.
func (m *Manager) ActiveSessionIDs(owner string) ([]uint64, error) {
	var ids []uint64
	ok, err := m.get(prefixedKey(sessionActivePrefix, owner), &ids)
	if err != nil || !ok {
		return nil, err
	}
	return ids, nil
}

// PutActiveSessionIDs persists the owner's active session identifiers. An
// empty list deletes the key.
func (m *Manager) PutActiveSessionIDs(owner string, ids []uint64) error {
	key := prefixedKey(sessionActivePrefix, owner)
	if len(ids) == 0 {
		return m.db.Delete(key)
	}
	return m.put(key, ids)
}

func sessionKey(id uint64) []byte {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, id)
	return append(append([]byte(nil), sessionRecordPrefix...), raw...)
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func unsigned(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
