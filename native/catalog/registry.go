package catalog

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"streamvault/core/events"
)

var (
	errNilState = errors.New("catalog: state not configured")

	// ErrInvalidContentID rejects empty content identifiers.
	ErrInvalidContentID = errors.New("catalog: content id must not be empty")
	// ErrInvalidPrice rejects zero prices.
	ErrInvalidPrice = errors.New("catalog: price must be positive")
	// ErrInvalidDuration rejects zero durations.
	ErrInvalidDuration = errors.New("catalog: duration must be positive")
	// ErrNotAuthorized rejects listing attempts from non-administrators.
	ErrNotAuthorized = errors.New("catalog: caller is not the administrator")
	// ErrNotFound is returned for unknown content identifiers.
	ErrNotFound = errors.New("catalog: content not found")
)

// Entry describes one consumable catalog item. Entries are immutable once
// listed except through an administrator re-listing.
type Entry struct {
	ContentID       string
	FullPrice       *big.Int
	DurationSeconds uint64
	Listed          bool
	ListedAt        int64
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	if e.FullPrice != nil {
		clone.FullPrice = new(big.Int).Set(e.FullPrice)
	}
	return &clone
}

type registryState interface {
	CatalogEntry(contentID string) (*Entry, error)
	PutCatalogEntry(*Entry) error
}

// Registry maintains the static set of consumable items and their pricing.
type Registry struct {
	state   registryState
	emitter events.Emitter
	admin   string
	nowFn   func() int64
}

// NewRegistry constructs a catalog registry administered by the supplied identity.
func NewRegistry(admin string) *Registry {
	return &Registry{
		emitter: events.NoopEmitter{},
		admin:   strings.TrimSpace(admin),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the registry to the external persistence layer.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the time source for deterministic tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

// List records a content item as consumable. Only the administrator may list,
// and re-listing an existing id replaces its pricing.
func (r *Registry) List(caller, contentID string, fullPrice *big.Int, durationSeconds uint64) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if strings.TrimSpace(caller) == "" || caller != r.admin {
		return ErrNotAuthorized
	}
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return ErrInvalidContentID
	}
	if fullPrice == nil || fullPrice.Sign() <= 0 {
		return ErrInvalidPrice
	}
	if durationSeconds == 0 {
		return ErrInvalidDuration
	}

	existing, err := r.state.CatalogEntry(contentID)
	if err != nil {
		return err
	}
	relisted := existing != nil

	now := r.nowFn()
	entry := &Entry{
		ContentID:       contentID,
		FullPrice:       new(big.Int).Set(fullPrice),
		DurationSeconds: durationSeconds,
		Listed:          true,
		ListedAt:        now,
	}
	if err := r.state.PutCatalogEntry(entry); err != nil {
		return err
	}

	if r.emitter != nil {
		r.emitter.Emit(events.ContentListed{
			ContentID:       contentID,
			FullPrice:       new(big.Int).Set(fullPrice),
			DurationSeconds: durationSeconds,
			Relisted:        relisted,
			Timestamp:       now,
		})
	}
	return nil
}

// Get returns a copy of the entry for the given content id.
func (r *Registry) Get(contentID string) (*Entry, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	entry, err := r.state.CatalogEntry(strings.TrimSpace(contentID))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	return entry.Clone(), nil
}

// IsListed reports whether the content id is currently consumable.
func (r *Registry) IsListed(contentID string) (bool, error) {
	entry, err := r.state.CatalogEntry(strings.TrimSpace(contentID))
	if err != nil {
		return false, err
	}
	return entry != nil && entry.Listed, nil
}

// RatePerSecond derives a per-second consumption rate from the entry's full
// price and duration, rounded up so a full consumption never underpays the
// listed price.
func (r *Registry) RatePerSecond(contentID string) (*big.Int, error) {
	entry, err := r.Get(contentID)
	if err != nil {
		return nil, err
	}
	duration := new(big.Int).SetUint64(entry.DurationSeconds)
	rate := new(big.Int).Add(entry.FullPrice, new(big.Int).Sub(duration, big.NewInt(1)))
	return rate.Quo(rate, duration), nil
}
