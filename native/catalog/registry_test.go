package catalog

import (
	"errors"
	"math/big"
	"testing"
)

type mockRegistryState struct {
	entries map[string]*Entry
}

func newMockRegistryState() *mockRegistryState {
	return &mockRegistryState{entries: make(map[string]*Entry)}
}

func (m *mockRegistryState) CatalogEntry(contentID string) (*Entry, error) {
	return m.entries[contentID], nil
}

func (m *mockRegistryState) PutCatalogEntry(entry *Entry) error {
	m.entries[entry.ContentID] = entry
	return nil
}

func newTestRegistry() (*Registry, *mockRegistryState) {
	registry := NewRegistry("admin")
	state := newMockRegistryState()
	registry.SetState(state)
	registry.SetNowFunc(func() int64 { return 1_700_000_000 })
	return registry, state
}

func TestListAndGet(t *testing.T) {
	registry, _ := newTestRegistry()
	if err := registry.List("admin", "movie-1", big.NewInt(9_000), 7_200); err != nil {
		t.Fatalf("list: %v", err)
	}
	entry, err := registry.Get("movie-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !entry.Listed || entry.FullPrice.Cmp(big.NewInt(9_000)) != 0 || entry.DurationSeconds != 7_200 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	listed, err := registry.IsListed("movie-1")
	if err != nil || !listed {
		t.Fatalf("expected listed, ok=%v err=%v", listed, err)
	}
}

func TestListValidation(t *testing.T) {
	registry, _ := newTestRegistry()
	if err := registry.List("admin", "", big.NewInt(1), 1); !errors.Is(err, ErrInvalidContentID) {
		t.Fatalf("expected ErrInvalidContentID, got %v", err)
	}
	if err := registry.List("admin", "movie-1", big.NewInt(0), 1); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	if err := registry.List("admin", "movie-1", big.NewInt(1), 0); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	if err := registry.List("mallory", "movie-1", big.NewInt(1), 1); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestRelistReplacesPricing(t *testing.T) {
	registry, _ := newTestRegistry()
	if err := registry.List("admin", "movie-1", big.NewInt(5_000), 3_600); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := registry.List("admin", "movie-1", big.NewInt(6_000), 1_800); err != nil {
		t.Fatalf("relist: %v", err)
	}
	entry, err := registry.Get("movie-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.FullPrice.Cmp(big.NewInt(6_000)) != 0 || entry.DurationSeconds != 1_800 {
		t.Fatalf("relist did not replace pricing: %+v", entry)
	}
}

func TestRatePerSecondRoundsUp(t *testing.T) {
	registry, _ := newTestRegistry()
	if err := registry.List("admin", "movie-1", big.NewInt(10), 3); err != nil {
		t.Fatalf("list: %v", err)
	}
	rate, err := registry.RatePerSecond("movie-1")
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if rate.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("expected ceil(10/3)=4, got %s", rate)
	}
}

func TestGetUnknownContent(t *testing.T) {
	registry, _ := newTestRegistry()
	if _, err := registry.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
