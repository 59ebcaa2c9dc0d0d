package session

import "math/big"

// Status is the lifecycle state of a consumption session.
type Status string

const (
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
)

// Session is one bounded period of metered consumption of a catalog item by a
// single owner. The rate is fixed at creation; ConsumedSeconds accumulates
// across pause/resume cycles and is finalised on stop.
type Session struct {
	ID              uint64
	Owner           string
	ContentID       string
	RatePerSecond   *big.Int
	ConsumedSeconds uint64
	Status          Status
	PeriodStart     int64
	PausedAt        int64
	StartedAt       int64
}

// Clone returns a deep copy to avoid callers mutating shared pointers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.RatePerSecond != nil {
		clone.RatePerSecond = new(big.Int).Set(s.RatePerSecond)
	}
	return &clone
}

// Settlement reports the outcome of a stopped session: the final metered
// duration, the charged amount, and how the vault satisfied it.
type Settlement struct {
	ConsumedSeconds uint64
	Charged         *big.Int
	FromYield       *big.Int
	FromPrincipal   *big.Int
}
