package events

import "math/big"

const (
	TypeSessionStarted = "session.started"
	TypeSessionPaused  = "session.paused"
	TypeSessionResumed = "session.resumed"
	TypeSessionStopped = "session.stopped"
)

// SessionStarted records a new metered consumption session.
type SessionStarted struct {
	SessionID     uint64
	Owner         string
	ContentID     string
	RatePerSecond *big.Int
	Timestamp     int64
}

func (SessionStarted) EventType() string { return TypeSessionStarted }

func (e SessionStarted) Attributes() map[string]string {
	return map[string]string{
		"sessionId": uintToString(e.SessionID),
		"owner":     e.Owner,
		"contentId": e.ContentID,
		"rate":      formatAmount(e.RatePerSecond),
		"timestamp": intToString(e.Timestamp),
	}
}

// SessionPaused records a playing session folding its running period into the
// accumulated consumption counter.
type SessionPaused struct {
	SessionID       uint64
	Owner           string
	ConsumedSeconds uint64
	Timestamp       int64
}

func (SessionPaused) EventType() string { return TypeSessionPaused }

func (e SessionPaused) Attributes() map[string]string {
	return map[string]string{
		"sessionId": uintToString(e.SessionID),
		"owner":     e.Owner,
		"consumed":  uintToString(e.ConsumedSeconds),
		"timestamp": intToString(e.Timestamp),
	}
}

// SessionResumed records a paused session starting a fresh running period.
type SessionResumed struct {
	SessionID uint64
	Owner     string
	Timestamp int64
}

func (SessionResumed) EventType() string { return TypeSessionResumed }

func (e SessionResumed) Attributes() map[string]string {
	return map[string]string{
		"sessionId": uintToString(e.SessionID),
		"owner":     e.Owner,
		"timestamp": intToString(e.Timestamp),
	}
}

// SessionStopped records the terminal transition together with the settled
// charge and its yield/principal split.
type SessionStopped struct {
	SessionID       uint64
	Owner           string
	ContentID       string
	ConsumedSeconds uint64
	Charged         *big.Int
	FromYield       *big.Int
	FromPrincipal   *big.Int
	Timestamp       int64
}

func (SessionStopped) EventType() string { return TypeSessionStopped }

func (e SessionStopped) Attributes() map[string]string {
	return map[string]string{
		"sessionId":     uintToString(e.SessionID),
		"owner":         e.Owner,
		"contentId":     e.ContentID,
		"consumed":      uintToString(e.ConsumedSeconds),
		"charged":       formatAmount(e.Charged),
		"fromYield":     formatAmount(e.FromYield),
		"fromPrincipal": formatAmount(e.FromPrincipal),
		"timestamp":     intToString(e.Timestamp),
	}
}
