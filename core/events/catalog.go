package events

import "math/big"

const TypeContentListed = "catalog.listed"

// ContentListed records a catalog entry becoming available for consumption.
type ContentListed struct {
	ContentID       string
	FullPrice       *big.Int
	DurationSeconds uint64
	Relisted        bool
	Timestamp       int64
}

func (ContentListed) EventType() string { return TypeContentListed }

func (e ContentListed) Attributes() map[string]string {
	relisted := "false"
	if e.Relisted {
		relisted = "true"
	}
	return map[string]string{
		"contentId": e.ContentID,
		"fullPrice": formatAmount(e.FullPrice),
		"duration":  uintToString(e.DurationSeconds),
		"relisted":  relisted,
		"timestamp": intToString(e.Timestamp),
	}
}
