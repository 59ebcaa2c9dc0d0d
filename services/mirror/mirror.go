package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"streamvault/core"
	"streamvault/core/events"
)

// Mirror projects the node's session events into a relational store for
// reporting queries the key-value ledger cannot serve.
type Mirror struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New wires the mirror to an already migrated database.
func New(db *gorm.DB, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{db: db, logger: logger.With("component", "mirror")}
}

// Cursor returns the last applied stream cursor, empty before the first event.
func (m *Mirror) Cursor() (string, error) {
	var checkpoint Checkpoint
	err := m.db.First(&checkpoint, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if checkpoint.Cursor == 0 {
		return "", nil
	}
	return strconv.FormatUint(checkpoint.Cursor, 10), nil
}

// errEventGap signals that a live event skipped past the last applied
// sequence, meaning the subscription dropped events under backpressure.
var errEventGap = errors.New("mirror: stream sequence gap")

// Run subscribes to the node's stream from the stored checkpoint and applies
// events until the context ends. When the live feed skips a sequence the
// mirror resubscribes from its checkpoint so the dropped events replay from
// the retained history instead of being lost.
func (m *Mirror) Run(ctx context.Context, node *core.Node) error {
	for {
		err := m.sync(ctx, node)
		if errors.Is(err, errEventGap) {
			m.logger.Warn("stream gap detected, resubscribing from checkpoint")
			continue
		}
		return err
	}
}

func (m *Mirror) sync(ctx context.Context, node *core.Node) error {
	cursor, err := m.Cursor()
	if err != nil {
		return err
	}
	var last uint64
	if cursor != "" {
		last, err = strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return fmt.Errorf("mirror: malformed checkpoint cursor %q: %w", cursor, err)
		}
	}

	updates, cancel, backlog, err := node.EventsSubscribe(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	for _, evt := range backlog {
		// The backlog is the best history available; events trimmed from the
		// retention window cannot be recovered, so a residual gap is applied
		// past rather than looped on.
		if evt.Sequence > last+1 {
			m.logger.Warn("stream history trimmed past checkpoint", "from", last, "to", evt.Sequence)
		}
		if err := m.Apply(evt); err != nil {
			return err
		}
		last = evt.Sequence
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			last, err = m.applyLive(last, evt)
			if err != nil {
				return err
			}
		}
	}
}

// applyLive applies one live event. Already-applied sequences are skipped;
// a sequence beyond last+1 reports errEventGap so the caller can resubscribe
// and replay the missed events from the retained history.
func (m *Mirror) applyLive(last uint64, evt core.StreamEvent) (uint64, error) {
	if evt.Sequence <= last {
		return last, nil
	}
	if evt.Sequence > last+1 {
		return last, errEventGap
	}
	if err := m.Apply(evt); err != nil {
		m.logger.Error("apply event failed", "cursor", evt.Cursor, "type", evt.Type, "error", err)
		return last, err
	}
	return evt.Sequence, nil
}

// Apply projects one stream event and advances the checkpoint. Events the
// mirror does not track (vault and catalog types) only move the cursor.
func (m *Mirror) Apply(evt core.StreamEvent) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		switch evt.Type {
		case events.TypeSessionStarted:
			if err := m.applyStarted(tx, evt); err != nil {
				return err
			}
		case events.TypeSessionPaused:
			if err := m.applyProgress(tx, evt, "paused"); err != nil {
				return err
			}
		case events.TypeSessionResumed:
			if err := m.applyStatus(tx, evt, "playing"); err != nil {
				return err
			}
		case events.TypeSessionStopped:
			if err := m.applyStopped(tx, evt); err != nil {
				return err
			}
		}
		return m.advance(tx, evt.Sequence)
	})
}

func (m *Mirror) applyStarted(tx *gorm.DB, evt core.StreamEvent) error {
	id, err := attrUint(evt, "sessionId")
	if err != nil {
		return err
	}
	row := SessionRow{
		ID:            uuid.New(),
		SessionID:     id,
		Owner:         evt.Attributes["owner"],
		ContentID:     evt.Attributes["contentId"],
		RatePerSecond: evt.Attributes["rate"],
		Status:        "playing",
	}
	return tx.Create(&row).Error
}

func (m *Mirror) applyProgress(tx *gorm.DB, evt core.StreamEvent, status string) error {
	id, err := attrUint(evt, "sessionId")
	if err != nil {
		return err
	}
	consumed, err := attrUint(evt, "consumed")
	if err != nil {
		return err
	}
	return tx.Model(&SessionRow{}).Where("session_id = ?", id).Updates(map[string]interface{}{
		"status":           status,
		"consumed_seconds": consumed,
	}).Error
}

func (m *Mirror) applyStatus(tx *gorm.DB, evt core.StreamEvent, status string) error {
	id, err := attrUint(evt, "sessionId")
	if err != nil {
		return err
	}
	return tx.Model(&SessionRow{}).Where("session_id = ?", id).Update("status", status).Error
}

func (m *Mirror) applyStopped(tx *gorm.DB, evt core.StreamEvent) error {
	id, err := attrUint(evt, "sessionId")
	if err != nil {
		return err
	}
	consumed, err := attrUint(evt, "consumed")
	if err != nil {
		return err
	}
	return tx.Model(&SessionRow{}).Where("session_id = ?", id).Updates(map[string]interface{}{
		"status":           "stopped",
		"consumed_seconds": consumed,
		"charged":          evt.Attributes["charged"],
		"from_yield":       evt.Attributes["fromYield"],
		"from_principal":   evt.Attributes["fromPrincipal"],
	}).Error
}

func (m *Mirror) advance(tx *gorm.DB, sequence uint64) error {
	checkpoint := Checkpoint{ID: 1, Cursor: sequence}
	return tx.Save(&checkpoint).Error
}

func attrUint(evt core.StreamEvent, key string) (uint64, error) {
	raw, ok := evt.Attributes[key]
	if !ok {
		return 0, fmt.Errorf("mirror: event %s missing attribute %q", evt.Type, key)
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("mirror: event %s attribute %q: %w", evt.Type, key, err)
	}
	return value, nil
}
