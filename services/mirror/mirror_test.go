package mirror

import (
	"context"
	"log/slog"
	"math/big"
	"strconv"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"streamvault/core"
	"streamvault/core/events"
	"streamvault/storage"
)

func newTestMirror(t *testing.T) *Mirror {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		db.Exec("DELETE FROM session_rows")
		db.Exec("DELETE FROM checkpoints")
	})
	return New(db, slog.Default())
}

func startedEvent(seq, sessionID uint64) core.StreamEvent {
	return core.StreamEvent{
		Sequence: seq,
		Type:     events.TypeSessionStarted,
		Attributes: map[string]string{
			"sessionId": strconv.FormatUint(sessionID, 10),
			"owner":     "alice",
			"contentId": "movie-1",
			"rate":      "3",
			"timestamp": "2000000000",
		},
	}
}

func TestApplyLifecycle(t *testing.T) {
	m := newTestMirror(t)

	require.NoError(t, m.Apply(startedEvent(1, 7)))

	var row SessionRow
	require.NoError(t, m.db.Where("session_id = ?", 7).First(&row).Error)
	require.Equal(t, "playing", row.Status)
	require.Equal(t, "alice", row.Owner)
	require.Equal(t, "3", row.RatePerSecond)

	require.NoError(t, m.Apply(core.StreamEvent{
		Sequence: 2,
		Type:     events.TypeSessionPaused,
		Attributes: map[string]string{
			"sessionId": "7",
			"owner":     "alice",
			"consumed":  "120",
			"timestamp": "2000000120",
		},
	}))
	require.NoError(t, m.db.Where("session_id = ?", 7).First(&row).Error)
	require.Equal(t, "paused", row.Status)
	require.Equal(t, uint64(120), row.ConsumedSeconds)

	require.NoError(t, m.Apply(core.StreamEvent{
		Sequence: 3,
		Type:     events.TypeSessionResumed,
		Attributes: map[string]string{
			"sessionId": "7",
			"owner":     "alice",
			"timestamp": "2000000200",
		},
	}))
	require.NoError(t, m.db.Where("session_id = ?", 7).First(&row).Error)
	require.Equal(t, "playing", row.Status)

	require.NoError(t, m.Apply(core.StreamEvent{
		Sequence: 4,
		Type:     events.TypeSessionStopped,
		Attributes: map[string]string{
			"sessionId":     "7",
			"owner":         "alice",
			"contentId":     "movie-1",
			"consumed":      "150",
			"charged":       "1000",
			"fromYield":     "400",
			"fromPrincipal": "600",
			"timestamp":     "2000000230",
		},
	}))
	require.NoError(t, m.db.Where("session_id = ?", 7).First(&row).Error)
	require.Equal(t, "stopped", row.Status)
	require.Equal(t, uint64(150), row.ConsumedSeconds)
	require.Equal(t, "1000", row.Charged)
	require.Equal(t, "400", row.FromYield)
	require.Equal(t, "600", row.FromPrincipal)

	cursor, err := m.Cursor()
	require.NoError(t, err)
	require.Equal(t, "4", cursor)
}

func TestApplyIgnoresVaultEvents(t *testing.T) {
	m := newTestMirror(t)

	require.NoError(t, m.Apply(core.StreamEvent{
		Sequence: 9,
		Type:     events.TypeVaultDeposited,
		Attributes: map[string]string{
			"beneficiary": "alice",
			"amount":      "1000",
		},
	}))

	var count int64
	require.NoError(t, m.db.Model(&SessionRow{}).Count(&count).Error)
	require.Zero(t, count)

	cursor, err := m.Cursor()
	require.NoError(t, err)
	require.Equal(t, "9", cursor)
}

func TestApplyLiveGapTriggersResubscribe(t *testing.T) {
	m := newTestMirror(t)

	require.NoError(t, m.Apply(startedEvent(1, 7)))

	last, err := m.applyLive(1, startedEvent(5, 9))
	require.ErrorIs(t, err, errEventGap)
	require.Equal(t, uint64(1), last)

	// Nothing was applied and the checkpoint did not advance past the gap.
	var count int64
	require.NoError(t, m.db.Model(&SessionRow{}).Where("session_id = ?", 9).Count(&count).Error)
	require.Zero(t, count)
	cursor, err := m.Cursor()
	require.NoError(t, err)
	require.Equal(t, "1", cursor)
}

func TestApplyLiveSkipsReplayedSequences(t *testing.T) {
	m := newTestMirror(t)

	require.NoError(t, m.Apply(startedEvent(1, 7)))

	last, err := m.applyLive(1, startedEvent(1, 7))
	require.NoError(t, err)
	require.Equal(t, uint64(1), last)

	var count int64
	require.NoError(t, m.db.Model(&SessionRow{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRunReplaysFromCheckpoint(t *testing.T) {
	m := newTestMirror(t)

	node, err := core.NewNode(storage.NewMemDB(), core.NodeConfig{
		AdminAccount: "admin",
	}, slog.Default())
	require.NoError(t, err)

	for _, account := range []string{"alice", "bob", "carol"} {
		_, err := node.Deposit(account, big.NewInt(1_000))
		require.NoError(t, err)
	}

	// Checkpoint after the first event; the run must replay the remaining two
	// from the retained history before going live.
	require.NoError(t, m.Apply(core.StreamEvent{
		Sequence:   1,
		Type:       events.TypeVaultDeposited,
		Attributes: map[string]string{"beneficiary": "alice", "amount": "1000"},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, node) }()

	require.Eventually(t, func() bool {
		cursor, err := m.Cursor()
		return err == nil && cursor == "3"
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestApplyRejectsMalformedAttributes(t *testing.T) {
	m := newTestMirror(t)

	err := m.Apply(core.StreamEvent{
		Sequence:   1,
		Type:       events.TypeSessionStarted,
		Attributes: map[string]string{"sessionId": "not-a-number"},
	})
	require.Error(t, err)
}
