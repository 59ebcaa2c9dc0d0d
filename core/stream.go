package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"streamvault/core/events"
)

const streamHistoryLimit = 2048

// StreamEvent is one committed state change on the node's broadcast stream.
// The cursor is the decimal sequence number so subscribers can resume after a
// disconnect without missing or replaying entries.
type StreamEvent struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  int64             `json:"emittedAt"`
}

func cloneStreamEvent(evt StreamEvent) StreamEvent {
	cloned := evt
	if len(evt.Attributes) > 0 {
		attrs := make(map[string]string, len(evt.Attributes))
		for k, v := range evt.Attributes {
			attrs[k] = v
		}
		cloned.Attributes = attrs
	}
	return cloned
}

// Emit implements events.Emitter. Engines call it after their mutation has
// committed, so everything on the stream reflects durable state.
func (n *Node) Emit(evt events.Event) {
	if n == nil || evt == nil {
		return
	}
	n.publish(StreamEvent{
		Type:       evt.EventType(),
		Attributes: evt.Attributes(),
		EmittedAt:  time.Now().Unix(),
	})
}

func (n *Node) publish(evt StreamEvent) {
	n.streamMu.Lock()
	if n.streamSubs == nil {
		n.streamSubs = make(map[uint64]chan StreamEvent)
	}
	n.streamSeq++
	evt.Sequence = n.streamSeq
	evt.Cursor = strconv.FormatUint(evt.Sequence, 10)
	stored := cloneStreamEvent(evt)
	n.streamHistory = append(n.streamHistory, stored)
	if len(n.streamHistory) > streamHistoryLimit {
		excess := len(n.streamHistory) - streamHistoryLimit
		trimmed := make([]StreamEvent, streamHistoryLimit)
		copy(trimmed, n.streamHistory[excess:])
		n.streamHistory = trimmed
	}
	subscribers := make([]chan StreamEvent, 0, len(n.streamSubs))
	for _, ch := range n.streamSubs {
		subscribers = append(subscribers, ch)
	}
	n.streamMu.Unlock()

	broadcast := cloneStreamEvent(evt)
	for _, ch := range subscribers {
		select {
		case ch <- broadcast:
		default:
		}
	}
}

// EventsSubscribe registers a subscriber for committed events starting after
// the supplied cursor. The backlog holds the retained history newer than the
// cursor; live events follow on the channel until cancel is called or the
// context ends.
func (n *Node) EventsSubscribe(ctx context.Context, cursor string) (<-chan StreamEvent, func(), []StreamEvent, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("node not initialised")
	}
	updates := make(chan StreamEvent, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		since = parsed
	}

	n.streamMu.Lock()
	if n.streamSubs == nil {
		n.streamSubs = make(map[uint64]chan StreamEvent)
	}
	id := n.streamNextID
	n.streamNextID++
	n.streamSubs[id] = updates
	history := make([]StreamEvent, len(n.streamHistory))
	copy(history, n.streamHistory)
	n.streamMu.Unlock()

	backlog := make([]StreamEvent, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneStreamEvent(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.streamMu.Lock()
			sub, ok := n.streamSubs[id]
			if ok {
				delete(n.streamSubs, id)
				close(sub)
			}
			n.streamMu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}
