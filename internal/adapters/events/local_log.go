package events

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/opsledger/treasury-infra/internal/domain"
)

// LocalLog is the in-process event log used when the shared store is absent.
// It keeps the same contract as the Redis Streams log: bounded retention,
// per-group cursors, explicit acknowledgment with redelivery of unacked events.
type LocalLog struct {
	mu       sync.Mutex
	capacity int
	seq      uint64
	events   []localRecord
	groups   map[string]*localGroup
	notify   chan struct{}
}

type localRecord struct {
	seq   uint64
	event domain.Event
}

type localGroup struct {
	cursor  uint64                 // highest seq handed out as a fresh delivery
	pending map[uint64]domain.Event // delivered but not yet acknowledged
}

func NewLocalLog(capacity int) *LocalLog {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LocalLog{
		capacity: capacity,
		groups:   make(map[string]*localGroup),
		notify:   make(chan struct{}),
	}
}

func (l *LocalLog) Append(_ context.Context, event domain.Event) (string, error) {
	l.mu.Lock()
	l.seq++
	event.ID = strconv.FormatUint(l.seq, 10)
	l.events = append(l.events, localRecord{seq: l.seq, event: event})
	if len(l.events) > l.capacity {
		l.events = l.events[len(l.events)-l.capacity:]
	}
	// Wake every blocked reader; each re-checks under the lock.
	close(l.notify)
	l.notify = make(chan struct{})
	l.mu.Unlock()
	return event.ID, nil
}

// ReadGroup first redelivers the group's unacknowledged events, then fresh
// entries past the cursor. With nothing to deliver it blocks up to block.
func (l *LocalLog) ReadGroup(ctx context.Context, group, _ string, count int, block time.Duration) ([]domain.Event, error) {
	if count <= 0 {
		count = 10
	}
	deadline := time.Now().Add(block)
	for {
		l.mu.Lock()
		g, ok := l.groups[group]
		if !ok {
			g = &localGroup{pending: make(map[uint64]domain.Event)}
			l.groups[group] = g
		}

		out := make([]domain.Event, 0, count)
		if len(g.pending) > 0 {
			seqs := make([]uint64, 0, len(g.pending))
			for seq := range g.pending {
				seqs = append(seqs, seq)
			}
			sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
			for _, seq := range seqs {
				if len(out) == count {
					break
				}
				out = append(out, g.pending[seq])
			}
		}
		for _, rec := range l.events {
			if len(out) == count {
				break
			}
			if rec.seq <= g.cursor {
				continue
			}
			g.cursor = rec.seq
			g.pending[rec.seq] = rec.event
			out = append(out, rec.event)
		}
		waitCh := l.notify
		l.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-waitCh:
			timer.Stop()
		}
	}
}

func (l *LocalLog) Ack(_ context.Context, group string, ids ...string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[group]
	if !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownGroup, group)
	}
	acked := 0
	for _, id := range ids {
		seq, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			continue
		}
		if _, pending := g.pending[seq]; pending {
			delete(g.pending, seq)
			acked++
		}
	}
	return acked, nil
}

func (l *LocalLog) History(_ context.Context, count int) ([]domain.Event, error) {
	if count <= 0 {
		count = 50
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if count > len(l.events) {
		count = len(l.events)
	}
	out := make([]domain.Event, 0, count)
	for i := len(l.events) - 1; i >= len(l.events)-count; i-- {
		out = append(out, l.events[i].event)
	}
	return out, nil
}
