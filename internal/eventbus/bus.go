// Package eventbus is a small in-memory fanout used to decouple the monitor from logging,
// sd_notify status and tests.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by ytnotify.
const (
	// TypePassState carries a PassState on every pass transition.
	TypePassState = "pass.state"
	// TypeItemDispatched carries an ItemEvent after a successful send.
	TypeItemDispatched = "item.dispatched"
	// TypeItemFailed carries an ItemEvent when a send fails.
	TypeItemFailed = "item.failed"
	// TypeRunFinished carries a RunSummary after RunAll.
	TypeRunFinished = "run.finished"
	// TypeConfigReloaded carries a summary string after a hot reload.
	TypeConfigReloaded = "config.reloaded"
)

// PassState is the payload of TypePassState.
type PassState struct {
	ChannelID string
	From      string
	To        string
	DryRun    bool
	Err       string
}

// ItemEvent is the payload of TypeItemDispatched and TypeItemFailed.
type ItemEvent struct {
	ChannelID string
	ItemID    string
	URL       string
	Err       string
}

// RunSummary is the payload of TypeRunFinished.
type RunSummary struct {
	Channels   int
	Failed     int
	Dispatched int
	Took       time.Duration
}

// Event is a lightweight, in-memory signal.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop returns a bus that drops everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
	drop atomic.Uint64
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func Dropped(b Bus) uint64 {
	if mb, ok := b.(*memBus); ok {
		return mb.drop.Load()
	}
	return 0
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.drop.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Holding the write lock guarantees no Publish is mid-send on ch.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
