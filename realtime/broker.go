package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

// EventType is the kind of row change an event describes.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is a row-level change of an order, scoped to one branch.
// Record holds the row after the change; it is empty for deletes.
type ChangeEvent struct {
	Type     EventType       `json:"type"`
	Table    string          `json:"table"`
	BranchID string          `json:"branch_id"`
	OrderID  string          `json:"order_id"`
	Record   json.RawMessage `json:"record,omitempty"`
}

// Broker fans change events out to the subscribers of a branch.
type Broker interface {
	Publish(ctx context.Context, ev ChangeEvent) error
	Subscribe(ctx context.Context, branchID string) (*Subscription, error)
	Close() error
}

// subscriptionBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind has its subscription ended, so it reconnects and
// refetches instead of silently missing events.
const subscriptionBuffer = 32

// Subscription delivers the events of one branch until closed or until the
// context passed to Subscribe is done.
type Subscription struct {
	events chan ChangeEvent
	cancel context.CancelFunc
	once   sync.Once
}

// Events returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan ChangeEvent {
	return s.events
}

// Close stops delivery. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// MemoryBroker is an in-process broker for a single API replica.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	ch     chan ChangeEvent
	done   chan struct{}
	cancel context.CancelFunc
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySub]struct{})}
}

func (b *MemoryBroker) Publish(ctx context.Context, ev ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[ev.BranchID] {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		default:
			sub.cancel()
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, branchID string) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &memorySub{
		ch:     make(chan ChangeEvent, subscriptionBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		return nil, ErrBrokerClosed
	}
	if b.subs[branchID] == nil {
		b.subs[branchID] = make(map[*memorySub]struct{})
	}
	b.subs[branchID][sub] = struct{}{}
	b.mu.Unlock()

	out := make(chan ChangeEvent, subscriptionBuffer)

	go func() {
		defer close(out)
		defer b.remove(branchID, sub)
		for {
			select {
			case <-subCtx.Done():
				return
			case ev := <-sub.ch:
				select {
				case out <- ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{events: out, cancel: cancel}, nil
}

func (b *MemoryBroker) remove(branchID string, sub *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(sub.done)
	delete(b.subs[branchID], sub)
	if len(b.subs[branchID]) == 0 {
		delete(b.subs, branchID)
	}
}

// Subscribers returns the number of live subscriptions for a branch.
func (b *MemoryBroker) Subscribers(branchID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[branchID])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
