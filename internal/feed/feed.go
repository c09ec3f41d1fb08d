// Package feed fans committed shift changes out to live observers.
package feed

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"shiftledger/backend/internal/domain"
)

const subscriberBuffer = 32

// Broker delivers ShiftEvents per shift. Delivery is best effort; a slow
// subscriber loses events rather than blocking publishers.
type Broker interface {
	Publish(ctx context.Context, event domain.ShiftEvent) error
	// Subscribe returns a channel of events for shiftID and a cancel func that
	// releases the subscription and closes the channel.
	Subscribe(ctx context.Context, shiftID string) (<-chan domain.ShiftEvent, func(), error)
}

type MemoryBroker struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan domain.ShiftEvent
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[int]chan domain.ShiftEvent)}
}

func (b *MemoryBroker) Publish(_ context.Context, event domain.ShiftEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs[event.ShiftID] {
		select {
		case ch <- event:
		default:
			log.Warn().Str("shift_id", event.ShiftID).Int("subscriber", id).Msg("feed subscriber lagging, event dropped")
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, shiftID string) (<-chan domain.ShiftEvent, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan domain.ShiftEvent, subscriberBuffer)
	if b.subs[shiftID] == nil {
		b.subs[shiftID] = make(map[int]chan domain.ShiftEvent)
	}
	b.subs[shiftID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[shiftID], id)
			if len(b.subs[shiftID]) == 0 {
				delete(b.subs, shiftID)
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Subscribers reports the live subscription count for shiftID.
func (b *MemoryBroker) Subscribers(shiftID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[shiftID])
}
