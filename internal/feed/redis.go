package feed

import (
	"context"
	"encoding/json"
	"sync"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"shiftledger/backend/internal/domain"
)

// RedisBroker publishes each shift's events on its own pub/sub channel so
// every server instance sees changes made by the others.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

func NewRedisBroker(client *redis.Client, channelPrefix string) *RedisBroker {
	return &RedisBroker{client: client, prefix: channelPrefix}
}

func (b *RedisBroker) channel(shiftID string) string {
	return b.prefix + shiftID
}

func (b *RedisBroker) Publish(ctx context.Context, event domain.ShiftEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel(event.ShiftID), payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, shiftID string) (<-chan domain.ShiftEvent, func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel(shiftID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan domain.ShiftEvent, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event domain.ShiftEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Warn().Err(err).Str("channel", msg.Channel).Msg("feed: undecodable event")
					continue
				}
				select {
				case out <- event:
				default:
					log.Warn().Str("shift_id", shiftID).Msg("feed subscriber lagging, event dropped")
				}
			}
		}
	}()

	return out, cancel, nil
}
