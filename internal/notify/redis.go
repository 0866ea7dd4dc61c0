package notify

import (
	"context"
	"time"

	"salesync/internal/events"
	"salesync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const publishTimeout = 2 * time.Second

// RedisStatusPublisher fans sync statuses out to a Redis pub/sub channel
// for UI processes.
type RedisStatusPublisher struct {
	client  *redis.Client
	channel string
	logger  *zerolog.Logger
}

func NewRedisStatusPublisher(client *redis.Client, channel string, logger *zerolog.Logger) *RedisStatusPublisher {
	if channel == "" {
		channel = models.StatusChannel
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RedisStatusPublisher{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

func (p *RedisStatusPublisher) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventSyncStatus, p.handle)
}

func (p *RedisStatusPublisher) handle(event *events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, event.Payload).Err(); err != nil {
		p.logger.Warn().Err(err).Str("channel", p.channel).Msg("Failed to publish status to Redis")
		return err
	}
	return nil
}
