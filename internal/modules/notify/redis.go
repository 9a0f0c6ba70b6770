// README: Redis pub/sub sink. Drivers listen on <prefix>:driver:<id>, admins on <prefix>:tenant:<id>:admins.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "dispatch"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel an envelope is published on.
func (p *RedisPublisher) Channel(e Envelope) string {
	if e.Audience == AudienceDriver {
		return fmt.Sprintf("%s:driver:%s", p.prefix, e.DriverID)
	}
	return fmt.Sprintf("%s:tenant:%s:admins", p.prefix, e.TenantID)
}

func (p *RedisPublisher) Deliver(ctx context.Context, e Envelope) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.Channel(e), b).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", e.Kind, err)
	}
	return nil
}
