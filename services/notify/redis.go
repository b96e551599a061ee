package notifysvc

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/notification"
)

// StreamNotifier publishes intents to a redis stream for downstream consumers (in-app, webhooks).
type StreamNotifier struct {
	client *redis.Client
	stream string
}

var _ notification.Notifier = (*StreamNotifier)(nil)

func NewStreamNotifier(client *redis.Client, stream string) *StreamNotifier {
	return &StreamNotifier{client: client, stream: stream}
}

// NewRedisClient returns nil when no address is configured.
func NewRedisClient(conf core.RedisConfig) *redis.Client {
	if conf.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: conf.Addr})
}

func (n *StreamNotifier) Notify(ctx context.Context, intent notification.Intent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "encoding notification intent")
	}
	err = n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]interface{}{
			"tenant_id": intent.TenantID,
			"kind":      string(intent.Kind),
			"data":      string(payload),
		},
	}).Err()
	return errors.Wrapf(err, "publishing to stream %s", n.stream)
}
