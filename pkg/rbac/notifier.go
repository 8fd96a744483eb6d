package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultInvalidationChannel is the Redis channel role changes are announced on
const DefaultInvalidationChannel = "gatekeep:roles:invalidate"

// Notifier announces that an organization's roles changed so other server
// instances can reload their snapshot
type Notifier interface {
	Publish(ctx context.Context, org string) error
}

// RedisNotifier publishes and receives invalidations over Redis pub/sub.
// Each instance tags its messages with a random id and ignores its own.
type RedisNotifier struct {
	client     *redis.Client
	channel    string
	instanceID string
	log        *logrus.Logger
}

// NewRedisNotifier creates a notifier on channel. An empty channel uses
// DefaultInvalidationChannel.
func NewRedisNotifier(client *redis.Client, channel string, log *logrus.Logger) *RedisNotifier {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if log == nil {
		log = logrus.New()
	}
	return &RedisNotifier{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		log:        log,
	}
}

// InstanceID returns the id this notifier tags its messages with
func (n *RedisNotifier) InstanceID() string {
	return n.instanceID
}

// Publish implements Notifier
func (n *RedisNotifier) Publish(ctx context.Context, org string) error {
	if err := n.client.Publish(ctx, n.channel, n.instanceID+"|"+org).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Subscribe calls handle with the organization of every invalidation
// published by another instance, until ctx is done. The subscription is
// confirmed before Subscribe starts delivering.
func (n *RedisNotifier) Subscribe(ctx context.Context, handle func(ctx context.Context, org string)) error {
	pubsub := n.client.Subscribe(ctx, n.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", n.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			sender, org, found := strings.Cut(msg.Payload, "|")
			if !found || org == "" {
				n.log.WithField("payload", msg.Payload).Warn("Ignoring malformed role invalidation")
				continue
			}
			if sender == n.instanceID {
				continue
			}
			handle(ctx, org)
		}
	}
}

// ListenForInvalidations reloads the registry whenever another instance
// reports a change. It blocks until ctx is done.
func (r *Registry) ListenForInvalidations(ctx context.Context, n *RedisNotifier) error {
	return n.Subscribe(ctx, func(ctx context.Context, org string) {
		if err := r.Reload(ctx, org); err != nil {
			r.log.WithError(err).WithField("organization_id", org).Error("Failed to reload roles after invalidation")
		}
	})
}
