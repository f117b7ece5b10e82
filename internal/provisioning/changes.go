package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"vpngw/internal/ippool"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	ChangesChannel = "vpngw:gateway:changes"
	redisOpTimeout = 5 * time.Second

	ActionCreated = "created"
	ActionDeleted = "deleted"
)

// Change announces a committed create or delete to the other instances.
type Change struct {
	CommonName string `json:"common_name"`
	Action     string `json:"action"`
	Origin     string `json:"origin,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, change Change) error
}

// RedisNotifier publishes changes on ChangesChannel.
type RedisNotifier struct {
	client *redis.Client
	origin string
}

func NewRedisNotifier(client *redis.Client, origin string) *RedisNotifier {
	return &RedisNotifier{client: client, origin: origin}
}

func (n *RedisNotifier) Notify(ctx context.Context, change Change) error {
	change.Origin = n.origin
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisOpTimeout)
	defer cancel()
	return n.client.Publish(opCtx, ChangesChannel, payload).Err()
}

// ApplyChange brings the local allocator in line with a change made by
// another instance.
func (s *Service) ApplyChange(ctx context.Context, change Change) error {
	switch change.Action {
	case ActionDeleted:
		if _, err := s.allocator.Release(ctx, change.CommonName); err != nil && !errors.Is(err, ippool.ErrNotFound) {
			return err
		}
		return nil
	default:
		_, err := s.Reconcile(ctx)
		return err
	}
}

// ListenForChanges applies changes published by other instances until ctx
// is done. Messages from origin are skipped.
func ListenForChanges(ctx context.Context, client *redis.Client, origin string, apply func(context.Context, Change) error) {
	pubsub := client.Subscribe(ctx, ChangesChannel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("Gateway sync: subscription error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		change, ok := decodeChange(msg.Payload)
		if !ok || change.Origin == origin {
			continue
		}

		if err := apply(ctx, change); err != nil {
			log.Error("Gateway sync: failed to apply remote change", "common_name", change.CommonName, "action", change.Action, "error", err)
		}
	}
}

func decodeChange(payload string) (Change, bool) {
	var change Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		log.Error("Gateway sync: invalid payload", "error", err)
		return Change{}, false
	}
	if change.CommonName == "" {
		return Change{}, false
	}
	return change, true
}
