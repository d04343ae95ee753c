package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/classlive/coordinator/internal/signaling"
)

const (
	channelPrefix  = "session:"
	publishTimeout = 5 * time.Second
)

// redisPayload is the message published to Redis for cross-instance fan-out.
// Origin lets an instance skip frames it already delivered locally.
type redisPayload struct {
	Origin   string             `json:"origin"`
	To       string             `json:"to,omitempty"` // set for unicast frames
	Envelope signaling.Envelope `json:"envelope"`
	At       int64              `json:"at"`
}

// RedisPubSub bridges room frames across server instances.
type RedisPubSub struct {
	client   *redis.Client
	instance string
	logger   *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for room frames.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	return &RedisPubSub{client: client, instance: uuid.New().String(), logger: logger}
}

// PublishFrame publishes a frame to the session's Redis channel. to is empty
// for broadcast frames.
func (r *RedisPubSub) PublishFrame(sessionID uuid.UUID, to string, env signaling.Envelope) error {
	body, err := json.Marshal(redisPayload{
		Origin:   r.instance,
		To:       to,
		Envelope: env,
		At:       time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, channelPrefix+sessionID.String(), body).Err()
}

// SubscribeSession subscribes to a session's Redis channel. handler runs for
// frames published by other instances; frames from this instance are skipped.
// Returns a cancel function to stop the subscription.
func (r *RedisPubSub) SubscribeSession(sessionID uuid.UUID, handler func(to string, env signaling.Envelope)) (cancel func(), err error) {
	channel := channelPrefix + sessionID.String()
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					continue
				}
				if p.Origin == r.instance {
					continue
				}
				handler(p.To, p.Envelope)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}

// ClaimNickname reserves a nickname in a room for the claim TTL. Returns
// false when another occupant already holds the name.
func (r *RedisPubSub) ClaimNickname(ctx context.Context, sessionID uuid.UUID, nick string, ttl time.Duration) (bool, error) {
	key := nicknameKey(sessionID, nick)
	ok, err := r.client.SetNX(ctx, key, r.instance, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim nickname: %w", err)
	}
	return ok, nil
}

// RefreshNickname extends a held nickname claim.
func (r *RedisPubSub) RefreshNickname(ctx context.Context, sessionID uuid.UUID, nick string, ttl time.Duration) error {
	return r.client.Expire(ctx, nicknameKey(sessionID, nick), ttl).Err()
}

// ReleaseNickname frees a nickname claim when the occupant leaves.
func (r *RedisPubSub) ReleaseNickname(ctx context.Context, sessionID uuid.UUID, nick string) error {
	return r.client.Del(ctx, nicknameKey(sessionID, nick)).Err()
}

func nicknameKey(sessionID uuid.UUID, nick string) string {
	return fmt.Sprintf("room:%s:nick:%s", sessionID, nick)
}
