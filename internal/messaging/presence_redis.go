// internal/messaging/presence_redis.go
// Redis-backed presence mirror and cross-instance broadcast fabric

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const presenceChannel = "messaging:events"

// redisRegistry keeps the authoritative in-memory registry for the local
// instance and mirrors records into Redis keys with a TTL so other instances
// can observe them. A process crash leaves only keys that expire on their
// own.
type redisRegistry struct {
	local  PresenceRegistry
	client *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewRedisRegistry wraps the in-memory registry with a Redis mirror
func NewRedisRegistry(client *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) PresenceRegistry {
	return &redisRegistry{
		local:  NewMemoryRegistry(),
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func presenceKey(userID int64) string {
	return fmt.Sprintf("messaging:presence:%d", userID)
}

func (r *redisRegistry) Register(rec PresenceRecord) {
	r.local.Register(rec)

	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now()
	}
	payload, _ := json.Marshal(rec)
	if err := r.client.Set(context.Background(), presenceKey(rec.UserID), payload, r.ttl).Err(); err != nil {
		r.logger.Warnw("failed to mirror presence record", "user_id", rec.UserID, "error", err)
	}
}

func (r *redisRegistry) Deregister(userID int64, connectionID string) bool {
	removed := r.local.Deregister(userID, connectionID)
	if removed {
		if err := r.client.Del(context.Background(), presenceKey(userID)).Err(); err != nil {
			r.logger.Warnw("failed to remove presence mirror", "user_id", userID, "error", err)
		}
	}
	return removed
}

func (r *redisRegistry) Touch(userID int64) {
	r.local.Touch(userID)
	if err := r.client.Expire(context.Background(), presenceKey(userID), r.ttl).Err(); err != nil {
		r.logger.Warnw("failed to refresh presence TTL", "user_id", userID, "error", err)
	}
}

// Snapshot merges the mirrored records of every instance with the local
// ones. Local records win on conflict; a Redis failure degrades to the local
// view.
func (r *redisRegistry) Snapshot() []PresenceRecord {
	merged := make(map[int64]PresenceRecord)

	ctx := context.Background()
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, "messaging:presence:*", 100).Result()
		if err != nil {
			r.logger.Warnw("failed to scan presence mirror", "error", err)
			break
		}
		for _, key := range keys {
			payload, err := r.client.Get(ctx, key).Bytes()
			if err != nil {
				continue // expired between scan and get
			}
			var rec PresenceRecord
			if err := json.Unmarshal(payload, &rec); err != nil {
				r.logger.Warnw("dropping malformed presence mirror record", "key", key, "error", err)
				continue
			}
			merged[rec.UserID] = rec
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	for _, rec := range r.local.Snapshot() {
		merged[rec.UserID] = rec
	}

	out := make([]PresenceRecord, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	return out
}

// IsOnline consults the mirror too, so a user connected to another instance
// still counts as online.
func (r *redisRegistry) IsOnline(userID int64) bool {
	if r.local.IsOnline(userID) {
		return true
	}
	n, err := r.client.Exists(context.Background(), presenceKey(userID)).Result()
	return err == nil && n > 0
}

// Fabric rebroadcasts hub events across instances. The in-process hub is the
// default ("nil fabric"); RedisFabric is the distributed adapter.
type Fabric interface {
	Publish(env FabricEnvelope)
	Subscribe(ctx context.Context, deliver func(env FabricEnvelope))
	Close() error
}

// FabricEnvelope wraps a broadcast with its origin instance so subscribers
// can skip their own publications.
type FabricEnvelope struct {
	Origin         string    `json:"origin"`
	ConversationID int64     `json:"conversation_id,omitempty"` // 0 for global broadcasts
	ExcludeUserID  int64     `json:"exclude_user_id,omitempty"`
	Message        WSMessage `json:"message"`
}

type redisFabric struct {
	client *redis.Client
	pubsub *redis.PubSub
	logger *zap.SugaredLogger
}

// NewRedisFabric creates a Redis pub/sub broadcast fabric
func NewRedisFabric(client *redis.Client, logger *zap.SugaredLogger) Fabric {
	return &redisFabric{
		client: client,
		logger: logger,
	}
}

func (f *redisFabric) Publish(env FabricEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		f.logger.Warnw("failed to marshal fabric envelope", "error", err)
		return
	}
	if err := f.client.Publish(context.Background(), presenceChannel, payload).Err(); err != nil {
		f.logger.Warnw("failed to publish fabric envelope", "error", err)
	}
}

// Subscribe delivers remote envelopes until ctx is cancelled. Runs its own
// goroutine; call once at startup.
func (f *redisFabric) Subscribe(ctx context.Context, deliver func(env FabricEnvelope)) {
	f.pubsub = f.client.Subscribe(ctx, presenceChannel)

	go func() {
		ch := f.pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env FabricEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					f.logger.Warnw("dropping malformed fabric envelope", "error", err)
					continue
				}
				deliver(env)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (f *redisFabric) Close() error {
	if f.pubsub != nil {
		return f.pubsub.Close()
	}
	return nil
}
