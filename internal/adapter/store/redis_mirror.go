package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"shopassist/internal/domain/entity"

	"github.com/redis/go-redis/v9"
)

const humanSupportField = "isHumanSupport"

// RedisMirror projects chat messages into Redis for live UIs. Layout:
//
//	chat:{shop}:{session}:messages  list of JSON messages
//	chat:{shop}:{session}:metadata  hash
//	chat:{shop}:{session}           pub/sub channel, one publish per append
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisMirror(client *redis.Client, ttl time.Duration) *RedisMirror {
	return &RedisMirror{client: client, ttl: ttl}
}

func channelKey(shop, sessionID string) string {
	return fmt.Sprintf("chat:%s:%s", shop, sessionID)
}

func messagesKey(shop, sessionID string) string {
	return channelKey(shop, sessionID) + ":messages"
}

func metadataKey(shop, sessionID string) string {
	return channelKey(shop, sessionID) + ":metadata"
}

func (m *RedisMirror) Append(ctx context.Context, shop, sessionID string, msg entity.MirrorMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := messagesKey(shop, sessionID)
	pipe := m.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	pipe.Publish(ctx, channelKey(shop, sessionID), data)
	_, err = pipe.Exec(ctx)
	return err
}

func (m *RedisMirror) Messages(ctx context.Context, shop, sessionID string) ([]entity.MirrorMessage, error) {
	raw, err := m.client.LRange(ctx, messagesKey(shop, sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return decodeMirrorMessages(raw)
}

func (m *RedisMirror) Metadata(ctx context.Context, shop, sessionID string) (entity.SessionMetadata, error) {
	fields, err := m.client.HGetAll(ctx, metadataKey(shop, sessionID)).Result()
	if err != nil {
		return entity.SessionMetadata{}, err
	}
	human, _ := strconv.ParseBool(fields[humanSupportField])
	return entity.SessionMetadata{IsHumanSupport: human}, nil
}

func (m *RedisMirror) SetHumanSupport(ctx context.Context, shop, sessionID string, enabled bool) error {
	key := metadataKey(shop, sessionID)
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key, humanSupportField, strconv.FormatBool(enabled))
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// moveScript performs the whole migration in one atomic step.
// KEYS: guest messages, guest metadata, target messages, target metadata.
// ARGV: ttl seconds, handoff field.
var moveScript = redis.NewScript(`
local ttl = tonumber(ARGV[1])
local msgs = redis.call('LRANGE', KEYS[1], 0, -1)
for _, m in ipairs(msgs) do
	redis.call('RPUSH', KEYS[3], m)
end
if #msgs > 0 and ttl > 0 then
	redis.call('EXPIRE', KEYS[3], ttl)
end
local meta = redis.call('HGETALL', KEYS[2])
for i = 1, #meta, 2 do
	if meta[i] == ARGV[2] and meta[i + 1] == 'true' then
		redis.call('HSET', KEYS[4], meta[i], meta[i + 1])
	else
		redis.call('HSETNX', KEYS[4], meta[i], meta[i + 1])
	end
end
if #meta > 0 and ttl > 0 then
	redis.call('EXPIRE', KEYS[4], ttl)
end
redis.call('DEL', KEYS[1], KEYS[2])
return #msgs
`)

// Move appends the guest transcript to the target key, carries the guest's
// metadata over and drops every guest key. A guest under human support keeps
// it after the move. An empty guest key makes this a no-op.
func (m *RedisMirror) Move(ctx context.Context, shop, fromSessionID, toSessionID string) error {
	if fromSessionID == toSessionID {
		return nil
	}
	keys := []string{
		messagesKey(shop, fromSessionID),
		metadataKey(shop, fromSessionID),
		messagesKey(shop, toSessionID),
		metadataKey(shop, toSessionID),
	}
	return moveScript.Run(ctx, m.client, keys, int64(m.ttl/time.Second), humanSupportField).Err()
}

// Subscribe relays appends for one session until ctx ends or the returned
// cancel func is called.
func (m *RedisMirror) Subscribe(ctx context.Context, shop, sessionID string) (<-chan entity.MirrorMessage, func(), error) {
	pubsub := m.client.Subscribe(ctx, channelKey(shop, sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan entity.MirrorMessage, 16)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg entity.MirrorMessage
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, func() { _ = pubsub.Close() }, nil
}

func decodeMirrorMessages(raw []string) ([]entity.MirrorMessage, error) {
	out := make([]entity.MirrorMessage, 0, len(raw))
	for _, item := range raw {
		var msg entity.MirrorMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode mirror message: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}
