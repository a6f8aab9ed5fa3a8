package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-session/internal/models"
)

// RedisLogStore keeps room logs in Redis so several controller instances in
// one deployment (or a restarted screen process) see the same history while
// the session lasts. Each room uses a list of JSON messages plus a set of
// dedup keys, both expiring after ttl of inactivity.
type RedisLogStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLogStore(client *redis.Client, prefix string, ttl time.Duration) *RedisLogStore {
	if prefix == "" {
		prefix = "chatlog"
	}
	return &RedisLogStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisLogStore) listKey(room string) string { return r.prefix + ":" + room }
func (r *RedisLogStore) seenKey(room string) string { return r.prefix + ":" + room + ":seen" }

func (r *RedisLogStore) Append(ctx context.Context, room string, msg models.ChatMessage) (bool, error) {
	keys := dedupKeys(msg)
	if len(keys) > 0 {
		seen, err := r.client.SMIsMember(ctx, r.seenKey(room), toMembers(keys)...).Result()
		if err != nil {
			return false, fmt.Errorf("chatlog dedup %s: %w", room, err)
		}
		for _, dup := range seen {
			if dup {
				return false, nil
			}
		}
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, r.listKey(room), b)
		if len(keys) > 0 {
			p.SAdd(ctx, r.seenKey(room), toMembers(keys)...)
		}
		r.touch(ctx, p, room)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("chatlog append %s: %w", room, err)
	}
	return true, nil
}

func (r *RedisLogStore) Replace(ctx context.Context, room string, msgs []models.ChatMessage) error {
	l := &roomLog{seen: make(map[string]struct{}, len(msgs))}
	for _, m := range msgs {
		l.add(m)
	}
	values := make([]interface{}, 0, len(l.msgs))
	for _, m := range l.msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		values = append(values, b)
	}
	seen := make([]string, 0, len(l.seen))
	for k := range l.seen {
		seen = append(seen, k)
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.listKey(room), r.seenKey(room))
		if len(values) > 0 {
			p.RPush(ctx, r.listKey(room), values...)
		}
		if len(seen) > 0 {
			p.SAdd(ctx, r.seenKey(room), toMembers(seen)...)
		}
		r.touch(ctx, p, room)
		return nil
	})
	if err != nil {
		return fmt.Errorf("chatlog replace %s: %w", room, err)
	}
	return nil
}

func (r *RedisLogStore) Get(ctx context.Context, room string) ([]models.ChatMessage, error) {
	raw, err := r.client.LRange(ctx, r.listKey(room), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("chatlog get %s: %w", room, err)
	}
	msgs := make([]models.ChatMessage, 0, len(raw))
	for _, s := range raw {
		var m models.ChatMessage
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return newestFirst(msgs), nil
}

func (r *RedisLogStore) touch(ctx context.Context, p redis.Pipeliner, room string) {
	if r.ttl <= 0 {
		return
	}
	p.Expire(ctx, r.listKey(room), r.ttl)
	p.Expire(ctx, r.seenKey(room), r.ttl)
}

func toMembers(keys []string) []interface{} {
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
