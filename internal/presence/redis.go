package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror keeps a copy of presence in Redis.
// Keys:
//   - <prefix>:conn:<userId>      set of live session ids
//   - <prefix>:presence:<userId>  json {status,last_seen}
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisMirror(client *redis.Client, prefix string, ttl time.Duration) *RedisMirror {
	if prefix == "" {
		prefix = "msg"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisMirror{client: client, prefix: prefix, ttl: ttl}
}

func (m *RedisMirror) connKey(userID string) string { return fmt.Sprintf("%s:conn:%s", m.prefix, userID) }
func (m *RedisMirror) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", m.prefix, userID)
}

type redisPresence struct {
	Status   Status `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

func (m *RedisMirror) SetOnline(ctx context.Context, userID, sessionID string, at time.Time) error {
	b, err := json.Marshal(redisPresence{Status: Online, LastSeen: at.Unix()})
	if err != nil {
		return err
	}
	pipe := m.client.TxPipeline()
	pipe.SAdd(ctx, m.connKey(userID), sessionID)
	pipe.Expire(ctx, m.connKey(userID), m.ttl)
	pipe.Set(ctx, m.presenceKey(userID), b, m.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (m *RedisMirror) SetOffline(ctx context.Context, userID, sessionID string, at time.Time, last bool) error {
	if err := m.client.SRem(ctx, m.connKey(userID), sessionID).Err(); err != nil {
		return err
	}
	if !last {
		return nil
	}
	b, err := json.Marshal(redisPresence{Status: Offline, LastSeen: at.Unix()})
	if err != nil {
		return err
	}
	// offline entries keep last-seen without expiry
	return m.client.Set(ctx, m.presenceKey(userID), b, 0).Err()
}

// Lookup reads the mirrored entry for userID.
func (m *RedisMirror) Lookup(ctx context.Context, userID string) (Entry, error) {
	b, err := m.client.Get(ctx, m.presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrUnknown
	}
	if err != nil {
		return Entry{}, err
	}
	var p redisPresence
	if err := json.Unmarshal(b, &p); err != nil {
		return Entry{}, err
	}
	n, err := m.client.SCard(ctx, m.connKey(userID)).Result()
	if err != nil {
		return Entry{}, err
	}
	return Entry{UserID: userID, Status: p.Status, Sessions: int(n), LastSeen: time.Unix(p.LastSeen, 0).UTC()}, nil
}

func (m *RedisMirror) Close() error { return m.client.Close() }
