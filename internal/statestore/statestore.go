package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stellarlinkco/hearth/internal/logging"
)

var log = logging.Component("statestore")

// Client is the single narrow interface every other component uses to talk
// to the volatile state store. All atomicity assumptions of the system
// (atomic drain, atomic increment-with-expiry) are enforced here and
// nowhere else.
type Client interface {
	Mode(ctx context.Context, configID int64) (Mode, error)
	SetMode(ctx context.Context, configID int64, mode Mode) error

	Enqueue(ctx context.Context, queue string, payload MessagePayload) error
	DrainQueue(ctx context.Context, queue string) ([]MessagePayload, error)
	QueueLen(ctx context.Context, queue string) (int64, error)
	TrimQueue(ctx context.Context, queue string, maxLen int64) error

	IncrReplyCount(ctx context.Context, configID int64, ttl time.Duration) (int64, error)
	ClearReplyCount(ctx context.Context, configID int64) error

	CooldownActive(ctx context.Context, configID, userID int64) (bool, error)
	SetCooldown(ctx context.Context, configID, userID int64, ttl time.Duration) error

	AppendShortTerm(ctx context.Context, configID int64, entries []DialogEntry, limit int64, ttl time.Duration) error
	ShortTerm(ctx context.Context, configID int64) ([]DialogEntry, error)
	ClearShortTerm(ctx context.Context, configID int64) error

	SetTimeOfDay(ctx context.Context, configID int64, label string) error
	TimeOfDay(ctx context.Context, configID int64) (string, error)

	CacheConfig(ctx context.Context, chatID int64, raw []byte, ttl time.Duration) error
	CachedConfig(ctx context.Context, chatID int64) ([]byte, error)
}

// RedisStore implements Client on a Redis connection.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore parses the URL, configures the pool and verifies the
// connection. An unreachable state store at startup is fatal to startup.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	log.Info("redis connection established")
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Mode(ctx context.Context, configID int64) (Mode, error) {
	val, err := r.client.Get(ctx, ModeKey(configID)).Result()
	if errors.Is(err, redis.Nil) {
		return ModeNone, nil
	}
	if err != nil {
		return ModeNone, fmt.Errorf("get mode: %w", err)
	}
	return Mode(val), nil
}

func (r *RedisStore) SetMode(ctx context.Context, configID int64, mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid mode %q", mode)
	}
	if err := r.client.Set(ctx, ModeKey(configID), string(mode), 0).Err(); err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	return nil
}

func (r *RedisStore) Enqueue(ctx context.Context, queue string, payload MessagePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := r.client.RPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("enqueue to %s: %w", queue, err)
	}
	return nil
}

// DrainQueue reads and deletes the whole queue in one MULTI/EXEC pipeline,
// so two concurrent drains can never both observe the same messages. This
// is the one correctness-critical atomic operation in the system.
func (r *RedisStore) DrainQueue(ctx context.Context, queue string) ([]MessagePayload, error) {
	var rangeCmd *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.LRange(ctx, queue, 0, -1)
		pipe.Del(ctx, queue)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain %s: %w", queue, err)
	}

	raw := rangeCmd.Val()
	payloads := make([]MessagePayload, 0, len(raw))
	for _, item := range raw {
		var p MessagePayload
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			log.WithError(err).WithField("queue", queue).Warn("dropping unparsable queued payload")
			continue
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

func (r *RedisStore) QueueLen(ctx context.Context, queue string) (int64, error) {
	n, err := r.client.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("queue len %s: %w", queue, err)
	}
	return n, nil
}

// TrimQueue keeps only the most recent maxLen entries.
func (r *RedisStore) TrimQueue(ctx context.Context, queue string, maxLen int64) error {
	if err := r.client.LTrim(ctx, queue, -maxLen, -1).Err(); err != nil {
		return fmt.Errorf("trim %s: %w", queue, err)
	}
	return nil
}

// IncrReplyCount atomically increments the per-conversation reply counter.
// The expiry is attached only when the key is first created, so the counter
// window starts at the first reply of the session.
func (r *RedisStore) IncrReplyCount(ctx context.Context, configID int64, ttl time.Duration) (int64, error) {
	key := ReplyCountKey(configID)
	var incrCmd *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incrCmd = pipe.Incr(ctx, key)
		if ttl > 0 {
			pipe.ExpireNX(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incr reply count: %w", err)
	}
	return incrCmd.Val(), nil
}

func (r *RedisStore) ClearReplyCount(ctx context.Context, configID int64) error {
	if err := r.client.Del(ctx, ReplyCountKey(configID)).Err(); err != nil {
		return fmt.Errorf("clear reply count: %w", err)
	}
	return nil
}

func (r *RedisStore) CooldownActive(ctx context.Context, configID, userID int64) (bool, error) {
	val, err := r.client.Get(ctx, CooldownKey(configID, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get cooldown: %w", err)
	}
	return val == "1", nil
}

func (r *RedisStore) SetCooldown(ctx context.Context, configID, userID int64, ttl time.Duration) error {
	if err := r.client.Set(ctx, CooldownKey(configID, userID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("set cooldown: %w", err)
	}
	return nil
}

// AppendShortTerm appends dialog entries, trims the list to the last limit
// entries and refreshes the TTL, all in one pipeline.
func (r *RedisStore) AppendShortTerm(ctx context.Context, configID int64, entries []DialogEntry, limit int64, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	key := ShortTermKey(configID)
	items := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal dialog entry: %w", err)
		}
		items = append(items, data)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, items...)
		if limit > 0 {
			pipe.LTrim(ctx, key, -limit, -1)
		}
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append short-term memory: %w", err)
	}
	return nil
}

func (r *RedisStore) ShortTerm(ctx context.Context, configID int64) ([]DialogEntry, error) {
	raw, err := r.client.LRange(ctx, ShortTermKey(configID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read short-term memory: %w", err)
	}
	entries := make([]DialogEntry, 0, len(raw))
	for _, item := range raw {
		var e DialogEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			log.WithError(err).Warn("dropping unparsable short-term entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *RedisStore) ClearShortTerm(ctx context.Context, configID int64) error {
	if err := r.client.Del(ctx, ShortTermKey(configID)).Err(); err != nil {
		return fmt.Errorf("clear short-term memory: %w", err)
	}
	return nil
}

func (r *RedisStore) SetTimeOfDay(ctx context.Context, configID int64, label string) error {
	if err := r.client.Set(ctx, TimeOfDayKey(configID), label, 0).Err(); err != nil {
		return fmt.Errorf("set timeofday: %w", err)
	}
	return nil
}

func (r *RedisStore) TimeOfDay(ctx context.Context, configID int64) (string, error) {
	val, err := r.client.Get(ctx, TimeOfDayKey(configID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get timeofday: %w", err)
	}
	return val, nil
}

func (r *RedisStore) CacheConfig(ctx context.Context, chatID int64, raw []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, ConfigCacheKey(chatID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}
	return nil
}

// CachedConfig returns nil with no error on a cache miss.
func (r *RedisStore) CachedConfig(ctx context.Context, chatID int64) ([]byte, error) {
	val, err := r.client.Get(ctx, ConfigCacheKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached config: %w", err)
	}
	return val, nil
}
