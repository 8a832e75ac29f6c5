package authapi

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisFailurePrefix shares the remember-me hash tag so all keys live in one slot.
const DefaultRedisFailurePrefix = "{rememberme}:login_fail:"

// RedisFailureLog keeps failed logins in one sorted set per IP and per identifier,
// scored by Unix milliseconds.
type RedisFailureLog struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisFailureLog keeps failures for retention (keys expire after it).
func NewRedisFailureLog(client redis.UniversalClient, prefix string, retention time.Duration) (*RedisFailureLog, error) {
	if client == nil {
		return nil, errors.New("authapi: nil redis client")
	}
	if prefix == "" {
		prefix = DefaultRedisFailurePrefix
	}
	if retention <= 0 {
		return nil, errors.New("authapi: retention must be positive")
	}
	return &RedisFailureLog{redis: client, prefix: prefix, retention: retention}, nil
}

func (l *RedisFailureLog) ipKey(ip net.IP) string { return l.prefix + "ip:" + ip.String() }

func (l *RedisFailureLog) identKey(identifier string) string {
	return l.prefix + "id:" + identifier
}

// Record implements FailureLog.
func (l *RedisFailureLog) Record(ctx context.Context, f LoginFailure) error {
	keys := make([]string, 0, 2)
	if f.IP != nil {
		keys = append(keys, l.ipKey(f.IP))
	}
	if f.Identifier != "" {
		keys = append(keys, l.identKey(f.Identifier))
	}
	if len(keys) == 0 {
		return nil
	}

	score := float64(f.At.UnixMilli())
	member := ulid.Make().String()
	floor := strconv.FormatInt(f.At.Add(-l.retention).UnixMilli(), 10)

	_, err := l.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.ZAdd(ctx, k, redis.Z{Score: score, Member: member})
			p.ZRemRangeByScore(ctx, k, "-inf", "("+floor)
			p.PExpire(ctx, k, l.retention)
		}
		return nil
	})
	return err
}

// ByIP implements FailureLog.
func (l *RedisFailureLog) ByIP(ctx context.Context, ip net.IP, since time.Time) ([]time.Time, error) {
	if ip == nil {
		return nil, nil
	}
	return l.since(ctx, l.ipKey(ip), since)
}

// ByIdentifier implements FailureLog.
func (l *RedisFailureLog) ByIdentifier(ctx context.Context, identifier string, since time.Time) ([]time.Time, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, nil
	}
	return l.since(ctx, l.identKey(identifier), since)
}

func (l *RedisFailureLog) since(ctx context.Context, key string, since time.Time) ([]time.Time, error) {
	zs, err := l.redis.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   strconv.FormatInt(since.UnixMilli(), 10),
		Max:   "+inf",
		Count: maxFailureRows,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(zs))
	for _, z := range zs {
		out = append(out, time.UnixMilli(int64(z.Score)).UTC())
	}
	return out, nil
}
