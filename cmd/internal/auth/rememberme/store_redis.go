package rememberme

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix keeps every key in one hash slot so the scripts stay cluster-safe.
const DefaultRedisPrefix = "{rememberme}:"

// Key layout under prefix p, with part = len(model):model:len(owner):owner
//
//	p row:<id>                 hash of the row fields
//	p series:<part>:<series>   id of the row for one device
//	p owner:<part>             set of ids
//	p expires                  zset of ids scored by expiry (unix ms)
const redisLuaHelpers = `
local function part(model, owner)
  return #model .. ":" .. model .. ":" .. #owner .. ":" .. owner
end

local function remove(p, id)
  local rk = p .. "row:" .. id
  local f = redis.call("HMGET", rk, "owner_model", "owner_id", "series")
  redis.call("ZREM", p .. "expires", id)
  if not f[1] then
    return 0
  end
  local pt = part(f[1], f[2])
  local sk = p .. "series:" .. pt .. ":" .. f[3]
  if redis.call("GET", sk) == id then
    redis.call("DEL", sk)
  end
  redis.call("SREM", p .. "owner:" .. pt, id)
  redis.call("DEL", rk)
  return 1
end
`

var redisSaveLua = redis.NewScript(redisLuaHelpers + `
local p = ARGV[1]
local pt = part(ARGV[3], ARGV[4])
local sk = p .. "series:" .. pt .. ":" .. ARGV[5]
local id = redis.call("GET", sk)
local created = ARGV[9]
if id and redis.call("EXISTS", p .. "row:" .. id) == 1 then
  created = redis.call("HGET", p .. "row:" .. id, "created") or created
else
  id = ARGV[2]
  redis.call("SET", sk, id)
end
redis.call("HSET", p .. "row:" .. id,
  "owner_model", ARGV[3], "owner_id", ARGV[4], "series", ARGV[5],
  "token_hash", ARGV[6], "expires", ARGV[7], "created", created, "modified", ARGV[9])
redis.call("SADD", p .. "owner:" .. pt, id)
redis.call("ZADD", KEYS[1], ARGV[8], id)
return {id, created}
`)

var redisUpdateLua = redis.NewScript(`
local rk = ARGV[1] .. "row:" .. ARGV[2]
if redis.call("EXISTS", rk) == 0 then
  return false
end
redis.call("HSET", rk, "token_hash", ARGV[3], "expires", ARGV[4], "modified", ARGV[6])
redis.call("ZADD", KEYS[1], ARGV[5], ARGV[2])
return redis.call("HMGET", rk, "owner_model", "owner_id", "series", "created")
`)

var redisDeleteLua = redis.NewScript(redisLuaHelpers + `
local p = ARGV[1]
local id = ARGV[2]
if id == "" then
  id = redis.call("GET", p .. "series:" .. part(ARGV[3], ARGV[4]) .. ":" .. ARGV[5])
  if not id then
    return 0
  end
end
return remove(p, id)
`)

var redisDeleteAllLua = redis.NewScript(redisLuaHelpers + `
local p = ARGV[1]
local pt = part(ARGV[2], ARGV[3])
if ARGV[4] ~= "" then
  local id = redis.call("GET", p .. "series:" .. pt .. ":" .. ARGV[4])
  if not id then
    return 0
  end
  return remove(p, id)
end
local n = 0
for _, id in ipairs(redis.call("SMEMBERS", p .. "owner:" .. pt)) do
  n = n + remove(p, id)
end
return n
`)

var redisDropExpiredLua = redis.NewScript(redisLuaHelpers + `
local p = ARGV[1]
local model = ARGV[3]
local owner = ARGV[4]
local n = 0
for _, id in ipairs(redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[2])) do
  local match = true
  if model ~= "" or owner ~= "" then
    local f = redis.call("HMGET", p .. "row:" .. id, "owner_model", "owner_id")
    if not f[1] then
      redis.call("ZREM", KEYS[1], id)
      match = false
    elseif (model ~= "" and f[1] ~= model) or (owner ~= "" and f[2] ~= owner) then
      match = false
    end
  end
  if match then
    n = n + remove(p, id)
  end
end
return n
`)

// RedisStore implements Store on Redis. Multi-key changes run as Lua scripts so
// the indexes never disagree with the rows.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed token store. An empty prefix selects DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil redis client", ErrConfig)
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{redis: client, prefix: prefix}, nil
}

func (s *RedisStore) rowKey(id string) string { return s.prefix + "row:" + id }

func (s *RedisStore) expiresKey() string { return s.prefix + "expires" }

func (s *RedisStore) seriesKey(ownerModel, ownerID, series string) string {
	return s.prefix + "series:" + redisOwnerPart(ownerModel, ownerID) + ":" + series
}

func redisOwnerPart(ownerModel, ownerID string) string {
	return strconv.Itoa(len(ownerModel)) + ":" + ownerModel + ":" + strconv.Itoa(len(ownerID)) + ":" + ownerID
}

// FindBySeries implements Store.
func (s *RedisStore) FindBySeries(ctx context.Context, ownerModel, ownerID, series string) (Token, error) {
	const op = "rememberme.RedisStore.FindBySeries"

	id, err := s.redis.Get(ctx, s.seriesKey(ownerModel, ownerID, series)).Result()
	if errors.Is(err, redis.Nil) {
		return Token{}, ErrTokenNotFound
	}
	if err != nil {
		return Token{}, persistErr(op, redisUnavailable(err))
	}

	fields, err := s.redis.HGetAll(ctx, s.rowKey(id)).Result()
	if err != nil {
		return Token{}, persistErr(op, redisUnavailable(err))
	}
	if len(fields) == 0 {
		return Token{}, ErrTokenNotFound
	}

	row, err := redisDecodeRow(id, fields)
	if err != nil {
		return Token{}, persistErr(op, err)
	}
	return row, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, t *Token, now time.Time) error {
	const op = "rememberme.RedisStore.Save"

	if err := validateForSave(t); err != nil {
		return persistErr(op, err)
	}
	if t.ID != "" {
		return s.update(ctx, op, t, now)
	}

	res, err := redisSaveLua.Run(ctx, s.redis, []string{s.expiresKey()},
		s.prefix,
		ulid.Make().String(),
		t.OwnerModel,
		t.OwnerID,
		t.Series,
		t.TokenHash,
		strconv.FormatInt(t.Expires.UnixNano(), 10),
		t.Expires.UnixMilli(),
		strconv.FormatInt(now.UnixNano(), 10),
	).StringSlice()
	if err != nil {
		return persistErr(op, redisUnavailable(err))
	}
	if len(res) != 2 {
		return persistErr(op, fmt.Errorf("unexpected save reply %q", res))
	}

	created, err := redisParseTime(res[1])
	if err != nil {
		return persistErr(op, err)
	}
	t.ID = res[0]
	t.Created = created
	t.Modified = now
	return nil
}

func (s *RedisStore) update(ctx context.Context, op string, t *Token, now time.Time) error {
	res, err := redisUpdateLua.Run(ctx, s.redis, []string{s.expiresKey()},
		s.prefix,
		t.ID,
		t.TokenHash,
		strconv.FormatInt(t.Expires.UnixNano(), 10),
		t.Expires.UnixMilli(),
		strconv.FormatInt(now.UnixNano(), 10),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return persistErr(op, ErrTokenNotFound)
	}
	if err != nil {
		return persistErr(op, redisUnavailable(err))
	}
	if len(res) != 4 {
		return persistErr(op, fmt.Errorf("unexpected update reply %q", res))
	}

	created, err := redisParseTime(res[3])
	if err != nil {
		return persistErr(op, err)
	}
	t.OwnerModel, t.OwnerID, t.Series = res[0], res[1], res[2]
	t.Created = created
	t.Modified = now
	return nil
}

// Delete implements Store (idempotent).
func (s *RedisStore) Delete(ctx context.Context, t Token) error {
	err := redisDeleteLua.Run(ctx, s.redis, []string{s.expiresKey()},
		s.prefix, t.ID, t.OwnerModel, t.OwnerID, t.Series,
	).Err()
	if err != nil {
		return persistErr("rememberme.RedisStore.Delete", redisUnavailable(err))
	}
	return nil
}

// DeleteAllMatching implements Store.
func (s *RedisStore) DeleteAllMatching(ctx context.Context, ownerModel, ownerID, series string) (int64, error) {
	n, err := redisDeleteAllLua.Run(ctx, s.redis, []string{s.expiresKey()},
		s.prefix, ownerModel, ownerID, series,
	).Int64()
	if err != nil {
		return 0, persistErr("rememberme.RedisStore.DeleteAllMatching", redisUnavailable(err))
	}
	return n, nil
}

// DropExpired implements Store. Expiry scores have millisecond precision; a row is
// dropped only once its expiry millisecond is strictly before now's.
func (s *RedisStore) DropExpired(ctx context.Context, now time.Time, ownerModel, ownerID string) (int64, error) {
	n, err := redisDropExpiredLua.Run(ctx, s.redis, []string{s.expiresKey()},
		s.prefix, now.UnixMilli(), ownerModel, ownerID,
	).Int64()
	if err != nil {
		return 0, persistErr("rememberme.RedisStore.DropExpired", redisUnavailable(err))
	}
	return n, nil
}

// Ping reports whether Redis answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return redisUnavailable(err)
	}
	return nil
}

func redisUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

func redisDecodeRow(id string, f map[string]string) (Token, error) {
	row := Token{
		ID:         id,
		OwnerModel: f["owner_model"],
		OwnerID:    f["owner_id"],
		Series:     f["series"],
		TokenHash:  f["token_hash"],
	}
	var err error
	if row.Expires, err = redisParseTime(f["expires"]); err != nil {
		return Token{}, err
	}
	if row.Created, err = redisParseTime(f["created"]); err != nil {
		return Token{}, err
	}
	if row.Modified, err = redisParseTime(f["modified"]); err != nil {
		return Token{}, err
	}
	return row, nil
}

func redisParseTime(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return time.Unix(0, n).UTC(), nil
}
