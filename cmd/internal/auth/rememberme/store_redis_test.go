package rememberme

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rememberme/cmd/security/token"
)

func newRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st, err := NewRedisStore(rdb, "")
	require.NoError(t, err)
	return st, mr
}

func TestRedisStore_Contract(t *testing.T) {
	t.Parallel()

	runStoreSuite(t, func(t *testing.T) Store {
		st, _ := newRedisStoreTest(t)
		return st
	})
}

func TestRedisStore_DeleteLeavesNoIndexes(t *testing.T) {
	t.Parallel()

	st, mr := newRedisStoreTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	row := &Token{
		OwnerModel: "users", OwnerID: "2", Series: "series_bar_1",
		TokenHash: token.HashSHA256Hex("t"), Expires: now.Add(time.Hour),
	}
	require.NoError(t, st.Save(ctx, row, now))
	assert.True(t, mr.Exists(st.rowKey(row.ID)))
	assert.True(t, mr.Exists(st.seriesKey("users", "2", "series_bar_1")))

	require.NoError(t, st.Delete(ctx, Token{OwnerModel: "users", OwnerID: "2", Series: "series_bar_1"}))

	assert.False(t, mr.Exists(st.rowKey(row.ID)))
	assert.False(t, mr.Exists(st.seriesKey("users", "2", "series_bar_1")))
	assert.Zero(t, st.redis.SCard(ctx, st.prefix+"owner:"+redisOwnerPart("users", "2")).Val())
	assert.Zero(t, st.redis.ZCard(ctx, st.expiresKey()).Val())
}

func TestRedisStore_OwnerPartIsUnambiguous(t *testing.T) {
	t.Parallel()

	st, _ := newRedisStoreTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := &Token{OwnerModel: "users", OwnerID: "a:b", Series: "c", TokenHash: token.HashSHA256Hex("a"), Expires: now.Add(time.Hour)}
	b := &Token{OwnerModel: "users", OwnerID: "a", Series: "b:c", TokenHash: token.HashSHA256Hex("b"), Expires: now.Add(time.Hour)}
	require.NoError(t, st.Save(ctx, a, now))
	require.NoError(t, st.Save(ctx, b, now))
	assert.NotEqual(t, a.ID, b.ID)

	n, err := st.DeleteAllMatching(ctx, "users", "a", "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := st.FindBySeries(ctx, "users", "a:b", "c")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestRedisStore_Unavailable(t *testing.T) {
	t.Parallel()

	st, mr := newRedisStoreTest(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := st.FindBySeries(ctx, "users", "1", "s")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, ErrRedisUnavailable)

	err = st.Save(ctx, &Token{
		OwnerModel: "users", OwnerID: "1", Series: "s",
		TokenHash: token.HashSHA256Hex("t"), Expires: time.Now().Add(time.Hour),
	}, time.Now())
	assert.ErrorIs(t, err, ErrRedisUnavailable)

	_, err = st.DropExpired(ctx, time.Now(), "", "")
	assert.ErrorIs(t, err, ErrRedisUnavailable)

	assert.ErrorIs(t, st.Ping(ctx), ErrRedisUnavailable)
}

func TestNewRedisStore_NilClient(t *testing.T) {
	t.Parallel()

	_, err := NewRedisStore(nil, "")
	assert.ErrorIs(t, err, ErrConfig)
}
