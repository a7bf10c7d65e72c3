package identity

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = godotenv.Load("../../.env") // Load from root
}

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	if os.Getenv("REDIS_URL") == "" {
		t.Skip("Skipping integration test: REDIS_URL not set")
	}
	opt, err := redis.ParseURL(os.Getenv("REDIS_URL"))
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestRedisChallenges_ConsumeOnce(t *testing.T) {
	rdb := setupTestRedis(t)
	store := NewRedisChallenges(rdb)
	ctx := context.Background()
	id := uuid.NewString()
	expires := time.Now().Add(time.Minute).UTC()

	require.NoError(t, store.Save(ctx, id, ChallengeRecord{PhoneNumber: "+5551234567", CodeHash: []byte("hash"), ExpiresAt: expires}))

	rec, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "+5551234567", rec.PhoneNumber)
	assert.Equal(t, []byte("hash"), rec.CodeHash)
	assert.True(t, expires.Equal(rec.ExpiresAt))

	ttl, err := rdb.TTL(ctx, redisKey(challengeKeyPrefix, id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	consumed, err := store.Consume(ctx, id)
	require.NoError(t, err)
	assert.True(t, consumed)

	consumed, err = store.Consume(ctx, id)
	require.NoError(t, err)
	assert.False(t, consumed)

	_, err = store.Load(ctx, id)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestRedisChallenges_AttemptAfterConsumeLeavesNoKey(t *testing.T) {
	rdb := setupTestRedis(t)
	store := NewRedisChallenges(rdb)
	ctx := context.Background()
	id := uuid.NewString()
	key := redisKey(challengeKeyPrefix, id)

	require.NoError(t, store.Save(ctx, id, ChallengeRecord{PhoneNumber: "+5551234567", CodeHash: []byte("hash"), ExpiresAt: time.Now().Add(time.Minute)}))

	n, err := store.RecordAttempt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = store.RecordAttempt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.Consume(ctx, id)
	require.NoError(t, err)

	_, err = store.RecordAttempt(ctx, id)
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	exists, err := rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestRedisChallenges_LoadWithoutExpiryIsNotFound(t *testing.T) {
	rdb := setupTestRedis(t)
	store := NewRedisChallenges(rdb)
	ctx := context.Background()
	id := uuid.NewString()
	key := redisKey(challengeKeyPrefix, id)

	require.NoError(t, rdb.HSet(ctx, key, "attempts", 1).Err())
	t.Cleanup(func() { rdb.Del(context.Background(), key) })

	_, err := store.Load(ctx, id)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestRedisChallenges_AttemptsCapped(t *testing.T) {
	rdb := setupTestRedis(t)
	sms := &captureSMS{}
	c := NewChallenger(NewRedisChallenges(rdb), sms, &fakeIdentities{}, newSessions(t), ChallengerConfig{MaxAttempts: 2})
	ctx := context.Background()

	pending, err := c.RequestChallenge(ctx, "+5559876543")
	require.NoError(t, err)
	code := sms.code("+5559876543")

	for i := 0; i < 2; i++ {
		_, _, err := c.ConfirmChallenge(ctx, pending, "000000x")
		assert.ErrorIs(t, err, domain.ErrAuth)
	}
	_, _, err = c.ConfirmChallenge(ctx, pending, code)
	assert.ErrorIs(t, err, domain.ErrAuth)

	exists, err := rdb.Exists(ctx, redisKey(challengeKeyPrefix, pending.ID)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestRedisRevocations_ExpireWithToken(t *testing.T) {
	rdb := setupTestRedis(t)
	store := NewRedisRevocations(rdb)
	ctx := context.Background()

	tokenID := uuid.NewString()
	require.NoError(t, store.Revoke(ctx, tokenID, time.Now().Add(time.Minute)))

	revoked, err := store.IsRevoked(ctx, tokenID)
	require.NoError(t, err)
	assert.True(t, revoked)

	ttl, err := rdb.TTL(ctx, redisKey(revocationKeyPrefix, tokenID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	expired := uuid.NewString()
	require.NoError(t, store.Revoke(ctx, expired, time.Now().Add(-time.Second)))
	revoked, err = store.IsRevoked(ctx, expired)
	require.NoError(t, err)
	assert.False(t, revoked)

	unknown, err := store.IsRevoked(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.False(t, unknown)
}

func TestRedisRedirects_ConsumeOnce(t *testing.T) {
	rdb := setupTestRedis(t)
	store := NewRedisRedirects(rdb, time.Minute)
	ctx := context.Background()
	state := NewState()

	require.NoError(t, store.Remember(ctx, state, "/requests/new"))

	target, ok, err := store.Consume(ctx, state)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/requests/new", target)

	_, ok, err = store.Consume(ctx, state)
	require.NoError(t, err)
	assert.False(t, ok)
}
