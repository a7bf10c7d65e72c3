package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeKeyPrefix  = "board:otp"
	revocationKeyPrefix = "board:revoked"
	redirectKeyPrefix   = "board:redirect"
)

// RedisChallenges keeps challenges in a hash that expires with the challenge.
type RedisChallenges struct {
	rdb redis.Cmdable
}

func NewRedisChallenges(rdb redis.Cmdable) *RedisChallenges {
	return &RedisChallenges{rdb: rdb}
}

func (s *RedisChallenges) Save(ctx context.Context, id string, rec ChallengeRecord) error {
	key := redisKey(challengeKeyPrefix, id)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"phone", rec.PhoneNumber,
			"hash", rec.CodeHash,
			"expires", rec.ExpiresAt.UnixNano(),
			"attempts", 0,
		)
		pipe.ExpireAt(ctx, key, rec.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

func (s *RedisChallenges) Load(ctx context.Context, id string) (ChallengeRecord, error) {
	vals, err := s.rdb.HGetAll(ctx, redisKey(challengeKeyPrefix, id)).Result()
	if err != nil {
		return ChallengeRecord{}, fmt.Errorf("load challenge: %w", err)
	}
	if len(vals) == 0 || vals["expires"] == "" {
		return ChallengeRecord{}, ErrChallengeNotFound
	}
	nanos, err := strconv.ParseInt(vals["expires"], 10, 64)
	if err != nil {
		return ChallengeRecord{}, fmt.Errorf("decode challenge expiry: %w", err)
	}
	return ChallengeRecord{
		PhoneNumber: vals["phone"],
		CodeHash:    []byte(vals["hash"]),
		ExpiresAt:   time.Unix(0, nanos).UTC(),
	}, nil
}

// recordAttemptScript increments attempts only while the challenge exists,
// so a concurrent Consume cannot leave behind a hash without a TTL.
var recordAttemptScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
end
return -1
`)

func (s *RedisChallenges) RecordAttempt(ctx context.Context, id string) (int, error) {
	n, err := recordAttemptScript.Run(ctx, s.rdb, []string{redisKey(challengeKeyPrefix, id)}).Int()
	if err != nil {
		return 0, fmt.Errorf("record attempt: %w", err)
	}
	if n < 0 {
		return 0, ErrChallengeNotFound
	}
	return n, nil
}

func (s *RedisChallenges) Consume(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Del(ctx, redisKey(challengeKeyPrefix, id)).Result()
	if err != nil {
		return false, fmt.Errorf("consume challenge: %w", err)
	}
	return n == 1, nil
}

// RedisRevocations stores revoked token ids until their natural expiry.
type RedisRevocations struct {
	rdb redis.Cmdable
}

func NewRedisRevocations(rdb redis.Cmdable) *RedisRevocations {
	return &RedisRevocations{rdb: rdb}
}

func (s *RedisRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := s.rdb.Set(ctx, redisKey(revocationKeyPrefix, tokenID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RedisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, redisKey(revocationKeyPrefix, tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// RedisRedirects keeps post-sign-in targets; GETDEL makes Consume single-use.
type RedisRedirects struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisRedirects(rdb redis.Cmdable, ttl time.Duration) *RedisRedirects {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisRedirects{rdb: rdb, ttl: ttl}
}

func (s *RedisRedirects) Remember(ctx context.Context, state, target string) error {
	if err := s.rdb.Set(ctx, redisKey(redirectKeyPrefix, state), target, s.ttl).Err(); err != nil {
		return fmt.Errorf("remember redirect: %w", err)
	}
	return nil
}

func (s *RedisRedirects) Consume(ctx context.Context, state string) (string, bool, error) {
	target, err := s.rdb.GetDel(ctx, redisKey(redirectKeyPrefix, state)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("consume redirect: %w", err)
	}
	return target, true, nil
}

func redisKey(prefix, id string) string {
	return fmt.Sprintf("%s:%s", prefix, id)
}
