package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout (prefix defaults to "plug:rt"):
//
//	<prefix>:tok:<hash>    hash {id, owner, issued_at, expires_at, revoked_at?}
//	<prefix>:id:<id>       string <hash>, reserves the credential id
//	<prefix>:owner:<owner> set of hashes
//	<prefix>:exp           zset of hashes scored by expires_at (unix ms)
//
// Credentials carry no Redis TTL: expired rows stay observable until
// DeleteExpired removes them, like the SQL backends.

const createCredentialScript = `
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "id", ARGV[1], "owner", ARGV[2], "issued_at", ARGV[4], "expires_at", ARGV[5])
redis.call("SET", KEYS[2], ARGV[3])
redis.call("SADD", KEYS[3], ARGV[3])
redis.call("ZADD", KEYS[4], ARGV[5], ARGV[3])
return 1
`

const revokeCredentialScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
return redis.call("HSETNX", KEYS[1], "revoked_at", ARGV[1])
`

const revokeOwnerScript = `
local n = 0
local hashes = redis.call("SMEMBERS", KEYS[1])
for _, h in ipairs(hashes) do
  local key = ARGV[1] .. h
  if redis.call("EXISTS", key) == 1 then
    n = n + redis.call("HSETNX", key, "revoked_at", ARGV[2])
  end
end
return n
`

const deleteExpiredScript = `
local hashes = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1])
for _, h in ipairs(hashes) do
  local key = ARGV[2] .. h
  local fields = redis.call("HMGET", key, "id", "owner")
  redis.call("DEL", key)
  if fields[1] then
    redis.call("DEL", ARGV[4] .. fields[1])
  end
  if fields[2] then
    redis.call("SREM", ARGV[3] .. fields[2], h)
  end
  redis.call("ZREM", KEYS[1], h)
end
return #hashes
`

var (
	createCredentialLua = redis.NewScript(createCredentialScript)
	revokeCredentialLua = redis.NewScript(revokeCredentialScript)
	revokeOwnerLua      = redis.NewScript(revokeOwnerScript)
	deleteExpiredLua    = redis.NewScript(deleteExpiredScript)
)

// RedisStore implements RefreshStore on Redis. Each mutation is a single
// Lua script, so revocation is atomic with its existence check.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore pings the server before returning.
func NewRedisStore(ctx context.Context, rdb redis.UniversalClient, prefix string) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("session: nil redis client")
	}
	if prefix == "" {
		prefix = "plug:rt"
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisStore) tokPrefix() string   { return s.prefix + ":tok:" }
func (s *RedisStore) idPrefix() string    { return s.prefix + ":id:" }
func (s *RedisStore) ownerPrefix() string { return s.prefix + ":owner:" }
func (s *RedisStore) expKey() string      { return s.prefix + ":exp" }

func (s *RedisStore) Create(ctx context.Context, c RefreshCredential) error {
	keys := []string{
		s.tokPrefix() + c.TokenHash,
		s.idPrefix() + c.ID,
		s.ownerPrefix() + c.OwnerID,
		s.expKey(),
	}
	ok, err := createCredentialLua.Run(ctx, s.rdb, keys,
		c.ID, c.OwnerID, c.TokenHash, c.IssuedAt.UnixMilli(), c.ExpiresAt.UnixMilli()).Int64()
	if err != nil {
		return fmt.Errorf("refresh.Create: %w", err)
	}
	if ok == 0 {
		return ErrDuplicateCredential
	}
	return nil
}

func (s *RedisStore) FindByToken(ctx context.Context, tokenHash string) (RefreshCredential, error) {
	fields, err := s.rdb.HGetAll(ctx, s.tokPrefix()+tokenHash).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return RefreshCredential{}, fmt.Errorf("refresh.FindByToken: %w", err)
	}
	if len(fields) == 0 {
		return RefreshCredential{}, ErrCredentialNotFound
	}

	issued, err1 := strconv.ParseInt(fields["issued_at"], 10, 64)
	expires, err2 := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err := errors.Join(err1, err2); err != nil {
		return RefreshCredential{}, fmt.Errorf("refresh.FindByToken: corrupt record: %w", err)
	}

	c := RefreshCredential{
		ID:        fields["id"],
		OwnerID:   fields["owner"],
		TokenHash: tokenHash,
		IssuedAt:  time.UnixMilli(issued).UTC(),
		ExpiresAt: time.UnixMilli(expires).UTC(),
	}
	if v, ok := fields["revoked_at"]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return RefreshCredential{}, fmt.Errorf("refresh.FindByToken: corrupt revoked_at: %w", err)
		}
		r := time.UnixMilli(ms).UTC()
		c.RevokedAt = &r
	}
	return c, nil
}

func (s *RedisStore) RevokeToken(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	n, err := revokeCredentialLua.Run(ctx, s.rdb, []string{s.tokPrefix() + tokenHash}, now.UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("refresh.RevokeToken: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) RevokeAllForOwner(ctx context.Context, ownerID string, now time.Time) (int64, error) {
	n, err := revokeOwnerLua.Run(ctx, s.rdb, []string{s.ownerPrefix() + ownerID},
		s.tokPrefix(), now.UnixMilli()).Int64()
	if err != nil {
		return 0, fmt.Errorf("refresh.RevokeAllForOwner: %w", err)
	}
	return n, nil
}

func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := deleteExpiredLua.Run(ctx, s.rdb, []string{s.expKey()},
		now.UnixMilli(), s.tokPrefix(), s.ownerPrefix(), s.idPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("refresh.DeleteExpired: %w", err)
	}
	return n, nil
}
