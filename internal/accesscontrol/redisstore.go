package accesscontrol

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisIPSetKey   = "flowgate:blocked:ips"
	redisUserSetKey = "flowgate:blocked:users"
	redisOpTimeout  = 5 * time.Second
)

// RedisStore is a Redis-backed Store for operators running more than one
// proxy instance against a shared block list. It uses plain set commands
// (SAdd/SRem/SIsMember), grounded in the teacher's go-redis client usage
// (control_plane/store/redis.go) without that file's versioned-write Lua
// scripts, which exist there to settle distributed-lock races this package
// has no equivalent of.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr/db and verifies reachability with a Ping,
// matching the teacher's NewRedisStore connection check.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("accesscontrol: connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) IsIPBlocked(ip string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	ok, err := s.client.SIsMember(ctx, redisIPSetKey, ip).Result()
	return err == nil && ok
}

func (s *RedisStore) IsUserBlocked(user string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	ok, err := s.client.SIsMember(ctx, redisUserSetKey, user).Result()
	return err == nil && ok
}

func (s *RedisStore) BlockIP(ip string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return s.client.SAdd(ctx, redisIPSetKey, ip).Err()
}

func (s *RedisStore) UnblockIP(ip string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return s.client.SRem(ctx, redisIPSetKey, ip).Err()
}

func (s *RedisStore) BlockUser(user string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return s.client.SAdd(ctx, redisUserSetKey, user).Err()
}

func (s *RedisStore) UnblockUser(user string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return s.client.SRem(ctx, redisUserSetKey, user).Err()
}

func (s *RedisStore) BlockedIPs() []string {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	members, err := s.client.SMembers(ctx, redisIPSetKey).Result()
	if err != nil {
		return nil
	}
	return members
}

func (s *RedisStore) BlockedUsers() []string {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	members, err := s.client.SMembers(ctx, redisUserSetKey).Result()
	if err != nil {
		return nil
	}
	return members
}
