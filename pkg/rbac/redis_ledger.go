package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	redisGrantKeyPrefix = "rbac:grants:"
	redisGrantUsersKey  = "rbac:grant_users"
	redisMaxTxRetries   = 5
)

// RedisLedger stores each user's grants as a Redis list of JSON documents.
// The set of users holding grants is tracked so sweeps avoid SCAN.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// RedisLedgerOptions configures the Redis connection
type RedisLedgerOptions struct {
	URL       string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisLedger connects to Redis and verifies the connection
func NewRedisLedger(opts RedisLedgerOptions) (*RedisLedger, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if opts.Password != "" {
		redisOpts.Password = opts.Password
	}
	if opts.DB > 0 {
		redisOpts.DB = opts.DB
	}
	redisOpts.DialTimeout = 5 * time.Second
	redisOpts.ReadTimeout = 3 * time.Second
	redisOpts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", errors.Join(ErrLedgerUnavailable, err))
	}

	return NewRedisLedgerFromClient(client, opts.KeyPrefix), nil
}

// NewRedisLedgerFromClient wraps an existing client
func NewRedisLedgerFromClient(client *redis.Client, keyPrefix string) *RedisLedger {
	return &RedisLedger{client: client, prefix: keyPrefix}
}

// Client exposes the underlying client for health checks
func (l *RedisLedger) Client() *redis.Client {
	return l.client
}

// Close closes the Redis connection
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func (l *RedisLedger) grantKey(userID string) string {
	return l.prefix + redisGrantKeyPrefix + userID
}

func (l *RedisLedger) usersKey() string {
	return l.prefix + redisGrantUsersKey
}

// Append pushes the grant onto the user's list
func (l *RedisLedger) Append(ctx context.Context, grant *PermissionGrant) error {
	if err := validateGrant(grant); err != nil {
		return err
	}
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}

	data, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("failed to marshal grant: %w", err)
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, l.grantKey(grant.UserID), data)
		pipe.SAdd(ctx, l.usersKey(), grant.UserID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append grant: %w", err)
	}
	return nil
}

// Remove deletes every grant for the user and permission
func (l *RedisLedger) Remove(ctx context.Context, userID, permissionID string) (int, error) {
	return l.rewrite(ctx, userID, func(g *PermissionGrant) bool {
		return g.Permission != permissionID
	})
}

// ListForUser returns the user's grants in insertion order
func (l *RedisLedger) ListForUser(ctx context.Context, userID string) ([]*PermissionGrant, error) {
	raw, err := l.client.LRange(ctx, l.grantKey(userID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read grants: %w", err)
	}
	return decodeGrants(raw)
}

// RemoveExpired sweeps every tracked user
func (l *RedisLedger) RemoveExpired(ctx context.Context, now time.Time) (int, error) {
	users, err := l.client.SMembers(ctx, l.usersKey()).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to list grant holders: %w", err)
	}

	total := 0
	for _, userID := range users {
		removed, err := l.rewrite(ctx, userID, func(g *PermissionGrant) bool {
			return !g.ExpiredAt(now)
		})
		if err != nil {
			return total, err
		}
		total += removed
	}
	return total, nil
}

// rewrite replaces the user's list with the grants keep accepts, under WATCH
func (l *RedisLedger) rewrite(ctx context.Context, userID string, keep func(*PermissionGrant) bool) (int, error) {
	key := l.grantKey(userID)
	removed := 0

	txf := func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil && err != redis.Nil {
			return err
		}

		kept := make([]interface{}, 0, len(raw))
		removed = 0
		for _, item := range raw {
			var g PermissionGrant
			if err := json.Unmarshal([]byte(item), &g); err != nil {
				return fmt.Errorf("failed to unmarshal grant: %w", err)
			}
			if keep(&g) {
				kept = append(kept, item)
			} else {
				removed++
			}
		}

		if removed == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(kept) > 0 {
				pipe.RPush(ctx, key, kept...)
			} else {
				pipe.SRem(ctx, l.usersKey(), userID)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisMaxTxRetries; attempt++ {
		err := l.client.Watch(ctx, txf, key)
		if err == nil {
			return removed, nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return 0, fmt.Errorf("failed to rewrite grants for %s: %w", userID, err)
	}
	return 0, fmt.Errorf("failed to rewrite grants for %s: too much contention", userID)
}

func decodeGrants(raw []string) ([]*PermissionGrant, error) {
	grants := make([]*PermissionGrant, 0, len(raw))
	for _, item := range raw {
		var g PermissionGrant
		if err := json.Unmarshal([]byte(item), &g); err != nil {
			return nil, fmt.Errorf("failed to unmarshal grant: %w", err)
		}
		grants = append(grants, &g)
	}
	return grants, nil
}
