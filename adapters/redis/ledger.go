package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"healthloop/ports"
)

const keyPrefix = "healthloop:run:"

// client is the subset of the redis API the ledger needs
type client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Ledger is a RunLedger backed by SETNX: the first writer of a key wins
// until the key expires
type Ledger struct {
	client client
	closer func() error
}

// NewLedger connects to redis and checks the connection
func NewLedger(addr, password string, db int) (*Ledger, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &Ledger{client: c, closer: c.Close}, nil
}

func (l *Ledger) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	first, err := l.client.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX failed: %w", err)
	}
	return first, nil
}

func (l *Ledger) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	return nil
}

func (l *Ledger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer()
}

var _ ports.RunLedger = (*Ledger)(nil)
