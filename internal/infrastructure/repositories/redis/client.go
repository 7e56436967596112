package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "rendezlink:"

// Options selects the Redis instance that holds the agent's options and
// discovered LAN peers.
type Options struct {
	Address        string
	Password       string
	DB             int
	PoolSize       int
	ConnectTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PoolSize <= 0 {
		o.PoolSize = 2
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	return o
}

// Connect opens a client, waits for the server to answer and brings the key
// layout to the current version. The client is closed on any failure.
func Connect(ctx context.Context, opts Options, logger *zap.SugaredLogger) (*redis.Client, error) {
	opts = opts.withDefaults()

	// option reads sit on the session tick path, so reads stay short
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.ConnectTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", opts.Address, err)
	}
	if err := Migrate(ctx, client, logger); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s key layout: %w", opts.Address, err)
	}

	if logger != nil {
		logger.Infow("option store connected", "backend", "redis", "address", opts.Address, "db", opts.DB)
	}
	return client, nil
}

// Healthy reports an error when the server does not answer or its key layout
// is no longer the one this build writes, e.g. after a FLUSHDB.
func Healthy(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return err
	}
	version, err := getSchemaVersion(ctx, client)
	if err != nil {
		return err
	}
	if version != currentSchemaVersion {
		return fmt.Errorf("redis key layout version %d, want %d", version, currentSchemaVersion)
	}
	return nil
}
