package repositories

import (
	"context"

	"rendezlink/internal/core/ports"
	"rendezlink/internal/infrastructure/repositories/file"
	"rendezlink/internal/infrastructure/repositories/memory"
	redisrepo "rendezlink/internal/infrastructure/repositories/redis"
	"rendezlink/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StoreFactory creates the option and peer stores for the configured
// backend. A Redis backend that cannot be reached falls back to memory.
type StoreFactory struct {
	backend     string
	cfg         *config.Config
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewStoreFactory(cfg *config.Config, logger *zap.SugaredLogger) *StoreFactory {
	factory := &StoreFactory{
		backend: cfg.Store.Backend,
		cfg:     cfg,
		logger:  logger,
	}

	if factory.backend == "redis" {
		client, err := redisrepo.Connect(context.Background(), redisrepo.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory stores",
				"error", err,
			)
			factory.backend = "memory"
		} else {
			factory.redisClient = client
		}
	}

	logger.Infow("using stores", "backend", factory.backend)
	return factory
}

// Backend reports the backend actually in use.
func (f *StoreFactory) Backend() string {
	return f.backend
}

func (f *StoreFactory) CreateOptionStore() ports.OptionStore {
	switch f.backend {
	case "redis":
		return redisrepo.NewRedisOptionStore(f.redisClient)
	case "file":
		return file.NewOptionStore(f.cfg.Store.OptionsFile)
	default:
		return memory.NewMemoryOptionStore(nil)
	}
}

func (f *StoreFactory) CreatePeerStore() ports.PeerStore {
	switch f.backend {
	case "redis":
		return redisrepo.NewRedisPeerStore(f.redisClient)
	case "file":
		return file.NewPeerStore(f.cfg.Store.PeersFile)
	default:
		return memory.NewMemoryPeerStore()
	}
}

// Close closes Redis connection if used
func (f *StoreFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *StoreFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return redisrepo.Healthy(ctx, f.redisClient)
	}
	return nil
}
