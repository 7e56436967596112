package repositories

import (
	"context"
	"path/filepath"
	"testing"

	"rendezlink/internal/core/domain"
	"rendezlink/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStoreFactory_Backends(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		f := NewStoreFactory(config.DefaultConfig(), logger)
		defer f.Close()
		assert.Equal(t, "memory", f.Backend())
		require.NoError(t, f.CreateOptionStore().SetOption(ctx, domain.OptionDirectServer, "Y"))
		assert.NoError(t, f.HealthCheck(ctx))
	})

	t.Run("file", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Store.Backend = "file"
		cfg.Store.OptionsFile = filepath.Join(t.TempDir(), "options.yaml")
		cfg.Store.PeersFile = filepath.Join(t.TempDir(), "peers.yaml")

		f := NewStoreFactory(cfg, logger)
		assert.Equal(t, "file", f.Backend())
		require.NoError(t, f.CreateOptionStore().SetOption(ctx, domain.OptionDirectServer, "Y"))

		v, err := NewStoreFactory(cfg, logger).CreateOptionStore().GetOption(ctx, domain.OptionDirectServer)
		require.NoError(t, err)
		assert.Equal(t, "Y", v)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := config.DefaultConfig()
		cfg.Store.Backend = "redis"
		cfg.Redis.Address = mr.Addr()

		f := NewStoreFactory(cfg, logger)
		defer f.Close()
		assert.Equal(t, "redis", f.Backend())
		require.NoError(t, f.CreatePeerStore().Store(ctx, []domain.DiscoveredPeer{{ID: "1"}}))
		assert.NoError(t, f.HealthCheck(ctx))
	})

	t.Run("redis unreachable falls back to memory", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := config.DefaultConfig()
		cfg.Store.Backend = "redis"
		cfg.Redis.Address = addr

		f := NewStoreFactory(cfg, logger)
		assert.Equal(t, "memory", f.Backend())
		_, err := f.CreatePeerStore().Load(ctx)
		assert.ErrorIs(t, err, domain.ErrLanPeersNotStored)
	})
}
