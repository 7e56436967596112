package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/infrastructure/identity"
	"rendezlink/internal/infrastructure/lan"
	"rendezlink/internal/infrastructure/repositories"
	"rendezlink/pkg/config"
	"rendezlink/pkg/logger"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("lan-discover", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "configs/config.yaml", "path to the YAML configuration file")
	target := flagSet.String("target", "", "ping destination host (default: lan.broadcast_addr)")
	inactivity := flagSet.Duration("inactivity", 0, "stop after this long without a reply (default: lan.inactivity)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ident, err := identity.New(cfg.Identity.ID, cfg.Identity.PublicKey)
	if err != nil {
		return err
	}

	stores := repositories.NewStoreFactory(cfg, log)
	defer stores.Close()

	policy := lan.DefaultScanPolicy()
	host := cfg.Lan.BroadcastAddr
	if *target != "" {
		host = *target
	}
	policy.Target = net.JoinHostPort(host, strconv.Itoa(domain.LanDiscoveryPort))
	policy.Inactivity = cfg.Lan.Inactivity
	if *inactivity > 0 {
		policy.Inactivity = *inactivity
	}
	policy.PersistInterval = cfg.Lan.PersistInterval

	requester := lan.NewRequester(ident, stores.CreatePeerStore(), nil, policy, log.Named("lan"))
	peers, err := requester.Scan(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(peers)
}
