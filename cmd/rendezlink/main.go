package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"rendezlink/internal/core/ports"
	"rendezlink/internal/core/services"
	httphandlers "rendezlink/internal/handlers/http"
	"rendezlink/internal/infrastructure/acceptor"
	"rendezlink/internal/infrastructure/directory"
	"rendezlink/internal/infrastructure/identity"
	"rendezlink/internal/infrastructure/lan"
	"rendezlink/internal/infrastructure/middleware"
	"rendezlink/internal/infrastructure/monitoring"
	"rendezlink/internal/infrastructure/repositories"
	signalinfra "rendezlink/internal/infrastructure/signal"
	"rendezlink/internal/infrastructure/stun"
	"rendezlink/pkg/config"
	"rendezlink/pkg/logger"
	"rendezlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to the YAML configuration file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if err := run(cfg, log); err != nil {
		log.Fatalw("rendezlink stopped with error", "error", err)
	}
	log.Info("rendezlink stopped")
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "rendezlink",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("failed to flush traces", "error", err)
		}
	}()

	// Stores
	storeFactory := repositories.NewStoreFactory(cfg, log)
	defer func() {
		if err := storeFactory.Close(); err != nil {
			log.Errorw("error closing stores", "error", err)
		}
	}()
	options := storeFactory.CreateOptionStore()
	peers := storeFactory.CreatePeerStore()

	// Monitoring
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := monitoring.NewPrometheusCollector(registry)

	health := monitoring.NewHealthChecker()
	health.AddOptionStoreCheck(options, 2*time.Second)
	health.AddCheck("store_backend", storeFactory.HealthCheck, 2*time.Second)

	// Identity and collaborators
	ident, err := identity.New(cfg.Identity.ID, cfg.Identity.PublicKey)
	if err != nil {
		return err
	}

	var resolver ports.PublicAddrResolver
	if cfg.STUN.PublicAddr != "" {
		resolver, err = stun.NewStaticResolver(cfg.STUN.PublicAddr)
		if err != nil {
			return err
		}
	} else {
		resolver = stun.NewResolver(cfg.STUN.Servers, cfg.STUN.Timeout, cfg.STUN.CacheTTL, log.Named("stun"))
	}

	var dir ports.ServerDirectory
	if cfg.Rendezvous.DirectoryURL != "" {
		dir = directory.NewClient(cfg.Rendezvous.DirectoryURL, cfg.Rendezvous.DirectoryTimeout, cfg.Rendezvous.DirectoryCacheTTL, log.Named("directory"))
	}

	dialer := signalinfra.NewDialer(cfg.Identity.ID, log.Named("signal"))
	dialer.ConnectTimeout = cfg.Rendezvous.ConnectTimeout
	dialer.HandshakeTimeout = cfg.Rendezvous.HandshakeTimeout
	dialer.WriteTimeout = cfg.Rendezvous.WriteTimeout
	if cfg.Rendezvous.InsecureTLS {
		dialer.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	forwarder := acceptor.NewForwarder(cfg.Session.ForwardAddress, cfg.Session.DialTimeout, log.Named("session"))
	if cfg.Session.ForwardAddress == "" {
		log.Warn("session.forward_address is empty, established streams will be dropped")
	}

	// Services
	latency := services.NewLatencyTable(options)
	mediator := services.NewMediator(services.MediatorDeps{
		LocalID:  cfg.Identity.ID,
		Dialer:   dialer,
		Servers:  services.NewServerResolver(options, dir, latency, log.Named("servers")),
		Options:  options,
		Resolver: resolver,
		Keys:     ident,
		Acceptor: forwarder,
		Latency:  latency,
		Metrics:  collector,
	}, services.Policy{
		Cooldown:           cfg.Rendezvous.Cooldown,
		Tick:               cfg.Rendezvous.Tick,
		ConnectTimeout:     cfg.Rendezvous.ConnectTimeout,
		ListenerIdle:       cfg.Rendezvous.ListenerIdle,
		LatencyPlaceholder: services.DefaultPolicy().LatencyPlaceholder,
	}, log.Named("mediator"))

	directPolicy := services.DefaultDirectPolicy()
	directPolicy.BindHost = cfg.Direct.BindHost
	directPolicy.Poll = cfg.Direct.Poll
	directPolicy.AcceptTimeout = cfg.Direct.AcceptTimeout
	direct := services.NewDirectServer(options, forwarder, collector, directPolicy, log.Named("direct"))

	var responder *lan.Responder
	var scanner httphandlers.LanScanner
	if cfg.Lan.Enabled {
		responderCfg := lan.DefaultResponderConfig()
		responderCfg.ListenAddr = cfg.Lan.ListenAddr
		responderCfg.RepliesPerSec = cfg.Lan.RepliesPerSec
		responderCfg.ReplyBurst = cfg.Lan.ReplyBurst
		responder = lan.NewResponder(responderCfg, ident, collector, log.Named("lan"))

		scanPolicy := lan.DefaultScanPolicy()
		scanPolicy.Target = net.JoinHostPort(cfg.Lan.BroadcastAddr, strconv.Itoa(responderCfg.Port))
		scanPolicy.Inactivity = cfg.Lan.Inactivity
		scanPolicy.PersistInterval = cfg.Lan.PersistInterval
		scanner = lan.NewRequester(ident, peers, collector, scanPolicy, log.Named("lan"))
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mediator.Run(ctx)
	})
	g.Go(func() error {
		return direct.Run(ctx)
	})

	if responder != nil {
		g.Go(func() error {
			// a busy discovery port leaves the rest of the service running
			if err := responder.Run(ctx); err != nil {
				log.Warnw("lan discovery responder disabled", "error", err)
			}
			return nil
		})
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-responder.Events():
					log.Debugw("lan discovery ping", "from", ev.From.String())
				}
			}
		})
	}

	if cfg.Admin.Address != "" {
		if cfg.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		adminLog := log.Named("admin")
		router := gin.New()
		router.Use(
			middleware.RecoveryMiddleware(adminLog),
			middleware.TracingMiddleware(),
			middleware.AccessLogMiddleware(adminLog),
			middleware.ErrorHandlerMiddleware(adminLog),
		)

		deps := httphandlers.AdminDeps{
			Mediator: mediator,
			Scanner:  scanner,
			Peers:    peers,
			Options:  options,
			Health:   health,
		}
		if cfg.Admin.PrometheusEnabled {
			deps.Gatherer = registry
		}
		httphandlers.NewAdminHandler(deps, adminLog).SetupRoutes(router)

		srv := &http.Server{
			Addr:              cfg.Admin.Address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			log.Infow("starting admin server", "address", cfg.Admin.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Infow("rendezlink started",
		"id", cfg.Identity.ID,
		"store", storeFactory.Backend(),
		"lan", cfg.Lan.Enabled,
	)
	return g.Wait()
}
