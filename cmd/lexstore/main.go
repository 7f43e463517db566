// lexstore gRPC and index-admin server
// Serves edition histories of legal acts over gRPC and HTTP
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/nainya/lexstore/internal/admin"
	"github.com/nainya/lexstore/internal/config"
	"github.com/nainya/lexstore/internal/feed"
	"github.com/nainya/lexstore/internal/lock"
	"github.com/nainya/lexstore/internal/logger"
	"github.com/nainya/lexstore/internal/metrics"
	"github.com/nainya/lexstore/internal/server"
	"github.com/nainya/lexstore/internal/service"
	"github.com/nainya/lexstore/pkg/alias"
	"github.com/nainya/lexstore/pkg/history"
	"github.com/nainya/lexstore/pkg/store"
)

var (
	configPath  = flag.String("config", "", "YAML configuration file")
	grpcPort    = flag.Int("port", 0, "gRPC port (overrides config)")
	adminPort   = flag.Int("admin-port", 0, "index-admin HTTP port (overrides config)")
	metricsPort = flag.Int("metrics-port", 0, "metrics HTTP port (overrides config)")
	storeFlag   = flag.String("store", "", "store backend: memory, kv, sqlite, postgres (overrides config)")
	dbPath      = flag.String("db", "", "KV database file (overrides config)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Pretty:     cfg.Log.Pretty,
		WithCaller: cfg.Log.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server failed").Err(err).Send()
	}
}

func applyFlags(cfg *config.Config) {
	if *grpcPort != 0 {
		cfg.Server.GrpcPort = *grpcPort
	}
	if *adminPort != 0 {
		cfg.Server.AdminPort = *adminPort
	}
	if *metricsPort != 0 {
		cfg.Server.MetricsPort = *metricsPort
	}
	if *storeFlag != "" {
		cfg.Store.Backend = *storeFlag
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
}

func openStore(ctx context.Context, cfg config.Store) (store.ContentStore, error) {
	switch cfg.Backend {
	case config.StoreKV:
		return store.OpenKV(cfg.Path)
	case config.StoreSQLite:
		return store.OpenSQL(ctx, store.DialectSQLite, cfg.DSN)
	case config.StorePostgres:
		return store.OpenSQL(ctx, store.DialectPostgres, cfg.DSN)
	}
	return store.NewMemoryStore(), nil
}

func openLocker(ctx context.Context, cfg config.Lock, log *logger.Logger) (history.Locker, func(), error) {
	switch cfg.Backend {
	case config.LockLocal:
		return lock.NewLocal(cfg.Wait), func() {}, nil
	case config.LockRedis:
		client, err := lock.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		l := lock.NewRedis(client, cfg.TTL, cfg.Wait, lock.WithLogger(log.Zerolog()))
		return l, func() { client.Close() }, nil
	}
	return nil, func() {}, nil
}

func openFeed(ctx context.Context, cfg config.Feed, log *logger.Logger) (feed.Publisher, *feed.Spool, error) {
	var pub feed.Publisher = feed.NewLog(log.Zerolog())
	if cfg.Backend == config.FeedKafka {
		k, err := feed.NewKafka(cfg.Brokers, cfg.Topic)
		if err != nil {
			return nil, nil, err
		}
		if err := k.EnsureTopic(ctx, 1, 1); err != nil {
			k.Close()
			return nil, nil, err
		}
		pub = k
	}
	if cfg.Spool == "" {
		return pub, nil, nil
	}
	spool, err := feed.NewSpool(pub, cfg.Spool, log.Zerolog())
	if err != nil {
		pub.Close()
		return nil, nil, err
	}
	return spool, spool, nil
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	log.LogServerStart(cfg.Server.GrpcPort, cfg.Store.Backend)

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	locker, closeLocker, err := openLocker(ctx, cfg.Lock, log)
	if err != nil {
		st.Close()
		return fmt.Errorf("open lock: %w", err)
	}
	defer closeLocker()
	pub, spool, err := openFeed(ctx, cfg.Feed, log)
	if err != nil {
		st.Close()
		return fmt.Errorf("open feed: %w", err)
	}
	aliases, err := alias.New(cfg.Aliases)
	if err != nil {
		st.Close()
		pub.Close()
		return err
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	opts := []history.Option{
		history.WithLogger(log.Zerolog().With().Str("component", "history").Logger()),
		history.WithRetry(cfg.Retry.Attempts, cfg.Retry.Wait),
		history.WithRelations(cfg.BaseIRI),
	}
	if locker != nil {
		opts = append(opts, history.WithLocker(locker))
	}
	engine := history.NewEngine(st, opts...)
	svc := service.New(engine, st,
		service.WithAliases(aliases),
		service.WithFeed(pub),
		service.WithMetrics(m),
		service.WithLogger(log),
		service.WithUploadPause(cfg.Retry.UploadPause),
	)
	defer svc.Close()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GrpcPort))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(100*1024*1024),
		grpc.MaxSendMsgSize(100*1024*1024),
		grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(m, log)),
	)
	server.RegisterHistoryServiceServer(grpcServer, server.NewServer(svc, log))
	reflection.Register(grpcServer)

	adminServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.AdminPort),
		Handler:           admin.New(svc, admin.NewGuard(cfg.Admin.TrustedHosts, cfg.Admin.JWTSecret), log, m).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	obs := server.NewObservabilityServer(cfg.Server.MetricsPort, prometheus.DefaultGatherer, svc.Health, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.LogServerReady(cfg.Server.GrpcPort)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(obs.Start)
	g.Go(func() error {
		m.RunUptime(gctx.Done())
		return nil
	})
	if spool != nil {
		g.Go(func() error {
			spool.Run(gctx, cfg.Feed.DrainInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.LogServerShutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		_ = adminServer.Shutdown(shutdownCtx)
		return obs.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
