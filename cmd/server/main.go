// Command streamvault-server serves the account and watchlist HTTP API.
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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/and161185/streamvault/internal/catalog"
	"github.com/and161185/streamvault/internal/config"
	pkgcrypto "github.com/and161185/streamvault/internal/crypto"
	"github.com/and161185/streamvault/internal/limiter"
	"github.com/and161185/streamvault/internal/logger"
	"github.com/and161185/streamvault/internal/metrics"
	"github.com/and161185/streamvault/internal/migrate"
	"github.com/and161185/streamvault/internal/repository"
	"github.com/and161185/streamvault/internal/repository/memory"
	"github.com/and161185/streamvault/internal/repository/mongostore"
	"github.com/and161185/streamvault/internal/repository/postgres"
	grpcserver "github.com/and161185/streamvault/internal/server/grpc"
	httpserver "github.com/and161185/streamvault/internal/server/http"
	"github.com/and161185/streamvault/internal/service"
	"github.com/and161185/streamvault/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const (
	healthInterval = 15 * time.Second
	pruneInterval  = time.Minute
)

// stores is what the selected driver provides.
type stores struct {
	users      repository.UserRepository
	watchlists repository.WatchlistRepository
	lim        limiter.Limiter
	checks     map[string]repository.Pinger
	close      func()
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	migrateOnly := flag.Bool("migrate-only", false, "apply database migrations and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("streamvault-server %s (%s)\n", version, buildDate)
		return
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	log, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("store", cfg.StoreDriver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.StoreDriver == config.DriverPostgres {
		v, err := migrate.Up(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("migrate up", zap.Error(err))
		}
		log.Info("schema ready", zap.Int64("version", v))
	}
	if *migrateOnly {
		return
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func openStores(ctx context.Context, cfg *config.Config, policy limiter.Policy) (*stores, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := postgres.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return &stores{
			users:      postgres.NewUserRepo(db),
			watchlists: postgres.NewWatchlistRepo(db),
			lim:        limiter.NewPG(db.Pool, policy),
			checks:     map[string]repository.Pinger{"postgres": db},
			close:      db.Close,
		}, nil
	case config.DriverMongo:
		st, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		if err := st.EnsureIndexes(ctx); err != nil {
			_ = st.Close(context.Background())
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return &stores{
			users:      st.Users(),
			watchlists: st.Watchlists(),
			lim:        limiter.NewMemory(policy),
			checks:     map[string]repository.Pinger{"mongo": st},
			close:      func() { _ = st.Close(context.Background()) },
		}, nil
	default:
		users, lists := memory.NewUserRepo(), memory.NewWatchlistRepo()
		return &stores{
			users:      users,
			watchlists: lists,
			lim:        limiter.NewMemory(policy),
			checks:     map[string]repository.Pinger{"memory": lists},
			close:      func() {},
		}, nil
	}
}

func jwtKey(cfg *config.Config, log *zap.Logger) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	key, err := pkgcrypto.RandBytes(32)
	if err != nil {
		return nil, fmt.Errorf("generate jwt key: %w", err)
	}
	log.Warn("JWT_SECRET not set, sessions will not survive a restart")
	return key, nil
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	policy := limiter.Policy{Window: cfg.LoginWindow, MaxFails: cfg.LoginMaxFails, BlockFor: cfg.LoginBlockFor}
	st, err := openStores(ctx, cfg, policy)
	if err != nil {
		return err
	}
	defer st.close()

	var bg conc.WaitGroup
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer func() {
		cancelBg()
		bg.Wait()
	}()

	// Sessions
	var deny token.DenyList
	if cfg.RedisURL != "" {
		rdb, err := token.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
		deny = token.NewRedisDenyList(rdb)
		st.checks["redis"] = pingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	} else {
		mem := token.NewMemoryDenyList()
		bg.Go(func() { mem.Run(bgCtx, pruneInterval) })
		deny = mem
	}
	key, err := jwtKey(cfg, log)
	if err != nil {
		return err
	}
	tokens := token.NewService(key, cfg.TokenTTL, deny)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	// Catalog
	var lookup catalog.Lookup
	if cfg.CatalogAPIKey != "" {
		lookup = catalog.NewCached(catalog.NewTMDBClient(cfg.CatalogBaseURL, cfg.CatalogAPIKey), cfg.CatalogCacheLen, cfg.CatalogCacheTTL)
	} else {
		log.Warn("CATALOG_API_KEY not set, catalog details disabled")
	}

	// Services
	opts := []service.Option{
		service.WithLogger(log),
		service.WithRecorder(rec),
		service.WithStoreTimeout(cfg.StoreTimeout),
	}
	authSvc, err := service.NewAuthService(st.users, st.watchlists, tokens, pkgcrypto.NewHasher(cfg.BcryptCost), st.lim, opts...)
	if err != nil {
		return err
	}
	wlSvc := service.NewWatchlistService(st.watchlists, lookup, opts...)

	// Health
	health := grpcserver.NewHealth(log, st.checks, cfg.StoreTimeout)
	bg.Go(func() { health.Run(bgCtx, healthInterval) })

	// HTTP
	rl := httpserver.NewRateLimiter(httpserver.RateLimitConfig{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst})
	bg.Go(func() { rl.Run(bgCtx) })

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpserver.NewRouter(httpserver.Deps{
			Log:         log,
			Auth:        authSvc,
			Watchlist:   wlSvc,
			Cookie:      httpserver.CookieConfig{Domain: cfg.CookieDomain, Secure: cfg.CookieSecure},
			Recorder:    rec,
			Metrics:     metrics.Handler(reg),
			Health:      health,
			RateLimiter: rl,
			CORSOrigins: cfg.CORSAllowedOrigins,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var gs interface {
		GracefulStop()
		Stop()
	}
	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			return fmt.Errorf("grpc health listen: %w", err)
		}
		s := grpcserver.NewServer(log, health)
		gs = s
		go func() {
			log.Info("grpc health listening", zap.String("addr", cfg.GRPCHealthAddr))
			if err := s.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc health: %w", err)
			}
		}()
	}

	// Wait for stop
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if gs != nil {
		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			gs.Stop()
		}
	}
	return runErr
}
