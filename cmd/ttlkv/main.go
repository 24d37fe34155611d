package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"ttlkv/internal/cache"
	"ttlkv/internal/config"
	"ttlkv/internal/db"
	"ttlkv/internal/logging"
	"ttlkv/internal/metrics"
	"ttlkv/internal/redisstore"
	restsrv "ttlkv/internal/server/rest"
)

// Version is set via -ldflags "-X main.Version=<version>" during build.
var Version = "dev"

// normalizeArgs rewrites GNU-style "--flag" to Go's "-flag".
func normalizeArgs(args []string) []string {
	if len(args) <= 1 {
		return args
	}
	norm := make([]string, 0, len(args))
	norm = append(norm, args[0])
	for i := 1; i < len(args); i++ {
		a := args[i]
		if a == "--" { // end of flags
			norm = append(norm, args[i:]...)
			break
		}
		if strings.HasPrefix(a, "--") {
			a = "-" + strings.TrimPrefix(a, "--")
		}
		norm = append(norm, a)
	}
	return norm
}

// backend is the persistence chosen by config together with its lifecycle.
type backend struct {
	persistence cache.Persistence
	ping        func(context.Context) error
	close       func() error
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Storage.Backend {
	case "redis":
		rs, err := redisstore.Open(ctx, cfg.Storage.Redis)
		if err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		return &backend{persistence: rs, ping: rs.Ping, close: rs.Close}, nil
	default:
		gormDB, err := db.OpenWithDebug(cfg.Storage.DB, cfg.Log.SQLDebug)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		if err := db.AutoMigrate(gormDB); err != nil {
			return nil, fmt.Errorf("migrate db: %w", err)
		}
		return &backend{
			persistence: db.NewEntryRepo(gormDB),
			ping:        func(ctx context.Context) error { return db.Ping(ctx, gormDB) },
			close:       func() error { return db.Close(gormDB) },
		}, nil
	}
}

func main() {
	os.Args = normalizeArgs(os.Args)

	var (
		cfgPath  string
		testOnly bool
		token    string
		showVer  bool
	)

	// Support both short and long variants by binding to the same var
	flag.StringVar(&cfgPath, "c", "", "path to config file (yaml)")
	flag.StringVar(&cfgPath, "config", "", "path to config file (yaml)")
	flag.BoolVar(&testOnly, "t", false, "validate config and exit")
	flag.BoolVar(&testOnly, "test", false, "validate config and exit")
	flag.StringVar(&token, "g", "", "generate bcrypt hash for api token and exit")
	flag.StringVar(&token, "gen-token", "", "generate bcrypt hash for api token and exit")
	flag.BoolVar(&showVer, "v", false, "print version and exit")
	flag.BoolVar(&showVer, "version", false, "print version and exit")
	flag.Parse()

	if showVer {
		fmt.Println(Version)
		return
	}

	if token != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("error generating bcrypt: %v", err)
		}
		fmt.Printf("Bcrypt hash for API token:\n%s\n", string(hash))
		fmt.Println("\nAdd this to your config.yaml:")
		fmt.Printf("api_token_hash: \"%s\"\n", string(hash))
		return
	}

	// Determine config path precedence: -c/--config > env > default
	if cfgPath == "" {
		cfgPath = os.Getenv("TTLKV_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if testOnly {
		fmt.Printf("Config OK: %s\n", cfgPath)
		return
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}
	defer func() {
		if err := be.close(); err != nil {
			logger.Warn("close storage", zap.Error(err))
		}
	}()

	storeOpts := []cache.Option{cache.WithLogger(logger.Named("cache"))}
	var restOpts []restsrv.Option
	restOpts = append(restOpts, restsrv.WithHealthCheck(be.ping))
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(cfg.Metrics.Namespace, reg)
		storeOpts = append(storeOpts, cache.WithMetrics(m))
		restOpts = append(restOpts, restsrv.WithMetrics(m))
	}
	if cfg.Cache.Singleflight {
		storeOpts = append(storeOpts, cache.WithSingleflight())
	}

	store, err := cache.New(be.persistence, cache.Config{
		TTL:      cfg.Cache.TTL(),
		Capacity: cfg.Cache.Capacity,
	}, storeOpts...)
	if err != nil {
		logger.Fatal("cache store", zap.Error(err))
	}

	logger.Info("starting ttlkv",
		zap.String("version", Version),
		zap.String("backend", cfg.Storage.Backend),
		zap.Int("ttl_sec", cfg.Cache.TTLSec),
		zap.Int("capacity", cfg.Cache.Capacity))

	restServer := restsrv.NewServer(cfg, store, logger.Named("rest"), restOpts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- restServer.Start()
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err := <-errCh:
		if err != nil {
			logger.Error("rest server stopped", zap.Error(err))
		}
		return
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := restServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rest shutdown", zap.Error(err))
	}
}
