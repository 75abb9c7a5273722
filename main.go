package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/online-notes/internal/acl"
	"github.com/serroba/online-notes/internal/api"
	"github.com/serroba/online-notes/internal/auth"
	"github.com/serroba/online-notes/internal/collab"
	"github.com/serroba/online-notes/internal/config"
	"github.com/serroba/online-notes/internal/logging"
	"github.com/serroba/online-notes/internal/notify"
	"github.com/serroba/online-notes/internal/ot"
	"github.com/serroba/online-notes/internal/storage"
	"github.com/serroba/online-notes/internal/storage/mongo"
	"github.com/serroba/online-notes/internal/storage/postgres"
	"github.com/serroba/online-notes/internal/storage/sqlite"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv); err != nil {
		fmt.Fprintln(os.Stderr, "notes-server:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, getenv func(string) string) error {
	cfg, err := config.Load(args, getenv)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	defer func() { _ = logger.Sync() }()

	codec, err := ot.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}()

	var rdb *redis.Client

	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
	}

	service := collab.NewService(collab.Config{
		Store:              store,
		Codec:              codec,
		Notifier:           newNotifier(rdb, logger),
		Logger:             logger,
		SessionIdleTimeout: cfg.SessionIdle,
	})
	defer func() { _ = service.Close() }()

	serverCfg := api.ServerConfig{Service: service, Logger: logger}

	if cfg.JWTSecret != "" {
		serverCfg.Verifier = auth.NewVerifier([]byte(cfg.JWTSecret))
	} else {
		logger.Warn("JWT_SECRET not set, trusting the X-User-Id header")
	}

	if cfg.ACL {
		serverCfg.Permissions = newPermissions(rdb)
	}

	// Requests outlive the signal; long-lived WebSockets end when Shutdown starts.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(serverCfg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	httpServer.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)

	go func() {
		logger.Info("starting server",
			zap.String("addr", cfg.Addr),
			zap.String("store", cfg.Store),
			zap.String("codec", codec.Name()),
			zap.Bool("acl", cfg.ACL),
			zap.Bool("redis", rdb != nil))

		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		return postgres.Open(ctx, cfg.DatabaseURL, logger)
	case config.StoreSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath, logger)
	case config.StoreMongo:
		return mongo.Open(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
	default:
		return storage.NewMemoryStore(), nil
	}
}

// newNotifier fans updates out through Redis when it is configured, so
// watchers on every replica hear about commits made on any of them.
func newNotifier(rdb *redis.Client, logger *zap.Logger) notify.Notifier {
	if rdb == nil {
		return notify.NewHub()
	}

	return notify.NewRedisNotifier(rdb, logger)
}

func newPermissions(rdb *redis.Client) acl.Store {
	if rdb == nil {
		return acl.NewMemoryStore()
	}

	return acl.NewRedisStore(rdb)
}
