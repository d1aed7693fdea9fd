package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nhatrang-rewards/rewards/internal/config"
	"github.com/nhatrang-rewards/rewards/internal/infra"
	"github.com/nhatrang-rewards/rewards/internal/ledger"
	"github.com/nhatrang-rewards/rewards/internal/logging"
	"github.com/nhatrang-rewards/rewards/internal/monitor"
	"github.com/nhatrang-rewards/rewards/internal/notification"
	"github.com/nhatrang-rewards/rewards/internal/rewards"
	"github.com/nhatrang-rewards/rewards/internal/routes"
	"github.com/nhatrang-rewards/rewards/internal/server"
	"github.com/nhatrang-rewards/rewards/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel,
		slog.String("app", cfg.AppName),
		slog.String("env", cfg.AppEnv),
	)

	ctx := context.Background()

	net, operator, operatorKey, err := openNetwork(cfg.Ledger)
	if err != nil {
		logger.Error("open ledger network", "error", err)
		os.Exit(1)
	}
	gw, err := ledger.Connect(ctx, net, ledger.GatewayConfig{
		Operator:            operator,
		OperatorKey:         operatorKey,
		Token:               ledger.TokenID(cfg.Ledger.TokenID),
		MaxSubmitsPerSecond: cfg.Ledger.MaxTPS,
		Logger:              logger,
	})
	if err != nil {
		logger.Error("connect ledger", "network", cfg.Ledger.Network, "error", err)
		net.Close()
		os.Exit(1)
	}
	defer gw.Close()
	logger.Info("ledger connected",
		"network", cfg.Ledger.Network,
		"operator", string(gw.Operator()),
		"token", string(gw.Token()),
	)

	var db *pgxpool.Pool
	var repo users.Repository = users.NewMemoryRepository()
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pgRepo := users.NewPostgresRepository(db)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			logger.Error("prepare schema", "error", err)
			os.Exit(1)
		}
		repo = pgRepo
	} else {
		logger.Warn("DATABASE_URL not set, members are kept in memory")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	} else {
		logger.Warn("REDIS_URL not set, idempotency disabled and rate limits are per process")
	}

	provisioner := ledger.NewProvisioner(gw, ledger.ProvisionerConfig{
		Attempts:      cfg.Ledger.ProvisionAttempts,
		RetryDelay:    cfg.Ledger.RetryDelay,
		SettlingDelay: cfg.Ledger.SettlingDelay,
	})
	svc := rewards.NewService(repo, provisioner, ledger.NewEngine(gw), gw, rewards.Options{
		WelcomeBonus: cfg.Rewards.WelcomeBonus,
		Notifier:     notification.NewLoggerNotifier(logger),
		Logger:       logger,
	})

	watcher, err := monitor.NewBalanceWatcher(gw, monitor.BalanceWatcherConfig{
		Schedule: cfg.Rewards.BalanceSchedule,
		LowWater: cfg.Rewards.BalanceLowWater,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("build balance watcher", "error", err)
		os.Exit(1)
	}
	watcher.Check(ctx)
	watcher.Start()

	srv, err := server.New(routes.Deps{
		Cfg:     cfg,
		DB:      db,
		Cache:   cache,
		Logger:  logger,
		Rewards: svc,
		Ledger:  gw,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	if err := watcher.Stop(shutdownCtx); err != nil {
		logger.Warn("balance watcher did not stop in time", "error", err)
	}

	logger.Info("server exited cleanly")
}

// openNetwork returns the ledger client together with the operator credentials to install on it.
// The memory ledger defaults to its own treasury as operator.
func openNetwork(cfg config.LedgerConfig) (ledger.Network, ledger.AccountID, string, error) {
	operator, key := ledger.AccountID(cfg.OperatorAccountID), cfg.OperatorKey
	if cfg.Network == config.NetworkMemory {
		mem := ledger.NewMemoryNetwork(ledger.TokenID(cfg.TokenID), cfg.MemorySupply)
		if operator == "" {
			operator, key = mem.Treasury()
		}
		return mem, operator, key, nil
	}
	net, err := ledger.NewHederaNetwork(ledger.HederaConfig{Network: cfg.Network, KeyType: cfg.KeyType})
	if err != nil {
		return nil, "", "", err
	}
	return net, operator, key, nil
}
