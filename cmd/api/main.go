package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/cashplace/escrow/internal/api/http"
	"github.com/cashplace/escrow/internal/api/http/handlers"
	"github.com/cashplace/escrow/internal/auth"
	"github.com/cashplace/escrow/internal/config"
	"github.com/cashplace/escrow/internal/escrow"
	"github.com/cashplace/escrow/internal/events"
	"github.com/cashplace/escrow/internal/ledger/bitcoin"
	"github.com/cashplace/escrow/internal/observability"
	"github.com/cashplace/escrow/internal/persistence"
	"github.com/cashplace/escrow/internal/repository"
	"github.com/cashplace/escrow/internal/service"
	"github.com/cashplace/escrow/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var (
		envFile         string
		migrationsDir   string
		printAdminToken string
	)
	pflag.StringVar(&envFile, "env-file", "", "extra env file loaded before .env")
	pflag.StringVar(&migrationsDir, "migrations-dir", persistence.DefaultMigrationsDir, "directory of SQL migrations")
	pflag.StringVar(&printAdminToken, "print-admin-token", "", "print an admin token for the named operator and exit")
	pflag.Parse()

	cfg, err := config.Load(envFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if printAdminToken != "" {
		tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
		token, expires, err := tokens.GenerateToken(printAdminToken, auth.ScopeAdmin)
		if err != nil {
			log.Fatalf("failed to sign token: %v", err)
		}
		fmt.Fprintf(os.Stdout, "%s\n# expires %s\n", token, expires.UTC().Format(time.RFC3339))
		return
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dependencies := map[string]handlers.Pinger{}
	var store repository.TicketRepository
	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()
		if pg.PoolHandle() == nil {
			logger.Fatal("STORAGE_BACKEND=postgres requires POSTGRES_DSN")
		}
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), migrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		store = repository.NewTicketRepository(pg.PoolHandle())
		dependencies["postgres"] = pg
	case config.StorageRedis:
		rdb, err := persistence.NewRedis(ctx, cfg.Redis, true, logger)
		if err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		defer rdb.Close()
		store = repository.NewRedisTicketRepository(rdb.Client, cfg.Redis.KeyPrefix)
		dependencies["redis"] = rdb
	default:
		logger.Warn("tickets are kept in memory only; they are lost on restart")
		store = repository.NewMemoryTicketRepository()
	}

	btc := bitcoin.NewFactory(bitcoin.Params{
		Testnet: cfg.Bitcoin.Testnet,
		Chain:   bitcoin.NewEsploraClient(cfg.Bitcoin.EsploraURL, nil),
	})
	if cfg.Bitcoin.MasterAddress == "" {
		logger.Warn("BTC_MASTER_ADDRESS not set; payouts will fail")
	} else if err := btc.ValidateAddress(cfg.Bitcoin.MasterAddress); err != nil {
		logger.Fatal("invalid BTC_MASTER_ADDRESS", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher()
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)

	registry, err := escrow.NewRegistry(escrow.Config{
		Policy:     escrow.PolicyFromConfig(cfg.Escrow),
		Currencies: []escrow.Currency{{Factory: btc, Payout: escrow.PayoutFromConfig(cfg.Bitcoin)}},
		Store:      store,
		Hasher:     auth.NewPasswordHasher(auth.ParamsFromConfig(cfg.Password)),
		Clock:      escrow.SystemClock,
		Logger:     logger,
		Dispatcher: dispatcher,
	})
	if err != nil {
		logger.Fatal("failed to build registry", zap.Error(err))
	}
	if _, err := registry.Load(ctx); err != nil {
		logger.Fatal("failed to load tickets", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	escrowService := service.NewEscrowService(service.EscrowDependencies{
		Registry: registry,
		Metrics:  metrics,
		Logger:   logger,
	})
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	notificationsDone := worker.StartNotificationWorker(workerCtx, notificationService)
	sweeperDone := worker.StartSweeperWorker(workerCtx, escrowService, cfg.Escrow.SweepInterval, logger.Named("sweeper"))

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, dependencies),
		Tickets:        handlers.NewTicketsHandler(escrowService),
		Admin:          handlers.NewAdminHandler(escrowService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.App.Addr()),
			zap.String("storage", cfg.Storage.Backend),
			zap.Bool("testnet", cfg.Bitcoin.Testnet))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	stopWorkers()
	<-sweeperDone
	<-notificationsDone

	saveCtx, cancelSave := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelSave()
	if err := registry.Save(saveCtx); err != nil {
		logger.Error("failed to save tickets on shutdown", zap.Error(err))
	} else {
		logger.Info("tickets saved", zap.Int("count", registry.Len()))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
