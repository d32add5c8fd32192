package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-retail/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-retail/internal/app"
	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/masterdata"
	"github.com/odyssey-erp/odyssey-retail/internal/observability"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
	"github.com/odyssey-erp/odyssey-retail/internal/sales"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
	"github.com/odyssey-erp/odyssey-retail/internal/transfers"
	"github.com/odyssey-erp/odyssey-retail/jobs"
)

const usage = `usage: odyssey [command]

commands:
  serve                                  run the HTTP API (default)
  ledger verify [--branch N --product N] [--json]
  jobs trigger <task-type>               enqueue inventory:ledger_integrity or maintenance:idempotency_cleanup
  jobs stats                             print default queue counters and the next scheduled tasks
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		if err := serve(ctx, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	case "ledger":
		os.Exit(runLedger(ctx, cfg, logger, args))
	case "jobs":
		os.Exit(runJobs(ctx, cfg, args))
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// services holds the wired domain layer shared by serve and the CLI commands.
type services struct {
	rbac        *rbac.Service
	masterdata  *masterdata.Service
	inventory   *inventory.Service
	transfers   *transfers.Service
	sales       *sales.Service
	idempotency *shared.IdempotencyStore
}

func wire(pool *pgxpool.Pool, redisClient *redis.Client, notifier inventory.Notifier, metrics *observability.Metrics, cfg *app.Config, logger *slog.Logger) services {
	clock := shared.SystemClock()
	auditLogger := shared.NewAuditLogger(pool, clock)

	rbacService := rbac.NewService(rbac.NewPGStore(pool))
	masterService := masterdata.NewService(masterdata.NewRepository(pool), rbacService, clock, logger)

	inventoryMetrics := inventory.NewMetrics(metrics.Registerer())
	inventoryRepo := inventory.NewRepository(pool)
	var lowStockCache *inventory.LowStockCache
	if redisClient != nil {
		lowStockCache = inventory.NewLowStockCache(redisClient, cfg.LowStockCacheTTL)
	}
	hook := inventory.NewCommitHook(inventoryRepo, notifier, lowStockCache, inventoryMetrics, logger)
	ledger := inventory.NewLedger(clock, inventoryMetrics)

	inventoryService := inventory.NewService(inventory.Deps{
		Repo:    inventoryRepo,
		Ledger:  ledger,
		Catalog: masterService,
		Authz:   rbacService,
		Audit:   auditLogger,
		Hook:    hook,
		Cache:   lowStockCache,
		Logger:  logger,
		Clock:   clock,
	})
	transferService := transfers.NewService(transfers.Deps{
		Repo:    transfers.NewRepository(pool, logger, clock),
		Ledger:  ledger,
		Catalog: masterService,
		Authz:   rbacService,
		Audit:   auditLogger,
		Hook:    hook,
		Logger:  logger,
		Clock:   clock,
	})
	saleService := sales.NewService(sales.Deps{
		Repo:    sales.NewRepository(pool),
		Ledger:  ledger,
		Catalog: masterService,
		Authz:   rbacService,
		Audit:   auditLogger,
		Hook:    hook,
		Logger:  logger,
		Clock:   clock,
	})
	return services{
		rbac:        rbacService,
		masterdata:  masterService,
		inventory:   inventoryService,
		transfers:   transferService,
		sales:       saleService,
		idempotency: shared.NewIdempotencyStore(pool, clock),
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConn})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		// The low stock cache and alerts degrade to direct reads and log lines.
		logger.Warn("redis unavailable", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	var notifier inventory.Notifier
	var inspector *asynq.Inspector
	if redisClient != nil {
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			return err
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		notifier = jobClient
		inspector = asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	svc := wire(pool, redisClient, notifier, metrics, cfg, logger)
	if err := svc.rbac.SyncPermissions(ctx, shared.AllScopes()); err != nil {
		return fmt.Errorf("sync permissions: %w", err)
	}

	rbacMiddleware := rbac.Middleware{Service: svc.rbac, Logger: logger}
	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            metrics,
		DB:                 pool,
		InventoryHandler:   inventory.NewHandler(logger, svc.inventory, rbacMiddleware),
		TransfersHandler:   transfers.NewHandler(logger, svc.transfers, rbacMiddleware),
		SalesHandler:       sales.NewHandler(logger, svc.sales, rbacMiddleware, svc.idempotency),
		MasterDataHandler:  masterdata.NewHandler(logger, svc.masterdata, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, svc.rbac, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runLedger(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 || args[0] != "verify" {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	fs := flag.NewFlagSet("ledger verify", flag.ContinueOnError)
	branchID := fs.Int64("branch", 0, "branch id")
	productID := fs.Int64("product", 0, "product id")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledger verify: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := wire(pool, nil, nil, observability.NewMetrics(), cfg, logger)
	return cli.NewLedgerOpsCLI(svc.inventory).VerifyCommand(ctx, cli.LedgerVerifyOptions{
		BranchID:   *branchID,
		ProductID:  *productID,
		JSONOutput: *jsonOut,
	})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	jobsCLI, err := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprint(os.Stderr, usage)
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1], cli.TriggerOptions{Retention: cfg.IdempotencyRetention})
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		scheduled, err := jobsCLI.ListScheduled(ctx, 10)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		for _, task := range scheduled {
			fmt.Printf("  scheduled %s id=%s at=%s\n", task.Type, task.ID, task.NextProcessAt.Format(time.RFC3339))
		}
		return 0
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
}
