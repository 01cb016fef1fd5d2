package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/catalog-importer/internal/config"
	"github.com/JonMunkholm/catalog-importer/internal/core"
	"github.com/JonMunkholm/catalog-importer/internal/logging"
	"github.com/JonMunkholm/catalog-importer/internal/queue"
	"github.com/JonMunkholm/catalog-importer/internal/store/postgres"
	"github.com/JonMunkholm/catalog-importer/internal/uploads"
	"github.com/JonMunkholm/catalog-importer/internal/web"
)

// deps is everything a command needs, built from the environment.
type deps struct {
	cfg     *config.Config
	pool    *pgxpool.Pool
	store   *postgres.Store
	redis   *redis.Client
	broker  queue.Broker
	service *core.Service
}

// setup loads configuration and opens the database. The queue is opened by
// openQueue so migrate can run without a broker.
func setup(ctx context.Context, cmd *cli.Command) (*deps, error) {
	// Overload lets the dotenv file win over inherited variables.
	if err := godotenv.Overload(cmd.String("env")); err != nil {
		slog.Info("no .env file found, using environment variables", "path", cmd.String("env"))
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)", "path", cmd.String("env"))
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"queue_driver", cfg.Queue.Driver,
		"queue_workers", cfg.Queue.Workers,
		"batch_size", cfg.Import.BatchSize,
	)

	pool, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &deps{cfg: cfg, pool: pool, store: postgres.New(pool)}, nil
}

// openQueue connects the configured broker and builds the service on it.
func (rt *deps) openQueue(ctx context.Context) error {
	switch rt.cfg.Queue.Driver {
	case "memory":
		rt.broker = queue.NewMemoryQueue(rt.cfg.Queue.MemoryBuffer, rt.cfg.Queue.PollTimeout)
	default:
		client, err := queue.Connect(ctx, rt.cfg.Queue.RedisURL)
		if err != nil {
			return err
		}
		rt.redis = client
		rt.broker = queue.NewRedisQueue(client, queue.RedisOptions{
			Prefix:      rt.cfg.Queue.Prefix,
			Consumer:    queue.ConsumerID(),
			PollTimeout: rt.cfg.Queue.PollTimeout,
			LeaseTTL:    rt.cfg.Queue.LeaseTTL,
		})
	}

	files, err := uploads.NewDir(rt.cfg.Import.UploadDir, rt.cfg.Import.MaxFileSize)
	if err != nil {
		return err
	}
	rt.service = core.NewService(rt.store, files, rt.broker, rt.cfg)
	return nil
}

func (rt *deps) close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			slog.Warn("closing redis client", "error", err)
		}
	}
	rt.pool.Close()
}

// newWorker registers every work unit the service knows.
func (rt *deps) newWorker() *queue.Worker {
	w := queue.NewWorker(rt.broker, rt.cfg.Queue.Workers)
	for name, h := range rt.service.TaskHandlers() {
		w.Handle(name, queue.HandlerFunc(h))
	}
	return w
}

// healthChecks lists the dependencies GET /health pings.
func (rt *deps) healthChecks() map[string]web.HealthCheck {
	checks := map[string]web.HealthCheck{
		"database": rt.store.Ping,
	}
	if rq, ok := rt.broker.(*queue.RedisQueue); ok {
		checks["redis"] = rq.Ping
	}
	return checks
}

// recoverClaims requeues whatever expired consumers left claimed.
func (rt *deps) recoverClaims(ctx context.Context) error {
	rq, ok := rt.broker.(*queue.RedisQueue)
	if !ok {
		return nil
	}
	n, err := rq.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover claimed tasks: %w", err)
	}
	if n > 0 {
		slog.Warn("requeued tasks left by a previous run", "count", n)
	}
	return nil
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.pool.Close()
	slog.Info("schema is up to date")
	return nil
}

func workerAction(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	if err := rt.openQueue(ctx); err != nil {
		rt.pool.Close()
		return err
	}
	defer rt.close()

	if rt.cfg.Queue.Driver == "memory" {
		return errors.New("the memory queue is in-process; run serve instead of a separate worker")
	}
	if err := rt.recoverClaims(ctx); err != nil {
		return err
	}

	rq := rt.broker.(*queue.RedisQueue)
	slog.Info("worker consumer registered", "consumer", rq.Consumer())

	// The lease outlives ctx until every started unit has finished.
	leaseCtx, stopLease := context.WithCancel(context.WithoutCancel(ctx))
	var g errgroup.Group
	g.Go(func() error { return rq.KeepAlive(leaseCtx) })
	g.Go(func() error {
		defer stopLease()
		return rt.newWorker().Run(ctx)
	})
	err = g.Wait()

	if rerr := rq.Release(context.WithoutCancel(ctx)); rerr != nil {
		slog.Warn("releasing consumer lease failed", "error", rerr)
	}
	return err
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	if err := rt.openQueue(ctx); err != nil {
		rt.pool.Close()
		return err
	}
	defer rt.close()

	server := web.NewServer(rt.service, rt.cfg, rt.healthChecks())
	g, gctx := errgroup.WithContext(ctx)

	if rt.cfg.Queue.Driver == "memory" {
		worker := rt.newWorker()
		g.Go(func() error { return worker.Run(gctx) })
	}

	g.Go(func() error {
		slog.Info("server starting", "addr", rt.cfg.Server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.Server.ShutdownTimeout)
		defer cancel()

		if active := rt.service.Limiter().ActiveCount(); active > 0 {
			slog.Info("waiting for uploads to complete", "active", active)
			if err := rt.service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("uploads did not complete in time", "error", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
