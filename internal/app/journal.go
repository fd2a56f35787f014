package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"

	"github.com/ariefcatur/go-delivery-console/internal/config"
	"github.com/ariefcatur/go-delivery-console/internal/httpx"
	"github.com/ariefcatur/go-delivery-console/internal/journal"
	kafkax "github.com/ariefcatur/go-delivery-console/internal/kafka"
	"github.com/ariefcatur/go-delivery-console/internal/logx"
	"github.com/ariefcatur/go-delivery-console/internal/metrics"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
	"github.com/ariefcatur/go-delivery-console/internal/postgres"
	"github.com/ariefcatur/go-delivery-console/internal/redisx"
)

// DBConnector opens a Postgres pool.
type DBConnector func(ctx context.Context, dsn, appName string) (*pgxpool.Pool, error)

// BuildJournal returns the journal worker container.
func BuildJournal(ctx context.Context, args []string) (*dig.Container, error) {
	c := dig.New()
	if err := registerCore(c, ctx, args, config.Load); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	if err := registerJournal(c, connectWithRetry(postgres.Connect, 10, time.Second), redisx.Connect); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return c, nil
}

// connectWithRetry retries connect until it succeeds, attempts run out or
// ctx is done.
func connectWithRetry(connect DBConnector, attempts int, delay time.Duration) DBConnector {
	return func(ctx context.Context, dsn, appName string) (*pgxpool.Pool, error) {
		var lastErr error
		for i := 1; i <= attempts; i++ {
			attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			pool, err := connect(attemptCtx, dsn, appName)
			cancel()
			if err == nil {
				return pool, nil
			}
			lastErr = err
			if i < attempts {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
			}
		}
		return nil, fmt.Errorf("db connect failed after %d attempts: %w", attempts, lastErr)
	}
}

func registerJournal(c *dig.Container, connectDB DBConnector, connectRedis RedisConnector) error {
	return provideAll(c,
		func(ctx context.Context, cfg *config.Config, cl *closers) (*pgxpool.Pool, error) {
			pool, err := connectDB(ctx, cfg.Postgres.DSN, cfg.ServiceName+"-journal")
			if err != nil {
				return nil, err
			}
			cl.add(pool.Close)
			return pool, nil
		},
		func(pool *pgxpool.Pool) *journal.Repo { return &journal.Repo{DB: pool} },
		// the dedup fast path is optional; the event id keys stay authoritative
		func(ctx context.Context, cfg *config.Config, cl *closers, log logx.Logger) journal.Dedup {
			rdb, err := connectRedis(ctx, cfg.Feed.RedisAddr)
			if err != nil {
				log.Warn("redis unavailable, journal dedup falls back to postgres", logx.Err(err))
				return nil
			}
			cl.add(func() { _ = rdb.Close() })
			return redisx.NewDedup(rdb, cfg.ServiceName+"-journal")
		},
		func(repo *journal.Repo, dedup journal.Dedup, m *metrics.Set, log logx.Logger) *journal.Handler {
			return journal.NewHandler(repo, dedup, m, log)
		},
		func(cfg *config.Config, log logx.Logger) (*kafkax.Consumer, error) {
			if !cfg.Kafka.Enabled() {
				return nil, errors.New("KAFKA_BROKERS is required")
			}
			topics := []string{orders.TopicStatusChanged, orders.TopicStockAdjusted}
			return kafkax.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Group, topics, cfg.Kafka.Workers, log), nil
		},
		func(cfg *config.Config, m *metrics.Set, gatherer prometheus.Gatherer, log logx.Logger) *http.Server {
			return newServer(cfg, httpx.NewRouter(m, gatherer, log, nil))
		},
	)
}

// RunJournal migrates the journal schema and consumes lifecycle and stock
// events until the container context is done.
func RunJournal(c *dig.Container) error {
	return c.Invoke(func(
		ctx context.Context,
		cfg *config.Config,
		repo *journal.Repo,
		h *journal.Handler,
		cons *kafkax.Consumer,
		srv *http.Server,
		cl *closers,
		log logx.Logger,
	) error {
		defer cl.run()
		if err := repo.Migrate(ctx); err != nil {
			return err
		}

		go func() {
			log.Info("journal metrics listening", logx.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", logx.Err(err))
			}
		}()
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shCtx)
		}()

		log.Info("journal consumer started",
			logx.String("group", cfg.Kafka.Group),
			logx.Int("workers", cfg.Kafka.Workers),
		)
		if err := cons.Start(ctx, h.Handle); err != nil {
			return fmt.Errorf("journal consumer: %w", err)
		}
		log.Info("journal consumer stopped")
		return nil
	})
}
