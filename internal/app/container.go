// Package app wires the console and the journal worker with dig.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"github.com/ariefcatur/go-delivery-console/internal/alerts"
	"github.com/ariefcatur/go-delivery-console/internal/config"
	"github.com/ariefcatur/go-delivery-console/internal/console"
	"github.com/ariefcatur/go-delivery-console/internal/feed"
	"github.com/ariefcatur/go-delivery-console/internal/gesture"
	"github.com/ariefcatur/go-delivery-console/internal/httpx"
	"github.com/ariefcatur/go-delivery-console/internal/inventory"
	kafkax "github.com/ariefcatur/go-delivery-console/internal/kafka"
	"github.com/ariefcatur/go-delivery-console/internal/lifecycle"
	"github.com/ariefcatur/go-delivery-console/internal/logx"
	"github.com/ariefcatur/go-delivery-console/internal/metrics"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
	"github.com/ariefcatur/go-delivery-console/internal/redisx"
)

// RedisConnector opens a client that answered PING.
type RedisConnector func(ctx context.Context, addr string) (*redis.Client, error)

// ContainerBuilder builds the console container.
type ContainerBuilder struct {
	args         []string
	redisConnect RedisConnector
	loadConfig   func(args []string) (*config.Config, error)
}

func NewContainerBuilder(args []string) *ContainerBuilder {
	return &ContainerBuilder{
		args:         args,
		redisConnect: redisx.Connect,
		loadConfig:   config.Load,
	}
}

// WithConfig replaces config loading, mainly for tests.
func (b *ContainerBuilder) WithConfig(fn func(args []string) (*config.Config, error)) *ContainerBuilder {
	if fn != nil {
		b.loadConfig = fn
	}
	return b
}

func (b *ContainerBuilder) WithRedisConnect(fn RedisConnector) *ContainerBuilder {
	if fn != nil {
		b.redisConnect = fn
	}
	return b
}

// Build returns the console container.
func (b *ContainerBuilder) Build(ctx context.Context) (*dig.Container, error) {
	c := dig.New()
	if err := registerCore(c, ctx, b.args, b.loadConfig); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	if err := registerFeed(c, b.redisConnect); err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}
	if err := registerEvents(c); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	if err := registerSession(c); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if err := registerHTTP(c); err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	return c, nil
}

// closers runs shutdown hooks in reverse registration order.
type closers struct {
	mu  sync.Mutex
	fns []func()
}

func (c *closers) add(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
}

func (c *closers) run() {
	c.mu.Lock()
	fns := c.fns
	c.fns = nil
	c.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

func provideAll(c *dig.Container, providers ...any) error {
	for _, p := range providers {
		if err := c.Provide(p); err != nil {
			return fmt.Errorf("provide %T: %w", p, err)
		}
	}
	return nil
}

func registerCore(c *dig.Container, ctx context.Context, args []string, load func([]string) (*config.Config, error)) error {
	return provideAll(c,
		func() context.Context { return ctx },
		func() (*config.Config, error) { return load(args) },
		func(cfg *config.Config) logx.Logger {
			return logx.NewLogrus(os.Stdout, cfg.LogLevel).With(
				logx.String("service", cfg.ServiceName),
				logx.String("client_id", cfg.ClientID),
			)
		},
		prometheus.NewRegistry,
		func(reg *prometheus.Registry) prometheus.Gatherer { return reg },
		func(reg *prometheus.Registry) *metrics.Set { return metrics.New(reg) },
		func() *closers { return &closers{} },
	)
}

func registerFeed(c *dig.Container, connect RedisConnector) error {
	return provideAll(c, func(ctx context.Context, cfg *config.Config, cl *closers, log logx.Logger) (feed.Store, error) {
		if cfg.Feed.Backend != config.BackendRedis {
			log.Warn("using in-memory change feed; state is not shared with other consoles")
			return feed.NewMemory(), nil
		}
		rdb, err := connect(ctx, cfg.Feed.RedisAddr)
		if err != nil {
			return nil, err
		}
		cl.add(func() { _ = rdb.Close() })
		return redisx.NewFeedStore(rdb, cfg.Feed.Namespace, log), nil
	})
}

func registerEvents(c *dig.Container) error {
	return provideAll(c, func(cfg *config.Config, log logx.Logger) orders.Publisher {
		if !cfg.Kafka.Enabled() {
			log.Info("no kafka brokers configured, events are not mirrored")
			return orders.NopPublisher{}
		}
		return kafkax.NewOutbox(
			kafkax.NewProducer(cfg.Kafka.Brokers, orders.TopicStatusChanged, 1024, log),
			kafkax.NewProducer(cfg.Kafka.Brokers, orders.TopicStockAdjusted, 1024, log),
		)
	})
}

func registerSession(c *dig.Container) error {
	return provideAll(c,
		inventory.NewClaims,
		alerts.NewSeen,
		alerts.NewInbox,
		func(cfg *config.Config) *alerts.StockTracker { return alerts.NewStockTracker(cfg.Alerts.LowStockThreshold) },
		func() *alerts.Gate { return alerts.NewGate("") },
		httpx.NewHub,
		func(store feed.Store, claims *inventory.Claims, cfg *config.Config, pub orders.Publisher, m *metrics.Set, log logx.Logger) *inventory.Engine {
			return inventory.NewEngine(store, claims, inventory.Options{
				Mode:      inventory.Mode(cfg.Inventory.Mode),
				Producer:  cfg.ClientID,
				Publisher: pub,
				Metrics:   m,
				Logger:    log,
			})
		},
		func(seen *alerts.Seen, stock *alerts.StockTracker, inbox *alerts.Inbox, gate *alerts.Gate, hub *httpx.Hub, m *metrics.Set, log logx.Logger) *alerts.Engine {
			return alerts.NewEngine(seen, stock, inbox, alerts.Options{
				Surfaces: alerts.Surfaces{Toast: hub, Sound: hub, Haptics: hub},
				Gate:     gate,
				Metrics:  m,
				Logger:   log,
			})
		},
		func(store feed.Store, inv *inventory.Engine, al *alerts.Engine, cfg *config.Config, m *metrics.Set, log logx.Logger) *console.Session {
			return console.NewSession(store, inv, al, console.Options{
				Resweep: cfg.Inventory.Resweep,
				Metrics: m,
				Logger:  log,
			})
		},
		func(store feed.Store, sess *console.Session, cfg *config.Config, pub orders.Publisher, m *metrics.Set, log logx.Logger) *lifecycle.Service {
			return lifecycle.NewService(store, sess, lifecycle.Options{
				Producer:  cfg.ClientID,
				Publisher: pub,
				Metrics:   m,
				Logger:    log,
			})
		},
		func(sess *console.Session, svc *lifecycle.Service, cfg *config.Config, log logx.Logger) *gesture.Pool {
			adv := gesture.AdvancerFunc(func(ctx context.Context, orderID string) error {
				_, err := svc.Advance(ctx, orderID, lifecycle.AdvanceRequest{})
				return err
			})
			return gesture.NewPool(sess, adv, gesture.DefaultGeometry, cfg.Gesture.CommitRatio, log)
		},
	)
}

func registerHTTP(c *dig.Container) error {
	return provideAll(c,
		func(sess *console.Session, svc *lifecycle.Service) *httpx.OrdersHandler {
			return &httpx.OrdersHandler{View: sess, Lifecycle: svc}
		},
		func(sess *console.Session, pool *gesture.Pool) *httpx.DriversHandler {
			return &httpx.DriversHandler{View: sess, Sliders: pool}
		},
		func(inbox *alerts.Inbox, gate *alerts.Gate) *httpx.NotificationsHandler {
			return &httpx.NotificationsHandler{Inbox: inbox, Gate: gate}
		},
		func(
			m *metrics.Set,
			gatherer prometheus.Gatherer,
			log logx.Logger,
			hub *httpx.Hub,
			oh *httpx.OrdersHandler,
			dh *httpx.DriversHandler,
			nh *httpx.NotificationsHandler,
		) http.Handler {
			return httpx.NewRouter(m, gatherer, log, hub, oh, dh, nh)
		},
		newServer,
	)
}

func newServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
