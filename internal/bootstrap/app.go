package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aq2208/course-orders/configs"
	"github.com/aq2208/course-orders/internal/adapter/cache"
	"github.com/aq2208/course-orders/internal/adapter/gateway"
	"github.com/aq2208/course-orders/internal/adapter/gateway/paylink"
	"github.com/aq2208/course-orders/internal/adapter/gateway/securepay"
	"github.com/aq2208/course-orders/internal/adapter/grpc"
	httpadapter "github.com/aq2208/course-orders/internal/adapter/http"
	"github.com/aq2208/course-orders/internal/adapter/http/middleware"
	"github.com/aq2208/course-orders/internal/adapter/kafka"
	"github.com/aq2208/course-orders/internal/adapter/observ"
	"github.com/aq2208/course-orders/internal/adapter/queue"
	"github.com/aq2208/course-orders/internal/adapter/repo"
	"github.com/aq2208/course-orders/internal/logging"
	"github.com/aq2208/course-orders/internal/security"
	"github.com/aq2208/course-orders/internal/usecase"
	"github.com/aq2208/course-orders/internal/worker"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"
)

// Overrides replaces external systems, mostly for tests and local runs.
type Overrides struct {
	DB         *sql.DB
	Redis      *redis.Client
	Catalog    usecase.ContentCatalog
	Gateways   []usecase.Gateway
	Clock      usecase.Clock
	Registerer prometheus.Registerer
}

type App struct {
	Cfg      configs.Config
	Router   *gin.Engine
	DB       *sql.DB
	Carts    *repo.MySQLCartRepo
	Outbox   *repo.MySQLOutboxRepo
	Orders   *usecase.CreateOrder
	Payments *usecase.Payments
	Links    *usecase.SecureLinks

	workers []func(ctx context.Context) error
	closers []func()
	log     *slog.Logger
}

// New builds the object graph. Background workers start in Run.
func New(ctx context.Context, cfg configs.Config, ov Overrides) (app *App, err error) {
	a := &App{Cfg: cfg, log: logging.New("bootstrap")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	clock := ov.Clock
	if clock == nil {
		clock = usecase.SystemClock
	}
	reg := ov.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	// init database
	db := ov.DB
	if db == nil {
		db, err = repo.Open(ctx, cfg.MySQL.Driver, cfg.MySQL.DSN, repo.PoolConfig{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
	}
	if cfg.MySQL.AutoMigrate {
		if err := repo.Migrate(db, cfg.MySQL.Driver); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	a.DB = db

	// init redis
	rdb := ov.Redis
	if rdb == nil {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}
	if perr := rdb.Ping(ctx).Err(); perr != nil {
		a.log.Warn("redis unreachable, idempotency falls back to the database", "err", perr)
	}

	// content catalog
	catalog := ov.Catalog
	if catalog == nil {
		if cfg.Content.Target == "" {
			return nil, errors.New("content.target required")
		}
		conn, err := grpc.DialContent(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("dial content service: %w", err)
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		catalog = grpc.NewContentClient(conn, cfg.Content.Timeout, cfg.App.Name)
	}
	catalog = cache.NewCachedCatalog(catalog, rdb, cfg.Content.CacheTTL)

	// payment providers
	gws := ov.Gateways
	if gws == nil {
		gws, err = providers(cfg)
		if err != nil {
			return nil, err
		}
	}
	registry, err := gateway.NewRegistry(cfg.Payments.DefaultProvider, cfg.Payments.ByCurrency, gws...)
	if err != nil {
		return nil, err
	}
	if un := registry.Unrouted(); len(un) > 0 {
		a.log.Warn("currency routes point at unconfigured providers", "routes", un)
	}

	// infra
	txm := repo.NewTxManager(db)
	a.Carts = repo.NewMySQLCartRepo(db)
	orderRepo := repo.NewMySQLOrderRepo(db)
	paymentRepo := repo.NewMySQLPaymentRepo(db)
	linkRepo := repo.NewMySQLSecureLinkRepo(db)
	a.Outbox = repo.NewMySQLOutboxRepo(db)
	idemRepo := repo.NewMySQLIdempotencyRepo(db)
	idemStore := cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL, cfg.Idempotency.LockTTL)
	metrics := observ.NewMetrics(reg)

	guard := usecase.NewGuard(txm, idemRepo, idemStore, cfg.Idempotency.TTL, clock, usecase.WithInFlightWait(cfg.Idempotency.LockTTL))
	a.Orders = usecase.NewCreateOrder(a.Carts, orderRepo, a.Outbox, guard, metrics, clock)
	a.Links = usecase.NewSecureLinks(linkRepo, catalog, cfg.Links.TTL, cfg.Links.MaxUses, metrics, clock)
	a.Payments = usecase.NewPayments(usecase.PaymentsDeps{
		Tx:       txm,
		Orders:   orderRepo,
		Payments: paymentRepo,
		Links:    linkRepo,
		Outbox:   a.Outbox,
		Gateways: registry,
		Issuer:   a.Links,
		Guard:    guard,
		Metrics:  metrics,
		Now:      clock,
	}, usecase.PaymentsConfig{
		GatewayTimeout:       cfg.Payments.GatewayTimeout,
		MaxAttempts:          cfg.Payments.MaxAttempts,
		RetryBackoff:         cfg.Payments.RetryBackoff,
		StaleAfter:           cfg.Reconcile.StaleAfter,
		ExpireAfter:          cfg.Reconcile.ExpireAfter,
		ReconcileBatch:       cfg.Reconcile.Batch,
		ReconcileConcurrency: cfg.Reconcile.Concurrency,
	})

	// init handlers + routers + middleware
	a.Router = httpadapter.NewRouter(httpadapter.Handlers{
		Orders:   httpadapter.NewOrderHandler(a.Orders, a.Payments),
		Payments: httpadapter.NewPaymentHandler(a.Payments),
		Links:    httpadapter.NewLinkHandler(a.Links, cfg.Links.FileBaseURL),
		Tokens:   httpadapter.NewTokenHandler(cfg, security.NewClients(cfg.Security.Clients)),
	}, middleware.NewAuthz(cfg), middleware.NewRateLimit(cfg.Webhook.RatePerSecond, cfg.Webhook.Burst, httpadapter.ProviderKey))

	// messaging
	var pub worker.Publisher = worker.LogPublisher{Log: logging.New("outbox")}
	if cfg.Rabbit.Enabled {
		p, err := a.setupRabbit(cfg)
		if err != nil {
			return nil, err
		}
		pub = p
	}
	relay := worker.NewOutboxRelay(a.Outbox, pub, worker.RelayConfig{
		Interval:   cfg.Outbox.Interval,
		Batch:      cfg.Outbox.Batch,
		MaxRetries: cfg.Outbox.MaxRetries,
		Backoff:    cfg.Outbox.Backoff,
	})
	a.workers = append(a.workers, relay.Run)
	a.workers = append(a.workers, worker.NewReconciler(a.Payments, cfg.Reconcile.Interval).Run)

	if cfg.Kafka.Enabled {
		if err := a.setupKafka(cfg); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func providers(cfg configs.Config) ([]usecase.Gateway, error) {
	p := cfg.Payments
	gws := []usecase.Gateway{paylink.New(paylink.Config{
		BaseURL:       p.Paylink.BaseURL,
		APIKey:        p.Paylink.APIKey,
		WebhookSecret: p.Paylink.WebhookSecret,
		Tolerance:     p.Paylink.Tolerance,
		RatePerSecond: p.RatePerSecond,
		Timeout:       p.GatewayTimeout,
	})}
	if p.SecurePay.Keys.AES256B64 != "" {
		cs, err := security.NewCryptoServiceFromKeys(p.SecurePay.Keys)
		if err != nil {
			return nil, fmt.Errorf("securepay keys: %w", err)
		}
		gws = append(gws, securepay.New(securepay.Config{
			BaseURL:       p.SecurePay.BaseURL,
			MerchantID:    p.SecurePay.MerchantID,
			RatePerSecond: p.RatePerSecond,
			Timeout:       p.GatewayTimeout,
		}, cs))
	}
	return gws, nil
}

func (a *App) setupRabbit(cfg configs.Config) (*queue.RabbitProducer, error) {
	conn, err := amqp.Dial(cfg.Rabbit.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	a.closers = append(a.closers, func() { _ = conn.Close() })

	pubCh, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	producer, err := queue.NewRabbitProducer(pubCh, queue.Topology{
		Exchange:    cfg.Rabbit.Exchange,
		RefundQueue: cfg.Rabbit.RefundQueue,
		RefundKeys:  []string{usecase.ChannelRefundRequired, usecase.ChannelRefundRequested},
	})
	if err != nil {
		return nil, err
	}

	// register queue-handler
	subCh, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	refunds := queue.NewRefundHandler(a.Payments)
	router := queue.NewRouter(subCh, queue.WithPrefetch(cfg.Rabbit.Prefetch))
	queueName := cfg.Rabbit.RefundQueue
	if queueName == "" {
		queueName = queue.DefaultRefundQueue
	}
	router.Register(queueName, refunds.Handler())
	a.workers = append(a.workers, func(ctx context.Context) error {
		if err := router.Start(ctx); err != nil {
			return fmt.Errorf("refund consumer: %w", err)
		}
		<-ctx.Done()
		return nil
	})
	return producer, nil
}

func (a *App) setupKafka(cfg configs.Config) error {
	grp, err := kafka.NewGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
	if err != nil {
		return fmt.Errorf("kafka group: %w", err)
	}
	a.closers = append(a.closers, func() { _ = grp.Close() })

	events := kafka.NewProviderEvents(a.Payments)
	consumer := kafka.NewConsumer(grp, []string{cfg.Kafka.TopicEvents}, events.Handle)
	a.workers = append(a.workers, consumer.Start)
	return nil
}

// Run serves HTTP and runs the workers until ctx is cancelled or one fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         a.Cfg.App.HTTPAddr,
		Handler:      a.Router,
		ReadTimeout:  a.Cfg.HTTP.ReadTimeout,
		WriteTimeout: a.Cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.Cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http listening", "addr", srv.Addr, "env", a.Cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := a.Cfg.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	a.RunWorkers(gctx, g)
	return g.Wait()
}

// RunWorkers starts the background workers on g.
func (a *App) RunWorkers(ctx context.Context, g *errgroup.Group) {
	for _, w := range a.workers {
		w := w
		g.Go(func() error { return w(ctx) })
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
