// Package app wires configuration, storage, providers and the HTTP server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bookstore/internal/cache"
	"github.com/xenking/bookstore/internal/carrier/shiprocket"
	"github.com/xenking/bookstore/internal/domain/checkout"
	"github.com/xenking/bookstore/internal/domain/delivery"
	"github.com/xenking/bookstore/internal/domain/pricing"
	"github.com/xenking/bookstore/internal/domain/shipment"
	"github.com/xenking/bookstore/internal/gateway/cashfree"
	"github.com/xenking/bookstore/internal/handler"
	"github.com/xenking/bookstore/internal/mailer"
	"github.com/xenking/bookstore/internal/storage/postgres"
	"github.com/xenking/bookstore/internal/storage/s3"
	"github.com/xenking/bookstore/pkg/health"
	"github.com/xenking/bookstore/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("cache", cfg.Cache.Backend))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	g, ctx := errgroup.WithContext(ctx)

	var orders checkout.OrderCache
	switch cfg.Cache.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		store := cache.NewRedisStore(rdb, cfg.Cache.Prefix, cfg.Cache.Retention, cfg.Cache.LockTTL)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(store))
		orders = store
	default:
		store := cache.NewMemoryStore(cfg.Cache.Retention, cfg.Cache.SweepInterval)
		g.Go(func() error { return store.Run(ctx) })
		orders = store
	}

	gateway, err := cashfree.New(cashfree.Config{
		ClientID:       cfg.Payment.ClientID,
		ClientSecret:   cfg.Payment.ClientSecret,
		Environment:    cfg.Payment.Environment,
		BaseURL:        cfg.Payment.BaseURL,
		Timeout:        cfg.Payment.Timeout,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create payment gateway")
	}

	carrier, err := shiprocket.New(shiprocket.Config{
		Email:    cfg.Carrier.Email,
		Password: cfg.Carrier.Password,
		BaseURL:  cfg.Carrier.BaseURL,
		Timeout:  cfg.Carrier.Timeout,
		Package: shiprocket.Package{
			Length:  cfg.Carrier.Package.Length,
			Breadth: cfg.Carrier.Package.Breadth,
			Height:  cfg.Carrier.Package.Height,
			Weight:  cfg.Carrier.Package.Weight,
		},
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create carrier")
	}

	objects, err := s3.New(ctx, s3.Config{
		Bucket:          cfg.Storage.Bucket,
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UsePathStyle:    cfg.Storage.UsePathStyle,
	})
	if err != nil {
		return errors.Wrap(err, "create object store")
	}

	var mail delivery.Mailer = mailer.Log{}
	if cfg.SMTP.Host != "" {
		smtp, err := mailer.New(mailer.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			TLS:      cfg.SMTP.TLS,
			Timeout:  cfg.SMTP.Timeout,
		})
		if err != nil {
			return errors.Wrap(err, "create mailer")
		}
		mail = smtp
	} else {
		lg.Warn("SMTP host not set, ebook delivery stays pending")
	}

	// Repositories.
	shipmentRepo := postgres.NewShipmentRepository(pool)
	ebookRepo := postgres.NewEbookRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)

	// Domain services.
	deliverySvc := delivery.NewService(ebookRepo, objects, mail)
	shipmentSvc := shipment.NewService(shipmentRepo, carrier, cfg.Carrier.PickupPincode)
	checkoutSvc, err := checkout.NewService(
		orders,
		gateway,
		pricing.NewCalculator(couponRepo),
		deliverySvc,
		carrier,
		shipmentRepo,
		checkout.Options{
			Currency:       cfg.Checkout.Currency,
			ReturnURL:      cfg.Checkout.ReturnURL,
			TracerProvider: m.TracerProvider(),
			MeterProvider:  m.MeterProvider(),
		},
	)
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}

	h := handler.NewHandler(checkoutSvc, shipmentSvc)

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Mount(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Rate:  cfg.RateLimit.Rate,
				Burst: cfg.RateLimit.Burst,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("bookstore-api", m.TracerProvider(), m.MeterProvider(), nil),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
