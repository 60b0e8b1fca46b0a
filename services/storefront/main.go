package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.OTelEnabled {
		tp, err := initTracer(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				log.Printf("Error shutting down tracer: %v", err)
			}
		}()

		mp, err := initMetrics(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize metrics: %v", err)
		}
		defer func() {
			if err := mp.Shutdown(context.Background()); err != nil {
				log.Printf("Error shutting down meter: %v", err)
			}
		}()
	}

	// Initialize ledger storage
	store, closeStore, err := initSaleStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize sale store: %v", err)
	}
	defer closeStore()

	notifier, closeNotifier, err := initNotifier(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize delivery notifier: %v", err)
	}
	defer closeNotifier()

	// Initialize dependencies
	ledger := NewSaleLedger(store)
	processor := NewMercadoPagoProcessor(cfg.ProcessorBaseURL, cfg.ProcessorAccessToken, cfg.NotificationURL, cfg.ProcessorTimeout)
	tokens := NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL)
	useCase := NewStorefrontUseCase(NewCatalog(cfg.Catalog), processor, ledger, tokens, notifier, cfg.PublicBaseURL, cfg.DeliveryPageURL)
	handler := NewStorefrontHandler(useCase, otel.Tracer(cfg.ServiceName), cfg.RecoveryDays)

	// Setup Gin router
	r := gin.Default()
	r.Use(otelgin.Middleware(cfg.ServiceName))
	handler.RegisterRoutes(r, cfg.AdminSecret)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestBudget + 15*time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		log.Printf("🚀 Storefront Service listening on port %s (ledger: %s, notifier: %s)", cfg.Port, cfg.LedgerBackend, cfg.Notifier)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}
	log.Println("👋 Storefront Service stopped")
}

func initSaleStore(cfg *Config) (SaleStore, func(), error) {
	switch cfg.LedgerBackend {
	case "bolt":
		store, err := NewBoltSaleStore(cfg.LedgerBoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bolt ledger %s: %w", cfg.LedgerBoltPath, err)
		}
		log.Printf("✅ Using BoltDB ledger at %s", cfg.LedgerBoltPath)
		return store, func() { store.Close() }, nil

	case "postgres":
		pool, err := initDB(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return NewPostgresSaleStore(pool), pool.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.LedgerBackend)
}

func initDB(dsn string) (*pgxpool.Pool, error) {
	ctx := context.Background()

	if err := ensureSchema(ctx, dsn); err != nil {
		return nil, err
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ Connected to storefront database with connection pool")
	return pool, nil
}

func initNotifier(cfg *Config) (DeliveryNotifier, func(), error) {
	switch cfg.Notifier {
	case "log":
		return LogNotifier{}, func() {}, nil

	case "http":
		if cfg.EmailAPIURL == "" {
			return nil, nil, fmt.Errorf("EMAIL_API_URL is required for the http notifier")
		}
		return NewEmailAPINotifier(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom, cfg.ProcessorTimeout), func() {}, nil

	case "amqp":
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("failed to open channel: %w", err)
		}
		notifier, err := NewAMQPNotifier(ch, cfg.AMQPExchange, cfg.AMQPRouteKey)
		if err != nil {
			closeAll(ch, conn)
			return nil, nil, err
		}
		log.Printf("✅ Publishing deliveries to exchange %s (%s)", cfg.AMQPExchange, cfg.AMQPRouteKey)
		return notifier, func() { closeAll(ch, conn) }, nil
	}

	return nil, nil, fmt.Errorf("unknown NOTIFIER %q", cfg.Notifier)
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Printf("Error closing resource: %v", err)
		}
	}
}

func initTracer(cfg *Config) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTelEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	otel.SetTracerProvider(tp)

	return tp, nil
}

func initMetrics(cfg *Config) (*sdkmetric.MeterProvider, error) {
	ctx := context.Background()

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.OTelEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	return mp, nil
}

func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
}
