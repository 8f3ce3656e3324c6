package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/passport/adapters/events"
	"github.com/layer-3/passport/adapters/genobank"
	"github.com/layer-3/passport/adapters/mailer"
	"github.com/layer-3/passport/adapters/store"
	"github.com/layer-3/passport/adapters/tokenizer"
	"github.com/layer-3/passport/internal/config"
	"github.com/layer-3/passport/internal/eth"
	"github.com/layer-3/passport/internal/metrics"
	"github.com/layer-3/passport/ports"
	"github.com/layer-3/passport/service"
	transport "github.com/layer-3/passport/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := newLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	// Retries are applied per operation by the store.
	opts.MaxRetries = -1
	redisClient := redis.NewClient(opts)
	kv := store.NewRedisStore(redisClient,
		store.WithOpTimeout(cfg.StoreTimeout),
		store.WithReadRetries(cfg.StoreReadRetries),
	)
	defer func() { _ = kv.Close() }()

	if err := kv.Ping(ctx); err != nil {
		log.Warn("redis not reachable at startup", zap.Error(err))
	}

	var (
		publisher message.Publisher
		eventPub  ports.EventPublisher = events.NopPublisher{}
	)
	if cfg.EventsEnabled {
		publisher, err = redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redisClient},
			events.NewZapLogger(log.Named("watermill")),
		)
		if err != nil {
			return fmt.Errorf("create redis publisher: %w", err)
		}
		defer func() { _ = publisher.Close() }()
		eventPub = events.NewWatermillPublisher(publisher)
	}

	links := mailer.NewLinkBuilder(cfg.MagicLinkBaseURL)
	var magicLinks ports.Mailer
	switch cfg.MailerMode {
	case config.MailerEvents:
		magicLinks = mailer.NewWatermillMailer(publisher, links)
	default:
		magicLinks = mailer.NewLogMailer(log.Named("mailer"), links)
	}

	var (
		reg     *prometheus.Registry
		options = []service.Option{service.WithLogger(log.Named("auth"))}
	)
	if cfg.MetricsEnabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		options = append(options, service.WithMetrics(metrics.New(reg)))
	}

	authority := genobank.NewClient(cfg.AuthorityURL, cfg.UpstreamTimeout)
	authService := service.NewAuthService(service.Config{
		Store:         kv,
		Tokenizer:     tokenizer.NewJWTTokenizer([]byte(cfg.AccessSecret), []byte(cfg.RefreshSecret), cfg.Issuer, cfg.Audience),
		Signatures:    eth.NewPersonalSignVerifier(cfg.ChallengeMessage),
		Events:        eventPub,
		Mailer:        magicLinks,
		Permittees:    authority,
		Owners:        authority,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		EmailProofTTL: cfg.EmailProofTTL,
	}, options...)

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	var gatherer prometheus.Gatherer
	if reg != nil {
		gatherer = reg
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           transport.SetupRouter(authService, log.Named("http"), gatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
