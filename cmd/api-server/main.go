package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hackgods/provider-availability/internal/api"
	"github.com/hackgods/provider-availability/internal/appointment"
	"github.com/hackgods/provider-availability/internal/config"
	"github.com/hackgods/provider-availability/internal/db"
	"github.com/hackgods/provider-availability/internal/events"
	"github.com/hackgods/provider-availability/internal/logger"
	"github.com/hackgods/provider-availability/internal/metrics"
	redisclient "github.com/hackgods/provider-availability/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{})
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(logger.Config{Env: cfg.Env, Level: cfg.LogLevel, Service: "api-server"})
	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Str("lock", cfg.LockDriver).
		Msg("api-server starting up")

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("timezone error")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo   appointment.Repository
		checks []api.DependencyCheck
	)

	switch cfg.StoreDriver {
	case config.StorePostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
		if err == nil {
			err = db.Migrate(pgCtx, pgPool)
		}
		cancelPg()
		if err != nil {
			log.Fatal().Err(err).Msg("postgres setup error")
		}
		defer pgPool.Close()
		log.Info().Msg("connected to Postgres")

		repo = appointment.NewPgRepository(pgPool)
		checks = append(checks, api.DependencyCheck{Name: "postgres", Critical: true, Ping: pgPool.Ping})
	default:
		log.Warn().Msg("using in-memory store; data is lost on restart")
		repo = appointment.NewMemoryRepository()
	}

	var locker redisclient.Locker
	switch cfg.LockDriver {
	case config.LockRedis:
		rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis")
			}
		}()
		log.Info().Msg("connected to Redis")

		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		checks = append(checks, api.DependencyCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	default:
		locker = redisclient.NewLocalSlotLocker(cfg.LockTTL)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "availability")

	var publisher events.Publisher = events.Nop()
	if cfg.AMQPURL != "" {
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("amqp publisher error")
		}
		defer pub.Close()
		publisher = pub
		log.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing events to AMQP")
	}

	svc := appointment.NewService(repo, locker, appointment.Options{
		Location:         loc,
		Logger:           &log,
		Metrics:          m,
		Publisher:        publisher,
		RuleCacheTTL:     cfg.RuleCacheTTL,
		ProviderCacheTTL: cfg.ProviderCacheTTL,
	})

	if cfg.AMQPURL != "" {
		go listenForScheduleChanges(rootCtx, cfg, svc, log)
	}

	router := api.NewRouter(api.RouterConfig{
		Service:      svc,
		Logger:       log,
		Metrics:      m,
		Gatherer:     reg,
		Checks:       checks,
		Env:          cfg.Env,
		Version:      version,
		BookingRate:  rate.Limit(cfg.BookingRate),
		BookingBurst: cfg.BookingBurst,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}

// listenForScheduleChanges drops cached rules when any replica replaces a
// provider's week.
func listenForScheduleChanges(ctx context.Context, cfg config.Config, svc *appointment.Service, log zerolog.Logger) {
	listener, err := events.NewListener(cfg.AMQPURL, cfg.AMQPExchange, log)
	if err != nil {
		log.Error().Err(err).Msg("amqp listener error; rule cache relies on TTL only")
		return
	}
	defer listener.Close()

	listener.Handle(appointment.EventScheduleReplaced, func(_ context.Context, ev events.Event) error {
		if ev.ProviderID == uuid.Nil {
			return nil
		}
		svc.InvalidateRules(ev.ProviderID)
		return nil
	})

	if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("amqp listener stopped")
	}
}
