package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/provider-availability/internal/appointment"
	"github.com/hackgods/provider-availability/internal/config"
	"github.com/hackgods/provider-availability/internal/db"
	"github.com/hackgods/provider-availability/internal/events"
	"github.com/hackgods/provider-availability/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{})
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(logger.Config{Env: cfg.Env, Level: cfg.LogLevel, Service: "completion-worker"})
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("completion worker starting up")

	if cfg.StoreDriver != config.StorePostgres {
		log.Fatal().Str("store", cfg.StoreDriver).Msg("completion worker needs STORE_DRIVER=postgres")
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("timezone error")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	var publisher events.Publisher = events.Nop()
	if cfg.AMQPURL != "" {
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("amqp publisher error")
		}
		defer pub.Close()
		publisher = pub
	}

	// Status transitions are compare-and-set in the database, so the worker
	// needs no slot lock.
	svc := appointment.NewService(appointment.NewPgRepository(pgPool), nil, appointment.Options{
		Location:  loc,
		Logger:    &log,
		Publisher: publisher,
	})

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping completion worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.CompletePastBookings(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("completion run error")
		return
	}
	log.Info().Int("completed", n).Dur("took", time.Since(start)).Msg("completion run complete")
}
