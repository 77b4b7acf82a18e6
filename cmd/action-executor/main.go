package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pulsemate/action-engine/cmd/action-executor/amqp"
	"github.com/pulsemate/action-engine/cmd/action-executor/config"
	"github.com/pulsemate/action-engine/cmd/action-executor/dispatch"
	"github.com/pulsemate/action-engine/cmd/action-executor/helper"
	"github.com/pulsemate/action-engine/cmd/action-executor/httpcall"
	"github.com/pulsemate/action-engine/cmd/action-executor/platforms"
	"github.com/pulsemate/action-engine/cmd/action-executor/postgresql"
	"github.com/pulsemate/action-engine/cmd/action-executor/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger is not up yet; this is the one place stderr is fine.
		panic(err)
	}
	helper.InitLogging(cfg.LogLevel)
	initPrometheus(cfg)

	db, err := postgresql.Connect(cfg)
	if err != nil {
		zap.S().Fatalf("Failed to set up postgres: %s", err)
	}
	oracle := postgresql.NewOracle(cfg, db)

	broker, err := amqp.Connect(cfg)
	if err != nil {
		zap.S().Fatalf("Failed to set up broker: %s", err)
	}

	executor := httpcall.NewExecutor(cfg)
	dispatcher := dispatch.New(oracle, executor, dispatch.NewRegistry(),
		platforms.NewTwitterTranslator(cfg, oracle),
		platforms.NewFacebookTranslator(cfg, oracle),
		platforms.NewLinkedinTranslator(cfg, oracle),
		platforms.NewGoogleTranslator(cfg, oracle),
	)

	w := worker.New(cfg, broker, dispatcher)
	initHealthCheck(cfg, db, broker, w)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	awaitShutdown(cancel, broker)
}

func awaitShutdown(cancel context.CancelFunc, broker *amqp.Connection) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigs
	zap.S().Infof("Received SIG %v", sig)

	// Stop taking new deliveries first; in-flight dispatch runs to
	// completion, unacknowledged messages are redelivered by the broker.
	cancel()
	zap.S().Debugf("Shutting down broker connection")
	broker.Close()
	os.Exit(0)
}

func initPrometheus(cfg *config.Config) {
	zap.S().Debugf("Setting up metrics on %s", cfg.MetricsAddress)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(cfg.MetricsAddress, nil)
		if err != nil {
			zap.S().Errorf("Error starting metrics: %s", err)
		}
	}()
}

func initHealthCheck(cfg *config.Config, db postgresql.DB, broker *amqp.Connection, w *worker.Worker) {
	zap.S().Debugf("Setting up healthcheck")

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))
	health.AddReadinessCheck("database", postgresql.GetHealthCheck(db))
	health.AddLivenessCheck("database", postgresql.GetHealthCheck(db))
	health.AddReadinessCheck("broker", broker.GetReadinessCheck())
	health.AddLivenessCheck("worker", w.GetLivenessCheck())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(cfg.HealthAddress, health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()
}
