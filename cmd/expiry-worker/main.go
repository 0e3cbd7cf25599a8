package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
	"github.com/hackgods/hospital-appointment-scheduling/internal/bootstrap"
	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
	"github.com/hackgods/hospital-appointment-scheduling/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	zl.Info("expiry-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("payment_window", cfg.Scheduling.PaymentWindow),
	)

	if cfg.Scheduling.PaymentWindow <= 0 {
		zl.Info("PAYMENT_WINDOW is 0, nothing to expire")
		return
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Open(rootCtx, cfg, zl)
	if err != nil {
		zl.Fatal("backend init error", zap.Error(err))
	}
	defer app.Close()

	// Run once at startup
	runOnce(rootCtx, app.Service, zl)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zl.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, app.Service, zl)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, zl *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := svc.ExpireUnpaidAppointments(runCtx)
	if err != nil {
		zl.Error("expiry run error", zap.Error(err))
		return
	}
	zl.Info("expiry run complete", zap.Int("expired", expired), zap.Duration("took", time.Since(start)))
}
