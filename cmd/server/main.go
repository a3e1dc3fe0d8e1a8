package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/AlexTLDR/evite-checkin/internal/config"
	"github.com/AlexTLDR/evite-checkin/internal/database"
	"github.com/AlexTLDR/evite-checkin/internal/logging"
	"github.com/AlexTLDR/evite-checkin/internal/notify"
	"github.com/AlexTLDR/evite-checkin/internal/qrcode"
	"github.com/AlexTLDR/evite-checkin/internal/redemption"
	"github.com/AlexTLDR/evite-checkin/internal/rsvp"
	"github.com/AlexTLDR/evite-checkin/internal/scheduler"
	"github.com/AlexTLDR/evite-checkin/internal/server"
)

func main() {
	// Load .env file (ignore error if a file doesn't exist)
	// Use Overload to force to overwrite any existing environment variables
	if err := godotenv.Overload(); err != nil {
		logrus.Warnf("Error loading .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	db, err := database.New(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func(db *database.DB) {
		if err := db.Close(); err != nil {
			log.Errorf("Failed to close database: %v", err)
		}
	}(db)

	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	notifier, closeNotifier, err := notify.FromConfig(cfg, log)
	if err != nil {
		log.Fatalf("Failed to set up notifier: %v", err)
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			log.Errorf("Failed to close notifier: %v", err)
		}
	}()

	engine := qrcode.NewEngine(db, cfg.StoreTimeout, log)
	workflow := rsvp.NewWorkflow(db, engine, notifier, rsvp.Options{
		StoreTimeout: cfg.StoreTimeout,
		Concurrency:  cfg.DispatchConcurrency,
		Rate:         cfg.DispatchRate,
		Burst:        cfg.DispatchBurst,
		Location:     cfg.Location(),
	}, log)
	gateway := redemption.NewGateway(engine, db, cfg.StoreTimeout, log)

	jobs := scheduler.New(scheduler.Config{
		DispatchSchedule: cfg.DispatchSchedule,
		DispatchLead:     cfg.DispatchLead,
		ExpireSchedule:   cfg.ExpireSchedule,
		ExpireGrace:      cfg.ExpireGrace,
		Location:         cfg.Location(),
	}, db, workflow, engine, log)
	if err := jobs.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer func() {
		<-jobs.Stop().Done()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, db, engine, workflow, gateway, log)
	if err := srv.Start(ctx, ":"+cfg.Port); err != nil {
		log.Errorf("Server failed: %v", err)
		return
	}
	log.Info("Server stopped")
}
