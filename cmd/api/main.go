package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-broker-agent/internal/application/connection"
	"github.com/go-broker-agent/internal/application/monitor"
	"github.com/go-broker-agent/internal/application/notification"
	"github.com/go-broker-agent/internal/application/request"
	"github.com/go-broker-agent/internal/application/validator"
	"github.com/go-broker-agent/internal/config"
	"github.com/go-broker-agent/internal/infrastructure/broker"
	"github.com/go-broker-agent/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-broker-agent/internal/infrastructure/jwt"
	s3infra "github.com/go-broker-agent/internal/infrastructure/s3"
	"github.com/go-broker-agent/internal/infrastructure/smtp"
	"github.com/go-broker-agent/internal/infrastructure/sns"
	"github.com/go-broker-agent/internal/pkg/retry"
	"github.com/go-broker-agent/internal/scheduler"
	"github.com/go-broker-agent/internal/stream"
	transporthttp "github.com/go-broker-agent/internal/transport/http"
	"github.com/go-broker-agent/internal/vault"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// The vault key is non-negotiable: without it every stored secret is
	// unreachable, so refuse to start.
	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("vault: %v", err)
	}

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables)

	// JWT provider (optional — graceful fallback if keys are missing).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		log.Printf("WARN: JWT provider not available: %v", err)
	}

	// S3 archive for pruned snapshots (optional).
	var archiver monitor.Archiver
	if cfg.SnapshotArchiveBucket != "" {
		archiver = s3infra.NewArchiveStore(s3infra.NewClient(cfg), cfg.SnapshotArchiveBucket)
	}

	// SMTP mailer.
	mailer := smtp.NewMailer(cfg)

	// SNS SMS sender (optional — graceful fallback).
	var smsSender sns.SMSSender
	if sender, err := sns.NewSender(cfg); err == nil {
		smsSender = sender
	} else {
		log.Printf("WARN: SNS sender not available: %v", err)
	}

	connRepo := dynamo.NewConnectionRepo(dynamoClient, cfg.DynamoTables.Connections)
	notifRepo := dynamo.NewNotificationRepo(dynamoClient, cfg.DynamoTables.Notifications)
	snapRepo := dynamo.NewSnapshotRepo(dynamoClient, cfg.DynamoTables.Snapshots)

	hub := stream.NewHub(32)

	// One shared limiter caps every outbound broker call across the API and
	// the background jobs.
	brokerLimiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.BrokerRatePerMin)), cfg.BrokerRatePerMin)
	brokerClient := broker.NewCachedClient(
		broker.NewHTTPClient(cfg.BrokerBaseURL, cfg.BrokerTimeout),
		cfg.PortfolioCacheTTL,
	)

	connSvc := connection.NewService(connRepo, v, hub)
	notifSvc := notification.NewService(notifRepo, hub, notification.Dispatch{
		SMSSender: smsSender,
		SMSTo:     cfg.AlertSMSTo,
		Mailer:    mailer,
		EmailTo:   cfg.AlertEmailTo,
	})
	validatorSvc := validator.New(connSvc, notifSvc, brokerClient, brokerLimiter, validator.Config{
		Interval:    cfg.ValidateInterval,
		Concurrency: cfg.ValidateConcurrency,
		CallTimeout: cfg.BrokerTimeout,
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
		},
	})
	monitorSvc := monitor.New(connSvc, snapRepo, notifSvc, brokerClient, archiver, brokerLimiter, monitor.Config{
		ChangeThresholdPct: cfg.ChangeThreshold,
		SnapshotRetention:  cfg.SnapshotRetention,
	})
	requestSvc := request.NewService(connSvc, brokerClient, nil, brokerLimiter)

	sched := scheduler.New(context.Background())
	mustSchedule(sched, "validate-tokens", cfg.ValidateInterval, validatorSvc.RunOnce)
	mustSchedule(sched, "monitor-portfolio", cfg.PortfolioInterval, monitorSvc.RunPortfolioOnce)
	mustSchedule(sched, "monitor-market", cfg.MarketInterval, monitorSvc.RunMarketOnce)
	sched.Start()

	deps := &transporthttp.Deps{
		ConnectionSvc:   connSvc,
		NotificationSvc: notifSvc,
		RequestSvc:      requestSvc,
		Validator:       validatorSvc,
		Hub:             hub,
		JWTProvider:     jwtProvider,
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	sched.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}

func mustSchedule(s *scheduler.Scheduler, name string, interval time.Duration, job scheduler.Job) {
	if err := s.Every(name, interval, job); err != nil {
		log.Fatalf("schedule %s: %v", name, err)
	}
}
