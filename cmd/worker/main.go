// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/agrovia/agrinotify-backend/internal/config"
	"github.com/agrovia/agrinotify-backend/internal/db"
	"github.com/agrovia/agrinotify-backend/internal/logging"
	"github.com/agrovia/agrinotify-backend/internal/provider"
	"github.com/agrovia/agrinotify-backend/internal/repository"
	"github.com/agrovia/agrinotify-backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}
	logging.Init(cfg.LogFile)

	conn, err := db.Open(cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()
	if err := db.Migrate(conn); err != nil {
		log.Fatal(err)
	}
	log.Println("✅ Connected to database")

	queueRepo := &repository.QueueRepository{DB: conn}
	deliveryRepo := &repository.DeliveryRepository{DB: conn}
	requestRepo := &repository.RequestRepository{DB: conn}
	logRepo := &repository.LogRepository{DB: conn}

	registry := provider.NewRegistry()
	registry.Register("webhook", provider.NewWebhookProvider("webhook-http", time.Duration(cfg.Webhook.Timeout)))
	if cfg.AMQPURL != "" {
		amqpProvider := provider.NewAMQPProvider("amqp-rabbit", cfg.AMQPURL, "agrinotify.deliveries")
		defer amqpProvider.Close()
		registry.Register("amqp", amqpProvider)
		// Mobile/SMS/email farm notifications go through the broker, where the
		// per-channel gateway services consume them.
		registry.Register("push", amqpProvider)
		registry.Register("sms", amqpProvider)
		registry.Register("email", amqpProvider)
	}

	dispatcher := service.NewDispatcher(queueRepo, deliveryRepo, logRepo, registry)
	dispatcher.Workers = cfg.Worker.Count
	dispatcher.PollInterval = time.Duration(cfg.Worker.PollInterval)
	dispatcher.ProviderTimeout = time.Duration(cfg.Worker.ProviderTimeout)

	sweeper := &service.Sweeper{
		QueueRepo:         queueRepo,
		DeliveryRepo:      deliveryRepo,
		RequestRepo:       requestRepo,
		LogRepo:           logRepo,
		Interval:          time.Duration(cfg.Sweep.Interval),
		StaleAfter:        time.Duration(cfg.Sweep.StaleAfter),
		RetryFailedAfter:  time.Duration(cfg.Sweep.RetryFailedAfter),
		MaxAttempts:       cfg.Retry.MaxAttempts,
		QueueRetention:    time.Duration(cfg.Sweep.QueueRetention),
		DeliveryRetention: time.Duration(cfg.Sweep.DeliveryRetention),
		LogRetention:      time.Duration(cfg.Sweep.LogRetention),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweeper.Start(ctx)

	log.Println("Worker running, polling for messages...")
	dispatcher.Start(ctx)
}
