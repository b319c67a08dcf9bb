// cmd/server/main.go
package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrovia/agrinotify-backend/internal/config"
	"github.com/agrovia/agrinotify-backend/internal/db"
	"github.com/agrovia/agrinotify-backend/internal/handler"
	"github.com/agrovia/agrinotify-backend/internal/logging"
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

	requestRepo := &repository.RequestRepository{DB: conn}
	queueRepo := &repository.QueueRepository{DB: conn}
	deliveryRepo := &repository.DeliveryRepository{DB: conn}
	logRepo := &repository.LogRepository{DB: conn}

	notificationService := &service.NotificationService{
		RequestRepo:  requestRepo,
		QueueRepo:    queueRepo,
		DeliveryRepo: deliveryRepo,
		LogRepo:      logRepo,
	}

	requestHandler := handler.NewRequestHandler(notificationService)
	queueHandler := &handler.QueueHandler{
		QueueRepo:    queueRepo,
		DeliveryRepo: deliveryRepo,
		LogRepo:      logRepo,
	}

	r := chi.NewRouter()

	// Notification request routes
	r.Post("/requests", requestHandler.SubmitHandler)
	r.Get("/requests", requestHandler.ListRequestsHandler)
	r.Get("/requests/{id}", requestHandler.GetRequestHandler)
	r.Post("/requests/{id}/cancel", requestHandler.CancelRequestHandler)
	r.Post("/requests/bulk-cancel", requestHandler.BulkCancelHandler)

	// Queue routes
	r.Get("/queue", queueHandler.ListQueueHandler)
	r.Get("/queue/summary", queueHandler.QueueSummaryHandler)
	r.Post("/queue/{id}/requeue", queueHandler.RequeueHandler)
	r.Post("/queue/{id}/promote", queueHandler.PromoteHandler)

	// Delivery routes
	r.Get("/deliveries", queueHandler.ListDeliveriesHandler)
	r.Get("/deliveries/distribution", queueHandler.DeliveryDistributionHandler)
	r.Post("/deliveries/{id}/retry", queueHandler.RetryDeliveryHandler)
	r.Post("/deliveries/{id}/provider", queueHandler.ReassignProviderHandler)

	// Delivery log routes
	r.Get("/logs", queueHandler.ListLogsHandler)
	r.Get("/logs/frequent", queueHandler.FrequentErrorsHandler)

	log.Println("server listening on", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Fatal(err)
	}
}
