// internal/service/dispatcher.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	appErrors "github.com/agrovia/agrinotify-backend/internal/errors"
	"github.com/agrovia/agrinotify-backend/internal/model"
	"github.com/agrovia/agrinotify-backend/internal/provider"
	"github.com/agrovia/agrinotify-backend/internal/repository"
)

// Dispatcher drains the queue and drives deliveries to completion. Multiple
// workers (and multiple processes) can run against the same store: the claim
// in DequeueNext is the only coordination point.
type Dispatcher struct {
	QueueRepo    repository.QueueRepositoryInterface
	DeliveryRepo repository.DeliveryRepositoryInterface
	LogRepo      repository.LogRepositoryInterface
	Providers    *provider.Registry

	Workers         int
	PollInterval    time.Duration
	ProviderTimeout time.Duration
	IdleBackoff     *Backoff
}

func NewDispatcher(
	queueRepo repository.QueueRepositoryInterface,
	deliveryRepo repository.DeliveryRepositoryInterface,
	logRepo repository.LogRepositoryInterface,
	providers *provider.Registry,
) *Dispatcher {
	return &Dispatcher{
		QueueRepo:       queueRepo,
		DeliveryRepo:    deliveryRepo,
		LogRepo:         logRepo,
		Providers:       providers,
		Workers:         4,
		PollInterval:    2 * time.Second,
		ProviderTimeout: 10 * time.Second,
		IdleBackoff:     DefaultBackoff(),
	}
}

// Start runs the worker loops until ctx is cancelled and blocks until they
// all drain.
func (d *Dispatcher) Start(ctx context.Context) {
	workers := d.Workers
	if workers < 1 {
		workers = 1
	}

	slog.Info("dispatcher starting",
		slog.String("code", "SYS_STARTUP"),
		slog.Int("workers", workers),
		slog.Duration("pollInterval", d.PollInterval),
	)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.run(ctx, worker)
		}(i)
	}
	wg.Wait()
	slog.Info("dispatcher stopped", slog.String("code", "SYS_SHUTDOWN"))
}

func (d *Dispatcher) run(ctx context.Context, worker int) {
	idle := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := d.QueueRepo.DequeueNext()
		if err != nil {
			slog.Error("dequeue failed", slog.String("code", "DB_ERROR"), slog.Int("worker", worker), slog.Any("error", err))
			if !sleepCtx(ctx, d.PollInterval) {
				return
			}
			continue
		}
		if msg == nil {
			delay := d.PollInterval
			if d.IdleBackoff != nil {
				delay = d.IdleBackoff.NextDelay(idle)
				idle++
			}
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		idle = 0
		d.Process(ctx, msg)
	}
}

// Process runs one claimed message through a provider and records the
// outcome. Failures are isolated here: nothing a provider does may take the
// worker loop down.
func (d *Dispatcher) Process(ctx context.Context, msg *model.QueuedMessage) {
	prov, err := d.Providers.Resolve(msg.Channel)
	if err != nil {
		slog.Error("no provider for channel",
			slog.String("code", "DISPATCH_NO_PROVIDER"),
			slog.Int64("queue_id", msg.ID),
			slog.String("channel", msg.Channel),
		)
		d.appendLog(nil, msg, model.EventSystemError, fmt.Sprintf(`{"error":%q}`, err.Error()))
		if _, err := d.QueueRepo.MarkFailed(msg.ID, err.Error()); err != nil {
			slog.Error("failed to mark message failed", slog.Int64("queue_id", msg.ID), slog.Any("error", err))
		}
		return
	}

	delivery, err := d.DeliveryRepo.GetOpenByQueueID(msg.ID)
	if err != nil {
		slog.Error("failed to look up open delivery", slog.Int64("queue_id", msg.ID), slog.Any("error", err))
	}
	if delivery == nil {
		delivery, err = d.DeliveryRepo.CreateDelivery(&model.MessageDelivery{
			QueueID:     &msg.ID,
			RequestID:   msg.RequestID,
			RecipientID: msg.RecipientID,
			ProviderID:  prov.ID(),
			Channel:     msg.Channel,
			Content:     msg.Content,
		})
		if err != nil {
			slog.Error("failed to create delivery", slog.String("code", "DB_ERROR"), slog.Int64("queue_id", msg.ID), slog.Any("error", err))
			// Put the message back so another worker can pick it up once the
			// store recovers.
			if _, rerr := d.QueueRepo.Requeue(msg.ID); rerr != nil {
				slog.Error("failed to requeue after delivery error", slog.Int64("queue_id", msg.ID), slog.Any("error", rerr))
			}
			return
		}
	}

	result, sendErr := d.invoke(ctx, prov, msg)

	if sendErr == nil && result != nil && result.Success {
		d.recordSuccess(msg, delivery, result)
		return
	}
	d.recordFailure(msg, delivery, result, sendErr)
}

// invoke wraps the provider call with the delivery deadline so a hung
// provider cannot starve the worker, and converts panics into errors.
func (d *Dispatcher) invoke(ctx context.Context, prov provider.Provider, msg *model.QueuedMessage) (result *provider.SendResult, err error) {
	callCtx, cancel := context.WithTimeout(ctx, d.ProviderTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = appErrors.NewTransientProviderError(prov.ID(), fmt.Errorf("provider panic: %v", r))
		}
	}()
	return prov.Send(callCtx, msg.RecipientID, msg.Channel, msg.Content)
}

func (d *Dispatcher) recordSuccess(msg *model.QueuedMessage, delivery *model.MessageDelivery, result *provider.SendResult) {
	if _, err := d.DeliveryRepo.MarkAttempted(delivery.ID, result.ProviderResponse, result.ProviderMessageID); err != nil {
		slog.Error("failed to mark delivery attempted", slog.Int64("delivery_id", delivery.ID), slog.Any("error", err))
	}
	if _, err := d.DeliveryRepo.MarkDelivered(delivery.ID); err != nil {
		slog.Error("failed to mark delivery delivered", slog.Int64("delivery_id", delivery.ID), slog.Any("error", err))
	}
	d.appendLog(&delivery.ID, msg, model.EventProviderResponse,
		fmt.Sprintf(`{"provider":%q,"response":%q,"provider_message_id":%q}`,
			delivery.ProviderID, result.ProviderResponse, result.ProviderMessageID))
	if _, err := d.QueueRepo.MarkCompleted(msg.ID); err != nil {
		slog.Error("failed to mark message completed", slog.Int64("queue_id", msg.ID), slog.Any("error", err))
	}

	slog.Info("message delivered",
		slog.String("code", "DEL_OK"),
		slog.Int64("queue_id", msg.ID),
		slog.Int64("delivery_id", delivery.ID),
		slog.String("channel", msg.Channel),
	)
}

func (d *Dispatcher) recordFailure(msg *model.QueuedMessage, delivery *model.MessageDelivery, result *provider.SendResult, sendErr error) {
	reason := "provider send failed"
	if sendErr != nil {
		reason = sendErr.Error()
	} else if result != nil && result.ProviderResponse != "" {
		reason = result.ProviderResponse
	}
	permanent := appErrors.IsPermanent(sendErr)

	response := reason
	if result != nil && result.ProviderResponse != "" {
		response = result.ProviderResponse
	}
	if _, err := d.DeliveryRepo.MarkAttempted(delivery.ID, response, ""); err != nil {
		slog.Error("failed to mark delivery attempted", slog.Int64("delivery_id", delivery.ID), slog.Any("error", err))
	}
	if _, err := d.DeliveryRepo.MarkFailed(delivery.ID, reason, permanent); err != nil {
		slog.Error("failed to mark delivery failed", slog.Int64("delivery_id", delivery.ID), slog.Any("error", err))
	}
	d.appendLog(&delivery.ID, msg, model.EventDeliveryFailed,
		fmt.Sprintf(`{"provider":%q,"error":%q,"permanent":%t}`, delivery.ProviderID, reason, permanent))
	if _, err := d.QueueRepo.MarkFailed(msg.ID, reason); err != nil {
		slog.Error("failed to mark message failed", slog.Int64("queue_id", msg.ID), slog.Any("error", err))
	}

	slog.Warn("message delivery failed",
		slog.String("code", "DEL_FAILED"),
		slog.Int64("queue_id", msg.ID),
		slog.Int64("delivery_id", delivery.ID),
		slog.Bool("permanent", permanent),
		slog.String("error", reason),
	)
}

// appendLog is fire-and-forget: a logging failure must never mask the outcome
// it describes.
func (d *Dispatcher) appendLog(deliveryID *int64, msg *model.QueuedMessage, eventType, data string) {
	entry := &model.DeliveryLog{
		DeliveryID: deliveryID,
		EntityType: "QueuedMessage",
		EntityID:   fmt.Sprintf("%d", msg.ID),
		EventType:  eventType,
		EventData:  data,
	}
	if _, err := d.LogRepo.Append(entry); err != nil {
		slog.Warn("failed to append delivery log", slog.Int64("queue_id", msg.ID), slog.Any("error", err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
