// internal/service/sweeper.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agrovia/agrinotify-backend/internal/model"
	"github.com/agrovia/agrinotify-backend/internal/repository"
)

// Sweeper runs the periodic batch recoveries: stuck-Processing reschedule,
// request expiration, bounded delivery retry, retention purges, and log
// archival. Cross-table consistency is eventual; each sweep touches its own
// table and never spans a transaction across components.
type Sweeper struct {
	QueueRepo    repository.QueueRepositoryInterface
	DeliveryRepo repository.DeliveryRepositoryInterface
	RequestRepo  repository.RequestRepositoryInterface
	LogRepo      repository.LogRepositoryInterface

	Interval          time.Duration
	StaleAfter        time.Duration
	RetryFailedAfter  time.Duration
	MaxAttempts       int
	QueueRetention    time.Duration
	DeliveryRetention time.Duration
	LogRetention      time.Duration
}

func (s *Sweeper) Start(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("sweeper started",
		slog.String("code", "SYS_STARTUP"),
		slog.Duration("interval", interval),
		slog.Int("maxAttempts", s.MaxAttempts),
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper shutting down", slog.String("code", "SYS_SHUTDOWN"))
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce executes every sweep a single time. Each sweep is isolated: one
// failing does not stop the others.
func (s *Sweeper) RunOnce() {
	s.rescheduleStale()
	s.expireRequests()
	s.retryFailedDeliveries()
	s.purge()
}

func (s *Sweeper) rescheduleStale() {
	if s.StaleAfter <= 0 {
		return
	}
	n, err := s.QueueRepo.RescheduleStale(s.StaleAfter, model.QueueStatusProcessing)
	if err != nil {
		slog.Error("stale reschedule sweep failed", slog.String("code", "SWEEP_STALE"), slog.Any("error", err))
		return
	}
	if n > 0 {
		slog.Info("rescheduled stale messages", slog.String("code", "SWEEP_STALE"), slog.Int64("count", n))
	}
}

// expireRequests cancels non-terminal requests whose expiry passed and
// cascades to their still-Queued messages. Expired work is Cancelled, not
// Failed: nothing went wrong with it, it just ran out of relevance.
func (s *Sweeper) expireRequests() {
	expired, err := s.RequestRepo.GetExpired()
	if err != nil {
		slog.Error("expiration sweep failed", slog.String("code", "SWEEP_EXPIRE"), slog.Any("error", err))
		return
	}
	for _, req := range expired {
		ok, err := s.RequestRepo.Cancel(req.ID)
		if err != nil {
			slog.Error("failed to cancel expired request", slog.String("request_id", req.ID), slog.Any("error", err))
			continue
		}
		if !ok {
			continue
		}
		if _, err := s.QueueRepo.FailQueuedByRequest(req.ID); err != nil {
			slog.Error("expire cascade failed", slog.String("request_id", req.ID), slog.Any("error", err))
		}
		s.appendEvent(req.ID, model.EventStatusChanged, fmt.Sprintf(`{"status":"Cancelled","reason":"expired","expired_at":%q}`, req.ExpiresAt.Format(time.RFC3339)))
	}
	if len(expired) > 0 {
		slog.Info("expired requests cancelled", slog.String("code", "SWEEP_EXPIRE"), slog.Int("count", len(expired)))
	}
}

// retryFailedDeliveries requeues transient failures still inside their
// attempt budget and puts the originating queue rows back in line. Rows at or
// over the budget stay Failed permanently as dead letters.
func (s *Sweeper) retryFailedDeliveries() {
	if s.MaxAttempts <= 0 {
		return
	}
	queueIDs, err := s.DeliveryRepo.RetryFailedOlderThan(s.RetryFailedAfter, s.MaxAttempts)
	if err != nil {
		slog.Error("retry sweep failed", slog.String("code", "SWEEP_RETRY"), slog.Any("error", err))
		return
	}
	requeued := 0
	for _, queueID := range queueIDs {
		ok, err := s.QueueRepo.Requeue(queueID)
		if err != nil {
			slog.Error("failed to requeue message for retry", slog.Int64("queue_id", queueID), slog.Any("error", err))
			continue
		}
		if ok {
			requeued++
		}
	}
	if len(queueIDs) > 0 {
		slog.Info("failed deliveries requeued",
			slog.String("code", "SWEEP_RETRY"),
			slog.Int("deliveries", len(queueIDs)),
			slog.Int("requeued", requeued),
		)
	}
}

func (s *Sweeper) purge() {
	now := time.Now().UTC()

	if s.QueueRetention > 0 {
		if n, err := s.QueueRepo.PurgeProcessed(now.Add(-s.QueueRetention)); err != nil {
			slog.Error("queue purge failed", slog.String("code", "SWEEP_PURGE"), slog.Any("error", err))
		} else if n > 0 {
			slog.Info("purged terminal queue rows", slog.String("code", "SWEEP_PURGE"), slog.Int64("count", n))
		}
	}

	if s.DeliveryRetention > 0 {
		if n, err := s.DeliveryRepo.CleanupOlderThan(now.Add(-s.DeliveryRetention)); err != nil {
			slog.Error("delivery cleanup failed", slog.String("code", "SWEEP_PURGE"), slog.Any("error", err))
		} else if n > 0 {
			slog.Info("cleaned up terminal deliveries", slog.String("code", "SWEEP_PURGE"), slog.Int64("count", n))
		}
	}

	if s.LogRetention > 0 {
		if n, err := s.LogRepo.Archive(now.Add(-s.LogRetention)); err != nil {
			slog.Error("log archive failed", slog.String("code", "SWEEP_ARCHIVE"), slog.Any("error", err))
		} else if n > 0 {
			slog.Info("archived delivery logs", slog.String("code", "SWEEP_ARCHIVE"), slog.Int64("count", n))
		}
	}
}

func (s *Sweeper) appendEvent(requestID, eventType, data string) {
	_, err := s.LogRepo.Append(&model.DeliveryLog{
		EntityType: "NotificationRequest",
		EntityID:   requestID,
		EventType:  eventType,
		EventData:  data,
	})
	if err != nil {
		slog.Warn("failed to append sweep event", slog.String("request_id", requestID), slog.Any("error", err))
	}
}
