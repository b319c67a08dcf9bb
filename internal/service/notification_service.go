// internal/service/notification_service.go
package service

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/agrovia/agrinotify-backend/internal/errors"
	"github.com/agrovia/agrinotify-backend/internal/model"
	"github.com/agrovia/agrinotify-backend/internal/repository"
)

// Queue priorities assigned at expansion time. Requeue and the stale sweep
// bump these by one, so bands are spaced out to leave promotion room.
const (
	queuePriorityHigh   = 10
	queuePriorityNormal = 5
	queuePriorityLow    = 1
)

type NotificationService struct {
	RequestRepo  repository.RequestRepositoryInterface
	QueueRepo    repository.QueueRepositoryInterface
	DeliveryRepo repository.DeliveryRepositoryInterface
	LogRepo      repository.LogRepositoryInterface
}

// RecipientInput is one expansion target of a submission.
type RecipientInput struct {
	RecipientID string `json:"recipient_id"`
	Channel     string `json:"channel"`
	Content     string `json:"content,omitempty"` // overrides the request payload when set
}

type SubmitInput struct {
	ApplicationID string           `json:"application_id"`
	TemplateID    string           `json:"template_id"`
	Payload       string           `json:"payload"`
	Priority      string           `json:"priority"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	CallbackURL   string           `json:"callback_url,omitempty"`
	RequestedBy   string           `json:"requested_by,omitempty"`
	ScheduledAt   *time.Time       `json:"scheduled_at,omitempty"`
	Recipients    []RecipientInput `json:"recipients"`
}

type SubmitResult struct {
	Request        *model.NotificationRequest `json:"request"`
	MessagesQueued int                        `json:"messages_queued"`
	MessageIDs     []int64                    `json:"message_ids"`
}

// Submit creates the request and expands it into one queued message per
// recipient. The expansion is all-or-nothing; on success the request moves
// straight to Processing since its messages are now in flight.
func (s *NotificationService) Submit(input SubmitInput) (*SubmitResult, error) {
	if len(input.Recipients) == 0 {
		return nil, appErrors.NewValidation("recipients", "must not be empty")
	}

	req := &model.NotificationRequest{
		ID:            uuid.New().String(),
		ApplicationID: input.ApplicationID,
		TemplateID:    input.TemplateID,
		RequestData:   input.Payload,
		Priority:      input.Priority,
		ExpiresAt:     input.ExpiresAt,
		CallbackURL:   input.CallbackURL,
		RequestedBy:   input.RequestedBy,
	}
	if err := s.RequestRepo.Create(req); err != nil {
		return nil, err
	}

	msgs := make([]*model.QueuedMessage, 0, len(input.Recipients))
	for _, rcpt := range input.Recipients {
		content := rcpt.Content
		if strings.TrimSpace(content) == "" {
			content = input.Payload
		}
		msg := &model.QueuedMessage{
			RequestID:   req.ID,
			RecipientID: rcpt.RecipientID,
			Channel:     rcpt.Channel,
			Content:     content,
			Priority:    QueuePriorityFor(req.Priority),
		}
		if input.ScheduledAt != nil {
			msg.ScheduledAt = *input.ScheduledAt
		}
		msgs = append(msgs, msg)
	}

	count, err := s.QueueRepo.BulkEnqueue(msgs)
	if err != nil {
		// The request exists but nothing got queued; surface it as failed so
		// it does not sit Pending forever.
		if _, ferr := s.RequestRepo.MarkFailed(req.ID, fmt.Sprintf("expansion failed: %v", err)); ferr != nil {
			slog.Error("failed to mark request failed after expansion error",
				slog.String("request_id", req.ID), slog.Any("error", ferr))
		}
		return nil, err
	}

	if _, err := s.RequestRepo.MarkProcessing(req.ID); err != nil {
		return nil, err
	}
	req.Status = model.RequestStatusProcessing

	result := &SubmitResult{Request: req, MessagesQueued: count}
	for _, m := range msgs {
		result.MessageIDs = append(result.MessageIDs, m.ID)
	}
	s.appendRequestEvent(req.ID, model.EventStatusChanged, fmt.Sprintf(`{"status":"Processing","messages":%d}`, count))
	return result, nil
}

// Cancel transitions the request to Cancelled and cascades to its still-Queued
// messages. Messages already claimed by a worker finish their current attempt.
func (s *NotificationService) Cancel(id string) (bool, error) {
	ok, err := s.RequestRepo.Cancel(id)
	if err != nil || !ok {
		return ok, err
	}

	failed, err := s.QueueRepo.FailQueuedByRequest(id)
	if err != nil {
		slog.Error("cancel cascade failed", slog.String("request_id", id), slog.Any("error", err))
	}
	s.appendRequestEvent(id, model.EventStatusChanged, fmt.Sprintf(`{"status":"Cancelled","messages_failed":%d}`, failed))
	return true, nil
}

func (s *NotificationService) MarkCompleted(id string) (bool, error) {
	ok, err := s.RequestRepo.MarkCompleted(id)
	if ok {
		s.appendRequestEvent(id, model.EventStatusChanged, `{"status":"Completed"}`)
	}
	return ok, err
}

func (s *NotificationService) MarkFailed(id, errorDetails string) (bool, error) {
	ok, err := s.RequestRepo.MarkFailed(id, errorDetails)
	if ok {
		s.appendRequestEvent(id, model.EventStatusChanged, `{"status":"Failed"}`)
	}
	return ok, err
}

func (s *NotificationService) Get(id string) (*model.NotificationRequest, error) {
	return s.RequestRepo.GetByID(id)
}

func (s *NotificationService) List(filter repository.RequestFilter, page model.Page) ([]*model.NotificationRequest, model.Pagination, error) {
	reqs, total, err := s.RequestRepo.Query(filter, page)
	if err != nil {
		return nil, model.Pagination{}, err
	}
	return reqs, model.NewPagination(page, total), nil
}

// appendRequestEvent is best-effort: audit failures never abort the operation
// they describe.
func (s *NotificationService) appendRequestEvent(requestID, eventType, data string) {
	_, err := s.LogRepo.Append(&model.DeliveryLog{
		EntityType: "NotificationRequest",
		EntityID:   requestID,
		EventType:  eventType,
		EventData:  data,
	})
	if err != nil {
		slog.Warn("failed to append request event", slog.String("request_id", requestID), slog.Any("error", err))
	}
}

// QueuePriorityFor maps a request priority band to the integer queue priority.
func QueuePriorityFor(priority string) int {
	switch priority {
	case model.PriorityHigh:
		return queuePriorityHigh
	case model.PriorityLow:
		return queuePriorityLow
	default:
		return queuePriorityNormal
	}
}
