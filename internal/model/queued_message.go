// internal/model/queued_message.go
package model

import "time"

// QueueStatus values for queued_messages.
const (
	QueueStatusQueued     = "Queued"
	QueueStatusProcessing = "Processing"
	QueueStatusCompleted  = "Completed"
	QueueStatusFailed     = "Failed"
)

type QueuedMessage struct {
	ID          int64      `db:"id" json:"id"`
	RequestID   string     `db:"request_id" json:"request_id"`
	RecipientID string     `db:"recipient_id" json:"recipient_id"`
	Channel     string     `db:"channel" json:"channel"` // push, sms, email, amqp, webhook
	Content     string     `db:"content" json:"content"`
	Priority    int        `db:"priority" json:"priority"`
	Status      string     `db:"status" json:"status"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduled_at"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// QueueStatusSummary is the operational snapshot returned by GetStatusSummary.
type QueueStatusSummary struct {
	QueuedCount     int            `json:"queued_count"`
	ProcessingCount int            `json:"processing_count"`
	FailedCount     int            `json:"failed_count"`
	CountByChannel  map[string]int `json:"count_by_channel"`
	CountByPriority map[int]int    `json:"count_by_priority"`
}
