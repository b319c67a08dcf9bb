// internal/model/delivery.go
package model

import "time"

// DeliveryStatus values for message_deliveries.
const (
	DeliveryStatusQueued    = "Queued"
	DeliveryStatusAttempted = "Attempted"
	DeliveryStatusDelivered = "Delivered"
	DeliveryStatusFailed    = "Failed"
)

type MessageDelivery struct {
	ID                int64      `db:"id" json:"id"`
	QueueID           *int64     `db:"queue_id" json:"queue_id,omitempty"`
	RequestID         string     `db:"request_id" json:"request_id"`
	RecipientID       string     `db:"recipient_id" json:"recipient_id"`
	ProviderID        string     `db:"provider_id" json:"provider_id"`
	Channel           string     `db:"channel" json:"channel"`
	Content           string     `db:"content" json:"content"`
	Status            string     `db:"status" json:"status"`
	AttemptCount      int        `db:"attempt_count" json:"attempt_count"`
	Permanent         bool       `db:"permanent" json:"permanent"`
	LastAttemptAt     *time.Time `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	DeliveredAt       *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ProviderResponse  string     `db:"provider_response" json:"provider_response,omitempty"`
	ProviderMessageID string     `db:"provider_message_id" json:"provider_message_id,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

func IsTerminalDeliveryStatus(status string) bool {
	return status == DeliveryStatusDelivered || status == DeliveryStatusFailed
}
