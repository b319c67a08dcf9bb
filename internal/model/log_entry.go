// internal/model/log_entry.go
package model

import "time"

// Event types appended to the delivery log. The column is free-form text;
// these are the values the core itself writes.
const (
	EventStatusChanged    = "StatusChanged"
	EventProviderResponse = "ProviderResponse"
	EventProviderError    = "ProviderError"
	EventDeliveryAttempt  = "DeliveryAttempt"
	EventDeliveryFailed   = "DeliveryFailed"
	EventSystemError      = "SystemError"
)

type DeliveryLog struct {
	ID         int64     `db:"id" json:"id"`
	DeliveryID *int64    `db:"delivery_id" json:"delivery_id,omitempty"`
	EntityType string    `db:"entity_type" json:"entity_type,omitempty"`
	EntityID   string    `db:"entity_id" json:"entity_id,omitempty"`
	EventType  string    `db:"event_type" json:"event_type"`
	EventData  string    `db:"event_data" json:"event_data"`
	ActorID    string    `db:"actor_id" json:"actor_id,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ErrorFrequency is one row of the GetFrequent aggregation.
type ErrorFrequency struct {
	ErrorType string    `json:"error_type"`
	Count     int       `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
}
