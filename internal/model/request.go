// internal/model/request.go
package model

import "time"

// RequestStatus values for notification_requests.
const (
	RequestStatusPending    = "Pending"
	RequestStatusProcessing = "Processing"
	RequestStatusCompleted  = "Completed"
	RequestStatusFailed     = "Failed"
	RequestStatusCancelled  = "Cancelled"
)

// Request priorities. Anything else sorts after Low.
const (
	PriorityHigh   = "High"
	PriorityNormal = "Normal"
	PriorityLow    = "Low"
)

type NotificationRequest struct {
	ID            string     `db:"id" json:"id"`
	ApplicationID string     `db:"application_id" json:"application_id"`
	TemplateID    string     `db:"template_id" json:"template_id"`
	RequestData   string     `db:"request_data" json:"request_data"`
	Priority      string     `db:"priority" json:"priority"`
	Status        string     `db:"status" json:"status"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt     *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CallbackURL   string     `db:"callback_url" json:"callback_url,omitempty"`
	RequestedBy   string     `db:"requested_by" json:"requested_by,omitempty"`
}

// IsTerminal reports whether the request status permits no further transitions.
func (r *NotificationRequest) IsTerminal() bool {
	return IsTerminalRequestStatus(r.Status)
}

func IsTerminalRequestStatus(status string) bool {
	switch status {
	case RequestStatusCompleted, RequestStatusFailed, RequestStatusCancelled:
		return true
	}
	return false
}
