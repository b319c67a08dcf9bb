// internal/repository/delivery_repository.go
package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	appErrors "github.com/agrovia/agrinotify-backend/internal/errors"
	"github.com/agrovia/agrinotify-backend/internal/model"
)

type DeliveryFilter struct {
	RequestID   string
	RecipientID string
	ProviderID  string
	Channel     string
	Status      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type DeliveryRepositoryInterface interface {
	CreateDelivery(d *model.MessageDelivery) (*model.MessageDelivery, error)
	GetByID(id int64) (*model.MessageDelivery, error)
	GetOpenByQueueID(queueID int64) (*model.MessageDelivery, error)
	MarkAttempted(id int64, providerResponse, providerMessageID string) (bool, error)
	MarkDelivered(id int64) (bool, error)
	MarkFailed(id int64, reason string, permanent bool) (bool, error)
	RetryDelivery(id int64) (bool, error)
	UpdateProviderForDelivery(id int64, newProviderID string) (bool, error)
	Query(filter DeliveryFilter, page model.Page) ([]*model.MessageDelivery, int, error)
	GetStatusDistribution() (map[string]int, error)
	CountByStatus(status string) (int, error)
	RetryFailedOlderThan(olderThan time.Duration, maxAttempts int) ([]int64, error)
	CleanupOlderThan(cutoff time.Time) (int64, error)
}

type DeliveryRepository struct {
	DB *sql.DB
}

const deliveryColumns = `id, queue_id, request_id, recipient_id, provider_id, channel, content, status,
	attempt_count, permanent, last_attempt_at, delivered_at, provider_response, provider_message_id, created_at`

func scanDelivery(row interface{ Scan(...any) error }) (*model.MessageDelivery, error) {
	var d model.MessageDelivery
	var queueID sql.NullInt64
	var lastAttemptAt, deliveredAt sql.NullTime
	err := row.Scan(
		&d.ID, &queueID, &d.RequestID, &d.RecipientID, &d.ProviderID, &d.Channel, &d.Content, &d.Status,
		&d.AttemptCount, &d.Permanent, &lastAttemptAt, &deliveredAt, &d.ProviderResponse, &d.ProviderMessageID, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if queueID.Valid {
		d.QueueID = &queueID.Int64
	}
	if lastAttemptAt.Valid {
		d.LastAttemptAt = &lastAttemptAt.Time
	}
	if deliveredAt.Valid {
		d.DeliveredAt = &deliveredAt.Time
	}
	return &d, nil
}

func (r *DeliveryRepository) CreateDelivery(d *model.MessageDelivery) (*model.MessageDelivery, error) {
	if strings.TrimSpace(d.RecipientID) == "" {
		return nil, appErrors.NewValidation("recipient_id", "must not be empty")
	}
	if strings.TrimSpace(d.ProviderID) == "" {
		return nil, appErrors.NewValidation("provider_id", "must not be empty")
	}
	d.Status = model.DeliveryStatusQueued
	d.AttemptCount = 0
	d.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO message_deliveries (queue_id, request_id, recipient_id, provider_id, channel, content, status, attempt_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	var queueID any
	if d.QueueID != nil {
		queueID = *d.QueueID
	}
	err := r.DB.QueryRow(query,
		queueID, d.RequestID, d.RecipientID, d.ProviderID, d.Channel, d.Content,
		d.Status, d.AttemptCount, d.CreatedAt,
	).Scan(&d.ID)
	if err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}
	return d, nil
}

func (r *DeliveryRepository) GetByID(id int64) (*model.MessageDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM message_deliveries WHERE id = $1`
	d, err := scanDelivery(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

// GetOpenByQueueID returns the non-terminal delivery row for a queue entry,
// if any. The dispatcher reuses it on redelivery so a queue entry keeps a
// single attempt-series row instead of sprouting one per retry.
func (r *DeliveryRepository) GetOpenByQueueID(queueID int64) (*model.MessageDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM message_deliveries
		WHERE queue_id = $1 AND status IN ('Queued', 'Attempted')
		ORDER BY created_at DESC
		LIMIT 1
	`
	d, err := scanDelivery(r.DB.QueryRow(query, queueID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get open delivery by queue id: %w", err)
	}
	return d, nil
}

func (r *DeliveryRepository) MarkAttempted(id int64, providerResponse, providerMessageID string) (bool, error) {
	query := `
		UPDATE message_deliveries
		SET status = 'Attempted', attempt_count = attempt_count + 1, last_attempt_at = NOW(),
		    provider_response = $1, provider_message_id = COALESCE(NULLIF($2, ''), provider_message_id)
		WHERE id = $3
	`
	return r.execBool(query, providerResponse, providerMessageID, id)
}

// MarkDelivered is idempotent: a second call on an already-Delivered row is a
// no-op success and delivered_at keeps the first call's timestamp.
func (r *DeliveryRepository) MarkDelivered(id int64) (bool, error) {
	res, err := r.DB.Exec(`
		UPDATE message_deliveries
		SET status = 'Delivered', delivered_at = NOW()
		WHERE id = $1 AND status <> 'Delivered'
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var status string
	err = r.DB.QueryRow(`SELECT status FROM message_deliveries WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check delivered status: %w", err)
	}
	return status == model.DeliveryStatusDelivered, nil
}

func (r *DeliveryRepository) MarkFailed(id int64, reason string, permanent bool) (bool, error) {
	query := `
		UPDATE message_deliveries
		SET status = 'Failed', provider_response = $1, permanent = $2
		WHERE id = $3
	`
	return r.execBool(query, reason, permanent, id)
}

// RetryDelivery marks intent to retry without creating a new row.
func (r *DeliveryRepository) RetryDelivery(id int64) (bool, error) {
	query := `
		UPDATE message_deliveries
		SET status = 'Queued', attempt_count = attempt_count + 1
		WHERE id = $1
	`
	return r.execBool(query, id)
}

// UpdateProviderForDelivery reassigns the delivery to another provider and
// resets it to Queued. Used when a provider is ejected from rotation.
func (r *DeliveryRepository) UpdateProviderForDelivery(id int64, newProviderID string) (bool, error) {
	query := `
		UPDATE message_deliveries
		SET provider_id = $1, status = 'Queued'
		WHERE id = $2
	`
	return r.execBool(query, newProviderID, id)
}

func (r *DeliveryRepository) Query(filter DeliveryFilter, page model.Page) ([]*model.MessageDelivery, int, error) {
	wb := newWhereBuilder().
		AddIf(filter.RequestID != "", "request_id = ?", filter.RequestID).
		AddIf(filter.RecipientID != "", "recipient_id = ?", filter.RecipientID).
		AddIf(filter.ProviderID != "", "provider_id = ?", filter.ProviderID).
		AddIf(filter.Channel != "", "channel = ?", filter.Channel).
		AddIf(filter.Status != "", "status = ?", filter.Status).
		AddIf(filter.CreatedFrom != nil, "created_at >= ?", filter.CreatedFrom).
		AddIf(filter.CreatedTo != nil, "created_at <= ?", filter.CreatedTo)

	page = page.Normalize()
	n := wb.NextPlaceholder()
	query := `SELECT ` + deliveryColumns + ` FROM message_deliveries` + wb.Clause() +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n, n+1)
	args := append(wb.Args(), page.Size, page.Offset())

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []*model.MessageDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM message_deliveries` + wb.Clause()
	if err := r.DB.QueryRow(countQuery, wb.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}
	return deliveries, total, nil
}

func (r *DeliveryRepository) GetStatusDistribution() (map[string]int, error) {
	rows, err := r.DB.Query(`SELECT status, COUNT(*) FROM message_deliveries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("delivery status distribution: %w", err)
	}
	defer rows.Close()

	dist := map[string]int{
		model.DeliveryStatusQueued:    0,
		model.DeliveryStatusAttempted: 0,
		model.DeliveryStatusDelivered: 0,
		model.DeliveryStatusFailed:    0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		dist[status] = count
	}
	return dist, rows.Err()
}

func (r *DeliveryRepository) CountByStatus(status string) (int, error) {
	var count int
	err := r.DB.QueryRow(`SELECT COUNT(*) FROM message_deliveries WHERE status = $1`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count deliveries by status: %w", err)
	}
	return count, nil
}

// RetryFailedOlderThan requeues Failed deliveries older than the threshold
// whose attempt budget is not yet spent. Permanently-rejected deliveries are
// excluded: they are dead letters for operator inspection. Returns the queue
// ids of the affected rows so the caller can requeue the originating messages;
// the two tables are deliberately not updated in one transaction.
func (r *DeliveryRepository) RetryFailedOlderThan(olderThan time.Duration, maxAttempts int) ([]int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := r.DB.Query(`
		UPDATE message_deliveries
		SET status = 'Queued'
		WHERE status = 'Failed'
		  AND permanent = FALSE
		  AND attempt_count < $1
		  AND COALESCE(last_attempt_at, created_at) < $2
		RETURNING queue_id
	`, maxAttempts, cutoff)
	if err != nil {
		return nil, fmt.Errorf("retry failed deliveries: %w", err)
	}
	defer rows.Close()

	queueIDs := []int64{}
	for rows.Next() {
		var queueID sql.NullInt64
		if err := rows.Scan(&queueID); err != nil {
			return nil, err
		}
		if queueID.Valid {
			queueIDs = append(queueIDs, queueID.Int64)
		}
	}
	return queueIDs, rows.Err()
}

func (r *DeliveryRepository) CleanupOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.DB.Exec(`
		DELETE FROM message_deliveries
		WHERE status IN ('Delivered', 'Failed') AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup deliveries: %w", err)
	}
	return res.RowsAffected()
}

func (r *DeliveryRepository) execBool(query string, args ...any) (bool, error) {
	res, err := r.DB.Exec(query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ DeliveryRepositoryInterface = (*DeliveryRepository)(nil)
