// internal/repository/queue_repository.go
package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	appErrors "github.com/agrovia/agrinotify-backend/internal/errors"
	"github.com/agrovia/agrinotify-backend/internal/model"
)

// QueueFilter narrows Query results. Zero values mean "no filter".
type QueueFilter struct {
	RequestID         string
	RecipientID       string
	Channel           string
	Status            string
	CreatedFrom       *time.Time
	CreatedTo         *time.Time
	HighPriorityFirst bool
}

type QueueRepositoryInterface interface {
	Enqueue(msg *model.QueuedMessage) (*model.QueuedMessage, error)
	BulkEnqueue(msgs []*model.QueuedMessage) (int, error)
	DequeueNext() (*model.QueuedMessage, error)
	GetByID(id int64) (*model.QueuedMessage, error)
	Requeue(id int64) (bool, error)
	MarkProcessing(id int64) (bool, error)
	MarkCompleted(id int64) (bool, error)
	MarkFailed(id int64, errorDetails string) (bool, error)
	FailQueuedByRequest(requestID string) (int64, error)
	UpdatePriority(id int64, priority int) (bool, error)
	PromotePriority(id int64) (bool, error)
	Query(filter QueueFilter, page model.Page) ([]*model.QueuedMessage, int, error)
	RescheduleStale(olderThan time.Duration, fromStatus string) (int64, error)
	PurgeProcessed(olderThan time.Time) (int64, error)
	GetStatusSummary() (*model.QueueStatusSummary, error)
}

type QueueRepository struct {
	DB *sql.DB
}

const queuedMessageColumns = `id, request_id, recipient_id, channel, content, priority, status, scheduled_at, created_at, processed_at`

func scanQueuedMessage(row interface{ Scan(...any) error }) (*model.QueuedMessage, error) {
	var m model.QueuedMessage
	var processedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.RequestID, &m.RecipientID, &m.Channel, &m.Content,
		&m.Priority, &m.Status, &m.ScheduledAt, &m.CreatedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		m.ProcessedAt = &processedAt.Time
	}
	return &m, nil
}

func validateQueuedMessage(msg *model.QueuedMessage) error {
	if strings.TrimSpace(msg.RecipientID) == "" {
		return appErrors.NewValidation("recipient_id", "must not be empty")
	}
	if strings.TrimSpace(msg.Channel) == "" {
		return appErrors.NewValidation("channel", "must not be empty")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return appErrors.NewValidation("content", "must not be empty")
	}
	return nil
}

func (r *QueueRepository) Enqueue(msg *model.QueuedMessage) (*model.QueuedMessage, error) {
	if err := validateQueuedMessage(msg); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if msg.ScheduledAt.IsZero() {
		msg.ScheduledAt = now
	}
	msg.Status = model.QueueStatusQueued
	msg.CreatedAt = now

	query := `
		INSERT INTO queued_messages (request_id, recipient_id, channel, content, priority, status, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := r.DB.QueryRow(query,
		msg.RequestID, msg.RecipientID, msg.Channel, msg.Content,
		msg.Priority, msg.Status, msg.ScheduledAt, msg.CreatedAt,
	).Scan(&msg.ID)
	if err != nil {
		return nil, fmt.Errorf("enqueue message: %w", err)
	}
	return msg, nil
}

// BulkEnqueue inserts all messages in one transaction. It is all-or-nothing:
// the first invalid message or insert failure rolls the whole batch back.
func (r *QueueRepository) BulkEnqueue(msgs []*model.QueuedMessage) (int, error) {
	for _, msg := range msgs {
		if err := validateQueuedMessage(msg); err != nil {
			return 0, err
		}
	}

	tx, err := r.DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin bulk enqueue: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := `
		INSERT INTO queued_messages (request_id, recipient_id, channel, content, priority, status, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	for _, msg := range msgs {
		if msg.ScheduledAt.IsZero() {
			msg.ScheduledAt = now
		}
		msg.Status = model.QueueStatusQueued
		msg.CreatedAt = now
		if err := tx.QueryRow(query,
			msg.RequestID, msg.RecipientID, msg.Channel, msg.Content,
			msg.Priority, msg.Status, msg.ScheduledAt, msg.CreatedAt,
		).Scan(&msg.ID); err != nil {
			return 0, fmt.Errorf("bulk enqueue message for %s: %w", msg.RecipientID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk enqueue: %w", err)
	}
	return len(msgs), nil
}

// DequeueNext claims the single most urgent eligible row: highest priority
// first, oldest first within a priority band. Claim and status flip happen in
// one statement so concurrent workers can never see the same row twice;
// SKIP LOCKED keeps racing callers from serializing on each other.
func (r *QueueRepository) DequeueNext() (*model.QueuedMessage, error) {
	query := `
		UPDATE queued_messages
		SET status = 'Processing', processed_at = NOW()
		WHERE id = (
			SELECT id FROM queued_messages
			WHERE status = 'Queued' AND scheduled_at <= NOW()
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queuedMessageColumns

	msg, err := scanQueuedMessage(r.DB.QueryRow(query))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue next: %w", err)
	}
	return msg, nil
}

func (r *QueueRepository) GetByID(id int64) (*model.QueuedMessage, error) {
	query := `SELECT ` + queuedMessageColumns + ` FROM queued_messages WHERE id = $1`
	msg, err := scanQueuedMessage(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get queued message: %w", err)
	}
	return msg, nil
}

// Requeue puts a row back in line with a priority bump so repeatedly requeued
// messages do not starve behind fresh high-priority traffic.
func (r *QueueRepository) Requeue(id int64) (bool, error) {
	query := `
		UPDATE queued_messages
		SET status = 'Queued', processed_at = NULL, priority = priority + 1
		WHERE id = $1
	`
	return r.execBool(query, id)
}

func (r *QueueRepository) MarkProcessing(id int64) (bool, error) {
	return r.execBool(`UPDATE queued_messages SET status = 'Processing', processed_at = NOW() WHERE id = $1`, id)
}

func (r *QueueRepository) MarkCompleted(id int64) (bool, error) {
	return r.execBool(`UPDATE queued_messages SET status = 'Completed', processed_at = NOW() WHERE id = $1`, id)
}

// MarkFailed flips the row to Failed and, when errorDetails is non-empty,
// merges it into the opaque content payload under the errorDetails key.
func (r *QueueRepository) MarkFailed(id int64, errorDetails string) (bool, error) {
	if errorDetails == "" {
		return r.execBool(`UPDATE queued_messages SET status = 'Failed', processed_at = NOW() WHERE id = $1`, id)
	}

	tx, err := r.DB.Begin()
	if err != nil {
		return false, fmt.Errorf("begin mark failed: %w", err)
	}
	defer tx.Rollback()

	var content string
	err = tx.QueryRow(`SELECT content FROM queued_messages WHERE id = $1 FOR UPDATE`, id).Scan(&content)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read content for mark failed: %w", err)
	}

	merged := model.MergeIntoPayload(content, "errorDetails", errorDetails)
	_, err = tx.Exec(`UPDATE queued_messages SET status = 'Failed', processed_at = NOW(), content = $1 WHERE id = $2`, merged, id)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit mark failed: %w", err)
	}
	return true, nil
}

// FailQueuedByRequest fails every still-Queued sibling of a request. Used by
// the cascade when a request is cancelled; rows already claimed by a worker
// finish their current attempt untouched.
func (r *QueueRepository) FailQueuedByRequest(requestID string) (int64, error) {
	res, err := r.DB.Exec(`
		UPDATE queued_messages
		SET status = 'Failed', processed_at = NOW()
		WHERE request_id = $1 AND status = 'Queued'
	`, requestID)
	if err != nil {
		return 0, fmt.Errorf("fail queued by request: %w", err)
	}
	return res.RowsAffected()
}

func (r *QueueRepository) UpdatePriority(id int64, priority int) (bool, error) {
	return r.execBool(`UPDATE queued_messages SET priority = $1 WHERE id = $2`, priority, id)
}

func (r *QueueRepository) PromotePriority(id int64) (bool, error) {
	return r.execBool(`UPDATE queued_messages SET priority = priority + 1 WHERE id = $1`, id)
}

func (r *QueueRepository) Query(filter QueueFilter, page model.Page) ([]*model.QueuedMessage, int, error) {
	wb := newWhereBuilder().
		AddIf(filter.RequestID != "", "request_id = ?", filter.RequestID).
		AddIf(filter.RecipientID != "", "recipient_id = ?", filter.RecipientID).
		AddIf(filter.Channel != "", "channel = ?", filter.Channel).
		AddIf(filter.Status != "", "status = ?", filter.Status).
		AddIf(filter.CreatedFrom != nil, "created_at >= ?", filter.CreatedFrom).
		AddIf(filter.CreatedTo != nil, "created_at <= ?", filter.CreatedTo)

	order := " ORDER BY created_at ASC"
	if filter.HighPriorityFirst {
		order = " ORDER BY priority DESC, created_at ASC"
	}

	page = page.Normalize()
	n := wb.NextPlaceholder()
	query := `SELECT ` + queuedMessageColumns + ` FROM queued_messages` + wb.Clause() + order +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", n, n+1)
	args := append(wb.Args(), page.Size, page.Offset())

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query queued messages: %w", err)
	}
	defer rows.Close()

	msgs := []*model.QueuedMessage{}
	for rows.Next() {
		m, err := scanQueuedMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan queued message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM queued_messages` + wb.Clause()
	if err := r.DB.QueryRow(countQuery, wb.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queued messages: %w", err)
	}
	return msgs, total, nil
}

// RescheduleStale recovers rows a crashed worker left behind: anything stuck
// in fromStatus past the threshold goes back to Queued with a priority bump.
func (r *QueueRepository) RescheduleStale(olderThan time.Duration, fromStatus string) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := r.DB.Exec(`
		UPDATE queued_messages
		SET status = 'Queued', processed_at = NULL, priority = priority + 1
		WHERE status = $1 AND COALESCE(processed_at, created_at) < $2
	`, fromStatus, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reschedule stale: %w", err)
	}
	return res.RowsAffected()
}

func (r *QueueRepository) PurgeProcessed(olderThan time.Time) (int64, error) {
	res, err := r.DB.Exec(`
		DELETE FROM queued_messages
		WHERE status IN ('Completed', 'Failed') AND COALESCE(processed_at, created_at) < $1
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge processed: %w", err)
	}
	return res.RowsAffected()
}

func (r *QueueRepository) GetStatusSummary() (*model.QueueStatusSummary, error) {
	summary := &model.QueueStatusSummary{
		CountByChannel:  map[string]int{},
		CountByPriority: map[int]int{},
	}

	rows, err := r.DB.Query(`SELECT status, COUNT(*) FROM queued_messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue status summary: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch status {
		case model.QueueStatusQueued:
			summary.QueuedCount = count
		case model.QueueStatusProcessing:
			summary.ProcessingCount = count
		case model.QueueStatusFailed:
			summary.FailedCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	chRows, err := r.DB.Query(`SELECT channel, COUNT(*) FROM queued_messages GROUP BY channel`)
	if err != nil {
		return nil, fmt.Errorf("queue channel summary: %w", err)
	}
	defer chRows.Close()
	for chRows.Next() {
		var channel string
		var count int
		if err := chRows.Scan(&channel, &count); err != nil {
			return nil, err
		}
		summary.CountByChannel[channel] = count
	}
	if err := chRows.Err(); err != nil {
		return nil, err
	}

	prRows, err := r.DB.Query(`SELECT priority, COUNT(*) FROM queued_messages GROUP BY priority`)
	if err != nil {
		return nil, fmt.Errorf("queue priority summary: %w", err)
	}
	defer prRows.Close()
	for prRows.Next() {
		var priority, count int
		if err := prRows.Scan(&priority, &count); err != nil {
			return nil, err
		}
		summary.CountByPriority[priority] = count
	}
	if err := prRows.Err(); err != nil {
		return nil, err
	}

	return summary, nil
}

func (r *QueueRepository) execBool(query string, args ...any) (bool, error) {
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

var _ QueueRepositoryInterface = (*QueueRepository)(nil)
