// internal/repository/log_repository.go
package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/agrovia/agrinotify-backend/internal/model"
)

type LogFilter struct {
	DeliveryID  *int64
	EntityType  string
	EntityID    string
	EventType   string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type LogRepositoryInterface interface {
	Append(entry *model.DeliveryLog) (*model.DeliveryLog, error)
	Query(filter LogFilter, page model.Page) ([]*model.DeliveryLog, int, error)
	GetByEventType(deliveryID int64, eventType string) ([]*model.DeliveryLog, error)
	Archive(cutoff time.Time) (int64, error)
	GetFrequent(period time.Duration, eventTypes []string) ([]*model.ErrorFrequency, error)
}

type LogRepository struct {
	DB *sql.DB
}

const logColumns = `id, delivery_id, entity_type, entity_id, event_type, event_data, actor_id, created_at`

func scanLog(row interface{ Scan(...any) error }) (*model.DeliveryLog, error) {
	var l model.DeliveryLog
	var deliveryID sql.NullInt64
	err := row.Scan(&l.ID, &deliveryID, &l.EntityType, &l.EntityID, &l.EventType, &l.EventData, &l.ActorID, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	if deliveryID.Valid {
		l.DeliveryID = &deliveryID.Int64
	}
	return &l, nil
}

// Append writes one immutable audit row. There is no update path.
func (r *LogRepository) Append(entry *model.DeliveryLog) (*model.DeliveryLog, error) {
	entry.CreatedAt = time.Now().UTC()
	var deliveryID any
	if entry.DeliveryID != nil {
		deliveryID = *entry.DeliveryID
	}
	query := `
		INSERT INTO delivery_logs (delivery_id, entity_type, entity_id, event_type, event_data, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.DB.QueryRow(query,
		deliveryID, entry.EntityType, entry.EntityID, entry.EventType, entry.EventData, entry.ActorID, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return nil, fmt.Errorf("append delivery log: %w", err)
	}
	return entry, nil
}

func (r *LogRepository) Query(filter LogFilter, page model.Page) ([]*model.DeliveryLog, int, error) {
	wb := newWhereBuilder()
	if filter.DeliveryID != nil {
		wb.Add("delivery_id = ?", *filter.DeliveryID)
	}
	wb.AddIf(filter.EntityType != "", "entity_type = ?", filter.EntityType).
		AddIf(filter.EntityID != "", "entity_id = ?", filter.EntityID).
		AddIf(filter.EventType != "", "event_type = ?", filter.EventType).
		AddIf(filter.CreatedFrom != nil, "created_at >= ?", filter.CreatedFrom).
		AddIf(filter.CreatedTo != nil, "created_at <= ?", filter.CreatedTo)

	page = page.Normalize()
	n := wb.NextPlaceholder()
	query := `SELECT ` + logColumns + ` FROM delivery_logs` + wb.Clause() +
		fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d OFFSET $%d", n, n+1)
	args := append(wb.Args(), page.Size, page.Offset())

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query delivery logs: %w", err)
	}
	defer rows.Close()

	logs := []*model.DeliveryLog{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan delivery log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM delivery_logs` + wb.Clause()
	if err := r.DB.QueryRow(countQuery, wb.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count delivery logs: %w", err)
	}
	return logs, total, nil
}

func (r *LogRepository) GetByEventType(deliveryID int64, eventType string) ([]*model.DeliveryLog, error) {
	query := `
		SELECT ` + logColumns + ` FROM delivery_logs
		WHERE delivery_id = $1 AND event_type = $2
		ORDER BY created_at ASC
	`
	rows, err := r.DB.Query(query, deliveryID, eventType)
	if err != nil {
		return nil, fmt.Errorf("get logs by event type: %w", err)
	}
	defer rows.Close()

	logs := []*model.DeliveryLog{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Archive copies rows past the cutoff into delivery_logs_archive and deletes
// them from the live table in one transaction.
func (r *LogRepository) Archive(cutoff time.Time) (int64, error) {
	tx, err := r.DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin archive: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO delivery_logs_archive (id, delivery_id, entity_type, entity_id, event_type, event_data, actor_id, created_at)
		SELECT id, delivery_id, entity_type, entity_id, event_type, event_data, actor_id, created_at
		FROM delivery_logs
		WHERE created_at < $1
		ON CONFLICT (id) DO NOTHING
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("copy logs to archive: %w", err)
	}
	copied, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(`DELETE FROM delivery_logs WHERE created_at < $1`, cutoff); err != nil {
		return 0, fmt.Errorf("delete archived logs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit archive: %w", err)
	}
	return copied, nil
}

// GetFrequent aggregates error-ish events over a recent period for dashboards.
func (r *LogRepository) GetFrequent(period time.Duration, eventTypes []string) ([]*model.ErrorFrequency, error) {
	if len(eventTypes) == 0 {
		eventTypes = []string{model.EventProviderError, model.EventDeliveryFailed, model.EventSystemError}
	}
	since := time.Now().UTC().Add(-period)

	wb := newWhereBuilder().Add("created_at >= ?", since)
	conds, args := wb.Clause(), wb.Args()

	// IN-list placeholders continue after the builder's.
	in := make([]string, len(eventTypes))
	for i, et := range eventTypes {
		in[i] = fmt.Sprintf("$%d", len(args)+i+1)
		args = append(args, et)
	}
	query := `
		SELECT event_type, COUNT(*), MAX(created_at)
		FROM delivery_logs` + conds + ` AND event_type IN (` + strings.Join(in, ", ") + `)
		GROUP BY event_type
		ORDER BY COUNT(*) DESC
	`
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query frequent errors: %w", err)
	}
	defer rows.Close()

	freqs := []*model.ErrorFrequency{}
	for rows.Next() {
		var f model.ErrorFrequency
		if err := rows.Scan(&f.ErrorType, &f.Count, &f.LastSeen); err != nil {
			return nil, err
		}
		freqs = append(freqs, &f)
	}
	return freqs, rows.Err()
}

var _ LogRepositoryInterface = (*LogRepository)(nil)
