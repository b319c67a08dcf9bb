// internal/repository/request_repository.go
package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/agrovia/agrinotify-backend/internal/errors"
	"github.com/agrovia/agrinotify-backend/internal/model"
)

type RequestFilter struct {
	ApplicationID string
	TemplateID    string
	Status        string
	Priority      string
	RequestedBy   string
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
}

type RequestRepositoryInterface interface {
	Create(req *model.NotificationRequest) error
	GetByID(id string) (*model.NotificationRequest, error)
	MarkProcessing(id string) (bool, error)
	MarkCompleted(id string) (bool, error)
	MarkFailed(id string, errorDetails string) (bool, error)
	Cancel(id string) (bool, error)
	UpdateStatus(id, status string) (bool, error)
	UpdatePriority(id, priority string) (bool, error)
	BulkUpdateStatus(ids []string, status string) (int64, error)
	BulkCancel(ids []string) (int64, error)
	GetExpired() ([]*model.NotificationRequest, error)
	Query(filter RequestFilter, page model.Page) ([]*model.NotificationRequest, int, error)
}

type RequestRepository struct {
	DB *sql.DB
}

const requestColumns = `id, application_id, template_id, request_data, priority, status, created_at, expires_at, callback_url, requested_by`

// Terminal statuses never transition again; every mutating statement repeats
// this guard in its WHERE clause so the invariant holds without a read first.
const nonTerminalGuard = `status IN ('Pending', 'Processing')`

func scanRequest(row interface{ Scan(...any) error }) (*model.NotificationRequest, error) {
	var req model.NotificationRequest
	var expiresAt sql.NullTime
	err := row.Scan(
		&req.ID, &req.ApplicationID, &req.TemplateID, &req.RequestData, &req.Priority,
		&req.Status, &req.CreatedAt, &expiresAt, &req.CallbackURL, &req.RequestedBy,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		req.ExpiresAt = &expiresAt.Time
	}
	return &req, nil
}

func (r *RequestRepository) Create(req *model.NotificationRequest) error {
	if strings.TrimSpace(req.ApplicationID) == "" {
		return appErrors.NewValidation("application_id", "must not be empty")
	}
	if strings.TrimSpace(req.TemplateID) == "" {
		return appErrors.NewValidation("template_id", "must not be empty")
	}
	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	}
	req.Status = model.RequestStatusPending
	req.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO notification_requests (id, application_id, template_id, request_data, priority, status, created_at, expires_at, callback_url, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.DB.Exec(query,
		req.ID, req.ApplicationID, req.TemplateID, req.RequestData, req.Priority,
		req.Status, req.CreatedAt, req.ExpiresAt, req.CallbackURL, req.RequestedBy,
	)
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	return nil
}

func (r *RequestRepository) GetByID(id string) (*model.NotificationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM notification_requests WHERE id = $1`
	req, err := scanRequest(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get notification request: %w", err)
	}
	return req, nil
}

func (r *RequestRepository) MarkProcessing(id string) (bool, error) {
	return r.execBool(`UPDATE notification_requests SET status = 'Processing' WHERE id = $1 AND status = 'Pending'`, id)
}

func (r *RequestRepository) MarkCompleted(id string) (bool, error) {
	return r.execBool(`UPDATE notification_requests SET status = 'Completed' WHERE id = $1 AND `+nonTerminalGuard, id)
}

func (r *RequestRepository) MarkFailed(id string, errorDetails string) (bool, error) {
	if errorDetails == "" {
		return r.execBool(`UPDATE notification_requests SET status = 'Failed' WHERE id = $1 AND `+nonTerminalGuard, id)
	}

	tx, err := r.DB.Begin()
	if err != nil {
		return false, fmt.Errorf("begin mark failed: %w", err)
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRow(`SELECT request_data FROM notification_requests WHERE id = $1 AND `+nonTerminalGuard+` FOR UPDATE`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read request data for mark failed: %w", err)
	}

	merged := model.MergeIntoPayload(payload, "errorDetails", errorDetails)
	if _, err := tx.Exec(`UPDATE notification_requests SET status = 'Failed', request_data = $1 WHERE id = $2`, merged, id); err != nil {
		return false, fmt.Errorf("mark request failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit mark failed: %w", err)
	}
	return true, nil
}

// Cancel succeeds only out of Pending/Processing; a cancel on a terminal
// request is a conflict reported as false, keeping bulk cancels composable.
func (r *RequestRepository) Cancel(id string) (bool, error) {
	return r.execBool(`UPDATE notification_requests SET status = 'Cancelled' WHERE id = $1 AND `+nonTerminalGuard, id)
}

func (r *RequestRepository) UpdateStatus(id, status string) (bool, error) {
	return r.execBool(`UPDATE notification_requests SET status = $1 WHERE id = $2 AND `+nonTerminalGuard, status, id)
}

func (r *RequestRepository) UpdatePriority(id, priority string) (bool, error) {
	return r.execBool(`UPDATE notification_requests SET priority = $1 WHERE id = $2`, priority, id)
}

func (r *RequestRepository) BulkUpdateStatus(ids []string, status string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.DB.Exec(
		`UPDATE notification_requests SET status = $1 WHERE id = ANY($2) AND `+nonTerminalGuard,
		status, pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("bulk update status: %w", err)
	}
	return res.RowsAffected()
}

func (r *RequestRepository) BulkCancel(ids []string) (int64, error) {
	return r.BulkUpdateStatus(ids, model.RequestStatusCancelled)
}

// GetExpired returns non-terminal requests whose expiry has passed. Expiry is
// detected by this sweep, never enforced at write time.
func (r *RequestRepository) GetExpired() ([]*model.NotificationRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM notification_requests
		WHERE ` + nonTerminalGuard + ` AND expires_at IS NOT NULL AND expires_at < NOW()
		ORDER BY expires_at ASC
	`
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query expired requests: %w", err)
	}
	defer rows.Close()

	reqs := []*model.NotificationRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired request: %w", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func (r *RequestRepository) Query(filter RequestFilter, page model.Page) ([]*model.NotificationRequest, int, error) {
	wb := newWhereBuilder().
		AddIf(filter.ApplicationID != "", "application_id = ?", filter.ApplicationID).
		AddIf(filter.TemplateID != "", "template_id = ?", filter.TemplateID).
		AddIf(filter.Status != "", "status = ?", filter.Status).
		AddIf(filter.Priority != "", "priority = ?", filter.Priority).
		AddIf(filter.RequestedBy != "", "requested_by = ?", filter.RequestedBy).
		AddIf(filter.CreatedFrom != nil, "created_at >= ?", filter.CreatedFrom).
		AddIf(filter.CreatedTo != nil, "created_at <= ?", filter.CreatedTo)

	// High before Normal before Low, anything unrecognized last, newest first
	// inside a band.
	order := ` ORDER BY CASE priority
		WHEN 'High' THEN 0
		WHEN 'Normal' THEN 1
		WHEN 'Low' THEN 2
		ELSE 3 END, created_at DESC`

	page = page.Normalize()
	n := wb.NextPlaceholder()
	query := `SELECT ` + requestColumns + ` FROM notification_requests` + wb.Clause() + order +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", n, n+1)
	args := append(wb.Args(), page.Size, page.Offset())

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query notification requests: %w", err)
	}
	defer rows.Close()

	reqs := []*model.NotificationRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan notification request: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM notification_requests` + wb.Clause()
	if err := r.DB.QueryRow(countQuery, wb.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notification requests: %w", err)
	}
	return reqs, total, nil
}

func (r *RequestRepository) execBool(query string, args ...any) (bool, error) {
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

var _ RequestRepositoryInterface = (*RequestRepository)(nil)
