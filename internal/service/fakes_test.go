package service_test

import (
	"sort"
	"sync"
	"time"

	appErrors "github.com/agrovia/agrinotify-backend/internal/errors"
	"github.com/agrovia/agrinotify-backend/internal/model"
	"github.com/agrovia/agrinotify-backend/internal/repository"
)

// In-memory fakes mirroring the repository contracts, including the claim
// atomicity and the terminal-state guards, so service logic can be exercised
// without a database.

type fakeQueueRepo struct {
	mu     sync.Mutex
	nextID int64
	msgs   map[int64]*model.QueuedMessage
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{msgs: map[int64]*model.QueuedMessage{}}
}

func (f *fakeQueueRepo) Enqueue(msg *model.QueuedMessage) (*model.QueuedMessage, error) {
	if msg.RecipientID == "" || msg.Channel == "" || msg.Content == "" {
		return nil, appErrors.NewValidation("message", "missing required field")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg.ID = f.nextID
	msg.Status = model.QueueStatusQueued
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ScheduledAt.IsZero() {
		msg.ScheduledAt = msg.CreatedAt
	}
	cp := *msg
	f.msgs[msg.ID] = &cp
	return msg, nil
}

func (f *fakeQueueRepo) BulkEnqueue(msgs []*model.QueuedMessage) (int, error) {
	for _, m := range msgs {
		if m.RecipientID == "" || m.Channel == "" || m.Content == "" {
			return 0, appErrors.NewValidation("message", "missing required field")
		}
	}
	for _, m := range msgs {
		if _, err := f.Enqueue(m); err != nil {
			return 0, err
		}
	}
	return len(msgs), nil
}

func (f *fakeQueueRepo) DequeueNext() (*model.QueuedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	var best *model.QueuedMessage
	for _, m := range f.msgs {
		if m.Status != model.QueueStatusQueued || m.ScheduledAt.After(now) {
			continue
		}
		if best == nil || claimBefore(m, best) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = model.QueueStatusProcessing
	t := now
	best.ProcessedAt = &t
	cp := *best
	return &cp, nil
}

// claimBefore orders a ahead of b: priority desc, createdAt asc, id asc.
func claimBefore(a, b *model.QueuedMessage) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (f *fakeQueueRepo) GetByID(id int64) (*model.QueuedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (f *fakeQueueRepo) Requeue(id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return false, nil
	}
	m.Status = model.QueueStatusQueued
	m.ProcessedAt = nil
	m.Priority++
	return true, nil
}

func (f *fakeQueueRepo) MarkProcessing(id int64) (bool, error) {
	return f.setStatus(id, model.QueueStatusProcessing, "")
}

func (f *fakeQueueRepo) MarkCompleted(id int64) (bool, error) {
	return f.setStatus(id, model.QueueStatusCompleted, "")
}

func (f *fakeQueueRepo) MarkFailed(id int64, errorDetails string) (bool, error) {
	return f.setStatus(id, model.QueueStatusFailed, errorDetails)
}

func (f *fakeQueueRepo) setStatus(id int64, status, errorDetails string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return false, nil
	}
	m.Status = status
	t := time.Now().UTC()
	m.ProcessedAt = &t
	if errorDetails != "" {
		m.Content = model.MergeIntoPayload(m.Content, "errorDetails", errorDetails)
	}
	return true, nil
}

func (f *fakeQueueRepo) FailQueuedByRequest(requestID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.msgs {
		if m.RequestID == requestID && m.Status == model.QueueStatusQueued {
			m.Status = model.QueueStatusFailed
			n++
		}
	}
	return n, nil
}

func (f *fakeQueueRepo) UpdatePriority(id int64, priority int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return false, nil
	}
	m.Priority = priority
	return true, nil
}

func (f *fakeQueueRepo) PromotePriority(id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return false, nil
	}
	m.Priority++
	return true, nil
}

func (f *fakeQueueRepo) Query(filter repository.QueueFilter, page model.Page) ([]*model.QueuedMessage, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*model.QueuedMessage{}
	for _, m := range f.msgs {
		if filter.RequestID != "" && m.RequestID != filter.RequestID {
			continue
		}
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		if filter.Channel != "" && m.Channel != filter.Channel {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if filter.HighPriorityFirst {
			return claimBefore(out[i], out[j])
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, len(out), nil
}

func (f *fakeQueueRepo) RescheduleStale(olderThan time.Duration, fromStatus string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var n int64
	for _, m := range f.msgs {
		if m.Status != fromStatus {
			continue
		}
		ref := m.CreatedAt
		if m.ProcessedAt != nil {
			ref = *m.ProcessedAt
		}
		if ref.Before(cutoff) {
			m.Status = model.QueueStatusQueued
			m.ProcessedAt = nil
			m.Priority++
			n++
		}
	}
	return n, nil
}

func (f *fakeQueueRepo) PurgeProcessed(olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, m := range f.msgs {
		if m.Status != model.QueueStatusCompleted && m.Status != model.QueueStatusFailed {
			continue
		}
		ref := m.CreatedAt
		if m.ProcessedAt != nil {
			ref = *m.ProcessedAt
		}
		if ref.Before(olderThan) {
			delete(f.msgs, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeQueueRepo) GetStatusSummary() (*model.QueueStatusSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &model.QueueStatusSummary{CountByChannel: map[string]int{}, CountByPriority: map[int]int{}}
	for _, m := range f.msgs {
		switch m.Status {
		case model.QueueStatusQueued:
			s.QueuedCount++
		case model.QueueStatusProcessing:
			s.ProcessingCount++
		case model.QueueStatusFailed:
			s.FailedCount++
		}
		s.CountByChannel[m.Channel]++
		s.CountByPriority[m.Priority]++
	}
	return s, nil
}

var _ repository.QueueRepositoryInterface = (*fakeQueueRepo)(nil)

type fakeDeliveryRepo struct {
	mu         sync.Mutex
	nextID     int64
	deliveries map[int64]*model.MessageDelivery
}

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{deliveries: map[int64]*model.MessageDelivery{}}
}

func (f *fakeDeliveryRepo) CreateDelivery(d *model.MessageDelivery) (*model.MessageDelivery, error) {
	if d.RecipientID == "" || d.ProviderID == "" {
		return nil, appErrors.NewValidation("delivery", "missing required field")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	d.ID = f.nextID
	d.Status = model.DeliveryStatusQueued
	d.AttemptCount = 0
	d.CreatedAt = time.Now().UTC()
	cp := *d
	f.deliveries[d.ID] = &cp
	return d, nil
}

func (f *fakeDeliveryRepo) GetByID(id int64) (*model.MessageDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDeliveryRepo) GetOpenByQueueID(queueID int64) (*model.MessageDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deliveries {
		if d.QueueID != nil && *d.QueueID == queueID && !model.IsTerminalDeliveryStatus(d.Status) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) MarkAttempted(id int64, providerResponse, providerMessageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return false, nil
	}
	d.Status = model.DeliveryStatusAttempted
	d.AttemptCount++
	t := time.Now().UTC()
	d.LastAttemptAt = &t
	d.ProviderResponse = providerResponse
	if providerMessageID != "" {
		d.ProviderMessageID = providerMessageID
	}
	return true, nil
}

func (f *fakeDeliveryRepo) MarkDelivered(id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return false, nil
	}
	if d.Status == model.DeliveryStatusDelivered {
		return true, nil
	}
	d.Status = model.DeliveryStatusDelivered
	t := time.Now().UTC()
	d.DeliveredAt = &t
	return true, nil
}

func (f *fakeDeliveryRepo) MarkFailed(id int64, reason string, permanent bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return false, nil
	}
	d.Status = model.DeliveryStatusFailed
	d.ProviderResponse = reason
	d.Permanent = permanent
	return true, nil
}

func (f *fakeDeliveryRepo) RetryDelivery(id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return false, nil
	}
	d.Status = model.DeliveryStatusQueued
	d.AttemptCount++
	return true, nil
}

func (f *fakeDeliveryRepo) UpdateProviderForDelivery(id int64, newProviderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return false, nil
	}
	d.ProviderID = newProviderID
	d.Status = model.DeliveryStatusQueued
	return true, nil
}

func (f *fakeDeliveryRepo) Query(filter repository.DeliveryFilter, page model.Page) ([]*model.MessageDelivery, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*model.MessageDelivery{}
	for _, d := range f.deliveries {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.RequestID != "" && d.RequestID != filter.RequestID {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (f *fakeDeliveryRepo) GetStatusDistribution() (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dist := map[string]int{}
	for _, d := range f.deliveries {
		dist[d.Status]++
	}
	return dist, nil
}

func (f *fakeDeliveryRepo) CountByStatus(status string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.deliveries {
		if d.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeDeliveryRepo) RetryFailedOlderThan(olderThan time.Duration, maxAttempts int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	queueIDs := []int64{}
	for _, d := range f.deliveries {
		if d.Status != model.DeliveryStatusFailed || d.Permanent || d.AttemptCount >= maxAttempts {
			continue
		}
		ref := d.CreatedAt
		if d.LastAttemptAt != nil {
			ref = *d.LastAttemptAt
		}
		if !ref.Before(cutoff) {
			continue
		}
		d.Status = model.DeliveryStatusQueued
		if d.QueueID != nil {
			queueIDs = append(queueIDs, *d.QueueID)
		}
	}
	return queueIDs, nil
}

func (f *fakeDeliveryRepo) CleanupOlderThan(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, d := range f.deliveries {
		if model.IsTerminalDeliveryStatus(d.Status) && d.CreatedAt.Before(cutoff) {
			delete(f.deliveries, id)
			n++
		}
	}
	return n, nil
}

var _ repository.DeliveryRepositoryInterface = (*fakeDeliveryRepo)(nil)

type fakeRequestRepo struct {
	mu       sync.Mutex
	requests map[string]*model.NotificationRequest
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{requests: map[string]*model.NotificationRequest{}}
}

func (f *fakeRequestRepo) Create(req *model.NotificationRequest) error {
	if req.ApplicationID == "" || req.TemplateID == "" {
		return appErrors.NewValidation("request", "missing required field")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	req.Status = model.RequestStatusPending
	req.CreatedAt = time.Now().UTC()
	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	}
	cp := *req
	f.requests[req.ID] = &cp
	return nil
}

func (f *fakeRequestRepo) GetByID(id string) (*model.NotificationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRequestRepo) transition(id, to string, fromPendingOnly bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return false, nil
	}
	if model.IsTerminalRequestStatus(r.Status) {
		return false, nil
	}
	if fromPendingOnly && r.Status != model.RequestStatusPending {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (f *fakeRequestRepo) MarkProcessing(id string) (bool, error) {
	return f.transition(id, model.RequestStatusProcessing, true)
}

func (f *fakeRequestRepo) MarkCompleted(id string) (bool, error) {
	return f.transition(id, model.RequestStatusCompleted, false)
}

func (f *fakeRequestRepo) MarkFailed(id string, errorDetails string) (bool, error) {
	f.mu.Lock()
	r, ok := f.requests[id]
	if ok && errorDetails != "" && !model.IsTerminalRequestStatus(r.Status) {
		r.RequestData = model.MergeIntoPayload(r.RequestData, "errorDetails", errorDetails)
	}
	f.mu.Unlock()
	return f.transition(id, model.RequestStatusFailed, false)
}

func (f *fakeRequestRepo) Cancel(id string) (bool, error) {
	return f.transition(id, model.RequestStatusCancelled, false)
}

func (f *fakeRequestRepo) UpdateStatus(id, status string) (bool, error) {
	return f.transition(id, status, false)
}

func (f *fakeRequestRepo) UpdatePriority(id, priority string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return false, nil
	}
	r.Priority = priority
	return true, nil
}

func (f *fakeRequestRepo) BulkUpdateStatus(ids []string, status string) (int64, error) {
	var n int64
	for _, id := range ids {
		ok, _ := f.transition(id, status, false)
		if ok {
			n++
		}
	}
	return n, nil
}

func (f *fakeRequestRepo) BulkCancel(ids []string) (int64, error) {
	return f.BulkUpdateStatus(ids, model.RequestStatusCancelled)
}

func (f *fakeRequestRepo) GetExpired() ([]*model.NotificationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	out := []*model.NotificationRequest{}
	for _, r := range f.requests {
		if model.IsTerminalRequestStatus(r.Status) {
			continue
		}
		if r.ExpiresAt != nil && r.ExpiresAt.Before(now) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRequestRepo) Query(filter repository.RequestFilter, page model.Page) ([]*model.NotificationRequest, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*model.NotificationRequest{}
	for _, r := range f.requests {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, len(out), nil
}

var _ repository.RequestRepositoryInterface = (*fakeRequestRepo)(nil)

type fakeLogRepo struct {
	mu      sync.Mutex
	nextID  int64
	entries []*model.DeliveryLog
}

func newFakeLogRepo() *fakeLogRepo { return &fakeLogRepo{} }

func (f *fakeLogRepo) Append(entry *model.DeliveryLog) (*model.DeliveryLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	entry.ID = f.nextID
	entry.CreatedAt = time.Now().UTC()
	cp := *entry
	f.entries = append(f.entries, &cp)
	return entry, nil
}

func (f *fakeLogRepo) Query(filter repository.LogFilter, page model.Page) ([]*model.DeliveryLog, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*model.DeliveryLog{}
	for _, e := range f.entries {
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		if filter.DeliveryID != nil && (e.DeliveryID == nil || *e.DeliveryID != *filter.DeliveryID) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (f *fakeLogRepo) GetByEventType(deliveryID int64, eventType string) ([]*model.DeliveryLog, error) {
	logs, _, err := f.Query(repository.LogFilter{DeliveryID: &deliveryID, EventType: eventType}, model.Page{})
	return logs, err
}

func (f *fakeLogRepo) Archive(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.entries[:0]
	var n int64
	for _, e := range f.entries {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return n, nil
}

func (f *fakeLogRepo) GetFrequent(period time.Duration, eventTypes []string) ([]*model.ErrorFrequency, error) {
	return []*model.ErrorFrequency{}, nil
}

func (f *fakeLogRepo) countByEvent(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

var _ repository.LogRepositoryInterface = (*fakeLogRepo)(nil)
