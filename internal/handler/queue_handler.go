// internal/handler/queue_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agrovia/agrinotify-backend/internal/repository"
)

// QueueHandler exposes the queue, delivery, and log stores for operators.
type QueueHandler struct {
	QueueRepo    repository.QueueRepositoryInterface
	DeliveryRepo repository.DeliveryRepositoryInterface
	LogRepo      repository.LogRepositoryInterface
}

func (h *QueueHandler) ListQueueHandler(w http.ResponseWriter, r *http.Request) {
	filter := repository.QueueFilter{
		RequestID:         r.URL.Query().Get("request_id"),
		RecipientID:       r.URL.Query().Get("recipient_id"),
		Channel:           r.URL.Query().Get("channel"),
		Status:            r.URL.Query().Get("status"),
		CreatedFrom:       parseTimeParam(r, "from"),
		CreatedTo:         parseTimeParam(r, "to"),
		HighPriorityFirst: r.URL.Query().Get("high_priority_first") == "true",
	}

	msgs, total, err := h.QueueRepo.Query(filter, pageFromQuery(r))
	if err != nil {
		http.Error(w, "failed to fetch queue: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  msgs,
		"total": total,
	})
}

func (h *QueueHandler) QueueSummaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.QueueRepo.GetStatusSummary()
	if err != nil {
		http.Error(w, "failed to fetch summary: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (h *QueueHandler) RequeueHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	ok, err := h.QueueRepo.Requeue(id)
	if err != nil {
		http.Error(w, "failed to requeue: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no such message", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *QueueHandler) PromoteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	ok, err := h.QueueRepo.PromotePriority(id)
	if err != nil {
		http.Error(w, "failed to promote: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no such message", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *QueueHandler) ListDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	filter := repository.DeliveryFilter{
		RequestID:   r.URL.Query().Get("request_id"),
		RecipientID: r.URL.Query().Get("recipient_id"),
		ProviderID:  r.URL.Query().Get("provider_id"),
		Channel:     r.URL.Query().Get("channel"),
		Status:      r.URL.Query().Get("status"),
		CreatedFrom: parseTimeParam(r, "from"),
		CreatedTo:   parseTimeParam(r, "to"),
	}

	deliveries, total, err := h.DeliveryRepo.Query(filter, pageFromQuery(r))
	if err != nil {
		http.Error(w, "failed to fetch deliveries: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  deliveries,
		"total": total,
	})
}

func (h *QueueHandler) DeliveryDistributionHandler(w http.ResponseWriter, r *http.Request) {
	dist, err := h.DeliveryRepo.GetStatusDistribution()
	if err != nil {
		http.Error(w, "failed to fetch distribution: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dist)
}

func (h *QueueHandler) RetryDeliveryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid delivery id", http.StatusBadRequest)
		return
	}

	ok, err := h.DeliveryRepo.RetryDelivery(id)
	if err != nil {
		http.Error(w, "failed to retry delivery: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no such delivery", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReassignProviderHandler moves a delivery to another provider and resets it
// to Queued; used when a provider is pulled from rotation.
func (h *QueueHandler) ReassignProviderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid delivery id", http.StatusBadRequest)
		return
	}

	var body struct {
		ProviderID string `json:"provider_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ProviderID == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	ok, err := h.DeliveryRepo.UpdateProviderForDelivery(id, body.ProviderID)
	if err != nil {
		http.Error(w, "failed to reassign provider: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no such delivery", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *QueueHandler) ListLogsHandler(w http.ResponseWriter, r *http.Request) {
	filter := repository.LogFilter{
		EntityType:  r.URL.Query().Get("entity_type"),
		EntityID:    r.URL.Query().Get("entity_id"),
		EventType:   r.URL.Query().Get("event_type"),
		CreatedFrom: parseTimeParam(r, "from"),
		CreatedTo:   parseTimeParam(r, "to"),
	}
	if raw := r.URL.Query().Get("delivery_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filter.DeliveryID = &id
		}
	}

	logs, total, err := h.LogRepo.Query(filter, pageFromQuery(r))
	if err != nil {
		http.Error(w, "failed to fetch logs: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  logs,
		"total": total,
	})
}

// FrequentErrorsHandler aggregates recent error events for dashboards.
func (h *QueueHandler) FrequentErrorsHandler(w http.ResponseWriter, r *http.Request) {
	period := 24 * time.Hour
	if raw := r.URL.Query().Get("period"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			period = d
		}
	}

	freqs, err := h.LogRepo.GetFrequent(period, nil)
	if err != nil {
		http.Error(w, "failed to fetch frequent errors: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(freqs)
}
