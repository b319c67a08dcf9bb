// internal/handler/request_handler.go
package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/agrovia/agrinotify-backend/internal/errors"
	"github.com/agrovia/agrinotify-backend/internal/model"
	"github.com/agrovia/agrinotify-backend/internal/repository"
	"github.com/agrovia/agrinotify-backend/internal/service"
)

// RequestHandler holds the dependencies for notification-request HTTP handlers
type RequestHandler struct {
	Service *service.NotificationService
}

func NewRequestHandler(svc *service.NotificationService) *RequestHandler {
	return &RequestHandler{Service: svc}
}

// SubmitHandler accepts a notification request and expands it into the queue
func (h *RequestHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	var input service.SubmitInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.Service.Submit(input)
	if err != nil {
		if appErrors.IsValidation(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to submit request: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

func (h *RequestHandler) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := h.Service.Get(id)
	if err != nil {
		http.Error(w, "failed to fetch request: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if req == nil {
		http.Error(w, "no such request", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// ListRequestsHandler returns a paginated, filterable list of requests
func (h *RequestHandler) ListRequestsHandler(w http.ResponseWriter, r *http.Request) {
	filter := repository.RequestFilter{
		ApplicationID: r.URL.Query().Get("application_id"),
		TemplateID:    r.URL.Query().Get("template_id"),
		Status:        r.URL.Query().Get("status"),
		Priority:      r.URL.Query().Get("priority"),
		RequestedBy:   r.URL.Query().Get("requested_by"),
		CreatedFrom:   parseTimeParam(r, "from"),
		CreatedTo:     parseTimeParam(r, "to"),
	}

	reqs, pagination, err := h.Service.List(filter, pageFromQuery(r))
	if err != nil {
		http.Error(w, "failed to fetch requests: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":       reqs,
		"pagination": pagination,
	})
}

func (h *RequestHandler) CancelRequestHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := h.Service.Cancel(id)
	if err != nil {
		http.Error(w, "failed to cancel request: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "already in terminal state", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "status": model.RequestStatusCancelled})
}

// BulkCancelHandler cancels every listed request still in a non-terminal state
func (h *RequestHandler) BulkCancelHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	cancelled := 0
	for _, id := range body.IDs {
		ok, err := h.Service.Cancel(id)
		if err != nil {
			log.Println("bulk cancel: failed for", id, ":", err)
			continue
		}
		if ok {
			cancelled++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"requested": len(body.IDs),
		"cancelled": cancelled,
	})
}

func pageFromQuery(r *http.Request) model.Page {
	page := model.Page{Number: 1, Size: 20}
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page.Number = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps > 0 {
		page.Size = ps
	}
	return page
}

func parseTimeParam(r *http.Request, key string) *time.Time {
	val := r.URL.Query().Get(key)
	if val == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil
	}
	return &t
}
