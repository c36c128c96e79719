package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tourplan/internal/buildinfo"
	"tourplan/internal/model"
	"tourplan/internal/store"
)

func listParams(r *http.Request) (cursor string, limit int) {
	q := r.URL.Query()
	cursor = q.Get("cursor")
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	return cursor, limit
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
		return
	}
	writeProblem(w, http.StatusInternalServerError, "storage error", err.Error(), r.URL.Path)
}

// GuestsHandler handles GET (list) and POST (create) on /v1/guests.
func (s *Server) GuestsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cursor, limit := listParams(r)
		items, next, err := s.Store.ListGuests(r.Context(), cursor, limit)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	case http.MethodPost:
		if !getPrincipal(r).CanWrite() {
			writeProblem(w, http.StatusForbidden, "forbidden", "role cannot create guests", r.URL.Path)
			return
		}
		var g model.Guest
		if !decodeBody(w, r, &g) {
			return
		}
		if err := validateGuest(g); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid guest", err.Error(), r.URL.Path)
			return
		}
		created, err := s.Store.CreateGuest(r.Context(), g)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

// GuestByIDHandler handles GET/PUT/DELETE on /v1/guests/{id}.
func (s *Server) GuestByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/guests/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		g, err := s.Store.GetGuest(r.Context(), id)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	case http.MethodPut:
		if !getPrincipal(r).CanWrite() {
			writeProblem(w, http.StatusForbidden, "forbidden", "role cannot update guests", r.URL.Path)
			return
		}
		var g model.Guest
		if !decodeBody(w, r, &g) {
			return
		}
		g.ID = id
		if err := validateGuest(g); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid guest", err.Error(), r.URL.Path)
			return
		}
		updated, err := s.Store.UpdateGuest(r.Context(), g)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if !getPrincipal(r).CanWrite() {
			writeProblem(w, http.StatusForbidden, "forbidden", "role cannot delete guests", r.URL.Path)
			return
		}
		if err := s.Store.DeleteGuest(r.Context(), id); err != nil {
			s.storeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

// VehiclesHandler handles GET (list) and POST (create) on /v1/vehicles.
func (s *Server) VehiclesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cursor, limit := listParams(r)
		items, next, err := s.Store.ListVehicles(r.Context(), cursor, limit)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	case http.MethodPost:
		if !getPrincipal(r).CanWrite() {
			writeProblem(w, http.StatusForbidden, "forbidden", "role cannot create vehicles", r.URL.Path)
			return
		}
		var v model.Vehicle
		if !decodeBody(w, r, &v) {
			return
		}
		if err := validateVehicle(v); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid vehicle", err.Error(), r.URL.Path)
			return
		}
		created, err := s.Store.CreateVehicle(r.Context(), v)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

// VehicleByIDHandler handles GET/PUT/DELETE on /v1/vehicles/{id}.
func (s *Server) VehicleByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/vehicles/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		v, err := s.Store.GetVehicle(r.Context(), id)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	case http.MethodPut:
		if !getPrincipal(r).CanWrite() {
			writeProblem(w, http.StatusForbidden, "forbidden", "role cannot update vehicles", r.URL.Path)
			return
		}
		var v model.Vehicle
		if !decodeBody(w, r, &v) {
			return
		}
		v.ID = id
		if err := validateVehicle(v); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid vehicle", err.Error(), r.URL.Path)
			return
		}
		updated, err := s.Store.UpdateVehicle(r.Context(), v)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if !getPrincipal(r).CanWrite() {
			writeProblem(w, http.StatusForbidden, "forbidden", "role cannot delete vehicles", r.URL.Path)
			return
		}
		if err := s.Store.DeleteVehicle(r.Context(), id); err != nil {
			s.storeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

// ToursHandler handles GET (list) and POST (create) on /v1/tours.
func (s *Server) ToursHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cursor, limit := listParams(r)
		items, next, err := s.Store.ListTours(r.Context(), cursor, limit)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	case http.MethodPost:
		if !getPrincipal(r).CanWrite() {
			writeProblem(w, http.StatusForbidden, "forbidden", "role cannot create tours", r.URL.Path)
			return
		}
		var t model.Tour
		if !decodeBody(w, r, &t) {
			return
		}
		if err := validateTour(t); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid tour", err.Error(), r.URL.Path)
			return
		}
		created, err := s.Store.CreateTour(r.Context(), t)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

// TourByIDHandler handles /v1/tours/{id} and /v1/tours/{id}/result.
func (s *Server) TourByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/tours/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		id := parts[0]
		switch r.Method {
		case http.MethodGet:
			t, err := s.Store.GetTour(r.Context(), id)
			if err != nil {
				s.storeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, t)
		case http.MethodPatch:
			if !getPrincipal(r).CanWrite() {
				writeProblem(w, http.StatusForbidden, "forbidden", "role cannot update tours", r.URL.Path)
				return
			}
			var body struct {
				Status model.TourStatus `json:"status"`
			}
			if !decodeBody(w, r, &body) {
				return
			}
			switch body.Status {
			case model.TourPlanned, model.TourOptimized, model.TourDeparted:
			default:
				writeProblem(w, http.StatusBadRequest, "invalid status", fmt.Sprintf("unknown tour status %q", body.Status), r.URL.Path)
				return
			}
			t, err := s.Store.UpdateTourStatus(r.Context(), id, body.Status)
			if err != nil {
				s.storeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, t)
		default:
			writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		}
	case len(parts) == 2 && parts[1] == "result" && r.Method == http.MethodGet:
		res, err := s.Store.GetResult(r.Context(), parts[0])
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	default:
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
	}
}

// OptimizeHandler accepts an optimization request and starts a background
// job. POST /v1/optimize/route -> 202 with the pending job status.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	if !getPrincipal(r).CanWrite() {
		writeProblem(w, http.StatusForbidden, "forbidden", "role cannot start optimizations", r.URL.Path)
		return
	}
	var req model.OptimizationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateOptimizationRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid request", err.Error(), r.URL.Path)
		return
	}
	status := s.Runner.Submit(req)
	writeJSON(w, http.StatusAccepted, status)
}

// OptimizeStatusHandler returns job progress. GET /v1/optimize/status/{jobId}.
func (s *Server) OptimizeStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/v1/optimize/status/")
	status, ok := s.Runner.Status(jobID)
	if !ok {
		writeProblem(w, http.StatusNotFound, "job not found", "", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// OptimizeResultHandler returns the finished result. GET /v1/optimize/result/{jobId}.
func (s *Server) OptimizeResultHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/v1/optimize/result/")
	status, ok := s.Runner.Status(jobID)
	if !ok {
		writeProblem(w, http.StatusNotFound, "job not found", "", r.URL.Path)
		return
	}
	if status.Status != model.JobCompleted {
		writeProblem(w, http.StatusBadRequest, "result not ready",
			fmt.Sprintf("job is %s", status.Status), r.URL.Path)
		return
	}
	if status.Result == nil {
		writeProblem(w, http.StatusInternalServerError, "result missing", "", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, status.Result)
}

// JobByIDHandler routes /v1/jobs/{id}/events/stream (SSE) and
// /v1/jobs/{id}/ws (WebSocket).
func (s *Server) JobByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 3 && parts[1] == "events" && parts[2] == "stream":
		s.jobEventsSSE(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "ws":
		s.jobEventsWS(w, r, parts[0])
	default:
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
	}
}

// jobEventsSSE streams job status updates as server-sent events. The
// current snapshot is sent first so late subscribers see state.
func (s *Server) jobEventsSSE(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "streaming unsupported", "", r.URL.Path)
		return
	}
	status, found := s.Runner.Status(jobID)
	if !found {
		writeProblem(w, http.StatusNotFound, "job not found", "", r.URL.Path)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(jobID)
	defer s.Broker.Unsubscribe(jobID, ch)

	writeSSE(w, JobEvent{Type: "job.status", Status: status})
	flusher.Flush()
	if status.Status == model.JobCompleted || status.Status == model.JobFailed {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, evt)
			flusher.Flush()
			if evt.Status.Status == model.JobCompleted || evt.Status.Status == model.JobFailed {
				return
			}
		}
	}
}

// SubscriptionsHandler handles GET (list) and POST (create) on /v1/subscriptions.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cursor, limit := listParams(r)
		items, next, err := s.Store.ListSubscriptions(r.Context(), cursor, limit)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	case http.MethodPost:
		if !getPrincipal(r).CanWrite() {
			writeProblem(w, http.StatusForbidden, "forbidden", "role cannot create subscriptions", r.URL.Path)
			return
		}
		var req model.SubscriptionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := validateSubscription(req); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

// SubscriptionByIDHandler handles DELETE on /v1/subscriptions/{id}.
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	if !getPrincipal(r).CanWrite() {
		writeProblem(w, http.StatusForbidden, "forbidden", "role cannot delete subscriptions", r.URL.Path)
		return
	}
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		s.storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebhookDeliveriesHandler lists the delivery queue for operators.
// GET /v1/admin/webhook-deliveries?status=pending|delivered|dead
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	if !getPrincipal(r).IsAdmin() {
		writeProblem(w, http.StatusForbidden, "forbidden", "admin required", r.URL.Path)
		return
	}
	cursor, limit := listParams(r)
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), r.URL.Query().Get("status"), cursor, limit)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// WebhookDeliveryRetryHandler requeues a delivery.
// POST /v1/admin/webhook-deliveries/{id}/retry
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/")
	id, ok := strings.CutSuffix(rest, "/retry")
	if !ok || id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	if !getPrincipal(r).IsAdmin() {
		writeProblem(w, http.StatusForbidden, "forbidden", "admin required", r.URL.Path)
		return
	}
	if err := s.Store.RetryWebhookDelivery(r.Context(), id); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "not ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// DebugConfigHandler exposes build metadata and the non-secret runtime
// knobs.
func (s *Server) DebugConfigHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build":               buildinfo.Info(),
		"depot":               s.Cfg.DepotLocation(),
		"speedKph":            s.Cfg.SpeedKPH,
		"solveBudgetSec":      s.Cfg.SolveBudgetSec,
		"largeSolveBudgetSec": s.Cfg.LargeSolveBudgetSec,
		"rateRps":             s.Cfg.RateRPS,
		"rateBurst":           s.Cfg.RateBurst,
		"liveMatrix":          s.Cfg.MapsAPIKey != "",
	})
}
