package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourplan/internal/config"
	"tourplan/internal/engine"
	"tourplan/internal/geo"
	"tourplan/internal/jobs"
	"tourplan/internal/model"
	"tourplan/internal/store"
	"tourplan/internal/webhooks"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Config{
		Depot:    config.Depot{Name: "Operations Base", Lat: 24.3448, Lng: 124.1572},
		SpeedKPH: 30,
	}
	st := store.NewMemory()
	broker := NewBroker()
	eng := engine.New(geo.NewHaversine(cfg.SpeedKPH), engine.Config{
		Depot:            cfg.DepotLocation(),
		SolveBudget:      200 * time.Millisecond,
		LargeSolveBudget: 200 * time.Millisecond,
		Seed:             1,
	})
	pub := webhooks.NewPublisher(st)
	runner := jobs.NewRunner(st, eng)
	runner.Notifier = brokerNotifier{broker: broker}
	runner.Emitter = pub
	return &Server{Cfg: cfg, Store: st, Broker: broker, Pub: pub, Runner: runner}
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func testGuestBody(name string) model.Guest {
	return model.Guest{
		Name:           name,
		HotelName:      "Harbor Hotel",
		PickupLocation: model.Location{Name: "Harbor Hotel", Lat: 24.34, Lng: 124.156},
		NumAdults:      2,
	}
}

func TestGuestCRUDOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.Routes()

	rec := doRequest(t, mux, http.MethodPost, "/v1/guests", testGuestBody("Tanaka"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created model.Guest
	decodeInto(t, rec, &created)
	require.NotEmpty(t, created.ID)

	rec = doRequest(t, mux, http.MethodGet, "/v1/guests/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	created.NumAdults = 3
	rec = doRequest(t, mux, http.MethodPut, "/v1/guests/"+created.ID, created)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated model.Guest
	decodeInto(t, rec, &updated)
	assert.Equal(t, 3, updated.NumAdults)

	rec = doRequest(t, mux, http.MethodGet, "/v1/guests", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []model.Guest `json:"items"`
	}
	decodeInto(t, rec, &page)
	assert.Len(t, page.Items, 1)

	rec = doRequest(t, mux, http.MethodDelete, "/v1/guests/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, mux, http.MethodGet, "/v1/guests/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGuestValidationProblem(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv.Routes(), http.MethodPost, "/v1/guests", model.Guest{Name: "No Adults"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var p Problem
	decodeInto(t, rec, &p)
	assert.Equal(t, "invalid guest", p.Title)
	assert.Contains(t, p.Detail, "numAdults")
}

func TestViewerRoleCannotWrite(t *testing.T) {
	srv := newTestServer(t)
	b, _ := json.Marshal(testGuestBody("Tanaka"))
	req := httptest.NewRequest(http.MethodPost, "/v1/guests", bytes.NewReader(b))
	req.Header.Set("X-Role", "viewer")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func seedOptimizeData(t *testing.T, srv *Server) (guestIDs []string, vehicleID string) {
	t.Helper()
	ctx := context.Background()
	for _, name := range []string{"Tanaka", "Suzuki"} {
		g, err := srv.Store.CreateGuest(ctx, testGuestBody(name))
		require.NoError(t, err)
		guestIDs = append(guestIDs, g.ID)
	}
	v, err := srv.Store.CreateVehicle(ctx, model.Vehicle{
		Name:           "Van 1",
		CapacityAdults: 6, CapacityChildren: 2,
		VehicleType: model.VehicleVan,
	})
	require.NoError(t, err)
	return guestIDs, v.ID
}

func testOptimizeRequest(guestIDs []string, vehicleID string) model.OptimizationRequest {
	return model.OptimizationRequest{
		TourDate:            "2026-08-23",
		ActivityType:        "snorkeling",
		Destination:         model.Location{Name: "Marina", Lat: 24.4086, Lng: 124.1397},
		ParticipantIDs:      guestIDs,
		AvailableVehicleIDs: []string{vehicleID},
		DepartureTime:       model.NewClock(9, 0),
	}
}

func waitForCompletion(t *testing.T, srv *Server, jobID string) model.OptimizationJobStatus {
	t.Helper()
	var last model.OptimizationJobStatus
	require.Eventually(t, func() bool {
		s, ok := srv.Runner.Status(jobID)
		if !ok {
			return false
		}
		last = s
		return s.Status == model.JobCompleted || s.Status == model.JobFailed
	}, 5*time.Second, 20*time.Millisecond)
	return last
}

func TestOptimizeSubmitPollResult(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.Routes()
	guestIDs, vehicleID := seedOptimizeData(t, srv)

	rec := doRequest(t, mux, http.MethodPost, "/v1/optimize/route", testOptimizeRequest(guestIDs, vehicleID))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job model.OptimizationJobStatus
	decodeInto(t, rec, &job)
	require.NotEmpty(t, job.JobID)
	assert.Equal(t, model.JobPending, job.Status)

	final := waitForCompletion(t, srv, job.JobID)
	require.Equal(t, model.JobCompleted, final.Status)

	rec = doRequest(t, mux, http.MethodGet, "/v1/optimize/status/"+job.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, mux, http.MethodGet, "/v1/optimize/result/"+job.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result model.OptimizationResult
	decodeInto(t, rec, &result)
	assert.Equal(t, model.ResultSuccess, result.Status)
	assert.Equal(t, 1, result.TotalVehiclesUsed)
}

func TestOptimizeRejectsInvalidRequest(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv.Routes(), http.MethodPost, "/v1/optimize/route", model.OptimizationRequest{
		TourDate: "2026-08-23",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var p Problem
	decodeInto(t, rec, &p)
	assert.Contains(t, p.Detail, "participantIds")
}

func TestOptimizeStatusUnknownJob(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.Routes()

	rec := doRequest(t, mux, http.MethodGet, "/v1/optimize/status/opt_job_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doRequest(t, mux, http.MethodGet, "/v1/optimize/result/opt_job_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOptimizeResultForFailedJob(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.Routes()
	_, vehicleID := seedOptimizeData(t, srv)

	// unknown participant makes the job fail during data preparation
	rec := doRequest(t, mux, http.MethodPost, "/v1/optimize/route",
		testOptimizeRequest([]string{"missing"}, vehicleID))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job model.OptimizationJobStatus
	decodeInto(t, rec, &job)

	final := waitForCompletion(t, srv, job.JobID)
	require.Equal(t, model.JobFailed, final.Status)

	rec = doRequest(t, mux, http.MethodGet, "/v1/optimize/result/"+job.JobID, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var p Problem
	decodeInto(t, rec, &p)
	assert.Contains(t, p.Detail, "failed")
}

func TestTourLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.Routes()
	guestIDs, vehicleID := seedOptimizeData(t, srv)

	rec := doRequest(t, mux, http.MethodPost, "/v1/tours", model.Tour{
		TourDate:       "2026-08-23",
		ActivityType:   "snorkeling",
		Destination:    model.Location{Name: "Marina", Lat: 24.4086, Lng: 124.1397},
		ParticipantIDs: guestIDs,
		VehicleIDs:     []string{vehicleID},
		DepartureTime:  model.NewClock(9, 0),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var tour model.Tour
	decodeInto(t, rec, &tour)
	assert.Equal(t, model.TourPlanned, tour.Status)

	// optimize against the tour so the result is persisted
	req := testOptimizeRequest(guestIDs, vehicleID)
	req.TourID = tour.ID
	rec = doRequest(t, mux, http.MethodPost, "/v1/optimize/route", req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job model.OptimizationJobStatus
	decodeInto(t, rec, &job)
	final := waitForCompletion(t, srv, job.JobID)
	require.Equal(t, model.JobCompleted, final.Status)

	rec = doRequest(t, mux, http.MethodGet, "/v1/tours/"+tour.ID+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result model.OptimizationResult
	decodeInto(t, rec, &result)
	assert.Equal(t, tour.ID, result.TourID)

	rec = doRequest(t, mux, http.MethodGet, "/v1/tours/"+tour.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &tour)
	assert.Equal(t, model.TourOptimized, tour.Status)

	rec = doRequest(t, mux, http.MethodPatch, "/v1/tours/"+tour.ID, map[string]string{"status": "departed"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, mux, http.MethodPatch, "/v1/tours/"+tour.ID, map[string]string{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscriptionsOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.Routes()

	rec := doRequest(t, mux, http.MethodPost, "/v1/subscriptions", model.SubscriptionRequest{
		URL:    "https://example.com/hook",
		Events: []string{jobs.EventCompleted},
		Secret: "s3cret",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sub model.Subscription
	decodeInto(t, rec, &sub)
	require.NotEmpty(t, sub.ID)

	rec = doRequest(t, mux, http.MethodGet, "/v1/subscriptions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []model.Subscription `json:"items"`
	}
	decodeInto(t, rec, &page)
	assert.Len(t, page.Items, 1)

	rec = doRequest(t, mux, http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, mux, http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminWebhookDeliveries(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.Routes()
	ctx := context.Background()

	id, err := srv.Store.EnqueueWebhook(ctx, "sub1", jobs.EventCompleted, "https://example.com/hook", "", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, srv.Store.FailWebhookDelivery(ctx, id, "gave up", 500, 3))

	asAdmin := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("X-Role", "admin")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	// default planner role is not enough for the admin surface
	rec := doRequest(t, mux, http.MethodGet, "/v1/admin/webhook-deliveries", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = asAdmin(http.MethodGet, "/v1/admin/webhook-deliveries?status=dead")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []map[string]any `json:"items"`
	}
	decodeInto(t, rec, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "dead", page.Items[0]["status"])

	rec = asAdmin(http.MethodPost, "/v1/admin/webhook-deliveries/"+id+"/retry")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = asAdmin(http.MethodGet, "/v1/admin/webhook-deliveries?status=pending")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &page)
	assert.Len(t, page.Items, 1)

	rec = asAdmin(http.MethodPost, "/v1/admin/webhook-deliveries/missing/retry")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobEventsStream(t *testing.T) {
	srv := newTestServer(t)
	guestIDs, vehicleID := seedOptimizeData(t, srv)

	status := srv.Runner.Submit(testOptimizeRequest(guestIDs, vehicleID))
	final := waitForCompletion(t, srv, status.JobID)
	require.Equal(t, model.JobCompleted, final.Status)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs/" + status.JobID + "/events/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// the job is already finished, so the stream sends the snapshot and closes
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: job.status")
	assert.Contains(t, string(body), `"completed"`)
}

func TestJobEventsStreamUnknownJob(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv.Routes(), http.MethodGet, "/v1/jobs/missing/events/stream", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.Routes()

	rec := doRequest(t, mux, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	rec = doRequest(t, mux, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitReturns429(t *testing.T) {
	srv := newTestServer(t)
	srv.Cfg.RateRPS = 1
	srv.Cfg.RateBurst = 1
	h := srv.Handler()

	first := doRequest(t, h, http.MethodGet, "/v1/guests", nil)
	require.Equal(t, http.StatusOK, first.Code)
	second := doRequest(t, h, http.MethodGet, "/v1/guests", nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code)

	// probes bypass the limiter
	probe := doRequest(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, probe.Code)
}

func TestDebugConfigOmitsSecrets(t *testing.T) {
	srv := newTestServer(t)
	srv.Cfg.MapsAPIKey = "top-secret"
	rec := doRequest(t, srv.Routes(), http.MethodGet, "/v1/debug/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "top-secret")
	assert.True(t, strings.Contains(body, `"liveMatrix":true`))
}
