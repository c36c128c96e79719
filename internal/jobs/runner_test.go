package jobs

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourplan/internal/engine"
	"tourplan/internal/geo"
	"tourplan/internal/model"
	"tourplan/internal/store"
)

type captureNotifier struct {
	mu       sync.Mutex
	statuses []model.OptimizationJobStatus
}

func (c *captureNotifier) Publish(jobID string, s model.OptimizationJobStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, s)
}

func (c *captureNotifier) snapshot() []model.OptimizationJobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.OptimizationJobStatus(nil), c.statuses...)
}

type captureEmitter struct {
	mu     sync.Mutex
	events []string
}

func (c *captureEmitter) Emit(_ context.Context, eventType string, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, eventType)
}

func (c *captureEmitter) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func testRunner(t *testing.T) (*Runner, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	eng := engine.New(geo.NewHaversine(0), engine.Config{
		Depot:       model.Location{Name: "Terminal", Lat: 24.3448, Lng: 124.1572},
		SolveBudget: 100 * time.Millisecond,
		Seed:        1,
	})
	return NewRunner(st, eng), st
}

func seedTour(t *testing.T, st *store.Memory) model.OptimizationRequest {
	t.Helper()
	ctx := context.Background()

	g1, err := st.CreateGuest(ctx, model.Guest{
		Name: "Sato", HotelName: "Beach Hotel",
		PickupLocation: model.Location{Name: "Beach Hotel", Lat: 24.3500, Lng: 124.1600},
		NumAdults:      2,
	})
	require.NoError(t, err)
	g2, err := st.CreateGuest(ctx, model.Guest{
		Name: "Suzuki", HotelName: "Bay Resort",
		PickupLocation: model.Location{Name: "Bay Resort", Lat: 24.3620, Lng: 124.1700},
		NumAdults:      2, NumChildren: 1,
	})
	require.NoError(t, err)
	v, err := st.CreateVehicle(ctx, model.Vehicle{
		Name: "Van 1", CapacityAdults: 6, CapacityChildren: 2, VehicleType: model.VehicleVan,
	})
	require.NoError(t, err)
	tour, err := st.CreateTour(ctx, model.Tour{
		TourDate: "2026-08-01", ActivityType: "snorkeling",
		Destination:    model.Location{Name: "Kabira Bay", Lat: 24.4271, Lng: 124.1441},
		ParticipantIDs: []string{g1.ID, g2.ID},
		VehicleIDs:     []string{v.ID},
		DepartureTime:  model.NewClock(9, 0),
	})
	require.NoError(t, err)

	return model.OptimizationRequest{
		TourID:              tour.ID,
		TourDate:            tour.TourDate,
		ActivityType:        tour.ActivityType,
		Destination:         tour.Destination,
		ParticipantIDs:      tour.ParticipantIDs,
		AvailableVehicleIDs: tour.VehicleIDs,
		Strategy:            model.StrategyBalanced,
		DepartureTime:       tour.DepartureTime,
	}
}

func waitForJob(t *testing.T, r *Runner, jobID string) model.OptimizationJobStatus {
	t.Helper()
	var final model.OptimizationJobStatus
	require.Eventually(t, func() bool {
		s, ok := r.Status(jobID)
		if !ok {
			return false
		}
		final = s
		return s.Status == model.JobCompleted || s.Status == model.JobFailed
	}, 5*time.Second, 10*time.Millisecond)
	return final
}

func TestRunnerCompletesAndPersists(t *testing.T) {
	r, st := testRunner(t)
	notifier := &captureNotifier{}
	emitter := &captureEmitter{}
	r.Notifier = notifier
	r.Emitter = emitter
	req := seedTour(t, st)

	submitted := r.Submit(req)
	assert.True(t, strings.HasPrefix(submitted.JobID, "opt_job_"))
	assert.Equal(t, model.JobPending, submitted.Status)

	final := waitForJob(t, r, submitted.JobID)
	require.Equal(t, model.JobCompleted, final.Status)
	assert.Equal(t, 100, final.ProgressPercentage)
	require.NotNil(t, final.Result)
	assert.Equal(t, model.ResultSuccess, final.Result.Status)

	// Result is persisted per tour and the tour advances to optimized.
	saved, err := st.GetResult(context.Background(), req.TourID)
	require.NoError(t, err)
	assert.Equal(t, model.ResultSuccess, saved.Status)
	tour, err := st.GetTour(context.Background(), req.TourID)
	require.NoError(t, err)
	assert.Equal(t, model.TourOptimized, tour.Status)

	// Progress passed through the documented checkpoints.
	var progress []int
	for _, s := range notifier.snapshot() {
		progress = append(progress, s.ProgressPercentage)
	}
	assert.Equal(t, []int{10, 50, 90, 100}, progress)
	assert.Equal(t, []string{EventCompleted}, emitter.snapshot())
}

func TestRunnerFailsOnUnknownGuest(t *testing.T) {
	r, st := testRunner(t)
	emitter := &captureEmitter{}
	r.Emitter = emitter
	req := seedTour(t, st)
	req.ParticipantIDs = append(req.ParticipantIDs, "missing-guest")

	submitted := r.Submit(req)
	final := waitForJob(t, r, submitted.JobID)

	require.Equal(t, model.JobFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "resolve guests")
	assert.Nil(t, final.Result)
	assert.Equal(t, []string{EventFailed}, emitter.snapshot())
}

func TestRunnerStatusUnknownJob(t *testing.T) {
	r, _ := testRunner(t)
	_, ok := r.Status("opt_job_nope")
	assert.False(t, ok)
}

func TestRunnerCapacityFailureStillCompletes(t *testing.T) {
	// An infeasible request is a completed job carrying a failed result,
	// not a failed job.
	r, st := testRunner(t)
	req := seedTour(t, st)

	big, err := st.CreateGuest(context.Background(), model.Guest{
		Name: "Group", PickupLocation: model.Location{Lat: 24.37, Lng: 124.15}, NumAdults: 30,
	})
	require.NoError(t, err)
	req.ParticipantIDs = append(req.ParticipantIDs, big.ID)

	submitted := r.Submit(req)
	final := waitForJob(t, r, submitted.JobID)

	require.Equal(t, model.JobCompleted, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, model.ResultFailed, final.Result.Status)
}
