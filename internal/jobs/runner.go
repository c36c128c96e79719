// Package jobs runs optimizations in the background and tracks their
// status. Job state lives in process memory for the process lifetime:
// submit returns immediately, status is polled or streamed, and the
// result is also persisted per tour when the request names one.
package jobs

import (
	"context"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tourplan/internal/engine"
	"tourplan/internal/metrics"
	"tourplan/internal/model"
	"tourplan/internal/store"
)

const (
	EventCompleted = "optimization.completed"
	EventFailed    = "optimization.failed"
)

// Notifier pushes status snapshots to streaming listeners (SSE/WS).
type Notifier interface {
	Publish(jobID string, status model.OptimizationJobStatus)
}

// Emitter fans job lifecycle events out to webhook subscriptions.
type Emitter interface {
	Emit(ctx context.Context, eventType string, data any)
}

type Runner struct {
	Store    store.Store
	Engine   *engine.Engine
	Notifier Notifier
	Emitter  Emitter

	mu   sync.Mutex
	jobs map[string]*model.OptimizationJobStatus
}

func NewRunner(st store.Store, eng *engine.Engine) *Runner {
	return &Runner{
		Store:  st,
		Engine: eng,
		jobs:   map[string]*model.OptimizationJobStatus{},
	}
}

// Submit registers a pending job and starts it in the background.
func (r *Runner) Submit(req model.OptimizationRequest) model.OptimizationJobStatus {
	u := uuid.New()
	jobID := "opt_job_" + hex.EncodeToString(u[:])[:8]

	now := time.Now()
	status := model.OptimizationJobStatus{
		JobID:       jobID,
		Status:      model.JobPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		CurrentStep: "queued",
	}
	r.mu.Lock()
	r.jobs[jobID] = &status
	r.mu.Unlock()

	log.Printf("optimization job started: %s", jobID)
	go r.run(jobID, req)
	return status
}

// Status returns a snapshot of a job's state.
func (r *Runner) Status(jobID string) (model.OptimizationJobStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.jobs[jobID]
	if !ok {
		return model.OptimizationJobStatus{}, false
	}
	return *s, true
}

func (r *Runner) run(jobID string, req model.OptimizationRequest) {
	ctx := context.Background()
	start := time.Now()

	r.update(jobID, model.JobProcessing, 10, "preparing data")

	guests, err := r.Store.GetGuests(ctx, req.ParticipantIDs)
	if err != nil {
		r.fail(ctx, jobID, "resolve guests: "+err.Error())
		return
	}
	vehicles, err := r.Store.GetVehicles(ctx, req.AvailableVehicleIDs)
	if err != nil {
		r.fail(ctx, jobID, "resolve vehicles: "+err.Error())
		return
	}

	r.update(jobID, model.JobProcessing, 50, "optimizing routes")
	result := r.Engine.Optimize(ctx, req, guests, vehicles)

	r.update(jobID, model.JobProcessing, 90, "saving results")
	if req.TourID != "" {
		if err := r.Store.SaveResult(ctx, req.TourID, result); err != nil {
			log.Printf("job %s: save result for %s: %v", jobID, req.TourID, err)
		}
		if result.Status == model.ResultSuccess {
			if _, err := r.Store.UpdateTourStatus(ctx, req.TourID, model.TourOptimized); err != nil && err != store.ErrNotFound {
				log.Printf("job %s: update tour %s: %v", jobID, req.TourID, err)
			}
		}
	}

	r.complete(jobID, result)
	metrics.ObserveOptimization(string(result.Status), solutionType(result), time.Since(start))
	if r.Emitter != nil {
		r.Emitter.Emit(ctx, EventCompleted, map[string]any{
			"jobId":  jobID,
			"tourId": result.TourID,
			"status": string(result.Status),
		})
	}
}

func solutionType(result model.OptimizationResult) string {
	if v, ok := result.OptimizationMetrics["solution_type"].(string); ok {
		return v
	}
	return "none"
}

func (r *Runner) update(jobID string, state model.JobState, progress int, step string) {
	r.mu.Lock()
	s, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return
	}
	s.Status = state
	s.ProgressPercentage = progress
	s.CurrentStep = step
	s.UpdatedAt = time.Now()
	snapshot := *s
	r.mu.Unlock()

	if r.Notifier != nil {
		r.Notifier.Publish(jobID, snapshot)
	}
}

func (r *Runner) complete(jobID string, result model.OptimizationResult) {
	r.mu.Lock()
	s, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return
	}
	s.Status = model.JobCompleted
	s.ProgressPercentage = 100
	s.CurrentStep = "completed"
	s.Result = &result
	s.UpdatedAt = time.Now()
	snapshot := *s
	r.mu.Unlock()

	if r.Notifier != nil {
		r.Notifier.Publish(jobID, snapshot)
	}
}

func (r *Runner) fail(ctx context.Context, jobID, msg string) {
	r.mu.Lock()
	s, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return
	}
	s.Status = model.JobFailed
	s.ErrorMessage = msg
	s.CurrentStep = "failed"
	s.UpdatedAt = time.Now()
	snapshot := *s
	r.mu.Unlock()

	log.Printf("job %s failed: %s", jobID, msg)
	metrics.ObserveOptimization("error", "none", 0)
	if r.Notifier != nil {
		r.Notifier.Publish(jobID, snapshot)
	}
	if r.Emitter != nil {
		r.Emitter.Emit(ctx, EventFailed, map[string]any{"jobId": jobID, "error": msg})
	}
}
