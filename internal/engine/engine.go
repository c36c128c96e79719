// Package engine turns an optimization request plus resolved guest and
// vehicle records into per-vehicle pickup routes. It owns no persistent
// state: one call computes one result, and every code path returns a
// well-formed OptimizationResult rather than an error.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"tourplan/internal/geo"
	"tourplan/internal/model"
	"tourplan/internal/opt"
)

const (
	// SolutionSolver and SolutionFallback are the values of the
	// "solution_type" metric, telling consumers which path produced the
	// routes.
	SolutionSolver   = "solver"
	SolutionFallback = "simple_fallback"
)

// Config carries the read-only knobs shared by all invocations. The
// budgets are taken literally: a zero or negative budget leaves the
// solver no time to search, so every request takes the fallback path.
type Config struct {
	Depot            model.Location
	SolveBudget      time.Duration
	LargeSolveBudget time.Duration
	Seed             int64
}

// Engine is safe for concurrent use: invocations share only the matrix
// provider and the immutable config.
type Engine struct {
	provider geo.MatrixProvider
	cfg      Config
}

func New(provider geo.MatrixProvider, cfg Config) *Engine {
	return &Engine{provider: provider, cfg: cfg}
}

// Optimize runs the full pipeline: validate, build the VRP instance,
// solve, decode; on any solver failure or degenerate solution it falls
// through to the greedy capacity-first-fit assigner.
func (e *Engine) Optimize(ctx context.Context, req model.OptimizationRequest, guests []model.Guest, vehicles []model.Vehicle) model.OptimizationResult {
	start := time.Now()
	tourID := resultTourID(req)

	if err := validateInputs(req, guests, vehicles); err != nil {
		return failedResult(tourID, start, err.Error(), nil)
	}

	totalDemand := 0
	for _, g := range guests {
		totalDemand += g.TotalPassengers()
	}
	totalCapacity := 0
	for _, v := range vehicles {
		totalCapacity += v.TotalCapacity()
	}
	if len(vehicles) == 0 {
		return failedResult(tourID, start, "no vehicles available", nil)
	}
	if totalDemand > totalCapacity {
		log.Printf("optimize %s: demand %d exceeds fleet capacity %d", tourID, totalDemand, totalCapacity)
		return failedResult(tourID, start,
			fmt.Sprintf("total demand %d exceeds total fleet capacity %d", totalDemand, totalCapacity),
			[]string{"add vehicles or reduce the guest list"})
	}

	matrix, err := e.provider.Matrix(ctx, opt.Nodes(req, guests, e.cfg.Depot))
	if err != nil {
		// The live provider degrades internally; a hard failure here still
		// leaves the local formula.
		log.Printf("optimize %s: matrix provider failed, using local formula: %v", tourID, err)
		matrix, _ = geo.NewHaversine(0).Matrix(ctx, opt.Nodes(req, guests, e.cfg.Depot))
		matrix.Method = geo.MethodHaversineFallback
	}

	problem, err := opt.BuildProblem(req, guests, vehicles, e.cfg.Depot, matrix)
	if err != nil {
		return failedResult(tourID, start, err.Error(), nil)
	}

	budget := e.cfg.SolveBudget
	if problem.NumNodes() > opt.LargeProblemNodes {
		budget = e.cfg.LargeSolveBudget
	}

	asn, solveMetrics, err := opt.Solve(problem, req.Strategy, budget, e.seed())
	if err == nil {
		routes := decodeSolution(problem, asn, guests, vehicles)
		if len(routes) > 0 {
			result := aggregate(tourID, model.ResultSuccess, routes, start)
			result.Warnings = append(result.Warnings, constraintWarnings(req, guests, routes)...)
			result.OptimizationMetrics = e.baseMetrics(req, matrix, guests, routes)
			result.OptimizationMetrics["solution_type"] = SolutionSolver
			result.OptimizationMetrics["solver_iterations"] = solveMetrics.Iterations
			result.OptimizationMetrics["solver_improvements"] = solveMetrics.Improvements
			return result
		}
		log.Printf("optimize %s: solver returned a degenerate route set, falling back", tourID)
	} else {
		log.Printf("optimize %s: solver: %v, falling back", tourID, err)
	}

	routes, unassigned := e.fallbackAssign(ctx, req, guests, vehicles, matrix)
	status := model.ResultSuccess
	if unassigned > 0 {
		status = model.ResultPartial
	}
	result := aggregate(tourID, status, routes, start)
	result.Warnings = append(result.Warnings, constraintWarnings(req, guests, routes)...)
	result.OptimizationMetrics = e.baseMetrics(req, matrix, guests, routes)
	result.OptimizationMetrics["solution_type"] = SolutionFallback
	if unassigned > 0 {
		result.OptimizationMetrics["unassigned_guests"] = unassigned
	}
	return result
}

func (e *Engine) seed() int64 {
	if e.cfg.Seed != 0 {
		return e.cfg.Seed
	}
	return time.Now().UnixNano()
}

func (e *Engine) baseMetrics(req model.OptimizationRequest, matrix geo.Matrix, guests []model.Guest, routes []model.VehicleRoute) map[string]any {
	assigned := 0
	for _, r := range routes {
		assigned += len(r.AssignedGuests)
	}
	m := map[string]any{
		"strategy":        string(req.Strategy),
		"distance_method": matrix.Method,
		"total_guests":    len(guests),
		"assigned_guests": assigned,
	}
	if req.Constraints.WeatherConsideration {
		m["weather_considered"] = true
	}
	if len(req.Constraints.PriorityHotels) > 0 {
		m["priority_hotels"] = req.Constraints.PriorityHotels
	}
	return m
}

func validateInputs(req model.OptimizationRequest, guests []model.Guest, vehicles []model.Vehicle) error {
	if len(guests) == 0 {
		return fmt.Errorf("no guests resolved for the request")
	}
	if err := req.Destination.Validate(); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	for _, g := range guests {
		if err := g.PickupLocation.Validate(); err != nil {
			return fmt.Errorf("guest %s pickup: %w", g.ID, err)
		}
		if w := g.PreferredTimeWindow; w != nil {
			if err := w.Validate(); err != nil {
				return fmt.Errorf("guest %s window: %w", g.ID, err)
			}
		}
	}
	return nil
}

func resultTourID(req model.OptimizationRequest) string {
	if req.TourID != "" {
		return req.TourID
	}
	return "tour_" + time.Now().Format("20060102150405")
}
