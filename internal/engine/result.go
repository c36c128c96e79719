package engine

import (
	"fmt"
	"time"

	"tourplan/internal/geo"
	"tourplan/internal/model"
)

const (
	lowEfficiencyThreshold = 0.7
	longTourThresholdMin   = 360
)

// aggregate assembles the final result from decoded or fallback routes.
// Total time is the max over vehicles, not the sum: vehicles run their
// routes concurrently.
func aggregate(tourID string, status model.ResultStatus, routes []model.VehicleRoute, start time.Time) model.OptimizationResult {
	totalDistance := 0.0
	totalTime := 0
	sumEfficiency := 0.0
	for _, r := range routes {
		totalDistance += r.TotalDistanceKM
		if r.TotalDurationMinutes > totalTime {
			totalTime = r.TotalDurationMinutes
		}
		sumEfficiency += r.EfficiencyScore
	}
	avgEfficiency := 0.0
	if len(routes) > 0 {
		avgEfficiency = sumEfficiency / float64(len(routes))
	}

	warnings := []string{}
	if len(routes) > 0 && avgEfficiency < lowEfficiencyThreshold {
		warnings = append(warnings, fmt.Sprintf(
			"average efficiency %.2f is low; consider using fewer vehicles", avgEfficiency))
	}
	if totalTime > longTourThresholdMin {
		warnings = append(warnings, fmt.Sprintf(
			"longest route takes %d minutes; consider reviewing the route plan", totalTime))
	}

	return model.OptimizationResult{
		TourID:                 tourID,
		Status:                 status,
		TotalVehiclesUsed:      len(routes),
		Routes:                 routes,
		TotalDistanceKM:        round2(totalDistance),
		TotalTimeMinutes:       totalTime,
		AverageEfficiencyScore: round2(avgEfficiency),
		Warnings:               warnings,
		ComputationTimeSeconds: time.Since(start).Seconds(),
	}
}

// constraintWarnings checks the request's soft constraints against the
// produced routes and the geographic spread of the pickups.
func constraintWarnings(req model.OptimizationRequest, guests []model.Guest, routes []model.VehicleRoute) []string {
	maxKM := req.Constraints.MaxDistanceKM
	if maxKM == nil {
		return nil
	}
	var warnings []string
	for _, r := range routes {
		if r.TotalDistanceKM > *maxKM {
			warnings = append(warnings, fmt.Sprintf(
				"vehicle %s route covers %.2f km, over the %.2f km limit", r.VehicleID, r.TotalDistanceKM, *maxKM))
		}
	}
	locations := make([]model.Location, 0, len(guests))
	for _, g := range guests {
		locations = append(locations, g.PickupLocation)
	}
	if len(locations) > 1 {
		if span := geo.SpanKM(geo.BoundingBox(locations)); span > *maxKM {
			warnings = append(warnings, fmt.Sprintf(
				"pickup area spans %.2f km, over the %.2f km limit", span, *maxKM))
		}
	}
	return warnings
}

func failedResult(tourID string, start time.Time, errMsg string, warnings []string) model.OptimizationResult {
	if warnings == nil {
		warnings = []string{}
	}
	return model.OptimizationResult{
		TourID:                 tourID,
		Status:                 model.ResultFailed,
		Routes:                 []model.VehicleRoute{},
		OptimizationMetrics:    map[string]any{"error": errMsg},
		Warnings:               warnings,
		ComputationTimeSeconds: time.Since(start).Seconds(),
	}
}
