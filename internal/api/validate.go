package api

import (
	"fmt"

	"tourplan/internal/model"
)

// validateOptimizationRequest checks what must hold before a job is even
// queued. Feasibility (capacity, windows) is the engine's concern.
func validateOptimizationRequest(req *model.OptimizationRequest) error {
	if len(req.ParticipantIDs) == 0 {
		return fmt.Errorf("participantIds must not be empty")
	}
	if len(req.AvailableVehicleIDs) == 0 {
		return fmt.Errorf("availableVehicleIds must not be empty")
	}
	if err := req.Destination.Validate(); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if req.DepartureTime <= 0 {
		return fmt.Errorf("departureTime is required")
	}
	switch req.Strategy {
	case model.StrategySafety, model.StrategyEfficiency, model.StrategyBalanced:
	case "":
		req.Strategy = model.StrategyBalanced
	default:
		return fmt.Errorf("unknown optimizationStrategy %q", req.Strategy)
	}
	if req.Constraints.MaxDistanceKM != nil && *req.Constraints.MaxDistanceKM <= 0 {
		return fmt.Errorf("maxDistanceKm must be positive")
	}
	return nil
}

func validateGuest(g model.Guest) error {
	if g.Name == "" {
		return fmt.Errorf("name is required")
	}
	if g.NumAdults < 1 {
		return fmt.Errorf("numAdults must be at least 1")
	}
	if g.NumChildren < 0 {
		return fmt.Errorf("numChildren must not be negative")
	}
	if err := g.PickupLocation.Validate(); err != nil {
		return fmt.Errorf("pickupLocation: %w", err)
	}
	if w := g.PreferredTimeWindow; w != nil {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func validateVehicle(v model.Vehicle) error {
	if v.Name == "" {
		return fmt.Errorf("name is required")
	}
	if v.CapacityAdults < 1 {
		return fmt.Errorf("capacityAdults must be at least 1")
	}
	if v.CapacityChildren < 0 {
		return fmt.Errorf("capacityChildren must not be negative")
	}
	switch v.VehicleType {
	case model.VehicleSedan, model.VehicleVan, model.VehicleMinibus, "":
	default:
		return fmt.Errorf("unknown vehicleType %q", v.VehicleType)
	}
	return nil
}

func validateTour(t model.Tour) error {
	if t.TourDate == "" {
		return fmt.Errorf("tourDate is required")
	}
	if err := t.Destination.Validate(); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	return nil
}

func validateSubscription(req model.SubscriptionRequest) error {
	if req.URL == "" {
		return fmt.Errorf("url is required")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	return nil
}
