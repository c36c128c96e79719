package engine

import (
	"context"
	"sort"

	"tourplan/internal/geo"
	"tourplan/internal/model"
	"tourplan/internal/opt"
)

// fallbackEfficiency is the fixed score stamped on fallback routes. It
// signals "heuristic, not optimized" to downstream consumers without
// changing the score contract.
const fallbackEfficiency = 0.7

// fallbackAssign is the deterministic capacity-first-fit assigner used
// when the solver fails or degenerates. Vehicles are filled in descending
// capacity order; guests are taken in request order, skipping any that do
// not fit. Time windows are ignored: the clock simply runs forward from
// the requested departure time. Returns the routes and the number of
// guests left unassigned.
func (e *Engine) fallbackAssign(_ context.Context, req model.OptimizationRequest, guests []model.Guest, vehicles []model.Vehicle, matrix geo.Matrix) ([]model.VehicleRoute, int) {
	order := make([]int, len(vehicles))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return vehicles[order[a]].TotalCapacity() > vehicles[order[b]].TotalCapacity()
	})

	destNode := len(guests) + 1
	assigned := make([]bool, len(guests))
	remaining := len(guests)

	var routes []model.VehicleRoute
	for _, vi := range order {
		if remaining == 0 {
			break
		}
		vehicle := vehicles[vi]
		capacity := vehicle.TotalCapacity()

		var segments []model.RouteSegment
		var guestIDs []string
		load := 0
		prev := 0 // depot
		clock := req.DepartureTime
		distance := 0.0
		duration := 0

		for gi, g := range guests {
			if assigned[gi] {
				continue
			}
			demand := g.TotalPassengers()
			if load+demand > capacity {
				continue
			}
			node := gi + 1
			segDur := matrix.DurationMin[prev][node]
			arrival := clock.Add(segDur)
			departure := arrival.Add(opt.ServiceMinutes)
			segments = append(segments, model.RouteSegment{
				FromLocation:    nodeLocation(req, guests, e.cfg.Depot, prev),
				ToLocation:      nodeLocation(req, guests, e.cfg.Depot, node),
				GuestID:         g.ID,
				DistanceKM:      matrix.DistanceKM[prev][node],
				DurationMinutes: segDur,
				ArrivalTime:     arrival,
				DepartureTime:   departure,
			})
			distance += matrix.DistanceKM[prev][node]
			duration += segDur
			load += demand
			guestIDs = append(guestIDs, g.ID)
			assigned[gi] = true
			prev = node
			clock = departure
		}
		if len(guestIDs) == 0 {
			continue
		}

		finalDur := matrix.DurationMin[prev][destNode]
		finalArrival := clock.Add(finalDur)
		segments = append(segments, model.RouteSegment{
			FromLocation:    nodeLocation(req, guests, e.cfg.Depot, prev),
			ToLocation:      req.Destination,
			DistanceKM:      matrix.DistanceKM[prev][destNode],
			DurationMinutes: finalDur,
			ArrivalTime:     finalArrival,
			DepartureTime:   finalArrival,
		})
		distance += matrix.DistanceKM[prev][destNode]
		duration += finalDur
		remaining -= len(guestIDs)

		routes = append(routes, model.VehicleRoute{
			VehicleID:            vehicle.ID,
			VehicleName:          vehicle.Name,
			RouteSegments:        segments,
			AssignedGuests:       guestIDs,
			TotalDistanceKM:      round2(distance),
			TotalDurationMinutes: duration,
			EfficiencyScore:      fallbackEfficiency,
			VehicleUtilization:   round2(float64(load) / float64(capacity)),
		})
	}
	return routes, remaining
}

func nodeLocation(req model.OptimizationRequest, guests []model.Guest, depot model.Location, node int) model.Location {
	switch {
	case node == 0:
		return depot
	case node <= len(guests):
		loc := guests[node-1].PickupLocation
		if loc.Name == "" {
			loc.Name = guests[node-1].HotelName
		}
		return loc
	default:
		return req.Destination
	}
}
