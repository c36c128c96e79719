package engine

import (
	"math"

	"tourplan/internal/model"
	"tourplan/internal/opt"
)

// decodeSolution walks each vehicle's node sequence pairwise and resolves
// the solver's cumulative times into clock-stamped route segments. A
// vehicle that picked nobody up (sequence depot->destination) is dropped.
// Utilization comes from the assigned guests' demand, not the solver's
// raw capacity values.
func decodeSolution(p opt.Problem, asn opt.Assignment, guests []model.Guest, vehicles []model.Vehicle) []model.VehicleRoute {
	var routes []model.VehicleRoute

	for v, nodes := range asn.Routes {
		if len(nodes) <= 2 {
			continue
		}
		vehicle := vehicles[v]

		var segments []model.RouteSegment
		var assigned []model.Guest
		distance := 0.0
		duration := 0

		for i := 0; i+1 < len(nodes); i++ {
			from, to := nodes[i], nodes[i+1]
			arrival := clockAt(asn.CumulTime[v][i+1])
			departure := arrival
			seg := model.RouteSegment{
				FromLocation:    p.Locations[from],
				ToLocation:      p.Locations[to],
				DistanceKM:      p.DistKM[from][to],
				DurationMinutes: p.TimeMin[from][to],
				ArrivalTime:     arrival,
			}
			if to > p.Depot && to < p.Destination {
				g := guests[to-1]
				seg.GuestID = g.ID
				assigned = append(assigned, g)
				departure = arrival.Add(opt.ServiceMinutes)
			}
			seg.DepartureTime = departure
			segments = append(segments, seg)
			distance += seg.DistanceKM
			duration += seg.DurationMinutes
		}

		demand := 0
		guestIDs := make([]string, len(assigned))
		for i, g := range assigned {
			demand += g.TotalPassengers()
			guestIDs[i] = g.ID
		}
		utilization := float64(demand) / float64(vehicle.TotalCapacity())
		efficiency := math.Min(1.0, utilization*0.8+0.2)

		routes = append(routes, model.VehicleRoute{
			VehicleID:            vehicle.ID,
			VehicleName:          vehicle.Name,
			RouteSegments:        segments,
			AssignedGuests:       guestIDs,
			TotalDistanceKM:      round2(distance),
			TotalDurationMinutes: duration,
			EfficiencyScore:      round2(efficiency),
			VehicleUtilization:   round2(utilization),
		})
	}
	return routes
}

func clockAt(cumulMinutes int) model.Clock {
	return model.Clock(opt.AnchorMinutes + cumulMinutes)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
