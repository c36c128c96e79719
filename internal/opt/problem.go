// Package opt builds indexed VRP instances for tour pickups and solves
// them under capacity and time-window constraints. Node 0 is the depot,
// nodes 1..N map to guests in request order, node N+1 is the shared
// destination every route terminates at.
package opt

import (
	"fmt"

	"tourplan/internal/geo"
	"tourplan/internal/model"
)

const (
	// AnchorMinutes is the day-start anchor (06:00); all window and
	// cumulative times are minutes past it.
	AnchorMinutes = 6 * 60

	// ServiceMinutes is the boarding dwell at each pickup.
	ServiceMinutes = 5

	// MaxWaitMinutes bounds how long a vehicle may idle ahead of a window.
	MaxWaitMinutes = 30

	// MaxRouteMinutes bounds a single vehicle's total route duration.
	MaxRouteMinutes = 300

	// LargeProblemNodes is the node count above which the solver gets a
	// larger time budget and a deeper improvement phase.
	LargeProblemNodes = 20

	depotWindowEnd = 240 // depot open 06:00-10:00

	defaultWindowLead = 90 // default guest window: departure-90 .. departure-30
	defaultWindowTail = 30

	destWindowHalf = 30 // destination window: departure +/- 30
)

// Problem is an indexed CVRPTW instance with a single shared sink.
type Problem struct {
	Locations   []model.Location
	DistKM      [][]float64
	TimeMin     [][]int
	Demands     []int
	Capacities  []int
	Windows     [][2]int // minutes past AnchorMinutes
	Depot       int
	Destination int
}

func (p Problem) NumNodes() int    { return len(p.Locations) }
func (p Problem) NumVehicles() int { return len(p.Capacities) }

func (p Problem) TotalDemand() int {
	total := 0
	for _, d := range p.Demands {
		total += d
	}
	return total
}

func (p Problem) TotalCapacity() int {
	total := 0
	for _, c := range p.Capacities {
		total += c
	}
	return total
}

// Nodes assembles the ordered node location list for a request: depot,
// one pickup per guest in request order, then the destination.
func Nodes(req model.OptimizationRequest, guests []model.Guest, depot model.Location) []model.Location {
	locations := make([]model.Location, 0, len(guests)+2)
	locations = append(locations, depot)
	for _, g := range guests {
		pl := g.PickupLocation
		if pl.Name == "" {
			pl.Name = g.HotelName
		}
		locations = append(locations, pl)
	}
	locations = append(locations, req.Destination)
	return locations
}

// BuildProblem maps a request plus resolved guests/vehicles and a
// precomputed matrix into a VRP instance. The matrix must cover the node
// list returned by Nodes for the same inputs.
func BuildProblem(req model.OptimizationRequest, guests []model.Guest, vehicles []model.Vehicle, depot model.Location, m geo.Matrix) (Problem, error) {
	locations := Nodes(req, guests, depot)
	n := len(locations)
	if len(m.DistanceKM) != n || len(m.DurationMin) != n {
		return Problem{}, fmt.Errorf("matrix size %d does not match %d nodes", len(m.DistanceKM), n)
	}

	demands := make([]int, n)
	for i, g := range guests {
		demands[i+1] = g.TotalPassengers()
	}

	capacities := make([]int, len(vehicles))
	for i, v := range vehicles {
		capacities[i] = v.TotalCapacity()
	}

	departure := int(req.DepartureTime) - AnchorMinutes

	windows := make([][2]int, n)
	windows[0] = [2]int{0, depotWindowEnd}
	for i, g := range guests {
		if w := g.PreferredTimeWindow; w != nil {
			windows[i+1] = [2]int{int(w.Start) - AnchorMinutes, int(w.End) - AnchorMinutes}
		} else {
			windows[i+1] = [2]int{departure - defaultWindowLead, departure - defaultWindowTail}
		}
	}
	windows[n-1] = [2]int{departure - destWindowHalf, departure + destWindowHalf}

	return Problem{
		Locations:   locations,
		DistKM:      m.DistanceKM,
		TimeMin:     m.DurationMin,
		Demands:     demands,
		Capacities:  capacities,
		Windows:     windows,
		Depot:       0,
		Destination: n - 1,
	}, nil
}
