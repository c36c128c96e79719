package opt

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"time"

	"tourplan/internal/model"
)

// ErrNoSolution is returned when the solver cannot place every guest on a
// vehicle within the capacity and time-window constraints, or when it is
// given no time budget to search.
var ErrNoSolution = errors.New("no feasible assignment")

// Assignment is a full solution: one node sequence per vehicle, each
// starting at the depot and ending at the destination, with cumulative
// arrival times (minutes past the anchor) and onboard loads per stop.
// A vehicle with no pickups has the two-node sequence depot->destination.
type Assignment struct {
	Routes    [][]int
	CumulTime [][]int
	CumulLoad [][]int
}

// SolveMetrics summarizes a solver run.
type SolveMetrics struct {
	Iterations   int
	Improvements int
	BestDistance float64
	Strategy     model.Strategy
}

const (
	startTemp = 1.15
	coolRate  = 0.9995
	minTemp   = 0.01

	// staleLimit ends the search before the deadline once this many
	// consecutive iterations bring no new best while every guest is
	// already placed. Small instances converge in milliseconds and
	// should not sit out a multi-second budget.
	staleLimit = 5000
)

type solution struct {
	orders [][]int // guest nodes per vehicle, pickup order
	cost   float64
}

func (s solution) clone() solution {
	orders := make([][]int, len(s.orders))
	for i, o := range s.orders {
		orders[i] = append([]int(nil), o...)
	}
	return solution{orders: orders, cost: s.cost}
}

func (s solution) assignedCount() int {
	n := 0
	for _, o := range s.orders {
		n += len(o)
	}
	return n
}

// Solve searches for a minimum-distance assignment of every guest node to
// a vehicle. The construction heuristic follows the requested strategy;
// an annealed remove-and-reinsert loop then improves the solution until
// the budget runs out. If any guest remains unplaced the search fails as
// a whole.
func Solve(p Problem, strategy model.Strategy, budget time.Duration, seed int64) (Assignment, SolveMetrics, error) {
	metrics := SolveMetrics{Strategy: strategy}
	if budget <= 0 {
		return Assignment{}, metrics, ErrNoSolution
	}
	if p.NumVehicles() == 0 {
		return Assignment{}, metrics, ErrNoSolution
	}
	deadline := time.Now().Add(budget)
	rng := rand.New(rand.NewSource(seed))

	guestNodes := make([]int, 0, p.NumNodes()-2)
	for node := 1; node < p.Destination; node++ {
		guestNodes = append(guestNodes, node)
	}

	cur, pool := construct(p, strategy, guestNodes, rng)
	cur.cost = totalDistance(p, cur.orders)

	best := cur.clone()
	bestPool := append([]int(nil), pool...)

	temp := startTemp
	removeMax := 3
	if p.NumNodes() > LargeProblemNodes {
		removeMax = 6
	}

	stale := 0
	for time.Now().Before(deadline) {
		metrics.Iterations++

		cand := cur.clone()
		candPool := append([]int(nil), pool...)

		q := 1 + rng.Intn(removeMax)
		if rng.Float64() < 0.5 {
			candPool = append(candPool, removeRandom(cand.orders, q, rng)...)
		} else {
			candPool = append(candPool, removeRelated(p, cand.orders, q, rng)...)
		}

		if rng.Float64() < 0.5 {
			candPool = insertGreedy(p, cand.orders, candPool)
		} else {
			candPool = insertRegret(p, cand.orders, candPool)
		}
		if metrics.Iterations%64 == 0 {
			twoOptAll(p, cand.orders)
		}
		cand.cost = totalDistance(p, cand.orders)

		if accept(cand, candPool, cur, pool, temp, rng) {
			cur = cand
			pool = candPool
		}
		if better(cur, pool, best, bestPool) {
			best = cur.clone()
			bestPool = append([]int(nil), pool...)
			metrics.Improvements++
			stale = 0
		} else {
			stale++
		}
		if len(bestPool) == 0 && stale >= staleLimit {
			break
		}

		temp *= coolRate
		if temp < minTemp {
			temp = startTemp
		}
	}

	if len(bestPool) > 0 {
		return Assignment{}, metrics, ErrNoSolution
	}
	twoOptAll(p, best.orders)
	best.cost = totalDistance(p, best.orders)
	metrics.BestDistance = best.cost

	asn, ok := buildAssignment(p, best.orders)
	if !ok {
		return Assignment{}, metrics, ErrNoSolution
	}
	return asn, metrics, nil
}

// accept prefers fewer unassigned guests outright, then anneals on cost.
func accept(cand solution, candPool []int, cur solution, pool []int, temp float64, rng *rand.Rand) bool {
	if len(candPool) != len(pool) {
		return len(candPool) < len(pool)
	}
	if cand.cost <= cur.cost {
		return true
	}
	if cur.cost == 0 {
		return false
	}
	delta := (cand.cost - cur.cost) / cur.cost
	return rng.Float64() < math.Exp(-delta/temp)
}

func better(a solution, aPool []int, b solution, bPool []int) bool {
	if len(aPool) != len(bPool) {
		return len(aPool) < len(bPool)
	}
	return a.cost < b.cost
}

// construct builds the initial solution. Each strategy mirrors a distinct
// first-solution heuristic: safety seeds the tightest windows first,
// efficiency chains cheapest arcs per vehicle, balanced inserts globally
// cheapest across all vehicles. Guests that cannot be placed are returned
// in the pool for the improvement phase to retry.
func construct(p Problem, strategy model.Strategy, guestNodes []int, rng *rand.Rand) (solution, []int) {
	orders := make([][]int, p.NumVehicles())
	var pool []int

	switch strategy {
	case model.StrategySafety:
		nodes := append([]int(nil), guestNodes...)
		sort.SliceStable(nodes, func(i, j int) bool {
			wi, wj := p.Windows[nodes[i]], p.Windows[nodes[j]]
			si, sj := wi[1]-wi[0], wj[1]-wj[0]
			if si != sj {
				return si < sj
			}
			return wi[0] < wj[0]
		})
		for _, node := range nodes {
			if !insertCheapest(p, orders, node) {
				pool = append(pool, node)
			}
		}

	case model.StrategyEfficiency:
		remaining := make(map[int]bool, len(guestNodes))
		for _, node := range guestNodes {
			remaining[node] = true
		}
		for v := range orders {
			for {
				last := p.Depot
				if len(orders[v]) > 0 {
					last = orders[v][len(orders[v])-1]
				}
				nextNode, found := -1, false
				bestArc := math.MaxFloat64
				for node := range remaining {
					if p.DistKM[last][node] >= bestArc {
						continue
					}
					orders[v] = append(orders[v], node)
					_, _, ok := scheduleRoute(p, v, orders[v])
					orders[v] = orders[v][:len(orders[v])-1]
					if ok {
						bestArc = p.DistKM[last][node]
						nextNode = node
						found = true
					}
				}
				if !found {
					break
				}
				orders[v] = append(orders[v], nextNode)
				delete(remaining, nextNode)
			}
		}
		for node := range remaining {
			pool = append(pool, node)
		}
		sort.Ints(pool)

	default: // balanced
		pool = insertGreedy(p, orders, append([]int(nil), guestNodes...))
	}

	return solution{orders: orders}, pool
}

// insertCheapest places a node at its cheapest feasible position over all
// vehicles. Reports false when no position is feasible.
func insertCheapest(p Problem, orders [][]int, node int) bool {
	v, pos, _, ok := bestInsertion(p, orders, node)
	if !ok {
		return false
	}
	orders[v] = insertAt(orders[v], pos, node)
	return true
}

// insertGreedy repeatedly inserts the pool node with the globally cheapest
// feasible insertion until none fits. Returns the nodes left over.
func insertGreedy(p Problem, orders [][]int, pool []int) []int {
	for {
		bestIdx, bestV, bestPos := -1, -1, -1
		bestDelta := math.MaxFloat64
		for idx, node := range pool {
			v, pos, delta, ok := bestInsertion(p, orders, node)
			if ok && delta < bestDelta {
				bestIdx, bestV, bestPos, bestDelta = idx, v, pos, delta
			}
		}
		if bestIdx < 0 {
			return pool
		}
		orders[bestV] = insertAt(orders[bestV], bestPos, pool[bestIdx])
		pool = append(pool[:bestIdx], pool[bestIdx+1:]...)
	}
}

// insertRegret picks the pool node with the largest regret: the gap
// between its best and second-best insertion cost. Nodes that are about
// to lose their only good slot get placed first.
func insertRegret(p Problem, orders [][]int, pool []int) []int {
	for len(pool) > 0 {
		bestIdx, bestV, bestPos := -1, -1, -1
		bestRegret := -1.0
		for idx, node := range pool {
			first, second := math.MaxFloat64, math.MaxFloat64
			fv, fpos := -1, -1
			for v := range orders {
				for pos := 0; pos <= len(orders[v]); pos++ {
					delta, ok := insertionDelta(p, orders, v, pos, node)
					if !ok {
						continue
					}
					if delta < first {
						second = first
						first, fv, fpos = delta, v, pos
					} else if delta < second {
						second = delta
					}
				}
			}
			if fv < 0 {
				continue
			}
			regret := second - first
			if second == math.MaxFloat64 {
				regret = math.MaxFloat64 // only one slot left anywhere
			}
			if regret > bestRegret {
				bestIdx, bestV, bestPos, bestRegret = idx, fv, fpos, regret
			}
		}
		if bestIdx < 0 {
			return pool
		}
		orders[bestV] = insertAt(orders[bestV], bestPos, pool[bestIdx])
		pool = append(pool[:bestIdx], pool[bestIdx+1:]...)
	}
	return pool
}

func bestInsertion(p Problem, orders [][]int, node int) (veh, pos int, delta float64, ok bool) {
	veh, pos, delta = -1, -1, math.MaxFloat64
	for v := range orders {
		for i := 0; i <= len(orders[v]); i++ {
			d, feasible := insertionDelta(p, orders, v, i, node)
			if feasible && d < delta {
				veh, pos, delta, ok = v, i, d, true
			}
		}
	}
	return veh, pos, delta, ok
}

// insertionDelta computes the distance delta of inserting node at pos in
// vehicle v's order, checking schedule feasibility of the result.
func insertionDelta(p Problem, orders [][]int, v, pos, node int) (float64, bool) {
	order := orders[v]
	prev := p.Depot
	if pos > 0 {
		prev = order[pos-1]
	}
	next := p.Destination
	if pos < len(order) {
		next = order[pos]
	}
	delta := p.DistKM[prev][node] + p.DistKM[node][next] - p.DistKM[prev][next]

	trial := insertAt(append([]int(nil), order...), pos, node)
	if _, _, ok := scheduleRoute(p, v, trial); !ok {
		return 0, false
	}
	return delta, true
}

func insertAt(order []int, pos, node int) []int {
	order = append(order, 0)
	copy(order[pos+1:], order[pos:])
	order[pos] = node
	return order
}

// removeRandom pulls q random assigned nodes out of the routes.
func removeRandom(orders [][]int, q int, rng *rand.Rand) []int {
	var removed []int
	for len(removed) < q {
		flat := flatten(orders)
		if len(flat) == 0 {
			return removed
		}
		pick := flat[rng.Intn(len(flat))]
		removeNode(orders, pick)
		removed = append(removed, pick)
	}
	return removed
}

// removeRelated removes a random seed node plus the q-1 nodes most related
// to it by distance and window proximity, so the reinsertion step can swap
// them between vehicles.
func removeRelated(p Problem, orders [][]int, q int, rng *rand.Rand) []int {
	flat := flatten(orders)
	if len(flat) == 0 {
		return nil
	}
	seedNode := flat[rng.Intn(len(flat))]

	related := append([]int(nil), flat...)
	sort.Slice(related, func(i, j int) bool {
		return relatedness(p, seedNode, related[i]) < relatedness(p, seedNode, related[j])
	})
	if q > len(related) {
		q = len(related)
	}
	removed := related[:q]
	for _, node := range removed {
		removeNode(orders, node)
	}
	return append([]int(nil), removed...)
}

func relatedness(p Problem, a, b int) float64 {
	return p.DistKM[a][b] + 0.1*math.Abs(float64(p.Windows[a][0]-p.Windows[b][0]))
}

func flatten(orders [][]int) []int {
	var flat []int
	for _, o := range orders {
		flat = append(flat, o...)
	}
	return flat
}

func removeNode(orders [][]int, node int) {
	for v, o := range orders {
		for i, n := range o {
			if n == node {
				orders[v] = append(o[:i], o[i+1:]...)
				return
			}
		}
	}
}

// twoOptAll applies first-improvement 2-opt within each route, keeping
// only reversals that stay schedule-feasible.
func twoOptAll(p Problem, orders [][]int) {
	for v := range orders {
		order := orders[v]
		improved := true
		for improved {
			improved = false
			for i := 0; i < len(order)-1 && !improved; i++ {
				for j := i + 1; j < len(order) && !improved; j++ {
					before := segmentCost(p, order)
					reverse(order, i, j)
					if _, _, ok := scheduleRoute(p, v, order); ok && segmentCost(p, order) < before {
						improved = true
						continue
					}
					reverse(order, i, j)
				}
			}
		}
	}
}

func reverse(order []int, i, j int) {
	for i < j {
		order[i], order[j] = order[j], order[i]
		i++
		j--
	}
}

func segmentCost(p Problem, order []int) float64 {
	cost := 0.0
	prev := p.Depot
	for _, node := range order {
		cost += p.DistKM[prev][node]
		prev = node
	}
	return cost + p.DistKM[prev][p.Destination]
}

func totalDistance(p Problem, orders [][]int) float64 {
	total := 0.0
	for _, order := range orders {
		if len(order) == 0 {
			continue
		}
		total += segmentCost(p, order)
	}
	return total
}

// scheduleRoute propagates stop times and loads along one vehicle's
// depot->pickups->destination sequence. Departure from the depot is pushed
// as late as the depot window allows so the first pickup is met without
// idling. A wait ahead of a window is capped; when the cap would be
// exceeded the whole earlier schedule is delayed by the minimal amount,
// failing the route if any earlier window cannot absorb the delay.
func scheduleRoute(p Problem, veh int, order []int) (times, loads []int, ok bool) {
	nodes := make([]int, 0, len(order)+2)
	nodes = append(nodes, p.Depot)
	nodes = append(nodes, order...)
	nodes = append(nodes, p.Destination)

	load := 0
	for _, node := range order {
		load += p.Demands[node]
	}
	if load > p.Capacities[veh] {
		return nil, nil, false
	}

	depart := p.Windows[p.Depot][0]
	if len(nodes) > 1 {
		first := nodes[1]
		depart = p.Windows[first][0] - p.TimeMin[p.Depot][first]
		if depart < p.Windows[p.Depot][0] {
			depart = p.Windows[p.Depot][0]
		}
		if depart > p.Windows[p.Depot][1] {
			depart = p.Windows[p.Depot][1]
		}
	}

	times = make([]int, len(nodes))
	loads = make([]int, len(nodes))
	times[0] = depart

	onboard := 0
	for i := 1; i < len(nodes); i++ {
		node := nodes[i]
		t := times[i-1] + p.TimeMin[nodes[i-1]][node]
		if nodes[i-1] != p.Depot {
			t += ServiceMinutes
		}
		w := p.Windows[node]
		if t < w[0] {
			if wait := w[0] - t; wait > MaxWaitMinutes {
				if !delaySchedule(p, nodes, times, i, wait-MaxWaitMinutes) {
					return nil, nil, false
				}
			}
			t = w[0]
		}
		if t > w[1] {
			return nil, nil, false
		}
		times[i] = t
		if node != p.Destination {
			onboard += p.Demands[node]
		}
		loads[i] = onboard
	}
	if times[len(times)-1]-times[0] > MaxRouteMinutes {
		return nil, nil, false
	}
	return times, loads, true
}

// delaySchedule pushes every stop before index i later by delta minutes.
// Relative gaps are preserved, so earlier waits are untouched; the shift
// only succeeds if every affected window still contains its stop.
func delaySchedule(p Problem, nodes []int, times []int, i, delta int) bool {
	for j := 0; j < i; j++ {
		if times[j]+delta > p.Windows[nodes[j]][1] {
			return false
		}
	}
	for j := 0; j < i; j++ {
		times[j] += delta
	}
	return true
}

// buildAssignment materializes the final per-vehicle sequences with their
// schedules. Every route carries the full depot->...->destination node
// list, including vehicles with no pickups.
func buildAssignment(p Problem, orders [][]int) (Assignment, bool) {
	asn := Assignment{
		Routes:    make([][]int, len(orders)),
		CumulTime: make([][]int, len(orders)),
		CumulLoad: make([][]int, len(orders)),
	}
	for v, order := range orders {
		nodes := make([]int, 0, len(order)+2)
		nodes = append(nodes, p.Depot)
		nodes = append(nodes, order...)
		nodes = append(nodes, p.Destination)
		asn.Routes[v] = nodes

		if len(order) == 0 {
			asn.CumulTime[v] = []int{p.Windows[p.Depot][0], p.Windows[p.Destination][0]}
			asn.CumulLoad[v] = []int{0, 0}
			continue
		}
		times, loads, ok := scheduleRoute(p, v, order)
		if !ok {
			return Assignment{}, false
		}
		asn.CumulTime[v] = times
		asn.CumulLoad[v] = loads
	}
	return asn, true
}
