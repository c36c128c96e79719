// Package geo computes symmetric distance/duration matrices between
// coordinates. Two interchangeable providers exist: a local great-circle
// calculation and a live distance-matrix lookup that degrades to the local
// formula per cell.
package geo

import (
	"context"

	"tourplan/internal/model"
)

// Method names reported on every matrix so callers can tell which
// computation produced it.
const (
	MethodHaversine         = "haversine"
	MethodLive              = "live"
	MethodHaversineFallback = "haversine_fallback"
)

// Matrix holds pairwise road distances (km) and travel durations (minutes)
// for an ordered location list. Both are symmetric with a zero diagonal.
type Matrix struct {
	DistanceKM  [][]float64
	DurationMin [][]int
	Method      string
}

// MatrixProvider is the distance-lookup contract the optimization engine
// depends on. Implementations must be safe for concurrent use.
type MatrixProvider interface {
	Matrix(ctx context.Context, locations []model.Location) (Matrix, error)
}
