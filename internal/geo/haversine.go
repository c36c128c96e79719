package geo

import (
	"context"
	"math"

	"tourplan/internal/model"
)

const earthRadiusKM = 6371.0

// DefaultSpeedKPH approximates island road conditions; durations derive
// from it when no live data is available.
const DefaultSpeedKPH = 30.0

// HaversineKM returns the great-circle distance between two coordinates
// in kilometers, rounded to 2 decimals.
func HaversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return round2(earthRadiusKM * c)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// DurationMinutes converts a distance to whole minutes at the given
// average speed.
func DurationMinutes(distanceKM, speedKPH float64) int {
	if speedKPH <= 0 {
		speedKPH = DefaultSpeedKPH
	}
	return int(math.Round(distanceKM / speedKPH * 60))
}

// Haversine is the local MatrixProvider. It needs no network and is the
// fallback for the live provider.
type Haversine struct {
	SpeedKPH float64
}

func NewHaversine(speedKPH float64) *Haversine {
	if speedKPH <= 0 {
		speedKPH = DefaultSpeedKPH
	}
	return &Haversine{SpeedKPH: speedKPH}
}

func (h *Haversine) Matrix(_ context.Context, locations []model.Location) (Matrix, error) {
	n := len(locations)
	dist := make([][]float64, n)
	dur := make([][]int, n)
	for i := 0; i < n; i++ {
		dist[i] = make([]float64, n)
		dur[i] = make([]int, n)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			d := HaversineKM(locations[i].Lat, locations[i].Lng, locations[j].Lat, locations[j].Lng)
			dist[i][j] = d
			dur[i][j] = DurationMinutes(d, h.SpeedKPH)
		}
	}
	return Matrix{DistanceKM: dist, DurationMin: dur, Method: MethodHaversine}, nil
}
