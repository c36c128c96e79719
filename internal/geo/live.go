package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tourplan/internal/model"
)

// LiveMatrix queries an external distance-matrix API for road distances
// and durations. Any element the API cannot resolve falls back to the
// great-circle formula for that cell; a failed request falls back for the
// whole matrix. The Method field of the result records which path was
// taken.
type LiveMatrix struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	local      *Haversine
}

func NewLiveMatrix(apiKey, baseURL string, speedKPH float64) *LiveMatrix {
	if baseURL == "" {
		baseURL = "https://maps.googleapis.com/maps/api/distancematrix/json"
	}
	return &LiveMatrix{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		local:      NewHaversine(speedKPH),
	}
}

func (l *LiveMatrix) Matrix(ctx context.Context, locations []model.Location) (Matrix, error) {
	if l.apiKey == "" {
		return l.local.Matrix(ctx, locations)
	}
	resp, err := l.fetch(ctx, locations)
	if err != nil {
		log.Printf("distance matrix lookup failed, using haversine: %v", err)
		m, _ := l.local.Matrix(ctx, locations)
		m.Method = MethodHaversineFallback
		return m, nil
	}

	n := len(locations)
	dist := make([][]float64, n)
	dur := make([][]int, n)
	degraded := false
	for i := 0; i < n; i++ {
		dist[i] = make([]float64, n)
		dur[i] = make([]int, n)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			el := resp.Rows[i].Elements[j]
			if el.Status == "OK" {
				dist[i][j] = round2(float64(el.Distance.Value) / 1000)
				dur[i][j] = (el.Duration.Value + 30) / 60
				continue
			}
			// Per-cell degradation keeps one bad element from failing
			// the whole request.
			degraded = true
			d := HaversineKM(locations[i].Lat, locations[i].Lng, locations[j].Lat, locations[j].Lng)
			dist[i][j] = d
			dur[i][j] = DurationMinutes(d, l.local.SpeedKPH)
		}
	}
	method := MethodLive
	if degraded {
		method = MethodHaversineFallback
	}
	return Matrix{DistanceKM: dist, DurationMin: dur, Method: method}, nil
}

type matrixResponse struct {
	Status string      `json:"status"`
	Rows   []matrixRow `json:"rows"`
}

type matrixRow struct {
	Elements []matrixElement `json:"elements"`
}

type matrixElement struct {
	Status   string      `json:"status"`
	Distance matrixValue `json:"distance"`
	Duration matrixValue `json:"duration"`
}

type matrixValue struct {
	Value int `json:"value"` // meters / seconds
}

func (l *LiveMatrix) fetch(ctx context.Context, locations []model.Location) (*matrixResponse, error) {
	coords := make([]string, len(locations))
	for i, loc := range locations {
		coords[i] = fmt.Sprintf("%f,%f", loc.Lat, loc.Lng)
	}
	joined := strings.Join(coords, "|")

	params := url.Values{}
	params.Set("origins", joined)
	params.Set("destinations", joined)
	params.Set("mode", "driving")
	params.Set("units", "metric")
	params.Set("key", l.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build matrix request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("matrix request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("matrix request: unexpected status %s", resp.Status)
	}

	var body matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode matrix response: %w", err)
	}
	if body.Status != "OK" {
		return nil, fmt.Errorf("matrix response status %q", body.Status)
	}
	if len(body.Rows) != len(locations) {
		return nil, fmt.Errorf("matrix response has %d rows, want %d", len(body.Rows), len(locations))
	}
	for i := range body.Rows {
		if len(body.Rows[i].Elements) != len(locations) {
			return nil, fmt.Errorf("matrix row %d has %d elements, want %d", i, len(body.Rows[i].Elements), len(locations))
		}
	}
	return &body, nil
}
