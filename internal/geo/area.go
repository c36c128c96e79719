package geo

import (
	"github.com/paulmach/orb"

	"tourplan/internal/model"
)

// BoundingBox returns the padded bounding box of a location set. The
// padding of 0.001 degrees (~100 m) absorbs coordinate jitter at the
// edges of the service area.
func BoundingBox(locations []model.Location) orb.Bound {
	var b orb.Bound
	for i, loc := range locations {
		p := orb.Point{loc.Lng, loc.Lat}
		if i == 0 {
			b = orb.Bound{Min: p, Max: p}
			continue
		}
		b = b.Extend(p)
	}
	return b.Pad(0.001)
}

// SpanKM is the great-circle diagonal of a bounding box, used to sanity
// check a request's max-distance constraint against the spread of its
// pickup points.
func SpanKM(b orb.Bound) float64 {
	return HaversineKM(b.Min.Lat(), b.Min.Lon(), b.Max.Lat(), b.Max.Lon())
}
