package tracking

import (
	"math"

	"github.com/example/carpool/internal/geo"
	"github.com/example/carpool/internal/models"
)

// MinSpeedKmh floors the speed used for ETA so stationary or crawling
// readings never produce an absurd estimate.
const MinSpeedKmh = 30.0

// ETAMinutes is a straight-line estimate: Haversine distance over the
// floored speed. No smoothing, no route snapping.
func ETAMinutes(from, to models.Coord, speedKmh float64) int {
	km := geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon)
	speed := math.Max(speedKmh, MinSpeedKmh)
	return int(math.Round(km / speed * 60))
}
