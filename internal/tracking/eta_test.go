package tracking

import (
	"testing"

	"github.com/example/carpool/internal/models"
)

func TestETAZeroAtSamePoint(t *testing.T) {
	p := models.Coord{Lat: 51.5, Lon: -0.12}
	if got := ETAMinutes(p, p, 50); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestETASpeedFloor(t *testing.T) {
	from := models.Coord{Lat: 0, Lon: 0}
	to := models.Coord{Lat: 0, Lon: 0.5} // ~55.6 km along the equator

	stationary := ETAMinutes(from, to, 0)
	crawling := ETAMinutes(from, to, 5)
	floored := ETAMinutes(from, to, 30)
	if stationary != floored || crawling != floored {
		t.Fatalf("expected floor at 30 km/h: %d %d %d", stationary, crawling, floored)
	}

	fast := ETAMinutes(from, to, 60)
	if fast >= floored {
		t.Fatalf("faster speed should shrink ETA: %d vs %d", fast, floored)
	}
}

func TestETAMonotonicInDistance(t *testing.T) {
	from := models.Coord{Lat: 0, Lon: 0}
	prev := -1
	for i := 1; i <= 10; i++ {
		to := models.Coord{Lat: 0, Lon: float64(i) * 0.5}
		got := ETAMinutes(from, to, 60)
		if got <= prev {
			t.Fatalf("ETA not increasing at step %d: %d <= %d", i, got, prev)
		}
		prev = got
	}
}
