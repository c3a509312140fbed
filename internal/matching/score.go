package matching

import (
	"math"

	"github.com/example/carpool/internal/geo"
	"github.com/example/carpool/internal/models"
)

// Fixed category weights. The total of all categories is 100.
const (
	weightRoute   = 30.0
	weightTime    = 25.0
	weightPrefs   = 20.0 // four 5-point checks
	weightSocial  = 10.0
	weightRating  = 10.0
	weightHistory = 5.0

	prefCheckPoints = 5.0

	// MinScore is the floor below which candidates are dropped from results.
	MinScore = 40

	// proximityRangeKm is the distance at which a route proximity
	// sub-score decays to zero.
	proximityRangeKm = 5.0

	timeDecayMinutes = 60.0
)

// Notability thresholds for reasons. Presentational only; they never
// affect the score itself.
const (
	notableOverlap    = 0.7
	notableTimeGapMin = 15.0
	notablePrefHits   = 2
	notableRating     = 4.5
)

// ScoreInputs carries the optional per-rider context fetched from the
// backend before scoring. Zero values mean "unknown" and contribute
// nothing; scoring itself never fails.
type ScoreInputs struct {
	Preferences *models.Preferences
	Friends     map[string]bool
	RiddenWith  map[string]bool // driver ids with a prior completed booking
}

// ScoreCandidate computes the composite 0-100 score for one candidate
// against a search request.
func ScoreCandidate(c models.Candidate, req models.SearchRequest, in ScoreInputs) models.Score {
	var s models.Score

	originKm := geo.Haversine(req.Origin.Lat, req.Origin.Lon, c.Origin.Lat, c.Origin.Lon)
	destKm := geo.Haversine(req.Destination.Lat, req.Destination.Lon, c.Destination.Lat, c.Destination.Lon)
	originProx := proximity(originKm)
	destProx := proximity(destKm)
	overlap := (originProx + destProx) / 2
	s.Route = overlap * weightRoute

	gapMin := math.Abs(c.Departure.Sub(req.Departure).Minutes())
	s.Time = math.Max(0, weightTime*(1-gapMin/timeDecayMinutes))

	prefHits := 0
	if in.Preferences != nil && c.Policy != nil {
		p, pol := in.Preferences, c.Policy
		if p.SmokingAllowed == pol.SmokingAllowed {
			prefHits++
		}
		if p.PetsAllowed == pol.PetsAllowed {
			prefHits++
		}
		if musicCompatible(p.Music, pol.Music) {
			prefHits++
		}
		if !p.RequireVerified || c.DriverVerified {
			prefHits++
		}
		s.Prefs = float64(prefHits) * prefCheckPoints
	}

	if in.Friends[c.DriverID] {
		s.Social = weightSocial
	}

	s.Rating = c.DriverRating / 5 * weightRating

	if in.RiddenWith[c.DriverID] {
		s.History = weightHistory
	}

	s.Total = int(math.Round(s.Route + s.Time + s.Prefs + s.Social + s.Rating + s.History))
	s.Reasons = reasons(overlap, gapMin, prefHits, s.Social > 0, s.History > 0, c.DriverRating)
	return s
}

func proximity(km float64) float64 {
	return math.Max(0, 1-km/proximityRangeKm)
}

func musicCompatible(want, have string) bool {
	if want == "" || have == "" {
		return false
	}
	return want == "any" || have == "any" || want == have
}

func reasons(overlap, gapMin float64, prefHits int, social, history bool, rating float64) []string {
	var out []string
	if overlap >= notableOverlap {
		out = append(out, "Route closely matches yours")
	}
	if gapMin <= notableTimeGapMin {
		out = append(out, "Departs around your preferred time")
	}
	if prefHits >= notablePrefHits {
		out = append(out, "Shares your ride preferences")
	}
	if social {
		out = append(out, "Driver is in your network")
	}
	if rating >= notableRating {
		out = append(out, "Highly rated driver")
	}
	if history {
		out = append(out, "You have ridden with this driver before")
	}
	return out
}
