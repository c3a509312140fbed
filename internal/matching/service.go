package matching

import (
	"context"
	"fmt"
	"sort"

	"github.com/example/carpool/internal/geo"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
)

// Index supplies candidate rides near an origin.
type Index interface {
	Nearby(lat, lon float64, limit int) []models.Candidate
}

// RiderContext fetches the per-rider data that feeds the optional score
// categories. Any failure here aborts the whole search; the caller sees
// the error, not a partial ranking.
type RiderContext interface {
	Preferences(ctx context.Context, riderID string) (*models.Preferences, error)
	Friends(ctx context.Context, riderID string) (map[string]bool, error)
	RiddenWith(ctx context.Context, riderID string) (map[string]bool, error)
}

type Service struct {
	Index Index
	Rider RiderContext
	TopN  int
}

// Search ranks nearby candidates for the request. Candidates scoring
// below MinScore are excluded; the rest come back sorted descending,
// ties in stable candidate order.
func (s *Service) Search(ctx context.Context, req models.SearchRequest) ([]models.Match, error) {
	topN := s.TopN
	if topN <= 0 {
		topN = 20
	}

	in := ScoreInputs{Preferences: req.Preferences}
	if s.Rider != nil && req.RiderID != "" {
		if in.Preferences == nil {
			prefs, err := s.Rider.Preferences(ctx, req.RiderID)
			if err != nil {
				return nil, fmt.Errorf("load preferences: %w", err)
			}
			in.Preferences = prefs
		}
		friends, err := s.Rider.Friends(ctx, req.RiderID)
		if err != nil {
			return nil, fmt.Errorf("load friends: %w", err)
		}
		in.Friends = friends
		history, err := s.Rider.RiddenWith(ctx, req.RiderID)
		if err != nil {
			return nil, fmt.Errorf("load ride history: %w", err)
		}
		in.RiddenWith = history
	}

	cands := s.Index.Nearby(req.Origin.Lat, req.Origin.Lon, topN)
	out := make([]models.Match, 0, len(cands))
	for _, c := range cands {
		if c.DriverID == req.RiderID {
			continue
		}
		if !admissible(c, req, in.Preferences) {
			continue
		}
		score := ScoreCandidate(c, req, in)
		if score.Total < MinScore {
			continue
		}
		out = append(out, models.Match{Candidate: c, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score.Total > out[j].Score.Total })

	observability.SearchesTotal.Inc()
	observability.MatchesReturned.Observe(float64(len(out)))
	return out, nil
}

// admissible applies the rider's hard limits before scoring: minimum
// driver rating, and how far off the rider's endpoints a ride may sit.
func admissible(c models.Candidate, req models.SearchRequest, p *models.Preferences) bool {
	if p == nil {
		return true
	}
	if p.MinRating > 0 && c.DriverRating < p.MinRating {
		return false
	}
	if p.MaxDetourKm > 0 {
		detour := geo.Haversine(req.Origin.Lat, req.Origin.Lon, c.Origin.Lat, c.Origin.Lon) +
			geo.Haversine(req.Destination.Lat, req.Destination.Lon, c.Destination.Lat, c.Destination.Lon)
		if detour > p.MaxDetourKm {
			return false
		}
	}
	return true
}
