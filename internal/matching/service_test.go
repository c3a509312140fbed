package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/carpool/internal/models"
)

type fakeIndex struct{ cands []models.Candidate }

func (f *fakeIndex) Nearby(lat, lon float64, limit int) []models.Candidate { return f.cands }

type fakeRider struct {
	prefs   *models.Preferences
	friends map[string]bool
	history map[string]bool
	err     error
}

func (f *fakeRider) Preferences(ctx context.Context, riderID string) (*models.Preferences, error) {
	return f.prefs, f.err
}
func (f *fakeRider) Friends(ctx context.Context, riderID string) (map[string]bool, error) {
	return f.friends, f.err
}
func (f *fakeRider) RiddenWith(ctx context.Context, riderID string) (map[string]bool, error) {
	return f.history, f.err
}

func TestSearchExcludesBelowFloorAndSorts(t *testing.T) {
	dep := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	req := models.SearchRequest{
		RiderID:     "rider-1",
		Origin:      models.Coord{Lat: 51.51, Lon: -0.13},
		Destination: models.Coord{Lat: 53.48, Lon: -2.24},
		Departure:   dep,
	}
	idx := &fakeIndex{cands: []models.Candidate{
		{RideID: "good", DriverID: "d1", Origin: req.Origin, Destination: req.Destination, Departure: dep, Seats: 2, DriverRating: 4},
		{RideID: "best", DriverID: "d2", Origin: req.Origin, Destination: req.Destination, Departure: dep, Seats: 2, DriverRating: 5},
		{RideID: "far", DriverID: "d3", Origin: models.Coord{Lat: 40, Lon: 30}, Destination: models.Coord{Lat: 41, Lon: 31}, Departure: dep.Add(3 * time.Hour), Seats: 2},
	}}
	s := &Service{Index: idx, Rider: &fakeRider{}}

	got, err := s.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].Candidate.RideID != "best" {
		t.Fatalf("expected best first, got %s", got[0].Candidate.RideID)
	}
	for _, m := range got {
		if m.Score.Total < MinScore {
			t.Fatalf("match %s below floor: %d", m.Candidate.RideID, m.Score.Total)
		}
	}
}

func TestSearchPropagatesBackendFailure(t *testing.T) {
	req := models.SearchRequest{RiderID: "rider-1"}
	s := &Service{Index: &fakeIndex{}, Rider: &fakeRider{err: errors.New("backend down")}}
	if _, err := s.Search(context.Background(), req); err == nil {
		t.Fatal("expected error from rider context failure")
	}
}

func TestSearchSkipsOwnRide(t *testing.T) {
	dep := time.Now()
	req := models.SearchRequest{
		RiderID:   "u1",
		Origin:    models.Coord{Lat: 1, Lon: 1},
		Departure: dep,
	}
	idx := &fakeIndex{cands: []models.Candidate{
		{RideID: "mine", DriverID: "u1", Origin: req.Origin, Destination: req.Destination, Departure: dep, Seats: 2, DriverRating: 5},
	}}
	s := &Service{Index: idx, Rider: &fakeRider{}}
	got, err := s.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected own ride excluded, got %d matches", len(got))
	}
}

func TestSearchUsesInlinePreferences(t *testing.T) {
	dep := time.Now()
	prefs := &models.Preferences{Music: "any"}
	req := models.SearchRequest{
		RiderID:     "rider-1",
		Origin:      models.Coord{Lat: 1, Lon: 1},
		Destination: models.Coord{Lat: 2, Lon: 2},
		Departure:   dep,
		Preferences: prefs,
	}
	idx := &fakeIndex{cands: []models.Candidate{
		{RideID: "r", DriverID: "d", Origin: req.Origin, Destination: req.Destination, Departure: dep, Seats: 1, DriverRating: 4, Policy: &models.RidePolicy{Music: "rock"}},
	}}
	// preferences come from the request; the store copy is not consulted
	s := &Service{Index: idx, Rider: &fakeRider{friends: map[string]bool{}, history: map[string]bool{}}}
	got, err := s.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	if got[0].Score.Prefs == 0 {
		t.Fatal("expected inline preferences to be scored")
	}
}

func TestSearchFiltersByMinRating(t *testing.T) {
	dep := time.Now()
	req := models.SearchRequest{
		RiderID:     "rider-1",
		Origin:      models.Coord{Lat: 51.51, Lon: -0.13},
		Destination: models.Coord{Lat: 53.48, Lon: -2.24},
		Departure:   dep,
		Preferences: &models.Preferences{MinRating: 4.5},
	}
	idx := &fakeIndex{cands: []models.Candidate{
		{RideID: "low", DriverID: "d1", Origin: req.Origin, Destination: req.Destination, Departure: dep, Seats: 2, DriverRating: 4},
		{RideID: "high", DriverID: "d2", Origin: req.Origin, Destination: req.Destination, Departure: dep, Seats: 2, DriverRating: 4.8},
	}}
	s := &Service{Index: idx, Rider: &fakeRider{}}

	got, err := s.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Candidate.RideID != "high" {
		t.Fatalf("expected only the 4.8-rated ride, got %+v", got)
	}
}

func TestSearchFiltersByMaxDetour(t *testing.T) {
	dep := time.Now()
	req := models.SearchRequest{
		RiderID:     "rider-1",
		Origin:      models.Coord{Lat: 51.51, Lon: -0.13},
		Destination: models.Coord{Lat: 53.48, Lon: -2.24},
		Departure:   dep,
		Preferences: &models.Preferences{MaxDetourKm: 3},
	}
	idx := &fakeIndex{cands: []models.Candidate{
		// ~0km off both endpoints
		{RideID: "near", DriverID: "d1", Origin: req.Origin, Destination: req.Destination, Departure: dep, Seats: 2, DriverRating: 5},
		// origin ~4.4km north of the rider's, over the 3km cap
		{RideID: "off", DriverID: "d2", Origin: models.Coord{Lat: 51.55, Lon: -0.13}, Destination: req.Destination, Departure: dep, Seats: 2, DriverRating: 5},
	}}
	s := &Service{Index: idx, Rider: &fakeRider{}}

	got, err := s.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Candidate.RideID != "near" {
		t.Fatalf("expected the off-route ride filtered, got %+v", got)
	}
}
