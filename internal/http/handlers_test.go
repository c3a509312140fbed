package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/carpool/internal/config"
	"github.com/example/carpool/internal/models"
)

func newTestServer() *Server {
	return NewServer(config.ServerConfig{MatcherTopN: 20, Currency: "usd", LogLevel: "error"})
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func createRide(t *testing.T, s *Server, driverID string, seats int) string {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/v1/rides", map[string]any{
		"driver_id":   driverID,
		"origin":      models.Coord{Lat: 51.5074, Lon: -0.1278},
		"destination": models.Coord{Lat: 53.4808, Lon: -2.2426},
		"departure":   time.Now().Add(time.Hour).Format(time.RFC3339),
		"seats":       seats,
		"price":       15.0,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create ride: %d %s", w.Code, w.Body.String())
	}
	var out map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out["ride_id"]
}

func TestSearchEndpoint(t *testing.T) {
	s := newTestServer()
	createRide(t, s, "driver-1", 3)

	w := doJSON(t, s, http.MethodPost, "/api/v1/rides/search", models.SearchRequest{
		RiderID:     "rider-1",
		Origin:      models.Coord{Lat: 51.51, Lon: -0.13},
		Destination: models.Coord{Lat: 53.48, Lon: -2.24},
		Departure:   time.Now().Add(time.Hour),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("search: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Matches []models.Match `json:"matches"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(resp.Matches))
	}
	if resp.Matches[0].Score.Total < 40 {
		t.Fatalf("expected score over floor, got %d", resp.Matches[0].Score.Total)
	}
}

func TestWaitlistEndpoints(t *testing.T) {
	s := newTestServer()
	rideID := createRide(t, s, "driver-1", 1)

	join := map[string]any{"user_id": "u1", "ride_id": rideID, "notify": true}
	if w := doJSON(t, s, http.MethodPost, "/api/v1/waitlist/join", join); w.Code != http.StatusCreated {
		t.Fatalf("join: %d %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, s, http.MethodPost, "/api/v1/waitlist/join", join); w.Code != http.StatusConflict {
		t.Fatalf("expected conflict on duplicate join, got %d", w.Code)
	}
	leave := map[string]any{"user_id": "u1", "ride_id": rideID}
	if w := doJSON(t, s, http.MethodPost, "/api/v1/waitlist/leave", leave); w.Code != http.StatusNoContent {
		t.Fatalf("leave: %d %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, s, http.MethodPost, "/api/v1/waitlist/leave", leave); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 leaving twice, got %d", w.Code)
	}
}

func TestExperimentEndpoints(t *testing.T) {
	s := newTestServer()
	exp := models.Experiment{
		ID:      "ranking-v2",
		Traffic: 100,
		Variants: []models.Variant{
			{ID: "control", Weight: 50, Control: true},
			{ID: "treatment", Weight: 50},
		},
	}
	if w := doJSON(t, s, http.MethodPost, "/internal/experiments", exp); w.Code != http.StatusNoContent {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}

	url := "/api/v1/experiments/ranking-v2/assignment?user_id=u1"
	first := doJSON(t, s, http.MethodGet, url, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("assignment: %d %s", first.Code, first.Body.String())
	}
	second := doJSON(t, s, http.MethodGet, url, nil)
	if first.Body.String() != second.Body.String() {
		t.Fatalf("assignment not stable: %s vs %s", first.Body.String(), second.Body.String())
	}

	if w := doJSON(t, s, http.MethodGet, "/api/v1/experiments/unknown/assignment?user_id=u1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown experiment, got %d", w.Code)
	}
}

func TestRideLocationAndStatus(t *testing.T) {
	s := newTestServer()
	rideID := createRide(t, s, "driver-1", 2)

	loc := models.RideLocation{
		RideID:     rideID,
		Loc:        models.Coord{Lat: 51.52, Lon: -0.14},
		SpeedKmh:   40,
		RecordedAt: time.Now(),
	}
	if w := doJSON(t, s, http.MethodPost, "/internal/ride/locations", loc); w.Code != http.StatusNoContent {
		t.Fatalf("location: %d %s", w.Code, w.Body.String())
	}

	w := doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/v1/rides/%s/status?user_id=u1", rideID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "driver_on_way" {
		t.Fatalf("expected driver_on_way, got %v", resp["status"])
	}
	if _, ok := resp["eta_minutes"]; !ok {
		t.Fatal("expected eta_minutes in response")
	}
}

func TestStatusWithoutLocation(t *testing.T) {
	s := newTestServer()
	w := doJSON(t, s, http.MethodGet, "/api/v1/rides/nope/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "waiting" {
		t.Fatalf("expected waiting with no data, got %v", resp["status"])
	}
}

func TestBookingCancelAndRideComplete(t *testing.T) {
	s := newTestServer()
	ctx := context.Background()
	rideID := createRide(t, s, "driver-1", 1)

	booking := &models.Booking{
		ID:        "b1",
		RideID:    rideID,
		UserID:    "u1",
		Status:    "confirmed",
		CreatedAt: time.Now(),
	}
	if err := s.Lifecycle.Bookings.CreateBooking(ctx, booking); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, s, http.MethodPost, "/api/v1/bookings/b1/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	var b models.Booking
	if err := json.Unmarshal(w.Body.Bytes(), &b); err != nil {
		t.Fatal(err)
	}
	if b.Status != "canceled" {
		t.Fatalf("expected canceled, got %s", b.Status)
	}
	ride, err := s.Rides.GetRide(ctx, rideID)
	if err != nil {
		t.Fatal(err)
	}
	if ride.Seats != 2 {
		t.Fatalf("expected freed seat, got %d", ride.Seats)
	}

	if w := doJSON(t, s, http.MethodPost, "/api/v1/bookings/b1/cancel", nil); w.Code == http.StatusOK {
		t.Fatal("expected error canceling twice")
	}

	if w := doJSON(t, s, http.MethodPost, "/internal/rides/"+rideID+"/complete", nil); w.Code != http.StatusNoContent {
		t.Fatalf("complete: %d %s", w.Code, w.Body.String())
	}
	ride, _ = s.Rides.GetRide(ctx, rideID)
	if ride.Status != "completed" {
		t.Fatalf("expected completed, got %s", ride.Status)
	}

	if w := doJSON(t, s, http.MethodPost, "/internal/rides/nope/complete", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown ride, got %d", w.Code)
	}
}

func TestCreateRideCarriesDriverProfile(t *testing.T) {
	s := newTestServer()
	w := doJSON(t, s, http.MethodPost, "/api/v1/rides", map[string]any{
		"driver_id":       "driver-1",
		"origin":          models.Coord{Lat: 51.5074, Lon: -0.1278},
		"destination":     models.Coord{Lat: 53.4808, Lon: -2.2426},
		"departure":       time.Now().Add(time.Hour).Format(time.RFC3339),
		"seats":           2,
		"price":           15.0,
		"driver_rating":   4.8,
		"driver_verified": true,
		"policy":          models.RidePolicy{Music: "any"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create ride: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPost, "/api/v1/rides/search", models.SearchRequest{
		RiderID:     "rider-1",
		Origin:      models.Coord{Lat: 51.51, Lon: -0.13},
		Destination: models.Coord{Lat: 53.48, Lon: -2.24},
		Departure:   time.Now().Add(time.Hour),
		Preferences: &models.Preferences{Music: "any", RequireVerified: true},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("search: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Matches []models.Match `json:"matches"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(resp.Matches))
	}
	m := resp.Matches[0]
	if m.Score.Prefs == 0 {
		t.Fatal("expected the ride policy to reach the scorer")
	}
	if m.Score.Rating == 0 {
		t.Fatal("expected the driver rating to reach the scorer")
	}
	if m.Candidate.Policy == nil || !m.Candidate.DriverVerified {
		t.Fatalf("candidate lost driver profile: %+v", m.Candidate)
	}
}

func rideStatus(t *testing.T, s *Server, rideID, userID string) map[string]any {
	t.Helper()
	url := fmt.Sprintf("/api/v1/rides/%s/status", rideID)
	if userID != "" {
		url += "?user_id=" + userID
	}
	w := doJSON(t, s, http.MethodGet, url, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestRidePhaseProgression(t *testing.T) {
	s := newTestServer()
	rideID := createRide(t, s, "driver-1", 2)

	postLoc := func(lat, lon float64) {
		t.Helper()
		loc := models.RideLocation{RideID: rideID, Loc: models.Coord{Lat: lat, Lon: lon}, SpeedKmh: 40, RecordedAt: time.Now()}
		if w := doJSON(t, s, http.MethodPost, "/internal/ride/locations", loc); w.Code != http.StatusNoContent {
			t.Fatalf("location: %d %s", w.Code, w.Body.String())
		}
	}

	// located but the driver has not started the ride
	postLoc(51.60, -0.13)
	if got := rideStatus(t, s, rideID, "u1")["status"]; got != "driver_on_way" {
		t.Fatalf("expected driver_on_way, got %v", got)
	}

	// started, ~10km from the pickup point
	if w := doJSON(t, s, http.MethodPost, "/internal/rides/"+rideID+"/start", nil); w.Code != http.StatusNoContent {
		t.Fatalf("start: %d %s", w.Code, w.Body.String())
	}
	if got := rideStatus(t, s, rideID, "u1")["status"]; got != "picking_up" {
		t.Fatalf("expected picking_up, got %v", got)
	}

	// pulls up next to the pickup point
	postLoc(51.508, -0.128)
	if got := rideStatus(t, s, rideID, "u1")["status"]; got != "arriving" {
		t.Fatalf("expected arriving, got %v", got)
	}

	// rider boards
	if w := doJSON(t, s, http.MethodPost, "/internal/rides/"+rideID+"/pickup", map[string]string{"user_id": "u1"}); w.Code != http.StatusNoContent {
		t.Fatalf("pickup: %d %s", w.Code, w.Body.String())
	}
	if got := rideStatus(t, s, rideID, "u1")["status"]; got != "in_transit" {
		t.Fatalf("expected in_transit for the boarded rider, got %v", got)
	}
	if got := rideStatus(t, s, rideID, "u2")["status"]; got != "arriving" {
		t.Fatalf("expected arriving for a waiting rider, got %v", got)
	}

	// ride ends
	if w := doJSON(t, s, http.MethodPost, "/internal/rides/"+rideID+"/complete", nil); w.Code != http.StatusNoContent {
		t.Fatalf("complete: %d %s", w.Code, w.Body.String())
	}
	if got := rideStatus(t, s, rideID, "u1")["status"]; got != "completed" {
		t.Fatalf("expected completed, got %v", got)
	}
}

func TestPickupIsIdempotent(t *testing.T) {
	s := newTestServer()
	rideID := createRide(t, s, "driver-1", 2)

	for i := 0; i < 2; i++ {
		if w := doJSON(t, s, http.MethodPost, "/internal/rides/"+rideID+"/pickup", map[string]string{"user_id": "u1"}); w.Code != http.StatusNoContent {
			t.Fatalf("pickup: %d %s", w.Code, w.Body.String())
		}
	}
	st, ok := s.Tracker.Latest(rideID)
	if !ok || len(st.Onboard) != 1 {
		t.Fatalf("expected one onboard entry, got %+v", st.Onboard)
	}
}

type cannedLive struct {
	st models.TrackingState
}

func (c *cannedLive) Latest(ctx context.Context, rideID string) (models.TrackingState, bool) {
	if rideID != c.st.RideID {
		return models.TrackingState{}, false
	}
	return c.st, true
}

func TestStatusFallsBackToConsumerState(t *testing.T) {
	s := newTestServer()
	rideID := createRide(t, s, "driver-1", 2)

	// the tracker never saw this ride; only the kafka consumer's redis
	// mirror has a position
	s.Live = &cannedLive{st: models.TrackingState{
		RideID:   rideID,
		Current:  &models.Coord{Lat: 51.52, Lon: -0.14},
		SpeedKmh: 40,
	}}

	resp := rideStatus(t, s, rideID, "u1")
	if resp["status"] != "driver_on_way" {
		t.Fatalf("expected driver_on_way from the fallback, got %v", resp["status"])
	}
	if _, ok := resp["eta_minutes"]; !ok {
		t.Fatal("expected an eta computed from the fallback position")
	}
	if resp["location"] == nil {
		t.Fatal("expected the fallback location in the response")
	}
}
