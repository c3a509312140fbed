package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// SearchRequest is a rider's ride-discovery query.
type SearchRequest struct {
	RiderID     string       `json:"rider_id"`
	Origin      Coord        `json:"origin"`
	Destination Coord        `json:"destination"`
	Departure   time.Time    `json:"departure"`
	Preferences *Preferences `json:"preferences,omitempty"`
}

// Preferences are per-rider weighting inputs for match scoring.
// A nil Preferences means the preference category is skipped entirely.
type Preferences struct {
	SmokingAllowed  bool    `json:"smoking_allowed"`
	PetsAllowed     bool    `json:"pets_allowed"`
	Music           string  `json:"music"` // "any" matches everything
	RequireVerified bool    `json:"require_verified"`
	MaxDetourKm     float64 `json:"max_detour_km"`
	MinRating       float64 `json:"min_rating"`
}

// RidePolicy is the driver-declared counterpart to rider Preferences.
type RidePolicy struct {
	SmokingAllowed bool   `json:"smoking_allowed"`
	PetsAllowed    bool   `json:"pets_allowed"`
	Music          string `json:"music"`
}

// Candidate is one ride considered during a search. Request-scoped,
// never persisted by the scoring engine.
type Candidate struct {
	RideID         string      `json:"ride_id"`
	DriverID       string      `json:"driver_id"`
	Origin         Coord       `json:"origin"`
	Destination    Coord       `json:"destination"`
	Departure      time.Time   `json:"departure"`
	Seats          int         `json:"seats"`
	Price          float64     `json:"price"`
	DriverRating   float64     `json:"driver_rating"` // 0..5
	DriverVerified bool        `json:"driver_verified"`
	Policy         *RidePolicy `json:"policy,omitempty"`
}

// Score is the 0-100 composite for one candidate plus its breakdown.
type Score struct {
	Total   int      `json:"total"`
	Route   float64  `json:"route"`
	Time    float64  `json:"time"`
	Prefs   float64  `json:"prefs"`
	Social  float64  `json:"social"`
	Rating  float64  `json:"rating"`
	History float64  `json:"history"`
	Reasons []string `json:"reasons,omitempty"`
}

type Match struct {
	Candidate Candidate `json:"candidate"`
	Score     Score     `json:"score"`
}

type Ride struct {
	ID          string
	DriverID    string
	Origin      Coord
	Destination Coord
	Departure   time.Time
	Seats       int
	Price       float64
	Status      string // scheduled, active, completed, canceled
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Booking struct {
	ID              string
	RideID          string
	UserID          string
	Status          string // confirmed, completed, canceled
	PaymentIntentID string
	CreatedAt       time.Time
}

// WaitlistEntry is one user queued for a full ride. Positions form a
// dense 1..N sequence per ride.
type WaitlistEntry struct {
	UserID     string    `json:"user_id"`
	RideID     string    `json:"ride_id"`
	Position   int       `json:"position"`
	JoinedAt   time.Time `json:"joined_at"`
	Notify     bool      `json:"notify"`
	AutoBook   bool      `json:"auto_book"`
	CustomerID string    `json:"customer_id,omitempty"` // payment customer, optional
}

type Variant struct {
	ID      string `json:"id"`
	Weight  int    `json:"weight"` // percent; variants are expected to sum to 100
	Control bool   `json:"control"`
}

type Experiment struct {
	ID       string    `json:"id"`
	Traffic  int       `json:"traffic"` // percent of users inside the experiment
	Variants []Variant `json:"variants"`
}

type Assignment struct {
	ExperimentID string    `json:"experiment_id"`
	VariantID    string    `json:"variant_id"`
	IsControl    bool      `json:"is_control"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// RideLocation is the Kafka message carrying a live position update.
type RideLocation struct {
	RideID     string    `json:"ride_id"`
	Loc        Coord     `json:"loc"`
	SpeedKmh   float64   `json:"speed_kmh"`
	Heading    float64   `json:"heading"`
	RecordedAt time.Time `json:"recorded_at"`
}

// TrackingState is the externally-owned live state of a ride; the core
// only consumes it to derive an ETA and a presentational status.
type TrackingState struct {
	RideID      string     `json:"ride_id"`
	Current     *Coord     `json:"current,omitempty"`
	SpeedKmh    float64    `json:"speed_kmh"`
	Heading     float64    `json:"heading"`
	DeviationKm float64    `json:"deviation_km"`
	Onboard     []string   `json:"onboard"`
	Pickup      Coord      `json:"pickup"`
	Destination Coord      `json:"destination"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}
