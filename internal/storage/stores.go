package storage

import (
	"context"
	"errors"

	"github.com/example/carpool/internal/models"
)

// ErrNoSeats is returned when a seat adjustment would take a ride
// below zero available seats.
var ErrNoSeats = errors.New("no seats available")

var ErrNotFound = errors.New("not found")

// RideStore defines persistence operations for rides.
type RideStore interface {
	SaveRide(ctx context.Context, r *models.Ride) error
	UpdateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	// AdjustSeats atomically applies delta to available seats and
	// returns the remaining count. The store is the serialization
	// point; callers never read-modify-write seats themselves.
	AdjustSeats(ctx context.Context, rideID string, delta int) (int, error)
}

// BookingStore defines persistence operations for bookings.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id, status string) error
	BookingsForRide(ctx context.Context, rideID string) ([]models.Booking, error)
	// HasCompletedWith reports whether the rider has a completed
	// booking on any ride driven by driverID.
	HasCompletedWith(ctx context.Context, riderID, driverID string) (bool, error)
}

// WaitlistStore holds the positional queue per ride. Positions are a
// dense 1..N sequence; ShiftAfter closes the gap a removal leaves.
type WaitlistStore interface {
	Append(ctx context.Context, e *models.WaitlistEntry) error
	Remove(ctx context.Context, userID, rideID string) (*models.WaitlistEntry, error)
	ShiftAfter(ctx context.Context, rideID string, position int) error
	List(ctx context.Context, rideID string) ([]models.WaitlistEntry, error)
	First(ctx context.Context, rideID string) (*models.WaitlistEntry, error)
}

// RiderStore serves the per-rider context behind the optional score
// categories.
type RiderStore interface {
	Preferences(ctx context.Context, riderID string) (*models.Preferences, error)
	SavePreferences(ctx context.Context, riderID string, p *models.Preferences) error
	Friends(ctx context.Context, riderID string) (map[string]bool, error)
	RiddenWith(ctx context.Context, riderID string) (map[string]bool, error)
}
