// Package rides orchestrates ride and booking state transitions. The
// transactional guarantees live in the store; this layer sequences the
// store and payment calls and propagates typed failures.
package rides

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/storage"
)

// Payments captures or releases booking holds. Optional.
type Payments interface {
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

type Lifecycle struct {
	Rides    storage.RideStore
	Bookings storage.BookingStore
	Payments Payments
	Logger   *slog.Logger
}

func (l *Lifecycle) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Complete marks the ride completed, completes its confirmed bookings
// and captures any payment holds. A failed capture leaves that booking
// confirmed so a retry can pick it up.
func (l *Lifecycle) Complete(ctx context.Context, rideID string) error {
	ride, err := l.Rides.GetRide(ctx, rideID)
	if err != nil {
		return fmt.Errorf("load ride: %w", err)
	}
	bookings, err := l.Bookings.BookingsForRide(ctx, rideID)
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}
	for _, b := range bookings {
		if b.Status != "confirmed" {
			continue
		}
		if l.Payments != nil && b.PaymentIntentID != "" {
			if err := l.Payments.Capture(ctx, b.PaymentIntentID); err != nil {
				l.logger().Error("capture failed", "booking_id", b.ID, "error", err)
				continue
			}
		}
		if err := l.Bookings.UpdateBookingStatus(ctx, b.ID, "completed"); err != nil {
			return fmt.Errorf("complete booking %s: %w", b.ID, err)
		}
	}
	ride.Status = "completed"
	ride.UpdatedAt = time.Now()
	if err := l.Rides.UpdateRide(ctx, ride); err != nil {
		return fmt.Errorf("update ride: %w", err)
	}
	return nil
}

// CancelBooking cancels one booking, releases its hold and frees the
// seat. The freed seat is the caller's cue to process the wait list.
func (l *Lifecycle) CancelBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := l.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if b.Status != "confirmed" {
		return nil, fmt.Errorf("booking %s is %s, not cancelable", b.ID, b.Status)
	}
	if l.Payments != nil && b.PaymentIntentID != "" {
		if err := l.Payments.Cancel(ctx, b.PaymentIntentID); err != nil {
			return nil, fmt.Errorf("release hold: %w", err)
		}
	}
	if err := l.Bookings.UpdateBookingStatus(ctx, b.ID, "canceled"); err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	if _, err := l.Rides.AdjustSeats(ctx, b.RideID, 1); err != nil {
		return nil, fmt.Errorf("free seat: %w", err)
	}
	b.Status = "canceled"
	return b, nil
}
