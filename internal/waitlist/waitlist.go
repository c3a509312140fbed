// Package waitlist maintains the FIFO queue of riders waiting on a
// full ride and promotes the head of the queue when a seat frees.
//
// Position sequencing here is advisory: concurrent joins and leaves
// from multiple clients are only safe because the store's append and
// shift operations are the serialization point.
package waitlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
	"github.com/example/carpool/internal/storage"
)

var ErrAlreadyQueued = errors.New("user already on wait list")

// Notifier delivers wait-list events to a user. Implementations are
// push transports (websocket, FCM).
type Notifier interface {
	Notify(ctx context.Context, userID, rideID, event string) error
}

// Payments takes a manual-capture hold when an auto-booked entry has a
// payment customer on file, and releases it if the booking cannot be
// recorded. Optional.
type Payments interface {
	Hold(ctx context.Context, amount int64, currency, customerID, rideID string) (string, error)
	Cancel(ctx context.Context, paymentIntentID string) error
}

type JoinOptions struct {
	Notify     bool
	AutoBook   bool
	CustomerID string
}

type Service struct {
	Waitlist storage.WaitlistStore
	Rides    storage.RideStore
	Bookings storage.BookingStore
	Notifier Notifier
	Payments Payments
	Logger   *slog.Logger

	Currency       string
	NotifyAttempts int
	NotifyDelay    time.Duration
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Join appends the user at position count+1.
func (s *Service) Join(ctx context.Context, userID, rideID string, opts JoinOptions) (*models.WaitlistEntry, error) {
	entries, err := s.Waitlist.List(ctx, rideID)
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	for _, e := range entries {
		if e.UserID == userID {
			return nil, ErrAlreadyQueued
		}
	}
	entry := &models.WaitlistEntry{
		UserID:     userID,
		RideID:     rideID,
		Position:   len(entries) + 1,
		JoinedAt:   time.Now(),
		Notify:     opts.Notify,
		AutoBook:   opts.AutoBook,
		CustomerID: opts.CustomerID,
	}
	if err := s.Waitlist.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append waitlist entry: %w", err)
	}
	observability.WaitlistJoins.Inc()
	return entry, nil
}

// Leave removes the user's entry and shifts every later position down
// by one so positions stay a dense 1..N sequence.
func (s *Service) Leave(ctx context.Context, userID, rideID string) error {
	e, err := s.Waitlist.Remove(ctx, userID, rideID)
	if err != nil {
		return fmt.Errorf("remove waitlist entry: %w", err)
	}
	if err := s.Waitlist.ShiftAfter(ctx, rideID, e.Position); err != nil {
		return fmt.Errorf("resequence waitlist: %w", err)
	}
	return nil
}

// ProcessSeatFreed pops the head of the queue for rideID. Auto-book
// entries get a confirmed booking and a seat decrement; every popped
// entry is notified and removed, and the remainder is re-sequenced.
func (s *Service) ProcessSeatFreed(ctx context.Context, rideID string) error {
	head, err := s.Waitlist.First(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil // empty queue, nothing to promote
	}
	if err != nil {
		return fmt.Errorf("read waitlist head: %w", err)
	}

	event := "seat_available"
	if head.AutoBook {
		if err := s.autoBook(ctx, head); err != nil {
			// the seat may have been taken by a direct booking; the
			// rider still learns a seat opened up
			s.logger().Warn("auto-book failed", "ride_id", rideID, "user_id", head.UserID, "error", err)
		} else {
			event = "booking_confirmed"
			observability.WaitlistPromotions.Inc()
		}
	}

	s.notifyWithRetry(ctx, head.UserID, rideID, event)

	if _, err := s.Waitlist.Remove(ctx, head.UserID, rideID); err != nil {
		return fmt.Errorf("remove promoted entry: %w", err)
	}
	if err := s.Waitlist.ShiftAfter(ctx, rideID, head.Position); err != nil {
		return fmt.Errorf("resequence waitlist: %w", err)
	}
	return nil
}

func (s *Service) autoBook(ctx context.Context, e *models.WaitlistEntry) error {
	if _, err := s.Rides.AdjustSeats(ctx, e.RideID, -1); err != nil {
		return fmt.Errorf("decrement seats: %w", err)
	}
	b := &models.Booking{
		ID:        uuid.NewString(),
		RideID:    e.RideID,
		UserID:    e.UserID,
		Status:    "confirmed",
		CreatedAt: time.Now(),
	}
	if s.Payments != nil && e.CustomerID != "" {
		ride, err := s.Rides.GetRide(ctx, e.RideID)
		if err != nil {
			return fmt.Errorf("load ride for hold: %w", err)
		}
		currency := s.Currency
		if currency == "" {
			currency = "usd"
		}
		piID, err := s.Payments.Hold(ctx, int64(ride.Price*100), currency, e.CustomerID, e.RideID)
		if err != nil {
			// release the seat we just took
			if _, aerr := s.Rides.AdjustSeats(ctx, e.RideID, 1); aerr != nil {
				s.logger().Error("seat release after failed hold", "ride_id", e.RideID, "error", aerr)
			}
			return fmt.Errorf("payment hold: %w", err)
		}
		b.PaymentIntentID = piID
	}
	if err := s.Bookings.CreateBooking(ctx, b); err != nil {
		// unwind: the hold and the seat were both taken above
		if b.PaymentIntentID != "" {
			if cerr := s.Payments.Cancel(ctx, b.PaymentIntentID); cerr != nil {
				s.logger().Error("hold release after failed booking", "ride_id", e.RideID, "error", cerr)
			}
		}
		if _, aerr := s.Rides.AdjustSeats(ctx, e.RideID, 1); aerr != nil {
			s.logger().Error("seat release after failed booking", "ride_id", e.RideID, "error", aerr)
		}
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

func (s *Service) notifyWithRetry(ctx context.Context, userID, rideID, event string) {
	if s.Notifier == nil {
		return
	}
	attempts := s.NotifyAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := s.NotifyDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	for i := 0; i < attempts; i++ {
		if err := s.Notifier.Notify(ctx, userID, rideID, event); err == nil {
			return
		} else if i == attempts-1 {
			s.logger().Warn("waitlist notification dropped", "user_id", userID, "ride_id", rideID, "event", event, "error", err)
			return
		}
		time.Sleep(delay)
		delay *= 2
	}
}
