package rides

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/storage"
)

type fakePayments struct {
	captured []string
	canceled []string
	err      error
}

func (f *fakePayments) Capture(ctx context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.captured = append(f.captured, id)
	return nil
}

func (f *fakePayments) Cancel(ctx context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.canceled = append(f.canceled, id)
	return nil
}

func TestCompleteCapturesAndCompletes(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	pay := &fakePayments{}
	l := &Lifecycle{Rides: mem, Bookings: mem, Payments: pay}

	_ = mem.SaveRide(ctx, &models.Ride{ID: "r1", DriverID: "d1", Seats: 1, Status: "active"})
	_ = mem.CreateBooking(ctx, &models.Booking{ID: "b1", RideID: "r1", UserID: "u1", Status: "confirmed", PaymentIntentID: "pi_1", CreatedAt: time.Now()})
	_ = mem.CreateBooking(ctx, &models.Booking{ID: "b2", RideID: "r1", UserID: "u2", Status: "canceled", CreatedAt: time.Now()})

	if err := l.Complete(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if len(pay.captured) != 1 || pay.captured[0] != "pi_1" {
		t.Fatalf("expected pi_1 captured, got %v", pay.captured)
	}
	r, _ := mem.GetRide(ctx, "r1")
	if r.Status != "completed" {
		t.Fatalf("expected ride completed, got %s", r.Status)
	}
	has, _ := mem.HasCompletedWith(ctx, "u1", "d1")
	if !has {
		t.Fatal("expected u1's booking completed")
	}
	// the canceled booking stays canceled
	has2, _ := mem.HasCompletedWith(ctx, "u2", "d1")
	if has2 {
		t.Fatal("canceled booking must not complete")
	}
}

func TestCompleteSkipsFailedCapture(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	l := &Lifecycle{Rides: mem, Bookings: mem, Payments: &fakePayments{err: errors.New("stripe down")}}

	_ = mem.SaveRide(ctx, &models.Ride{ID: "r1", DriverID: "d1", Status: "active"})
	_ = mem.CreateBooking(ctx, &models.Booking{ID: "b1", RideID: "r1", UserID: "u1", Status: "confirmed", PaymentIntentID: "pi_1", CreatedAt: time.Now()})

	if err := l.Complete(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	// booking left confirmed for a later retry
	has, _ := mem.HasCompletedWith(ctx, "u1", "d1")
	if has {
		t.Fatal("booking should remain confirmed when capture fails")
	}
	r, _ := mem.GetRide(ctx, "r1")
	if r.Status != "completed" {
		t.Fatalf("ride still completes, got %s", r.Status)
	}
}

func TestCancelBookingFreesSeat(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	pay := &fakePayments{}
	l := &Lifecycle{Rides: mem, Bookings: mem, Payments: pay}

	_ = mem.SaveRide(ctx, &models.Ride{ID: "r1", DriverID: "d1", Seats: 0, Status: "scheduled"})
	_ = mem.CreateBooking(ctx, &models.Booking{ID: "b1", RideID: "r1", UserID: "u1", Status: "confirmed", PaymentIntentID: "pi_1", CreatedAt: time.Now()})

	b, err := l.CancelBooking(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != "canceled" {
		t.Fatalf("expected canceled, got %s", b.Status)
	}
	if len(pay.canceled) != 1 {
		t.Fatalf("expected hold released, got %v", pay.canceled)
	}
	r, _ := mem.GetRide(ctx, "r1")
	if r.Seats != 1 {
		t.Fatalf("expected seat freed, got %d", r.Seats)
	}
}

func TestCancelBookingRejectsWrongState(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	l := &Lifecycle{Rides: mem, Bookings: mem}

	_ = mem.SaveRide(ctx, &models.Ride{ID: "r1", Seats: 1})
	_ = mem.CreateBooking(ctx, &models.Booking{ID: "b1", RideID: "r1", UserID: "u1", Status: "completed", CreatedAt: time.Now()})

	if _, err := l.CancelBooking(ctx, "b1"); err == nil {
		t.Fatal("expected error canceling completed booking")
	}
}
