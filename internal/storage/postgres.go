package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/carpool/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(id, driver_id, origin_lat, origin_lon, dest_lat, dest_lon, departure, seats, price, status, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.DriverID, r.Origin.Lat, r.Origin.Lon, r.Destination.Lat, r.Destination.Lon, r.Departure, r.Seats, r.Price, r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `UPDATE rides SET seats=$1, status=$2, updated_at=$3 WHERE id=$4`, r.Seats, r.Status, time.Now(), r.ID)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var r models.Ride
	err := p.db.QueryRowContext(ctx, `SELECT id, driver_id, origin_lat, origin_lon, dest_lat, dest_lon, departure, seats, price, status, created_at, updated_at FROM rides WHERE id=$1`, id).
		Scan(&r.ID, &r.DriverID, &r.Origin.Lat, &r.Origin.Lon, &r.Destination.Lat, &r.Destination.Lon, &r.Departure, &r.Seats, &r.Price, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// AdjustSeats relies on the WHERE guard so two concurrent decrements
// can never drive seats negative.
func (p *PostgresStore) AdjustSeats(ctx context.Context, rideID string, delta int) (int, error) {
	var seats int
	err := p.db.QueryRowContext(ctx, `UPDATE rides SET seats = seats + $1, updated_at = now() WHERE id = $2 AND seats + $1 >= 0 RETURNING seats`, delta, rideID).Scan(&seats)
	if errors.Is(err, sql.ErrNoRows) {
		// either the ride is missing or the guard rejected the delta
		if _, gerr := p.GetRide(ctx, rideID); gerr != nil {
			return 0, gerr
		}
		return 0, ErrNoSeats
	}
	return seats, err
}

func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings(id, ride_id, user_id, status, payment_intent_id, created_at) VALUES($1,$2,$3,$4,$5,$6)`,
		b.ID, b.RideID, b.UserID, b.Status, b.PaymentIntentID, b.CreatedAt)
	return err
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := p.db.QueryRowContext(ctx, `SELECT id, ride_id, user_id, status, payment_intent_id, created_at FROM bookings WHERE id=$1`, id).
		Scan(&b.ID, &b.RideID, &b.UserID, &b.Status, &b.PaymentIntentID, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *PostgresStore) BookingsForRide(ctx context.Context, rideID string) ([]models.Booking, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, ride_id, user_id, status, payment_intent_id, created_at FROM bookings WHERE ride_id=$1`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Booking
	for rows.Next() {
		var b models.Booking
		if err := rows.Scan(&b.ID, &b.RideID, &b.UserID, &b.Status, &b.PaymentIntentID, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateBookingStatus(ctx context.Context, id, status string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE bookings SET status=$1 WHERE id=$2`, status, id)
	return err
}

func (p *PostgresStore) HasCompletedWith(ctx context.Context, riderID, driverID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bookings b JOIN rides r ON r.id = b.ride_id WHERE b.user_id=$1 AND r.driver_id=$2 AND b.status='completed')`, riderID, driverID).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) Append(ctx context.Context, e *models.WaitlistEntry) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO waitlist(user_id, ride_id, position, joined_at, notify, auto_book, customer_id) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		e.UserID, e.RideID, e.Position, e.JoinedAt, e.Notify, e.AutoBook, e.CustomerID)
	return err
}

func (p *PostgresStore) Remove(ctx context.Context, userID, rideID string) (*models.WaitlistEntry, error) {
	var e models.WaitlistEntry
	err := p.db.QueryRowContext(ctx, `DELETE FROM waitlist WHERE user_id=$1 AND ride_id=$2 RETURNING user_id, ride_id, position, joined_at, notify, auto_book, customer_id`, userID, rideID).
		Scan(&e.UserID, &e.RideID, &e.Position, &e.JoinedAt, &e.Notify, &e.AutoBook, &e.CustomerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *PostgresStore) ShiftAfter(ctx context.Context, rideID string, position int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE waitlist SET position = position - 1 WHERE ride_id=$1 AND position > $2`, rideID, position)
	return err
}

func (p *PostgresStore) List(ctx context.Context, rideID string) ([]models.WaitlistEntry, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT user_id, ride_id, position, joined_at, notify, auto_book, customer_id FROM waitlist WHERE ride_id=$1 ORDER BY position`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.WaitlistEntry
	for rows.Next() {
		var e models.WaitlistEntry
		if err := rows.Scan(&e.UserID, &e.RideID, &e.Position, &e.JoinedAt, &e.Notify, &e.AutoBook, &e.CustomerID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) First(ctx context.Context, rideID string) (*models.WaitlistEntry, error) {
	var e models.WaitlistEntry
	err := p.db.QueryRowContext(ctx, `SELECT user_id, ride_id, position, joined_at, notify, auto_book, customer_id FROM waitlist WHERE ride_id=$1 ORDER BY position LIMIT 1`, rideID).
		Scan(&e.UserID, &e.RideID, &e.Position, &e.JoinedAt, &e.Notify, &e.AutoBook, &e.CustomerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *PostgresStore) Preferences(ctx context.Context, riderID string) (*models.Preferences, error) {
	var pr models.Preferences
	err := p.db.QueryRowContext(ctx, `SELECT smoking_allowed, pets_allowed, music, require_verified, max_detour_km, min_rating FROM preferences WHERE user_id=$1`, riderID).
		Scan(&pr.SmokingAllowed, &pr.PetsAllowed, &pr.Music, &pr.RequireVerified, &pr.MaxDetourKm, &pr.MinRating)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // absent preferences are not an error
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (p *PostgresStore) SavePreferences(ctx context.Context, riderID string, pr *models.Preferences) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO preferences(user_id, smoking_allowed, pets_allowed, music, require_verified, max_detour_km, min_rating) VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id) DO UPDATE SET smoking_allowed=$2, pets_allowed=$3, music=$4, require_verified=$5, max_detour_km=$6, min_rating=$7`,
		riderID, pr.SmokingAllowed, pr.PetsAllowed, pr.Music, pr.RequireVerified, pr.MaxDetourKm, pr.MinRating)
	return err
}

func (p *PostgresStore) Friends(ctx context.Context, riderID string) (map[string]bool, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT friend_id FROM friendships WHERE user_id=$1`, riderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (p *PostgresStore) RiddenWith(ctx context.Context, riderID string) (map[string]bool, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT r.driver_id FROM bookings b JOIN rides r ON r.id = b.ride_id WHERE b.user_id=$1 AND b.status='completed'`, riderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
