package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/carpool/internal/models"
)

// MemoryStore backs every store interface with process-local maps.
// Used for local runs and tests when no Postgres DSN is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]*models.Ride
	bookings map[string]*models.Booking
	waitlist map[string][]models.WaitlistEntry // ride id -> entries in position order
	prefs    map[string]*models.Preferences
	friends  map[string]map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]*models.Ride),
		bookings: make(map[string]*models.Booking),
		waitlist: make(map[string][]models.WaitlistEntry),
		prefs:    make(map[string]*models.Preferences),
		friends:  make(map[string]map[string]bool),
	}
}

func (m *MemoryStore) SaveRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) AdjustSeats(_ context.Context, rideID string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return 0, ErrNotFound
	}
	if r.Seats+delta < 0 {
		return r.Seats, ErrNoSeats
	}
	r.Seats += delta
	return r.Seats, nil
}

func (m *MemoryStore) CreateBooking(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) BookingsForRide(_ context.Context, rideID string) ([]models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.RideID == rideID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateBookingStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return ErrNotFound
	}
	b.Status = status
	return nil
}

func (m *MemoryStore) HasCompletedWith(_ context.Context, riderID, driverID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bookings {
		if b.UserID != riderID || b.Status != "completed" {
			continue
		}
		if r, ok := m.rides[b.RideID]; ok && r.DriverID == driverID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) Append(_ context.Context, e *models.WaitlistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waitlist[e.RideID] = append(m.waitlist[e.RideID], *e)
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, userID, rideID string) (*models.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.waitlist[rideID]
	for i, e := range entries {
		if e.UserID == userID {
			m.waitlist[rideID] = append(entries[:i], entries[i+1:]...)
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ShiftAfter(_ context.Context, rideID string, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.waitlist[rideID]
	for i := range entries {
		if entries[i].Position > position {
			entries[i].Position--
		}
	}
	return nil
}

func (m *MemoryStore) List(_ context.Context, rideID string) ([]models.WaitlistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.WaitlistEntry, len(m.waitlist[rideID]))
	copy(out, m.waitlist[rideID])
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *MemoryStore) First(ctx context.Context, rideID string) (*models.WaitlistEntry, error) {
	entries, err := m.List(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	e := entries[0]
	return &e, nil
}

func (m *MemoryStore) Preferences(_ context.Context, riderID string) (*models.Preferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prefs[riderID]
	if !ok {
		return nil, nil // absent preferences are not an error
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) SavePreferences(_ context.Context, riderID string, p *models.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.prefs[riderID] = &cp
	return nil
}

func (m *MemoryStore) Friends(_ context.Context, riderID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.friends[riderID]))
	for k, v := range m.friends[riderID] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) AddFriend(riderID, friendID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.friends[riderID] == nil {
		m.friends[riderID] = make(map[string]bool)
	}
	m.friends[riderID][friendID] = true
}

func (m *MemoryStore) RiddenWith(ctx context.Context, riderID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool)
	for _, b := range m.bookings {
		if b.UserID != riderID || b.Status != "completed" {
			continue
		}
		if r, ok := m.rides[b.RideID]; ok {
			out[r.DriverID] = true
		}
	}
	return out, nil
}
