package tracking

import (
	"log/slog"
	"sync"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
)

// Pusher forwards a state update to any transport-level listeners
// (websocket sessions). Optional.
type Pusher interface {
	Push(rideID string, st models.TrackingState) error
}

// Tracker fans live tracking updates out to registered subscribers.
// It is an explicitly constructed instance, not a package singleton,
// so tests and multiple contexts can run their own.
type Tracker struct {
	mu      sync.RWMutex
	subs    map[string]map[int]func(models.TrackingState)
	latest  map[string]models.TrackingState
	nextID  int
	pusher  Pusher
	logger  *slog.Logger
	stopped bool
}

func NewTracker(pusher Pusher, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		subs:   make(map[string]map[int]func(models.TrackingState)),
		latest: make(map[string]models.TrackingState),
		pusher: pusher,
		logger: logger,
	}
}

// Latest returns the most recently published state for a ride.
func (t *Tracker) Latest(rideID string) (models.TrackingState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.latest[rideID]
	return st, ok
}

// Subscribe registers fn for updates on rideID and returns the
// teardown that releases the slot. Callers must invoke it to stop
// receiving updates.
func (t *Tracker) Subscribe(rideID string, fn func(models.TrackingState)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return func() {}
	}
	id := t.nextID
	t.nextID++
	if t.subs[rideID] == nil {
		t.subs[rideID] = make(map[int]func(models.TrackingState))
	}
	t.subs[rideID][id] = fn
	observability.TrackingSubscribers.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if m, ok := t.subs[rideID]; ok {
				delete(m, id)
				if len(m) == 0 {
					delete(t.subs, rideID)
				}
				observability.TrackingSubscribers.Dec()
			}
		})
	}
}

// Publish delivers st to every subscriber of the ride and to the
// transport pusher when one is configured.
func (t *Tracker) Publish(st models.TrackingState) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.latest[st.RideID] = st
	fns := make([]func(models.TrackingState), 0, len(t.subs[st.RideID]))
	for _, fn := range t.subs[st.RideID] {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
	if t.pusher != nil {
		if err := t.pusher.Push(st.RideID, st); err != nil {
			t.logger.Warn("tracking push failed", "ride_id", st.RideID, "error", err)
		}
	}
	observability.TrackingUpdates.Inc()
}

// Stop drops all subscriptions; further Subscribe/Publish calls are no-ops.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.subs {
		observability.TrackingSubscribers.Sub(float64(len(m)))
	}
	t.subs = make(map[string]map[int]func(models.TrackingState))
	t.stopped = true
}
