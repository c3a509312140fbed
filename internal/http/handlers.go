package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/carpool/internal/config"
	"github.com/example/carpool/internal/dispatch"
	"github.com/example/carpool/internal/experiments"
	"github.com/example/carpool/internal/geo"
	"github.com/example/carpool/internal/ingest"
	"github.com/example/carpool/internal/logging"
	"github.com/example/carpool/internal/matching"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/payments"
	"github.com/example/carpool/internal/rides"
	"github.com/example/carpool/internal/storage"
	"github.com/example/carpool/internal/tracking"
	"github.com/example/carpool/internal/waitlist"
)

type Server struct {
	Geo       geo.Index
	Matcher   *matching.Service
	Waitlist  *waitlist.Service
	Bucketer  *experiments.Bucketer
	Tracker   *tracking.Tracker
	Live      LiveState
	Lifecycle *rides.Lifecycle
	Rides     storage.RideStore
	Rider     storage.RiderStore
	Kafka     *ingest.KafkaProducer
	WSReg     *dispatch.WSRegistry

	expMu sync.RWMutex
	exps  map[string]models.Experiment

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the service graph from config: Redis-backed pieces
// when REDIS_ADDR is set, Postgres when PG_DSN is set, in-memory
// fallbacks otherwise.
func NewServer(cfg config.ServerConfig) *Server {
	logger := logging.NewLogger("carpool-api", cfg.LogLevel)

	var index geo.Index
	if cfg.RedisAddr != "" {
		index = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		index = geo.NewMemoryIndex()
	}

	mem := storage.NewMemoryStore()
	var rideStore storage.RideStore = mem
	var bookings storage.BookingStore = mem
	var wl storage.WaitlistStore = mem
	var rider storage.RiderStore = mem
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			rideStore, bookings, wl, rider = ps, ps, ps, ps
		} else {
			logger.Warn("postgres unavailable, using memory stores", "error", err)
		}
	}

	var assignStore experiments.AssignmentStore
	if cfg.RedisAddr != "" {
		assignStore = experiments.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
	} else {
		assignStore = experiments.NewMemoryStore()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	wsreg := dispatch.NewWSRegistry(logger)
	tracker := tracking.NewTracker(ridePusher{reg: wsreg}, logger)

	var live LiveState
	if cfg.RedisAddr != "" {
		live = tracking.NewRedisState(cfg.RedisAddr, cfg.RedisPassword)
	}

	var pay waitlist.Payments
	var ridePay rides.Payments
	if cfg.StripeAPIKey != "" {
		sc := payments.NewStripeClient(cfg.StripeAPIKey)
		pay, ridePay = sc, sc
	}
	var notifier waitlist.Notifier
	if cfg.FCMEndpoint != "" {
		notifier = dispatch.NewFCMNotifier(cfg.FCMEndpoint, cfg.FCMKey)
	} else {
		notifier = dispatch.NewWSNotifier(wsreg, cfg.PushEndpoint)
	}

	s := &Server{
		Geo:     index,
		Matcher: &matching.Service{Index: index, Rider: rider, TopN: cfg.MatcherTopN},
		Waitlist: &waitlist.Service{
			Waitlist: wl,
			Rides:    rideStore,
			Bookings: bookings,
			Notifier: notifier,
			Payments: pay,
			Logger:   logger,
			Currency: cfg.Currency,
		},
		Bucketer:  experiments.NewBucketer(assignStore),
		Tracker:   tracker,
		Live:      live,
		Lifecycle: &rides.Lifecycle{Rides: rideStore, Bookings: bookings, Payments: ridePay, Logger: logger},
		Rides:     rideStore,
		Rider:     rider,
		Kafka:     kp,
		WSReg:     wsreg,
		exps:      make(map[string]models.Experiment),
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// LiveState serves positions that arrived through the Kafka consumer
// rather than this process. tracking.RedisState in production.
type LiveState interface {
	Latest(ctx context.Context, rideID string) (models.TrackingState, bool)
}

// ridePusher adapts the WS registry to the tracker's Pusher interface.
type ridePusher struct{ reg *dispatch.WSRegistry }

func (p ridePusher) Push(rideID string, st models.TrackingState) error {
	return p.reg.Push("ride:"+rideID, st)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides", s.handleCreateRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/search", s.handleSearch).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/status", s.handleRideStatus).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{booking_id}/cancel", s.handleCancelBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/waitlist/join", s.handleWaitlistJoin).Methods("POST")
	s.mux.HandleFunc("/api/v1/waitlist/leave", s.handleWaitlistLeave).Methods("POST")
	s.mux.HandleFunc("/api/v1/preferences/{user_id}", s.handleSavePreferences).Methods("PUT")
	s.mux.HandleFunc("/api/v1/experiments/{experiment_id}/assignment", s.handleAssignment).Methods("GET")
	s.mux.HandleFunc("/internal/experiments", s.handleRegisterExperiment).Methods("POST")
	s.mux.HandleFunc("/internal/rides/{ride_id}/start", s.handleStartRide).Methods("POST")
	s.mux.HandleFunc("/internal/rides/{ride_id}/pickup", s.handlePickup).Methods("POST")
	s.mux.HandleFunc("/internal/rides/{ride_id}/complete", s.handleCompleteRide).Methods("POST")
	s.mux.HandleFunc("/internal/rides/{ride_id}/seat-freed", s.handleSeatFreed).Methods("POST")
	s.mux.HandleFunc("/internal/ride/locations", s.handleRideLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/rides/{ride_id}", s.handleRideWS)
	s.mux.HandleFunc("/ws/users/{user_id}", s.handleUserWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DriverID       string             `json:"driver_id"`
		Origin         models.Coord       `json:"origin"`
		Destination    models.Coord       `json:"destination"`
		Departure      time.Time          `json:"departure"`
		Seats          int                `json:"seats"`
		Price          float64            `json:"price"`
		Policy         *models.RidePolicy `json:"policy,omitempty"`
		DriverRating   float64            `json:"driver_rating"`
		DriverVerified bool               `json:"driver_verified"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if in.DriverID == "" || in.Seats <= 0 {
		http.Error(w, "driver_id and positive seats required", http.StatusBadRequest)
		return
	}
	now := time.Now()
	ride := &models.Ride{
		ID:          newID(),
		DriverID:    in.DriverID,
		Origin:      in.Origin,
		Destination: in.Destination,
		Departure:   in.Departure,
		Seats:       in.Seats,
		Price:       in.Price,
		Status:      "scheduled",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Rides.SaveRide(r.Context(), ride); err != nil {
		s.logger.Error("save ride", "error", err)
		http.Error(w, "could not save ride", http.StatusInternalServerError)
		return
	}
	s.Geo.Upsert(models.Candidate{
		RideID:         ride.ID,
		DriverID:       ride.DriverID,
		Origin:         ride.Origin,
		Destination:    ride.Destination,
		Departure:      ride.Departure,
		Seats:          ride.Seats,
		Price:          ride.Price,
		DriverRating:   in.DriverRating,
		DriverVerified: in.DriverVerified,
		Policy:         in.Policy,
	})
	writeJSON(w, http.StatusCreated, map[string]string{"ride_id": ride.ID})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	matches, err := s.Matcher.Search(r.Context(), req)
	if err != nil {
		s.logger.Error("search failed", "rider_id", req.RiderID, "error", err)
		http.Error(w, "search failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) handleRideStatus(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	userID := r.URL.Query().Get("user_id")
	st, ok := s.Tracker.Latest(rideID)
	if !ok && s.Live != nil {
		// position may have arrived via kafka into redis instead
		if st, ok = s.Live.Latest(r.Context(), rideID); ok {
			if ride, err := s.Rides.GetRide(r.Context(), rideID); err == nil {
				st.Pickup = ride.Origin
				st.Destination = ride.Destination
			}
		}
	}
	if !ok {
		st = models.TrackingState{RideID: rideID}
	}
	resp := map[string]any{
		"ride_id": rideID,
		"status":  tracking.DeriveStatus(st, userID),
	}
	if st.Current != nil {
		dest := st.Pickup
		for _, id := range st.Onboard {
			if id == userID {
				dest = st.Destination
				break
			}
		}
		resp["eta_minutes"] = tracking.ETAMinutes(*st.Current, dest, st.SpeedKmh)
		resp["location"] = st.Current
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWaitlistJoin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID     string `json:"user_id"`
		RideID     string `json:"ride_id"`
		Notify     bool   `json:"notify"`
		AutoBook   bool   `json:"auto_book"`
		CustomerID string `json:"customer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entry, err := s.Waitlist.Join(r.Context(), in.UserID, in.RideID, waitlist.JoinOptions{Notify: in.Notify, AutoBook: in.AutoBook, CustomerID: in.CustomerID})
	if errors.Is(err, waitlist.ErrAlreadyQueued) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		s.logger.Error("waitlist join", "error", err)
		http.Error(w, "could not join wait list", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleWaitlistLeave(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"user_id"`
		RideID string `json:"ride_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Waitlist.Leave(r.Context(), in.UserID, in.RideID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "not on wait list", http.StatusNotFound)
			return
		}
		s.logger.Error("waitlist leave", "error", err)
		http.Error(w, "could not leave wait list", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	var prefs models.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Rider.SavePreferences(r.Context(), userID, &prefs); err != nil {
		s.logger.Error("save preferences", "user_id", userID, "error", err)
		http.Error(w, "could not save preferences", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegisterExperiment(w http.ResponseWriter, r *http.Request) {
	var exp models.Experiment
	if err := json.NewDecoder(r.Body).Decode(&exp); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if exp.ID == "" || len(exp.Variants) == 0 {
		http.Error(w, "id and variants required", http.StatusBadRequest)
		return
	}
	s.expMu.Lock()
	s.exps[exp.ID] = exp
	s.expMu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssignment(w http.ResponseWriter, r *http.Request) {
	expID := mux.Vars(r)["experiment_id"]
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	s.expMu.RLock()
	exp, ok := s.exps[expID]
	s.expMu.RUnlock()
	if !ok {
		http.Error(w, "unknown experiment", http.StatusNotFound)
		return
	}
	a, err := s.Bucketer.Assign(r.Context(), exp, userID)
	if err != nil {
		s.logger.Error("assignment", "experiment", expID, "error", err)
		http.Error(w, "assignment failed", http.StatusInternalServerError)
		return
	}
	if a == nil {
		writeJSON(w, http.StatusOK, map[string]any{"in_experiment": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"in_experiment": true, "assignment": a})
}

// handleStartRide marks the ride underway: the driver is now heading
// to the pickup, so the status can progress past driver_on_way.
func (s *Server) handleStartRide(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	ride, err := s.Rides.GetRide(r.Context(), rideID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "unknown ride", http.StatusNotFound)
			return
		}
		s.logger.Error("start ride", "ride_id", rideID, "error", err)
		http.Error(w, "could not start ride", http.StatusInternalServerError)
		return
	}
	ride.Status = "active"
	ride.UpdatedAt = time.Now()
	if err := s.Rides.UpdateRide(r.Context(), ride); err != nil {
		s.logger.Error("start ride", "ride_id", rideID, "error", err)
		http.Error(w, "could not start ride", http.StatusInternalServerError)
		return
	}

	st, _ := s.Tracker.Latest(rideID)
	st.RideID = rideID
	st.Pickup = ride.Origin
	st.Destination = ride.Destination
	now := time.Now()
	st.StartedAt = &now
	s.Tracker.Publish(st)
	w.WriteHeader(http.StatusNoContent)
}

// handlePickup records that a rider boarded; their status view flips
// to in_transit from here on.
func (s *Server) handlePickup(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var in struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if in.UserID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	st, _ := s.Tracker.Latest(rideID)
	st.RideID = rideID
	for _, id := range st.Onboard {
		if id == in.UserID {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	st.Onboard = append(st.Onboard, in.UserID)
	s.Tracker.Publish(st)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	if err := s.Lifecycle.Complete(r.Context(), rideID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "unknown ride", http.StatusNotFound)
			return
		}
		s.logger.Error("complete ride", "ride_id", rideID, "error", err)
		http.Error(w, "could not complete ride", http.StatusInternalServerError)
		return
	}
	s.Geo.Remove(rideID)

	st, _ := s.Tracker.Latest(rideID)
	st.RideID = rideID
	now := time.Now()
	st.EndedAt = &now
	s.Tracker.Publish(st)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := mux.Vars(r)["booking_id"]
	b, err := s.Lifecycle.CancelBooking(r.Context(), bookingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "unknown booking", http.StatusNotFound)
			return
		}
		s.logger.Error("cancel booking", "booking_id", bookingID, "error", err)
		http.Error(w, "could not cancel booking", http.StatusConflict)
		return
	}
	// the freed seat may unblock the head of the wait list
	if err := s.Waitlist.ProcessSeatFreed(r.Context(), b.RideID); err != nil {
		s.logger.Error("seat-freed processing", "ride_id", b.RideID, "error", err)
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleSeatFreed(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	if err := s.Waitlist.ProcessSeatFreed(r.Context(), rideID); err != nil {
		s.logger.Error("seat-freed processing", "ride_id", rideID, "error", err)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRideLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.RideLocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// publish to kafka if configured
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(loc); err != nil {
			s.logger.Warn("kafka publish failed", "ride_id", loc.RideID, "error", err)
		}
	}
	st, _ := s.Tracker.Latest(loc.RideID)
	st.RideID = loc.RideID
	st.Current = &loc.Loc
	st.SpeedKmh = loc.SpeedKmh
	st.Heading = loc.Heading
	if ride, err := s.Rides.GetRide(r.Context(), loc.RideID); err == nil {
		st.Pickup = ride.Origin
		st.Destination = ride.Destination
	}
	s.Tracker.Publish(st)
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleRideWS(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	remove := s.WSReg.Add("ride:"+rideID, conn)
	go reapOnClose(conn, remove)
}

func (s *Server) handleUserWS(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	remove := s.WSReg.Add("user:"+userID, conn)
	go reapOnClose(conn, remove)
}

// reapOnClose drains the read side until the peer goes away, then
// releases the registry slot.
func reapOnClose(conn *websocket.Conn, remove func()) {
	defer remove()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
