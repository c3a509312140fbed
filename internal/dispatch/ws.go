package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// WSSession wraps one connected client; writes are serialized.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds websocket sessions grouped by channel: a ride id
// for tracking watchers, a user id for personal notifications.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]map[*WSSession]struct{}
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]map[*WSSession]struct{}), logger: logger}
}

// Add registers conn under channel and returns the teardown that
// drops the session and closes the connection.
func (r *WSRegistry) Add(channel string, conn *websocket.Conn) (remove func()) {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	if r.sessions[channel] == nil {
		r.sessions[channel] = make(map[*WSSession]struct{})
	}
	r.sessions[channel][s] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if m, ok := r.sessions[channel]; ok {
				delete(m, s)
				if len(m) == 0 {
					delete(r.sessions, channel)
				}
			}
			r.mu.Unlock()
			_ = conn.Close()
		})
	}
}

// Push sends v to every session on channel. Dead sessions are logged
// and skipped; delivery is best-effort.
func (r *WSRegistry) Push(channel string, v interface{}) error {
	r.mu.RLock()
	sessions := make([]*WSSession, 0, len(r.sessions[channel]))
	for s := range r.sessions[channel] {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		if err := s.Send(v); err != nil {
			r.logger.Warn("ws send failed", "channel", channel, "error", err)
		}
	}
	return nil
}
