package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WSNotifier delivers wait-list events over a user's websocket session
// and falls back to an HTTP push endpoint when no session exists.
type WSNotifier struct {
	Registry *WSRegistry
	Endpoint string // optional fallback
	Client   *http.Client
}

func NewWSNotifier(reg *WSRegistry, endpoint string) *WSNotifier {
	return &WSNotifier{Registry: reg, Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

type notification struct {
	UserID string `json:"user_id"`
	RideID string `json:"ride_id"`
	Event  string `json:"event"`
}

func (n *WSNotifier) Notify(ctx context.Context, userID, rideID, event string) error {
	msg := notification{UserID: userID, RideID: rideID, Event: event}
	if n.Registry != nil && n.Registry.has("user:"+userID) {
		return n.Registry.Push("user:"+userID, msg)
	}
	if n.Endpoint == "" {
		return fmt.Errorf("no session for user %s and no fallback endpoint", userID)
	}
	b, _ := json.Marshal(msg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (r *WSRegistry) has(channel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[channel]) > 0
}

// FCMNotifier posts notifications to an FCM HTTPv1 endpoint.
type FCMNotifier struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMNotifier(endpoint, key string) *FCMNotifier {
	return &FCMNotifier{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMNotifier) Notify(ctx context.Context, userID, rideID, event string) error {
	body := map[string]interface{}{"message": map[string]interface{}{
		"topic": "user-" + userID,
		"data":  map[string]string{"ride_id": rideID, "event": event},
	}}
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fcm returned %d", resp.StatusCode)
	}
	return nil
}
