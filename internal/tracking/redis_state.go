package tracking

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool/internal/models"
)

// LiveGeoKey is the GEO set the location consumer mirrors Kafka
// positions into; TrackingKey holds the per-ride speed and heading.
const LiveGeoKey = "rides_live_geo"

func TrackingKey(rideID string) string { return "ride:tracking:" + rideID }

// RedisState reads the live position the consumer wrote, serving
// status queries for updates that arrived through Kafka instead of
// this process.
type RedisState struct {
	client *redis.Client
}

func NewRedisState(addr, password string) *RedisState {
	return &RedisState{client: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

func (r *RedisState) Latest(ctx context.Context, rideID string) (models.TrackingState, bool) {
	pos, err := r.client.GeoPos(ctx, LiveGeoKey, rideID).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.TrackingState{}, false
	}
	st := models.TrackingState{
		RideID:  rideID,
		Current: &models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude},
	}
	if m, err := r.client.HGetAll(ctx, TrackingKey(rideID)).Result(); err == nil {
		if v, err := strconv.ParseFloat(m["speed_kmh"], 64); err == nil {
			st.SpeedKmh = v
		}
		if v, err := strconv.ParseFloat(m["heading"], 64); err == nil {
			st.Heading = v
		}
	}
	return st, true
}
