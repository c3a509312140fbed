package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool/internal/models"
)

// RedisIndex implements Index using Redis GEO commands, with candidate
// metadata kept in a per-ride hash.
type RedisIndex struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key, ctx: context.Background()}
}

func (r *RedisIndex) Upsert(c models.Candidate) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: c.Origin.Lon, Latitude: c.Origin.Lat, Name: c.RideID}).Result()
	fields := map[string]interface{}{
		"driver_id": c.DriverID,
		"dest_lat":  strconv.FormatFloat(c.Destination.Lat, 'f', -1, 64),
		"dest_lon":  strconv.FormatFloat(c.Destination.Lon, 'f', -1, 64),
		"departure": c.Departure.Format(time.RFC3339),
		"seats":     strconv.Itoa(c.Seats),
		"price":     strconv.FormatFloat(c.Price, 'f', -1, 64),
		"rating":    strconv.FormatFloat(c.DriverRating, 'f', -1, 64),
		"verified":  strconv.FormatBool(c.DriverVerified),
		"updated":   time.Now().Format(time.RFC3339),
	}
	if c.Policy != nil {
		fields["policy_smoking"] = strconv.FormatBool(c.Policy.SmokingAllowed)
		fields["policy_pets"] = strconv.FormatBool(c.Policy.PetsAllowed)
		fields["policy_music"] = c.Policy.Music
	}
	_ = r.client.HSet(r.ctx, metaKey(c.RideID), fields).Err()
}

func (r *RedisIndex) Remove(rideID string) {
	_ = r.client.ZRem(r.ctx, r.key, rideID).Err()
	_ = r.client.Del(r.ctx, metaKey(rideID)).Err()
}

func (r *RedisIndex) Nearby(lat, lon float64, limit int) []models.Candidate {
	res, err := r.client.GeoRadius(r.ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: 10000, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Candidate, 0, len(res))
	for _, g := range res {
		c := models.Candidate{RideID: g.Name}
		c.Origin.Lat = g.Latitude
		c.Origin.Lon = g.Longitude
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			c.DriverID = m["driver_id"]
			if v, err := strconv.ParseFloat(m["dest_lat"], 64); err == nil {
				c.Destination.Lat = v
			}
			if v, err := strconv.ParseFloat(m["dest_lon"], 64); err == nil {
				c.Destination.Lon = v
			}
			if t, err := time.Parse(time.RFC3339, m["departure"]); err == nil {
				c.Departure = t
			}
			if v, err := strconv.Atoi(m["seats"]); err == nil {
				c.Seats = v
			}
			if v, err := strconv.ParseFloat(m["price"], 64); err == nil {
				c.Price = v
			}
			if v, err := strconv.ParseFloat(m["rating"], 64); err == nil {
				c.DriverRating = v
			}
			c.DriverVerified = m["verified"] == "true"
			if _, ok := m["policy_smoking"]; ok {
				c.Policy = &models.RidePolicy{
					SmokingAllowed: m["policy_smoking"] == "true",
					PetsAllowed:    m["policy_pets"] == "true",
					Music:          m["policy_music"],
				}
			}
		}
		out = append(out, c)
	}
	return out
}

func metaKey(id string) string { return "ride:meta:" + id }
