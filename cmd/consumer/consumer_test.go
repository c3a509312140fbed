package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool/internal/models"
)

type flakyUpdater struct {
	geoFailures  int
	hsetFailures int
	geoCalls     int
	hsetCalls    int
	trackKeys    []string
}

func (f *flakyUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.geoFailures {
		return errors.New("geoadd refused")
	}
	return nil
}

func (f *flakyUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hsetCalls++
	if f.hsetCalls <= f.hsetFailures {
		return errors.New("hset refused")
	}
	f.trackKeys = append(f.trackKeys, key)
	return nil
}

func TestUpdateRetriesTransientFailures(t *testing.T) {
	u := &flakyUpdater{geoFailures: 1, hsetFailures: 1}
	loc := &models.RideLocation{RideID: "ride-9", Loc: models.Coord{Lat: 51.5, Lon: -0.12}, SpeedKmh: 45, RecordedAt: time.Now()}

	if err := updateRedisWithRetry(context.Background(), u, loc, 3, time.Millisecond); err != nil {
		t.Fatalf("expected recovery after one failure per op, got %v", err)
	}
	if u.geoCalls != 2 {
		t.Fatalf("expected 2 geo attempts, got %d", u.geoCalls)
	}
	if u.hsetCalls != 2 {
		t.Fatalf("expected 2 hset attempts, got %d", u.hsetCalls)
	}
	if len(u.trackKeys) != 1 || u.trackKeys[0] != "ride:tracking:ride-9" {
		t.Fatalf("unexpected tracking keys %v", u.trackKeys)
	}
}

func TestUpdateGivesUpWhenExhausted(t *testing.T) {
	u := &flakyUpdater{geoFailures: 10}
	loc := &models.RideLocation{RideID: "ride-9", Loc: models.Coord{Lat: 1, Lon: 2}}

	if err := updateRedisWithRetry(context.Background(), u, loc, 3, time.Millisecond); err == nil {
		t.Fatal("expected error once attempts are exhausted")
	}
	if u.geoCalls != 3 {
		t.Fatalf("expected exactly 3 geo attempts, got %d", u.geoCalls)
	}
	if u.hsetCalls != 0 {
		t.Fatalf("hset must not run after geo failure, got %d calls", u.hsetCalls)
	}
}

func TestWithRetryBacksOffBetweenAttempts(t *testing.T) {
	calls := 0
	start := time.Now()
	err := withRetry(func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, 3, 5*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	// 5ms then 10ms of backoff
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("expected at least 15ms of backoff, got %v", elapsed)
	}
}
