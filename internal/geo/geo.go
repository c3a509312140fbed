package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/carpool/internal/models"
)

// Index is the minimal candidate lookup required by the matching service.
type Index interface {
	Nearby(lat, lon float64, limit int) []models.Candidate
	Upsert(c models.Candidate)
	Remove(rideID string)
}

// MemoryIndex keeps candidate rides in memory, keyed by ride id.
type MemoryIndex struct {
	mu         sync.RWMutex
	candidates map[string]models.Candidate
	updated    map[string]time.Time
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		candidates: make(map[string]models.Candidate),
		updated:    make(map[string]time.Time),
	}
}

func (g *MemoryIndex) Upsert(c models.Candidate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.candidates[c.RideID] = c
	g.updated[c.RideID] = time.Now()
}

func (g *MemoryIndex) Remove(rideID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.candidates, rideID)
	delete(g.updated, rideID)
}

// naive scan; in prod use geo-hash or H3
func (g *MemoryIndex) Nearby(lat, lon float64, limit int) []models.Candidate {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		c    models.Candidate
		dist float64
	}
	arr := make([]pair, 0, len(g.candidates))
	for _, c := range g.candidates {
		if c.Seats <= 0 {
			continue
		}
		dist := Haversine(lat, lon, c.Origin.Lat, c.Origin.Lon)
		arr = append(arr, pair{c, dist})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].c)
	}
	return out
}

// Haversine returns the great-circle distance in kilometers.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
