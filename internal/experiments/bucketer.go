// Package experiments assigns users to A/B variants with a
// deterministic string hash. The stored assignment is only a cache;
// recomputing from the same (user, experiment) pair always lands in
// the same bucket.
package experiments

import (
	"context"
	"fmt"
	"time"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
)

// AssignmentStore caches computed assignments. A miss is (nil, nil).
type AssignmentStore interface {
	Get(ctx context.Context, userID, experimentID string) (*models.Assignment, error)
	Put(ctx context.Context, userID string, a *models.Assignment) error
}

// Bucketer is an explicitly constructed service; inject the store you
// want rather than relying on package state.
type Bucketer struct {
	Store AssignmentStore
	Now   func() time.Time
}

func NewBucketer(store AssignmentStore) *Bucketer {
	return &Bucketer{Store: store, Now: time.Now}
}

// hashString folds s into a non-negative 32-bit integer with a
// rolling multiply-by-31 hash.
func hashString(s string) uint32 {
	var h int32
	for _, c := range []byte(s) {
		h = h*31 + int32(c)
	}
	return uint32(h) & 0x7fffffff
}

// Assign returns the user's variant for exp, or nil when the user
// falls outside the experiment's traffic allocation. The result is a
// pure function of (userID, exp.ID); the store only short-circuits
// recomputation.
func (b *Bucketer) Assign(ctx context.Context, exp models.Experiment, userID string) (*models.Assignment, error) {
	if b.Store != nil {
		cached, err := b.Store.Get(ctx, userID, exp.ID)
		if err != nil {
			return nil, fmt.Errorf("read assignment cache: %w", err)
		}
		if cached != nil {
			return cached, nil
		}
	}

	h := hashString(userID + ":" + exp.ID)
	if int(h%100) >= exp.Traffic {
		return nil, nil
	}

	v, ok := pickVariant(exp.Variants, float64(h%10000)/100)
	if !ok {
		return nil, nil
	}

	now := time.Now()
	if b.Now != nil {
		now = b.Now()
	}
	a := &models.Assignment{
		ExperimentID: exp.ID,
		VariantID:    v.ID,
		IsControl:    v.Control,
		AssignedAt:   now,
	}
	if b.Store != nil {
		if err := b.Store.Put(ctx, userID, a); err != nil {
			return nil, fmt.Errorf("cache assignment: %w", err)
		}
	}
	observability.ExperimentAssignments.WithLabelValues(exp.ID, v.ID).Inc()
	return a, nil
}

// pickVariant walks cumulative weights. Weights are expected to sum
// to 100; any shortfall is absorbed by the last variant.
func pickVariant(variants []models.Variant, bucket float64) (models.Variant, bool) {
	if len(variants) == 0 {
		return models.Variant{}, false
	}
	cum := 0.0
	for _, v := range variants {
		cum += float64(v.Weight)
		if bucket < cum {
			return v, true
		}
	}
	return variants[len(variants)-1], true
}
