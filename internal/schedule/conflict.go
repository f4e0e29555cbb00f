package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. The single test covers all three cases:
// one interval inside the other, and partial overlap on either edge.
// Back-to-back intervals sharing a boundary do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// ConflictDetector answers whether a time range collides with any live
// slot already persisted for a provider. Cancelled and past slots do
// not count.
type ConflictDetector struct {
	repo Repository
}

func NewConflictDetector(repo Repository) *ConflictDetector {
	return &ConflictDetector{repo: repo}
}

func (d *ConflictDetector) HasConflict(ctx context.Context, providerID uuid.UUID, start, end time.Time) (bool, error) {
	return d.repo.HasOverlap(ctx, providerID, start, end)
}
