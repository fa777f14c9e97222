package usage

import (
	"context"
	"time"

	"github.com/xraph/entitle/plan"
)

type Store interface {
	// GetUsage returns the count for the month starting at periodStart.
	// A missing record counts as zero.
	GetUsage(ctx context.Context, userID string, feature plan.Feature, periodStart time.Time) (int64, error)
	// IncrementUsage adds one to the record keyed by (userID, feature,
	// periodStart), creating it with count 1 when absent, and returns the
	// new count.
	IncrementUsage(ctx context.Context, userID string, feature plan.Feature, periodStart, periodEnd time.Time) (int64, error)
	// IncrementUsageIfBelow is IncrementUsage guarded by count < max as one
	// atomic step. It fails with entitle.ErrQuotaExceeded when the guard
	// does not hold.
	IncrementUsageIfBelow(ctx context.Context, userID string, feature plan.Feature, periodStart, periodEnd time.Time, max int64) (int64, error)
	// ListUsage returns every record of the user for the month starting at
	// periodStart.
	ListUsage(ctx context.Context, userID string, periodStart time.Time) ([]*Record, error)
}
