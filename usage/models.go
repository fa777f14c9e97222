// Package usage defines per-user, per-feature, per-calendar-month
// consumption counters.
package usage

import (
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/types"
)

// Record counts one user's uses of one feature within one calendar month.
// The key is (UserID, Feature, PeriodStart). Counts only grow.
type Record struct {
	types.Entity
	ID          id.UsageID   `json:"id"`
	UserID      string       `json:"user_id"`
	Feature     plan.Feature `json:"feature"`
	PeriodStart time.Time    `json:"period_start"`
	PeriodEnd   time.Time    `json:"period_end"`
	Count       int64        `json:"count"`
}

// MonthBounds returns the first and last instant of the UTC calendar month
// containing t.
func MonthBounds(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return start, end
}

// MonthKey renders the month containing t as "2006-01".
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
