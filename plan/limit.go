package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Persisted sentinel encoding of a Limit.
const (
	sentinelUnlimited int64 = -1
	sentinelDisabled  int64 = 0
)

// LimitKind tags the variant held by a Limit.
type LimitKind uint8

const (
	// KindDisabled means the feature is not available on the plan.
	KindDisabled LimitKind = iota
	// KindUnlimited means the feature has no monthly cap.
	KindUnlimited
	// KindBounded means the feature may be used up to N times per month.
	KindBounded
)

func (k LimitKind) String() string {
	switch k {
	case KindUnlimited:
		return "unlimited"
	case KindBounded:
		return "bounded"
	default:
		return "disabled"
	}
}

// Limit is a per-feature monthly quota. The zero value is Disabled, so a
// limit that was never set denies access.
//
// Limits serialize as the integer encoding used in storage and on the wire:
// -1 unlimited, 0 disabled, n > 0 bounded.
//
//nolint:recvcheck // UnmarshalJSON needs a pointer receiver.
type Limit struct {
	kind LimitKind
	max  int64
}

// Unlimited returns a Limit with no cap.
func Unlimited() Limit { return Limit{kind: KindUnlimited} }

// Disabled returns a Limit that never allows use.
func Disabled() Limit { return Limit{kind: KindDisabled} }

// Bounded returns a Limit allowing n uses per month. n <= 0 yields Disabled.
func Bounded(n int64) Limit {
	if n <= 0 {
		return Disabled()
	}
	return Limit{kind: KindBounded, max: n}
}

// LimitFromInt decodes the integer encoding. Negative values other than -1
// are treated as Disabled.
func LimitFromInt(v int64) Limit {
	switch {
	case v == sentinelUnlimited:
		return Unlimited()
	case v > 0:
		return Bounded(v)
	default:
		return Disabled()
	}
}

// Kind returns the variant tag.
func (l Limit) Kind() LimitKind { return l.kind }

// IsUnlimited reports whether the limit has no cap.
func (l Limit) IsUnlimited() bool { return l.kind == KindUnlimited }

// IsDisabled reports whether the feature is unavailable.
func (l Limit) IsDisabled() bool { return l.kind == KindDisabled }

// IsBounded reports whether the limit caps usage at Max.
func (l Limit) IsBounded() bool { return l.kind == KindBounded }

// Max returns the cap of a bounded limit and 0 otherwise.
func (l Limit) Max() int64 {
	if l.kind != KindBounded {
		return 0
	}
	return l.max
}

// Int returns the integer encoding.
func (l Limit) Int() int64 {
	switch l.kind {
	case KindUnlimited:
		return sentinelUnlimited
	case KindBounded:
		return l.max
	default:
		return sentinelDisabled
	}
}

// Allows reports whether one more use is permitted after used uses.
func (l Limit) Allows(used int64) bool {
	switch l.kind {
	case KindUnlimited:
		return true
	case KindBounded:
		return used < l.max
	default:
		return false
	}
}

// Remaining returns the uses left after used uses: -1 when unlimited,
// 0 when disabled or exhausted.
func (l Limit) Remaining(used int64) int64 {
	switch l.kind {
	case KindUnlimited:
		return -1
	case KindBounded:
		if used >= l.max {
			return 0
		}
		return l.max - used
	default:
		return 0
	}
}

// PercentUsed returns consumption as a percentage capped at 100.
// Unlimited reports 0 and Disabled reports 100.
func (l Limit) PercentUsed(used int64) float64 {
	switch l.kind {
	case KindUnlimited:
		return 0
	case KindBounded:
		if used >= l.max {
			return 100
		}
		if used <= 0 {
			return 0
		}
		return float64(used) / float64(l.max) * 100
	default:
		return 100
	}
}

func (l Limit) String() string {
	switch l.kind {
	case KindUnlimited:
		return "unlimited"
	case KindBounded:
		return strconv.FormatInt(l.max, 10)
	default:
		return "disabled"
	}
}

// MarshalJSON encodes the limit as its integer form.
func (l Limit) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(l.Int(), 10)), nil
}

// UnmarshalJSON decodes the integer form.
func (l *Limit) UnmarshalJSON(data []byte) error {
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("plan: limit must be an integer: %w", err)
	}
	*l = LimitFromInt(v)
	return nil
}
