package budget

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - Calendar month used for schedule placement and distribution
// =============================================================================

// Month is a calendar month with no day component. The zero value means
// "not placed" (a schedule line waiting for a human to position it).
type Month struct {
	Year  int
	Month time.Month
}

func NewMonth(year int, month time.Month) Month {
	return Month{Year: year, Month: month}
}

func CurrentMonth() Month {
	now := time.Now().UTC()
	return Month{Year: now.Year(), Month: now.Month()}
}

// ParseMonth parses "2006-01" formatted strings.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q (use YYYY-MM): %w", s, err)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

func (m Month) IsZero() bool { return m.Year == 0 && m.Month == 0 }

// index maps the month onto a single integer axis for comparison and spans.
func (m Month) index() int { return m.Year*12 + int(m.Month) - 1 }

func (m Month) Before(other Month) bool        { return m.index() < other.index() }
func (m Month) After(other Month) bool         { return m.index() > other.index() }
func (m Month) Equal(other Month) bool         { return m.index() == other.index() }
func (m Month) BeforeOrEqual(other Month) bool { return m.index() <= other.index() }

func (m Month) Add(n int) Month {
	i := m.index() + n
	year := i / 12
	month := time.Month(i%12 + 1)
	return Month{Year: year, Month: month}
}

// MonthsUntil returns the number of months from m to end inclusive.
// Returns 0 when end precedes m.
func (m Month) MonthsUntil(end Month) int {
	n := end.index() - m.index() + 1
	if n < 0 {
		return 0
	}
	return n
}

// SpanTo enumerates every month from m to end inclusive.
func (m Month) SpanTo(end Month) []Month {
	if end.Before(m) {
		return nil
	}
	span := make([]Month, 0, m.MonthsUntil(end))
	for cur := m; cur.BeforeOrEqual(end); cur = cur.Add(1) {
		span = append(span, cur)
	}
	return span
}

func (m Month) String() string {
	if m.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// MinMonth and MaxMonth pick span boundaries; zero months are ignored so an
// unplaced line never drags a span toward year 0.
func MinMonth(a, b Month) Month {
	if a.IsZero() {
		return b
	}
	if b.IsZero() || a.Before(b) {
		return a
	}
	return b
}

func MaxMonth(a, b Month) Month {
	if a.IsZero() {
		return b
	}
	if b.IsZero() || a.After(b) {
		return a
	}
	return b
}
