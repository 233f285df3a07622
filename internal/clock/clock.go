package clock

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock time so the progress engine stays deterministic in tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a settable clock for tests and replay tooling.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// LocalDate returns the calendar date of t in loc as YYYY-MM-DD.
func LocalDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// DateLayout is the storage format for calendar dates.
const DateLayout = "2006-01-02"

// DaysBetween returns the number of calendar days from date a to date b
// (both YYYY-MM-DD). ok is false when either date is malformed.
func DaysBetween(a, b string) (days int, ok bool) {
	ta, err := time.Parse(DateLayout, a)
	if err != nil {
		return 0, false
	}
	tb, err := time.Parse(DateLayout, b)
	if err != nil {
		return 0, false
	}
	return int(tb.Sub(ta).Hours() / 24), true
}

// AddDays shifts a YYYY-MM-DD date by n calendar days.
func AddDays(date string, n int) string {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, n).Format(DateLayout)
}

// WeekStart returns the Monday of the week containing t in loc, as YYYY-MM-DD.
func WeekStart(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	weekday := int(local.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	monday := local.AddDate(0, 0, -(weekday - 1))
	return monday.Format(DateLayout)
}
