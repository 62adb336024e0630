package services

import "time"

// Clock is the single source of wall-clock time for the posting core.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// AccountingDate returns the civil date of t in loc, stored as midnight UTC.
func AccountingDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
