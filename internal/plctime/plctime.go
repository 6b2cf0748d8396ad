// Package plctime converts the controller's broken-down wall clock into
// epoch milliseconds.
package plctime

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDateTime is returned for clocks that were never set or carry
// out-of-range fields.
var ErrInvalidDateTime = errors.New("invalid controller date/time")

// DateTime is the controller clock as read from a DINT[7] tag:
// year, month, day, hour, minute, second, microsecond.
type DateTime struct {
	Year   int32
	Month  int32
	Day    int32
	Hour   int32
	Minute int32
	Second int32
	Usec   int32
}

// FromArray maps the seven DINT elements in order.
func FromArray(a [7]int32) DateTime {
	return DateTime{a[0], a[1], a[2], a[3], a[4], a[5], a[6]}
}

// EpochMillis converts the clock to Unix milliseconds. The controller
// clock is local time tzOffsetMinutes east of UTC. Years before 2000 mean
// the clock was never set.
func (d DateTime) EpochMillis(tzOffsetMinutes int) (int64, error) {
	if d.Year < 2000 || d.Month < 1 || d.Month > 12 || d.Day < 1 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidDateTime, d)
	}
	t := time.Date(int(d.Year), time.Month(d.Month), int(d.Day),
		int(d.Hour), int(d.Minute), int(d.Second), 0, time.UTC)
	ms := t.UnixMilli() + int64(d.Usec/1000)
	return ms - int64(tzOffsetMinutes)*60_000, nil
}

func (d DateTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%06d",
		d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second, d.Usec)
}

// FormatISO renders Unix milliseconds as a UTC ISO-8601 timestamp with
// millisecond precision.
func FormatISO(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}
