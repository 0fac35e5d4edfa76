package timecalc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidInterval is returned when a span does not end after it starts.
var ErrInvalidInterval = errors.New("timecalc: interval end must be after its start")

const (
	// DateLayout renders calendar dates day first, e.g. 27/02/2026.
	DateLayout = "02/01/2006"
	// ClockLayout renders 24-hour wall-clock times.
	ClockLayout = "15:04:05"
)

// Span is a duty interval in epoch milliseconds, rendered in loc.
type Span struct {
	Start int64
	End   int64
	loc   *time.Location
}

// NewSpan validates start < end. A nil location means time.Local.
func NewSpan(start, end int64, loc *time.Location) (Span, error) {
	if end <= start {
		return Span{}, fmt.Errorf("%w: start=%d end=%d", ErrInvalidInterval, start, end)
	}
	if loc == nil {
		loc = time.Local
	}
	return Span{Start: start, End: end, loc: loc}, nil
}

// Seconds returns the whole seconds covered by the span, rounded down.
func (s Span) Seconds() int64 {
	return (s.End - s.Start) / 1000
}

// Date returns the calendar date the span started on.
func (s Span) Date() string {
	return FormatDate(time.UnixMilli(s.Start).In(s.loc))
}

// StartClock returns the wall-clock start time.
func (s Span) StartClock() string {
	return FormatClock(time.UnixMilli(s.Start).In(s.loc))
}

// EndClock returns the wall-clock end time.
func (s Span) EndClock() string {
	return FormatClock(time.UnixMilli(s.End).In(s.loc))
}

// FormatDuration formats seconds as HH:MM:SS. Hours are not wrapped at 24.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ParseDuration is the inverse of FormatDuration.
func ParseDuration(v string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid duration %q: want HH:MM:SS", v)
	}
	var fields [3]int64
	for i, p := range parts {
		if p == "" || (i > 0 && len(p) != 2) {
			return 0, fmt.Errorf("invalid duration %q: want HH:MM:SS", v)
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q: want HH:MM:SS", v)
		}
		fields[i] = n
	}
	if fields[1] > 59 || fields[2] > 59 {
		return 0, fmt.Errorf("invalid duration %q: minutes and seconds must be below 60", v)
	}
	return fields[0]*3600 + fields[1]*60 + fields[2], nil
}

// FormatDate renders t as DD/MM/YYYY.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// FormatClock renders t as HH:MM:SS.
func FormatClock(t time.Time) string {
	return t.Format(ClockLayout)
}

// Elapsed returns the whole seconds between startMillis and now, never negative.
func Elapsed(startMillis int64, now time.Time) int64 {
	d := now.UnixMilli() - startMillis
	if d < 0 {
		return 0
	}
	return d / 1000
}

// LoadLocation resolves an IANA zone name. Empty means time.Local.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}
