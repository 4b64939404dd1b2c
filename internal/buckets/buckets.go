// Package buckets computes the mutually exclusive calendar windows used for
// temporal activity aggregation.
//
// For a fixed (location, now) pair the six buckets partition the time line:
// every instant is assigned to exactly one of them. Boundaries are local
// midnights converted to UTC, weeks start on Monday, and intervals are
// half-open [Start, End). Instants at or after the end of today are treated
// as today so clock-skewed data is never dropped.
package buckets

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownTimezone is returned for time zone names the tz database does not know.
var ErrUnknownTimezone = errors.New("unknown time zone")

// Name identifies a bucket.
type Name string

const (
	Today     Name = "today"
	Yesterday Name = "yesterday"
	ThisWeek  Name = "this_week"
	LastWeek  Name = "last_week"
	ThisMonth Name = "this_month"
	Older     Name = "older"
)

// Order lists bucket names from most to least recent.
var Order = [...]Name{Today, Yesterday, ThisWeek, LastWeek, ThisMonth, Older}

// Bucket is a single window. Start is nil only for Older.
type Bucket struct {
	Name  Name       `json:"name"`
	Start *time.Time `json:"start"`
	End   time.Time  `json:"end"`
}

// Empty reports whether the window contains no instants.
func (b Bucket) Empty() bool {
	return b.Start != nil && !b.Start.Before(b.End)
}

// Contains reports whether t lies inside [Start, End).
func (b Bucket) Contains(t time.Time) bool {
	if b.Start != nil && t.Before(*b.Start) {
		return false
	}
	return t.Before(b.End)
}

// Set is the full bucket layout for one (location, now) pair.
type Set struct {
	Now      time.Time
	Location *time.Location
	Buckets  [len(Order)]Bucket
}

// LoadLocation validates a caller supplied zone name. An empty name is UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC, nil
	}
	// "Local" depends on the host and is never a valid client zone.
	if name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	return loc, nil
}

// Compute returns the buckets for now as seen from loc. A nil loc means UTC.
func Compute(now time.Time, loc *time.Location) Set {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()

	todayStart := midnight(y, m, d, loc)
	tomorrowStart := midnight(y, m, d+1, loc)
	yesterdayStart := midnight(y, m, d-1, loc)

	// Monday is day one.
	offset := (int(local.Weekday()) + 6) % 7
	weekStart := midnight(y, m, d-offset, loc)
	prevWeekStart := midnight(y, m, d-offset-7, loc)
	monthStart := midnight(y, m, 1, loc)

	// Each lower boundary is clamped to the one above it so windows never
	// overlap. Early in a week or month this leaves some windows empty.
	thisWeekStart := earliest(weekStart, yesterdayStart)
	lastWeekStart := earliest(prevWeekStart, thisWeekStart)
	thisMonthStart := earliest(monthStart, lastWeekStart)

	set := Set{Now: now.UTC(), Location: loc}
	set.Buckets = [len(Order)]Bucket{
		{Name: Today, Start: ptr(todayStart), End: tomorrowStart.UTC()},
		{Name: Yesterday, Start: ptr(yesterdayStart), End: todayStart.UTC()},
		{Name: ThisWeek, Start: ptr(thisWeekStart), End: yesterdayStart.UTC()},
		{Name: LastWeek, Start: ptr(lastWeekStart), End: thisWeekStart.UTC()},
		{Name: ThisMonth, Start: ptr(thisMonthStart), End: lastWeekStart.UTC()},
		{Name: Older, Start: nil, End: thisMonthStart.UTC()},
	}
	return set
}

// Assign returns the single bucket t belongs to.
func (s Set) Assign(t time.Time) Name {
	for _, b := range s.Buckets[:len(s.Buckets)-1] {
		if b.Empty() {
			continue
		}
		if !t.Before(*b.Start) {
			return b.Name
		}
	}
	return Older
}

// Thresholds returns the lower bound of every bounded bucket, most recent
// first. Stores use it to assign rows in one pass: a row belongs to the first
// bucket whose threshold it is not before, or to Older.
func (s Set) Thresholds() []Threshold {
	out := make([]Threshold, 0, len(s.Buckets)-1)
	for _, b := range s.Buckets[:len(s.Buckets)-1] {
		if b.Empty() {
			continue
		}
		out = append(out, Threshold{Name: b.Name, Start: *b.Start})
	}
	return out
}

// Threshold is the inclusive lower bound of a bucket.
type Threshold struct {
	Name  Name
	Start time.Time
}

func midnight(y int, m time.Month, d int, loc *time.Location) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func earliest(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func ptr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
