package usage

import "time"

// DayLayout is the layout of counter day keys.
const DayLayout = "2006-01-02"

// Day returns the day key for t in loc.
func Day(t time.Time, loc *time.Location) string {
	return t.In(locOrUTC(loc)).Format(DayLayout)
}

// NextMidnight returns the first instant of the day after t in loc.
func NextMidnight(t time.Time, loc *time.Location) time.Time {
	t = t.In(locOrUTC(loc))
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// DaysAgo returns the day key n calendar days before t in loc.
func DaysAgo(t time.Time, loc *time.Location, n int) string {
	t = t.In(locOrUTC(loc))
	y, m, d := t.Date()
	return time.Date(y, m, d-n, 12, 0, 0, 0, t.Location()).Format(DayLayout)
}

func locOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
