package util

import "time"

// DayLayout is the calendar-day format used in cache keys.
const DayLayout = "2006-01-02"

// DayIn formats the calendar day of ts as observed in loc.
func DayIn(ts time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return ts.In(loc).Format(DayLayout)
}

// LoadLocation resolves an IANA zone name, returning nil for empty or unknown names.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil
	}
	return loc
}
