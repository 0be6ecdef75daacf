package risk

import "time"

// marketOpenMinutes and marketCloseMinutes bound the regular NYSE session
// (09:30-16:00 Eastern) in minutes since midnight.
const (
	marketOpenMinutes  = 9*60 + 30
	marketCloseMinutes = 16 * 60
)

// easternTime resolves the exchange time zone, falling back to a fixed UTC-5
// zone when the tz database is unavailable.
func easternTime() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("ET", -5*60*60)
	}

	return loc
}

// InMarketHours reports whether t falls inside the regular NYSE session.
// Exchange holidays are not modeled; the external scheduler does not trigger
// cycles on holidays.
func InMarketHours(t time.Time, loc *time.Location) bool {
	local := t.In(loc)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	case time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday:
	}

	minutes := local.Hour()*60 + local.Minute()

	return minutes >= marketOpenMinutes && minutes < marketCloseMinutes
}
