// Package wateryear converts wall-clock times to the hydrological-year clock
// used as the simulation's internal time index. A water year starts at
// 00:00 on October 1 and is named for the calendar year in which it ends.
package wateryear

import "time"

// Start returns the first instant of the water year containing t, in t's location.
func Start(t time.Time) time.Time {
	year := t.Year()
	if t.Month() < time.October {
		year--
	}
	return time.Date(year, time.October, 1, 0, 0, 0, 0, t.Location())
}

// Year returns the water year number for t (WY2024 runs Oct 2023 - Sep 2024).
func Year(t time.Time) int {
	return Start(t).Year() + 1
}

// Hour returns the elapsed hours since the start of t's water year.
func Hour(t time.Time) float64 {
	return t.Sub(Start(t)).Hours()
}
