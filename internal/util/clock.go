package util

import (
	"fmt"
	"time"
)

// EasternLocation loads the America/New_York timezone, which correctly
// observes daylight saving time transitions (unlike a fixed UTC-5/UTC-4
// offset).
func EasternLocation() (*time.Location, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading America/New_York timezone: %w", err)
	}
	return loc, nil
}

// MinutesOfDayET converts a wall-clock instant to minutes-since-midnight
// in Eastern Time, honoring DST.
func MinutesOfDayET(now time.Time) (int, error) {
	loc, err := EasternLocation()
	if err != nil {
		return 0, err
	}
	et := now.In(loc)
	return et.Hour()*60 + et.Minute(), nil
}
