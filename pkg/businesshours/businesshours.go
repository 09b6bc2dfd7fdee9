// Package businesshours validates and evaluates per-flow local-time windows.
package businesshours

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

var (
	ErrInvalidTime     = errors.New("time must use the 24-hour HH:MM:SS format")
	ErrInvalidTimezone = errors.New("unknown timezone")
	ErrInvalidWindow   = errors.New("business hours start must be before end")
)

var timeOfDayPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d:[0-5]\d$`)

// Validate checks the format of both bounds, resolves the zone and requires
// start strictly before end. Windows never wrap past midnight.
func Validate(bh *models.BusinessHours) error {
	if bh == nil {
		return nil
	}

	start, err := ParseTimeOfDay(bh.Start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	end, err := ParseTimeOfDay(bh.End)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}

	if _, err := loadLocation(bh.Timezone); err != nil {
		return err
	}

	if start >= end {
		return fmt.Errorf("%w: %s >= %s", ErrInvalidWindow, bh.Start, bh.End)
	}

	return nil
}

// IsWithin reports whether now, converted into the window's zone, falls
// between start and end inclusive. A nil window is always open.
func IsWithin(bh *models.BusinessHours, now time.Time) bool {
	if bh == nil {
		return true
	}

	start, err := ParseTimeOfDay(bh.Start)
	if err != nil {
		return false
	}

	end, err := ParseTimeOfDay(bh.End)
	if err != nil {
		return false
	}

	loc, err := loadLocation(bh.Timezone)
	if err != nil {
		return false
	}

	local := now.In(loc)
	elapsed := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second

	return elapsed >= start && elapsed <= end
}

// ParseTimeOfDay parses a strict HH:MM:SS value into the offset from midnight.
func ParseTimeOfDay(value string) (time.Duration, error) {
	if !timeOfDayPattern.MatchString(value) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, value)
	}

	hours, _ := strconv.Atoi(value[0:2])
	minutes, _ := strconv.Atoi(value[3:5])
	seconds, _ := strconv.Atoi(value[6:8])

	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: timezone is required", ErrInvalidTimezone)
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}

	return loc, nil
}
