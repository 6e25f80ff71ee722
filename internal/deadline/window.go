// Package deadline holds the pure time arithmetic used by the housekeeping
// job: hours until a deadline, human-readable remaining-time strings,
// zone conversion with UTC fallback and deadline status classification.
package deadline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // Lambda base images ship without zoneinfo

	"pollkeeper/internal/telemetry"
)

// DisplayLayout renders a deadline as a long date and short time followed by
// the zone abbreviation, e.g. "March 4, 2026 5:30 PM CET".
const DisplayLayout = "January 2, 2006 3:04 PM MST"

// HoursUntil returns the signed fractional hours from reference to deadline.
// Negative values mean the deadline has passed.
func HoursUntil(deadline, reference time.Time) float64 {
	return deadline.Sub(reference).Hours()
}

// HoursRemaining returns the hours left until deadline, clamped at zero.
// The boolean is false when the poll has no deadline.
func HoursRemaining(deadline *time.Time, now time.Time) (float64, bool) {
	if deadline == nil {
		return 0, false
	}
	h := HoursUntil(*deadline, now)
	if h < 0 {
		return 0, true
	}
	return h, true
}

// FormatRemaining renders hours as the two most significant adjacent units
// of day/hour/minute, omitting the lower unit when it is zero:
//
//	50.0  -> "2 days and 2 hours"
//	5.0   -> "5 hours"
//	1.0166 -> "1 hour and 1 minute"
//	0.75  -> "45 minutes"
//
// Anything under one minute (including negative input) is
// "less than a minute".
func FormatRemaining(hours float64) string {
	if hours <= 0 || math.IsNaN(hours) {
		return "less than a minute"
	}

	totalMinutes := int64(math.Round(hours*3600) / 60)
	if totalMinutes < 1 {
		return "less than a minute"
	}

	days := totalMinutes / (24 * 60)
	hrs := (totalMinutes % (24 * 60)) / 60
	mins := totalMinutes % 60

	switch {
	case days > 0:
		return joinUnits(days, "day", hrs, "hour")
	case hrs > 0:
		return joinUnits(hrs, "hour", mins, "minute")
	default:
		return plural(mins, "minute")
	}
}

func joinUnits(major int64, majorUnit string, minor int64, minorUnit string) string {
	if minor == 0 {
		return plural(major, majorUnit)
	}
	return plural(major, majorUnit) + " and " + plural(minor, minorUnit)
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

var locationCache sync.Map // zone name -> *time.Location

func loadLocation(zone string) (*time.Location, error) {
	if loc, ok := locationCache.Load(zone); ok {
		return loc.(*time.Location), nil
	}
	// time.LoadLocation treats "Local" as the process zone; polls never
	// store it, so it is rejected like any other unknown name.
	if strings.EqualFold(zone, "local") {
		return nil, fmt.Errorf("unknown time zone %s", zone)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, err
	}
	locationCache.Store(zone, loc)
	return loc, nil
}

// ConvertToZone returns t expressed in the named IANA zone. An empty zone
// yields t in UTC with no error. An unknown zone yields t in UTC together
// with a *TimezoneConversionError; callers are expected to continue with
// the UTC value.
func ConvertToZone(t time.Time, zone string) (time.Time, error) {
	zone = strings.TrimSpace(zone)
	if zone == "" {
		return t.UTC(), nil
	}
	loc, err := loadLocation(zone)
	if err != nil {
		return t.UTC(), &TimezoneConversionError{Zone: zone, Instant: t, Err: err}
	}
	return t.In(loc), nil
}

// FormatForDisplay renders deadline in zone using DisplayLayout. When the
// zone cannot be loaded the failure is reported and the UTC rendering is
// returned. The boolean is false when deadline is nil.
func FormatForDisplay(ctx context.Context, deadline *time.Time, zone string, reporter telemetry.ExceptionReporter) (string, bool) {
	if deadline == nil {
		return "", false
	}

	local, err := ConvertToZone(*deadline, zone)
	if err != nil && reporter != nil {
		reporter.ReportException(ctx, err, telemetry.Report{
			Tags: map[string]string{
				"component": "deadline",
				"function":  "FormatForDisplay",
				"errorType": "timezone-conversion",
			},
			Extra: map[string]any{
				"timeZone": zone,
				"deadline": deadline.UTC().Format(time.RFC3339),
			},
		})
	}
	return local.Format(DisplayLayout), true
}
