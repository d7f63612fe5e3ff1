// Package retention decides which snapshots survive a rotation.
//
// Every snapshot falls into exactly one age band. Only that band's rule
// applies:
//
//	age <= DailyDays                  daily    keep
//	age <= WeeklyDays                 weekly   keep on Sundays
//	age <= MonthlyDays                monthly  keep on the first Sunday of the month
//	otherwise                         expired  delete
//
// Age is the number of whole 24h periods between createdAt and now, not a
// calendar-day difference. Weekday and day-of-month are read in
// Config.Location.
package retention

import (
	"fmt"
	"time"
)

const (
	DefaultDailyDays   = 14
	DefaultWeeklyDays  = 12 * 7
	DefaultMonthlyDays = 12 * 30

	dayMillis = int64(24 * time.Hour / time.Millisecond)
)

// Band is the age band a snapshot falls into.
type Band int

const (
	BandDaily Band = iota
	BandWeekly
	BandMonthly
	BandExpired
)

func (b Band) String() string {
	switch b {
	case BandDaily:
		return "daily"
	case BandWeekly:
		return "weekly"
	case BandMonthly:
		return "monthly"
	case BandExpired:
		return "expired"
	default:
		return fmt.Sprintf("band(%d)", int(b))
	}
}

// Config holds the three horizons, in days, and the zone calendar fields are
// computed in. A nil Location means UTC.
type Config struct {
	DailyDays   int
	WeeklyDays  int
	MonthlyDays int
	Location    *time.Location
}

// DefaultConfig returns 14 days, 12 weeks and 12 months in UTC.
func DefaultConfig() Config {
	return Config{
		DailyDays:   DefaultDailyDays,
		WeeklyDays:  DefaultWeeklyDays,
		MonthlyDays: DefaultMonthlyDays,
		Location:    time.UTC,
	}
}

// Loc returns the configured location, or UTC.
func (c Config) Loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// Validate returns warnings for windows that are not increasing. Such
// configurations are still evaluated band by band in order.
func (c Config) Validate() []string {
	var warnings []string
	if c.DailyDays < 0 || c.WeeklyDays < 0 || c.MonthlyDays < 0 {
		warnings = append(warnings, fmt.Sprintf(
			"negative window (daily=%d weekly=%d monthly=%d)", c.DailyDays, c.WeeklyDays, c.MonthlyDays))
	}
	if c.DailyDays > c.WeeklyDays {
		warnings = append(warnings, fmt.Sprintf(
			"daily window (%dd) exceeds weekly window (%dd); weekly band is empty", c.DailyDays, c.WeeklyDays))
	}
	if c.WeeklyDays > c.MonthlyDays {
		warnings = append(warnings, fmt.Sprintf(
			"weekly window (%dd) exceeds monthly window (%dd); monthly band is empty", c.WeeklyDays, c.MonthlyDays))
	}
	return warnings
}

// Decision is the verdict for one snapshot.
type Decision struct {
	Band Band
	Keep bool
	Age  int
}

// Decide classifies a snapshot created at createdAt, as seen at now.
// It is pure: the same inputs always give the same Decision.
func Decide(createdAt, now time.Time, cfg Config) Decision {
	age := AgeDays(createdAt, now)
	local := createdAt.In(cfg.Loc())
	sunday := local.Weekday() == time.Sunday

	switch {
	case age <= cfg.DailyDays:
		return Decision{Band: BandDaily, Keep: true, Age: age}
	case age <= cfg.WeeklyDays:
		return Decision{Band: BandWeekly, Keep: sunday, Age: age}
	case age <= cfg.MonthlyDays:
		return Decision{Band: BandMonthly, Keep: sunday && local.Day() <= 7, Age: age}
	default:
		return Decision{Band: BandExpired, Keep: false, Age: age}
	}
}

// AgeDays returns the whole days elapsed from createdAt to now, rounding
// toward negative infinity. A snapshot from the future has a negative age.
func AgeDays(createdAt, now time.Time) int {
	diff := now.UnixMilli() - createdAt.UnixMilli()
	q := diff / dayMillis
	if diff%dayMillis != 0 && diff < 0 {
		q--
	}
	return int(q)
}
