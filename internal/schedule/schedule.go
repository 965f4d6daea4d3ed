// Package schedule computes recurring due dates for maintenance tasks.
package schedule

import (
	"fmt"
	"time"

	"github.com/nadmax/tickler/internal/date"
)

type Unit string

const (
	Days   Unit = "days"
	Weeks  Unit = "weeks"
	Months Unit = "months"
	Years  Unit = "years"
)

var Units = []Unit{Days, Weeks, Months, Years}

// MaxValue caps a frequency's value for every unit.
const MaxValue = 1000

func (u Unit) Valid() bool {
	switch u {
	case Days, Weeks, Months, Years:
		return true
	default:
		return false
	}
}

func ParseUnit(s string) (Unit, error) {
	u := Unit(s)
	if !u.Valid() {
		return "", fmt.Errorf("unknown frequency unit %q", s)
	}

	return u, nil
}

// NextDue returns anchor advanced by value units.
//
// Month and year arithmetic clamps to the last day of the target month, so
// Jan 31 + 1 month is Feb 28 (or Feb 29 in a leap year) rather than rolling
// into March. An unrecognised unit is treated as days; input validation is
// expected to reject such units before they are stored.
func NextDue(anchor date.Date, value int, unit Unit) date.Date {
	switch unit {
	case Weeks:
		return anchor.AddDays(7 * value)
	case Months:
		return addMonths(anchor, value)
	case Years:
		return addMonths(anchor, 12*value)
	default:
		return anchor.AddDays(value)
	}
}

func addMonths(d date.Date, n int) date.Date {
	total := int(d.Month()) - 1 + n
	year := d.Year() + total/12
	month := total % 12
	if month < 0 {
		month += 12
		year--
	}

	m := time.Month(month + 1)
	day := min(d.Day(), date.DaysIn(year, m))

	return date.New(year, m, day)
}
