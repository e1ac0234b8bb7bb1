package service

import (
	"time"

	"github.com/shopspring/decimal"
)

// Calendar dates travel as midnight UTC so they compare and format the same
// whatever zone the instant they came from was in.

func civilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func asDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func monthRange(date time.Time) (time.Time, time.Time) {
	first := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first, first.AddDate(0, 1, -1)
}

// isoWeekRange returns the Monday and Sunday of date's ISO week.
func isoWeekRange(date time.Time) (time.Time, time.Time) {
	d := asDate(date)
	offset := (int(d.Weekday()) + 6) % 7
	monday := d.AddDate(0, 0, -offset)
	return monday, monday.AddDate(0, 0, 6)
}

var sixty = decimal.NewFromInt(60)

// minutesToHours converts minutes to hours at two decimals.
func minutesToHours(minutes int) decimal.Decimal {
	return decimal.NewFromInt(int64(minutes)).Div(sixty).Round(2)
}

// roundHours rounds hours to the nearest multiple of step minutes.
func roundHours(hours decimal.Decimal, step int) decimal.Decimal {
	if step <= 0 {
		return hours.Round(2)
	}
	s := decimal.NewFromInt(int64(step))
	units := hours.Mul(sixty).Div(s).Round(0)
	return units.Mul(s).Div(sixty).Round(2)
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
