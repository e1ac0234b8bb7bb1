package service

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/timeflow/timeflow-backend/internal/overtime/repository"
	"github.com/timeflow/timeflow-backend/pkg/config"
)

// Classification is the type and rate of an overtime span.
type Classification struct {
	Type string
	Rate decimal.Decimal
}

// Classify decides the type and rate of overtime worked on date over
// [spanStart, spanEnd]. Holidays win over night work. The span is in the night
// window when its end is; the start is used when the end is zero. Both
// instants must already be in the tenant's local zone.
func Classify(date, spanStart, spanEnd time.Time, policy repository.OvertimePolicy, holidays repository.HolidaySet) Classification {
	typ := repository.OvertimeTypeStandard

	if policy.AutoDetectType {
		at := spanEnd
		if at.IsZero() {
			at = spanStart
		}

		switch {
		case holidays.Contains(date):
			typ = repository.OvertimeTypeHoliday
		case !at.IsZero() && IsInNightWindow(at, policy.NightShiftStart, policy.NightShiftEnd):
			typ = repository.OvertimeTypeNight
		}
	}

	return Classification{Type: typ, Rate: policy.RateFor(typ)}
}

// IsInNightWindow compares hour:minute of t against [start, end]. A window
// with start after end wraps midnight.
func IsInNightWindow(t time.Time, start, end config.Clock) bool {
	m := t.Hour()*60 + t.Minute()
	s := start.Hour*60 + start.Minute
	e := end.Hour*60 + end.Minute

	if s > e {
		return m >= s || m <= e
	}
	return m >= s && m <= e
}
