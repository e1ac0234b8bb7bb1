package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/timeflow/timeflow-backend/internal/overtime/repository"
	"github.com/timeflow/timeflow-backend/pkg/errors"
)

// Usage is the hours already counted against caps.
type Usage struct {
	Monthly decimal.Decimal
	Weekly  decimal.Decimal
}

// LimitCheck is the outcome of a cap evaluation. AdjustedHours is set when
// only part of the requested hours fit.
type LimitCheck struct {
	ExceedsLimit  bool
	AdjustedHours *decimal.Decimal
	MonthlyUsed   decimal.Decimal
	MonthlyLimit  *decimal.Decimal
	WeeklyUsed    decimal.Decimal
	WeeklyLimit   *decimal.Decimal
}

// Granted returns the hours that may be created for a request of requested hours.
func (c LimitCheck) Granted(requested decimal.Decimal) decimal.Decimal {
	if c.AdjustedHours != nil {
		return *c.AdjustedHours
	}
	return requested
}

// Figures returns the used and limit values of every configured cap.
func (c LimitCheck) Figures() map[string]string {
	f := map[string]string{}
	if c.MonthlyLimit != nil {
		f["monthly_used"] = c.MonthlyUsed.StringFixed(2)
		f["monthly_limit"] = c.MonthlyLimit.StringFixed(2)
	}
	if c.WeeklyLimit != nil {
		f["weekly_used"] = c.WeeklyUsed.StringFixed(2)
		f["weekly_limit"] = c.WeeklyLimit.StringFixed(2)
	}
	return f
}

// EvaluateLimits applies caps to a request of newHours given current usage.
// The smaller headroom of the configured caps binds.
func EvaluateLimits(usage Usage, newHours decimal.Decimal, caps repository.Caps) LimitCheck {
	check := LimitCheck{
		MonthlyUsed:  usage.Monthly,
		MonthlyLimit: caps.Monthly,
		WeeklyUsed:   usage.Weekly,
		WeeklyLimit:  caps.Weekly,
	}
	if !caps.Any() {
		return check
	}

	var headroom *decimal.Decimal
	bind := func(limit *decimal.Decimal, used decimal.Decimal) {
		if limit == nil {
			return
		}
		h := limit.Sub(used)
		if headroom == nil || h.LessThan(*headroom) {
			headroom = &h
		}
	}
	bind(caps.Monthly, usage.Monthly)
	bind(caps.Weekly, usage.Weekly)

	switch {
	case newHours.LessThanOrEqual(*headroom):
	case headroom.IsPositive():
		check.AdjustedHours = headroom
	default:
		check.ExceedsLimit = true
	}
	return check
}

// LimitEnforcer checks caps against stored usage
type LimitEnforcer struct {
	overtime OvertimeStore
}

// NewLimitEnforcer creates a new limit enforcer
func NewLimitEnforcer(overtime OvertimeStore) *LimitEnforcer {
	return &LimitEnforcer{overtime: overtime}
}

// CheckLimits evaluates caps for newHours on date, counting PENDING and
// APPROVED entries of the calendar month and ISO week of date, except excludeID.
func (l *LimitEnforcer) CheckLimits(ctx context.Context, employeeID uuid.UUID, date time.Time, newHours decimal.Decimal, caps repository.Caps, excludeID *uuid.UUID) (LimitCheck, error) {
	if !caps.Any() {
		return EvaluateLimits(Usage{}, newHours, caps), nil
	}

	var usage Usage
	if caps.Monthly != nil {
		from, to := monthRange(date)
		used, err := l.overtime.SumUsage(ctx, employeeID, from, to, excludeID)
		if err != nil {
			return LimitCheck{}, err
		}
		usage.Monthly = used
	}
	if caps.Weekly != nil {
		from, to := isoWeekRange(date)
		used, err := l.overtime.SumUsage(ctx, employeeID, from, to, excludeID)
		if err != nil {
			return LimitCheck{}, err
		}
		usage.Weekly = used
	}

	return EvaluateLimits(usage, newHours, caps), nil
}

func limitExceeded(check LimitCheck) error {
	return errors.LimitExceeded(check.Figures())
}
