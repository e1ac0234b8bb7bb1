package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/timeflow/timeflow-backend/pkg/config"
	"github.com/timeflow/timeflow-backend/pkg/database"
)

// OvertimePolicy is the per-tenant overtime configuration, fetched once per
// operation or job iteration.
type OvertimePolicy struct {
	MinimumThresholdMinutes int
	RoundingMinutes         int
	AutoDetectType          bool
	NightShiftStart         config.Clock
	NightShiftEnd           config.Clock
	MajorationEnabled       bool
	StandardRate            decimal.Decimal
	NightRate               decimal.Decimal
	HolidayRate             decimal.Decimal
	EmergencyRate           decimal.Decimal
	AutoApprove             bool
	AutoApproveMaxHours     decimal.Decimal
	DailyWorkingHours       decimal.Decimal
	// ConversionRate scales overtime hours into recovery time: one recovery
	// day costs DailyWorkingHours / ConversionRate hours.
	ConversionRate          decimal.Decimal
	RecoveryExpiryDays      int
}

// DefaultOvertimePolicy returns the policy applied when a tenant has no settings.
func DefaultOvertimePolicy() OvertimePolicy {
	standard := decimal.RequireFromString("1.25")
	return OvertimePolicy{
		MinimumThresholdMinutes: 30,
		RoundingMinutes:         15,
		AutoDetectType:          true,
		NightShiftStart:         config.Clock{Hour: 21},
		NightShiftEnd:           config.Clock{Hour: 6},
		MajorationEnabled:       true,
		StandardRate:            standard,
		NightRate:               decimal.RequireFromString("1.50"),
		HolidayRate:             standard.Mul(decimal.RequireFromString("1.5")),
		EmergencyRate:           standard.Mul(decimal.RequireFromString("1.3")),
		AutoApprove:             false,
		AutoApproveMaxHours:     decimal.NewFromInt(4),
		DailyWorkingHours:       decimal.RequireFromString("7.33"),
		ConversionRate:          decimal.NewFromInt(1),
		RecoveryExpiryDays:      365,
	}
}

// RateFor returns the multiplier of an overtime type. Without majoration every
// type is paid at 1.0.
func (p OvertimePolicy) RateFor(overtimeType string) decimal.Decimal {
	if !p.MajorationEnabled {
		return decimal.NewFromInt(1)
	}
	switch overtimeType {
	case OvertimeTypeNight:
		return p.NightRate
	case OvertimeTypeHoliday:
		return p.HolidayRate
	case OvertimeTypeEmergency:
		return p.EmergencyRate
	default:
		return p.StandardRate
	}
}

// HoursPerRecoveryDay is the overtime cost of one recovery day, at two decimals.
func (p OvertimePolicy) HoursPerRecoveryDay() decimal.Decimal {
	if !p.ConversionRate.IsPositive() {
		return p.DailyWorkingHours
	}
	return p.DailyWorkingHours.Div(p.ConversionRate).Round(2)
}

// tenantSettings mirrors the overtime columns of tenant_settings. Every
// column is nullable; NULL falls back to the default.
type tenantSettings struct {
	MinimumThreshold    *int             `db:"overtime_minimum_threshold"`
	Rounding            *int             `db:"overtime_rounding"`
	AutoDetectType      *bool            `db:"overtime_auto_detect_type"`
	NightShiftStart     *string          `db:"night_shift_start"`
	NightShiftEnd       *string          `db:"night_shift_end"`
	MajorationEnabled   *bool            `db:"overtime_majoration_enabled"`
	StandardRate        *decimal.Decimal `db:"overtime_rate_standard"`
	NightRate           *decimal.Decimal `db:"overtime_rate_night"`
	HolidayRate         *decimal.Decimal `db:"overtime_rate_holiday"`
	EmergencyRate       *decimal.Decimal `db:"overtime_rate_emergency"`
	AutoApprove         *bool            `db:"overtime_auto_approve"`
	AutoApproveMaxHours *decimal.Decimal `db:"overtime_auto_approve_max_hours"`
	DailyWorkingHours   *decimal.Decimal `db:"daily_working_hours"`
	ConversionRate      *decimal.Decimal `db:"recovery_conversion_rate"`
	RecoveryExpiryDays  *int             `db:"recovery_expiry_days"`
}

func (s tenantSettings) policy(defaultDailyHours decimal.Decimal) OvertimePolicy {
	p := DefaultOvertimePolicy()
	if defaultDailyHours.IsPositive() {
		p.DailyWorkingHours = defaultDailyHours
	}

	if s.MinimumThreshold != nil {
		p.MinimumThresholdMinutes = *s.MinimumThreshold
	}
	if s.Rounding != nil && *s.Rounding > 0 {
		p.RoundingMinutes = *s.Rounding
	}
	if s.AutoDetectType != nil {
		p.AutoDetectType = *s.AutoDetectType
	}
	if s.NightShiftStart != nil {
		if c, err := config.ParseClock(*s.NightShiftStart); err == nil {
			p.NightShiftStart = c
		}
	}
	if s.NightShiftEnd != nil {
		if c, err := config.ParseClock(*s.NightShiftEnd); err == nil {
			p.NightShiftEnd = c
		}
	}
	if s.MajorationEnabled != nil {
		p.MajorationEnabled = *s.MajorationEnabled
	}
	if s.StandardRate != nil {
		p.StandardRate = *s.StandardRate
		p.HolidayRate = s.StandardRate.Mul(decimal.RequireFromString("1.5"))
		p.EmergencyRate = s.StandardRate.Mul(decimal.RequireFromString("1.3"))
	}
	if s.NightRate != nil {
		p.NightRate = *s.NightRate
	}
	if s.HolidayRate != nil {
		p.HolidayRate = *s.HolidayRate
	}
	if s.EmergencyRate != nil {
		p.EmergencyRate = *s.EmergencyRate
	}
	if s.AutoApprove != nil {
		p.AutoApprove = *s.AutoApprove
	}
	if s.AutoApproveMaxHours != nil {
		p.AutoApproveMaxHours = *s.AutoApproveMaxHours
	}
	if s.DailyWorkingHours != nil && s.DailyWorkingHours.IsPositive() {
		p.DailyWorkingHours = *s.DailyWorkingHours
	}
	if s.ConversionRate != nil && s.ConversionRate.IsPositive() {
		p.ConversionRate = *s.ConversionRate
	}
	if s.RecoveryExpiryDays != nil && *s.RecoveryExpiryDays > 0 {
		p.RecoveryExpiryDays = *s.RecoveryExpiryDays
	}
	return p
}

// PolicyRepository reads tenant overtime settings
type PolicyRepository struct {
	db                *database.DB
	defaultDailyHours decimal.Decimal
}

// NewPolicyRepository creates a new policy repository. defaultDailyHours
// replaces the built-in working day length when a tenant has none.
func NewPolicyRepository(db *database.DB, defaultDailyHours decimal.Decimal) *PolicyRepository {
	return &PolicyRepository{db: db, defaultDailyHours: defaultDailyHours}
}

// GetOvertimePolicy loads the policy of the tenant in ctx, defaults when the
// tenant has no settings row.
func (r *PolicyRepository) GetOvertimePolicy(ctx context.Context, tenantID uuid.UUID) (OvertimePolicy, error) {
	var s tenantSettings
	err := r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `
			SELECT overtime_minimum_threshold, overtime_rounding, overtime_auto_detect_type,
				night_shift_start, night_shift_end, overtime_majoration_enabled,
				overtime_rate_standard, overtime_rate_night, overtime_rate_holiday, overtime_rate_emergency,
				overtime_auto_approve, overtime_auto_approve_max_hours,
				daily_working_hours, recovery_conversion_rate, recovery_expiry_days
			FROM tenant_settings
			WHERE tenant_id = $1
		`
		return sqlx.GetContext(ctx, r.db.Querier(ctx), &s, query, tenantID)
	})
	if err == sql.ErrNoRows {
		return tenantSettings{}.policy(r.defaultDailyHours), nil
	}
	if err != nil {
		return OvertimePolicy{}, database.MapError(err)
	}
	return s.policy(r.defaultDailyHours), nil
}
