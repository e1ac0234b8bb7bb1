package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/timeflow/timeflow-backend/internal/overtime/repository"
	"github.com/timeflow/timeflow-backend/pkg/actor"
	"github.com/timeflow/timeflow-backend/pkg/logger"
	"github.com/timeflow/timeflow-backend/pkg/tenant"
)

// ConsolidationSummary counts what a consolidation run did
type ConsolidationSummary struct {
	Day           string         `json:"day"`
	Tenants       int            `json:"tenants"`
	FailedTenants int            `json:"failed_tenants"`
	Records       int            `json:"records"`
	Created       int            `json:"created"`
	Existing      int            `json:"existing"`
	Skipped       int            `json:"skipped"`
	Capped        int            `json:"capped"`
	Failed        int            `json:"failed"`
	SkipReasons   map[string]int `json:"skip_reasons,omitempty"`
}

func (s *ConsolidationSummary) count(out DetectionOutcome) {
	switch out.Result {
	case DetectionCreated:
		s.Created++
	case DetectionExisting:
		s.Existing++
	case DetectionCapped:
		s.Capped++
	case DetectionSkipped:
		s.Skipped++
		if s.SkipReasons == nil {
			s.SkipReasons = map[string]int{}
		}
		s.SkipReasons[out.Reason]++
	}
}

// ConsolidationJob is the nightly safety net that creates the entries
// real-time detection missed.
type ConsolidationJob struct {
	overtime   *OvertimeService
	tenants    TenantLister
	policies   PolicySource
	attendance AttendanceSource
	holidays   HolidaySource
	logger     *logger.Logger
	clock
}

// NewConsolidationJob creates a new consolidation job
func NewConsolidationJob(d Deps, overtime *OvertimeService) *ConsolidationJob {
	return &ConsolidationJob{
		overtime:   overtime,
		tenants:    d.Tenants,
		policies:   d.Policies,
		attendance: d.Attendance,
		holidays:   d.Holidays,
		logger:     componentLogger(d.Logger, "consolidation"),
		clock:      newClock(d),
	}
}

// Name identifies the job in schedules and logs.
func (j *ConsolidationJob) Name() string { return "consolidation" }

// RunScheduled consolidates the previous calendar day.
func (j *ConsolidationJob) RunScheduled(ctx context.Context) {
	j.Run(ctx, j.today().AddDate(0, 0, -1))
}

// Run consolidates day for every active tenant, one after another. It never
// fails: tenant and record errors are logged and counted.
func (j *ConsolidationJob) Run(ctx context.Context, day time.Time) ConsolidationSummary {
	day = asDate(day)
	summary := ConsolidationSummary{Day: repository.DateArg(day)}
	started := j.now()

	tenantIDs, err := j.tenants.ListActiveTenantIDs(ctx)
	if err != nil {
		j.logger.Error().Err(err).Str("day", summary.Day).Msg("failed to list tenants")
		return summary
	}

	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			j.logger.Warn().Str("day", summary.Day).Msg("consolidation interrupted")
			break
		}
		summary.Tenants++
		if err := j.runTenant(ctx, tenantID, day, &summary); err != nil {
			summary.FailedTenants++
			j.logger.WithTenantID(tenantID).Error().Err(err).Str("day", summary.Day).Msg("tenant consolidation failed")
		}
	}

	j.logger.Info().
		Str("day", summary.Day).
		Int("tenants", summary.Tenants).
		Int("failed_tenants", summary.FailedTenants).
		Int("records", summary.Records).
		Int("created", summary.Created).
		Int("existing", summary.Existing).
		Int("skipped", summary.Skipped).
		Int("capped", summary.Capped).
		Int("failed", summary.Failed).
		Dur("duration", j.now().Sub(started)).
		Msg("consolidation finished")

	return summary
}

func (j *ConsolidationJob) runTenant(ctx context.Context, tenantID uuid.UUID, day time.Time, summary *ConsolidationSummary) error {
	ctx = tenant.WithTenantID(ctx, tenantID)
	ctx = actor.WithActor(ctx, actor.SystemActor())
	log := j.logger.WithTenantID(tenantID)

	policy, err := j.policies.GetOvertimePolicy(ctx, tenantID)
	if err != nil {
		return err
	}

	// Midnight to midnight in the tenant zone.
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, j.loc)
	to := from.AddDate(0, 0, 1)
	records, err := j.attendance.ListOutEventsWithOvertime(ctx, from, to, policy.MinimumThresholdMinutes)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	var holidays repository.HolidaySet
	if policy.AutoDetectType {
		// Shifts can start the day before.
		if holidays, err = j.holidays.ListHolidayDates(ctx, day.AddDate(0, 0, -1), day); err != nil {
			return err
		}
	}

	created := 0
	for _, rec := range records {
		summary.Records++
		out, err := j.overtime.DetectFromAttendance(ctx, policy, holidays, rec, OriginConsolidation)
		if err != nil {
			summary.Failed++
			log.Error().Err(err).
				Str("attendance_id", rec.AttendanceID.String()).
				Str("employee_id", rec.EmployeeID.String()).
				Msg("failed to consolidate attendance record")
			continue
		}
		summary.count(out)

		switch out.Result {
		case DetectionCreated:
			created++
			log.Warn().
				Str("employee_id", rec.EmployeeID.String()).
				Str("date", repository.DateArg(out.WorkDate)).
				Str("hours", out.Entry.RequestedHours.String()).
				Str("status", out.Entry.Status).
				Msg("overtime missed by real-time detection, created")
		case DetectionCapped:
			log.Info().
				Str("employee_id", rec.EmployeeID.String()).
				Str("date", repository.DateArg(out.WorkDate)).
				Fields(stringFields(out.Limits.Figures())).
				Msg("overtime cap reached, entry not created")
		case DetectionSkipped:
			log.Debug().
				Str("employee_id", rec.EmployeeID.String()).
				Str("reason", out.Reason).
				Msg("attendance record skipped")
		}
	}

	log.Info().Int("records", len(records)).Int("created", created).Str("day", repository.DateArg(day)).Msg("tenant consolidated")
	return nil
}

func stringFields(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
