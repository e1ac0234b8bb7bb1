package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/timeflow/timeflow-backend/internal/overtime/repository"
	"github.com/timeflow/timeflow-backend/pkg/actor"
	"github.com/timeflow/timeflow-backend/pkg/database"
	"github.com/timeflow/timeflow-backend/pkg/errors"
	"github.com/timeflow/timeflow-backend/pkg/httputil"
	"github.com/timeflow/timeflow-backend/pkg/logger"
	"github.com/timeflow/timeflow-backend/pkg/messaging"
	"github.com/timeflow/timeflow-backend/pkg/tenant"
)

// OvertimeService owns the overtime ledger: creation, detection from
// attendance, the approval state machine and balances.
type OvertimeService struct {
	tx         Transactor
	overtime   OvertimeStore
	recovery   RecoveryStore
	employees  EmployeeDirectory
	policies   PolicySource
	attendance AttendanceSource
	holidays   HolidaySource
	absences   AbsenceSource
	limits     *LimitEnforcer
	events     EventPublisher
	logger     *logger.Logger
	clock
}

// NewOvertimeService creates a new overtime service
func NewOvertimeService(d Deps) *OvertimeService {
	return &OvertimeService{
		tx:         d.Tx,
		overtime:   d.Overtime,
		recovery:   d.Recovery,
		employees:  d.Employees,
		policies:   d.Policies,
		attendance: d.Attendance,
		holidays:   d.Holidays,
		absences:   d.Absences,
		limits:     NewLimitEnforcer(d.Overtime),
		events:     d.Events,
		logger:     componentLogger(d.Logger, "overtime"),
		clock:      newClock(d),
	}
}

// ============================================================================
// CREATION
// ============================================================================

// CreateInput is a manual overtime declaration
type CreateInput struct {
	EmployeeID   uuid.UUID        `validate:"required"`
	Date         time.Time        `validate:"required"`
	Hours        decimal.Decimal  `validate:"gt=0,lte=24"`
	Type         string           `validate:"omitempty,oneof=STANDARD NIGHT HOLIDAY EMERGENCY"`
	IsNightShift bool             // legacy flag, NIGHT when Type is empty
	Rate         *decimal.Decimal `validate:"omitempty,gt=0"`
	Status       string           `validate:"omitempty,oneof=PENDING APPROVED"`
	Notes        *string
	ApproverID   *uuid.UUID
}

// CreateResult carries the created entry and the cap evaluation. Adjusted
// is set when a cap reduced the hours.
type CreateResult struct {
	Entry    *repository.OvertimeEntry
	Limits   LimitCheck
	Adjusted bool
}

// Create declares overtime for an employee on a date.
func (s *OvertimeService) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if err := httputil.Validate(in); err != nil {
		return nil, err
	}

	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	policy, err := s.policies.GetOvertimePolicy(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result := &CreateResult{}
	err = s.tx.WithTenantTx(ctx, func(ctx context.Context) error {
		emp, err := s.employees.GetEmployee(ctx, in.EmployeeID)
		if err != nil {
			return err
		}

		date := asDate(in.Date)
		exists, err := s.overtime.ExistsForEmployeeDate(ctx, emp.ID, date)
		if err != nil {
			return err
		}
		if exists {
			return errors.Conflict("an overtime entry already exists for this employee and date").
				WithDetails(map[string]string{"employee_id": emp.ID.String(), "date": repository.DateArg(date)})
		}

		hours := roundHours(in.Hours, policy.RoundingMinutes)
		if !hours.IsPositive() {
			return errors.Validation(map[string]string{"Hours": fmt.Sprintf("rounds to zero at %d minute steps", policy.RoundingMinutes)})
		}

		check, err := s.limits.CheckLimits(ctx, emp.ID, date, hours, emp.Caps(), nil)
		if err != nil {
			return err
		}
		if check.ExceedsLimit {
			return limitExceeded(check)
		}
		result.Limits = check
		result.Adjusted = check.AdjustedHours != nil
		hours = check.Granted(hours)

		typ := in.Type
		if typ == "" {
			typ = repository.OvertimeTypeStandard
			if in.IsNightShift {
				typ = repository.OvertimeTypeNight
			}
		}
		rate := policy.RateFor(typ)
		if in.Rate != nil {
			rate = *in.Rate
		}

		status := in.Status
		if status == "" {
			status = repository.OvertimeStatusPending
			if policy.AutoApprove && hours.LessThanOrEqual(policy.AutoApproveMaxHours) {
				status = repository.OvertimeStatusApproved
			}
		}

		entry := &repository.OvertimeEntry{
			EmployeeID:     emp.ID,
			Date:           date,
			RequestedHours: hours,
			Type:           typ,
			Rate:           rate,
			Status:         status,
			IsNightShift:   typ == repository.OvertimeTypeNight,
			Source:         repository.OvertimeSourceManual,
			Notes:          in.Notes,
		}
		if status == repository.OvertimeStatusApproved {
			s.markApproved(ctx, entry, hours, in.ApproverID)
		}

		if err := s.overtime.Create(ctx, entry); err != nil {
			return err
		}
		result.Entry = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Publish event
	s.events.PublishEntry(ctx, messaging.EventOvertimeCreated, result.Entry, actorID(ctx), "")

	log := s.logger.Info().
		Str("overtime_id", result.Entry.ID.String()).
		Str("employee_id", result.Entry.EmployeeID.String()).
		Str("date", repository.DateArg(result.Entry.Date)).
		Str("hours", result.Entry.RequestedHours.String()).
		Str("status", result.Entry.Status)
	if result.Adjusted {
		log = log.Str("requested_hours", in.Hours.String())
	}
	log.Msg("overtime created")

	return result, nil
}

func (s *OvertimeService) markApproved(ctx context.Context, e *repository.OvertimeEntry, hours decimal.Decimal, approverID *uuid.UUID) {
	now := s.now()
	e.Status = repository.OvertimeStatusApproved
	e.ApprovedHours = &hours
	e.ApprovedAt = &now
	e.RejectionReason = nil
	if approverID != nil {
		e.ApprovedBy = approverID
	} else if a := actor.FromContext(ctx); a != nil {
		id := a.ID
		e.ApprovedBy = &id
	}
}

// ============================================================================
// DETECTION
// ============================================================================

// Detection origins
const (
	OriginRealtime      = repository.OvertimeSourceRealtime
	OriginConsolidation = repository.OvertimeSourceConsolidation
)

// DetectionResult classifies what detection did with an attendance record
type DetectionResult string

const (
	DetectionCreated  DetectionResult = "created"
	DetectionExisting DetectionResult = "existing"
	DetectionSkipped  DetectionResult = "skipped"
	DetectionCapped   DetectionResult = "capped"
)

// Skip reasons
const (
	SkipNotEligible = "not_eligible"
	SkipNoOvertime  = "below_threshold"
)

// DetectionOutcome reports the fate of one attendance record.
type DetectionOutcome struct {
	Result   DetectionResult
	Reason   string
	WorkDate time.Time
	Entry    *repository.OvertimeEntry
	Limits   LimitCheck
}

// WorkDate is the date of the IN that opened the shift, the OUT date when
// no IN was found.
func (s *OvertimeService) WorkDate(rec repository.AttendanceRecord) time.Time {
	if rec.ShiftStart != nil {
		return civilDate(*rec.ShiftStart, s.loc)
	}
	return civilDate(rec.Timestamp, s.loc)
}

// DetectFromAttendance turns one attendance record into an overtime entry
// unless the employee is ineligible, absent, already has an entry for the
// work date, or has no cap headroom left. Real-time detection and the
// consolidation job both go through here; the unique constraint on
// (tenant, employee, date) settles races between them.
func (s *OvertimeService) DetectFromAttendance(ctx context.Context, policy repository.OvertimePolicy, holidays repository.HolidaySet, rec repository.AttendanceRecord, origin string) (DetectionOutcome, error) {
	out := DetectionOutcome{WorkDate: s.WorkDate(rec)}

	if !rec.IsEligibleForOvertime {
		out.Result, out.Reason = DetectionSkipped, SkipNotEligible
		return out, nil
	}

	absence, err := s.absences.IsEmployeeOnLeaveOrRecovery(ctx, rec.EmployeeID, out.WorkDate)
	if err != nil {
		return out, err
	}
	if absence.OnLeave {
		out.Result, out.Reason = DetectionSkipped, absence.Reason
		return out, nil
	}

	hours := minutesToHours(rec.OvertimeMinutes)
	if !hours.IsPositive() {
		out.Result, out.Reason = DetectionSkipped, SkipNoOvertime
		return out, nil
	}

	err = s.tx.WithTenantTx(ctx, func(ctx context.Context) error {
		exists, err := s.overtime.ExistsForEmployeeDate(ctx, rec.EmployeeID, out.WorkDate)
		if err != nil {
			return err
		}
		if exists {
			out.Result = DetectionExisting
			return nil
		}

		if caps := rec.Caps(); caps.Any() {
			check, err := s.limits.CheckLimits(ctx, rec.EmployeeID, out.WorkDate, hours, caps, nil)
			if err != nil {
				return err
			}
			out.Limits = check
			if check.ExceedsLimit {
				out.Result = DetectionCapped
				return nil
			}
			hours = check.Granted(hours)
		}

		var start time.Time
		if rec.ShiftStart != nil {
			start = rec.ShiftStart.In(s.loc)
		}
		class := Classify(out.WorkDate, start, rec.Timestamp.In(s.loc), policy, holidays)
		autoApprove := policy.AutoApprove && hours.LessThanOrEqual(policy.AutoApproveMaxHours)

		entry := &repository.OvertimeEntry{
			EmployeeID:     rec.EmployeeID,
			Date:           out.WorkDate,
			RequestedHours: hours,
			Type:           class.Type,
			Rate:           class.Rate,
			Status:         repository.OvertimeStatusPending,
			IsNightShift:   class.Type == repository.OvertimeTypeNight,
			Source:         origin,
		}
		if autoApprove {
			system := actor.SystemID
			s.markApproved(ctx, entry, hours, &system)
		}
		notes := detectionNotes(origin, rec.Timestamp.In(s.loc), class.Type, autoApprove)
		entry.Notes = &notes

		if err := s.overtime.Create(ctx, entry); err != nil {
			return err
		}
		out.Result = DetectionCreated
		out.Entry = entry
		return nil
	})
	if database.IsUniqueViolation(err, database.ConstraintOvertimeUnique) {
		out.Result = DetectionExisting
		return out, nil
	}
	if err != nil {
		return out, err
	}

	if out.Result == DetectionCreated {
		s.events.PublishEntry(ctx, messaging.EventOvertimeCreated, out.Entry, actor.SystemID, "")
	}
	return out, nil
}

func detectionNotes(origin string, outAt time.Time, typ string, autoApproved bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] detected from clock-out at %s", origin, outAt.Format("2006-01-02 15:04"))
	if typ != repository.OvertimeTypeStandard {
		fmt.Fprintf(&b, " (%s)", typ)
	}
	if autoApproved {
		b.WriteString(" - auto-approved")
	}
	return b.String()
}

// DetectClockOut runs real-time detection for one OUT event.
func (s *OvertimeService) DetectClockOut(ctx context.Context, attendanceID uuid.UUID) (DetectionOutcome, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return DetectionOutcome{}, err
	}
	policy, err := s.policies.GetOvertimePolicy(ctx, tenantID)
	if err != nil {
		return DetectionOutcome{}, err
	}

	rec, err := s.attendance.GetOutEvent(ctx, attendanceID)
	if err != nil {
		return DetectionOutcome{}, err
	}
	if rec.OvertimeMinutes <= policy.MinimumThresholdMinutes {
		return DetectionOutcome{Result: DetectionSkipped, Reason: SkipNoOvertime, WorkDate: s.WorkDate(*rec)}, nil
	}

	var holidays repository.HolidaySet
	if policy.AutoDetectType {
		day := s.WorkDate(*rec)
		if holidays, err = s.holidays.ListHolidayDates(ctx, day, day); err != nil {
			return DetectionOutcome{}, err
		}
	}

	out, err := s.DetectFromAttendance(ctx, policy, holidays, *rec, OriginRealtime)
	if err != nil {
		return out, err
	}

	s.logger.Debug().
		Str("attendance_id", attendanceID.String()).
		Str("employee_id", rec.EmployeeID.String()).
		Str("result", string(out.Result)).
		Str("reason", out.Reason).
		Msg("real-time overtime detection")
	return out, nil
}

// ============================================================================
// QUERIES
// ============================================================================

// ListResult is a page of entries with totals over the whole filter
type ListResult struct {
	Entries    []repository.OvertimeEntry `json:"entries"`
	Total      int64                      `json:"total"`
	TotalHours decimal.Decimal            `json:"total_hours"`
	Page       int                        `json:"page"`
	PerPage    int                        `json:"per_page"`
}

// List lists overtime entries with filters
func (s *OvertimeService) List(ctx context.Context, f repository.OvertimeFilter) (*ListResult, error) {
	entries, total, hours, err := s.overtime.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}
	return &ListResult{Entries: entries, Total: total, TotalHours: hours, Page: f.Page, PerPage: f.PerPage}, nil
}

// Get gets an overtime entry by ID
func (s *OvertimeService) Get(ctx context.Context, id uuid.UUID) (*repository.OvertimeEntry, error) {
	return s.overtime.GetByID(ctx, id)
}

// ============================================================================
// STATE MACHINE
// ============================================================================

// Approve approves a PENDING entry. approvedHours defaults to the requested hours.
func (s *OvertimeService) Approve(ctx context.Context, id, approverID uuid.UUID, approvedHours *decimal.Decimal) (*repository.OvertimeEntry, error) {
	entry, err := s.mutate(ctx, id, func(e *repository.OvertimeEntry) error {
		if e.Status != repository.OvertimeStatusPending {
			return errors.InvalidState("overtime_entry", e.Status, repository.OvertimeStatusPending)
		}

		hours := e.RequestedHours
		if approvedHours != nil {
			hours = approvedHours.Round(2)
		}
		if !hours.IsPositive() {
			return errors.Validation(map[string]string{"approved_hours": "must be greater than 0"})
		}

		s.markApproved(ctx, e, hours, &approverID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Publish event
	s.events.PublishEntry(ctx, messaging.EventOvertimeApproved, entry, approverID, "")

	s.logger.Info().
		Str("overtime_id", id.String()).
		Str("approver_id", approverID.String()).
		Str("approved_hours", entry.Approved().String()).
		Msg("overtime approved")

	return entry, nil
}

// Reject rejects a PENDING entry.
func (s *OvertimeService) Reject(ctx context.Context, id, approverID uuid.UUID, reason string) (*repository.OvertimeEntry, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.Validation(map[string]string{"reason": "this field is required"})
	}

	entry, err := s.mutate(ctx, id, func(e *repository.OvertimeEntry) error {
		if e.Status != repository.OvertimeStatusPending {
			return errors.InvalidState("overtime_entry", e.Status, repository.OvertimeStatusPending)
		}
		e.Status = repository.OvertimeStatusRejected
		e.ApprovedHours = nil
		e.ApprovedBy = nil
		e.ApprovedAt = nil
		e.RejectionReason = &reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Publish event
	s.events.PublishEntry(ctx, messaging.EventOvertimeRejected, entry, approverID, reason)

	s.logger.Info().
		Str("overtime_id", id.String()).
		Str("approver_id", approverID.String()).
		Str("reason", reason).
		Msg("overtime rejected")

	return entry, nil
}

// RevokeApproval sends an APPROVED entry back to PENDING. Entries with
// converted hours must have their conversions cancelled first.
func (s *OvertimeService) RevokeApproval(ctx context.Context, id, actorID uuid.UUID, reason string) (*repository.OvertimeEntry, error) {
	entry, err := s.mutate(ctx, id, func(e *repository.OvertimeEntry) error {
		if e.Status != repository.OvertimeStatusApproved {
			return errors.InvalidState("overtime_entry", e.Status, repository.OvertimeStatusApproved)
		}
		if e.ConvertedHours.IsPositive() {
			return errors.InvalidState("overtime_entry", e.Status).WithDetails(map[string]string{
				"converted_hours": e.ConvertedHours.StringFixed(2),
				"hint":            "cancel the recovery days funded by this entry first",
			})
		}
		e.Status = repository.OvertimeStatusPending
		e.ApprovedHours = nil
		e.ApprovedBy = nil
		e.ApprovedAt = nil
		e.ConvertedToRecoveryDays = false
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Publish event
	s.events.PublishEntry(ctx, messaging.EventOvertimeRevoked, entry, actorID, reason)

	s.logger.Info().
		Str("overtime_id", id.String()).
		Str("actor_id", actorID.String()).
		Str("from", repository.OvertimeStatusApproved).
		Msg("overtime approval revoked")

	return entry, nil
}

// RevokeRejection sends a REJECTED entry back to PENDING.
func (s *OvertimeService) RevokeRejection(ctx context.Context, id, actorID uuid.UUID, reason string) (*repository.OvertimeEntry, error) {
	entry, err := s.mutate(ctx, id, func(e *repository.OvertimeEntry) error {
		if e.Status != repository.OvertimeStatusRejected {
			return errors.InvalidState("overtime_entry", e.Status, repository.OvertimeStatusRejected)
		}
		e.Status = repository.OvertimeStatusPending
		e.RejectionReason = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Publish event
	s.events.PublishEntry(ctx, messaging.EventOvertimeRevoked, entry, actorID, reason)

	s.logger.Info().
		Str("overtime_id", id.String()).
		Str("actor_id", actorID.String()).
		Str("from", repository.OvertimeStatusRejected).
		Msg("overtime rejection revoked")

	return entry, nil
}

// EditInput changes a PENDING entry. Nil fields keep their value.
type EditInput struct {
	Date         *time.Time
	Hours        *decimal.Decimal `validate:"omitempty,gt=0,lte=24"`
	Type         *string          `validate:"omitempty,oneof=STANDARD NIGHT HOLIDAY EMERGENCY"`
	IsNightShift *bool            // legacy flag, used when Type is nil
	Rate         *decimal.Decimal `validate:"omitempty,gt=0"`
	Notes        *string
}

// EditResult carries an edited entry and the cap evaluation
type EditResult struct {
	Entry    *repository.OvertimeEntry
	Limits   LimitCheck
	Adjusted bool
}

// Update edits a PENDING entry. New hours are rounded as at creation, and a
// new date or new hours are checked against the caps without counting the
// entry itself. A type change without an explicit rate takes the policy rate.
func (s *OvertimeService) Update(ctx context.Context, id, actorID uuid.UUID, in EditInput) (*EditResult, error) {
	if err := httputil.Validate(in); err != nil {
		return nil, err
	}

	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	policy, err := s.policies.GetOvertimePolicy(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result := &EditResult{}
	err = s.tx.WithTenantTx(ctx, func(ctx context.Context) error {
		e, err := s.overtime.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if e.Status != repository.OvertimeStatusPending {
			return errors.InvalidState("overtime_entry", e.Status, repository.OvertimeStatusPending)
		}

		if in.Date != nil && !asDate(*in.Date).Equal(e.Date) {
			date := asDate(*in.Date)
			exists, err := s.overtime.ExistsForEmployeeDate(ctx, e.EmployeeID, date)
			if err != nil {
				return err
			}
			if exists {
				return errors.Conflict("an overtime entry already exists for this employee and date").
					WithDetails(map[string]string{"employee_id": e.EmployeeID.String(), "date": repository.DateArg(date)})
			}
			e.Date = date
		}

		hours := e.RequestedHours
		if in.Hours != nil {
			hours = roundHours(*in.Hours, policy.RoundingMinutes)
			if !hours.IsPositive() {
				return errors.Validation(map[string]string{"Hours": fmt.Sprintf("rounds to zero at %d minute steps", policy.RoundingMinutes)})
			}
		}
		if in.Hours != nil || in.Date != nil {
			emp, err := s.employees.GetEmployee(ctx, e.EmployeeID)
			if err != nil {
				return err
			}
			check, err := s.limits.CheckLimits(ctx, e.EmployeeID, e.Date, hours, emp.Caps(), &e.ID)
			if err != nil {
				return err
			}
			if check.ExceedsLimit {
				return limitExceeded(check)
			}
			result.Limits = check
			result.Adjusted = check.AdjustedHours != nil
			hours = check.Granted(hours)
		}
		e.RequestedHours = hours

		typ := e.Type
		switch {
		case in.Type != nil:
			typ = *in.Type
		case in.IsNightShift != nil:
			typ = repository.OvertimeTypeStandard
			if *in.IsNightShift {
				typ = repository.OvertimeTypeNight
			}
		}
		if typ != e.Type {
			e.Rate = policy.RateFor(typ)
		}
		e.Type = typ
		e.IsNightShift = typ == repository.OvertimeTypeNight
		if in.Rate != nil {
			e.Rate = *in.Rate
		}
		if in.Notes != nil {
			e.Notes = in.Notes
		}

		if err := s.overtime.Update(ctx, e); err != nil {
			return err
		}
		result.Entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Publish event
	s.events.PublishEntry(ctx, messaging.EventOvertimeUpdated, result.Entry, actorID, "")

	s.logger.Info().
		Str("overtime_id", id.String()).
		Str("actor_id", actorID.String()).
		Str("date", repository.DateArg(result.Entry.Date)).
		Str("hours", result.Entry.RequestedHours.String()).
		Str("type", result.Entry.Type).
		Msg("overtime updated")

	return result, nil
}

// UpdateResult carries an entry after an approved-hours change and its
// valued hours (approved hours times rate).
type UpdateResult struct {
	Entry       *repository.OvertimeEntry `json:"entry"`
	ValuedHours decimal.Decimal           `json:"valued_hours"`
}

// UpdateApprovedHours changes the approved hours of an APPROVED entry. The
// new value may not drop below the hours already converted.
func (s *OvertimeService) UpdateApprovedHours(ctx context.Context, id, actorID uuid.UUID, hours decimal.Decimal, reason string) (*UpdateResult, error) {
	reason = strings.TrimSpace(reason)
	hours = hours.Round(2)
	if reason == "" {
		return nil, errors.Validation(map[string]string{"reason": "this field is required"})
	}
	if !hours.IsPositive() {
		return nil, errors.Validation(map[string]string{"approved_hours": "must be greater than 0"})
	}

	var previous decimal.Decimal
	entry, err := s.mutate(ctx, id, func(e *repository.OvertimeEntry) error {
		if e.Status != repository.OvertimeStatusApproved {
			return errors.InvalidState("overtime_entry", e.Status, repository.OvertimeStatusApproved)
		}
		if hours.LessThan(e.ConvertedHours) {
			return errors.Validation(map[string]string{
				"approved_hours": fmt.Sprintf("must not be below the %s hours already converted", e.ConvertedHours.StringFixed(2)),
			})
		}
		previous = e.Approved()
		e.ApprovedHours = &hours
		e.SyncConvertedFlag()
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Publish event
	s.events.PublishEntry(ctx, messaging.EventOvertimeUpdated, entry, actorID, reason)

	s.logger.Info().
		Str("overtime_id", id.String()).
		Str("actor_id", actorID.String()).
		Str("previous_hours", previous.String()).
		Str("approved_hours", hours.String()).
		Msg("approved hours updated")

	return &UpdateResult{Entry: entry, ValuedHours: hours.Mul(entry.Rate).Round(2)}, nil
}

// Delete hard-deletes a PENDING entry that was never converted.
func (s *OvertimeService) Delete(ctx context.Context, id, actorID uuid.UUID) error {
	var deleted *repository.OvertimeEntry
	err := s.tx.WithTenantTx(ctx, func(ctx context.Context) error {
		e, err := s.overtime.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if e.Status != repository.OvertimeStatusPending {
			return errors.InvalidState("overtime_entry", e.Status, repository.OvertimeStatusPending)
		}
		if e.ConvertedHours.IsPositive() {
			return errors.InvalidState("overtime_entry", e.Status).WithDetail("converted_hours", e.ConvertedHours.StringFixed(2))
		}
		deleted = e
		return s.overtime.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	// Publish event
	s.events.PublishEntry(ctx, messaging.EventOvertimeDeleted, deleted, actorID, "")

	s.logger.Info().
		Str("overtime_id", id.String()).
		Str("actor_id", actorID.String()).
		Msg("overtime deleted")

	return nil
}

// mutate locks an entry, applies fn and writes it back in one transaction.
func (s *OvertimeService) mutate(ctx context.Context, id uuid.UUID, fn func(*repository.OvertimeEntry) error) (*repository.OvertimeEntry, error) {
	var entry *repository.OvertimeEntry
	err := s.tx.WithTenantTx(ctx, func(ctx context.Context) error {
		e, err := s.overtime.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		if err := s.overtime.Update(ctx, e); err != nil {
			return err
		}
		entry = e
		return nil
	})
	return entry, err
}

// ============================================================================
// BALANCES
// ============================================================================

// Balance aggregates an employee's overtime hours.
//
// TotalPaid counts approved hours never converted whose entry is older than
// the recovery eligibility window: they can no longer become recovery days
// and are settled through payroll. AvailableForConversion is what remains of
// the approved hours once recovered and paid hours are taken out.
type Balance struct {
	EmployeeID             uuid.UUID       `json:"employee_id"`
	TotalRequested         decimal.Decimal `json:"total_requested"`
	TotalApproved          decimal.Decimal `json:"total_approved"`
	TotalPending           decimal.Decimal `json:"total_pending"`
	TotalRejected          decimal.Decimal `json:"total_rejected"`
	TotalPaid              decimal.Decimal `json:"total_paid"`
	TotalRecovered         decimal.Decimal `json:"total_recovered"`
	AvailableForConversion decimal.Decimal `json:"available_for_conversion"`
}

// GetBalance aggregates every entry of an employee.
func (s *OvertimeService) GetBalance(ctx context.Context, employeeID uuid.UUID) (*Balance, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.employees.GetEmployee(ctx, employeeID); err != nil {
		return nil, err
	}
	policy, err := s.policies.GetOvertimePolicy(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	entries, err := s.overtime.ListByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	cutoff := s.today().AddDate(0, 0, -policy.RecoveryExpiryDays)
	b := &Balance{EmployeeID: employeeID}
	for i := range entries {
		e := &entries[i]
		b.TotalRequested = b.TotalRequested.Add(e.RequestedHours)
		b.TotalRecovered = b.TotalRecovered.Add(e.ConvertedHours)

		switch e.Status {
		case repository.OvertimeStatusApproved:
			b.TotalApproved = b.TotalApproved.Add(e.Approved())
			if e.Date.Before(cutoff) {
				b.TotalPaid = b.TotalPaid.Add(e.Available())
			}
		case repository.OvertimeStatusPending:
			b.TotalPending = b.TotalPending.Add(e.RequestedHours)
		case repository.OvertimeStatusRejected:
			b.TotalRejected = b.TotalRejected.Add(e.RequestedHours)
		}
	}
	b.AvailableForConversion = b.TotalApproved.Sub(b.TotalRecovered).Sub(b.TotalPaid)
	return b, nil
}

// LinkedRecovery is a source link with the recovery day it funds
type LinkedRecovery struct {
	Link        repository.SourceLink  `json:"link"`
	RecoveryDay repository.RecoveryDay `json:"recovery_day"`
}

// RecoveryInfo shows how an entry's hours were converted
type RecoveryInfo struct {
	Entry          *repository.OvertimeEntry `json:"entry"`
	Conversions    []LinkedRecovery          `json:"conversions"`
	ConvertedHours decimal.Decimal           `json:"converted_hours"`
	AvailableHours decimal.Decimal           `json:"available_hours"`
}

// GetRecoveryInfo returns the recovery days funded by an entry.
func (s *OvertimeService) GetRecoveryInfo(ctx context.Context, overtimeID uuid.UUID) (*RecoveryInfo, error) {
	entry, err := s.overtime.GetByID(ctx, overtimeID)
	if err != nil {
		return nil, err
	}
	links, err := s.recovery.ListLinksByOvertime(ctx, overtimeID)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.RecoveryDayID)
	}
	days, err := s.recovery.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]repository.RecoveryDay, len(days))
	for _, d := range days {
		byID[d.ID] = d
	}

	info := &RecoveryInfo{
		Entry:          entry,
		Conversions:    make([]LinkedRecovery, 0, len(links)),
		ConvertedHours: entry.ConvertedHours,
		AvailableHours: entry.Available(),
	}
	for _, l := range links {
		info.Conversions = append(info.Conversions, LinkedRecovery{Link: l, RecoveryDay: byID[l.RecoveryDayID]})
	}
	return info, nil
}

// ============================================================================
// DASHBOARD
// ============================================================================

// Bucket is a count and hour total
type Bucket struct {
	Count int             `json:"count"`
	Hours decimal.Decimal `json:"hours"`
}

func (b *Bucket) add(h decimal.Decimal) {
	b.Count++
	b.Hours = b.Hours.Add(h)
}

// EmployeeBucket is a per-employee total
type EmployeeBucket struct {
	EmployeeID uuid.UUID `json:"employee_id"`
	Name       string    `json:"name"`
	Bucket
}

// TrendPoint is a per-day total
type TrendPoint struct {
	Date string `json:"date"`
	Bucket
}

// DashboardStats aggregates entries for reporting. Hours are approved hours
// where set, requested otherwise.
type DashboardStats struct {
	Totals        Bucket            `json:"totals"`
	ApprovedHours decimal.Decimal   `json:"approved_hours"`
	PendingHours  decimal.Decimal   `json:"pending_hours"`
	ValuedHours   decimal.Decimal   `json:"valued_hours"`
	ByType        map[string]Bucket `json:"by_type"`
	ByStatus      map[string]Bucket `json:"by_status"`
	ByDepartment  map[string]Bucket `json:"by_department"`
	TopEmployees  []EmployeeBucket  `json:"top_employees"`
	Trend         []TrendPoint      `json:"trend"`
}

const topEmployeesLimit = 10

// GetDashboardStats aggregates the entries matching f.
func (s *OvertimeService) GetDashboardStats(ctx context.Context, f repository.OvertimeFilter) (*DashboardStats, error) {
	entries, err := s.overtime.ListForStats(ctx, f)
	if err != nil {
		return nil, err
	}

	stats := &DashboardStats{
		ByType:       map[string]Bucket{},
		ByStatus:     map[string]Bucket{},
		ByDepartment: map[string]Bucket{},
	}
	employees := map[uuid.UUID]*EmployeeBucket{}
	days := map[string]*TrendPoint{}

	for i := range entries {
		e := &entries[i]
		h := e.EffectiveHours()

		stats.Totals.add(h)
		stats.ValuedHours = stats.ValuedHours.Add(h.Mul(e.Rate))
		switch e.Status {
		case repository.OvertimeStatusApproved:
			stats.ApprovedHours = stats.ApprovedHours.Add(h)
		case repository.OvertimeStatusPending:
			stats.PendingHours = stats.PendingHours.Add(h)
		}

		addTo(stats.ByType, e.Type, h)
		addTo(stats.ByStatus, e.Status, h)
		dept := "unassigned"
		if e.Department != nil && *e.Department != "" {
			dept = *e.Department
		}
		addTo(stats.ByDepartment, dept, h)

		eb, ok := employees[e.EmployeeID]
		if !ok {
			eb = &EmployeeBucket{EmployeeID: e.EmployeeID}
			if e.EmployeeName != nil {
				eb.Name = *e.EmployeeName
			}
			employees[e.EmployeeID] = eb
		}
		eb.add(h)

		key := repository.DateArg(e.Date)
		tp, ok := days[key]
		if !ok {
			tp = &TrendPoint{Date: key}
			days[key] = tp
		}
		tp.add(h)
	}
	stats.ValuedHours = stats.ValuedHours.Round(2)

	for _, eb := range employees {
		stats.TopEmployees = append(stats.TopEmployees, *eb)
	}
	sort.Slice(stats.TopEmployees, func(i, j int) bool {
		a, b := stats.TopEmployees[i], stats.TopEmployees[j]
		if !a.Hours.Equal(b.Hours) {
			return a.Hours.GreaterThan(b.Hours)
		}
		return a.EmployeeID.String() < b.EmployeeID.String()
	})
	if len(stats.TopEmployees) > topEmployeesLimit {
		stats.TopEmployees = stats.TopEmployees[:topEmployeesLimit]
	}

	for _, tp := range days {
		stats.Trend = append(stats.Trend, *tp)
	}
	sort.Slice(stats.Trend, func(i, j int) bool { return stats.Trend[i].Date < stats.Trend[j].Date })

	return stats, nil
}

func addTo(m map[string]Bucket, key string, h decimal.Decimal) {
	b := m[key]
	b.add(h)
	m[key] = b
}

// actorID returns the actor in ctx, the system actor otherwise.
func actorID(ctx context.Context) uuid.UUID {
	if a := actor.FromContext(ctx); a != nil {
		return a.ID
	}
	return actor.SystemID
}
