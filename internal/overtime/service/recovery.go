package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/timeflow/timeflow-backend/internal/overtime/repository"
	"github.com/timeflow/timeflow-backend/pkg/actor"
	"github.com/timeflow/timeflow-backend/pkg/errors"
	"github.com/timeflow/timeflow-backend/pkg/httputil"
	"github.com/timeflow/timeflow-backend/pkg/logger"
	"github.com/timeflow/timeflow-backend/pkg/messaging"
	"github.com/timeflow/timeflow-backend/pkg/permissions"
	"github.com/timeflow/timeflow-backend/pkg/tenant"
)

// blockingRecoveryStatuses are the recovery day statuses that occupy a window.
var blockingRecoveryStatuses = []string{repository.RecoveryStatusApproved, repository.RecoveryStatusUsed}

// RecoveryService converts approved overtime into recovery days and back.
type RecoveryService struct {
	tx        Transactor
	overtime  OvertimeStore
	recovery  RecoveryStore
	employees EmployeeDirectory
	policies  PolicySource
	absences  AbsenceSource
	events    EventPublisher
	logger    *logger.Logger
	clock
}

// NewRecoveryService creates a new recovery service
func NewRecoveryService(d Deps) *RecoveryService {
	return &RecoveryService{
		tx:        d.Tx,
		overtime:  d.Overtime,
		recovery:  d.Recovery,
		employees: d.Employees,
		policies:  d.Policies,
		absences:  d.Absences,
		events:    d.Events,
		logger:    componentLogger(d.Logger, "recovery"),
		clock:     newClock(d),
	}
}

// ============================================================================
// BALANCE
// ============================================================================

// AvailableEntry is an approved entry that still has hours to convert
type AvailableEntry struct {
	ID             uuid.UUID       `json:"id"`
	Date           string          `json:"date"`
	Type           string          `json:"type"`
	ApprovedHours  decimal.Decimal `json:"approved_hours"`
	ConvertedHours decimal.Decimal `json:"converted_hours"`
	AvailableHours decimal.Decimal `json:"available_hours"`
}

// CumulativeBalance is the convertible overtime of an employee.
type CumulativeBalance struct {
	EmployeeID      uuid.UUID        `json:"employee_id"`
	CumulativeHours decimal.Decimal  `json:"cumulative_hours"`
	ConversionRate  decimal.Decimal  `json:"conversion_rate"`
	HoursPerDay     decimal.Decimal  `json:"hours_per_day"`
	PossibleDays    decimal.Decimal  `json:"possible_days"`
	WholeDays       int64            `json:"whole_days"`
	EligibleSince   string           `json:"eligible_since"`
	Entries         []AvailableEntry `json:"entries"`
}

// GetCumulativeBalance sums the available hours of approved entries inside
// the eligibility window, oldest first. PossibleDays is the cumulative hours
// times the tenant conversion rate over the working day length.
func (s *RecoveryService) GetCumulativeBalance(ctx context.Context, employeeID uuid.UUID) (*CumulativeBalance, error) {
	policy, err := s.policy(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.employees.GetEmployee(ctx, employeeID); err != nil {
		return nil, err
	}

	since := s.eligibleSince(policy)
	entries, err := s.overtime.ListAvailable(ctx, employeeID, since)
	if err != nil {
		return nil, err
	}

	b := &CumulativeBalance{
		EmployeeID:     employeeID,
		ConversionRate: policy.ConversionRate,
		HoursPerDay:    policy.HoursPerRecoveryDay(),
		EligibleSince:  repository.DateArg(since),
		Entries:        make([]AvailableEntry, 0, len(entries)),
	}
	for i := range entries {
		e := &entries[i]
		b.CumulativeHours = b.CumulativeHours.Add(e.Available())
		b.Entries = append(b.Entries, AvailableEntry{
			ID:             e.ID,
			Date:           repository.DateArg(e.Date),
			Type:           e.Type,
			ApprovedHours:  e.Approved(),
			ConvertedHours: e.ConvertedHours,
			AvailableHours: e.Available(),
		})
	}
	if b.HoursPerDay.IsPositive() {
		days := b.CumulativeHours.Div(b.HoursPerDay)
		b.PossibleDays = days.Round(2)
		b.WholeDays = days.Floor().IntPart()
	}
	return b, nil
}

// ============================================================================
// CONVERSION
// ============================================================================

// ConvertInput requests a cumulative conversion of days recovery days
type ConvertInput struct {
	EmployeeID     uuid.UUID        `validate:"required"`
	StartDate      time.Time        `validate:"required"`
	EndDate        time.Time        `validate:"required,gtefield=StartDate"`
	Days           decimal.Decimal  `validate:"gt=0"`
	ConversionRate *decimal.Decimal `validate:"omitempty,gt=0"`
	Notes          *string
}

// FlexibleInput converts exactly the listed entries
type FlexibleInput struct {
	EmployeeID     uuid.UUID        `validate:"required"`
	OvertimeIDs    []uuid.UUID      `validate:"required,min=1"`
	StartDate      time.Time        `validate:"required"`
	EndDate        time.Time        `validate:"required,gtefield=StartDate"`
	Days           *decimal.Decimal `validate:"omitempty,gt=0"`
	ConversionRate *decimal.Decimal `validate:"omitempty,gt=0"`
	AutoApprove    bool
	AllowPastDate  bool
	Notes          *string
}

// ConversionSummary describes what a conversion consumed and granted
type ConversionSummary struct {
	SelectedOvertimeCount int             `json:"selected_overtime_count"`
	TotalHoursConverted   decimal.Decimal `json:"total_hours_converted"`
	DaysGranted           decimal.Decimal `json:"days_granted"`
	AutoApproved          bool            `json:"auto_approved"`
	IsRegularization      bool            `json:"is_regularization"`
}

// ConversionResult is a created recovery day with its sources
type ConversionResult struct {
	RecoveryDay *repository.RecoveryDay `json:"recovery_day"`
	Links       []repository.SourceLink `json:"links"`
	Employee    *repository.Employee    `json:"employee"`
	Summary     ConversionSummary       `json:"conversion_summary"`
}

// ConvertFromOvertime grants days recovery days funded by the oldest
// available approved hours. The last entry touched may be partly consumed.
func (s *RecoveryService) ConvertFromOvertime(ctx context.Context, in ConvertInput) (*ConversionResult, error) {
	if err := httputil.Validate(in); err != nil {
		return nil, err
	}
	policy, err := s.policy(ctx)
	if err != nil {
		return nil, err
	}

	hoursPerDay := policy.HoursPerRecoveryDay()
	if in.ConversionRate != nil {
		hoursPerDay = *in.ConversionRate
	}
	days, err := recoveryDays(in.Days)
	if err != nil {
		return nil, err
	}
	required := days.Mul(hoursPerDay).Round(2)
	start, end := asDate(in.StartDate), asDate(in.EndDate)

	result := &ConversionResult{}
	err = s.tx.WithTenantTx(ctx, func(ctx context.Context) error {
		emp, err := s.employees.GetEmployee(ctx, in.EmployeeID)
		if err != nil {
			return err
		}
		result.Employee = emp

		if err := s.checkConflicts(ctx, emp.ID, start, end, uuid.Nil); err != nil {
			return err
		}

		entries, err := s.overtime.ListAvailableForUpdate(ctx, emp.ID, s.eligibleSince(policy))
		if err != nil {
			return err
		}
		available := decimal.Zero
		for i := range entries {
			available = available.Add(entries[i].Available())
		}
		if available.LessThan(required) {
			return errors.InsufficientBalance(available.StringFixed(2), required.StringFixed(2))
		}

		// Oldest first until the required hours are covered.
		var used []allocation
		remaining := required
		for i := range entries {
			if !remaining.IsPositive() {
				break
			}
			take := minDecimal(entries[i].Available(), remaining)
			used = append(used, allocation{entry: &entries[i], hours: take})
			remaining = remaining.Sub(take)
		}

		day := &repository.RecoveryDay{
			EmployeeID:     emp.ID,
			StartDate:      start,
			EndDate:        end,
			Days:           days,
			SourceHours:    required,
			ConversionRate: hoursPerDay,
			Status:         repository.RecoveryStatusPending,
			SourceType:     repository.RecoverySourceOvertime,
			Notes:          in.Notes,
		}
		links, err := s.grant(ctx, day, used)
		if err != nil {
			return err
		}

		result.RecoveryDay = day
		result.Links = links
		result.Summary = ConversionSummary{
			SelectedOvertimeCount: len(used),
			TotalHoursConverted:   required,
			DaysGranted:           days,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Publish event
	s.events.PublishRecovery(ctx, messaging.EventRecoveryConverted, result.RecoveryDay, result.Links, actorID(ctx), "")

	s.logger.Info().
		Str("recovery_day_id", result.RecoveryDay.ID.String()).
		Str("employee_id", in.EmployeeID.String()).
		Str("days", days.String()).
		Str("hours", required.String()).
		Int("sources", len(result.Links)).
		Msg("overtime converted to recovery days")

	return result, nil
}

// ConvertFlexible drains exactly the listed entries into one recovery day.
// Any unknown, foreign, unapproved or drained entry fails the whole call.
//
// A past window is only accepted with AllowPastDate, which makes the
// conversion a regularization: it needs a justification in Notes and skips
// the schedule conflict check.
func (s *RecoveryService) ConvertFlexible(ctx context.Context, in FlexibleInput) (*ConversionResult, error) {
	if err := httputil.Validate(in); err != nil {
		return nil, err
	}

	start, end := asDate(in.StartDate), asDate(in.EndDate)
	past := start.Before(s.today())
	if past && !in.AllowPastDate {
		return nil, errors.Validation(map[string]string{"start_date": "must not be in the past unless allow_past_date is set"})
	}
	regularization := past && in.AllowPastDate
	if regularization && (in.Notes == nil || strings.TrimSpace(*in.Notes) == "") {
		return nil, errors.Validation(map[string]string{"notes": "a justification is required for a regularization"})
	}

	policy, err := s.policy(ctx)
	if err != nil {
		return nil, err
	}
	hoursPerDay := policy.HoursPerRecoveryDay()
	if in.ConversionRate != nil {
		hoursPerDay = *in.ConversionRate
	}

	who := actor.FromContext(ctx)
	autoApproved := who.CanAny(permissions.ApproverPermissions...) && (in.AutoApprove || regularization)

	result := &ConversionResult{}
	err = s.tx.WithTenantTx(ctx, func(ctx context.Context) error {
		emp, err := s.employees.GetEmployee(ctx, in.EmployeeID)
		if err != nil {
			return err
		}
		result.Employee = emp

		ids := uniqueIDs(in.OvertimeIDs)
		entries, err := s.overtime.ListByIDsForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*repository.OvertimeEntry, len(entries))
		for i := range entries {
			byID[entries[i].ID] = &entries[i]
		}

		var used []allocation
		total := decimal.Zero
		for _, id := range ids {
			e, ok := byID[id]
			if !ok || e.EmployeeID != emp.ID {
				return errors.NotFound("overtime_entry").WithDetail("id", id.String())
			}
			if e.Status != repository.OvertimeStatusApproved {
				return errors.InvalidState("overtime_entry", e.Status, repository.OvertimeStatusApproved).
					WithDetail("id", id.String())
			}
			if !e.Available().IsPositive() {
				return errors.InvalidState("overtime_entry", "FULLY_CONVERTED").
					WithDetail("id", id.String())
			}
			used = append(used, allocation{entry: e, hours: e.Available()})
			total = total.Add(e.Available())
		}

		if !regularization {
			if err := s.checkConflicts(ctx, emp.ID, start, end, uuid.Nil); err != nil {
				return err
			}
		}

		maxDays := total.Div(hoursPerDay).Round(2)
		days := maxDays
		if in.Days != nil {
			days = in.Days.Round(2)
			if days.GreaterThan(maxDays) {
				return errors.Validation(map[string]string{
					"days": fmt.Sprintf("must not exceed %s days for %s hours", maxDays.StringFixed(2), total.StringFixed(2)),
				})
			}
		}
		if !days.IsPositive() {
			return errors.Validation(map[string]string{"days": "selected hours grant no recovery time"})
		}

		day := &repository.RecoveryDay{
			EmployeeID:       emp.ID,
			StartDate:        start,
			EndDate:          end,
			Days:             days,
			SourceHours:      total,
			ConversionRate:   hoursPerDay,
			Status:           repository.RecoveryStatusPending,
			SourceType:       repository.RecoverySourceOvertime,
			IsRegularization: regularization,
			Notes:            in.Notes,
		}
		if autoApproved {
			s.markApproved(day, who.ID)
		}
		links, err := s.grant(ctx, day, used)
		if err != nil {
			return err
		}

		result.RecoveryDay = day
		result.Links = links
		result.Summary = ConversionSummary{
			SelectedOvertimeCount: len(used),
			TotalHoursConverted:   total,
			DaysGranted:           days,
			AutoApproved:          autoApproved,
			IsRegularization:      regularization,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Publish event
	s.events.PublishRecovery(ctx, messaging.EventRecoveryConverted, result.RecoveryDay, result.Links, actorID(ctx), "")
	if autoApproved {
		s.events.PublishRecovery(ctx, messaging.EventRecoveryApproved, result.RecoveryDay, result.Links, actorID(ctx), "")
	}

	s.logger.Info().
		Str("recovery_day_id", result.RecoveryDay.ID.String()).
		Str("employee_id", in.EmployeeID.String()).
		Str("days", result.Summary.DaysGranted.String()).
		Str("hours", result.Summary.TotalHoursConverted.String()).
		Bool("auto_approved", autoApproved).
		Bool("regularization", regularization).
		Msg("overtime entries converted to recovery days")

	return result, nil
}

type allocation struct {
	entry *repository.OvertimeEntry
	hours decimal.Decimal
}

// grant creates day and moves the allocated hours onto it through links.
func (s *RecoveryService) grant(ctx context.Context, day *repository.RecoveryDay, used []allocation) ([]repository.SourceLink, error) {
	if err := s.recovery.Create(ctx, day); err != nil {
		return nil, err
	}

	links := make([]repository.SourceLink, 0, len(used))
	for _, a := range used {
		link := repository.SourceLink{OvertimeID: a.entry.ID, RecoveryDayID: day.ID, HoursUsed: a.hours}
		if err := s.recovery.CreateLink(ctx, &link); err != nil {
			return nil, err
		}
		links = append(links, link)

		a.entry.ConvertedHours = a.entry.ConvertedHours.Add(a.hours)
		a.entry.SyncConvertedFlag()
		if err := s.overtime.Update(ctx, a.entry); err != nil {
			return nil, err
		}
	}
	return links, nil
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// CancelConversion cancels a PENDING or APPROVED recovery day and gives its
// hours back to the entries that funded it. A window that already started
// needs a justification.
func (s *RecoveryService) CancelConversion(ctx context.Context, recoveryDayID, actorID uuid.UUID, justification string) (*repository.RecoveryDay, error) {
	justification = strings.TrimSpace(justification)

	var (
		day   *repository.RecoveryDay
		links []repository.SourceLink
	)
	err := s.tx.WithTenantTx(ctx, func(ctx context.Context) error {
		d, err := s.recovery.GetForUpdate(ctx, recoveryDayID)
		if err != nil {
			return err
		}
		if d.Status != repository.RecoveryStatusPending && d.Status != repository.RecoveryStatusApproved {
			return errors.InvalidState("recovery_day", d.Status, repository.RecoveryStatusPending, repository.RecoveryStatusApproved)
		}
		if d.StartDate.Before(s.today()) && justification == "" {
			return errors.Validation(map[string]string{"justification": "required to cancel a recovery day in the past"})
		}

		links, err = s.recovery.ListLinksByRecoveryDay(ctx, d.ID)
		if err != nil {
			return err
		}
		if err := s.restore(ctx, links); err != nil {
			return err
		}
		if err := s.recovery.DeleteLinksByRecoveryDay(ctx, d.ID); err != nil {
			return err
		}

		now := s.now()
		d.Status = repository.RecoveryStatusCancelled
		d.SourceHours = decimal.Zero
		d.CancelledBy = &actorID
		d.CancelledAt = &now
		if justification != "" {
			d.CancellationReason = &justification
		}
		if err := s.recovery.Update(ctx, d); err != nil {
			return err
		}
		day = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Publish event
	s.events.PublishRecovery(ctx, messaging.EventRecoveryCancelled, day, links, actorID, justification)

	s.logger.Info().
		Str("recovery_day_id", recoveryDayID.String()).
		Str("actor_id", actorID.String()).
		Int("sources", len(links)).
		Msg("recovery day cancelled")

	return day, nil
}

// restore hands linked hours back to their entries.
func (s *RecoveryService) restore(ctx context.Context, links []repository.SourceLink) error {
	if len(links) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.OvertimeID)
	}
	entries, err := s.overtime.ListByIDsForUpdate(ctx, uniqueIDs(ids))
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]*repository.OvertimeEntry, len(entries))
	for i := range entries {
		byID[entries[i].ID] = &entries[i]
	}

	for _, l := range links {
		e, ok := byID[l.OvertimeID]
		if !ok {
			return errors.NotFound("overtime_entry").WithDetail("id", l.OvertimeID.String())
		}
		e.ConvertedHours = e.ConvertedHours.Sub(l.HoursUsed)
		if e.ConvertedHours.IsNegative() {
			return errors.Internal("converted hours would become negative").WithDetail("overtime_id", e.ID.String())
		}
	}
	for i := range entries {
		entries[i].SyncConvertedFlag()
		if err := s.overtime.Update(ctx, &entries[i]); err != nil {
			return err
		}
	}
	return nil
}

// Approve approves a PENDING recovery day.
func (s *RecoveryService) Approve(ctx context.Context, recoveryDayID, approverID uuid.UUID) (*repository.RecoveryDay, error) {
	var day *repository.RecoveryDay
	err := s.tx.WithTenantTx(ctx, func(ctx context.Context) error {
		d, err := s.recovery.GetForUpdate(ctx, recoveryDayID)
		if err != nil {
			return err
		}
		if d.Status != repository.RecoveryStatusPending {
			return errors.InvalidState("recovery_day", d.Status, repository.RecoveryStatusPending)
		}
		if !d.IsRegularization {
			if err := s.checkConflicts(ctx, d.EmployeeID, d.StartDate, d.EndDate, d.ID); err != nil {
				return err
			}
		}
		s.markApproved(d, approverID)
		if err := s.recovery.Update(ctx, d); err != nil {
			return err
		}
		day = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Publish event
	s.events.PublishRecovery(ctx, messaging.EventRecoveryApproved, day, nil, approverID, "")

	s.logger.Info().
		Str("recovery_day_id", recoveryDayID.String()).
		Str("approver_id", approverID.String()).
		Msg("recovery day approved")

	return day, nil
}

func (s *RecoveryService) markApproved(d *repository.RecoveryDay, approverID uuid.UUID) {
	now := s.now()
	d.Status = repository.RecoveryStatusApproved
	d.ApprovedBy = &approverID
	d.ApprovedAt = &now
}

// ManualInput grants recovery days without overtime sources
type ManualInput struct {
	EmployeeID uuid.UUID       `validate:"required"`
	StartDate  time.Time       `validate:"required"`
	EndDate    time.Time       `validate:"required,gtefield=StartDate"`
	Days       decimal.Decimal `validate:"gt=0"`
	SourceType string          `validate:"required,oneof=MANUAL SUPPLEMENTARY"`
	Notes      *string
}

// CreateManual creates a PENDING recovery day that consumes no overtime.
func (s *RecoveryService) CreateManual(ctx context.Context, in ManualInput) (*repository.RecoveryDay, error) {
	if err := httputil.Validate(in); err != nil {
		return nil, err
	}
	days, err := recoveryDays(in.Days)
	if err != nil {
		return nil, err
	}
	policy, err := s.policy(ctx)
	if err != nil {
		return nil, err
	}

	start, end := asDate(in.StartDate), asDate(in.EndDate)
	day := &repository.RecoveryDay{
		EmployeeID:     in.EmployeeID,
		StartDate:      start,
		EndDate:        end,
		Days:           days,
		ConversionRate: policy.HoursPerRecoveryDay(),
		Status:         repository.RecoveryStatusPending,
		SourceType:     in.SourceType,
		Notes:          in.Notes,
	}
	err = s.tx.WithTenantTx(ctx, func(ctx context.Context) error {
		if _, err := s.employees.GetEmployee(ctx, in.EmployeeID); err != nil {
			return err
		}
		if err := s.checkConflicts(ctx, in.EmployeeID, start, end, uuid.Nil); err != nil {
			return err
		}
		return s.recovery.Create(ctx, day)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("recovery_day_id", day.ID.String()).
		Str("employee_id", in.EmployeeID.String()).
		Str("source_type", in.SourceType).
		Msg("manual recovery day created")

	return day, nil
}

// RecoveryUpdateInput edits a PENDING recovery day. Nil fields keep their value.
type RecoveryUpdateInput struct {
	StartDate *time.Time
	EndDate   *time.Time
	Days      *decimal.Decimal `validate:"omitempty,gt=0"`
	Notes     *string
}

// Update edits the window, day count or notes of a PENDING recovery day. A
// moved window is checked for conflicts, ignoring the day itself. Days funded
// by overtime cannot grow past what their source hours pay for.
func (s *RecoveryService) Update(ctx context.Context, recoveryDayID, actorID uuid.UUID, in RecoveryUpdateInput) (*RecoveryDayDetail, error) {
	if err := httputil.Validate(in); err != nil {
		return nil, err
	}

	var detail *RecoveryDayDetail
	err := s.tx.WithTenantTx(ctx, func(ctx context.Context) error {
		d, err := s.recovery.GetForUpdate(ctx, recoveryDayID)
		if err != nil {
			return err
		}
		if d.Status != repository.RecoveryStatusPending {
			return errors.InvalidState("recovery_day", d.Status, repository.RecoveryStatusPending)
		}

		start, end := d.StartDate, d.EndDate
		if in.StartDate != nil {
			start = asDate(*in.StartDate)
		}
		if in.EndDate != nil {
			end = asDate(*in.EndDate)
		}
		if end.Before(start) {
			return errors.Validation(map[string]string{"end_date": "must not be before start_date"})
		}
		moved := !start.Equal(d.StartDate) || !end.Equal(d.EndDate)
		if moved && !d.IsRegularization {
			if err := s.checkConflicts(ctx, d.EmployeeID, start, end, d.ID); err != nil {
				return err
			}
		}
		d.StartDate, d.EndDate = start, end

		if in.Days != nil {
			days, err := recoveryDays(*in.Days)
			if err != nil {
				return err
			}
			if d.SourceType == repository.RecoverySourceOvertime && d.ConversionRate.IsPositive() {
				limit := d.SourceHours.Div(d.ConversionRate).Round(2)
				if days.GreaterThan(limit) {
					return errors.Validation(map[string]string{
						"days": fmt.Sprintf("must not exceed %s days for %s hours", limit.StringFixed(2), d.SourceHours.StringFixed(2)),
					})
				}
			}
			d.Days = days
		}
		if in.Notes != nil {
			d.Notes = in.Notes
		}

		if err := s.recovery.Update(ctx, d); err != nil {
			return err
		}
		details, err := s.withSources(ctx, []repository.RecoveryDay{*d})
		if err != nil {
			return err
		}
		detail = &details[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Publish event
	s.events.PublishRecovery(ctx, messaging.EventRecoveryUpdated, &detail.RecoveryDay, nil, actorID, "")

	s.logger.Info().
		Str("recovery_day_id", recoveryDayID.String()).
		Str("actor_id", actorID.String()).
		Str("window", window(detail.StartDate, detail.EndDate)).
		Str("days", detail.Days.String()).
		Msg("recovery day updated")

	return detail, nil
}

// ============================================================================
// QUERIES
// ============================================================================

// RecoverySource is the share of one overtime entry funding a recovery day
type RecoverySource struct {
	OvertimeID     uuid.UUID        `json:"overtime_id"`
	Date           string           `json:"date"`
	Type           string           `json:"type"`
	RequestedHours decimal.Decimal  `json:"requested_hours"`
	ApprovedHours  *decimal.Decimal `json:"approved_hours,omitempty"`
	HoursUsed      decimal.Decimal  `json:"hours_used"`
}

// RecoveryDayDetail is a recovery day with the entries funding it
type RecoveryDayDetail struct {
	repository.RecoveryDay
	Sources []RecoverySource `json:"sources"`
}

// RecoveryListResult is a page of recovery days
type RecoveryListResult struct {
	Days    []repository.RecoveryDay `json:"days"`
	Total   int64                    `json:"total"`
	Page    int                      `json:"page"`
	PerPage int                      `json:"per_page"`
}

// List lists recovery days with filters
func (s *RecoveryService) List(ctx context.Context, f repository.RecoveryFilter) (*RecoveryListResult, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, errors.Validation(map[string]string{"to": "must not be before from"})
	}
	days, total, err := s.recovery.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}
	if days == nil {
		days = []repository.RecoveryDay{}
	}
	return &RecoveryListResult{Days: days, Total: total, Page: f.Page, PerPage: f.PerPage}, nil
}

// Get gets a recovery day with its sources
func (s *RecoveryService) Get(ctx context.Context, id uuid.UUID) (*RecoveryDayDetail, error) {
	var detail *RecoveryDayDetail
	err := s.tx.WithTenantTx(ctx, func(ctx context.Context) error {
		d, err := s.recovery.GetByID(ctx, id)
		if err != nil {
			return err
		}
		details, err := s.withSources(ctx, []repository.RecoveryDay{*d})
		if err != nil {
			return err
		}
		detail = &details[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// ListForEmployee returns the recovery days of an employee whose window
// overlaps [from, to], latest first, with their sources. Nil bounds are open.
func (s *RecoveryService) ListForEmployee(ctx context.Context, employeeID uuid.UUID, from, to *time.Time) ([]RecoveryDayDetail, error) {
	var out []RecoveryDayDetail
	err := s.tx.WithTenantTx(ctx, func(ctx context.Context) error {
		if _, err := s.employees.GetEmployee(ctx, employeeID); err != nil {
			return err
		}
		days, err := s.recovery.ListMatching(ctx, repository.RecoveryFilter{EmployeeID: &employeeID, From: from, To: to})
		if err != nil {
			return err
		}
		out, err = s.withSources(ctx, days)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// withSources attaches source links and the funding entries to days.
func (s *RecoveryService) withSources(ctx context.Context, days []repository.RecoveryDay) ([]RecoveryDayDetail, error) {
	out := make([]RecoveryDayDetail, len(days))
	index := make(map[uuid.UUID]int, len(days))
	ids := make([]uuid.UUID, len(days))
	for i, d := range days {
		out[i] = RecoveryDayDetail{RecoveryDay: d, Sources: []RecoverySource{}}
		index[d.ID] = i
		ids[i] = d.ID
	}
	if len(days) == 0 {
		return out, nil
	}

	links, err := s.recovery.ListLinksByRecoveryDays(ctx, ids)
	if err != nil {
		return nil, err
	}
	overtimeIDs := make([]uuid.UUID, 0, len(links))
	for _, l := range links {
		overtimeIDs = append(overtimeIDs, l.OvertimeID)
	}
	entries, err := s.overtime.ListByIDs(ctx, uniqueIDs(overtimeIDs))
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*repository.OvertimeEntry, len(entries))
	for i := range entries {
		byID[entries[i].ID] = &entries[i]
	}

	for _, l := range links {
		i, ok := index[l.RecoveryDayID]
		if !ok {
			continue
		}
		src := RecoverySource{OvertimeID: l.OvertimeID, HoursUsed: l.HoursUsed}
		if e, ok := byID[l.OvertimeID]; ok {
			src.Date = repository.DateArg(e.Date)
			src.Type = e.Type
			src.RequestedHours = e.RequestedHours
			src.ApprovedHours = e.ApprovedHours
		}
		out[i].Sources = append(out[i].Sources, src)
	}
	return out, nil
}

// RecoveryBalance counts an employee's recovery days by status. Available
// days are approved days not yet taken.
type RecoveryBalance struct {
	EmployeeID    uuid.UUID       `json:"employee_id"`
	TotalDays     decimal.Decimal `json:"total_days"`
	ApprovedDays  decimal.Decimal `json:"approved_days"`
	UsedDays      decimal.Decimal `json:"used_days"`
	PendingDays   decimal.Decimal `json:"pending_days"`
	AvailableDays decimal.Decimal `json:"available_days"`
}

// GetEmployeeRecoveryBalance aggregates the recovery days of an employee.
// Cancelled days are left out.
func (s *RecoveryService) GetEmployeeRecoveryBalance(ctx context.Context, employeeID uuid.UUID) (*RecoveryBalance, error) {
	if _, err := s.employees.GetEmployee(ctx, employeeID); err != nil {
		return nil, err
	}
	days, err := s.recovery.ListByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	b := &RecoveryBalance{EmployeeID: employeeID}
	for _, d := range days {
		switch d.Status {
		case repository.RecoveryStatusApproved:
			b.ApprovedDays = b.ApprovedDays.Add(d.Days)
		case repository.RecoveryStatusUsed:
			b.UsedDays = b.UsedDays.Add(d.Days)
		case repository.RecoveryStatusPending:
			b.PendingDays = b.PendingDays.Add(d.Days)
		default:
			continue
		}
		b.TotalDays = b.TotalDays.Add(d.Days)
	}
	b.AvailableDays = b.ApprovedDays
	return b, nil
}

// ============================================================================
// HELPERS
// ============================================================================

// checkConflicts rejects a window overlapping approved leave or an
// approved or used recovery day other than self.
func (s *RecoveryService) checkConflicts(ctx context.Context, employeeID uuid.UUID, start, end time.Time, self uuid.UUID) error {
	windows := map[string]string{}

	leaves, err := s.absences.ListOverlappingLeaves(ctx, employeeID, start, end)
	if err != nil {
		return err
	}
	for _, l := range leaves {
		windows["leave:"+l.ID.String()] = window(l.StartDate, l.EndDate)
	}

	days, err := s.recovery.ListOverlapping(ctx, employeeID, start, end, blockingRecoveryStatuses)
	if err != nil {
		return err
	}
	for _, d := range days {
		if d.ID == self {
			continue
		}
		windows["recovery_day:"+d.ID.String()] = window(d.StartDate, d.EndDate)
	}

	if len(windows) > 0 {
		return errors.ConflictingSchedule(windows)
	}
	return nil
}

// recoveryDays rounds a day count to two decimals and rejects what rounds to zero.
func recoveryDays(d decimal.Decimal) (decimal.Decimal, error) {
	days := d.Round(2)
	if !days.IsPositive() {
		return decimal.Zero, errors.Validation(map[string]string{"days": "must be at least 0.01"})
	}
	return days, nil
}

func window(start, end time.Time) string {
	return repository.DateArg(start) + ".." + repository.DateArg(end)
}

func (s *RecoveryService) policy(ctx context.Context) (repository.OvertimePolicy, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return repository.OvertimePolicy{}, err
	}
	return s.policies.GetOvertimePolicy(ctx, tenantID)
}

func (s *RecoveryService) eligibleSince(policy repository.OvertimePolicy) time.Time {
	return s.today().AddDate(0, 0, -policy.RecoveryExpiryDays)
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
