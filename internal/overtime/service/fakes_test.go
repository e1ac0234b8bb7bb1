package service_test

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/timeflow/timeflow-backend/internal/overtime/repository"
	"github.com/timeflow/timeflow-backend/internal/overtime/service"
	"github.com/timeflow/timeflow-backend/pkg/database"
	"github.com/timeflow/timeflow-backend/pkg/errors"
	"github.com/timeflow/timeflow-backend/pkg/logger"
	"github.com/timeflow/timeflow-backend/pkg/tenant"
)

// world is an in-memory tenant database. Transactions snapshot it and roll
// back on error.
type world struct {
	tenantID   uuid.UUID
	entries    map[uuid.UUID]repository.OvertimeEntry
	days       map[uuid.UUID]repository.RecoveryDay
	links      []repository.SourceLink
	employees  map[uuid.UUID]repository.Employee
	leaves     []repository.Leave
	holidays   repository.HolidaySet
	attendance []repository.AttendanceRecord
	policy     repository.OvertimePolicy
	tenants    []uuid.UUID
	events     *fakeEvents
	seq        int
	depth      int
	now        time.Time

	// createHook runs before an entry is stored.
	createHook func(e *repository.OvertimeEntry) error
	// policyErr fails policy loading for a tenant.
	policyErr map[uuid.UUID]error
}

func newWorld() *world {
	tenantID := uuid.New()
	return &world{
		tenantID:  tenantID,
		entries:   map[uuid.UUID]repository.OvertimeEntry{},
		days:      map[uuid.UUID]repository.RecoveryDay{},
		employees: map[uuid.UUID]repository.Employee{},
		holidays:  repository.NewHolidaySet(),
		policy:    repository.DefaultOvertimePolicy(),
		tenants:   []uuid.UUID{tenantID},
		events:    &fakeEvents{},
		now:       time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
	}
}

func (w *world) ctx() context.Context {
	return tenant.WithTenantID(context.Background(), w.tenantID)
}

func (w *world) deps() service.Deps {
	return service.Deps{
		Tx:         w,
		Overtime:   overtimeMem{w},
		Recovery:   recoveryMem{w},
		Employees:  w,
		Policies:   w,
		Attendance: w,
		Holidays:   w,
		Absences:   w,
		Tenants:    w,
		Events:     w.events,
		Logger:     logger.Nop(),
		Location:   time.UTC,
		Now:        func() time.Time { return w.now },
	}
}

func (w *world) addEmployee(opts ...func(*repository.Employee)) uuid.UUID {
	e := repository.Employee{
		ID:                    uuid.New(),
		TenantID:              w.tenantID,
		FirstName:             "Ada",
		LastName:              "Lovelace",
		IsActive:              true,
		IsEligibleForOvertime: true,
	}
	for _, o := range opts {
		o(&e)
	}
	w.employees[e.ID] = e
	return e.ID
}

// addApproved stores an APPROVED entry with converted hours already set.
func (w *world) addApproved(employeeID uuid.UUID, date time.Time, approved, converted string) uuid.UUID {
	hours := decimal.RequireFromString(approved)
	e := repository.OvertimeEntry{
		EmployeeID:     employeeID,
		Date:           date,
		RequestedHours: hours,
		ApprovedHours:  &hours,
		Type:           repository.OvertimeTypeStandard,
		Rate:           decimal.RequireFromString("1.25"),
		Status:         repository.OvertimeStatusApproved,
		ConvertedHours: decimal.RequireFromString(converted),
		Source:         repository.OvertimeSourceManual,
	}
	e.SyncConvertedFlag()
	w.store(&e)
	return e.ID
}

func (w *world) store(e *repository.OvertimeEntry) {
	w.seq++
	e.ID = uuid.New()
	e.TenantID = w.tenantID
	e.CreatedAt = w.now.Add(time.Duration(w.seq) * time.Second)
	e.UpdatedAt = e.CreatedAt
	w.entries[e.ID] = *e
}

func (w *world) entry(id uuid.UUID) repository.OvertimeEntry {
	return w.entries[id]
}

func (w *world) linkSum(overtimeID uuid.UUID) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range w.links {
		if l.OvertimeID == overtimeID {
			sum = sum.Add(l.HoursUsed)
		}
	}
	return sum
}

// Transactor

func (w *world) WithTenantTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, err := tenant.TenantID(ctx); err != nil {
		return err
	}
	if w.depth > 0 {
		return fn(ctx)
	}

	entries := make(map[uuid.UUID]repository.OvertimeEntry, len(w.entries))
	for k, v := range w.entries {
		entries[k] = v
	}
	days := make(map[uuid.UUID]repository.RecoveryDay, len(w.days))
	for k, v := range w.days {
		days[k] = v
	}
	links := append([]repository.SourceLink(nil), w.links...)

	w.depth++
	err := fn(ctx)
	w.depth--
	if err != nil {
		w.entries, w.days, w.links = entries, days, links
	}
	return err
}

// Collaborators

func (w *world) GetEmployee(_ context.Context, id uuid.UUID) (*repository.Employee, error) {
	e, ok := w.employees[id]
	if !ok {
		return nil, errors.NotFound("employee")
	}
	return &e, nil
}

func (w *world) GetOvertimePolicy(_ context.Context, tenantID uuid.UUID) (repository.OvertimePolicy, error) {
	if err := w.policyErr[tenantID]; err != nil {
		return repository.OvertimePolicy{}, err
	}
	return w.policy, nil
}

func (w *world) ListOutEventsWithOvertime(_ context.Context, from, to time.Time, minMinutes int) ([]repository.AttendanceRecord, error) {
	var out []repository.AttendanceRecord
	for _, r := range w.attendance {
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) && r.OvertimeMinutes > minMinutes {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (w *world) GetOutEvent(_ context.Context, id uuid.UUID) (*repository.AttendanceRecord, error) {
	for _, r := range w.attendance {
		if r.AttendanceID == id {
			r := r
			return &r, nil
		}
	}
	return nil, errors.NotFound("attendance")
}

func (w *world) ListHolidayDates(context.Context, time.Time, time.Time) (repository.HolidaySet, error) {
	return w.holidays, nil
}

func (w *world) IsEmployeeOnLeaveOrRecovery(_ context.Context, employeeID uuid.UUID, date time.Time) (repository.AbsenceCheck, error) {
	for _, l := range w.leaves {
		if l.EmployeeID == employeeID && covers(l.StartDate, l.EndDate, date) {
			return repository.AbsenceCheck{OnLeave: true, Reason: repository.AbsenceReasonLeave}, nil
		}
	}
	for _, d := range w.days {
		blocking := d.Status == repository.RecoveryStatusApproved || d.Status == repository.RecoveryStatusUsed
		if d.EmployeeID == employeeID && blocking && covers(d.StartDate, d.EndDate, date) {
			return repository.AbsenceCheck{OnLeave: true, Reason: repository.AbsenceReasonRecovery}, nil
		}
	}
	return repository.AbsenceCheck{}, nil
}

func (w *world) ListOverlappingLeaves(_ context.Context, employeeID uuid.UUID, start, end time.Time) ([]repository.Leave, error) {
	var out []repository.Leave
	for _, l := range w.leaves {
		if l.EmployeeID == employeeID && overlaps(l.StartDate, l.EndDate, start, end) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (w *world) ListActiveTenantIDs(context.Context) ([]uuid.UUID, error) {
	return w.tenants, nil
}

func covers(start, end, date time.Time) bool {
	return !date.Before(start) && !date.After(end)
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !aEnd.Before(bStart)
}

// overtimeMem implements service.OvertimeStore over world.
type overtimeMem struct{ w *world }

func (m overtimeMem) Create(_ context.Context, e *repository.OvertimeEntry) error {
	if m.w.createHook != nil {
		if err := m.w.createHook(e); err != nil {
			return err
		}
	}
	for _, x := range m.w.entries {
		if x.EmployeeID == e.EmployeeID && x.Date.Equal(e.Date) {
			return errors.Conflict("duplicate").WithDetail("constraint", database.ConstraintOvertimeUnique)
		}
	}
	m.w.store(e)
	return nil
}

func (m overtimeMem) GetByID(_ context.Context, id uuid.UUID) (*repository.OvertimeEntry, error) {
	e, ok := m.w.entries[id]
	if !ok {
		return nil, errors.NotFound("overtime_entry")
	}
	return &e, nil
}

func (m overtimeMem) GetForUpdate(ctx context.Context, id uuid.UUID) (*repository.OvertimeEntry, error) {
	return m.GetByID(ctx, id)
}

func (m overtimeMem) ExistsForEmployeeDate(_ context.Context, employeeID uuid.UUID, date time.Time) (bool, error) {
	for _, e := range m.w.entries {
		if e.EmployeeID == employeeID && e.Date.Equal(date) {
			return true, nil
		}
	}
	return false, nil
}

func (m overtimeMem) Update(_ context.Context, e *repository.OvertimeEntry) error {
	if _, ok := m.w.entries[e.ID]; !ok {
		return errors.NotFound("overtime_entry")
	}
	if e.ConvertedHours.GreaterThan(e.Approved()) {
		return errors.InvalidState("overtime_entry", "OVER_CONVERTED")
	}
	if e.ApprovedHours != nil && e.Status != repository.OvertimeStatusApproved {
		return errors.InvalidState("overtime_entry", "APPROVED_HOURS_WITHOUT_APPROVAL")
	}
	m.w.entries[e.ID] = *e
	return nil
}

func (m overtimeMem) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.w.entries[id]; !ok {
		return errors.NotFound("overtime_entry")
	}
	delete(m.w.entries, id)
	return nil
}

func (m overtimeMem) filtered(f repository.OvertimeFilter) []repository.OvertimeEntry {
	var out []repository.OvertimeEntry
	for _, e := range m.w.entries {
		if f.EmployeeID != nil && e.EmployeeID != *f.EmployeeID {
			continue
		}
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		if f.Type != nil && e.Type != *f.Type {
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func (m overtimeMem) List(_ context.Context, f repository.OvertimeFilter) ([]repository.OvertimeEntry, int64, decimal.Decimal, error) {
	all := m.filtered(f)
	hours := decimal.Zero
	for i := range all {
		hours = hours.Add(all[i].EffectiveHours())
	}
	return all, int64(len(all)), hours, nil
}

func (m overtimeMem) ListForStats(_ context.Context, f repository.OvertimeFilter) ([]repository.OvertimeEntry, error) {
	return m.filtered(f), nil
}

func (m overtimeMem) ListByEmployee(_ context.Context, employeeID uuid.UUID) ([]repository.OvertimeEntry, error) {
	return m.filtered(repository.OvertimeFilter{EmployeeID: &employeeID}), nil
}

func (m overtimeMem) SumUsage(_ context.Context, employeeID uuid.UUID, from, to time.Time, excludeID *uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range m.w.entries {
		if e.EmployeeID != employeeID || e.Status == repository.OvertimeStatusRejected {
			continue
		}
		if excludeID != nil && e.ID == *excludeID {
			continue
		}
		if covers(from, to, e.Date) {
			sum = sum.Add(e.EffectiveHours())
		}
	}
	return sum, nil
}

func (m overtimeMem) ListAvailable(_ context.Context, employeeID uuid.UUID, since time.Time) ([]repository.OvertimeEntry, error) {
	var out []repository.OvertimeEntry
	for _, e := range m.w.entries {
		if e.EmployeeID == employeeID && e.Available().IsPositive() && !e.Date.Before(since) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (m overtimeMem) ListAvailableForUpdate(ctx context.Context, employeeID uuid.UUID, since time.Time) ([]repository.OvertimeEntry, error) {
	return m.ListAvailable(ctx, employeeID, since)
}

func (m overtimeMem) ListByIDs(_ context.Context, ids []uuid.UUID) ([]repository.OvertimeEntry, error) {
	var out []repository.OvertimeEntry
	for _, id := range ids {
		if e, ok := m.w.entries[id]; ok {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (m overtimeMem) ListByIDsForUpdate(_ context.Context, ids []uuid.UUID) ([]repository.OvertimeEntry, error) {
	var out []repository.OvertimeEntry
	for _, id := range ids {
		if e, ok := m.w.entries[id]; ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func sortEntries(es []repository.OvertimeEntry) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].Date.Equal(es[j].Date) {
			return es[i].Date.Before(es[j].Date)
		}
		return es[i].CreatedAt.Before(es[j].CreatedAt)
	})
}

// recoveryMem implements service.RecoveryStore over world.
type recoveryMem struct{ w *world }

func (m recoveryMem) Create(_ context.Context, d *repository.RecoveryDay) error {
	if !d.Days.IsPositive() {
		return errors.BadRequest("days must be positive")
	}
	d.ID = uuid.New()
	d.TenantID = m.w.tenantID
	d.CreatedAt = m.w.now
	d.UpdatedAt = m.w.now
	m.w.days[d.ID] = *d
	return nil
}

func (m recoveryMem) GetByID(_ context.Context, id uuid.UUID) (*repository.RecoveryDay, error) {
	d, ok := m.w.days[id]
	if !ok {
		return nil, errors.NotFound("recovery_day")
	}
	return &d, nil
}

func (m recoveryMem) GetForUpdate(ctx context.Context, id uuid.UUID) (*repository.RecoveryDay, error) {
	return m.GetByID(ctx, id)
}

func (m recoveryMem) GetByIDs(_ context.Context, ids []uuid.UUID) ([]repository.RecoveryDay, error) {
	var out []repository.RecoveryDay
	for _, id := range ids {
		if d, ok := m.w.days[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m recoveryMem) Update(_ context.Context, d *repository.RecoveryDay) error {
	if _, ok := m.w.days[d.ID]; !ok {
		return errors.NotFound("recovery_day")
	}
	m.w.days[d.ID] = *d
	return nil
}

func (m recoveryMem) ListByEmployee(_ context.Context, employeeID uuid.UUID) ([]repository.RecoveryDay, error) {
	var out []repository.RecoveryDay
	for _, d := range m.w.days {
		if d.EmployeeID == employeeID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m recoveryMem) ListMatching(_ context.Context, f repository.RecoveryFilter) ([]repository.RecoveryDay, error) {
	var out []repository.RecoveryDay
	for _, d := range m.w.days {
		if f.EmployeeID != nil && d.EmployeeID != *f.EmployeeID {
			continue
		}
		if f.Status != nil && d.Status != *f.Status {
			continue
		}
		if f.From != nil && d.EndDate.Before(*f.From) {
			continue
		}
		if f.To != nil && d.StartDate.After(*f.To) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.After(out[j].StartDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m recoveryMem) List(ctx context.Context, f repository.RecoveryFilter) ([]repository.RecoveryDay, int64, error) {
	all, _ := m.ListMatching(ctx, f)
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}
	from := (f.Page - 1) * f.PerPage
	if from > len(all) {
		from = len(all)
	}
	to := from + f.PerPage
	if to > len(all) {
		to = len(all)
	}
	return all[from:to], int64(len(all)), nil
}

func (m recoveryMem) ListOverlapping(_ context.Context, employeeID uuid.UUID, start, end time.Time, statuses []string) ([]repository.RecoveryDay, error) {
	var out []repository.RecoveryDay
	for _, d := range m.w.days {
		if d.EmployeeID == employeeID && contains(statuses, d.Status) && overlaps(d.StartDate, d.EndDate, start, end) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m recoveryMem) ListEndedBefore(_ context.Context, status string, date time.Time) ([]repository.RecoveryDay, error) {
	var out []repository.RecoveryDay
	for _, d := range m.w.days {
		if d.Status == status && d.EndDate.Before(date) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m recoveryMem) CreateLink(_ context.Context, l *repository.SourceLink) error {
	if !l.HoursUsed.IsPositive() {
		return errors.BadRequest("hours_used must be positive")
	}
	for _, x := range m.w.links {
		if x.OvertimeID == l.OvertimeID && x.RecoveryDayID == l.RecoveryDayID {
			return errors.Conflict("duplicate link").WithDetail("constraint", database.ConstraintLinkUnique)
		}
	}
	l.ID = uuid.New()
	l.TenantID = m.w.tenantID
	l.CreatedAt = m.w.now
	m.w.links = append(m.w.links, *l)
	return nil
}

func (m recoveryMem) ListLinksByRecoveryDay(_ context.Context, id uuid.UUID) ([]repository.SourceLink, error) {
	var out []repository.SourceLink
	for _, l := range m.w.links {
		if l.RecoveryDayID == id {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m recoveryMem) ListLinksByRecoveryDays(_ context.Context, ids []uuid.UUID) ([]repository.SourceLink, error) {
	var out []repository.SourceLink
	for _, l := range m.w.links {
		for _, id := range ids {
			if l.RecoveryDayID == id {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

func (m recoveryMem) ListLinksByOvertime(_ context.Context, id uuid.UUID) ([]repository.SourceLink, error) {
	var out []repository.SourceLink
	for _, l := range m.w.links {
		if l.OvertimeID == id {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m recoveryMem) DeleteLinksByRecoveryDay(_ context.Context, id uuid.UUID) error {
	kept := m.w.links[:0:0]
	for _, l := range m.w.links {
		if l.RecoveryDayID != id {
			kept = append(kept, l)
		}
	}
	m.w.links = kept
	return nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// fakeEvents records published event types.
type fakeEvents struct {
	types []string
}

func (f *fakeEvents) PublishEntry(_ context.Context, eventType string, _ *repository.OvertimeEntry, _ uuid.UUID, _ string) {
	f.types = append(f.types, eventType)
}

func (f *fakeEvents) PublishRecovery(_ context.Context, eventType string, _ *repository.RecoveryDay, _ []repository.SourceLink, _ uuid.UUID, _ string) {
	f.types = append(f.types, eventType)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}
